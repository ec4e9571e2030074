package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/skillbridge-app/skillbridge-api/internal/models"
)

// ChatMessageRepository persists chat messages with read and soft-delete state.
type ChatMessageRepository interface {
	Save(ctx context.Context, message *models.ChatMessage) error
	FindByID(ctx context.Context, id uint) (models.ChatMessage, error)
	ListByRoom(ctx context.Context, roomID string, page, pageSize int) ([]models.ChatMessage, error)
	MarkRead(ctx context.Context, roomID, readerID string, at time.Time) (int64, error)
	SoftDelete(ctx context.Context, id uint, at time.Time) error
	CountUnread(ctx context.Context, roomID, userID string) (int64, error)
}

type chatMessageRepository struct {
	db *gorm.DB
}

// NewChatMessageRepository constructs a message repository backed by GORM.
func NewChatMessageRepository(db *gorm.DB) ChatMessageRepository {
	return &chatMessageRepository{db: db}
}

func (r *chatMessageRepository) Save(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *chatMessageRepository) FindByID(ctx context.Context, id uint) (models.ChatMessage, error) {
	var message models.ChatMessage
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

// ListByRoom returns one page of a room's thread. Pages are taken newest
// first and each page is reversed to chronological order for display.
// Soft-deleted rows are excluded from every read path but retained for audit.
func (r *chatMessageRepository) ListByRoom(ctx context.Context, roomID string, page, pageSize int) ([]models.ChatMessage, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	if page <= 0 {
		page = 1
	}

	var messages []models.ChatMessage
	if err := r.db.WithContext(ctx).
		Where("room_id = ? AND is_deleted = ?", roomID, false).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&messages).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// MarkRead flips every unread message in the room that was not sent by the
// reader. The reader's own messages are untouched.
func (r *chatMessageRepository) MarkRead(ctx context.Context, roomID, readerID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("room_id = ? AND sender_id <> ? AND is_read = ? AND is_deleted = ?", roomID, readerID, false, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	return result.RowsAffected, result.Error
}

func (r *chatMessageRepository) SoftDelete(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": at}).Error
}

func (r *chatMessageRepository) CountUnread(ctx context.Context, roomID, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("room_id = ? AND sender_id <> ? AND is_read = ? AND is_deleted = ?", roomID, userID, false, false).
		Count(&count).Error
	return count, err
}
