package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/skillbridge-app/skillbridge-api/internal/models"
)

// ChatRoomRepository persists two-party conversation channels.
type ChatRoomRepository interface {
	FindByID(ctx context.Context, id string) (models.ChatRoom, error)
	FindOrCreate(ctx context.Context, participantA, participantB, roomType string, matchID *uint) (models.ChatRoom, error)
	ListByUser(ctx context.Context, userID string) ([]models.ChatRoom, error)
	TouchActivity(ctx context.Context, id string, at time.Time) error
}

type chatRoomRepository struct {
	db *gorm.DB
}

// NewChatRoomRepository constructs a room repository backed by GORM.
func NewChatRoomRepository(db *gorm.DB) ChatRoomRepository {
	return &chatRoomRepository{db: db}
}

func (r *chatRoomRepository) FindByID(ctx context.Context, id string) (models.ChatRoom, error) {
	var room models.ChatRoom
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return models.ChatRoom{}, err
	}
	return room, nil
}

// FindOrCreate resolves the room for an ordered participant pair, creating it
// lazily on first contact. Two senders racing to create the same room are
// serialized by the unique pair index; the loser re-reads the winner's row.
func (r *chatRoomRepository) FindOrCreate(ctx context.Context, participantA, participantB, roomType string, matchID *uint) (models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.WithContext(ctx).
		Where("participant_a = ? AND participant_b = ? AND room_type = ?", participantA, participantB, roomType).
		First(&room).Error
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ChatRoom{}, err
	}

	room = models.ChatRoom{
		ID:                uuid.NewString(),
		ParticipantA:      participantA,
		ParticipantB:      participantB,
		RoomType:          roomType,
		MentorshipMatchID: matchID,
		IsActive:          true,
	}

	if err := r.db.WithContext(ctx).Create(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing models.ChatRoom
			if findErr := r.db.WithContext(ctx).
				Where("participant_a = ? AND participant_b = ? AND room_type = ?", participantA, participantB, roomType).
				First(&existing).Error; findErr == nil {
				return existing, nil
			}
		}
		return models.ChatRoom{}, err
	}

	return room, nil
}

func (r *chatRoomRepository) ListByUser(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	if err := r.db.WithContext(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("last_activity_at DESC NULLS LAST").
		Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *chatRoomRepository) TouchActivity(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ?", id).
		Update("last_activity_at", at).Error
}
