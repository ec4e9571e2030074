package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/skillbridge-app/skillbridge-api/internal/models"
)

// SessionRepository persists mentorship sessions and applies state
// transitions as guarded single-row updates.
type SessionRepository interface {
	Create(ctx context.Context, session *models.MentorshipSession) error
	FindByID(ctx context.Context, id uint) (models.MentorshipSession, error)
	ListByMatch(ctx context.Context, matchID uint) ([]models.MentorshipSession, error)
	// Transition updates the session only while its status is one of
	// fromStatuses and reports how many rows changed. Zero rows on an
	// existing session means a concurrent writer moved it first; the row
	// itself is the linearization point.
	Transition(ctx context.Context, id uint, fromStatuses []string, updates map[string]interface{}) (int64, error)
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository constructs a session repository backed by GORM.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *models.MentorshipSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepository) FindByID(ctx context.Context, id uint) (models.MentorshipSession, error) {
	var session models.MentorshipSession
	if err := r.db.WithContext(ctx).First(&session, id).Error; err != nil {
		return models.MentorshipSession{}, err
	}
	return session, nil
}

func (r *sessionRepository) ListByMatch(ctx context.Context, matchID uint) ([]models.MentorshipSession, error) {
	var sessions []models.MentorshipSession
	if err := r.db.WithContext(ctx).
		Where("mentorship_match_id = ?", matchID).
		Order("scheduled_start ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepository) Transition(ctx context.Context, id uint, fromStatuses []string, updates map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MentorshipSession{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Updates(updates)
	return result.RowsAffected, result.Error
}
