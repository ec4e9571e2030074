package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/skillbridge-app/skillbridge-api/internal/models"
)

// MatchRepository reads mentorship matches. Match lifecycle itself is owned
// by the marketplace core; this service only verifies party membership and
// active status.
type MatchRepository interface {
	Create(ctx context.Context, match *models.MentorshipMatch) error
	FindByID(ctx context.Context, id uint) (models.MentorshipMatch, error)
	FindActiveByParties(ctx context.Context, userA, userB string) (models.MentorshipMatch, error)
}

type matchRepository struct {
	db *gorm.DB
}

// NewMatchRepository constructs a match repository backed by GORM.
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepository{db: db}
}

func (r *matchRepository) Create(ctx context.Context, match *models.MentorshipMatch) error {
	return r.db.WithContext(ctx).Create(match).Error
}

func (r *matchRepository) FindByID(ctx context.Context, id uint) (models.MentorshipMatch, error) {
	var match models.MentorshipMatch
	if err := r.db.WithContext(ctx).First(&match, id).Error; err != nil {
		return models.MentorshipMatch{}, err
	}
	return match, nil
}

func (r *matchRepository) FindActiveByParties(ctx context.Context, userA, userB string) (models.MentorshipMatch, error) {
	var match models.MentorshipMatch
	err := r.db.WithContext(ctx).
		Where("status = ?", models.MatchStatusActive).
		Where("(mentor_id = ? AND mentee_id = ?) OR (mentor_id = ? AND mentee_id = ?)", userA, userB, userB, userA).
		First(&match).Error
	if err != nil {
		return models.MentorshipMatch{}, err
	}
	return match, nil
}
