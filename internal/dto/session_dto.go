package dto

import (
	"encoding/json"
	"time"

	"github.com/skillbridge-app/skillbridge-api/internal/models"
)

// SessionProposeRequest creates a new mentorship session proposal.
type SessionProposeRequest struct {
	MatchID        uint      `json:"match_id" validate:"required"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	TimeZone       string    `json:"time_zone" validate:"omitempty,max=64"`
	Title          string    `json:"title" validate:"required,min=3,max=255"`
	Notes          string    `json:"notes" validate:"omitempty,max=2000"`
}

// SessionRescheduleRequest proposes a new time on an existing session.
type SessionRescheduleRequest struct {
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	Notes          string    `json:"notes" validate:"omitempty,max=2000"`
}

// SessionResponse is the serialized representation of a mentorship session.
type SessionResponse struct {
	ID              uint                         `json:"id"`
	MatchID         uint                         `json:"match_id"`
	CreatedByUserID string                       `json:"created_by_user_id"`
	ScheduledStart  time.Time                    `json:"scheduled_start"`
	TimeZone        string                       `json:"time_zone,omitempty"`
	Status          string                       `json:"status"`
	Title           string                       `json:"title"`
	Notes           string                       `json:"notes,omitempty"`
	History         []models.SessionHistoryEntry `json:"history,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// NewSessionResponse converts a session model into a DTO.
func NewSessionResponse(session models.MentorshipSession) SessionResponse {
	response := SessionResponse{
		ID:              session.ID,
		MatchID:         session.MentorshipMatchID,
		CreatedByUserID: session.CreatedByUserID,
		ScheduledStart:  session.ScheduledStart,
		TimeZone:        session.TimeZone,
		Status:          session.Status,
		Title:           session.Title,
		Notes:           session.Notes,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	}

	if len(session.History) > 0 {
		var entries []models.SessionHistoryEntry
		if err := json.Unmarshal(session.History, &entries); err == nil {
			response.History = entries
		}
	}

	return response
}

// NewSessionResponseSlice converts a slice of sessions into DTOs.
func NewSessionResponseSlice(sessions []models.MentorshipSession) []SessionResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, NewSessionResponse(session))
	}
	return out
}
