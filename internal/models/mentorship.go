package models

import (
	"time"

	"gorm.io/datatypes"
)

// Mentorship match statuses.
const (
	MatchStatusPending   = "pending"
	MatchStatusActive    = "active"
	MatchStatusCompleted = "completed"
	MatchStatusCancelled = "cancelled"
)

// Mentorship session statuses. Declined and cancelled are terminal.
const (
	SessionStatusProposed  = "proposed"
	SessionStatusAccepted  = "accepted"
	SessionStatusDeclined  = "declined"
	SessionStatusCancelled = "cancelled"
)

// MentorshipMatch is an accepted mentor/mentee pairing. Sessions and
// mentorship chat rooms hang off an active match.
type MentorshipMatch struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MentorID  string    `gorm:"size:64;index" json:"mentor_id"`
	MenteeID  string    `gorm:"size:64;index" json:"mentee_id"`
	Status    string    `gorm:"size:32;default:pending" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasParty reports whether the user is the mentor or the mentee of the match.
func (m MentorshipMatch) HasParty(userID string) bool {
	return userID != "" && (m.MentorID == userID || m.MenteeID == userID)
}

// Counterpart returns the other party of the match.
func (m MentorshipMatch) Counterpart(userID string) string {
	if m.MentorID == userID {
		return m.MenteeID
	}
	return m.MentorID
}

// MentorshipSession is a proposed meeting between the two parties of a match.
// ScheduledStart is stored exactly as provided by the proposer with no UTC
// normalization; TimeZone is a display-only label carried alongside it.
// History accumulates prior proposals whenever the session is rescheduled.
type MentorshipSession struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	MentorshipMatchID uint         `gorm:"index;not null" json:"mentorship_match_id"`
	CreatedByUserID string         `gorm:"size:64;index" json:"created_by_user_id"`
	ScheduledStart  time.Time      `json:"scheduled_start"`
	TimeZone        string         `gorm:"size:64" json:"time_zone"`
	Status          string         `gorm:"size:32;default:proposed;index" json:"status"`
	Title           string         `gorm:"size:255" json:"title"`
	Notes           string         `gorm:"type:text" json:"notes"`
	History         datatypes.JSON `gorm:"type:json" json:"history,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the session status permits no further transition.
func (s MentorshipSession) IsTerminal() bool {
	return s.Status == SessionStatusDeclined || s.Status == SessionStatusCancelled
}

// SessionHistoryEntry is one audit record appended to a session's History
// column when the proposal changes.
type SessionHistoryEntry struct {
	ScheduledStart time.Time `json:"scheduled_start"`
	Status         string    `json:"status"`
	ActorID        string    `json:"actor_id"`
	RecordedAt     time.Time `json:"recorded_at"`
}
