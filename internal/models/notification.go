package models

import "time"

// Notification is a persisted message targeted at a single user. Rows are
// mutated only by read-marking and are never deleted in the normal flow.
type Notification struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     string     `gorm:"size:64;index" json:"user_id"`
	Title      string     `gorm:"size:255" json:"title"`
	Message    string     `gorm:"type:text" json:"message"`
	Type       string     `gorm:"size:64" json:"type"`
	IconSVG    string     `gorm:"type:text" json:"icon_svg,omitempty"`
	RelatedURL string     `gorm:"size:512" json:"related_url,omitempty"`
	Read       bool       `gorm:"not null;default:false;index" json:"read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
