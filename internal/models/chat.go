package models

import "time"

// Room types supported by the chat layer.
const (
	RoomTypeGeneral    = "general"
	RoomTypeMentorship = "mentorship"
)

// Message payload types.
const (
	MessageTypeText   = "text"
	MessageTypeFile   = "file"
	MessageTypeImage  = "image"
	MessageTypeVideo  = "video"
	MessageTypeSystem = "system"
)

// ChatRoom is a two-party conversation channel. Participants are stored in
// lexicographic order so the unordered pair plus room type is unique.
type ChatRoom struct {
	ID                string     `gorm:"primaryKey;size:64" json:"id"`
	ParticipantA      string     `gorm:"size:64;index;uniqueIndex:idx_room_pair" json:"participant_a"`
	ParticipantB      string     `gorm:"size:64;index;uniqueIndex:idx_room_pair" json:"participant_b"`
	RoomType          string     `gorm:"size:32;default:general;uniqueIndex:idx_room_pair" json:"room_type"`
	ProjectID         *uint      `gorm:"index" json:"project_id,omitempty"`
	MentorshipMatchID *uint      `gorm:"index" json:"mentorship_match_id,omitempty"`
	IsActive          bool       `gorm:"not null;default:true" json:"is_active"`
	LastActivityAt    *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasParticipant reports whether the user is one of the room's two parties.
func (r ChatRoom) HasParticipant(userID string) bool {
	return userID != "" && (r.ParticipantA == userID || r.ParticipantB == userID)
}

// Counterpart returns the other participant of the room.
func (r ChatRoom) Counterpart(userID string) string {
	if r.ParticipantA == userID {
		return r.ParticipantB
	}
	return r.ParticipantA
}

// ChatMessage is a single message within a room. The body of every
// non-system message is stored encrypted with the room key. Rows are
// immutable once written except for the read and soft-delete flags.
type ChatMessage struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	RoomID    string     `gorm:"size:64;index" json:"room_id"`
	SenderID  string     `gorm:"size:64;index" json:"sender_id"`
	Body      string     `gorm:"type:text" json:"body"`
	Type      string     `gorm:"size:32;default:text" json:"type"`
	FileURL   string     `gorm:"size:512" json:"file_url,omitempty"`
	FileType  string     `gorm:"size:64" json:"file_type,omitempty"`
	FileSize  int64      `json:"file_size,omitempty"`
	IsRead    bool       `gorm:"not null;default:false" json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	IsDeleted bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
