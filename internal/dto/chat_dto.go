package dto

import (
	"time"

	"github.com/skillbridge-app/skillbridge-api/internal/models"
)

// ChatSendRequest is the payload used to send a message, over either the
// websocket connection or the REST endpoint. For attachment types the body
// carries the caption and Attachment describes the uploaded file.
type ChatSendRequest struct {
	RoomID      string `json:"room_id" validate:"omitempty,max=64"`
	RecipientID string `json:"recipient_id" validate:"omitempty,max=64"`
	RoomType    string `json:"room_type" validate:"omitempty,oneof=general mentorship"`
	Body        string `json:"body" validate:"omitempty,max=4000"`
	Type        string `json:"type" validate:"omitempty,oneof=text file image video system"`
}

// ChatAttachment describes an uploaded file attached to a message.
type ChatAttachment struct {
	FileName string
	Size     int64
	Bytes    []byte
}

// ChatHistoryQuery filters a room history page.
type ChatHistoryQuery struct {
	RoomID   string `query:"room_id" validate:"required,max=64"`
	Page     int    `query:"page" validate:"omitempty,min=1"`
	PageSize int    `query:"page_size" validate:"omitempty,min=1,max=100"`
}

// ChatMessageResponse is the serialized representation of a chat message.
// The body is always the decrypted plaintext; ciphertext never leaves the
// service layer.
type ChatMessageResponse struct {
	ID        uint       `json:"id"`
	RoomID    string     `json:"room_id"`
	SenderID  string     `json:"sender_id"`
	Body      string     `json:"body"`
	Type      string     `json:"type"`
	FileURL   string     `json:"file_url,omitempty"`
	FileType  string     `json:"file_type,omitempty"`
	FileSize  int64      `json:"file_size,omitempty"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	SentAt    time.Time  `json:"sent_at"`
}

// NewChatMessageResponse converts a model into a DTO using the already
// decrypted body.
func NewChatMessageResponse(message models.ChatMessage, body string) ChatMessageResponse {
	return ChatMessageResponse{
		ID:       message.ID,
		RoomID:   message.RoomID,
		SenderID: message.SenderID,
		Body:     body,
		Type:     message.Type,
		FileURL:  message.FileURL,
		FileType: message.FileType,
		FileSize: message.FileSize,
		IsRead:   message.IsRead,
		ReadAt:   message.ReadAt,
		SentAt:   message.CreatedAt,
	}
}

// ChatRoomResponse summarises a conversation for the room list endpoint.
type ChatRoomResponse struct {
	ID             string     `json:"id"`
	Counterpart    string     `json:"counterpart"`
	RoomType       string     `json:"room_type"`
	IsActive       bool       `json:"is_active"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	UnreadCount    int64      `json:"unread_count"`
}

// NewChatRoomResponse converts a room model viewed by the given user.
func NewChatRoomResponse(room models.ChatRoom, viewerID string, unread int64) ChatRoomResponse {
	return ChatRoomResponse{
		ID:             room.ID,
		Counterpart:    room.Counterpart(viewerID),
		RoomType:       room.RoomType,
		IsActive:       room.IsActive,
		LastActivityAt: room.LastActivityAt,
		UnreadCount:    unread,
	}
}
