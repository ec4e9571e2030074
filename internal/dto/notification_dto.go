package dto

import (
	"time"

	"github.com/skillbridge-app/skillbridge-api/internal/models"
)

// NotificationCreateRequest describes the payload to create a notification.
type NotificationCreateRequest struct {
	UserID     string `json:"user_id" validate:"required,max=64"`
	Title      string `json:"title" validate:"required,min=1,max=255"`
	Message    string `json:"message" validate:"required,min=1,max=2000"`
	Type       string `json:"type" validate:"required,max=64"`
	IconSVG    string `json:"icon_svg" validate:"omitempty,max=8000"`
	RelatedURL string `json:"related_url" validate:"omitempty,max=512"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID         uint       `json:"id"`
	UserID     string     `json:"user_id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Type       string     `json:"type"`
	IconSVG    string     `json:"icon_svg,omitempty"`
	RelatedURL string     `json:"related_url,omitempty"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewNotificationResponse converts a notification model to a DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:         model.ID,
		UserID:     model.UserID,
		Title:      model.Title,
		Message:    model.Message,
		Type:       model.Type,
		IconSVG:    model.IconSVG,
		RelatedURL: model.RelatedURL,
		Read:       model.Read,
		ReadAt:     model.ReadAt,
		CreatedAt:  model.CreatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}
