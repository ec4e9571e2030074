package contract_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/skillbridge-app/skillbridge-api/internal/dto"
	"github.com/skillbridge-app/skillbridge-api/internal/handler"
	"github.com/skillbridge-app/skillbridge-api/internal/models"
)

type stubNotificationService struct {
	items []dto.NotificationResponse
}

func (s stubNotificationService) Publish(context.Context, dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	return dto.NotificationResponse{}, nil
}

func (s stubNotificationService) List(context.Context, string, int, int) ([]dto.NotificationResponse, error) {
	return s.items, nil
}

func (s stubNotificationService) UnreadCount(context.Context, string) (int64, error) {
	return int64(len(s.items)), nil
}

func (s stubNotificationService) MarkRead(context.Context, uint, string) (dto.NotificationResponse, error) {
	return dto.NotificationResponse{}, nil
}

func (s stubNotificationService) MarkAllRead(context.Context, string) (int64, error) {
	return int64(len(s.items)), nil
}

func (s stubNotificationService) Subscribe(string) (<-chan dto.NotificationResponse, func()) {
	ch := make(chan dto.NotificationResponse)
	close(ch)
	return ch, func() {}
}

func (s stubNotificationService) Start(context.Context) {}

func (s stubNotificationService) NotifySessionEvent(context.Context, string, string, models.MentorshipSession) {
}

func TestNotificationListContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("..", "contracts", "notifications.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	now := time.Now().UTC()
	readAt := now.Add(-time.Minute)
	svc := stubNotificationService{items: []dto.NotificationResponse{
		{
			ID:         1,
			UserID:     "mentor-1",
			Title:      "New session proposal",
			Message:    "New session proposal: Portfolio review",
			Type:       "session_proposed",
			RelatedURL: "/mentorship/sessions/7",
			CreatedAt:  now,
		},
		{
			ID:        2,
			UserID:    "mentor-1",
			Title:     "Payment received",
			Message:   "Your invoice was paid",
			Type:      "payment",
			Read:      true,
			ReadAt:    &readAt,
			CreatedAt: now.Add(-time.Hour),
		},
	}}

	notificationHandler := handler.NewNotificationHandler(svc, zerolog.Nop(), time.Second)

	app := fiber.New()
	group := app.Group("/api/v1/notifications", func(c *fiber.Ctx) error {
		c.Locals("user_id", "mentor-1")
		c.Locals("user_role", "mentor")
		return c.Next()
	})
	notificationHandler.Register(group)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))
}
