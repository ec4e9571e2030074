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

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/skillbridge-app/skillbridge-api/internal/dto"
	"github.com/skillbridge-app/skillbridge-api/internal/handler"
	"github.com/skillbridge-app/skillbridge-api/internal/service"
)

type stubChatService struct {
	history []dto.ChatMessageResponse
}

func (s stubChatService) SendMessage(context.Context, string, dto.ChatSendRequest, *dto.ChatAttachment) (dto.ChatMessageResponse, error) {
	return dto.ChatMessageResponse{}, nil
}

func (s stubChatService) History(context.Context, string, dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	return s.history, nil
}

func (s stubChatService) MarkRead(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (s stubChatService) DeleteMessage(context.Context, uint, string) error {
	return nil
}

func (s stubChatService) UnreadCount(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (s stubChatService) Rooms(context.Context, string) ([]dto.ChatRoomResponse, error) {
	return nil, nil
}

func (s stubChatService) ServeConnection(*websocket.Conn, service.ChatConnectionOptions) {}

func (s stubChatService) Start(context.Context) {}

func TestChatHistoryContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("..", "contracts", "chat_history.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	now := time.Now().UTC()
	readAt := now.Add(-time.Minute)
	svc := stubChatService{history: []dto.ChatMessageResponse{
		{
			ID:       1,
			RoomID:   "room-1",
			SenderID: "alice",
			Body:     "hey there",
			Type:     "text",
			IsRead:   true,
			ReadAt:   &readAt,
			SentAt:   now.Add(-time.Hour),
		},
		{
			ID:       2,
			RoomID:   "room-1",
			SenderID: "bob",
			Body:     "attached the report",
			Type:     "file",
			FileURL:  "https://cdn.example.com/report.pdf",
			FileType: "application/pdf",
			FileSize: 2048,
			SentAt:   now,
		},
	}}

	chatHandler := handler.NewChatHandler(svc, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	app := fiber.New()
	group := app.Group("/api/v1/chat", func(c *fiber.Ctx) error {
		c.Locals("user_id", "alice")
		c.Locals("user_role", "freelancer")
		return c.Next()
	})
	chatHandler.Register(group)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/history?room_id=room-1", nil)
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
