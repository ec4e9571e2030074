package integration_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/skillbridge-app/skillbridge-api/internal/dto"
	"github.com/skillbridge-app/skillbridge-api/internal/handler"
	"github.com/skillbridge-app/skillbridge-api/internal/middleware"
	"github.com/skillbridge-app/skillbridge-api/internal/models"
	"github.com/skillbridge-app/skillbridge-api/internal/repository"
	"github.com/skillbridge-app/skillbridge-api/internal/service"
	"github.com/skillbridge-app/skillbridge-api/pkg/roomcrypto"
)

type realtimeStack struct {
	app           *fiber.App
	baseURL       string
	shutdown      func()
	rooms         repository.ChatRoomRepository
	notifications service.NotificationService
}

func startRealtimeStack(t *testing.T) *realtimeStack {
	t.Helper()

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	db, err := gorm.Open(sqlite.Open("file:realtime_e2e?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ChatRoom{}, &models.ChatMessage{}, &models.MentorshipMatch{}, &models.Notification{}))

	codec, err := roomcrypto.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.Nop()

	rooms := repository.NewChatRoomRepository(db)
	messages := repository.NewChatMessageRepository(db)
	matches := repository.NewMatchRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	notifications := service.NewNotificationService(notificationRepo, redisClient, "e2e:comms", time.Minute, nil, validate, logger)
	chat := service.NewChatService(rooms, messages, matches, codec, nil, 10, redisClient, "e2e:comms", nil, validate, logger)

	chatHandler := handler.NewChatHandler(chat, validate, logger)
	notificationHandler := handler.NewNotificationHandler(notifications, logger, time.Second)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(middleware.CorrelationID())

	identify := func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-User-ID"))
		return c.Next()
	}

	chatGroup := app.Group("/api/v1/chat", identify)
	chatHandler.Register(chatGroup)

	notificationGroup := app.Group("/api/v1/notifications", identify)
	notificationHandler.Register(notificationGroup)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if serveErr := app.Listener(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", serveErr)
		}
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
		}
	}

	return &realtimeStack{
		app:           app,
		baseURL:       "http://" + listener.Addr().String(),
		shutdown:      shutdown,
		rooms:         rooms,
		notifications: notifications,
	}
}

func (s *realtimeStack) dialChat(t *testing.T, userID, roomID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.baseURL, "http") + "/api/v1/chat/ws?room_id=" + roomID
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, http.Header{"X-User-ID": {userID}})
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestChatMessageReachesCounterpartSocket(t *testing.T) {
	stack := startRealtimeStack(t)
	defer stack.shutdown()

	room, err := stack.rooms.FindOrCreate(context.Background(), "alice", "bob", models.RoomTypeGeneral, nil)
	require.NoError(t, err)

	bob := stack.dialChat(t, "bob", room.ID)
	alice := stack.dialChat(t, "alice", room.ID)

	require.NoError(t, alice.WriteJSON(dto.ChatSendRequest{Body: "are you there?"}))

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(3*time.Second)))
	var received dto.ChatMessageResponse
	require.NoError(t, bob.ReadJSON(&received))
	require.Equal(t, "are you there?", received.Body)
	require.Equal(t, "alice", received.SenderID)
	require.Equal(t, room.ID, received.RoomID)
}

func TestChatSocketRejectsNonParticipant(t *testing.T) {
	stack := startRealtimeStack(t)
	defer stack.shutdown()

	room, err := stack.rooms.FindOrCreate(context.Background(), "carol", "dave", models.RoomTypeGeneral, nil)
	require.NoError(t, err)

	intruder := stack.dialChat(t, "mallory", room.ID)
	require.NoError(t, intruder.SetReadDeadline(time.Now().Add(3*time.Second)))

	_, _, err = intruder.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestNotificationStreamDeliversPublishedEvents(t *testing.T) {
	stack := startRealtimeStack(t)
	defer stack.shutdown()

	req, err := http.NewRequest(http.MethodGet, stack.baseURL+"/api/v1/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "erin")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the stream a moment to register its subscriber before publishing.
	time.Sleep(100 * time.Millisecond)

	published, err := stack.notifications.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "erin",
		Title:   "Proposal accepted",
		Message: "Your project proposal was accepted",
		Type:    "proposal",
	})
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.False(t, time.Now().After(deadline), "timed out waiting for sse event")

		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var received dto.NotificationResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &received))
		require.Equal(t, published.ID, received.ID)
		require.Equal(t, "Your project proposal was accepted", received.Message)
		return
	}
}
