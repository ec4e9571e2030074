package handler

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/skillbridge-app/skillbridge-api/internal/dto"
	"github.com/skillbridge-app/skillbridge-api/internal/middleware"
	"github.com/skillbridge-app/skillbridge-api/internal/service"
	"github.com/skillbridge-app/skillbridge-api/internal/utils"
)

// ChatHandler wires chat endpoints including the websocket upgrade.
type ChatHandler struct {
	service   service.ChatService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(service service.ChatService, validator *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
	router.Post("/messages", h.sendMessage)
	router.Delete("/messages/:id", h.deleteMessage)
	router.Get("/history", h.history)
	router.Get("/rooms", h.rooms)
	router.Post("/rooms/:id/read", h.markRead)
	router.Get("/unread-count", h.unreadCount)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	roomID := strings.TrimSpace(conn.Query("room_id"))
	if roomID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "room_id required"))
		_ = conn.Close()
		return
	}

	role := fmt.Sprint(conn.Locals("user_role"))
	correlation := fmt.Sprint(conn.Locals("correlation_id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ChatConnectionOptions{
		UserID:        userID,
		Role:          role,
		RoomID:        roomID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Str("room_id", roomID).Msg("chat websocket connected")
	h.service.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Str("room_id", roomID).Msg("chat websocket disconnected")
}

// sendMessage accepts either a JSON body or a multipart form carrying an
// attachment. This is the polling-friendly counterpart to the websocket path
// and the only way to send files.
func (h *ChatHandler) sendMessage(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.ChatSendRequest
	var attachment *dto.ChatAttachment

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		payload = dto.ChatSendRequest{
			RoomID:      c.FormValue("room_id"),
			RecipientID: c.FormValue("recipient_id"),
			RoomType:    c.FormValue("room_type"),
			Body:        c.FormValue("body"),
			Type:        c.FormValue("type"),
		}

		file, err := c.FormFile("file")
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "attachment file required")
		}

		handle, err := file.Open()
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "unable to read attachment")
		}
		defer handle.Close()

		data, err := io.ReadAll(handle)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "unable to read attachment")
		}

		attachment = &dto.ChatAttachment{
			FileName: file.Filename,
			Size:     file.Size,
			Bytes:    data,
		}

		if payload.Type == "" {
			payload.Type = "file"
		}
	} else {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	ctx := requestContext(c)
	message, err := h.service.SendMessage(ctx, userID, payload, attachment)
	if err != nil {
		status, msg := serviceError(err)
		requestLogger(h.logger, c).Warn().Err(err).Msg("failed to send chat message")
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ChatHandler) deleteMessage(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	parsed, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid message id")
	}

	if err := h.service.DeleteMessage(requestContext(c), uint(parsed), userID); err != nil {
		status, msg := serviceError(err)
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccess(c, "message deleted", nil)
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page_size")
	}

	query := dto.ChatHistoryQuery{
		RoomID:   c.Query("room_id"),
		Page:     page,
		PageSize: pageSize,
	}

	messages, err := h.service.History(requestContext(c), userID, query)
	if err != nil {
		status, msg := serviceError(err)
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func (h *ChatHandler) rooms(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	rooms, err := h.service.Rooms(requestContext(c), userID)
	if err != nil {
		status, msg := serviceError(err)
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccess(c, "chat rooms", rooms)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	roomID := c.Params("id")
	affected, err := h.service.MarkRead(requestContext(c), roomID, userID)
	if err != nil {
		status, msg := serviceError(err)
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccess(c, "messages marked read", fiber.Map{"updated": affected})
}

func (h *ChatHandler) unreadCount(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	roomID := c.Query("room_id")
	if roomID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "room_id required")
	}

	count, err := h.service.UnreadCount(requestContext(c), roomID, userID)
	if err != nil {
		status, msg := serviceError(err)
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccess(c, "unread count", fiber.Map{"unread": count})
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			return fmt.Sprintf("%d", uint(v))
		case uint:
			return fmt.Sprintf("%d", v)
		case int:
			return fmt.Sprintf("%d", v)
		}
	}
	return ""
}
