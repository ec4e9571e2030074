package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/skillbridge-app/skillbridge-api/internal/dto"
	"github.com/skillbridge-app/skillbridge-api/internal/models"
	"github.com/skillbridge-app/skillbridge-api/internal/observability"
	"github.com/skillbridge-app/skillbridge-api/internal/repository"
	"github.com/skillbridge-app/skillbridge-api/pkg/roomcrypto"
)

const (
	chatRedisTTL       = 30 * time.Minute
	chatSendBufferSize = 32
)

var allowedAttachmentExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".txt": {}, ".zip": {},
	".mp4": {}, ".webm": {},
}

// FileStorage abstracts the blob store holding chat attachments.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        string
	Role          string
	RoomID        string
	CorrelationID string
	Context       context.Context
}

// ChatService is the message store and real-time relay for two-party rooms.
// Bodies are encrypted with a per-room key before persistence and decrypted
// on every read path; the relay itself holds no durable state.
type ChatService interface {
	SendMessage(ctx context.Context, senderID string, payload dto.ChatSendRequest, attachment *dto.ChatAttachment) (dto.ChatMessageResponse, error)
	History(ctx context.Context, requesterID string, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error)
	MarkRead(ctx context.Context, roomID, readerID string) (int64, error)
	DeleteMessage(ctx context.Context, messageID uint, requesterID string) error
	UnreadCount(ctx context.Context, roomID, userID string) (int64, error)
	Rooms(ctx context.Context, userID string) ([]dto.ChatRoomResponse, error)
	ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	Start(ctx context.Context)
}

type chatService struct {
	rooms       repository.ChatRoomRepository
	messages    repository.ChatMessageRepository
	matches     repository.MatchRepository
	codec       *roomcrypto.Codec
	storage     FileStorage
	maxFileSize int64
	redis       *redis.Client
	redisStream string
	redisCache  string
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	hub         *chatHub
	nodeID      string
	now         func() time.Time
}

// chatHub keeps track of active websocket clients and handles broadcasting.
type chatHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*chatClient]struct{}
	log   zerolog.Logger
}

type chatClient struct {
	conn    *websocket.Conn
	send    chan dto.ChatMessageResponse
	options ChatConnectionOptions
	service *chatService
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context
}

type chatEvent struct {
	Source  string                  `json:"source"`
	Message dto.ChatMessageResponse `json:"message"`
	SentAt  time.Time               `json:"sent_at"`
}

// NewChatService creates the chat service instance.
func NewChatService(rooms repository.ChatRoomRepository, messages repository.ChatMessageRepository, matches repository.MatchRepository, codec *roomcrypto.Codec, storage FileStorage, maxFileSizeMB int, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	hub := &chatHub{
		rooms: make(map[string]map[*chatClient]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}

	streamChannel := ""
	cachePrefix := ""
	natsSubject := ""
	if channelBase != "" {
		streamChannel = channelBase + ":chat"
		cachePrefix = channelBase + ":chat:last"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	if maxFileSizeMB <= 0 {
		maxFileSizeMB = 10
	}

	return &chatService{
		rooms:       rooms,
		messages:    messages,
		matches:     matches,
		codec:       codec,
		storage:     storage,
		maxFileSize: int64(maxFileSizeMB) * 1024 * 1024,
		redis:       redisClient,
		redisStream: streamChannel,
		redisCache:  cachePrefix,
		nats:        natsConn,
		natsSubject: natsSubject,
		validator:   validate,
		logger:      logger.With().Str("component", "chat_service").Logger(),
		tracer:      otel.Tracer("github.com/skillbridge-app/skillbridge-api/internal/service/chat"),
		sanitizer:   sanitizer,
		hub:         hub,
		nodeID:      uuid.NewString(),
		now:         time.Now,
	}
}

func (s *chatService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *chatService) SendMessage(ctx context.Context, senderID string, payload dto.ChatSendRequest, attachment *dto.ChatAttachment) (dto.ChatMessageResponse, error) {
	payload.RoomID = strings.TrimSpace(payload.RoomID)
	payload.RecipientID = strings.TrimSpace(payload.RecipientID)

	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatMessageResponse{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	messageType := payload.Type
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Body))
	if clean == "" && attachment == nil {
		return dto.ChatMessageResponse{}, fmt.Errorf("%w: message body empty after sanitization", ErrValidation)
	}

	room, err := s.resolveRoom(ctx, senderID, payload)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("chat.room_id", room.ID),
		attribute.String("chat.sender_id", senderID),
		attribute.String("chat.type", messageType),
	))
	defer span.End()

	model := models.ChatMessage{
		RoomID:   room.ID,
		SenderID: senderID,
		Type:     messageType,
	}

	if attachment != nil {
		if err := s.attachFile(spanCtx, &model, attachment); err != nil {
			span.RecordError(err)
			return dto.ChatMessageResponse{}, err
		}
	}

	// System messages stay plaintext so operational tooling can read them.
	body := clean
	if messageType != models.MessageTypeSystem {
		key := s.codec.DeriveRoomKey(room.ID)
		encrypted, err := s.codec.Encrypt(clean, key)
		if err != nil {
			span.RecordError(err)
			return dto.ChatMessageResponse{}, err
		}
		body = encrypted
	}
	model.Body = body

	if err := s.messages.Save(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	if err := s.rooms.TouchActivity(spanCtx, room.ID, model.CreatedAt); err != nil {
		s.logger.Warn().Err(err).Str("room_id", room.ID).Msg("failed to update room activity")
	}

	response := dto.NewChatMessageResponse(model, clean)
	s.cacheLastMessage(spanCtx, response)
	s.broadcast(response)
	if err := s.publish(spanCtx, response); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish chat event")
	}

	observability.ChatMessagesSent().WithLabelValues(messageType).Inc()

	return response, nil
}

func (s *chatService) History(ctx context.Context, requesterID string, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	room, err := s.authorizedRoom(ctx, query.RoomID, requesterID)
	if err != nil {
		return nil, err
	}

	messages, err := s.messages.ListByRoom(ctx, room.ID, query.Page, query.PageSize)
	if err != nil {
		return nil, err
	}

	key := s.codec.DeriveRoomKey(room.ID)
	out := make([]dto.ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, dto.NewChatMessageResponse(message, s.decryptBody(message, key)))
	}

	return out, nil
}

func (s *chatService) MarkRead(ctx context.Context, roomID, readerID string) (int64, error) {
	if _, err := s.authorizedRoom(ctx, roomID, readerID); err != nil {
		return 0, err
	}

	return s.messages.MarkRead(ctx, roomID, readerID, s.now())
}

func (s *chatService) DeleteMessage(ctx context.Context, messageID uint, requesterID string) error {
	message, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	// Only the sender may retract a message; participants of the room cannot
	// delete what the counterpart wrote.
	if message.SenderID != requesterID {
		return ErrNotAuthorized
	}

	if message.IsDeleted {
		return nil
	}

	return s.messages.SoftDelete(ctx, messageID, s.now())
}

func (s *chatService) UnreadCount(ctx context.Context, roomID, userID string) (int64, error) {
	if _, err := s.authorizedRoom(ctx, roomID, userID); err != nil {
		return 0, err
	}

	return s.messages.CountUnread(ctx, roomID, userID)
}

func (s *chatService) Rooms(ctx context.Context, userID string) ([]dto.ChatRoomResponse, error) {
	rooms, err := s.rooms.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]dto.ChatRoomResponse, 0, len(rooms))
	for _, room := range rooms {
		unread, err := s.messages.CountUnread(ctx, room.ID, userID)
		if err != nil {
			s.logger.Warn().Err(err).Str("room_id", room.ID).Msg("failed to count unread messages")
		}
		out = append(out, dto.NewChatRoomResponse(room, userID, unread))
	}

	return out, nil
}

func (s *chatService) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	if _, err := s.authorizedRoom(baseCtx, opts.RoomID, opts.UserID); err != nil {
		s.logger.Warn().Err(err).Str("room_id", opts.RoomID).Str("user_id", opts.UserID).Msg("rejecting chat connection")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not a room participant"))
		_ = conn.Close()
		return
	}

	client := &chatClient{
		conn:    conn,
		send:    make(chan dto.ChatMessageResponse, chatSendBufferSize),
		options: opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	s.hub.register(client)
	observability.ChatConnectionsTotal().Inc()

	// Only the cached last message is replayed on connect; clients re-sync
	// missed history through the polling endpoint after a reconnect.
	if last := s.fetchLastMessage(baseCtx, opts.RoomID); last != nil {
		select {
		case client.send <- *last:
		default:
			s.logger.Debug().Str("room_id", opts.RoomID).Msg("dropping cached chat message due to slow consumer")
		}
	}

	go client.writer()
	client.reader()
}

// resolveRoom finds the target room for a send. An explicit RoomID must be an
// existing room containing the sender; otherwise the room is resolved lazily
// from the recipient, creating it on first contact.
func (s *chatService) resolveRoom(ctx context.Context, senderID string, payload dto.ChatSendRequest) (models.ChatRoom, error) {
	if payload.RoomID != "" {
		return s.authorizedRoom(ctx, payload.RoomID, senderID)
	}

	if payload.RecipientID == "" {
		return models.ChatRoom{}, fmt.Errorf("%w: room_id or recipient_id is required", ErrValidation)
	}
	if payload.RecipientID == senderID {
		return models.ChatRoom{}, fmt.Errorf("%w: cannot open a conversation with yourself", ErrValidation)
	}

	roomType := payload.RoomType
	if roomType == "" {
		roomType = models.RoomTypeGeneral
	}

	var matchID *uint
	if roomType == models.RoomTypeMentorship {
		match, err := s.matches.FindActiveByParties(ctx, senderID, payload.RecipientID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ChatRoom{}, ErrNotAuthorized
			}
			return models.ChatRoom{}, err
		}
		matchID = &match.ID
	}

	participantA, participantB := orderPair(senderID, payload.RecipientID)
	return s.rooms.FindOrCreate(ctx, participantA, participantB, roomType, matchID)
}

func (s *chatService) authorizedRoom(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ChatRoom{}, ErrNotFound
		}
		return models.ChatRoom{}, err
	}

	if !room.HasParticipant(userID) {
		return models.ChatRoom{}, ErrNotAuthorized
	}

	return room, nil
}

// attachFile validates and stores an attachment, recording the resulting URL
// and metadata on the message. Validation fails closed before anything is
// persisted or uploaded.
func (s *chatService) attachFile(ctx context.Context, model *models.ChatMessage, attachment *dto.ChatAttachment) error {
	ext := strings.ToLower(filepath.Ext(attachment.FileName))
	if _, ok := allowedAttachmentExtensions[ext]; !ok {
		observability.ChatAttachmentsRejected().WithLabelValues("extension").Inc()
		return fmt.Errorf("%w: file extension %q not allowed", ErrValidation, ext)
	}

	size := attachment.Size
	if size == 0 {
		size = int64(len(attachment.Bytes))
	}
	if size > s.maxFileSize {
		observability.ChatAttachmentsRejected().WithLabelValues("size").Inc()
		return fmt.Errorf("%w: file exceeds maximum allowed size", ErrValidation)
	}

	fileType := ""
	if len(attachment.Bytes) > 0 {
		fileType = mimetype.Detect(attachment.Bytes).String()
	}

	if s.storage == nil {
		return fmt.Errorf("attachment storage not configured")
	}

	url, err := s.storage.Upload(ctx, attachment.FileName, bytes.NewReader(attachment.Bytes))
	if err != nil {
		observability.ChatAttachmentsRejected().WithLabelValues("storage").Inc()
		return fmt.Errorf("attachment upload failed: %w", err)
	}

	model.FileURL = url
	model.FileType = fileType
	model.FileSize = size
	return nil
}

// decryptBody opens an encrypted body with the room key. Rows written before
// encryption was introduced fail authentication and are returned verbatim;
// this raw-value fallback is deliberate policy for legacy plaintext messages.
func (s *chatService) decryptBody(message models.ChatMessage, key []byte) string {
	if message.Type == models.MessageTypeSystem {
		return message.Body
	}

	plaintext, err := s.codec.Decrypt(message.Body, key)
	if err != nil {
		if errors.Is(err, roomcrypto.ErrDecrypt) {
			s.logger.Warn().Uint("message_id", message.ID).Str("room_id", message.RoomID).Msg("decrypt failed, serving stored value as legacy plaintext")
			observability.ChatDecryptFallbacks().Inc()
			return message.Body
		}
		s.logger.Error().Err(err).Uint("message_id", message.ID).Msg("unexpected decrypt error")
		return message.Body
	}

	return plaintext
}

func (s *chatService) cacheLastMessage(ctx context.Context, message dto.ChatMessageResponse) {
	if s.redis == nil || s.redisCache == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal chat message for cache")
		return
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, message.RoomID)
	if err := s.redis.Set(ctx, key, payload, chatRedisTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache chat message")
	}
}

func (s *chatService) fetchLastMessage(ctx context.Context, roomID string) *dto.ChatMessageResponse {
	if s.redis == nil || s.redisCache == "" {
		return nil
	}

	key := fmt.Sprintf("%s:%s", s.redisCache, roomID)
	result, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return nil
	}

	var message dto.ChatMessageResponse
	if err := json.Unmarshal([]byte(result), &message); err != nil {
		s.logger.Warn().Err(err).Msg("failed to unmarshal cached chat message")
		return nil
	}

	return &message
}

func (s *chatService) broadcast(message dto.ChatMessageResponse) {
	s.hub.broadcast(message.RoomID, message)
}

func (s *chatService) publish(ctx context.Context, message dto.ChatMessageResponse) error {
	event := chatEvent{
		Source:  s.nodeID,
		Message: message,
		SentAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *chatService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *chatService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "skillbridge-chat", func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

func (s *chatService) handleEvent(data []byte) {
	var event chatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid chat event")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	s.broadcast(event.Message)
}

func orderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

func (h *chatHub) register(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := client.options.RoomID
	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[*chatClient]struct{})
	}
	h.rooms[room][client] = struct{}{}
	h.log.Debug().Str("room_id", room).Str("user_id", client.options.UserID).Msg("chat client connected")
}

func (h *chatHub) unregister(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := client.options.RoomID
	if clients, ok := h.rooms[room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, room)
		}
	}
	h.log.Debug().Str("room_id", room).Str("user_id", client.options.UserID).Msg("chat client disconnected")
}

func (h *chatHub) broadcast(roomID string, message dto.ChatMessageResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.rooms[roomID]
	for client := range clients {
		select {
		case client.send <- message:
		default:
			h.log.Warn().Str("room_id", roomID).Str("user_id", client.options.UserID).Msg("dropping chat message for slow client")
		}
	}
}

func (c *chatClient) reader() {
	defer c.close()

	for {
		var payload dto.ChatSendRequest
		if err := c.conn.ReadJSON(&payload); err != nil {
			c.service.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		if payload.RoomID == "" {
			payload.RoomID = c.options.RoomID
		}

		// Attachments travel over the REST endpoint; the socket only carries
		// text payloads.
		if _, err := c.service.SendMessage(c.baseCtx, c.options.UserID, payload, nil); err != nil {
			c.service.logger.Warn().Err(err).Str("user_id", c.options.UserID).Msg("failed to process chat message")
			continue
		}

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *chatClient) writer() {
	defer c.close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		_ = c.conn.Close()
	})
}
