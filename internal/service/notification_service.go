package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
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
)

const notificationBufferSize = 16

// NotificationService persists notifications and streams them to end users
// via SSE. Persistence is the only delivery guarantee; real-time fanout is
// best effort and never blocks the triggering operation.
type NotificationService interface {
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context)

	SessionNotifier
}

type notificationService struct {
	repo        repository.NotificationRepository
	redis       *redis.Client
	redisStream string
	unreadCache string
	unreadTTL   time.Duration
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	broker      *notificationBroker
	nodeID      string
	now         func() time.Time
}

type notificationEvent struct {
	Source       string                   `json:"source"`
	Notification dto.NotificationResponse `json:"notification"`
	SentAt       time.Time                `json:"sent_at"`
}

type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.NotificationResponse]struct{}
}

// NewNotificationService constructs a notification dispatcher.
func NewNotificationService(repo repository.NotificationRepository, redisClient *redis.Client, channelBase string, unreadTTL time.Duration, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	stream := ""
	unreadCache := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":notifications"
		unreadCache = channelBase + ":notifications:unread"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".notifications"
	}

	if unreadTTL <= 0 {
		unreadTTL = time.Minute
	}

	return &notificationService{
		repo:        repo,
		redis:       redisClient,
		redisStream: stream,
		unreadCache: unreadCache,
		unreadTTL:   unreadTTL,
		nats:        natsConn,
		natsSubject: subject,
		validator:   validate,
		logger:      logger.With().Str("component", "notification_service").Logger(),
		tracer:      otel.Tracer("github.com/skillbridge-app/skillbridge-api/internal/service/notification"),
		sanitizer:   bluemonday.StrictPolicy(),
		broker: &notificationBroker{
			subscribers: make(map[string]map[chan dto.NotificationResponse]struct{}),
		},
		nodeID: uuid.NewString(),
		now:    time.Now,
	}
}

func (s *notificationService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	cleanMessage := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if cleanMessage == "" {
		return dto.NotificationResponse{}, fmt.Errorf("%w: notification message empty after sanitization", ErrValidation)
	}

	attrs := []attribute.KeyValue{
		attribute.String("notification.user_id", payload.UserID),
		attribute.String("notification.type", payload.Type),
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.publish", trace.WithAttributes(attrs...))
	defer span.End()

	model := models.Notification{
		UserID:     payload.UserID,
		Title:      strings.TrimSpace(s.sanitizer.Sanitize(payload.Title)),
		Message:    cleanMessage,
		Type:       payload.Type,
		IconSVG:    payload.IconSVG,
		RelatedURL: payload.RelatedURL,
	}

	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	s.invalidateUnread(spanCtx, payload.UserID)

	response := dto.NewNotificationResponse(model)
	s.broadcast(response)
	if err := s.publish(spanCtx, response); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish notification event")
	}

	observability.NotificationsPublishedTotal().WithLabelValues(response.Type).Inc()

	return response, nil
}

// NotifySessionEvent translates a session change into a notification. It is
// fire-and-forget: failures are logged, never returned to the scheduler.
func (s *notificationService) NotifySessionEvent(ctx context.Context, recipientID, event string, session models.MentorshipSession) {
	titles := map[string]string{
		"session_proposed":    "New session proposal",
		"session_accepted":    "Session accepted",
		"session_declined":    "Session declined",
		"session_cancelled":   "Session cancelled",
		"session_rescheduled": "Session rescheduled",
	}

	title, ok := titles[event]
	if !ok {
		title = "Mentorship session update"
	}

	_, err := s.Publish(ctx, dto.NotificationCreateRequest{
		UserID:     recipientID,
		Title:      title,
		Message:    fmt.Sprintf("%s: %s", title, session.Title),
		Type:       event,
		RelatedURL: fmt.Sprintf("/mentorship/sessions/%d", session.ID),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Uint("session_id", session.ID).Msg("failed to deliver session notification")
	}
}

func (s *notificationService) List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	notifications, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	if cached, ok := s.cachedUnread(ctx, userID); ok {
		return cached, nil
	}

	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.cacheUnread(ctx, userID, count)
	return count, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID, s.now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotFound
		}
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	s.invalidateUnread(spanCtx, userID)

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_all_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	affected, err := s.repo.MarkAllRead(spanCtx, userID, s.now())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	s.invalidateUnread(spanCtx, userID)

	return affected, nil
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(userID, channel)
	observability.SSEClientsActive().Inc()

	cleanup := func() {
		s.broker.unsubscribe(userID, channel)
		observability.SSEClientsActive().Dec()
	}

	return channel, cleanup
}

func (s *notificationService) broadcast(notification dto.NotificationResponse) {
	s.broker.broadcast(notification.UserID, notification)
}

func (s *notificationService) publish(ctx context.Context, notification dto.NotificationResponse) error {
	event := notificationEvent{
		Source:       s.nodeID,
		Notification: notification,
		SentAt:       time.Now().UTC(),
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

func (s *notificationService) cachedUnread(ctx context.Context, userID string) (int64, bool) {
	if s.redis == nil || s.unreadCache == "" {
		return 0, false
	}

	result, err := s.redis.Get(ctx, s.unreadCache+":"+userID).Result()
	if err != nil {
		return 0, false
	}

	count, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, false
	}

	return count, true
}

func (s *notificationService) cacheUnread(ctx context.Context, userID string, count int64) {
	if s.redis == nil || s.unreadCache == "" {
		return
	}
	if err := s.redis.Set(ctx, s.unreadCache+":"+userID, count, s.unreadTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache unread count")
	}
}

func (s *notificationService) invalidateUnread(ctx context.Context, userID string) {
	if s.redis == nil || s.unreadCache == "" {
		return
	}
	if err := s.redis.Del(ctx, s.unreadCache+":"+userID).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate unread count cache")
	}
}

func (s *notificationService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("notification redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *notificationService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "skillbridge-notifications", func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats notifications subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain notification nats subscription")
		}
	}()
}

func (s *notificationService) handleEvent(payload []byte) {
	var event notificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid notification event payload")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	notification := event.Notification
	if notification.Type == "" {
		notification.Type = "generic"
	}

	s.broadcast(notification)
}

func (b *notificationBroker) subscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *notificationBroker) broadcast(userID string, notification dto.NotificationResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.subscribers[userID]
	for ch := range subscribers {
		select {
		case ch <- notification:
		default:
		}
	}
}
