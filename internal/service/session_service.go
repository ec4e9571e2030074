package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
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

// SessionService manages the mentorship session lifecycle:
// proposed -> accepted | declined | cancelled, accepted -> cancelled,
// and reschedule returning any non-terminal session to proposed.
type SessionService interface {
	Propose(ctx context.Context, proposerID string, payload dto.SessionProposeRequest) (dto.SessionResponse, error)
	Accept(ctx context.Context, sessionID uint, userID string) (dto.SessionResponse, error)
	Decline(ctx context.Context, sessionID uint, userID string) (dto.SessionResponse, error)
	Cancel(ctx context.Context, sessionID uint, userID string) (dto.SessionResponse, error)
	Reschedule(ctx context.Context, sessionID uint, userID string, payload dto.SessionRescheduleRequest) (dto.SessionResponse, error)
	ListByMatch(ctx context.Context, matchID uint, userID string) ([]dto.SessionResponse, error)
}

// SessionNotifier receives best-effort notifications about session changes.
// Failures are logged and never fail the transition.
type SessionNotifier interface {
	NotifySessionEvent(ctx context.Context, recipientID, event string, session models.MentorshipSession)
}

type sessionService struct {
	sessions  repository.SessionRepository
	matches   repository.MatchRepository
	notifier  SessionNotifier
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewSessionService constructs the mentorship session scheduler.
func NewSessionService(sessions repository.SessionRepository, matches repository.MatchRepository, notifier SessionNotifier, validate *validator.Validate, logger zerolog.Logger) SessionService {
	return &sessionService{
		sessions:  sessions,
		matches:   matches,
		notifier:  notifier,
		validator: validate,
		logger:    logger.With().Str("component", "session_service").Logger(),
		tracer:    otel.Tracer("github.com/skillbridge-app/skillbridge-api/internal/service/session"),
		now:       time.Now,
	}
}

func (s *sessionService) Propose(ctx context.Context, proposerID string, payload dto.SessionProposeRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SessionResponse{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	match, err := s.matches.FindByID(ctx, payload.MatchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SessionResponse{}, ErrNotFound
		}
		return dto.SessionResponse{}, err
	}

	if match.Status != models.MatchStatusActive || !match.HasParty(proposerID) {
		return dto.SessionResponse{}, ErrNotAuthorized
	}

	spanCtx, span := s.tracer.Start(ctx, "sessions.propose", trace.WithAttributes(
		attribute.Int("session.match_id", int(payload.MatchID)),
		attribute.String("session.proposer_id", proposerID),
	))
	defer span.End()

	// Stored exactly as provided, no UTC conversion. The time zone label is
	// carried for display only.
	session := models.MentorshipSession{
		MentorshipMatchID: payload.MatchID,
		CreatedByUserID:   proposerID,
		ScheduledStart:    payload.ScheduledStart,
		TimeZone:          payload.TimeZone,
		Status:            models.SessionStatusProposed,
		Title:             payload.Title,
		Notes:             payload.Notes,
	}

	if err := s.sessions.Create(spanCtx, &session); err != nil {
		span.RecordError(err)
		return dto.SessionResponse{}, err
	}

	observability.SessionTransitions().WithLabelValues("propose").Inc()
	s.notify(spanCtx, match.Counterpart(proposerID), "session_proposed", session)

	return dto.NewSessionResponse(session), nil
}

func (s *sessionService) Accept(ctx context.Context, sessionID uint, userID string) (dto.SessionResponse, error) {
	return s.respond(ctx, sessionID, userID, models.SessionStatusAccepted, "session_accepted")
}

func (s *sessionService) Decline(ctx context.Context, sessionID uint, userID string) (dto.SessionResponse, error) {
	return s.respond(ctx, sessionID, userID, models.SessionStatusDeclined, "session_declined")
}

// respond handles accept and decline, which share the same actor constraint:
// the responder must be a match party and must not be the session's creator.
func (s *sessionService) respond(ctx context.Context, sessionID uint, userID, toStatus, event string) (dto.SessionResponse, error) {
	session, match, err := s.load(ctx, sessionID)
	if err != nil {
		return dto.SessionResponse{}, err
	}

	if !match.HasParty(userID) || session.CreatedByUserID == userID {
		return dto.SessionResponse{}, ErrNotAuthorized
	}

	spanCtx, span := s.tracer.Start(ctx, "sessions."+toStatus, trace.WithAttributes(
		attribute.Int("session.id", int(sessionID)),
		attribute.String("session.actor_id", userID),
	))
	defer span.End()

	updated, err := s.transition(spanCtx, session, []string{models.SessionStatusProposed}, map[string]interface{}{
		"status": toStatus,
	})
	if err != nil {
		span.RecordError(err)
		return dto.SessionResponse{}, err
	}

	observability.SessionTransitions().WithLabelValues(toStatus).Inc()
	s.notify(spanCtx, session.CreatedByUserID, event, updated)

	return dto.NewSessionResponse(updated), nil
}

func (s *sessionService) Cancel(ctx context.Context, sessionID uint, userID string) (dto.SessionResponse, error) {
	session, match, err := s.load(ctx, sessionID)
	if err != nil {
		return dto.SessionResponse{}, err
	}

	if !match.HasParty(userID) {
		return dto.SessionResponse{}, ErrNotAuthorized
	}

	spanCtx, span := s.tracer.Start(ctx, "sessions.cancel", trace.WithAttributes(
		attribute.Int("session.id", int(sessionID)),
		attribute.String("session.actor_id", userID),
	))
	defer span.End()

	updated, err := s.transition(spanCtx, session,
		[]string{models.SessionStatusProposed, models.SessionStatusAccepted},
		map[string]interface{}{"status": models.SessionStatusCancelled})
	if err != nil {
		span.RecordError(err)
		return dto.SessionResponse{}, err
	}

	observability.SessionTransitions().WithLabelValues("cancel").Inc()
	s.notify(spanCtx, match.Counterpart(userID), "session_cancelled", updated)

	return dto.NewSessionResponse(updated), nil
}

func (s *sessionService) Reschedule(ctx context.Context, sessionID uint, userID string, payload dto.SessionRescheduleRequest) (dto.SessionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SessionResponse{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	session, match, err := s.load(ctx, sessionID)
	if err != nil {
		return dto.SessionResponse{}, err
	}

	if !match.HasParty(userID) {
		return dto.SessionResponse{}, ErrNotAuthorized
	}

	spanCtx, span := s.tracer.Start(ctx, "sessions.reschedule", trace.WithAttributes(
		attribute.Int("session.id", int(sessionID)),
		attribute.String("session.actor_id", userID),
	))
	defer span.End()

	history, err := s.appendHistory(session, userID)
	if err != nil {
		span.RecordError(err)
		return dto.SessionResponse{}, err
	}

	updates := map[string]interface{}{
		"status":          models.SessionStatusProposed,
		"scheduled_start": payload.ScheduledStart,
		"history":         history,
	}
	if payload.Notes != "" {
		updates["notes"] = payload.Notes
	}

	updated, err := s.transition(spanCtx, session,
		[]string{models.SessionStatusProposed, models.SessionStatusAccepted},
		updates)
	if err != nil {
		span.RecordError(err)
		return dto.SessionResponse{}, err
	}

	observability.SessionTransitions().WithLabelValues("reschedule").Inc()
	s.notify(spanCtx, match.Counterpart(userID), "session_rescheduled", updated)

	return dto.NewSessionResponse(updated), nil
}

func (s *sessionService) ListByMatch(ctx context.Context, matchID uint, userID string) ([]dto.SessionResponse, error) {
	match, err := s.matches.FindByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !match.HasParty(userID) {
		return nil, ErrNotAuthorized
	}

	sessions, err := s.sessions.ListByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	return dto.NewSessionResponseSlice(sessions), nil
}

func (s *sessionService) load(ctx context.Context, sessionID uint) (models.MentorshipSession, models.MentorshipMatch, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.MentorshipSession{}, models.MentorshipMatch{}, ErrNotFound
		}
		return models.MentorshipSession{}, models.MentorshipMatch{}, err
	}

	match, err := s.matches.FindByID(ctx, session.MentorshipMatchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.MentorshipSession{}, models.MentorshipMatch{}, ErrNotFound
		}
		return models.MentorshipSession{}, models.MentorshipMatch{}, err
	}

	return session, match, nil
}

// transition applies a guarded single-row update. The status guard in the
// WHERE clause is the linearization point: under a concurrent race exactly
// one writer changes the row and every loser observes zero affected rows.
func (s *sessionService) transition(ctx context.Context, session models.MentorshipSession, fromStatuses []string, updates map[string]interface{}) (models.MentorshipSession, error) {
	affected, err := s.sessions.Transition(ctx, session.ID, fromStatuses, updates)
	if err != nil {
		return models.MentorshipSession{}, err
	}
	if affected == 0 {
		return models.MentorshipSession{}, ErrInvalidTransition
	}

	updated, err := s.sessions.FindByID(ctx, session.ID)
	if err != nil {
		return models.MentorshipSession{}, err
	}
	return updated, nil
}

func (s *sessionService) appendHistory(session models.MentorshipSession, actorID string) ([]byte, error) {
	var entries []models.SessionHistoryEntry
	if len(session.History) > 0 {
		if err := json.Unmarshal(session.History, &entries); err != nil {
			s.logger.Warn().Err(err).Uint("session_id", session.ID).Msg("resetting unreadable session history")
			entries = nil
		}
	}

	entries = append(entries, models.SessionHistoryEntry{
		ScheduledStart: session.ScheduledStart,
		Status:         session.Status,
		ActorID:        actorID,
		RecordedAt:     s.now(),
	})

	return json.Marshal(entries)
}

func (s *sessionService) notify(ctx context.Context, recipientID, event string, session models.MentorshipSession) {
	if s.notifier == nil || recipientID == "" {
		return
	}
	s.notifier.NotifySessionEvent(ctx, recipientID, event, session)
}
