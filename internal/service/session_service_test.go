package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/skillbridge-app/skillbridge-api/internal/dto"
	"github.com/skillbridge-app/skillbridge-api/internal/models"
)

type stubSessionRepo struct {
	sessions map[uint]models.MentorshipSession
	nextID   uint
	// transitionHook runs before the guarded update, letting tests simulate
	// a concurrent writer winning the race.
	transitionHook func()
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: make(map[uint]models.MentorshipSession), nextID: 1}
}

func (s *stubSessionRepo) Create(ctx context.Context, session *models.MentorshipSession) error {
	session.ID = s.nextID
	s.nextID++
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	s.sessions[session.ID] = *session
	return nil
}

func (s *stubSessionRepo) FindByID(ctx context.Context, id uint) (models.MentorshipSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return models.MentorshipSession{}, gorm.ErrRecordNotFound
	}
	return session, nil
}

func (s *stubSessionRepo) ListByMatch(ctx context.Context, matchID uint) ([]models.MentorshipSession, error) {
	var out []models.MentorshipSession
	for _, session := range s.sessions {
		if session.MentorshipMatchID == matchID {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *stubSessionRepo) Transition(ctx context.Context, id uint, fromStatuses []string, updates map[string]interface{}) (int64, error) {
	if s.transitionHook != nil {
		s.transitionHook()
	}

	session, ok := s.sessions[id]
	if !ok {
		return 0, nil
	}

	matched := false
	for _, status := range fromStatuses {
		if session.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return 0, nil
	}

	if v, ok := updates["status"]; ok {
		session.Status = v.(string)
	}
	if v, ok := updates["scheduled_start"]; ok {
		session.ScheduledStart = v.(time.Time)
	}
	if v, ok := updates["notes"]; ok {
		session.Notes = v.(string)
	}
	if v, ok := updates["history"]; ok {
		session.History = datatypes.JSON(v.([]byte))
	}
	session.UpdatedAt = time.Now()
	s.sessions[id] = session
	return 1, nil
}

type stubMatchRepo struct {
	matches map[uint]models.MentorshipMatch
}

func (s *stubMatchRepo) Create(ctx context.Context, match *models.MentorshipMatch) error {
	s.matches[match.ID] = *match
	return nil
}

func (s *stubMatchRepo) FindByID(ctx context.Context, id uint) (models.MentorshipMatch, error) {
	match, ok := s.matches[id]
	if !ok {
		return models.MentorshipMatch{}, gorm.ErrRecordNotFound
	}
	return match, nil
}

func (s *stubMatchRepo) FindActiveByParties(ctx context.Context, userA, userB string) (models.MentorshipMatch, error) {
	for _, match := range s.matches {
		if match.Status != models.MatchStatusActive {
			continue
		}
		if (match.MentorID == userA && match.MenteeID == userB) || (match.MentorID == userB && match.MenteeID == userA) {
			return match, nil
		}
	}
	return models.MentorshipMatch{}, gorm.ErrRecordNotFound
}

type stubSessionNotifier struct {
	events     []string
	recipients []string
}

func (s *stubSessionNotifier) NotifySessionEvent(ctx context.Context, recipientID, event string, session models.MentorshipSession) {
	s.events = append(s.events, event)
	s.recipients = append(s.recipients, recipientID)
}

func newSessionFixture() (*stubSessionRepo, *stubMatchRepo, *stubSessionNotifier, SessionService) {
	sessions := newStubSessionRepo()
	matches := &stubMatchRepo{matches: map[uint]models.MentorshipMatch{
		1: {ID: 1, MentorID: "mentor-1", MenteeID: "mentee-1", Status: models.MatchStatusActive},
		2: {ID: 2, MentorID: "mentor-2", MenteeID: "mentee-2", Status: models.MatchStatusCompleted},
	}}
	notifier := &stubSessionNotifier{}
	svc := NewSessionService(sessions, matches, notifier, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
	return sessions, matches, notifier, svc
}

func TestSessionServiceProposeNotifiesCounterpart(t *testing.T) {
	_, _, notifier, svc := newSessionFixture()

	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	session, err := svc.Propose(context.Background(), "mentee-1", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: start,
		TimeZone:       "Asia/Jakarta",
		Title:          "Portfolio review",
	})
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusProposed, session.Status)
	require.True(t, session.ScheduledStart.Equal(start))
	require.Equal(t, "Asia/Jakarta", session.TimeZone)
	require.Equal(t, []string{"session_proposed"}, notifier.events)
	require.Equal(t, []string{"mentor-1"}, notifier.recipients)
}

func TestSessionServiceProposeRequiresActiveMatch(t *testing.T) {
	_, _, _, svc := newSessionFixture()

	_, err := svc.Propose(context.Background(), "mentee-2", dto.SessionProposeRequest{
		MatchID:        2,
		ScheduledStart: time.Now().Add(24 * time.Hour),
		Title:          "Retro",
	})
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSessionServiceProposeRejectsStranger(t *testing.T) {
	_, _, _, svc := newSessionFixture()

	_, err := svc.Propose(context.Background(), "someone-else", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: time.Now().Add(24 * time.Hour),
		Title:          "Intro call",
	})
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSessionServiceAcceptByCounterpart(t *testing.T) {
	sessions, _, notifier, svc := newSessionFixture()
	proposed, err := svc.Propose(context.Background(), "mentee-1", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: time.Now().Add(48 * time.Hour),
		Title:          "Mock interview",
	})
	require.NoError(t, err)

	accepted, err := svc.Accept(context.Background(), proposed.ID, "mentor-1")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusAccepted, accepted.Status)

	stored := sessions.sessions[proposed.ID]
	require.Equal(t, models.SessionStatusAccepted, stored.Status)
	require.Contains(t, notifier.events, "session_accepted")
	require.Equal(t, "mentee-1", notifier.recipients[len(notifier.recipients)-1])
}

func TestSessionServiceCreatorCannotAcceptOwnProposal(t *testing.T) {
	_, _, _, svc := newSessionFixture()
	proposed, err := svc.Propose(context.Background(), "mentee-1", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: time.Now().Add(48 * time.Hour),
		Title:          "Mock interview",
	})
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), proposed.ID, "mentee-1")
	require.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.Decline(context.Background(), proposed.ID, "mentee-1")
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSessionServiceTerminalStatesRejectTransitions(t *testing.T) {
	_, _, _, svc := newSessionFixture()
	proposed, err := svc.Propose(context.Background(), "mentee-1", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: time.Now().Add(48 * time.Hour),
		Title:          "Career chat",
	})
	require.NoError(t, err)

	_, err = svc.Decline(context.Background(), proposed.ID, "mentor-1")
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), proposed.ID, "mentor-1")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Cancel(context.Background(), proposed.ID, "mentor-1")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Reschedule(context.Background(), proposed.ID, "mentee-1", dto.SessionRescheduleRequest{
		ScheduledStart: time.Now().Add(72 * time.Hour),
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSessionServiceCancelAcceptedSession(t *testing.T) {
	_, _, _, svc := newSessionFixture()
	proposed, err := svc.Propose(context.Background(), "mentor-1", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: time.Now().Add(48 * time.Hour),
		Title:          "Code walkthrough",
	})
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), proposed.ID, "mentee-1")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), proposed.ID, "mentor-1")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusCancelled, cancelled.Status)

	_, err = svc.Accept(context.Background(), proposed.ID, "mentee-1")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSessionServiceRescheduleRecordsHistory(t *testing.T) {
	sessions, _, _, svc := newSessionFixture()
	firstStart := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	proposed, err := svc.Propose(context.Background(), "mentee-1", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: firstStart,
		Title:          "Design review",
	})
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), proposed.ID, "mentor-1")
	require.NoError(t, err)

	newStart := firstStart.Add(48 * time.Hour)
	rescheduled, err := svc.Reschedule(context.Background(), proposed.ID, "mentor-1", dto.SessionRescheduleRequest{
		ScheduledStart: newStart,
		Notes:          "pushed back two days",
	})
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusProposed, rescheduled.Status)
	require.True(t, rescheduled.ScheduledStart.Equal(newStart))
	require.Equal(t, "pushed back two days", rescheduled.Notes)

	require.Len(t, rescheduled.History, 1)
	entry := rescheduled.History[0]
	require.True(t, entry.ScheduledStart.Equal(firstStart))
	require.Equal(t, models.SessionStatusAccepted, entry.Status)
	require.Equal(t, "mentor-1", entry.ActorID)

	// Second reschedule appends rather than overwrites.
	_, err = svc.Reschedule(context.Background(), proposed.ID, "mentee-1", dto.SessionRescheduleRequest{
		ScheduledStart: newStart.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	var entries []models.SessionHistoryEntry
	require.NoError(t, json.Unmarshal(sessions.sessions[proposed.ID].History, &entries))
	require.Len(t, entries, 2)
}

func TestSessionServiceConcurrentRespondSingleWinner(t *testing.T) {
	sessions, _, _, svc := newSessionFixture()
	proposed, err := svc.Propose(context.Background(), "mentee-1", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: time.Now().Add(24 * time.Hour),
		Title:          "Pairing session",
	})
	require.NoError(t, err)

	// Simulate a racing decline landing between the accept's read and its
	// guarded update. The accept must observe zero affected rows and fail.
	armed := true
	sessions.transitionHook = func() {
		if armed {
			armed = false
			session := sessions.sessions[proposed.ID]
			session.Status = models.SessionStatusDeclined
			sessions.sessions[proposed.ID] = session
		}
	}

	_, err = svc.Accept(context.Background(), proposed.ID, "mentor-1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, models.SessionStatusDeclined, sessions.sessions[proposed.ID].Status)
}

func TestSessionServiceListByMatchRequiresMembership(t *testing.T) {
	_, _, _, svc := newSessionFixture()
	_, err := svc.Propose(context.Background(), "mentee-1", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: time.Now().Add(24 * time.Hour),
		Title:          "Kickoff",
	})
	require.NoError(t, err)

	listed, err := svc.ListByMatch(context.Background(), 1, "mentor-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = svc.ListByMatch(context.Background(), 1, "stranger")
	require.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.ListByMatch(context.Background(), 99, "mentor-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionServiceProposeValidation(t *testing.T) {
	_, _, _, svc := newSessionFixture()

	_, err := svc.Propose(context.Background(), "mentee-1", dto.SessionProposeRequest{
		MatchID: 1,
		Title:   "no start time",
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Propose(context.Background(), "mentee-1", dto.SessionProposeRequest{
		MatchID:        1,
		ScheduledStart: time.Now().Add(time.Hour),
		Title:          "ab",
	})
	require.ErrorIs(t, err, ErrValidation)
}
