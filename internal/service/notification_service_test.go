package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/skillbridge-app/skillbridge-api/internal/dto"
	"github.com/skillbridge-app/skillbridge-api/internal/models"
	"github.com/skillbridge-app/skillbridge-api/internal/repository"
)

func newNotificationFixture(t *testing.T) (*gorm.DB, *redis.Client, NotificationService) {
	t.Helper()

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Notification{}))

	repo := repository.NewNotificationRepository(db)
	svc := NewNotificationService(repo, redisClient, "test:comms", time.Minute, nil, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	return db, redisClient, svc
}

func TestNotificationServicePublishSanitizesAndPersists(t *testing.T) {
	db, _, svc := newNotificationFixture(t)
	ctx := context.Background()

	published, err := svc.Publish(ctx, dto.NotificationCreateRequest{
		UserID:  "user-1",
		Title:   "Payment received",
		Message: "<b>Your invoice</b> was <script>hack()</script>paid",
		Type:    "payment",
	})
	require.NoError(t, err)
	require.Equal(t, "Your invoice was paid", published.Message)
	require.False(t, published.Read)

	var stored models.Notification
	require.NoError(t, db.First(&stored, published.ID).Error)
	require.Equal(t, "user-1", stored.UserID)
	require.NotContains(t, stored.Message, "script")
}

func TestNotificationServicePublishValidation(t *testing.T) {
	_, _, svc := newNotificationFixture(t)
	ctx := context.Background()

	_, err := svc.Publish(ctx, dto.NotificationCreateRequest{UserID: "user-1", Type: "generic"})
	require.ErrorIs(t, err, ErrValidation)

	// A message that is nothing but markup sanitizes to empty.
	_, err = svc.Publish(ctx, dto.NotificationCreateRequest{
		UserID:  "user-1",
		Title:   "Empty",
		Message: "<script>only()</script>",
		Type:    "generic",
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestNotificationServiceUnreadCountCaching(t *testing.T) {
	db, redisClient, svc := newNotificationFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Publish(ctx, dto.NotificationCreateRequest{
			UserID:  "user-2",
			Title:   "Update",
			Message: "something happened",
			Type:    "generic",
		})
		require.NoError(t, err)
	}

	count, err := svc.UnreadCount(ctx, "user-2")
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	cached, err := redisClient.Get(ctx, "test:comms:notifications:unread:user-2").Result()
	require.NoError(t, err)
	require.Equal(t, "3", cached)

	// Writing behind the cache's back: the stale value is served until the
	// next publish or read-state change invalidates it.
	require.NoError(t, db.Model(&models.Notification{}).Where("user_id = ?", "user-2").Update("read", true).Error)

	count, err = svc.UnreadCount(ctx, "user-2")
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	_, err = svc.MarkAllRead(ctx, "user-2")
	require.NoError(t, err)

	count, err = svc.UnreadCount(ctx, "user-2")
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestNotificationServiceMarkReadScopedToOwner(t *testing.T) {
	_, _, svc := newNotificationFixture(t)
	ctx := context.Background()

	published, err := svc.Publish(ctx, dto.NotificationCreateRequest{
		UserID:  "owner",
		Title:   "Hello",
		Message: "for you only",
		Type:    "generic",
	})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, published.ID, "intruder")
	require.ErrorIs(t, err, ErrNotFound)

	updated, err := svc.MarkRead(ctx, published.ID, "owner")
	require.NoError(t, err)
	require.True(t, updated.Read)
	require.NotNil(t, updated.ReadAt)

	// Marking twice keeps the original read timestamp.
	again, err := svc.MarkRead(ctx, published.ID, "owner")
	require.NoError(t, err)
	require.Equal(t, updated.ReadAt.Unix(), again.ReadAt.Unix())
}

func TestNotificationServiceListNewestFirst(t *testing.T) {
	db, _, svc := newNotificationFixture(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		notification := models.Notification{
			UserID:    "reader",
			Title:     fmt.Sprintf("n%d", i),
			Message:   "body",
			Type:      "generic",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(&notification).Error)
	}

	listed, err := svc.List(ctx, "reader", 2, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "n2", listed[0].Title)
	require.Equal(t, "n1", listed[1].Title)

	rest, err := svc.List(ctx, "reader", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "n0", rest[0].Title)
}

func TestNotificationServiceSubscribeReceivesPublished(t *testing.T) {
	_, _, svc := newNotificationFixture(t)
	ctx := context.Background()

	stream, cleanup := svc.Subscribe("listener")
	defer cleanup()

	other, otherCleanup := svc.Subscribe("someone-else")
	defer otherCleanup()

	published, err := svc.Publish(ctx, dto.NotificationCreateRequest{
		UserID:  "listener",
		Title:   "Ping",
		Message: "you have mail",
		Type:    "generic",
	})
	require.NoError(t, err)

	select {
	case received := <-stream:
		require.Equal(t, published.ID, received.ID)
		require.Equal(t, "you have mail", received.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}

	select {
	case unexpected := <-other:
		t.Fatalf("notification leaked to wrong subscriber: %+v", unexpected)
	default:
	}
}

func TestNotificationServiceSessionEventLinksSession(t *testing.T) {
	db, _, svc := newNotificationFixture(t)

	svc.NotifySessionEvent(context.Background(), "mentor-9", "session_proposed", models.MentorshipSession{
		ID:    42,
		Title: "Weekly sync",
	})

	var stored models.Notification
	require.NoError(t, db.Where("user_id = ?", "mentor-9").First(&stored).Error)
	require.Equal(t, "New session proposal", stored.Title)
	require.Equal(t, "session_proposed", stored.Type)
	require.Equal(t, "/mentorship/sessions/42", stored.RelatedURL)
	require.Contains(t, stored.Message, "Weekly sync")
}
