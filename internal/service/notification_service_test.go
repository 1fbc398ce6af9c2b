package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-appeal-api/internal/models"
	"github.com/noah-isme/uni-appeal-api/pkg/config"
	appErrors "github.com/noah-isme/uni-appeal-api/pkg/errors"
)

type notifRepoStub struct {
	mu            sync.Mutex
	notifications []*models.Notification
}

func (r *notifRepoStub) Create(ctx context.Context, notification *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, notification)
	return nil
}

func (r *notifRepoStub) ListByUser(ctx context.Context, userID string, onlyUnread bool, limit int) ([]models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]models.Notification, 0)
	for _, n := range r.notifications {
		if n.UserID != userID {
			continue
		}
		if onlyUnread && n.Read {
			continue
		}
		result = append(result, *n)
	}
	return result, nil
}

func (r *notifRepoStub) MarkRead(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.ID == id && n.UserID == userID {
			n.Read = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r *notifRepoStub) stored() []*models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Notification(nil), r.notifications...)
}

type publisherStub struct {
	mu        sync.Mutex
	failures  int
	published chan []byte
}

func newPublisherStub() *publisherStub {
	return &publisherStub{published: make(chan []byte, 8)}
}

func (p *publisherStub) Publish(ctx context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	if p.failures > 0 {
		p.failures--
		p.mu.Unlock()
		return errors.New("broker unavailable")
	}
	p.mu.Unlock()
	p.published <- payload
	return nil
}

func (p *publisherStub) wait(t *testing.T) []byte {
	t.Helper()
	select {
	case payload := <-p.published:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
		return nil
	}
}

func notifTestConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		Enabled:           true,
		Channel:           "appeals.events",
		WorkerConcurrency: 1,
		WorkerRetries:     2,
		RetryDelay:        10 * time.Millisecond,
	}
}

func testAppeal() *models.Appeal {
	return &models.Appeal{
		ID:          "appeal-1",
		Type:        models.AppealTypeEvaluation,
		State:       models.AppealStateRevised,
		StudentID:   "student-1",
		ProfessorID: "prof-1",
	}
}

func TestNotificationServiceNotifyTransition(t *testing.T) {
	repo := &notifRepoStub{}
	publisher := newPublisherStub()
	svc := NewNotificationService(repo, publisher, notifTestConfig(), nil, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.NotifyTransition(context.Background(), testAppeal(), "prof-1", models.AppealStatePending)

	payload := publisher.wait(t)
	var event notificationEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, models.NotificationKindAppealTransition, event.Kind)
	assert.Equal(t, "appeal-1", event.Event.AppealID)
	assert.Equal(t, models.AppealStatePending, event.Event.PreviousState)
	assert.Equal(t, models.AppealStateRevised, event.Event.NewState)

	stored := repo.stored()
	require.Len(t, stored, 1)
	// the professor acted, so the student is notified
	assert.Equal(t, "student-1", stored[0].UserID)
	assert.Equal(t, models.NotificationKindAppealTransition, stored[0].Kind)
}

func TestNotificationServiceNotifyCreated(t *testing.T) {
	repo := &notifRepoStub{}
	publisher := newPublisherStub()
	svc := NewNotificationService(repo, publisher, notifTestConfig(), nil, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	appeal := testAppeal()
	appeal.State = models.AppealStatePending
	svc.NotifyCreated(context.Background(), appeal)

	payload := publisher.wait(t)
	var event notificationEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, models.NotificationKindAppealCreated, event.Kind)
	assert.Equal(t, "student-1", event.Event.ActorID)

	stored := repo.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "prof-1", stored[0].UserID)
}

func TestNotificationServiceRetriesFailedPublish(t *testing.T) {
	repo := &notifRepoStub{}
	publisher := newPublisherStub()
	publisher.failures = 1
	svc := NewNotificationService(repo, publisher, notifTestConfig(), nil, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.NotifyTransition(context.Background(), testAppeal(), "prof-1", models.AppealStatePending)

	payload := publisher.wait(t)
	assert.NotEmpty(t, payload)
}

func TestNotificationServiceDisabled(t *testing.T) {
	repo := &notifRepoStub{}
	publisher := newPublisherStub()
	cfg := notifTestConfig()
	cfg.Enabled = false
	svc := NewNotificationService(repo, publisher, cfg, nil, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.NotifyTransition(context.Background(), testAppeal(), "prof-1", models.AppealStatePending)

	assert.Empty(t, repo.stored())
	select {
	case <-publisher.published:
		t.Fatal("no event should be published when notifications are disabled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotificationServiceMarkRead(t *testing.T) {
	repo := &notifRepoStub{notifications: []*models.Notification{
		{ID: "n1", UserID: "student-1", AppealID: "appeal-1", Kind: models.NotificationKindAppealTransition},
	}}
	svc := NewNotificationService(repo, newPublisherStub(), notifTestConfig(), nil, nil)

	require.NoError(t, svc.MarkRead(context.Background(), "n1", "student-1"))

	err := svc.MarkRead(context.Background(), "n1", "someone-else")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	listed, err := svc.List(context.Background(), "student-1", false, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].Read)

	unread, err := svc.List(context.Background(), "student-1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
