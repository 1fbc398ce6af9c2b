package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-appeal-api/internal/models"
	"github.com/noah-isme/uni-appeal-api/pkg/config"
	appErrors "github.com/noah-isme/uni-appeal-api/pkg/errors"
	"github.com/noah-isme/uni-appeal-api/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, onlyUnread bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// notificationEvent is the wire envelope published on the Redis channel.
type notificationEvent struct {
	Kind  models.NotificationKind `json:"kind"`
	Event models.TransitionEvent  `json:"event"`
}

// NotificationService persists per-user notifications and fans transition
// events out through a background worker pool. Dispatch is best effort:
// a failed publish never fails the appeal operation that triggered it.
type NotificationService struct {
	repo      notificationStore
	publisher eventPublisher
	queue     *jobs.Queue
	channel   string
	enabled   bool
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewNotificationService wires the store, the publisher and the dispatch
// queue together.
func NewNotificationService(repo notificationStore, publisher eventPublisher, cfg config.NotificationsConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		repo:      repo,
		publisher: publisher,
		channel:   cfg.Channel,
		enabled:   cfg.Enabled,
		metrics:   metrics,
		logger:    logger,
	}
	s.queue = jobs.NewQueue("notifications", s.handleDispatch, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the dispatch workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyCreated records a notification for the assigned professor and
// publishes a creation event.
func (s *NotificationService) NotifyCreated(ctx context.Context, appeal *models.Appeal) {
	if !s.enabled || appeal == nil {
		return
	}

	s.persist(ctx, &models.Notification{
		ID:       uuid.NewString(),
		UserID:   appeal.ProfessorID,
		AppealID: appeal.ID,
		Kind:     models.NotificationKindAppealCreated,
		Title:    "New appeal submitted",
		Body:     fmt.Sprintf("A new %s appeal is waiting for your review.", appeal.Type),
	})

	s.dispatch(notificationEvent{
		Kind: models.NotificationKindAppealCreated,
		Event: models.TransitionEvent{
			AppealID:  appeal.ID,
			ActorID:   appeal.StudentID,
			NewState:  appeal.State,
			Timestamp: time.Now().UTC(),
		},
	})
}

// NotifyTransition records a notification for the counterparty of the actor
// and publishes the transition event.
func (s *NotificationService) NotifyTransition(ctx context.Context, appeal *models.Appeal, actorID string, previous models.AppealState) {
	if !s.enabled || appeal == nil {
		return
	}

	recipient := appeal.ProfessorID
	if actorID == appeal.ProfessorID {
		recipient = appeal.StudentID
	}

	s.persist(ctx, &models.Notification{
		ID:       uuid.NewString(),
		UserID:   recipient,
		AppealID: appeal.ID,
		Kind:     models.NotificationKindAppealTransition,
		Title:    "Appeal status changed",
		Body:     fmt.Sprintf("Your appeal moved from %s to %s.", previous, appeal.State),
	})

	s.dispatch(notificationEvent{
		Kind: models.NotificationKindAppealTransition,
		Event: models.TransitionEvent{
			AppealID:      appeal.ID,
			ActorID:       actorID,
			PreviousState: previous,
			NewState:      appeal.State,
			Timestamp:     time.Now().UTC(),
		},
	})
}

// List returns the notifications for a user, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, onlyUnread bool, limit int) ([]models.Notification, error) {
	notifications, err := s.repo.ListByUser(ctx, userID, onlyUnread, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

// MarkRead marks a notification as read. Ownership is enforced by the
// store so users cannot touch each other's notifications.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

func (s *NotificationService) persist(ctx context.Context, notification *models.Notification) {
	if err := s.repo.Create(ctx, notification); err != nil {
		s.logger.Warn("failed to persist notification",
			zap.String("appeal_id", notification.AppealID),
			zap.String("user_id", notification.UserID),
			zap.Error(err))
	}
}

func (s *NotificationService) dispatch(event notificationEvent) {
	if err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(event.Kind),
		Payload: event,
	}); err != nil {
		s.logger.Warn("failed to enqueue notification event",
			zap.String("appeal_id", event.Event.AppealID), zap.Error(err))
	}
}

func (s *NotificationService) handleDispatch(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(notificationEvent)
	if !ok {
		s.logger.Warn("dropping notification job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.channel, payload); err != nil {
		return err
	}
	s.metrics.RecordEventPublished()
	return nil
}
