package models

import "time"

// NotificationKind labels the origin of a notification.
type NotificationKind string

const (
	NotificationKindAppealCreated    NotificationKind = "APPEAL_CREATED"
	NotificationKindAppealTransition NotificationKind = "APPEAL_TRANSITION"
)

// Notification represents a persisted notification row shown to a user.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	AppealID  string           `db:"appeal_id" json:"appeal_id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	Title     string           `db:"title" json:"title"`
	Body      string           `db:"body" json:"body"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// TransitionEvent is the wire record published after every successful
// state change.
type TransitionEvent struct {
	AppealID      string      `json:"appealId"`
	ActorID       string      `json:"actorId"`
	PreviousState AppealState `json:"previousState"`
	NewState      AppealState `json:"newState"`
	Timestamp     time.Time   `json:"timestamp"`
}
