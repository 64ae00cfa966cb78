package model

import "time"

type NotificationType string

const (
	NotificationCallTask      NotificationType = "call_task"
	NotificationDecliningSoon NotificationType = "declining_soon"
	NotificationAutoDeclined  NotificationType = "auto_declined"
	NotificationEstimateWon   NotificationType = "estimate_won"
	NotificationEstimateLost  NotificationType = "estimate_lost"
	NotificationNewEstimate   NotificationType = "new_estimate"
)

func (t NotificationType) String() string { return string(t) }

// Notification is persisted for the assigned user and relayed to Kafka
// through the outbox table.
type Notification struct {
	ID         string           `db:"id"` // ULID
	UserID     int64            `db:"user_id"`
	EstimateID int64            `db:"estimate_id"`
	Type       NotificationType `db:"type"`
	Message    string           `db:"message"`
	CreatedAt  time.Time        `db:"created_at"`
}
