package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/estimatehq/followup-engine/internal/util"
	"github.com/jmoiron/sqlx"
)

// Notifier delivers a notification to a user. Implementations persist
// the row and queue it for relay; delivery to the browser is someone
// else's job.
type Notifier interface {
	Notify(ctx context.Context, userID int64, typ model.NotificationType, estimateID int64, message string) error
	// NotifyOnce inserts only if no notification of this type exists
	// yet for the estimate. Returns whether it inserted. The guard is
	// check-then-insert; callers run it sequentially per estimate.
	NotifyOnce(ctx context.Context, userID int64, typ model.NotificationType, estimateID int64, message string) (bool, error)
}

// Service writes the notification row plus an outbox event in one
// transaction; the relay worker publishes the envelope to Kafka.
type Service struct {
	db            *sqlx.DB
	notifications repository.NotificationsRepository
	outbox        repository.OutboxRepository
	topic         string
}

func New(db *sqlx.DB, notifications repository.NotificationsRepository, outbox repository.OutboxRepository, topic string) *Service {
	return &Service{db: db, notifications: notifications, outbox: outbox, topic: topic}
}

var _ Notifier = (*Service)(nil)

func (s *Service) Notify(ctx context.Context, userID int64, typ model.NotificationType, estimateID int64, message string) error {
	n := model.Notification{
		ID:         util.New(),
		UserID:     userID,
		EstimateID: estimateID,
		Type:       typ,
		Message:    message,
	}

	payload, err := json.Marshal(model.Envelope{
		ID:         n.ID,
		UserID:     userID,
		EstimateID: estimateID,
		Type:       typ.String(),
		Message:    message,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.notifications.Insert(ctx, tx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if err := s.outbox.Insert(ctx, tx, "notification", n.ID, s.topic, payload); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}

	return tx.Commit()
}

func (s *Service) NotifyOnce(ctx context.Context, userID int64, typ model.NotificationType, estimateID int64, message string) (bool, error) {
	exists, err := s.notifications.ExistsForEstimate(ctx, estimateID, typ)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Notify(ctx, userID, typ, estimateID, message); err != nil {
		return false, err
	}
	return true, nil
}
