package repository

import (
	"context"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type NotificationsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, n model.Notification) error
	// ExistsForEstimate is the check half of the check-then-insert
	// guard behind "exactly one declining_soon notification per
	// estimate"; callers must run it sequentially per estimate.
	ExistsForEstimate(ctx context.Context, estimateID int64, typ model.NotificationType) (bool, error)
}

type NotificationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewNotificationsRepository(db *sqlx.DB) *NotificationsRepositoryImpl {
	return &NotificationsRepositoryImpl{db: db}
}

var _ NotificationsRepository = (*NotificationsRepositoryImpl)(nil)

func (r *NotificationsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *NotificationsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, n model.Notification) error {
	const q = `
		INSERT INTO notifications (id, user_id, estimate_id, type, message, created_at)
		VALUES (?, ?, ?, ?, ?, NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, n.ID, n.UserID, n.EstimateID, n.Type.String(), n.Message)
		return err
	})
}

func (r *NotificationsRepositoryImpl) ExistsForEstimate(ctx context.Context, estimateID int64, typ model.NotificationType) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM notifications WHERE estimate_id = ? AND type = ?
	`, estimateID, typ.String())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
