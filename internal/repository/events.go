package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// ErrDuplicateStep means a non-skipped event already exists for the
// (estimate, step) pair. Callers treat it as "already handled".
var ErrDuplicateStep = errors.New("follow-up event already exists for step")

const mysqlErrDupEntry = 1062

type EventsRepository interface {
	// GetForStep returns the latest event for the pair, any status,
	// or nil when none exists.
	GetForStep(ctx context.Context, estimateID int64, stepIndex int) (*model.FollowUpEvent, error)
	// Insert adds a new event; a violation of the one-non-skipped-
	// event-per-step constraint surfaces as ErrDuplicateStep.
	Insert(ctx context.Context, tx *sqlx.Tx, ev model.FollowUpEvent) error
	ListDue(ctx context.Context, now time.Time) ([]DueEventView, error)
	MarkSent(ctx context.Context, tx *sqlx.Tx, id string, sentAt time.Time) error
	MarkSkipped(ctx context.Context, tx *sqlx.Tx, id string) error
	// Revive rewrites a previously skipped event in place (manual
	// retry path) so the step keeps at most one non-skipped row.
	Revive(ctx context.Context, tx *sqlx.Tx, id string, status model.EventStatus, channel model.Channel, content string, scheduledAt time.Time) error
	// CancelInFlight marks every scheduled/pending_review/snoozed
	// event of the estimate as skipped. Returns rows affected.
	CancelInFlight(ctx context.Context, tx *sqlx.Tx, estimateID int64) (int64, error)
}

type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

var _ EventsRepository = (*EventsRepositoryImpl)(nil)

func (r *EventsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *EventsRepositoryImpl) GetForStep(ctx context.Context, estimateID int64, stepIndex int) (*model.FollowUpEvent, error) {
	var ev model.FollowUpEvent
	err := r.db.GetContext(ctx, &ev, `
		SELECT id, estimate_id, sequence_step_index, channel, status, content,
		       scheduled_at, sent_at, created_at, updated_at
		  FROM follow_up_events
		 WHERE estimate_id = ? AND sequence_step_index = ?
		 ORDER BY created_at DESC
		 LIMIT 1
	`, estimateID, stepIndex)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *EventsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev model.FollowUpEvent) error {
	const q = `
		INSERT INTO follow_up_events
		    (id, estimate_id, sequence_step_index, channel, status, content,
		     scheduled_at, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			ev.ID, ev.EstimateID, ev.SequenceStepIndex, ev.Channel.String(),
			ev.Status.String(), ev.Content, ev.ScheduledAt,
		)
		return err
	})
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDupEntry {
		return ErrDuplicateStep
	}
	return err
}

const dueViewSelect = `
	SELECT ev.id                  AS event_id,
	       ev.estimate_id         AS estimate_id,
	       ev.sequence_step_index AS step_index,
	       ev.channel             AS channel,
	       ev.content             AS content,
	       ev.scheduled_at        AS scheduled_at,
	       ev.status              AS event_status,
	       e.status               AS estimate_status,
	       e.sequence_step_index  AS estimate_step_index,
	       COALESCE(s.is_active, 0) AS sequence_active,
	       (SELECT COUNT(*) FROM sequence_steps ss WHERE ss.sequence_id = e.sequence_id) AS step_count,
	       c.id                   AS customer_id,
	       c.email                AS customer_email,
	       c.phone                AS customer_phone
	  FROM follow_up_events ev
	  JOIN estimates e ON e.id = ev.estimate_id
	  JOIN customers c ON c.id = e.customer_id
	  LEFT JOIN follow_up_sequences s ON s.id = e.sequence_id
`

func (r *EventsRepositoryImpl) ListDue(ctx context.Context, now time.Time) ([]DueEventView, error) {
	var rows []DueEventView
	q := dueViewSelect + `
		 WHERE ev.status = 'pending_review' AND ev.scheduled_at <= ?
		 ORDER BY ev.scheduled_at`
	if err := r.db.SelectContext(ctx, &rows, q, now); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EventsRepositoryImpl) MarkSent(ctx context.Context, tx *sqlx.Tx, id string, sentAt time.Time) error {
	const q = `
		UPDATE follow_up_events
		   SET status = 'sent', sent_at = ?, updated_at = NOW()
		 WHERE id = ? AND status = 'pending_review'
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, sentAt, id)
		return err
	})
}

func (r *EventsRepositoryImpl) MarkSkipped(ctx context.Context, tx *sqlx.Tx, id string) error {
	const q = `
		UPDATE follow_up_events
		   SET status = 'skipped', updated_at = NOW()
		 WHERE id = ? AND status NOT IN ('sent','completed')
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id)
		return err
	})
}

func (r *EventsRepositoryImpl) Revive(ctx context.Context, tx *sqlx.Tx, id string, status model.EventStatus, channel model.Channel, content string, scheduledAt time.Time) error {
	const q = `
		UPDATE follow_up_events
		   SET status = ?, channel = ?, content = ?, scheduled_at = ?, updated_at = NOW()
		 WHERE id = ? AND status = 'skipped'
	`
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, status.String(), channel.String(), content, scheduledAt, id)
		return err
	})
	// Un-skipping restores the row's active_step, so the one-per-step
	// unique key can fire here the same as on insert.
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDupEntry {
		return ErrDuplicateStep
	}
	return err
}

func (r *EventsRepositoryImpl) CancelInFlight(ctx context.Context, tx *sqlx.Tx, estimateID int64) (int64, error) {
	const q = `
		UPDATE follow_up_events
		   SET status = 'skipped', updated_at = NOW()
		 WHERE estimate_id = ? AND status IN ('scheduled','pending_review','snoozed')
	`
	var n int64
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, estimateID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
