package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// ErrStaleStep is returned by AdvanceStep when the estimate's step
// index no longer matches the caller's expectation. The index only
// moves forward, so a stale advance is a no-op, not a retry.
var ErrStaleStep = errors.New("stale step index")

// scheduleableWhere is the sequence scheduler's candidate predicate:
// active, enrolled in a sequence, actually sent, and not snoozed.
const scheduleableWhere = `
	    e.status = 'active'
	AND e.sequence_id IS NOT NULL
	AND e.sent_date IS NOT NULL
	AND (e.snooze_until IS NULL OR e.snooze_until <= ?)
`

const scheduledViewSelect = `
	SELECT e.id                  AS estimate_id,
	       e.number              AS number,
	       e.status              AS status,
	       e.sequence_id         AS sequence_id,
	       e.sequence_step_index AS sequence_step_index,
	       e.sent_date           AS sent_date,
	       e.snooze_until        AS snooze_until,
	       e.proposal_url        AS proposal_url,
	       c.id                  AS customer_id,
	       c.name                AS customer_name,
	       c.email               AS customer_email,
	       c.phone               AS customer_phone,
	       e.assigned_user_id    AS assigned_user_id,
	       u.name                AS assigned_user_name,
	       s.is_active           AS sequence_active
	  FROM estimates e
	  JOIN customers c          ON c.id = e.customer_id
	  JOIN follow_up_sequences s ON s.id = e.sequence_id
	  LEFT JOIN users u         ON u.id = e.assigned_user_id
`

type EstimatesRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Estimate, error)
	FindByExternalRef(ctx context.Context, externalID, number string) (*model.Estimate, error)
	ListScheduleable(ctx context.Context, now time.Time) ([]ScheduledEstimateView, error)
	GetScheduledView(ctx context.Context, id int64) (*ScheduledEstimateView, error)
	ListExpired(ctx context.Context, today time.Time) ([]ExpiringEstimateView, error)
	ListExpiringSoon(ctx context.Context, today, until time.Time) ([]ExpiringEstimateView, error)
	Insert(ctx context.Context, tx *sqlx.Tx, e model.Estimate) (int64, error)
	SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.EstimateStatus) error
	AdvanceStep(ctx context.Context, tx *sqlx.Tx, id int64, fromIndex int) error
	RefreshRemoteFields(ctx context.Context, id int64, proposalURL string, totalAmount int64) error
}

type EstimatesRepositoryImpl struct {
	db *sqlx.DB
}

func NewEstimatesRepository(db *sqlx.DB) *EstimatesRepositoryImpl {
	return &EstimatesRepositoryImpl{db: db}
}

var _ EstimatesRepository = (*EstimatesRepositoryImpl)(nil)

func (r *EstimatesRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *EstimatesRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Estimate, error) {
	var e model.Estimate
	err := r.db.GetContext(ctx, &e, `SELECT * FROM estimates WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindByExternalRef matches a local estimate by external platform id OR
// by estimate number, in that order of preference.
func (r *EstimatesRepositoryImpl) FindByExternalRef(ctx context.Context, externalID, number string) (*model.Estimate, error) {
	var e model.Estimate
	err := r.db.GetContext(ctx, &e, `
		SELECT * FROM estimates
		 WHERE external_estimate_id = ? OR number = ?
		 ORDER BY (external_estimate_id = ?) DESC
		 LIMIT 1
	`, externalID, number, externalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EstimatesRepositoryImpl) ListScheduleable(ctx context.Context, now time.Time) ([]ScheduledEstimateView, error) {
	var rows []ScheduledEstimateView
	q := scheduledViewSelect + ` WHERE ` + scheduleableWhere
	if err := r.db.SelectContext(ctx, &rows, q, now); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetScheduledView loads the scheduler view for one estimate without
// the candidate predicate; the manual entry points re-apply the same
// checks in code so they can report why an action is not possible.
func (r *EstimatesRepositoryImpl) GetScheduledView(ctx context.Context, id int64) (*ScheduledEstimateView, error) {
	var v ScheduledEstimateView
	q := scheduledViewSelect + ` WHERE e.id = ? AND e.sent_date IS NOT NULL LIMIT 1`
	err := r.db.GetContext(ctx, &v, q, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

const expiringViewSelect = `
	SELECT e.id                AS estimate_id,
	       e.number            AS number,
	       e.status            AS status,
	       e.auto_decline_date AS auto_decline_date,
	       e.assigned_user_id  AS assigned_user_id
	  FROM estimates e
`

func (r *EstimatesRepositoryImpl) ListExpired(ctx context.Context, today time.Time) ([]ExpiringEstimateView, error) {
	var rows []ExpiringEstimateView
	q := expiringViewSelect + `
		 WHERE e.status IN ('active','snoozed')
		   AND e.auto_decline_date IS NOT NULL
		   AND e.auto_decline_date <= ?`
	if err := r.db.SelectContext(ctx, &rows, q, today); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EstimatesRepositoryImpl) ListExpiringSoon(ctx context.Context, today, until time.Time) ([]ExpiringEstimateView, error) {
	var rows []ExpiringEstimateView
	q := expiringViewSelect + `
		 WHERE e.status IN ('active','snoozed')
		   AND e.auto_decline_date IS NOT NULL
		   AND e.auto_decline_date > ?
		   AND e.auto_decline_date <= ?`
	if err := r.db.SelectContext(ctx, &rows, q, today, until); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *EstimatesRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.Estimate) (int64, error) {
	const q = `
		INSERT INTO estimates
		    (number, external_estimate_id, customer_id, assigned_user_id, status,
		     sequence_id, sequence_step_index, sent_date, auto_decline_date,
		     proposal_url, total_amount, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	var id int64
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			e.Number, e.ExternalEstimateID, e.CustomerID, e.AssignedUserID, e.Status.String(),
			e.SequenceID, e.SequenceStepIndex, e.SentDate, e.AutoDeclineDate,
			e.ProposalURL, e.TotalAmount,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// SetStatus transitions an estimate unless it is already terminal.
// Terminal rows are silently left alone so reconciliation stays safe to
// re-run indefinitely.
func (r *EstimatesRepositoryImpl) SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.EstimateStatus) error {
	const q = `
		UPDATE estimates
		   SET status = ?, updated_at = NOW()
		 WHERE id = ? AND status NOT IN ('won','lost')
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, status.String(), id)
		return err
	})
}

// AdvanceStep bumps sequence_step_index by one, compare-and-set on the
// expected current index. The index never moves backwards.
func (r *EstimatesRepositoryImpl) AdvanceStep(ctx context.Context, tx *sqlx.Tx, id int64, fromIndex int) error {
	const q = `
		UPDATE estimates
		   SET sequence_step_index = sequence_step_index + 1, updated_at = NOW()
		 WHERE id = ? AND sequence_step_index = ? AND status NOT IN ('won','lost')
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, id, fromIndex)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrStaleStep
		}
		return nil
	})
}

func (r *EstimatesRepositoryImpl) RefreshRemoteFields(ctx context.Context, id int64, proposalURL string, totalAmount int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE estimates
		   SET proposal_url = ?, total_amount = ?, updated_at = NOW()
		 WHERE id = ?
	`, proposalURL, totalAmount, id)
	return err
}
