package repository

import (
	"context"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type OptionsRepository interface {
	ListByEstimate(ctx context.Context, estimateID int64) ([]model.EstimateOption, error)
	ListPending(ctx context.Context, estimateID int64) ([]model.EstimateOption, error)
	Insert(ctx context.Context, tx *sqlx.Tx, opt model.EstimateOption) error
	SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.OptionStatus) error
	SetStatusBatch(ctx context.Context, tx *sqlx.Tx, ids []int64, status model.OptionStatus) error
}

type OptionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewOptionsRepository(db *sqlx.DB) *OptionsRepositoryImpl {
	return &OptionsRepositoryImpl{db: db}
}

var _ OptionsRepository = (*OptionsRepositoryImpl)(nil)

func (r *OptionsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

const optionColumns = `id, estimate_id, external_option_id, status, amount, created_at, updated_at`

func (r *OptionsRepositoryImpl) ListByEstimate(ctx context.Context, estimateID int64) ([]model.EstimateOption, error) {
	var rows []model.EstimateOption
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+optionColumns+` FROM estimate_options WHERE estimate_id = ? ORDER BY id
	`, estimateID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OptionsRepositoryImpl) ListPending(ctx context.Context, estimateID int64) ([]model.EstimateOption, error) {
	var rows []model.EstimateOption
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+optionColumns+` FROM estimate_options
		 WHERE estimate_id = ? AND status = 'pending' ORDER BY id
	`, estimateID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OptionsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, opt model.EstimateOption) error {
	const q = `
		INSERT INTO estimate_options
		    (estimate_id, external_option_id, status, amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			opt.EstimateID, opt.ExternalOptionID, opt.Status.String(), opt.Amount,
		)
		return err
	})
}

func (r *OptionsRepositoryImpl) SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.OptionStatus) error {
	const q = `UPDATE estimate_options SET status = ?, updated_at = NOW() WHERE id = ?`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, status.String(), id)
		return err
	})
}

func (r *OptionsRepositoryImpl) SetStatusBatch(ctx context.Context, tx *sqlx.Tx, ids []int64, status model.OptionStatus) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE estimate_options SET status = ?, updated_at = NOW() WHERE id IN (?)`,
		status.String(), ids,
	)
	if err != nil {
		return err
	}
	query = r.db.Rebind(query)

	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}
