package repository

import (
	"context"
	"database/sql"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type SequencesRepository interface {
	GetByID(ctx context.Context, id int64) (*model.FollowUpSequence, error)
	// ListSteps returns the sequence's steps ordered by position.
	ListSteps(ctx context.Context, sequenceID int64) ([]model.SequenceStep, error)
}

type SequencesRepositoryImpl struct {
	db *sqlx.DB
}

func NewSequencesRepository(db *sqlx.DB) *SequencesRepositoryImpl {
	return &SequencesRepositoryImpl{db: db}
}

var _ SequencesRepository = (*SequencesRepositoryImpl)(nil)

func (r *SequencesRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.FollowUpSequence, error) {
	var s model.FollowUpSequence
	err := r.db.GetContext(ctx, &s, `
		SELECT id, name, is_active, created_at, updated_at
		  FROM follow_up_sequences
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SequencesRepositoryImpl) ListSteps(ctx context.Context, sequenceID int64) ([]model.SequenceStep, error) {
	var steps []model.SequenceStep
	err := r.db.SelectContext(ctx, &steps, `
		SELECT id, sequence_id, position, day_offset, channel, template, is_call_task
		  FROM sequence_steps
		 WHERE sequence_id = ?
		 ORDER BY position
	`, sequenceID)
	if err != nil {
		return nil, err
	}
	return steps, nil
}
