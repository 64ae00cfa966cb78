package repository

import (
	"context"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

// HistoryRepository appends and lists dispatched messages in
// ClickHouse for per-estimate conversation threading.
type HistoryRepository interface {
	Append(ctx context.Context, e model.HistoryEntry) error
	ListByEstimate(ctx context.Context, estimateID int64, limit, offset int) ([]model.HistoryEntry, error)
}

type historyRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewHistoryRepository(ch *sqlx.DB) HistoryRepository {
	return &historyRepository{ch: ch}
}

func (r *historyRepository) Append(ctx context.Context, e model.HistoryEntry) error {
	const q = `
		INSERT INTO followup.message_history
		    (id, estimate_id, customer_id, channel, recipient, body, provider_message_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		e.ID, e.EstimateID, e.CustomerID, e.Channel.String(),
		e.Recipient, e.Body, e.ProviderMessageID, e.SentAt,
	)
	return err
}

func (r *historyRepository) ListByEstimate(ctx context.Context, estimateID int64, limit, offset int) ([]model.HistoryEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows []model.HistoryEntry
	err := r.ch.SelectContext(ctx, &rows, `
		SELECT id, estimate_id, customer_id, channel, recipient, body, provider_message_id, sent_at
		  FROM followup.message_history
		 WHERE estimate_id = ?
		 ORDER BY sent_at DESC
		 LIMIT ? OFFSET ?
	`, estimateID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
