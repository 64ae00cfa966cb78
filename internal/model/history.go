package model

import "time"

// HistoryEntry is one dispatched message, appended to ClickHouse for
// conversation threading per estimate/customer.
type HistoryEntry struct {
	ID                string    `db:"id"` // follow-up event ULID
	EstimateID        int64     `db:"estimate_id"`
	CustomerID        int64     `db:"customer_id"`
	Channel           Channel   `db:"channel"`
	Recipient         string    `db:"recipient"`
	Body              string    `db:"body"`
	ProviderMessageID string    `db:"provider_message_id"`
	SentAt            time.Time `db:"sent_at"`
}
