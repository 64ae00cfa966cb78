package model

// Envelope is the notification payload published to Kafka by the
// outbox relay worker.
type Envelope struct {
	ID         string `json:"id"`      // notification ULID
	UserID     int64  `json:"user_id"` // assigned user
	EstimateID int64  `json:"estimate_id"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}
