package model

import "time"

type OptionStatus string

const (
	OptionPending  OptionStatus = "pending"
	OptionApproved OptionStatus = "approved"
	OptionDeclined OptionStatus = "declined"
)

func (s OptionStatus) String() string { return string(s) }

func (s OptionStatus) Valid() bool {
	return s == OptionPending || s == OptionApproved || s == OptionDeclined
}

// EstimateOption is one of several mutually-exclusive priced
// alternatives presented within a single estimate. ExternalOptionID is
// the field-service platform's id, needed for cross-system declines.
type EstimateOption struct {
	ID               int64        `db:"id"`
	EstimateID       int64        `db:"estimate_id"`
	ExternalOptionID string       `db:"external_option_id"`
	Status           OptionStatus `db:"status"`
	Amount           int64        `db:"amount"` // cents
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}
