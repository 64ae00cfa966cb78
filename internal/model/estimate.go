package model

import (
	"strings"
	"time"
)

type EstimateStatus string

const (
	EstimateSent    EstimateStatus = "sent"
	EstimateActive  EstimateStatus = "active"
	EstimateSnoozed EstimateStatus = "snoozed"
	EstimateWon     EstimateStatus = "won"
	EstimateLost    EstimateStatus = "lost"
	EstimateDormant EstimateStatus = "dormant"
)

func (s EstimateStatus) String() string { return string(s) }

func (s EstimateStatus) Valid() bool {
	switch s {
	case EstimateSent, EstimateActive, EstimateSnoozed, EstimateWon, EstimateLost, EstimateDormant:
		return true
	}
	return false
}

// Terminal reports whether no further automation may mutate the estimate.
func (s EstimateStatus) Terminal() bool {
	return s == EstimateWon || s == EstimateLost
}

// ParseEstimateStatus normalizes input. Returns (value, true) if valid.
func ParseEstimateStatus(s string) (EstimateStatus, bool) {
	v := EstimateStatus(strings.ToLower(strings.TrimSpace(s)))
	return v, v.Valid()
}

// Estimate is the DB entity persisted in the estimates table.
type Estimate struct {
	ID                 int64          `db:"id"`
	Number             string         `db:"number"`
	ExternalEstimateID *string        `db:"external_estimate_id"`
	CustomerID         int64          `db:"customer_id"`
	AssignedUserID     *int64         `db:"assigned_user_id"`
	Status             EstimateStatus `db:"status"`
	SequenceID         *int64         `db:"sequence_id"`
	SequenceStepIndex  int            `db:"sequence_step_index"`
	SentDate           *time.Time     `db:"sent_date"`
	AutoDeclineDate    *time.Time     `db:"auto_decline_date"`
	SnoozeUntil        *time.Time     `db:"snooze_until"`
	ProposalURL        string         `db:"proposal_url"`
	TotalAmount        int64          `db:"total_amount"` // cents
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}
