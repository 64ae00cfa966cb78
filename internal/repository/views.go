package repository

import (
	"time"

	"github.com/estimatehq/followup-engine/internal/model"
)

// ScheduledEstimateView carries exactly the fields the sequence
// scheduler needs, constructed once at the data-access boundary.
type ScheduledEstimateView struct {
	EstimateID        int64                `db:"estimate_id"`
	Number            string               `db:"number"`
	Status            model.EstimateStatus `db:"status"`
	SequenceID        int64                `db:"sequence_id"`
	SequenceStepIndex int                  `db:"sequence_step_index"`
	SentDate          time.Time            `db:"sent_date"`
	SnoozeUntil       *time.Time           `db:"snooze_until"`
	ProposalURL       string               `db:"proposal_url"`
	CustomerID        int64                `db:"customer_id"`
	CustomerName      string               `db:"customer_name"`
	CustomerEmail     *string              `db:"customer_email"`
	CustomerPhone     *string              `db:"customer_phone"`
	AssignedUserID    *int64               `db:"assigned_user_id"`
	AssignedUserName  *string              `db:"assigned_user_name"`
	SequenceActive    bool                 `db:"sequence_active"`
}

// DueEventView is a pending-review event joined with the estimate and
// customer state the step executor must re-validate before dispatch.
type DueEventView struct {
	EventID           string               `db:"event_id"`
	EstimateID        int64                `db:"estimate_id"`
	StepIndex         int                  `db:"step_index"`
	Channel           model.Channel        `db:"channel"`
	Content           string               `db:"content"`
	ScheduledAt       time.Time            `db:"scheduled_at"`
	EventStatus       model.EventStatus    `db:"event_status"`
	EstimateStatus    model.EstimateStatus `db:"estimate_status"`
	EstimateStepIndex int                  `db:"estimate_step_index"`
	SequenceActive    bool                 `db:"sequence_active"`
	StepCount         int                  `db:"step_count"`
	CustomerID        int64                `db:"customer_id"`
	CustomerEmail     *string              `db:"customer_email"`
	CustomerPhone     *string              `db:"customer_phone"`
}

// ExpiringEstimateView is what the auto-decline sweep reads: identity,
// deadline and the user to notify.
type ExpiringEstimateView struct {
	EstimateID      int64                `db:"estimate_id"`
	Number          string               `db:"number"`
	Status          model.EstimateStatus `db:"status"`
	AutoDeclineDate time.Time            `db:"auto_decline_date"`
	AssignedUserID  *int64               `db:"assigned_user_id"`
}
