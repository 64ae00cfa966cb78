package model

import "time"

type EventStatus string

const (
	EventScheduled     EventStatus = "scheduled"
	EventPendingReview EventStatus = "pending_review"
	EventSent          EventStatus = "sent"
	EventOpened        EventStatus = "opened"
	EventClicked       EventStatus = "clicked"
	EventCompleted     EventStatus = "completed"
	EventSkipped       EventStatus = "skipped"
	EventSnoozed       EventStatus = "snoozed"
)

func (s EventStatus) String() string { return string(s) }

func (s EventStatus) Valid() bool {
	switch s {
	case EventScheduled, EventPendingReview, EventSent, EventOpened,
		EventClicked, EventCompleted, EventSkipped, EventSnoozed:
		return true
	}
	return false
}

// InFlight reports whether the event still awaits action and must be
// cancelled when its estimate resolves to won or lost.
func (s EventStatus) InFlight() bool {
	return s == EventScheduled || s == EventPendingReview || s == EventSnoozed
}

// FollowUpEvent is one attempt row per (estimate, sequence_step_index).
// At most one non-skipped event may exist per pair; a skipped event may
// be superseded in place by a later manual retry.
//
// Content is the fully-rendered message captured at schedule time, so
// later template edits never change sent history.
type FollowUpEvent struct {
	ID                string      `db:"id"` // ULID
	EstimateID        int64       `db:"estimate_id"`
	SequenceStepIndex int         `db:"sequence_step_index"`
	Channel           Channel     `db:"channel"`
	Status            EventStatus `db:"status"`
	Content           string      `db:"content"`
	ScheduledAt       time.Time   `db:"scheduled_at"`
	SentAt            *time.Time  `db:"sent_at"`
	CreatedAt         time.Time   `db:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"`
}
