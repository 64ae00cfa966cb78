package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The full status domain, including the engagement states written back
// by delivery webhooks. The follow_up_events ENUM must admit each of
// these.
func TestEventStatusDomain(t *testing.T) {
	all := []EventStatus{
		EventScheduled, EventPendingReview, EventSent, EventOpened,
		EventClicked, EventCompleted, EventSkipped, EventSnoozed,
	}
	for _, s := range all {
		assert.True(t, s.Valid(), "status %q", s)
	}
	assert.False(t, EventStatus("bounced").Valid())
}

func TestEventStatusInFlight(t *testing.T) {
	assert.True(t, EventScheduled.InFlight())
	assert.True(t, EventPendingReview.InFlight())
	assert.True(t, EventSnoozed.InFlight())

	// Engagement and terminal states are past the point of cancelling.
	for _, s := range []EventStatus{EventSent, EventOpened, EventClicked, EventCompleted, EventSkipped} {
		assert.False(t, s.InFlight(), "status %q", s)
	}
}
