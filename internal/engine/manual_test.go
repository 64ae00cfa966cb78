package engine

import (
	"context"
	"testing"
	"time"

	"github.com/estimatehq/followup-engine/internal/claim"
	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualFixture struct {
	estimates *fakeEstimates
	sequences *fakeSequences
	events    *fakeEvents
	gateway   *fakeGateway
	history   *fakeHistory
	claims    *fakeLocker
	notifier  *fakeNotifier
	manual    *Manual
}

func newManualFixture() *manualFixture {
	f := &manualFixture{
		estimates: newFakeEstimates(),
		sequences: newFakeSequences(),
		events:    newFakeEvents(),
		gateway:   &fakeGateway{},
		history:   &fakeHistory{},
		claims:    newFakeLocker(),
		notifier:  newFakeNotifier(),
	}
	f.sequences.steps[1] = standardSteps()
	f.manual = NewManual(f.estimates, f.sequences, f.events, f.gateway, f.history, f.claims, f.notifier, testLog).
		WithClock(func() time.Time { return testNow })
	return f
}

// enroll stages estimate 1 at the given step, sent sentDaysAgo days
// ago, in both the view and entity forms the engine reads.
func (f *manualFixture) enroll(stepIndex, sentDaysAgo int) {
	f.estimates.views[1] = scheduledView(1, stepIndex, sentDaysAgo)
	seqID := int64(1)
	sent := testNow.AddDate(0, 0, -sentDaysAgo)
	f.estimates.byID[1] = &model.Estimate{
		ID:                1,
		Number:            "EST-100",
		Status:            model.EstimateActive,
		SequenceID:        &seqID,
		SequenceStepIndex: stepIndex,
		SentDate:          &sent,
	}
}

func TestManualSendNextDispatchesDueStep(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 3)

	res, err := f.manual.SendNext(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.StepIndex)
	assert.Equal(t, model.ChannelSMS, res.Channel)
	assert.Equal(t, "sent", res.Status)

	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, "+15550100001", f.gateway.sent[0].To)

	ev := f.events.byID[res.EventID]
	require.NotNil(t, ev)
	assert.Equal(t, model.EventSent, ev.Status)
	assert.Equal(t, 1, f.estimates.byID[1].SequenceStepIndex)

	require.Len(t, f.history.entries, 1)
	assert.Equal(t, res.EventID, f.history.entries[0].ID)
}

func TestManualSendNextRefusesUndueStep(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 1) // day-2 step, only one day in

	_, err := f.manual.SendNext(context.Background(), 1)
	require.ErrorIs(t, err, ErrStepNotDue)
	assert.Empty(t, f.gateway.sent)
}

func TestManualExecuteStepBypassesDueCheck(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 1)

	// The explicit execute endpoint trusts the human trigger.
	res, err := f.manual.ExecuteStep(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "sent", res.Status)
	require.Len(t, f.gateway.sent, 1)
}

func TestManualExecuteStepOutOfRange(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 3)

	_, err := f.manual.ExecuteStep(context.Background(), 1, 9)
	require.ErrorIs(t, err, ErrStepOutOfRange)
}

func TestManualStepAlreadyHandled(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 3)
	f.events.byID["ev1"] = &model.FollowUpEvent{
		ID: "ev1", EstimateID: 1, SequenceStepIndex: 0,
		Channel: model.ChannelSMS, Status: model.EventSent,
	}

	_, err := f.manual.ExecuteStep(context.Background(), 1, 0)
	require.ErrorIs(t, err, ErrStepHandled)
	assert.Empty(t, f.gateway.sent)
}

func TestManualRevivesSkippedEventInPlace(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 3)
	f.events.byID["ev1"] = &model.FollowUpEvent{
		ID: "ev1", EstimateID: 1, SequenceStepIndex: 0,
		Channel: model.ChannelSMS, Status: model.EventSkipped,
	}

	res, err := f.manual.ExecuteStep(context.Background(), 1, 0)
	require.NoError(t, err)

	// Same row, not a duplicate: the step keeps one non-skipped event.
	assert.Equal(t, "ev1", res.EventID)
	assert.Len(t, f.events.byID, 1)
	assert.Equal(t, model.EventSent, f.events.byID["ev1"].Status)
}

func TestManualReviveOfContestedStepIsHandled(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 3)
	// A skipped event and a later non-skipped one share the step, so
	// reviving the skipped row would violate the one-per-step key.
	f.events.byID["ev1"] = &model.FollowUpEvent{
		ID: "ev1", EstimateID: 1, SequenceStepIndex: 0,
		Channel: model.ChannelSMS, Status: model.EventSkipped,
	}
	f.events.byID["ev2"] = &model.FollowUpEvent{
		ID: "ev2", EstimateID: 1, SequenceStepIndex: 0,
		Channel: model.ChannelSMS, Status: model.EventSent,
	}

	_, err := f.manual.ExecuteStep(context.Background(), 1, 0)
	require.ErrorIs(t, err, ErrStepHandled)
	assert.Equal(t, model.EventSkipped, f.events.byID["ev1"].Status)
	assert.Empty(t, f.gateway.sent)
}

func TestManualMissingContact(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 3)
	f.estimates.views[1].CustomerPhone = nil

	_, err := f.manual.SendNext(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoPhone)

	f.enroll(1, 6) // email step
	f.estimates.views[1].CustomerEmail = nil
	_, err = f.manual.SendNext(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoEmail)
}

func TestManualLoadErrors(t *testing.T) {
	f := newManualFixture()

	_, err := f.manual.SendNext(context.Background(), 99)
	require.ErrorIs(t, err, ErrEstimateNotFound)

	// Known but never enrolled: entity exists, view does not.
	f.estimates.byID[2] = &model.Estimate{ID: 2, Status: model.EstimateActive}
	_, err = f.manual.SendNext(context.Background(), 2)
	require.ErrorIs(t, err, ErrNotEnrolled)

	f.estimates.byID[3] = &model.Estimate{ID: 3, Status: model.EstimateWon}
	_, err = f.manual.SendNext(context.Background(), 3)
	require.ErrorIs(t, err, ErrEstimateResolved)

	f.enroll(0, 3)
	f.estimates.views[1].Status = model.EstimateSnoozed
	f.estimates.byID[1].Status = model.EstimateSnoozed
	_, err = f.manual.SendNext(context.Background(), 1)
	require.ErrorIs(t, err, ErrEstimateInactive)

	f.enroll(0, 3)
	f.estimates.views[1].SequenceActive = false
	_, err = f.manual.SendNext(context.Background(), 1)
	require.ErrorIs(t, err, ErrSequencePaused)

	f.enroll(3, 20)
	_, err = f.manual.SendNext(context.Background(), 1)
	require.ErrorIs(t, err, ErrSequenceComplete)
}

func TestManualBusyWhenStepClaimed(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 3)
	f.claims.held[claim.StepKey(1, 0)] = true // periodic executor owns the step

	_, err := f.manual.SendNext(context.Background(), 1)
	require.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, f.gateway.sent)
}

func TestManualGatewayFailureLeavesEventStaged(t *testing.T) {
	f := newManualFixture()
	f.enroll(0, 3)
	f.gateway.err = errBoom

	_, err := f.manual.SendNext(context.Background(), 1)
	require.Error(t, err)

	// The staged event survives; the periodic executor retries it.
	ev, lookupErr := f.events.GetForStep(context.Background(), 1, 0)
	require.NoError(t, lookupErr)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventPendingReview, ev.Status)
	assert.Equal(t, 0, f.estimates.byID[1].SequenceStepIndex)
}

func TestManualExecutesCallTask(t *testing.T) {
	f := newManualFixture()
	f.enroll(2, 10)

	res, err := f.manual.SendNext(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "scheduled", res.Status)
	assert.Equal(t, model.ChannelCall, res.Channel)
	assert.Empty(t, f.gateway.sent)
	assert.Equal(t, 3, f.estimates.byID[1].SequenceStepIndex)

	require.Len(t, f.notifier.byType(model.NotificationCallTask), 1)
}
