package engine

import (
	"context"
	"testing"
	"time"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func i64p(i int64) *int64   { return &i }

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func scheduledView(id int64, stepIndex int, sentDaysAgo int) *repository.ScheduledEstimateView {
	return &repository.ScheduledEstimateView{
		EstimateID:        id,
		Number:            "EST-100",
		Status:            model.EstimateActive,
		SequenceID:        1,
		SequenceStepIndex: stepIndex,
		SentDate:          testNow.AddDate(0, 0, -sentDaysAgo),
		ProposalURL:       "https://p.example/100",
		CustomerID:        7,
		CustomerName:      "Acme Roofing",
		CustomerEmail:     strp("ops@acme.test"),
		CustomerPhone:     strp("+15550100001"),
		AssignedUserID:    i64p(42),
		AssignedUserName:  strp("Dana"),
		SequenceActive:    true,
	}
}

func standardSteps() []model.SequenceStep {
	return []model.SequenceStep{
		{SequenceID: 1, Position: 0, DayOffset: 2, Channel: model.ChannelSMS, Template: "Hi {customer_name}: {proposal_link}"},
		{SequenceID: 1, Position: 1, DayOffset: 5, Channel: model.ChannelEmail, Template: "Following up, {customer_name}"},
		{SequenceID: 1, Position: 2, DayOffset: 9, Channel: model.ChannelCall, IsCallTask: true, Template: "Call {customer_name}"},
	}
}

func newTestScheduler(estimates *fakeEstimates, sequences *fakeSequences, events *fakeEvents, notifier *fakeNotifier) *Scheduler {
	return NewScheduler(estimates, sequences, events, notifier, 30*time.Minute, testLog).
		WithClock(func() time.Time { return testNow })
}

func TestSchedulerCreatesPendingReviewEvent(t *testing.T) {
	estimates := newFakeEstimates()
	estimates.views[1] = scheduledView(1, 0, 3) // day-2 sms step is due

	sequences := newFakeSequences()
	sequences.steps[1] = standardSteps()

	events := newFakeEvents()
	notifier := newFakeNotifier()

	sum, err := newTestScheduler(estimates, sequences, events, notifier).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Scheduled)
	assert.Zero(t, sum.Errors)

	ev, err := events.GetForStep(context.Background(), 1, 0)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventPendingReview, ev.Status)
	assert.Equal(t, model.ChannelSMS, ev.Channel)
	assert.Equal(t, "Hi Acme Roofing: https://p.example/100", ev.Content)
	assert.Equal(t, testNow.Add(30*time.Minute), ev.ScheduledAt)

	// The step index only advances once the message actually goes out.
	assert.Equal(t, 0, estimates.views[1].SequenceStepIndex)
}

func TestSchedulerStepNotDueYet(t *testing.T) {
	estimates := newFakeEstimates()
	estimates.views[1] = scheduledView(1, 0, 1) // sent yesterday, day-2 step not due

	sequences := newFakeSequences()
	sequences.steps[1] = standardSteps()

	events := newFakeEvents()

	sum, err := newTestScheduler(estimates, sequences, events, newFakeNotifier()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Scheduled)
	assert.Equal(t, 1, sum.Skipped)

	ev, _ := events.GetForStep(context.Background(), 1, 0)
	assert.Nil(t, ev)
}

func TestSchedulerIdempotentPerStep(t *testing.T) {
	estimates := newFakeEstimates()
	estimates.views[1] = scheduledView(1, 0, 3)

	sequences := newFakeSequences()
	sequences.steps[1] = standardSteps()

	events := newFakeEvents()
	notifier := newFakeNotifier()
	sch := newTestScheduler(estimates, sequences, events, notifier)

	sum1, err := sch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum1.Scheduled)

	// A second sweep finds the existing event and does nothing.
	sum2, err := sch.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum2.Scheduled)
	assert.Equal(t, 1, sum2.Skipped)
	assert.Len(t, events.byID, 1)
}

func TestSchedulerDuplicateInsertIsNoOp(t *testing.T) {
	estimates := newFakeEstimates()
	estimates.views[1] = scheduledView(1, 0, 3)

	sequences := newFakeSequences()
	sequences.steps[1] = standardSteps()

	events := newFakeEvents()
	events.insertErr = repository.ErrDuplicateStep

	sum, err := newTestScheduler(estimates, sequences, events, newFakeNotifier()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Scheduled)
	assert.Zero(t, sum.Errors)
	assert.Equal(t, 1, sum.Skipped)
}

func TestSchedulerCallTaskAdvancesImmediately(t *testing.T) {
	estimates := newFakeEstimates()
	estimates.views[1] = scheduledView(1, 2, 10) // at the day-9 call step

	sequences := newFakeSequences()
	sequences.steps[1] = standardSteps()

	events := newFakeEvents()
	notifier := newFakeNotifier()

	sum, err := newTestScheduler(estimates, sequences, events, notifier).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Scheduled)

	ev, err := events.GetForStep(context.Background(), 1, 2)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventScheduled, ev.Status)
	assert.Equal(t, model.ChannelCall, ev.Channel)

	// Call tasks are delivered the moment they land on the task list.
	assert.Equal(t, 3, estimates.views[1].SequenceStepIndex)

	notices := notifier.byType(model.NotificationCallTask)
	require.Len(t, notices, 1)
	assert.Equal(t, int64(42), notices[0].UserID)
	assert.Equal(t, int64(1), notices[0].EstimateID)
}

func TestSchedulerPausedSequenceSkipped(t *testing.T) {
	estimates := newFakeEstimates()
	v := scheduledView(1, 0, 3)
	v.SequenceActive = false
	estimates.views[1] = v

	sequences := newFakeSequences()
	sequences.steps[1] = standardSteps()

	events := newFakeEvents()

	sum, err := newTestScheduler(estimates, sequences, events, newFakeNotifier()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Scheduled)
	assert.Len(t, events.byID, 0)
}

func TestSchedulerSequenceComplete(t *testing.T) {
	estimates := newFakeEstimates()
	estimates.views[1] = scheduledView(1, 3, 20) // past the last step

	sequences := newFakeSequences()
	sequences.steps[1] = standardSteps()

	events := newFakeEvents()

	sum, err := newTestScheduler(estimates, sequences, events, newFakeNotifier()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Scheduled)
	assert.Len(t, events.byID, 0)
}
