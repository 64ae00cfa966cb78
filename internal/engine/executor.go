package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/estimatehq/followup-engine/internal/claim"
	"github.com/estimatehq/followup-engine/internal/gateway"
	"github.com/estimatehq/followup-engine/internal/metrics"
	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/repository"
	"go.uber.org/zap"
)

// Executor is the second phase of the followups job: it dispatches
// pending-review events whose review window has elapsed. The event row
// is the durable record of intent, so a crash or gateway failure just
// leaves it pending for the next run.
type Executor struct {
	estimates repository.EstimatesRepository
	events    repository.EventsRepository
	gateway   gateway.Gateway
	history   repository.HistoryRepository
	claims    claim.Locker

	now Clock
	log *zap.Logger
}

func NewExecutor(
	estimates repository.EstimatesRepository,
	events repository.EventsRepository,
	gw gateway.Gateway,
	history repository.HistoryRepository,
	claims claim.Locker,
	log *zap.Logger,
) *Executor {
	return &Executor{
		estimates: estimates,
		events:    events,
		gateway:   gw,
		history:   history,
		claims:    claims,
		now:       time.Now,
		log:       log,
	}
}

// WithClock overrides the executor's clock.
func (x *Executor) WithClock(c Clock) *Executor { x.now = c; return x }

func (x *Executor) Run(ctx context.Context) (FollowUpSummary, error) {
	var sum FollowUpSummary

	now := x.now()
	due, err := x.events.ListDue(ctx, now)
	if err != nil {
		return sum, fmt.Errorf("list due events: %w", err)
	}

	for _, v := range due {
		outcome, err := x.processOne(ctx, v, now)
		if err != nil {
			sum.Errors++
			metrics.JobErrorsTotal.WithLabelValues("followups").Inc()
			x.log.Error("execute step failed",
				zap.String("event_id", v.EventID),
				zap.Int64("estimate_id", v.EstimateID),
				zap.Error(err))
			continue
		}
		switch outcome {
		case outcomeSent:
			sum.Sent++
		case outcomeSkipped:
			sum.Skipped++
		}
	}

	return sum, nil
}

type execOutcome int

const (
	outcomeNone execOutcome = iota
	outcomeSent
	outcomeSkipped
)

func (x *Executor) processOne(ctx context.Context, v repository.DueEventView, now time.Time) (execOutcome, error) {
	// Terminal estimates are untouchable; reconciliation should have
	// cancelled their events already, and if it has not yet, it will.
	if v.EstimateStatus.Terminal() {
		return outcomeNone, nil
	}

	// Claim the (estimate, step), not the event id: a manual send for
	// the same step must contend on the same key.
	claimKey := claim.StepKey(v.EstimateID, v.StepIndex)
	ok, err := x.claims.Acquire(ctx, claimKey)
	if err != nil {
		return outcomeNone, fmt.Errorf("acquire claim: %w", err)
	}
	if !ok {
		// Another writer (manual send) owns the step right now.
		return outcomeNone, nil
	}
	defer func() { _ = x.claims.Release(ctx, claimKey) }()

	// Re-validate: the sequence may have been paused or edited out
	// from under the event, or the estimate resolved, since it was
	// scheduled. Skip and advance so the estimate never gets stuck
	// behind a step that no longer exists.
	if v.EstimateStatus != model.EstimateActive || !v.SequenceActive || v.StepIndex >= v.StepCount {
		return x.skipAndAdvance(ctx, v)
	}

	to, hasContact := contactFor(v.Channel, v.CustomerEmail, v.CustomerPhone)
	if !hasContact {
		return x.skipAndAdvance(ctx, v)
	}

	providerID, err := x.gateway.Send(ctx, v.Channel, to, v.Content)
	if err != nil {
		// Leave pending_review; the next sweep retries.
		return outcomeNone, fmt.Errorf("gateway send: %w", err)
	}

	if err := x.events.MarkSent(ctx, nil, v.EventID, now); err != nil {
		return outcomeNone, fmt.Errorf("mark sent: %w", err)
	}
	if err := x.estimates.AdvanceStep(ctx, nil, v.EstimateID, v.EstimateStepIndex); err != nil &&
		!errors.Is(err, repository.ErrStaleStep) {
		return outcomeNone, fmt.Errorf("advance step: %w", err)
	}

	metrics.FollowUpEventsTotal.WithLabelValues("sent", v.Channel.String()).Inc()

	// History append is best-effort; a threading gap is not worth
	// failing a delivered send over.
	if err := x.history.Append(ctx, model.HistoryEntry{
		ID:                v.EventID,
		EstimateID:        v.EstimateID,
		CustomerID:        v.CustomerID,
		Channel:           v.Channel,
		Recipient:         to,
		Body:              v.Content,
		ProviderMessageID: providerID,
		SentAt:            now,
	}); err != nil {
		x.log.Warn("message history append failed",
			zap.String("event_id", v.EventID), zap.Error(err))
	}

	return outcomeSent, nil
}

func (x *Executor) skipAndAdvance(ctx context.Context, v repository.DueEventView) (execOutcome, error) {
	if err := x.events.MarkSkipped(ctx, nil, v.EventID); err != nil {
		return outcomeNone, fmt.Errorf("mark skipped: %w", err)
	}
	if err := x.estimates.AdvanceStep(ctx, nil, v.EstimateID, v.EstimateStepIndex); err != nil &&
		!errors.Is(err, repository.ErrStaleStep) {
		return outcomeNone, fmt.Errorf("advance step: %w", err)
	}
	metrics.FollowUpEventsTotal.WithLabelValues("skipped", v.Channel.String()).Inc()
	return outcomeSkipped, nil
}
