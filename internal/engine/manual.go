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
	"github.com/estimatehq/followup-engine/internal/notify"
	"github.com/estimatehq/followup-engine/internal/render"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/estimatehq/followup-engine/internal/util"
	"go.uber.org/zap"
)

// Manual-action errors. A human is waiting on the response, so each
// maps to a structured body explaining why the action cannot be taken.
var (
	ErrEstimateNotFound = errors.New("estimate not found")
	ErrNotEnrolled      = errors.New("estimate has no sequence or was never sent")
	ErrEstimateResolved = errors.New("estimate already resolved")
	ErrEstimateInactive = errors.New("estimate is not active")
	ErrSequencePaused   = errors.New("sequence is paused")
	ErrSequenceComplete = errors.New("sequence already complete")
	ErrStepOutOfRange   = errors.New("step index out of range")
	ErrStepNotDue       = errors.New("step is not due yet")
	ErrStepHandled      = errors.New("step already scheduled or sent")
	ErrNoEmail          = errors.New("no customer email on file")
	ErrNoPhone          = errors.New("no customer phone on file")
	ErrBusy             = errors.New("step is being processed by another sender")
)

// Manual serves the two user-triggered operations: "execute a specific
// step now" and "send the next due step now". Both reuse the
// scheduler's step-due and idempotency checks and the executor's
// dispatch path, because they write the same rows the periodic job
// touches.
type Manual struct {
	estimates repository.EstimatesRepository
	sequences repository.SequencesRepository
	events    repository.EventsRepository
	gateway   gateway.Gateway
	history   repository.HistoryRepository
	claims    claim.Locker
	notifier  notify.Notifier

	now Clock
	log *zap.Logger
}

func NewManual(
	estimates repository.EstimatesRepository,
	sequences repository.SequencesRepository,
	events repository.EventsRepository,
	gw gateway.Gateway,
	history repository.HistoryRepository,
	claims claim.Locker,
	notifier notify.Notifier,
	log *zap.Logger,
) *Manual {
	return &Manual{
		estimates: estimates,
		sequences: sequences,
		events:    events,
		gateway:   gw,
		history:   history,
		claims:    claims,
		notifier:  notifier,
		now:       time.Now,
		log:       log,
	}
}

// WithClock overrides the clock.
func (m *Manual) WithClock(c Clock) *Manual { m.now = c; return m }

// StepResult describes what a manual action did.
type StepResult struct {
	EventID   string        `json:"event_id"`
	StepIndex int           `json:"step_index"`
	Channel   model.Channel `json:"channel"`
	Status    string        `json:"status"` // sent | scheduled
}

// SendNext executes the estimate's next step, but only if it is due.
func (m *Manual) SendNext(ctx context.Context, estimateID int64) (*StepResult, error) {
	v, steps, err := m.load(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	if v.SequenceStepIndex >= len(steps) {
		return nil, ErrSequenceComplete
	}
	if !stepDue(v.SentDate, steps[v.SequenceStepIndex], m.now()) {
		return nil, ErrStepNotDue
	}
	return m.execute(ctx, v, steps, v.SequenceStepIndex)
}

// ExecuteStep executes the given step immediately, due or not: the
// human trigger is the review. A previously skipped event for the step
// is revived in place rather than duplicated.
func (m *Manual) ExecuteStep(ctx context.Context, estimateID int64, stepIndex int) (*StepResult, error) {
	v, steps, err := m.load(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	if stepIndex < 0 || stepIndex >= len(steps) {
		return nil, ErrStepOutOfRange
	}
	return m.execute(ctx, v, steps, stepIndex)
}

func (m *Manual) load(ctx context.Context, estimateID int64) (*repository.ScheduledEstimateView, []model.SequenceStep, error) {
	v, err := m.estimates.GetScheduledView(ctx, estimateID)
	if err != nil {
		return nil, nil, fmt.Errorf("load estimate view: %w", err)
	}
	if v == nil {
		// Either unknown, or enrolled in no sequence / never sent; the
		// view query joins through the sequence, so distinguish via a
		// direct lookup.
		e, err := m.estimates.GetByID(ctx, estimateID)
		if err != nil {
			return nil, nil, fmt.Errorf("load estimate: %w", err)
		}
		if e == nil {
			return nil, nil, ErrEstimateNotFound
		}
		if e.Status.Terminal() {
			return nil, nil, ErrEstimateResolved
		}
		return nil, nil, ErrNotEnrolled
	}
	if v.Status.Terminal() {
		return nil, nil, ErrEstimateResolved
	}
	if v.Status != model.EstimateActive {
		return nil, nil, ErrEstimateInactive
	}
	if !v.SequenceActive {
		return nil, nil, ErrSequencePaused
	}

	steps, err := m.sequences.ListSteps(ctx, v.SequenceID)
	if err != nil {
		return nil, nil, fmt.Errorf("list steps: %w", err)
	}
	return v, steps, nil
}

func (m *Manual) execute(ctx context.Context, v *repository.ScheduledEstimateView, steps []model.SequenceStep, stepIndex int) (*StepResult, error) {
	step := steps[stepIndex]
	now := m.now()
	content := render.Render(step.Template, renderValues(*v))

	// Same idempotency rule as the scheduler: at most one non-skipped
	// event per step. Skipped events are fair game for a retry.
	existing, err := m.events.GetForStep(ctx, v.EstimateID, stepIndex)
	if err != nil {
		return nil, fmt.Errorf("lookup existing event: %w", err)
	}
	if existing != nil && existing.Status != model.EventSkipped {
		return nil, ErrStepHandled
	}

	if step.IsCallTask || step.Channel == model.ChannelCall {
		return m.executeCallTask(ctx, v, stepIndex, content, now, existing)
	}

	to, hasContact := contactFor(step.Channel, v.CustomerEmail, v.CustomerPhone)
	if !hasContact {
		if step.Channel == model.ChannelEmail {
			return nil, ErrNoEmail
		}
		return nil, ErrNoPhone
	}

	// Claim the step so the periodic executor cannot dispatch the same
	// event concurrently.
	claimKey := claim.StepKey(v.EstimateID, stepIndex)
	ok, err := m.claims.Acquire(ctx, claimKey)
	if err != nil {
		return nil, fmt.Errorf("acquire claim: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	defer func() { _ = m.claims.Release(ctx, claimKey) }()

	eventID, err := m.stageEvent(ctx, v.EstimateID, stepIndex, step.Channel, content, now, existing)
	if err != nil {
		return nil, err
	}

	providerID, err := m.gateway.Send(ctx, step.Channel, to, content)
	if err != nil {
		// The staged event stays pending_review; the periodic executor
		// retries it on its next sweep.
		return nil, fmt.Errorf("gateway send: %w", err)
	}

	if err := m.events.MarkSent(ctx, nil, eventID, now); err != nil {
		return nil, fmt.Errorf("mark sent: %w", err)
	}
	if err := m.estimates.AdvanceStep(ctx, nil, v.EstimateID, stepIndex); err != nil &&
		!errors.Is(err, repository.ErrStaleStep) {
		return nil, fmt.Errorf("advance step: %w", err)
	}

	metrics.FollowUpEventsTotal.WithLabelValues("sent", step.Channel.String()).Inc()

	if err := m.history.Append(ctx, model.HistoryEntry{
		ID:                eventID,
		EstimateID:        v.EstimateID,
		CustomerID:        v.CustomerID,
		Channel:           step.Channel,
		Recipient:         to,
		Body:              content,
		ProviderMessageID: providerID,
		SentAt:            now,
	}); err != nil {
		m.log.Warn("message history append failed",
			zap.String("event_id", eventID), zap.Error(err))
	}

	return &StepResult{EventID: eventID, StepIndex: stepIndex, Channel: step.Channel, Status: "sent"}, nil
}

// stageEvent inserts a fresh pending-review event, or revives the
// skipped one in place so the step keeps a single non-skipped row.
func (m *Manual) stageEvent(ctx context.Context, estimateID int64, stepIndex int, ch model.Channel, content string, now time.Time, existing *model.FollowUpEvent) (string, error) {
	if existing != nil {
		if err := m.events.Revive(ctx, nil, existing.ID, model.EventPendingReview, ch, content, now); err != nil {
			if errors.Is(err, repository.ErrDuplicateStep) {
				return "", ErrStepHandled
			}
			return "", fmt.Errorf("revive skipped event: %w", err)
		}
		return existing.ID, nil
	}

	ev := model.FollowUpEvent{
		ID:                util.New(),
		EstimateID:        estimateID,
		SequenceStepIndex: stepIndex,
		Channel:           ch,
		Status:            model.EventPendingReview,
		Content:           content,
		ScheduledAt:       now,
	}
	if err := m.events.Insert(ctx, nil, ev); err != nil {
		if errors.Is(err, repository.ErrDuplicateStep) {
			return "", ErrStepHandled
		}
		return "", fmt.Errorf("insert event: %w", err)
	}
	return ev.ID, nil
}

func (m *Manual) executeCallTask(ctx context.Context, v *repository.ScheduledEstimateView, stepIndex int, content string, now time.Time, existing *model.FollowUpEvent) (*StepResult, error) {
	var eventID string
	if existing != nil {
		if err := m.events.Revive(ctx, nil, existing.ID, model.EventScheduled, model.ChannelCall, content, now); err != nil {
			if errors.Is(err, repository.ErrDuplicateStep) {
				return nil, ErrStepHandled
			}
			return nil, fmt.Errorf("revive skipped event: %w", err)
		}
		eventID = existing.ID
	} else {
		ev := model.FollowUpEvent{
			ID:                util.New(),
			EstimateID:        v.EstimateID,
			SequenceStepIndex: stepIndex,
			Channel:           model.ChannelCall,
			Status:            model.EventScheduled,
			Content:           content,
			ScheduledAt:       now,
		}
		if err := m.events.Insert(ctx, nil, ev); err != nil {
			if errors.Is(err, repository.ErrDuplicateStep) {
				return nil, ErrStepHandled
			}
			return nil, fmt.Errorf("insert call task event: %w", err)
		}
		eventID = ev.ID
	}

	metrics.FollowUpEventsTotal.WithLabelValues("scheduled", model.ChannelCall.String()).Inc()

	if v.AssignedUserID != nil {
		msg := fmt.Sprintf("Call task due for estimate %s: %s", estimateRef(v.Number, v.EstimateID), content)
		if err := m.notifier.Notify(ctx, *v.AssignedUserID, model.NotificationCallTask, v.EstimateID, msg); err != nil {
			m.log.Warn("call task notification failed",
				zap.Int64("estimate_id", v.EstimateID), zap.Error(err))
		}
	}

	if err := m.estimates.AdvanceStep(ctx, nil, v.EstimateID, stepIndex); err != nil &&
		!errors.Is(err, repository.ErrStaleStep) {
		return nil, fmt.Errorf("advance step: %w", err)
	}

	return &StepResult{EventID: eventID, StepIndex: stepIndex, Channel: model.ChannelCall, Status: "scheduled"}, nil
}
