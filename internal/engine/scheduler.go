package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/estimatehq/followup-engine/internal/metrics"
	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/notify"
	"github.com/estimatehq/followup-engine/internal/render"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/estimatehq/followup-engine/internal/util"
	"go.uber.org/zap"
)

// Scheduler is the first phase of the followups job: it walks active
// estimates with an assigned sequence and materializes the due step as
// a follow-up event. Auto-send steps get a pending-review window so an
// assigned user can edit or cancel the message before it goes out;
// call steps go straight to the user's task list and advance the step
// index immediately.
type Scheduler struct {
	estimates repository.EstimatesRepository
	sequences repository.SequencesRepository
	events    repository.EventsRepository
	notifier  notify.Notifier

	reviewDelay time.Duration
	now         Clock
	log         *zap.Logger
}

func NewScheduler(
	estimates repository.EstimatesRepository,
	sequences repository.SequencesRepository,
	events repository.EventsRepository,
	notifier notify.Notifier,
	reviewDelay time.Duration,
	log *zap.Logger,
) *Scheduler {
	if reviewDelay <= 0 {
		reviewDelay = 30 * time.Minute
	}
	return &Scheduler{
		estimates:   estimates,
		sequences:   sequences,
		events:      events,
		notifier:    notifier,
		reviewDelay: reviewDelay,
		now:         time.Now,
		log:         log,
	}
}

// WithClock overrides the scheduler's clock.
func (s *Scheduler) WithClock(c Clock) *Scheduler { s.now = c; return s }

// Run sweeps all candidate estimates once. A failure on one estimate
// never aborts the sweep.
func (s *Scheduler) Run(ctx context.Context) (FollowUpSummary, error) {
	var sum FollowUpSummary

	now := s.now()
	views, err := s.estimates.ListScheduleable(ctx, now)
	if err != nil {
		return sum, fmt.Errorf("list scheduleable estimates: %w", err)
	}

	for _, v := range views {
		scheduled, err := s.processOne(ctx, v, now)
		if err != nil {
			sum.Errors++
			metrics.JobErrorsTotal.WithLabelValues("followups").Inc()
			s.log.Error("schedule step failed",
				zap.Int64("estimate_id", v.EstimateID),
				zap.Int("step_index", v.SequenceStepIndex),
				zap.Error(err))
			continue
		}
		if scheduled {
			sum.Scheduled++
		} else {
			sum.Skipped++
		}
	}

	return sum, nil
}

func (s *Scheduler) processOne(ctx context.Context, v repository.ScheduledEstimateView, now time.Time) (bool, error) {
	// Paused sequences get no step processing at all.
	if !v.SequenceActive {
		return false, nil
	}

	steps, err := s.sequences.ListSteps(ctx, v.SequenceID)
	if err != nil {
		return false, fmt.Errorf("list steps: %w", err)
	}

	// Sequence complete.
	if v.SequenceStepIndex >= len(steps) {
		return false, nil
	}

	step := steps[v.SequenceStepIndex]
	if !stepDue(v.SentDate, step, now) {
		return false, nil
	}

	// Idempotency: one event per (estimate, step), regardless of how
	// many job runs or manual actions raced here.
	existing, err := s.events.GetForStep(ctx, v.EstimateID, v.SequenceStepIndex)
	if err != nil {
		return false, fmt.Errorf("lookup existing event: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	content := render.Render(step.Template, renderValues(v))

	if step.IsCallTask || step.Channel == model.ChannelCall {
		return s.scheduleCallTask(ctx, v, step, content, now)
	}
	return s.schedulePendingReview(ctx, v, step, content, now)
}

// scheduleCallTask queues a call task: it lives in the user's task
// list, not a send queue, so it counts as delivered once inserted and
// the step index advances right away.
func (s *Scheduler) scheduleCallTask(ctx context.Context, v repository.ScheduledEstimateView, step model.SequenceStep, content string, now time.Time) (bool, error) {
	ev := model.FollowUpEvent{
		ID:                util.New(),
		EstimateID:        v.EstimateID,
		SequenceStepIndex: v.SequenceStepIndex,
		Channel:           model.ChannelCall,
		Status:            model.EventScheduled,
		Content:           content,
		ScheduledAt:       now,
	}
	if err := s.events.Insert(ctx, nil, ev); err != nil {
		if errors.Is(err, repository.ErrDuplicateStep) {
			return false, nil
		}
		return false, fmt.Errorf("insert call task event: %w", err)
	}

	metrics.FollowUpEventsTotal.WithLabelValues("scheduled", model.ChannelCall.String()).Inc()

	if v.AssignedUserID != nil {
		msg := fmt.Sprintf("Call task due for estimate %s: %s", estimateRef(v.Number, v.EstimateID), content)
		if err := s.notifier.Notify(ctx, *v.AssignedUserID, model.NotificationCallTask, v.EstimateID, msg); err != nil {
			s.log.Warn("call task notification failed",
				zap.Int64("estimate_id", v.EstimateID), zap.Error(err))
		}
	}

	if err := s.estimates.AdvanceStep(ctx, nil, v.EstimateID, v.SequenceStepIndex); err != nil &&
		!errors.Is(err, repository.ErrStaleStep) {
		return false, fmt.Errorf("advance step: %w", err)
	}
	return true, nil
}

// schedulePendingReview inserts the auto-send event with a delay
// before dispatch. The step index is not advanced here; the executor
// advances it once the send actually happens (or is skipped).
func (s *Scheduler) schedulePendingReview(ctx context.Context, v repository.ScheduledEstimateView, step model.SequenceStep, content string, now time.Time) (bool, error) {
	ev := model.FollowUpEvent{
		ID:                util.New(),
		EstimateID:        v.EstimateID,
		SequenceStepIndex: v.SequenceStepIndex,
		Channel:           step.Channel,
		Status:            model.EventPendingReview,
		Content:           content,
		ScheduledAt:       now.Add(s.reviewDelay),
	}
	if err := s.events.Insert(ctx, nil, ev); err != nil {
		if errors.Is(err, repository.ErrDuplicateStep) {
			return false, nil
		}
		return false, fmt.Errorf("insert pending review event: %w", err)
	}

	metrics.FollowUpEventsTotal.WithLabelValues("scheduled", step.Channel.String()).Inc()
	return true, nil
}
