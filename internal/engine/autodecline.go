package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/estimatehq/followup-engine/internal/fieldservice"
	"github.com/estimatehq/followup-engine/internal/metrics"
	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/notify"
	"github.com/estimatehq/followup-engine/internal/repository"
	"go.uber.org/zap"
)

// AutoDecline closes out estimates past their decline deadline and
// raises declining-soon warnings once per estimate.
//
// It does not cancel in-flight follow-up events when declining; the
// reconciliation poller's win/lose path does. Estimates old enough to
// auto-decline have normally exhausted their sequence already.
type AutoDecline struct {
	estimates repository.EstimatesRepository
	options   repository.OptionsRepository
	notifier  notify.Notifier
	platform  fieldservice.Client

	warningDays int
	now         Clock
	log         *zap.Logger
}

func NewAutoDecline(
	estimates repository.EstimatesRepository,
	options repository.OptionsRepository,
	notifier notify.Notifier,
	platform fieldservice.Client,
	warningDays int,
	log *zap.Logger,
) *AutoDecline {
	if warningDays <= 0 {
		warningDays = 3
	}
	return &AutoDecline{
		estimates:   estimates,
		options:     options,
		notifier:    notifier,
		platform:    platform,
		warningDays: warningDays,
		now:         time.Now,
		log:         log,
	}
}

// WithClock overrides the sweep's clock.
func (d *AutoDecline) WithClock(c Clock) *AutoDecline { d.now = c; return d }

func (d *AutoDecline) Run(ctx context.Context) (DeclineSummary, error) {
	var sum DeclineSummary

	today := dayStart(d.now())

	expired, err := d.estimates.ListExpired(ctx, today)
	if err != nil {
		return sum, fmt.Errorf("list expired estimates: %w", err)
	}
	for _, v := range expired {
		if err := d.declineOne(ctx, v); err != nil {
			// Missing platform credentials fail the whole job; spotty
			// platform availability does not.
			if errors.Is(err, fieldservice.ErrNotConfigured) {
				return sum, err
			}
			sum.Errors++
			metrics.JobErrorsTotal.WithLabelValues("autodecline").Inc()
			d.log.Error("auto-decline failed",
				zap.Int64("estimate_id", v.EstimateID), zap.Error(err))
			continue
		}
		sum.Declined++
	}

	warned, failed, err := d.warnExpiringSoon(ctx, today)
	if err != nil {
		return sum, err
	}
	sum.Warnings = warned
	sum.Errors += failed

	return sum, nil
}

func (d *AutoDecline) declineOne(ctx context.Context, v repository.ExpiringEstimateView) error {
	pending, err := d.options.ListPending(ctx, v.EstimateID)
	if err != nil {
		return fmt.Errorf("list pending options: %w", err)
	}

	// Push the decline to the platform first, but never let a platform
	// failure block the local decline: local state drives the
	// automation, and the reconciliation poller converges the rest.
	externalIDs := make([]string, 0, len(pending))
	localIDs := make([]int64, 0, len(pending))
	for _, opt := range pending {
		localIDs = append(localIDs, opt.ID)
		if opt.ExternalOptionID != "" {
			externalIDs = append(externalIDs, opt.ExternalOptionID)
		}
	}
	if len(externalIDs) > 0 {
		if err := d.platform.DeclineOptions(ctx, externalIDs); err != nil {
			if errors.Is(err, fieldservice.ErrNotConfigured) {
				return err
			}
			d.log.Warn("platform decline failed, declining locally anyway",
				zap.Int64("estimate_id", v.EstimateID), zap.Error(err))
		}
	}

	if err := d.options.SetStatusBatch(ctx, nil, localIDs, model.OptionDeclined); err != nil {
		return fmt.Errorf("decline options: %w", err)
	}
	if err := d.estimates.SetStatus(ctx, nil, v.EstimateID, model.EstimateLost); err != nil {
		return fmt.Errorf("mark estimate lost: %w", err)
	}

	metrics.EstimatesTotal.WithLabelValues("declined").Inc()

	if v.AssignedUserID != nil {
		msg := fmt.Sprintf("Estimate %s passed its decline deadline and was closed as lost.", estimateRef(v.Number, v.EstimateID))
		if err := d.notifier.Notify(ctx, *v.AssignedUserID, model.NotificationAutoDeclined, v.EstimateID, msg); err != nil {
			d.log.Warn("auto-decline notification failed",
				zap.Int64("estimate_id", v.EstimateID), zap.Error(err))
		}
	}

	return nil
}

// warnExpiringSoon emits exactly one declining_soon notification per
// estimate entering the warning window. The exists-check before insert
// is the exactly-once guarantee, so estimates are processed one at a
// time.
func (d *AutoDecline) warnExpiringSoon(ctx context.Context, today time.Time) (warned, failed int, err error) {
	until := today.AddDate(0, 0, d.warningDays)

	soon, err := d.estimates.ListExpiringSoon(ctx, today, until)
	if err != nil {
		return 0, 0, fmt.Errorf("list expiring soon: %w", err)
	}

	for _, v := range soon {
		if v.AssignedUserID == nil {
			continue
		}
		msg := fmt.Sprintf("Estimate %s will auto-decline on %s.",
			estimateRef(v.Number, v.EstimateID), v.AutoDeclineDate.Format("2006-01-02"))
		inserted, err := d.notifier.NotifyOnce(ctx, *v.AssignedUserID, model.NotificationDecliningSoon, v.EstimateID, msg)
		if err != nil {
			failed++
			metrics.JobErrorsTotal.WithLabelValues("autodecline").Inc()
			d.log.Error("declining-soon warning failed",
				zap.Int64("estimate_id", v.EstimateID), zap.Error(err))
			continue
		}
		if inserted {
			warned++
			metrics.EstimatesTotal.WithLabelValues("warned").Inc()
		}
	}

	return warned, failed, nil
}
