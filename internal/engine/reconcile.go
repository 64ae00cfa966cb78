package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/estimatehq/followup-engine/internal/fieldservice"
	"github.com/estimatehq/followup-engine/internal/metrics"
	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/notify"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/estimatehq/followup-engine/internal/util"
	"go.uber.org/zap"
)

// Reconciler pulls estimates from the field-service platform over a
// bounded trailing window and folds the platform's option-level
// approve/decline signals back into local state. The platform owns
// approval truth; this engine owns follow-up automation truth.
type Reconciler struct {
	estimates repository.EstimatesRepository
	options   repository.OptionsRepository
	events    repository.EventsRepository
	customers repository.CustomersRepository
	users     repository.UsersRepository
	notifier  notify.Notifier
	platform  fieldservice.Client

	autoDeclineDays   int
	defaultSequenceID int64
	now               Clock
	log               *zap.Logger
}

func NewReconciler(
	estimates repository.EstimatesRepository,
	options repository.OptionsRepository,
	events repository.EventsRepository,
	customers repository.CustomersRepository,
	users repository.UsersRepository,
	notifier notify.Notifier,
	platform fieldservice.Client,
	autoDeclineDays int,
	defaultSequenceID int64,
	log *zap.Logger,
) *Reconciler {
	if autoDeclineDays <= 0 {
		autoDeclineDays = 30
	}
	return &Reconciler{
		estimates:         estimates,
		options:           options,
		events:            events,
		customers:         customers,
		users:             users,
		notifier:          notifier,
		platform:          platform,
		autoDeclineDays:   autoDeclineDays,
		defaultSequenceID: defaultSequenceID,
		now:               time.Now,
		log:               log,
	}
}

// WithClock overrides the reconciler's clock.
func (r *Reconciler) WithClock(c Clock) *Reconciler { r.now = c; return r }

func (r *Reconciler) Run(ctx context.Context) (ReconcileSummary, error) {
	var sum ReconcileSummary

	today := dayStart(r.now())
	start := today.AddDate(0, 0, -r.autoDeclineDays)

	page := 1
	for {
		pg, err := r.platform.ListEstimates(ctx, start, today, page)
		if err != nil {
			if errors.Is(err, fieldservice.ErrNotConfigured) {
				return sum, err
			}
			// Transient platform failure: keep what we reconciled so
			// far; the next poll picks up where this one degraded.
			sum.Errors++
			metrics.JobErrorsTotal.WithLabelValues("reconcile").Inc()
			r.log.Error("platform listing failed", zap.Int("page", page), zap.Error(err))
			return sum, nil
		}
		sum.PagesFetched++

		for _, re := range pg.Estimates {
			if err := r.reconcileOne(ctx, re, today, &sum); err != nil {
				sum.Errors++
				metrics.JobErrorsTotal.WithLabelValues("reconcile").Inc()
				r.log.Error("reconcile estimate failed",
					zap.String("external_id", re.ID),
					zap.String("number", re.Number),
					zap.Error(err))
			}
		}

		if len(pg.Estimates) == 0 || (pg.TotalPages > 0 && page >= pg.TotalPages) {
			break
		}
		page++
	}

	return sum, nil
}

func mapApproval(s string) model.OptionStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case fieldservice.ApprovalApproved:
		return model.OptionApproved
	case fieldservice.ApprovalDeclined:
		return model.OptionDeclined
	default:
		return model.OptionPending
	}
}

func anyAwaiting(opts []fieldservice.RemoteOption) bool {
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(o.ApprovalStatus), fieldservice.ApprovalAwaiting) {
			return true
		}
	}
	return false
}

func (r *Reconciler) reconcileOne(ctx context.Context, re fieldservice.RemoteEstimate, today time.Time, sum *ReconcileSummary) error {
	local, err := r.estimates.FindByExternalRef(ctx, re.ID, re.Number)
	if err != nil {
		return fmt.Errorf("match local estimate: %w", err)
	}

	if local == nil {
		created, err := r.materialize(ctx, re, today)
		if err != nil {
			return err
		}
		if created {
			sum.NewEstimates++
		}
		return nil
	}

	return r.fold(ctx, re, local, sum)
}

// materialize creates a local record for a previously-unseen remote
// estimate, but only one that has actually been presented to the
// customer; drafts and internal estimates are ignored.
func (r *Reconciler) materialize(ctx context.Context, re fieldservice.RemoteEstimate, today time.Time) (bool, error) {
	if !anyAwaiting(re.Options) {
		return false, nil
	}

	email := strPtrOrNil(re.CustomerEmail)
	phone := strPtrOrNil(util.NormalizePhone(re.CustomerPhone))
	extCustID := strPtrOrNil(re.CustomerID)

	customerID, err := r.customers.UpsertByExternalID(ctx, nil, model.Customer{
		Name:               re.CustomerName,
		Email:              email,
		Phone:              phone,
		ExternalCustomerID: extCustID,
	})
	if err != nil {
		return false, fmt.Errorf("upsert customer: %w", err)
	}

	// Assignment match is best-effort; an unmatched employee name just
	// leaves the estimate unassigned.
	var assignedID *int64
	if name := strings.TrimSpace(re.AssignedTo); name != "" {
		u, err := r.users.FindActiveByName(ctx, name)
		if err != nil {
			return false, fmt.Errorf("resolve assigned user: %w", err)
		}
		if u != nil {
			assignedID = &u.ID
		}
	}

	sentDate := today
	declineDate := today.AddDate(0, 0, r.autoDeclineDays)
	externalID := re.ID
	seqID := r.defaultSequenceID

	estimateID, err := r.estimates.Insert(ctx, nil, model.Estimate{
		Number:             re.Number,
		ExternalEstimateID: &externalID,
		CustomerID:         customerID,
		AssignedUserID:     assignedID,
		Status:             model.EstimateActive,
		SequenceID:         &seqID,
		SequenceStepIndex:  0,
		SentDate:           &sentDate,
		AutoDeclineDate:    &declineDate,
		ProposalURL:        re.ProposalURL,
		TotalAmount:        re.TotalAmount,
	})
	if err != nil {
		return false, fmt.Errorf("insert estimate: %w", err)
	}

	for _, ro := range re.Options {
		if err := r.options.Insert(ctx, nil, model.EstimateOption{
			EstimateID:       estimateID,
			ExternalOptionID: ro.ID,
			Status:           mapApproval(ro.ApprovalStatus),
			Amount:           ro.TotalAmount,
		}); err != nil {
			return false, fmt.Errorf("insert option %s: %w", ro.ID, err)
		}
	}

	metrics.EstimatesTotal.WithLabelValues("created").Inc()

	if assignedID != nil {
		msg := fmt.Sprintf("New estimate %s synced from the field-service platform and assigned to you.", estimateRef(re.Number, estimateID))
		if err := r.notifier.Notify(ctx, *assignedID, model.NotificationNewEstimate, estimateID, msg); err != nil {
			r.log.Warn("new estimate notification failed",
				zap.Int64("estimate_id", estimateID), zap.Error(err))
		}
	}

	return true, nil
}

// fold diffs remote option statuses into a matched local estimate and
// resolves the estimate when the options resolve. Options are mutually
// exclusive alternatives: any approval wins the estimate, and only a
// full set of declines loses it.
func (r *Reconciler) fold(ctx context.Context, re fieldservice.RemoteEstimate, local *model.Estimate, sum *ReconcileSummary) error {
	refreshed := false
	if re.ProposalURL != local.ProposalURL || re.TotalAmount != local.TotalAmount {
		if err := r.estimates.RefreshRemoteFields(ctx, local.ID, re.ProposalURL, re.TotalAmount); err != nil {
			return fmt.Errorf("refresh remote fields: %w", err)
		}
		refreshed = true
	}

	// Terminal estimates are never revived, no matter what the
	// platform reports.
	if local.Status.Terminal() {
		return nil
	}

	localOpts, err := r.options.ListByEstimate(ctx, local.ID)
	if err != nil {
		return fmt.Errorf("list local options: %w", err)
	}

	remoteByID := make(map[string]fieldservice.RemoteOption, len(re.Options))
	for _, ro := range re.Options {
		remoteByID[ro.ID] = ro
	}

	anyApproved := false
	allDeclined := len(localOpts) > 0
	changes := 0

	for _, opt := range localOpts {
		final := opt.Status
		if opt.Status == model.OptionPending {
			if ro, ok := remoteByID[opt.ExternalOptionID]; ok {
				switch mapApproval(ro.ApprovalStatus) {
				case model.OptionApproved:
					if err := r.options.SetStatus(ctx, nil, opt.ID, model.OptionApproved); err != nil {
						return fmt.Errorf("approve option %d: %w", opt.ID, err)
					}
					final = model.OptionApproved
					changes++
				case model.OptionDeclined:
					if err := r.options.SetStatus(ctx, nil, opt.ID, model.OptionDeclined); err != nil {
						return fmt.Errorf("decline option %d: %w", opt.ID, err)
					}
					final = model.OptionDeclined
					changes++
				}
			}
		}
		if final == model.OptionApproved {
			anyApproved = true
		}
		if final != model.OptionDeclined {
			allDeclined = false
		}
	}

	switch {
	case anyApproved:
		if err := r.resolve(ctx, local, model.EstimateWon, model.NotificationEstimateWon,
			fmt.Sprintf("Estimate %s was approved by the customer.", estimateRef(local.Number, local.ID))); err != nil {
			return err
		}
		sum.Won++
		metrics.EstimatesTotal.WithLabelValues("won").Inc()
	case allDeclined && changes > 0:
		if err := r.resolve(ctx, local, model.EstimateLost, model.NotificationEstimateLost,
			fmt.Sprintf("All options on estimate %s were declined.", estimateRef(local.Number, local.ID))); err != nil {
			return err
		}
		sum.Lost++
		metrics.EstimatesTotal.WithLabelValues("lost").Inc()
	case changes > 0 || refreshed:
		sum.Updated++
	}

	return nil
}

// resolve transitions the estimate to a terminal status, stops all
// further automation by skipping in-flight events, and tells the
// assigned user.
func (r *Reconciler) resolve(ctx context.Context, local *model.Estimate, status model.EstimateStatus, typ model.NotificationType, msg string) error {
	if err := r.estimates.SetStatus(ctx, nil, local.ID, status); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	if _, err := r.events.CancelInFlight(ctx, nil, local.ID); err != nil {
		return fmt.Errorf("cancel in-flight events: %w", err)
	}
	if local.AssignedUserID != nil {
		if err := r.notifier.Notify(ctx, *local.AssignedUserID, typ, local.ID, msg); err != nil {
			r.log.Warn("resolution notification failed",
				zap.Int64("estimate_id", local.ID), zap.Error(err))
		}
	}
	return nil
}

func strPtrOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
