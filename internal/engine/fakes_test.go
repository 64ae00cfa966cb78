package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/estimatehq/followup-engine/internal/fieldservice"
	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/estimatehq/followup-engine/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// In-memory fakes for the repository and collaborator interfaces. They
// enforce the same invariants the MySQL schema does (one non-skipped
// event per step, terminal estimates immutable, CAS step advance) so
// engine tests exercise real failure paths.

var testLog = zap.NewNop()

// ---- estimates ----

type fakeEstimates struct {
	byID         map[int64]*model.Estimate
	views        map[int64]*repository.ScheduledEstimateView
	expired      []repository.ExpiringEstimateView
	expiringSoon []repository.ExpiringEstimateView
	nextID       int64
}

func newFakeEstimates() *fakeEstimates {
	return &fakeEstimates{
		byID:   make(map[int64]*model.Estimate),
		views:  make(map[int64]*repository.ScheduledEstimateView),
		nextID: 1000,
	}
}

func (f *fakeEstimates) GetByID(_ context.Context, id int64) (*model.Estimate, error) {
	e, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEstimates) FindByExternalRef(_ context.Context, externalID, number string) (*model.Estimate, error) {
	for _, e := range f.byID {
		if e.ExternalEstimateID != nil && *e.ExternalEstimateID == externalID {
			cp := *e
			return &cp, nil
		}
	}
	for _, e := range f.byID {
		if e.Number == number {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeEstimates) ListScheduleable(_ context.Context, _ time.Time) ([]repository.ScheduledEstimateView, error) {
	var out []repository.ScheduledEstimateView
	for _, v := range f.views {
		out = append(out, *v)
	}
	return out, nil
}

func (f *fakeEstimates) GetScheduledView(_ context.Context, id int64) (*repository.ScheduledEstimateView, error) {
	v, ok := f.views[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (f *fakeEstimates) ListExpired(_ context.Context, _ time.Time) ([]repository.ExpiringEstimateView, error) {
	return f.expired, nil
}

func (f *fakeEstimates) ListExpiringSoon(_ context.Context, _, _ time.Time) ([]repository.ExpiringEstimateView, error) {
	return f.expiringSoon, nil
}

func (f *fakeEstimates) Insert(_ context.Context, _ *sqlx.Tx, e model.Estimate) (int64, error) {
	f.nextID++
	e.ID = f.nextID
	f.byID[e.ID] = &e
	return e.ID, nil
}

func (f *fakeEstimates) SetStatus(_ context.Context, _ *sqlx.Tx, id int64, status model.EstimateStatus) error {
	e, ok := f.byID[id]
	if !ok || e.Status.Terminal() {
		return nil
	}
	e.Status = status
	if v, ok := f.views[id]; ok {
		v.Status = status
	}
	return nil
}

func (f *fakeEstimates) AdvanceStep(_ context.Context, _ *sqlx.Tx, id int64, fromIndex int) error {
	if e, ok := f.byID[id]; ok {
		if e.Status.Terminal() || e.SequenceStepIndex != fromIndex {
			return repository.ErrStaleStep
		}
		e.SequenceStepIndex++
		if v, ok := f.views[id]; ok {
			v.SequenceStepIndex = e.SequenceStepIndex
		}
		return nil
	}
	v, ok := f.views[id]
	if !ok || v.SequenceStepIndex != fromIndex {
		return repository.ErrStaleStep
	}
	v.SequenceStepIndex++
	return nil
}

func (f *fakeEstimates) RefreshRemoteFields(_ context.Context, id int64, proposalURL string, totalAmount int64) error {
	if e, ok := f.byID[id]; ok {
		e.ProposalURL = proposalURL
		e.TotalAmount = totalAmount
	}
	return nil
}

var _ repository.EstimatesRepository = (*fakeEstimates)(nil)

// ---- events ----

type fakeEvents struct {
	byID      map[string]*model.FollowUpEvent
	due       []repository.DueEventView
	insertErr error
	cancelled []int64
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{byID: make(map[string]*model.FollowUpEvent)}
}

func (f *fakeEvents) GetForStep(_ context.Context, estimateID int64, stepIndex int) (*model.FollowUpEvent, error) {
	for _, ev := range f.byID {
		if ev.EstimateID == estimateID && ev.SequenceStepIndex == stepIndex {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeEvents) Insert(_ context.Context, _ *sqlx.Tx, ev model.FollowUpEvent) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, e := range f.byID {
		if e.EstimateID == ev.EstimateID && e.SequenceStepIndex == ev.SequenceStepIndex &&
			e.Status != model.EventSkipped {
			return repository.ErrDuplicateStep
		}
	}
	f.byID[ev.ID] = &ev
	return nil
}

func (f *fakeEvents) ListDue(_ context.Context, now time.Time) ([]repository.DueEventView, error) {
	var out []repository.DueEventView
	for _, v := range f.due {
		if v.EventStatus == model.EventPendingReview && !v.ScheduledAt.After(now) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeEvents) MarkSent(_ context.Context, _ *sqlx.Tx, id string, sentAt time.Time) error {
	ev, ok := f.byID[id]
	if !ok || ev.Status != model.EventPendingReview {
		return nil
	}
	ev.Status = model.EventSent
	ev.SentAt = &sentAt
	return nil
}

func (f *fakeEvents) MarkSkipped(_ context.Context, _ *sqlx.Tx, id string) error {
	ev, ok := f.byID[id]
	if !ok || ev.Status == model.EventSent || ev.Status == model.EventCompleted {
		return nil
	}
	ev.Status = model.EventSkipped
	return nil
}

func (f *fakeEvents) Revive(_ context.Context, _ *sqlx.Tx, id string, status model.EventStatus, channel model.Channel, content string, scheduledAt time.Time) error {
	ev, ok := f.byID[id]
	if !ok || ev.Status != model.EventSkipped {
		return nil
	}
	// Un-skipping contends on the same one-per-step constraint as
	// inserting.
	for _, other := range f.byID {
		if other.ID != id && other.EstimateID == ev.EstimateID &&
			other.SequenceStepIndex == ev.SequenceStepIndex && other.Status != model.EventSkipped {
			return repository.ErrDuplicateStep
		}
	}
	ev.Status = status
	ev.Channel = channel
	ev.Content = content
	ev.ScheduledAt = scheduledAt
	return nil
}

func (f *fakeEvents) CancelInFlight(_ context.Context, _ *sqlx.Tx, estimateID int64) (int64, error) {
	f.cancelled = append(f.cancelled, estimateID)
	var n int64
	for _, ev := range f.byID {
		if ev.EstimateID == estimateID && ev.Status.InFlight() {
			ev.Status = model.EventSkipped
			n++
		}
	}
	return n, nil
}

var _ repository.EventsRepository = (*fakeEvents)(nil)

// ---- options ----

type fakeOptions struct {
	byID   map[int64]*model.EstimateOption
	nextID int64
}

func newFakeOptions() *fakeOptions {
	return &fakeOptions{byID: make(map[int64]*model.EstimateOption)}
}

func (f *fakeOptions) add(opt model.EstimateOption) int64 {
	f.nextID++
	opt.ID = f.nextID
	f.byID[opt.ID] = &opt
	return opt.ID
}

func (f *fakeOptions) ListByEstimate(_ context.Context, estimateID int64) ([]model.EstimateOption, error) {
	var out []model.EstimateOption
	for i := int64(1); i <= f.nextID; i++ {
		if opt, ok := f.byID[i]; ok && opt.EstimateID == estimateID {
			out = append(out, *opt)
		}
	}
	return out, nil
}

func (f *fakeOptions) ListPending(ctx context.Context, estimateID int64) ([]model.EstimateOption, error) {
	all, _ := f.ListByEstimate(ctx, estimateID)
	var out []model.EstimateOption
	for _, opt := range all {
		if opt.Status == model.OptionPending {
			out = append(out, opt)
		}
	}
	return out, nil
}

func (f *fakeOptions) Insert(_ context.Context, _ *sqlx.Tx, opt model.EstimateOption) error {
	f.add(opt)
	return nil
}

func (f *fakeOptions) SetStatus(_ context.Context, _ *sqlx.Tx, id int64, status model.OptionStatus) error {
	if opt, ok := f.byID[id]; ok {
		opt.Status = status
	}
	return nil
}

func (f *fakeOptions) SetStatusBatch(ctx context.Context, tx *sqlx.Tx, ids []int64, status model.OptionStatus) error {
	for _, id := range ids {
		if err := f.SetStatus(ctx, tx, id, status); err != nil {
			return err
		}
	}
	return nil
}

var _ repository.OptionsRepository = (*fakeOptions)(nil)

// ---- sequences ----

type fakeSequences struct {
	steps map[int64][]model.SequenceStep
}

func newFakeSequences() *fakeSequences {
	return &fakeSequences{steps: make(map[int64][]model.SequenceStep)}
}

func (f *fakeSequences) GetByID(_ context.Context, id int64) (*model.FollowUpSequence, error) {
	if _, ok := f.steps[id]; !ok {
		return nil, nil
	}
	return &model.FollowUpSequence{ID: id, IsActive: true}, nil
}

func (f *fakeSequences) ListSteps(_ context.Context, sequenceID int64) ([]model.SequenceStep, error) {
	return f.steps[sequenceID], nil
}

var _ repository.SequencesRepository = (*fakeSequences)(nil)

// ---- customers / users ----

type fakeCustomers struct {
	byExternalID map[string]int64
	nextID       int64
	upserts      []model.Customer
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{byExternalID: make(map[string]int64), nextID: 500}
}

func (f *fakeCustomers) GetByID(_ context.Context, _ int64) (*model.Customer, error) {
	return nil, nil
}

func (f *fakeCustomers) UpsertByExternalID(_ context.Context, _ *sqlx.Tx, c model.Customer) (int64, error) {
	f.upserts = append(f.upserts, c)
	key := ""
	if c.ExternalCustomerID != nil {
		key = *c.ExternalCustomerID
	}
	if id, ok := f.byExternalID[key]; ok {
		return id, nil
	}
	f.nextID++
	f.byExternalID[key] = f.nextID
	return f.nextID, nil
}

var _ repository.CustomersRepository = (*fakeCustomers)(nil)

type fakeUsers struct {
	users []model.User
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) FindActiveByName(_ context.Context, name string) (*model.User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Name, name) && u.Status == "active" {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

var _ repository.UsersRepository = (*fakeUsers)(nil)

// ---- notifier ----

type sentNotice struct {
	UserID     int64
	Type       model.NotificationType
	EstimateID int64
	Message    string
}

type fakeNotifier struct {
	sent []sentNotice
	once map[string]bool
	err  error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{once: make(map[string]bool)}
}

func (f *fakeNotifier) Notify(_ context.Context, userID int64, typ model.NotificationType, estimateID int64, message string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotice{UserID: userID, Type: typ, EstimateID: estimateID, Message: message})
	return nil
}

func (f *fakeNotifier) NotifyOnce(ctx context.Context, userID int64, typ model.NotificationType, estimateID int64, message string) (bool, error) {
	key := fmt.Sprintf("%d:%s", estimateID, typ)
	if f.once[key] {
		return false, nil
	}
	if err := f.Notify(ctx, userID, typ, estimateID, message); err != nil {
		return false, err
	}
	f.once[key] = true
	return true, nil
}

func (f *fakeNotifier) byType(typ model.NotificationType) []sentNotice {
	var out []sentNotice
	for _, n := range f.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// ---- gateway ----

type sentMessage struct {
	Channel model.Channel
	To      string
	Body    string
}

type fakeGateway struct {
	sent []sentMessage
	err  error
	seq  atomic.Int64
}

func (f *fakeGateway) Send(_ context.Context, ch model.Channel, to, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{Channel: ch, To: to, Body: body})
	return fmt.Sprintf("prov-%d", f.seq.Add(1)), nil
}

// ---- claims ----

type fakeLocker struct {
	held map[string]bool
	deny bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(_ context.Context, key string) (bool, error) {
	if f.deny || f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, key string) error {
	delete(f.held, key)
	return nil
}

// ---- history ----

type fakeHistory struct {
	entries []model.HistoryEntry
}

func (f *fakeHistory) Append(_ context.Context, e model.HistoryEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeHistory) ListByEstimate(_ context.Context, estimateID int64, _, _ int) ([]model.HistoryEntry, error) {
	var out []model.HistoryEntry
	for _, e := range f.entries {
		if e.EstimateID == estimateID {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ repository.HistoryRepository = (*fakeHistory)(nil)

// ---- field-service platform ----

type fakePlatform struct {
	pages         []fieldservice.EstimatePage
	listErr       error
	declineErr    error
	notConfigured bool
	declined      [][]string
}

func (f *fakePlatform) ListEstimates(_ context.Context, _, _ time.Time, page int) (*fieldservice.EstimatePage, error) {
	if f.notConfigured {
		return nil, fieldservice.ErrNotConfigured
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	if page < 1 || page > len(f.pages) {
		return &fieldservice.EstimatePage{Page: page, TotalPages: len(f.pages)}, nil
	}
	pg := f.pages[page-1]
	pg.Page = page
	pg.TotalPages = len(f.pages)
	return &pg, nil
}

func (f *fakePlatform) DeclineOptions(_ context.Context, optionIDs []string) error {
	if f.notConfigured {
		return fieldservice.ErrNotConfigured
	}
	if f.declineErr != nil {
		return f.declineErr
	}
	f.declined = append(f.declined, optionIDs)
	return nil
}

var _ fieldservice.Client = (*fakePlatform)(nil)

var errBoom = errors.New("boom")
