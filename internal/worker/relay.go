package worker

import (
	"context"
	"time"

	"github.com/estimatehq/followup-engine/internal/kafka"
	"github.com/estimatehq/followup-engine/internal/metrics"
	"github.com/estimatehq/followup-engine/internal/repository"
	"go.uber.org/zap"
)

// Relay polls unpublished outbox rows and publishes their payloads to
// Kafka, marking each batch published on success. Publishing is
// at-least-once; consumers dedupe on the notification ULID.
type Relay struct {
	Outbox   repository.OutboxRepository
	Producer *kafka.Producer
	Log      *zap.Logger

	BatchSize int           // rows per poll
	Interval  time.Duration // poll period
}

func NewRelay(outbox repository.OutboxRepository, producer *kafka.Producer, log *zap.Logger) *Relay {
	return &Relay{
		Outbox:    outbox,
		Producer:  producer,
		Log:       log,
		BatchSize: 100,
		Interval:  2 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.BatchSize <= 0 {
		r.BatchSize = 100
	}
	if r.Interval <= 0 {
		r.Interval = 2 * time.Second
	}

	tick := time.NewTicker(r.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := r.flushOnce(ctx); err != nil {
				metrics.JobErrorsTotal.WithLabelValues("relay").Inc()
				r.Log.Error("outbox relay flush failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) flushOnce(ctx context.Context) error {
	rows, err := r.Outbox.ListUnpublished(ctx, r.BatchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, ev := range rows {
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.AggregateID),
			Value: ev.Payload,
		})
		ids = append(ids, ev.ID)
	}

	if err := r.Producer.Publish(ctx, msgs...); err != nil {
		_ = r.Outbox.BumpAttempts(ctx, ids)
		return err
	}

	if err := r.Outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
		return err
	}

	r.Log.Info("outbox relay flushed", zap.Int("published", len(ids)))
	return nil
}
