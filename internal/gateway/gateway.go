package gateway

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/estimatehq/followup-engine/internal/model"
)

var (
	ErrNoHealthy = fmt.Errorf("no healthy providers for channel")
	ErrNoAcquire = fmt.Errorf("provider not acquired")
)

// Gateway dispatches an outbound message and returns the provider's
// message id. Implementations must bound each attempt with a timeout;
// a timed-out send is a failure the caller retries on the next sweep.
type Gateway interface {
	Send(ctx context.Context, ch model.Channel, to, body string) (string, error)
}

// Dispatcher routes sends round-robin across the ready providers that
// support the requested channel, with bounded attempts per send.
type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

var _ Gateway = (*Dispatcher)(nil)

func (d *Dispatcher) selectProvider(ch model.Channel) (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Supports(ch) && p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, ch model.Channel, to, body string) (string, error) {
	p, err := d.selectProvider(ch)
	if err != nil {
		return "", err
	}

	if !p.Acquire() {
		return "", ErrNoAcquire
	}

	return p.Send(ctx, ch, to, body)
}

func (d *Dispatcher) Send(ctx context.Context, ch model.Channel, to, body string) (string, error) {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		id, err := d.tryOnce(ctx, ch, to, body)
		if err == nil {
			return id, nil
		}
		last = err
	}

	if last == nil {
		last = fmt.Errorf("send %s failed", ch)
	}

	return "", last
}
