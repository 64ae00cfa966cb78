package gateway

import (
	"sync"
	"time"

	"github.com/estimatehq/followup-engine/internal/metrics"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// MicroBreaker shields one messaging provider: after failThreshold
// consecutive send failures it opens for openFor, then admits a single
// probe send. Open transitions are counted per provider so a vendor
// outage is visible on the metrics endpoint.
type MicroBreaker struct {
	provider string

	mu               sync.Mutex
	st               breakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
}

func NewMicroBreaker(provider string, threshold int, openFor time.Duration) *MicroBreaker {
	return &MicroBreaker{provider: provider, failThreshold: threshold, openFor: openFor}
}

// Ready reports whether the dispatcher should consider this provider
// for the next send. It never mutates state; selection happens before
// acquisition.
func (b *MicroBreaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case stateClosed:
		return true
	case stateOpen:
		return time.Now().After(b.nextTryAt) && !b.probeInFlight
	case stateHalfOpen:
		return !b.probeInFlight
	default:
		return true
	}
}

// TryAcquire admits the send, flipping open to half-open when the open
// window has elapsed. At most one probe is in flight while half-open.
func (b *MicroBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case stateClosed:
		return true
	case stateOpen:
		if time.Now().After(b.nextTryAt) && !b.probeInFlight {
			b.st = stateHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case stateHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *MicroBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = stateClosed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *MicroBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == stateHalfOpen {
		b.trip()
		b.probeInFlight = false
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.trip()
	}
}

// trip opens the breaker; callers hold b.mu.
func (b *MicroBreaker) trip() {
	b.st = stateOpen
	b.nextTryAt = time.Now().Add(b.openFor)
	metrics.ProviderBreakerOpensTotal.WithLabelValues(b.provider).Inc()
}
