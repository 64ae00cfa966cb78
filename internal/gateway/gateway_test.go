package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name     string
	channels map[model.Channel]bool
	ready    bool
	err      error
	sends    int
}

func newStubProvider(name string, chs ...model.Channel) *stubProvider {
	m := make(map[model.Channel]bool, len(chs))
	for _, c := range chs {
		m[c] = true
	}
	return &stubProvider{name: name, channels: m, ready: true}
}

func (p *stubProvider) Name() string                   { return p.name }
func (p *stubProvider) Supports(ch model.Channel) bool { return p.channels[ch] }
func (p *stubProvider) Ready() bool                    { return p.ready }
func (p *stubProvider) Acquire() bool                  { return true }

func (p *stubProvider) Send(_ context.Context, _ model.Channel, _, _ string) (string, error) {
	p.sends++
	if p.err != nil {
		return "", p.err
	}
	return p.name + "-msg", nil
}

func TestDispatcherRoutesByChannel(t *testing.T) {
	smsOnly := newStubProvider("sms-vendor", model.ChannelSMS)
	emailOnly := newStubProvider("email-vendor", model.ChannelEmail)
	d := NewDispatcher([]Provider{smsOnly, emailOnly}, 2)

	id, err := d.Send(context.Background(), model.ChannelEmail, "ops@acme.test", "hi")
	require.NoError(t, err)
	assert.Equal(t, "email-vendor-msg", id)
	assert.Zero(t, smsOnly.sends)
	assert.Equal(t, 1, emailOnly.sends)
}

func TestDispatcherRoundRobinsHealthyProviders(t *testing.T) {
	a := newStubProvider("a", model.ChannelSMS)
	b := newStubProvider("b", model.ChannelSMS)
	d := NewDispatcher([]Provider{a, b}, 1)

	for i := 0; i < 4; i++ {
		_, err := d.Send(context.Background(), model.ChannelSMS, "+15550100001", "hi")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, a.sends)
	assert.Equal(t, 2, b.sends)
}

func TestDispatcherRetriesOnFailure(t *testing.T) {
	flaky := newStubProvider("flaky", model.ChannelSMS)
	flaky.err = errors.New("vendor down")
	steady := newStubProvider("steady", model.ChannelSMS)
	d := NewDispatcher([]Provider{flaky, steady}, 2)

	id, err := d.Send(context.Background(), model.ChannelSMS, "+15550100001", "hi")
	require.NoError(t, err)
	assert.Equal(t, "steady-msg", id)
	assert.Equal(t, 1, flaky.sends)
}

func TestDispatcherNoHealthyProvider(t *testing.T) {
	down := newStubProvider("down", model.ChannelSMS)
	down.ready = false
	d := NewDispatcher([]Provider{down}, 2)

	_, err := d.Send(context.Background(), model.ChannelSMS, "+15550100001", "hi")
	require.ErrorIs(t, err, ErrNoHealthy)
	assert.Zero(t, down.sends)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	br := NewMicroBreaker("vendor-a", 2, time.Hour)

	require.True(t, br.TryAcquire())
	br.OnFailure()
	require.True(t, br.Ready())

	require.True(t, br.TryAcquire())
	br.OnFailure()

	assert.False(t, br.Ready())
	assert.False(t, br.TryAcquire())
}

func TestBreakerProbesAfterOpenWindow(t *testing.T) {
	br := NewMicroBreaker("vendor-a", 1, time.Nanosecond)
	br.OnFailure()
	time.Sleep(time.Millisecond)

	// One probe only while half-open.
	require.True(t, br.TryAcquire())
	assert.False(t, br.TryAcquire())

	br.OnSuccess()
	assert.True(t, br.Ready())
	assert.True(t, br.TryAcquire())
}
