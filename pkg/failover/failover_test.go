package failover

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/linkd/pkg/link"
	"github.com/veesix-networks/linkd/pkg/link/linktest"
)

type stubProber struct {
	found bool
	err   error

	// onProbe runs inside Acquire, e.g. to install the route a real client would.
	onProbe func()
}

func (s *stubProber) Acquire(ctx context.Context, ifname string, probe bool) (bool, error) {
	if s.onProbe != nil {
		s.onProbe()
	}
	return s.found, s.err
}

// countdownPinger answers the first n pings, then reports the target gone.
type countdownPinger struct {
	mu    sync.Mutex
	n     int
	pings int
}

func (c *countdownPinger) Ping(ctx context.Context, ip net.IP) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	if c.pings > c.n {
		return errors.New("request timeout")
	}
	return nil
}

func newLink(t *testing.T) (*linktest.Controller, *link.Interface) {
	t.Helper()
	ctl := linktest.New()
	ctl.Add(&linktest.Link{Name: "lan0", Up: true})
	return ctl, link.New(ctl, "lan0")
}

func TestRunNoRouter(t *testing.T) {
	ctl, iface := newLink(t)
	pinger := &countdownPinger{}
	p := New(&stubProber{}, pinger)

	reclaimed, err := p.Run(context.Background(), iface)
	require.NoError(t, err)
	assert.False(t, reclaimed)
	assert.Zero(t, pinger.pings)

	l, _ := ctl.Get("lan0")
	assert.Equal(t, link.StateFailoverProbing, l.Description)
}

func TestRunReclaimsAfterRouterDisappears(t *testing.T) {
	ctl, iface := newLink(t)
	prober := &stubProber{found: true, onProbe: func() {
		ctl.AddAddress(context.Background(), "lan0", "192.168.1.50/24")
		ctl.AddDefaultRoute(context.Background(), "lan0", net.IPv4(192, 168, 1, 1))
	}}
	pinger := &countdownPinger{n: 2}

	p := New(prober, pinger)
	p.Interval = 5 * time.Millisecond

	reclaimed, err := p.Run(context.Background(), iface)
	require.NoError(t, err)
	assert.True(t, reclaimed)
	assert.Equal(t, 3, pinger.pings)

	l, _ := ctl.Get("lan0")
	assert.Equal(t, link.StateFailoverWaiting, l.Description)
	assert.Empty(t, l.Addresses)
}

func TestRunProbeSpawnErrorIsFatal(t *testing.T) {
	_, iface := newLink(t)
	p := New(&stubProber{err: errors.New("exec: udhcpc: not found")}, &countdownPinger{})

	_, err := p.Run(context.Background(), iface)
	assert.Error(t, err)
}

func TestRunWithoutGatewayIsFatal(t *testing.T) {
	_, iface := newLink(t)
	p := New(&stubProber{found: true}, &countdownPinger{})

	_, err := p.Run(context.Background(), iface)
	assert.ErrorIs(t, err, link.ErrNoGateway)
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	ctl, iface := newLink(t)
	ctl.AddDefaultRoute(context.Background(), "lan0", net.IPv4(192, 168, 1, 1))

	p := New(&stubProber{found: true}, &countdownPinger{n: 1 << 30})
	p.Interval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	reclaimed, err := p.Run(ctx, iface)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, reclaimed)
}
