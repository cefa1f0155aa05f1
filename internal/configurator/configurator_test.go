package configurator

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/veesix-networks/linkd/pkg/arp"
	"github.com/veesix-networks/linkd/pkg/command/commandtest"
	"github.com/veesix-networks/linkd/pkg/config"
	"github.com/veesix-networks/linkd/pkg/dhcp"
	"github.com/veesix-networks/linkd/pkg/ethernet"
	"github.com/veesix-networks/linkd/pkg/events"
	"github.com/veesix-networks/linkd/pkg/events/local"
	"github.com/veesix-networks/linkd/pkg/failover"
	"github.com/veesix-networks/linkd/pkg/link"
	"github.com/veesix-networks/linkd/pkg/link/linktest"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	times  []time.Time
}

func (r *frameRecorder) Transmit(ctx context.Context, ifname string, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), frame...))
	r.times = append(r.times, time.Now())
	return nil
}

type countdownPinger struct {
	mu    sync.Mutex
	left  int
	pings int
}

func (c *countdownPinger) Ping(ctx context.Context, ip net.IP) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	if c.left == 0 {
		return errors.New("request timeout")
	}
	c.left--
	return nil
}

type harness struct {
	ctl       *linktest.Controller
	runner    *commandtest.Runner
	tx        *frameRecorder
	pinger    *countdownPinger
	announcer *arp.Announcer
	c         *Configurator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		ctl:    linktest.New(),
		runner: commandtest.New(),
		tx:     &frameRecorder{},
		pinger: &countdownPinger{},
	}
	h.announcer = arp.NewAnnouncer(h.tx)
	h.announcer.Interval = 20 * time.Millisecond

	client := dhcp.NewClient(h.runner, "udhcpc", 0)
	fo := failover.New(client, h.pinger)
	fo.Interval = time.Millisecond

	h.c = &Configurator{
		Link:         h.ctl,
		DHCPClient:   client,
		DHCPServer:   dhcp.NewLauncher(h.runner, t.TempDir(), "udhcpd"),
		Failover:     fo,
		Announcer:    h.announcer,
		LeaseSeconds: 3600,
	}
	return h
}

func netmask(n int) *int { return &n }

func TestStaticWithoutAddressFailsFast(t *testing.T) {
	tests := []struct {
		name string
		spec *config.Interface
	}{
		{"no netmask", &config.Interface{Name: "eth0", Type: config.KindEthernet, Mode: config.ModeStatic, Address: "10.0.0.1"}},
		{"no address", &config.Interface{Name: "eth0", Type: config.KindEthernet, Mode: config.ModeStatic, Netmask: netmask(24)}},
		{"bridge", &config.Interface{Name: "br0", Type: config.KindBridge, Mode: config.ModeStatic, Members: []string{"eth0"}, Failover: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ctl.Add(&linktest.Link{Name: "eth0"})

			err := h.c.Configure(context.Background(), tt.spec)
			require.ErrorIs(t, err, ErrStaticAddress)

			var ifErr *InterfaceError
			require.ErrorAs(t, err, &ifErr)
			assert.Equal(t, tt.spec.Name, ifErr.Interface)
			assert.Empty(t, h.ctl.Calls())
			assert.Empty(t, h.runner.Calls())
		})
	}
}

func TestConfigureStaticEthernet(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "lan0"})

	spec := &config.Interface{
		Name:    "lan0",
		Type:    config.KindEthernet,
		Mode:    config.ModeStatic,
		Address: "10.0.0.1",
		Netmask: netmask(24),
		Gateway: "10.0.0.254",
		DHCP: config.DHCPServerConfig{
			Enabled: true,
			Start:   "10.0.0.10",
			End:     "10.0.0.100",
			DNS:     "8.8.8.8",
			Netmask: "255.255.255.0",
			Router:  "10.0.0.1",
		},
	}
	require.NoError(t, h.c.Configure(context.Background(), spec))

	assert.Equal(t, []string{
		"up lan0",
		"alias lan0 CONFIGURING",
		"addr-add lan0 10.0.0.1/24",
		"route-add lan0 10.0.0.254",
		"alias lan0 CONFIGURED",
	}, h.ctl.Calls())

	started := h.runner.Started()
	require.Len(t, started, 1)
	assert.True(t, strings.HasPrefix(started[0], "udhcpd "))
	assert.True(t, strings.HasSuffix(started[0], ".conf"))
	assert.Empty(t, h.tx.frames)
}

func TestStaticAddressAlreadyPresentIsFatal(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "lan0", Addresses: []string{"10.0.0.1/24"}})

	err := h.c.Configure(context.Background(), &config.Interface{
		Name:    "lan0",
		Type:    config.KindEthernet,
		Mode:    config.ModeStatic,
		Address: "10.0.0.1",
		Netmask: netmask(24),
	})
	require.ErrorIs(t, err, unix.EEXIST)

	var ifErr *InterfaceError
	require.ErrorAs(t, err, &ifErr)
	assert.Equal(t, "lan0", ifErr.Interface)

	l, _ := h.ctl.Get("lan0")
	assert.NotEqual(t, link.StateConfigured, l.Description)
}

func TestConfigureMissingEthernet(t *testing.T) {
	h := newHarness(t)

	err := h.c.Configure(context.Background(), &config.Interface{Name: "eth7", Type: config.KindEthernet, Mode: config.ModeDHCP})
	assert.ErrorIs(t, err, link.ErrNotFound)
}

func TestConfigureBridge(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "lan0"})
	h.ctl.Add(&linktest.Link{Name: "lan1"})

	spec := &config.Interface{
		Name:    "br0",
		Type:    config.KindBridge,
		Mode:    config.ModeStatic,
		Address: "192.168.10.1",
		Netmask: netmask(24),
		Members: []string{"lan0", "lan1"},
	}
	require.NoError(t, h.c.Configure(context.Background(), spec))

	br, ok := h.ctl.Get("br0")
	require.True(t, ok)
	assert.Equal(t, "bridge", br.Kind)
	assert.True(t, br.Up)
	assert.Equal(t, link.StateConfigured, br.Description)
	assert.Equal(t, []string{"192.168.10.1/24"}, br.Addresses)

	for _, name := range spec.Members {
		m, _ := h.ctl.Get(name)
		assert.True(t, m.Up, name)
		assert.Equal(t, "br0", m.Master, name)
	}

	assert.Equal(t, []string{"master lan0 br0", "master lan1 br0"}, filter(h.ctl.Calls(), "master "))
}

func TestConfigureBridgeWithoutMembers(t *testing.T) {
	h := newHarness(t)

	spec := &config.Interface{Name: "br1", Type: config.KindBridge, Mode: config.ModeDHCP}
	require.NoError(t, h.c.Configure(context.Background(), spec))

	br, ok := h.ctl.Get("br1")
	require.True(t, ok)
	assert.True(t, br.Up)
	assert.Equal(t, link.StateConfigured, br.Description)
	assert.Empty(t, filter(h.ctl.Calls(), "master "))

	require.NoError(t, h.c.Teardown(context.Background(), spec))
	_, ok = h.ctl.Get("br1")
	assert.False(t, ok)
}

func TestConfigureBridgeMissingMember(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "lan0"})

	err := h.c.Configure(context.Background(), &config.Interface{
		Name:    "br0",
		Type:    config.KindBridge,
		Mode:    config.ModeDHCP,
		Members: []string{"lan0", "lan9"},
	})
	require.ErrorIs(t, err, link.ErrNotFound)

	br, _ := h.ctl.Get("br0")
	assert.NotEqual(t, link.StateConfigured, br.Description)
}

func TestFailoverWithoutRouter(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "lan0"})
	h.runner.Set("udhcpc -i lan0 -n -q", commandtest.Result{Err: commandtest.ExitError()})

	spec := &config.Interface{Name: "lan0", Type: config.KindEthernet, Mode: config.ModeDHCP, Failover: true}
	require.NoError(t, h.c.Configure(context.Background(), spec))

	assert.Equal(t, []string{"udhcpc -i lan0 -n -q", "udhcpc -i lan0"}, h.runner.Calls())
	assert.Zero(t, h.pinger.pings)
	assert.Empty(t, h.tx.frames)

	l, _ := h.ctl.Get("lan0")
	assert.Equal(t, link.StateConfigured, l.Description)
}

func TestFailoverReclaimAnnounces(t *testing.T) {
	h := newHarness(t)
	mac := net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	h.ctl.Add(&linktest.Link{Name: "lan0", MAC: mac})
	h.pinger.left = 2
	h.runner.Hook = func(ctx context.Context, line string) {
		if line == "udhcpc -i lan0 -n -q" {
			h.ctl.AddAddress(ctx, "lan0", "192.168.1.77/24")
			h.ctl.AddDefaultRoute(ctx, "lan0", net.IPv4(192, 168, 1, 1))
		}
	}

	spec := &config.Interface{Name: "lan0", Type: config.KindEthernet, Mode: config.ModeStatic, Address: "192.168.1.1", Netmask: netmask(24), Failover: true}
	require.NoError(t, h.c.Configure(context.Background(), spec))

	assert.Equal(t, 3, h.pinger.pings)
	assert.Contains(t, h.ctl.Calls(), "addr-flush lan0")

	l, _ := h.ctl.Get("lan0")
	assert.Equal(t, link.StateConfigured, l.Description)
	assert.Equal(t, []string{"192.168.1.1/24"}, l.Addresses)

	require.Len(t, h.tx.frames, 3)
	for i, frame := range h.tx.frames {
		require.Len(t, frame, 42)
		assert.Equal(t, []byte{0x08, 0x06}, frame[12:14])

		hdr, p, err := arp.ParseFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, ethernet.Broadcast, hdr.Dst)
		assert.Equal(t, mac, hdr.Src)
		assert.Equal(t, arp.OpRequest, p.Operation)
		assert.Equal(t, mac, p.SenderMAC)
		assert.Equal(t, ethernet.Broadcast, p.TargetMAC)
		assert.True(t, p.SenderIP.Equal(SentinelIP))
		assert.True(t, p.TargetIP.Equal(SentinelIP))

		if i > 0 {
			assert.GreaterOrEqual(t, h.tx.times[i].Sub(h.tx.times[i-1]), h.announcer.Interval)
		}
	}
}

// A failed lease still ends in CONFIGURED; the interface is left without
// an address.
func TestDHCPClientFailureStillConfigured(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "wan0"})
	h.runner.Set("udhcpc -i wan0", commandtest.Result{Err: commandtest.ExitError()})

	require.NoError(t, h.c.Configure(context.Background(), &config.Interface{Name: "wan0", Type: config.KindEthernet, Mode: config.ModeDHCP}))

	l, _ := h.ctl.Get("wan0")
	assert.Equal(t, link.StateConfigured, l.Description)
	assert.Empty(t, l.Addresses)
}

func TestDHCPClientSpawnFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "wan0"})
	h.runner.Set("udhcpc", commandtest.Result{Err: errors.New("exec: \"udhcpc\": executable file not found in $PATH")})

	err := h.c.Configure(context.Background(), &config.Interface{Name: "wan0", Type: config.KindEthernet, Mode: config.ModeDHCP})
	var ifErr *InterfaceError
	require.ErrorAs(t, err, &ifErr)
	assert.Equal(t, "dhcp client", ifErr.Op)
}

func TestConfiguredEventPublished(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "wan0"})

	bus := local.NewBus()
	defer bus.Close()
	h.c.Bus = bus

	got := make(chan events.LinkStateEvent, 4)
	bus.Subscribe(events.TopicLinkState, func(ev events.Event) {
		got <- ev.Data.(events.LinkStateEvent)
	})

	require.NoError(t, h.c.Configure(context.Background(), &config.Interface{Name: "wan0", Type: config.KindEthernet, Mode: config.ModeDHCP}))

	var states []string
	for len(states) < 2 {
		select {
		case ev := <-got:
			assert.Equal(t, "wan0", ev.Interface)
			states = append(states, ev.State)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", states)
		}
	}
	assert.ElementsMatch(t, []string{link.StateConfiguring, link.StateConfigured}, states)
}

func TestTeardownEthernet(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "lan0", Up: true, Addresses: []string{"10.0.0.1/24"}, Description: link.StateConfigured})

	require.NoError(t, h.c.Teardown(context.Background(), &config.Interface{Name: "lan0", Type: config.KindEthernet}))

	l, _ := h.ctl.Get("lan0")
	assert.False(t, l.Up)
	assert.Empty(t, l.Addresses)
	assert.Equal(t, link.StateNone, l.Description)
}

func TestTeardownBridgeIdempotent(t *testing.T) {
	h := newHarness(t)
	h.ctl.Add(&linktest.Link{Name: "lan0"})

	spec := &config.Interface{
		Name:    "br0",
		Type:    config.KindBridge,
		Mode:    config.ModeStatic,
		Address: "192.168.10.1",
		Netmask: netmask(24),
		Members: []string{"lan0", "lan1"},
	}
	h.ctl.Add(&linktest.Link{Name: "lan1"})
	require.NoError(t, h.c.Configure(context.Background(), spec))

	// lan1 vanishes before reset; it is skipped.
	require.NoError(t, h.ctl.Delete(context.Background(), "lan1"))

	require.NoError(t, h.c.Teardown(context.Background(), spec))
	_, ok := h.ctl.Get("br0")
	assert.False(t, ok)

	lan0, _ := h.ctl.Get("lan0")
	assert.Empty(t, lan0.Master)
	assert.False(t, lan0.Up)

	require.NoError(t, h.c.Teardown(context.Background(), spec))
	require.NoError(t, h.c.Teardown(context.Background(), spec))
}

func filter(calls []string, prefix string) []string {
	var out []string
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
