// Package configurator brings a single declared interface from its raw OS
// state to CONFIGURED, and back.
package configurator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/veesix-networks/linkd/internal/metrics"
	"github.com/veesix-networks/linkd/pkg/config"
	"github.com/veesix-networks/linkd/pkg/dhcp"
	"github.com/veesix-networks/linkd/pkg/events"
	"github.com/veesix-networks/linkd/pkg/hooks"
	"github.com/veesix-networks/linkd/pkg/link"
	"github.com/veesix-networks/linkd/pkg/logger"
)

// SentinelIP is the coordination address announced after a failover
// reclaim. It is not the interface's own address.
var SentinelIP = net.IPv4(10, 10, 99, 1)

type DHCPClient interface {
	Acquire(ctx context.Context, ifname string, probe bool) (bool, error)
}

type DHCPServer interface {
	Launch(ctx context.Context, s *dhcp.Server) (string, error)
}

type Failover interface {
	Run(ctx context.Context, iface *link.Interface) (bool, error)
}

type Announcer interface {
	Announce(ctx context.Context, ifname string, mac net.HardwareAddr, ip net.IP) (int, error)
}

type Hooks interface {
	Run(ctx context.Context, hook, ifname string) bool
}

type Configurator struct {
	Link         link.Controller
	DHCPClient   DHCPClient
	DHCPServer   DHCPServer
	Failover     Failover
	Announcer    Announcer
	Hooks        Hooks
	Bus          events.Bus
	LeaseSeconds uint32

	logger *slog.Logger
}

func (c *Configurator) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logger.Get(logger.Configurator)
}

// Configure runs the type-specific sequence for spec and then the shared
// addressing steps. Every returned error is fatal.
func (c *Configurator) Configure(ctx context.Context, spec *config.Interface) error {
	if spec.Mode == config.ModeStatic && !spec.HasStaticAddress() {
		return fail(spec.Name, "configure", ErrStaticAddress)
	}

	iface := link.New(c.Link, spec.Name)

	var err error
	switch spec.Type {
	case config.KindBridge:
		err = c.configureBridge(ctx, iface, spec)
	default:
		err = c.configureEthernet(ctx, iface, spec)
	}
	if err != nil {
		return err
	}

	return c.configureGeneric(ctx, iface, spec)
}

func (c *Configurator) configureEthernet(ctx context.Context, iface *link.Interface, spec *config.Interface) error {
	exists, err := iface.Exists(ctx)
	if err != nil {
		return fail(spec.Name, "lookup", err)
	}
	if !exists {
		return fail(spec.Name, "lookup", link.ErrNotFound)
	}

	c.runHook(ctx, hooks.PreUp, spec.Name)
	if err := iface.Up(ctx); err != nil {
		return fail(spec.Name, "up", err)
	}
	c.runHook(ctx, hooks.PostUp, spec.Name)
	return nil
}

func (c *Configurator) configureBridge(ctx context.Context, iface *link.Interface, spec *config.Interface) error {
	log := logger.WithInterface(c.log(), spec.Name)

	exists, err := iface.Exists(ctx)
	if err != nil {
		return fail(spec.Name, "lookup", err)
	}
	if exists {
		log.Warn("Bridge already exists, reusing it")
	} else if err := c.Link.CreateBridge(ctx, spec.Name); err != nil {
		return fail(spec.Name, "create bridge", err)
	}

	c.runHook(ctx, hooks.PreUp, spec.Name)
	if err := iface.Up(ctx); err != nil {
		return fail(spec.Name, "up", err)
	}
	c.runHook(ctx, hooks.PostUp, spec.Name)

	for _, name := range spec.Members {
		member := link.New(c.Link, name)

		exists, err := member.Exists(ctx)
		if err != nil {
			return fail(spec.Name, "member "+name, err)
		}
		if !exists {
			return fail(spec.Name, "member "+name, link.ErrNotFound)
		}
		if err := member.Up(ctx); err != nil {
			return fail(spec.Name, "member "+name+" up", err)
		}
		if err := member.SetMaster(ctx, spec.Name); err != nil {
			return fail(spec.Name, "member "+name+" attach", err)
		}
		log.Info("Attached member", "member", name)
	}

	return nil
}

func (c *Configurator) configureGeneric(ctx context.Context, iface *link.Interface, spec *config.Interface) error {
	log := logger.WithInterface(c.log(), spec.Name)

	reclaimed := false
	if spec.Failover {
		var err error
		reclaimed, err = c.Failover.Run(ctx, iface)
		if err != nil {
			return fail(spec.Name, "failover", err)
		}
	}

	if err := c.setState(ctx, iface, link.StateConfiguring); err != nil {
		return err
	}

	switch spec.Mode {
	case config.ModeDHCP:
		ok, err := c.DHCPClient.Acquire(ctx, spec.Name, false)
		if err != nil {
			return fail(spec.Name, "dhcp client", err)
		}
		if !ok {
			log.Warn("DHCP client failed, interface left without an address")
		}
	case config.ModeStatic:
		cidr := fmt.Sprintf("%s/%d", spec.Address, *spec.Netmask)
		if err := iface.AddAddress(ctx, cidr); err != nil {
			return fail(spec.Name, "add address", err)
		}
	}

	if spec.Gateway != "" {
		gw := net.ParseIP(spec.Gateway)
		if gw == nil {
			return fail(spec.Name, "gateway", fmt.Errorf("invalid gateway %q", spec.Gateway))
		}
		if err := iface.AddDefaultRoute(ctx, gw); err != nil {
			return fail(spec.Name, "gateway", err)
		}
	}

	if spec.DHCP.Enabled {
		server := &dhcp.Server{
			Start:        spec.DHCP.Start,
			End:          spec.DHCP.End,
			Interface:    spec.Name,
			DNS:          spec.DHCP.DNS,
			Netmask:      spec.DHCP.Netmask,
			Router:       spec.DHCP.Router,
			LeaseSeconds: c.LeaseSeconds,
		}
		if _, err := c.DHCPServer.Launch(ctx, server); err != nil {
			return fail(spec.Name, "dhcp server", err)
		}
	}

	if err := c.setState(ctx, iface, link.StateConfigured); err != nil {
		return err
	}
	metrics.InterfacesConfigured.WithLabelValues(spec.Name, string(spec.Type)).Inc()
	log.Info("Interface configured", "type", spec.Type, "mode", spec.Mode)

	if reclaimed {
		if err := c.announce(ctx, iface); err != nil {
			return err
		}
	}

	return nil
}

func (c *Configurator) announce(ctx context.Context, iface *link.Interface) error {
	mac, err := iface.HardwareAddr(ctx)
	if err != nil {
		return fail(iface.Name(), "announce", err)
	}

	metrics.FailoverReclaims.WithLabelValues(iface.Name()).Inc()
	sent, err := c.Announcer.Announce(ctx, iface.Name(), mac, SentinelIP)
	metrics.ARPAnnouncements.WithLabelValues(iface.Name()).Add(float64(sent))
	if err != nil {
		return fail(iface.Name(), "announce", err)
	}
	return nil
}

func (c *Configurator) setState(ctx context.Context, iface *link.Interface, state string) error {
	if err := iface.SetDescription(ctx, state); err != nil {
		return fail(iface.Name(), "set description", err)
	}

	if c.Bus != nil {
		c.Bus.Publish(events.TopicLinkState, events.Event{
			Type:      events.TopicLinkState,
			Timestamp: time.Now(),
			Source:    logger.Configurator,
			Data:      events.LinkStateEvent{Interface: iface.Name(), State: state},
		})
	}
	return nil
}

func (c *Configurator) runHook(ctx context.Context, hook, ifname string) {
	if c.Hooks != nil {
		c.Hooks.Run(ctx, hook, ifname)
	}
}
