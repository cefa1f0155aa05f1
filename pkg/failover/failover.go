// Package failover defers configuration of a segment that another router
// already serves, and reclaims it once that router disappears.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/veesix-networks/linkd/pkg/link"
	"github.com/veesix-networks/linkd/pkg/logger"
)

const DefaultInterval = 2 * time.Second

// Prober looks for a router by requesting a lease in the foreground.
type Prober interface {
	Acquire(ctx context.Context, ifname string, probe bool) (bool, error)
}

// Pinger returns an error when ip does not answer.
type Pinger interface {
	Ping(ctx context.Context, ip net.IP) error
}

type Protocol struct {
	Prober   Prober
	Pinger   Pinger
	Interval time.Duration

	logger *slog.Logger
}

func New(prober Prober, pinger Pinger) *Protocol {
	return &Protocol{
		Prober:   prober,
		Pinger:   pinger,
		Interval: DefaultInterval,
		logger:   logger.Get(logger.Failover),
	}
}

// Run probes for an incumbent router on iface. With none present it returns
// false at once. Otherwise it waits until the router stops answering, flushes
// the addresses the probe left behind and returns true. The wait ends only
// on reclaim or cancellation.
func (p *Protocol) Run(ctx context.Context, iface *link.Interface) (bool, error) {
	log := logger.WithInterface(p.log(), iface.Name())

	if err := iface.SetDescription(ctx, link.StateFailoverProbing); err != nil {
		return false, err
	}

	found, err := p.Prober.Acquire(ctx, iface.Name(), true)
	if err != nil {
		return false, fmt.Errorf("failover probe: %w", err)
	}
	if !found {
		log.Info("No router on segment")
		return false, nil
	}

	if err := iface.SetDescription(ctx, link.StateFailoverWaiting); err != nil {
		return false, err
	}

	gw, err := iface.Gateway(ctx)
	if err != nil {
		return false, fmt.Errorf("failover gateway: %w", err)
	}
	log.Info("Router present, waiting for it to go away", "gateway", gw.String())

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	for {
		if err := p.Pinger.Ping(ctx, gw); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			log.Info("Router unreachable, reclaiming segment", "gateway", gw.String(), "reason", err)
			break
		}
		log.Debug("Router still reachable", "gateway", gw.String())

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}

	if err := iface.FlushAddresses(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Protocol) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return logger.Get(logger.Failover)
}
