// Package orchestrator runs a configuration or reset pass over every
// declared interface, one goroutine per interface, ordered only by declared
// dependencies.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veesix-networks/linkd/internal/configurator"
	"github.com/veesix-networks/linkd/internal/metrics"
	"github.com/veesix-networks/linkd/pkg/config"
	"github.com/veesix-networks/linkd/pkg/events"
	"github.com/veesix-networks/linkd/pkg/hooks"
	"github.com/veesix-networks/linkd/pkg/link"
	"github.com/veesix-networks/linkd/pkg/logger"
)

// SkipLoopbackEnv, when set to a true value, leaves the loopback interface
// alone.
const SkipLoopbackEnv = "LINKD_SKIP_LOOPBACK"

const DefaultPollInterval = time.Second

type Configurator interface {
	Configure(ctx context.Context, spec *config.Interface) error
	Teardown(ctx context.Context, spec *config.Interface) error
}

type Hooks interface {
	Run(ctx context.Context, hook, ifname string) bool
}

type Services interface {
	Start(ctx context.Context, services ...string)
	Stop(ctx context.Context, services ...string)
}

type Orchestrator struct {
	Link         link.Controller
	Configurator Configurator
	Hooks        Hooks
	Services     Services

	// Bus, when set, wakes dependency waits as soon as a dependency reports
	// CONFIGURED. Polling stays the source of truth.
	Bus events.Bus

	PollInterval time.Duration
	SkipLoopback bool

	logger *slog.Logger
}

func New(ctl link.Controller, c Configurator, h Hooks, s Services, bus events.Bus) *Orchestrator {
	return &Orchestrator{
		Link:         ctl,
		Configurator: c,
		Hooks:        h,
		Services:     s,
		Bus:          bus,
		PollInterval: DefaultPollInterval,
		SkipLoopback: SkipLoopbackFromEnv(),
		logger:       logger.Get(logger.Orchestrator),
	}
}

// SkipLoopbackFromEnv parses SkipLoopbackEnv. Unset or unparseable values
// mean false.
func SkipLoopbackFromEnv() bool {
	v, err := strconv.ParseBool(os.Getenv(SkipLoopbackEnv))
	return err == nil && v
}

func (o *Orchestrator) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return logger.Get(logger.Orchestrator)
}

// Configure applies renames, raises loopback and configures every interface
// concurrently. The first fatal error cancels the remaining interfaces and
// is returned once all of them have stopped.
func (o *Orchestrator) Configure(ctx context.Context, cfg *config.Config) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, context.Canceled):
			result = "cancelled"
		case err != nil:
			result = "failed"
		}
		metrics.ConfigurePasses.WithLabelValues(result).Inc()
		o.log().Info("Configure pass finished", "result", result, "duration", time.Since(start))
	}()

	if err := o.applyRenames(ctx, cfg); err != nil {
		return err
	}
	if err := o.raiseLoopback(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range cfg.InterfaceNames() {
		spec := cfg.Interfaces[name]
		g.Go(func() error {
			return o.configureOne(gctx, cfg, spec)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) configureOne(ctx context.Context, cfg *config.Config, spec *config.Interface) error {
	if err := o.waitDependencies(ctx, cfg, spec); err != nil {
		return err
	}
	if err := o.Configurator.Configure(ctx, spec); err != nil {
		return err
	}
	if len(spec.Services) > 0 && o.Services != nil {
		o.Services.Start(ctx, spec.Services...)
	}
	return nil
}

func (o *Orchestrator) applyRenames(ctx context.Context, cfg *config.Config) error {
	for _, pair := range cfg.RenamePairs() {
		iface := link.New(o.Link, pair.From)

		exists, err := iface.Exists(ctx)
		if err != nil {
			return &configurator.InterfaceError{Interface: pair.From, Op: "rename", Err: err}
		}
		if !exists {
			return &configurator.InterfaceError{Interface: pair.From, Op: "rename", Err: link.ErrNotFound}
		}
		if err := iface.Rename(ctx, pair.To); err != nil {
			return &configurator.InterfaceError{Interface: pair.From, Op: "rename", Err: err}
		}
		o.log().Info("Renamed interface", "from", pair.From, "to", pair.To)
	}
	return nil
}

func (o *Orchestrator) raiseLoopback(ctx context.Context) error {
	if o.SkipLoopback {
		o.log().Debug("Leaving loopback alone", "env", SkipLoopbackEnv)
		return nil
	}

	lo := link.New(o.Link, link.Loopback)
	exists, err := lo.Exists(ctx)
	if err != nil {
		return &configurator.InterfaceError{Interface: link.Loopback, Op: "lookup", Err: err}
	}
	if !exists {
		return &configurator.InterfaceError{Interface: link.Loopback, Op: "lookup", Err: link.ErrNotFound}
	}
	if err := lo.Up(ctx); err != nil {
		return &configurator.InterfaceError{Interface: link.Loopback, Op: "up", Err: err}
	}
	return nil
}

// waitDependencies blocks until every dependency of spec reads CONFIGURED.
// A missing dependency is fatal, except a declared bridge, which its own
// task has not created yet.
func (o *Orchestrator) waitDependencies(ctx context.Context, cfg *config.Config, spec *config.Interface) error {
	if len(spec.Depends) == 0 {
		return nil
	}

	log := logger.WithInterface(o.log(), spec.Name)
	start := time.Now()

	wake := make(chan struct{}, 1)
	if o.Bus != nil {
		sub := o.Bus.Subscribe(events.TopicLinkState, func(ev events.Event) {
			e, ok := ev.Data.(events.LinkStateEvent)
			if !ok || e.State != link.StateConfigured || !slices.Contains(spec.Depends, e.Interface) {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		defer sub.Unsubscribe()
	}

	interval := o.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pending, err := o.pendingDependencies(ctx, cfg, spec)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			waited := time.Since(start)
			metrics.DependencyWait.WithLabelValues(spec.Name).Observe(waited.Seconds())
			log.Debug("Dependencies configured", "depends", spec.Depends, "waited", waited)
			return nil
		}

		log.Info("Waiting for dependencies", "pending", pending)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (o *Orchestrator) pendingDependencies(ctx context.Context, cfg *config.Config, spec *config.Interface) ([]string, error) {
	var pending []string
	for _, dep := range spec.Depends {
		d := link.New(o.Link, dep)

		exists, err := d.Exists(ctx)
		if err != nil {
			return nil, &configurator.InterfaceError{Interface: spec.Name, Op: "dependency " + dep, Err: err}
		}
		if !exists {
			if declared, ok := cfg.Interfaces[dep]; ok && declared.Type == config.KindBridge {
				pending = append(pending, dep)
				continue
			}
			return nil, &configurator.InterfaceError{Interface: spec.Name, Op: "dependency " + dep, Err: link.ErrNotFound}
		}

		desc, err := d.Description(ctx)
		if err != nil {
			return nil, &configurator.InterfaceError{Interface: spec.Name, Op: "dependency " + dep, Err: err}
		}
		if desc != link.StateConfigured {
			pending = append(pending, dep)
		}
	}
	return pending, nil
}

// Reset tears every interface down concurrently, then reverses the renames.
// Teardown errors are collected, not short-circuited, so one failing
// interface does not leave the others configured.
func (o *Orchestrator) Reset(ctx context.Context, cfg *config.Config) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	for _, name := range cfg.InterfaceNames() {
		spec := cfg.Interfaces[name]
		g.Go(func() error {
			if err := o.resetOne(ctx, spec); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	o.reverseRenames(ctx, cfg)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	o.log().Info("Reset complete", "interfaces", len(cfg.Interfaces))
	return nil
}

func (o *Orchestrator) resetOne(ctx context.Context, spec *config.Interface) error {
	o.runHook(ctx, hooks.PreDown, spec.Name)
	if len(spec.Services) > 0 && o.Services != nil {
		o.Services.Stop(ctx, spec.Services...)
	}
	if err := o.Configurator.Teardown(ctx, spec); err != nil {
		return err
	}
	o.runHook(ctx, hooks.PostDown, spec.Name)
	return nil
}

func (o *Orchestrator) reverseRenames(ctx context.Context, cfg *config.Config) {
	pairs := cfg.RenamePairs()
	for i := len(pairs) - 1; i >= 0; i-- {
		pair := pairs[i]
		iface := link.New(o.Link, pair.To)

		exists, err := iface.Exists(ctx)
		if err != nil || !exists {
			o.log().Warn("Cannot restore interface name", "from", pair.To, "to", pair.From, "error", err)
			continue
		}
		if err := iface.Rename(ctx, pair.From); err != nil {
			o.log().Warn("Failed to restore interface name", "from", pair.To, "to", pair.From, "error", err)
			continue
		}
		o.log().Info("Restored interface name", "from", pair.To, "to", pair.From)
	}
}

func (o *Orchestrator) runHook(ctx context.Context, hook, ifname string) {
	if o.Hooks != nil {
		o.Hooks.Run(ctx, hook, ifname)
	}
}
