package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kardianos/service"

	"github.com/veesix-networks/linkd/internal/configurator"
	"github.com/veesix-networks/linkd/internal/control"
	"github.com/veesix-networks/linkd/internal/metrics"
	"github.com/veesix-networks/linkd/internal/orchestrator"
	"github.com/veesix-networks/linkd/pkg/arp"
	"github.com/veesix-networks/linkd/pkg/command"
	"github.com/veesix-networks/linkd/pkg/component"
	"github.com/veesix-networks/linkd/pkg/config"
	"github.com/veesix-networks/linkd/pkg/dhcp"
	"github.com/veesix-networks/linkd/pkg/events"
	"github.com/veesix-networks/linkd/pkg/events/local"
	"github.com/veesix-networks/linkd/pkg/failover"
	"github.com/veesix-networks/linkd/pkg/hooks"
	"github.com/veesix-networks/linkd/pkg/link"
	"github.com/veesix-networks/linkd/pkg/logger"
	svc "github.com/veesix-networks/linkd/pkg/service"
	"github.com/veesix-networks/linkd/pkg/version"
)

const stopTimeout = 30 * time.Second

func serviceConfig(configPath string) *service.Config {
	return &service.Config{
		Name:        "linkd",
		DisplayName: "linkd network interface daemon",
		Description: "Configures network interfaces and serves the linkd control socket.",
		Arguments:   []string{"run", "-config", configPath},
	}
}

// program adapts the daemon to the service manager.
type program struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger

	ctl   *link.Netlink
	bus   events.Bus
	comps *component.Orchestrator
	fatal chan error

	stopOnce sync.Once
	stopErr  error
}

func (p *program) Start(s service.Service) error {
	ctl, err := link.NewNetlink(p.cfg.Daemon.NetNS)
	if err != nil {
		return err
	}
	p.ctl = ctl
	p.bus = local.NewBus()
	p.fatal = make(chan error, 1)

	runner := command.Exec{}
	client := dhcp.NewClient(runner, p.cfg.Daemon.DHCPClient, p.cfg.Daemon.ProbeTimeout)
	hookRunner := hooks.New(p.cfg.Daemon.HooksDir, runner)

	conf := &configurator.Configurator{
		Link:         ctl,
		DHCPClient:   client,
		DHCPServer:   dhcp.NewLauncher(runner, p.cfg.Daemon.LeaseDir, p.cfg.Daemon.DHCPServer),
		Failover:     failover.New(client, failover.ICMPPinger{}),
		Announcer:    arp.NewAnnouncer(arp.RawTransmitter{}),
		Hooks:        hookRunner,
		Bus:          p.bus,
		LeaseSeconds: p.cfg.DHCP.DefaultLeaseTime,
	}
	orch := orchestrator.New(ctl, conf, hookRunner, svc.New(p.cfg.Daemon.ServiceManager, runner), p.bus)

	daemon := control.NewDaemon(p.cfg.Daemon.Socket, p.cfg, orch, func() (*config.Config, error) {
		return config.Load(p.configPath)
	})
	daemon.OnFatal = func(err error) {
		select {
		case p.fatal <- err:
		default:
		}
	}

	p.comps = component.NewOrchestrator()
	if p.cfg.Daemon.MetricsAddress != "" {
		if err := metrics.Registry.Register(metrics.NewBusCollector(p.bus)); err != nil {
			p.log.Warn("Failed to register event bus metrics", "error", err)
		}
		p.comps.Register(metrics.NewServer(p.cfg.Daemon.MetricsAddress))
	}
	p.comps.Register(daemon)
	if p.cfg.Daemon.WatchConfig {
		p.comps.Register(control.NewWatcher(p.configPath, daemon.Handle))
	}

	if err := p.comps.Start(context.Background()); err != nil {
		p.release()
		return err
	}

	go p.watchFatal(s)

	p.log.Info("linkd started", "version", version.Version, "config", p.configPath, "interfaces", len(p.cfg.Interfaces))
	return nil
}

// watchFatal exits the process with status 1 on the first fatal error.
func (p *program) watchFatal(s service.Service) {
	err := <-p.fatal
	p.log.Error("Shutting down after fatal error", "error", err)
	if stopErr := p.shutdown(); stopErr != nil {
		p.log.Error("Shutdown failed", "error", stopErr)
	}
	os.Exit(1)
}

func (p *program) Stop(s service.Service) error {
	return p.shutdown()
}

// shutdown runs once, whether triggered by the service manager or by a
// fatal error.
func (p *program) shutdown() error {
	p.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()

		if p.comps != nil {
			p.stopErr = p.comps.Stop(ctx)
		}
		p.release()
		p.log.Info("linkd stopped")
	})
	return p.stopErr
}

func (p *program) release() {
	if p.bus != nil {
		p.bus.Close()
	}
	if p.ctl != nil {
		p.ctl.Close()
	}
}

func loggingOptions(cfg config.LoggingConfig) logger.Options {
	components := make(map[string]logger.LogLevel, len(cfg.Components))
	for name, lvl := range cfg.Components {
		components[name] = logger.LogLevel(lvl)
	}
	return logger.Options{
		Format:     cfg.Format,
		Level:      logger.LogLevel(cfg.Level),
		Components: components,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
}

func runDaemon(args []string, stderr io.Writer) int {
	fs, flags := newFlagSet("run", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath, err := filepath.Abs(flags.config)
	if err != nil {
		fmt.Fprintf(stderr, "linkd: %v\n", err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "linkd: failed to load config: %v\n", err)
		return 1
	}
	if flags.socket != "" {
		cfg.Daemon.Socket = flags.socket
	}

	logger.Configure(loggingOptions(cfg.Logging))
	log := logger.Get(logger.Main)

	prg := &program{configPath: configPath, cfg: cfg, log: log}
	s, err := service.New(prg, serviceConfig(configPath))
	if err != nil {
		log.Error("Failed to create service", "error", err)
		return 1
	}

	if err := s.Run(); err != nil {
		if errors.Is(err, control.ErrAlreadyRunning) {
			log.Error("Another linkd already owns the control socket", "socket", cfg.Daemon.Socket)
		} else {
			log.Error("Daemon failed", "error", err)
		}
		return 1
	}
	return 0
}

func controlService(action string, args []string, stdout, stderr io.Writer) int {
	fs, flags := newFlagSet(action, stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath, err := filepath.Abs(flags.config)
	if err != nil {
		fmt.Fprintf(stderr, "linkd: %v\n", err)
		return 1
	}

	s, err := service.New(&program{}, serviceConfig(configPath))
	if err != nil {
		fmt.Fprintf(stderr, "linkd: %v\n", err)
		return 1
	}
	if err := service.Control(s, action); err != nil {
		fmt.Fprintf(stderr, "linkd: %s: %v\n", action, err)
		return 1
	}

	fmt.Fprintf(stdout, "linkd: %s done\n", action)
	return 0
}
