// Package control is the daemon's local control socket. It owns the live
// configuration and serializes reset and reload against each other and
// against the running configure pass.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/veesix-networks/linkd/internal/metrics"
	"github.com/veesix-networks/linkd/pkg/component"
	"github.com/veesix-networks/linkd/pkg/config"
	"github.com/veesix-networks/linkd/pkg/logger"
)

const (
	CommandReset  = "reset"
	CommandReload = "reload"
)

const (
	maxCommandLen = 256
	readTimeout   = 10 * time.Second
)

var ErrAlreadyRunning = errors.New("control socket already in use")

// Runner runs configure and reset passes.
type Runner interface {
	Configure(ctx context.Context, cfg *config.Config) error
	Reset(ctx context.Context, cfg *config.Config) error
}

// Loader re-reads the configuration from its source.
type Loader func() (*config.Config, error)

type pass struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Daemon struct {
	*component.Base
	logger *slog.Logger

	socket string
	runner Runner
	load   Loader

	// OnFatal receives errors that end the daemon: a failed configure
	// pass or a failed teardown. It is called with internal locks held and
	// must not block or call Stop.
	OnFatal func(error)

	mu   sync.Mutex
	cfg  *config.Config
	pass *pass
	ln   net.Listener

	// applied is false once a reset has torn the live configuration down,
	// until the next pass starts.
	applied bool
}

func NewDaemon(socket string, cfg *config.Config, runner Runner, load Loader) *Daemon {
	return &Daemon{
		Base:   component.NewBase("control"),
		logger: logger.Get(logger.Control),
		socket: socket,
		runner: runner,
		load:   load,
		cfg:    cfg,
	}
}

// Config returns the live configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Start binds the socket, launches the first configure pass and starts
// accepting commands.
func (d *Daemon) Start(ctx context.Context) error {
	d.StartContext(ctx)

	ln, err := listen(d.socket)
	if err != nil {
		return err
	}
	d.ln = ln
	d.logger.Info("Control socket listening", "socket", d.socket)

	d.mu.Lock()
	d.startPass()
	d.mu.Unlock()

	d.Go(d.acceptLoop)
	return nil
}

// listen binds the unix socket. A leftover socket file nobody answers on
// is removed; a live one means another daemon owns it.
func listen(path string) (net.Listener, error) {
	ln, err := net.Listen("unix", path)
	if err == nil {
		return ln, nil
	}
	if !errors.Is(err, unix.EADDRINUSE) {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}

	conn, dialErr := net.DialTimeout("unix", path, time.Second)
	if dialErr == nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrAlreadyRunning)
	}
	if !errors.Is(dialErr, unix.ECONNREFUSED) {
		return nil, fmt.Errorf("%s: %w", path, ErrAlreadyRunning)
	}

	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	ln, err = net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return ln, nil
}

func (d *Daemon) Stop(ctx context.Context) error {
	d.logger.Info("Stopping control daemon")

	if d.ln != nil {
		d.ln.Close()
	}

	d.mu.Lock()
	d.stopPass()
	d.mu.Unlock()

	d.StopContext()
	return nil
}

func (d *Daemon) acceptLoop(ctx context.Context) {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Warn("Accept failed", "error", err)
			continue
		}
		d.serve(ctx, conn)
	}
}

func (d *Daemon) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	data, err := io.ReadAll(io.LimitReader(conn, maxCommandLen))
	if err != nil {
		d.logger.Warn("Failed to read command", "error", err)
		return
	}

	d.Handle(ctx, strings.TrimSpace(string(data)))
}

// Handle runs one command to completion. Unknown commands are ignored.
func (d *Daemon) Handle(ctx context.Context, cmd string) {
	switch cmd {
	case CommandReset:
		metrics.ControlCommands.WithLabelValues(cmd).Inc()
		d.reset(ctx)
	case CommandReload:
		metrics.ControlCommands.WithLabelValues(cmd).Inc()
		d.reload(ctx)
	default:
		metrics.ControlCommands.WithLabelValues("unknown").Inc()
		d.logger.Warn("Ignoring unknown command", "command", cmd)
	}
}

func (d *Daemon) reset(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("Resetting interfaces")
	d.teardown(ctx)
}

// teardown stops the running pass and resets the live configuration unless
// it is already torn down. It must be called with mu held.
func (d *Daemon) teardown(ctx context.Context) error {
	d.stopPass()
	if !d.applied {
		d.logger.Info("Interfaces already reset, skipping teardown")
		return nil
	}
	d.applied = false
	if err := d.runner.Reset(ctx, d.cfg); err != nil {
		d.fatal(err)
		return err
	}
	return nil
}

// reload keeps the previous configuration when the new one fails to load,
// so the interfaces are configured again either way.
func (d *Daemon) reload(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("Reloading configuration")
	if err := d.teardown(ctx); err != nil {
		return
	}

	cfg, err := d.load()
	if err != nil {
		d.logger.Error("Failed to load configuration, keeping the previous one", "error", err)
	} else {
		d.cfg = cfg
	}

	d.startPass()
}

// startPass must be called with mu held.
func (d *Daemon) startPass() {
	ctx, cancel := context.WithCancel(d.Ctx)
	p := &pass{cancel: cancel, done: make(chan struct{})}
	cfg := d.cfg

	d.Go(func(context.Context) {
		defer close(p.done)
		defer cancel()

		err := d.runner.Configure(ctx, cfg)
		if err != nil && ctx.Err() == nil {
			d.fatal(fmt.Errorf("configure: %w", err))
		}
	})
	d.pass = p
	d.applied = true
}

// stopPass cancels the running pass and waits for it. It must be called
// with mu held.
func (d *Daemon) stopPass() {
	if d.pass == nil {
		return
	}
	d.pass.cancel()
	<-d.pass.done
	d.pass = nil
}

func (d *Daemon) fatal(err error) {
	d.logger.Error("Fatal error", "error", err)
	if d.OnFatal != nil {
		d.OnFatal(err)
	}
}
