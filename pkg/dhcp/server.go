package dhcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/veesix-networks/linkd/pkg/command"
	"github.com/veesix-networks/linkd/pkg/logger"
)

const stemLen = 5

// Server is a lease range served on one interface.
type Server struct {
	Start        string
	End          string
	Interface    string
	DNS          string
	Netmask      string
	Router       string
	LeaseSeconds uint32
}

// Render returns the udhcpd configuration for s.
func (s *Server) Render() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "start %s\n", s.Start)
	fmt.Fprintf(&b, "end %s\n", s.End)
	fmt.Fprintf(&b, "interface %s\n", s.Interface)
	fmt.Fprintf(&b, "option dns %s\n", s.DNS)
	fmt.Fprintf(&b, "option subnet %s\n", s.Netmask)
	fmt.Fprintf(&b, "option router %s\n", s.Router)
	fmt.Fprintf(&b, "option lease %d\n", s.LeaseSeconds)
	return []byte(b.String())
}

// Launcher writes lease configurations and starts a DHCP server on each.
// Started servers are not tracked.
type Launcher struct {
	Runner command.Runner
	Dir    string
	Binary string

	newStem func() string
	logger  *slog.Logger
}

func NewLauncher(runner command.Runner, dir, binary string) *Launcher {
	return &Launcher{
		Runner:  runner,
		Dir:     dir,
		Binary:  binary,
		newStem: randomStem,
		logger:  logger.Get(logger.DHCP),
	}
}

func randomStem() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:stemLen]
}

// Launch writes s to <Dir>/<stem>.conf and starts the server on it. It
// returns the configuration path.
func (l *Launcher) Launch(ctx context.Context, s *Server) (string, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create lease directory: %w", err)
	}

	stem := l.newStem
	if stem == nil {
		stem = randomStem
	}
	path := filepath.Join(l.Dir, stem()+".conf")

	if err := renameio.WriteFile(path, s.Render(), 0o644); err != nil {
		return "", fmt.Errorf("write lease config: %w", err)
	}

	if err := l.Runner.Start(l.Binary, path); err != nil {
		return "", fmt.Errorf("start DHCP server on %q: %w", s.Interface, err)
	}

	log := l.logger
	if log == nil {
		log = logger.Get(logger.DHCP)
	}
	log.Info("Started DHCP server",
		"interface", s.Interface,
		"start", s.Start,
		"end", s.End,
		"config", path)

	return path, nil
}
