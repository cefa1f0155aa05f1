// Package service starts and stops system services through the host's
// service manager.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/veesix-networks/linkd/pkg/command"
	"github.com/veesix-networks/linkd/pkg/logger"
)

type Manager struct {
	Binary string
	Cmd    command.Runner

	logger *slog.Logger
}

func New(binary string, cmd command.Runner) *Manager {
	return &Manager{
		Binary: binary,
		Cmd:    cmd,
		logger: logger.Get(logger.Service),
	}
}

// Start starts each service in order. Failures are logged, never returned.
func (m *Manager) Start(ctx context.Context, services ...string) {
	for _, name := range services {
		m.run(ctx, name, "start")
	}
}

// Stop stops each service in order. Failures are logged, never returned.
func (m *Manager) Stop(ctx context.Context, services ...string) {
	for _, name := range services {
		m.run(ctx, name, "stop")
	}
}

func (m *Manager) run(ctx context.Context, name, action string) {
	log := m.logger
	if log == nil {
		log = logger.Get(logger.Service)
	}

	out, err := m.Cmd.Output(ctx, m.Binary, name, action)
	output := strings.TrimSpace(string(out))
	if err != nil {
		log.Warn("Service command failed", "service", name, "action", action, "error", err, "output", output)
		return
	}
	log.Info("Service command succeeded", "service", name, "action", action, "output", output)
}
