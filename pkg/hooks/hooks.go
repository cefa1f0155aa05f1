// Package hooks runs operator scripts around interface bring-up and
// teardown. A hook for interface I named H lives at <dir>/H.I.
package hooks

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/veesix-networks/linkd/pkg/command"
	"github.com/veesix-networks/linkd/pkg/logger"
)

const (
	PreUp    = "pre-up"
	PostUp   = "post-up"
	PreDown  = "pre-down"
	PostDown = "post-down"
)

type Runner struct {
	Dir string
	Cmd command.Runner

	logger *slog.Logger
}

func New(dir string, cmd command.Runner) *Runner {
	return &Runner{
		Dir:    dir,
		Cmd:    cmd,
		logger: logger.Get(logger.Hooks),
	}
}

func (r *Runner) Path(hook, ifname string) string {
	return filepath.Join(r.Dir, hook+"."+ifname)
}

// Run executes the hook if it exists. Hook failures are logged and
// otherwise ignored. It reports whether a hook was run.
func (r *Runner) Run(ctx context.Context, hook, ifname string) bool {
	log := r.logger
	if log == nil {
		log = logger.Get(logger.Hooks)
	}

	path := r.Path(hook, ifname)
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Cannot stat hook", "hook", hook, "interface", ifname, "path", path, "error", err)
		}
		return false
	}

	out, err := r.Cmd.Output(ctx, path)
	output := strings.TrimSpace(string(out))
	if err != nil {
		log.Warn("Hook failed", "hook", hook, "interface", ifname, "error", err, "output", output)
		return true
	}

	log.Info("Ran hook", "hook", hook, "interface", ifname)
	if output != "" {
		log.Debug("Hook output", "hook", hook, "interface", ifname, "output", output)
	}
	return true
}
