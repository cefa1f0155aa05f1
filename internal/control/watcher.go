package control

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/veesix-networks/linkd/pkg/component"
	"github.com/veesix-networks/linkd/pkg/logger"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher issues a reload when the configuration file changes. The parent
// directory is watched so editors that replace the file are seen too.
type Watcher struct {
	*component.Base
	logger *slog.Logger

	path     string
	handler  func(ctx context.Context, cmd string)
	Debounce time.Duration

	w *fsnotify.Watcher
}

func NewWatcher(path string, handler func(ctx context.Context, cmd string)) *Watcher {
	return &Watcher{
		Base:     component.NewBase("config-watcher"),
		logger:   logger.Get(logger.Config),
		path:     filepath.Clean(path),
		handler:  handler,
		Debounce: DefaultDebounce,
	}
}

func (w *Watcher) Start(ctx context.Context) error {
	w.StartContext(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.w = fw

	w.logger.Info("Watching configuration", "path", w.path)
	w.Go(w.loop)
	return nil
}

func (w *Watcher) Stop(ctx context.Context) error {
	if w.w != nil {
		w.w.Close()
	}
	w.StopContext()
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Configuration changed", "path", ev.Name, "op", ev.Op.String())
			fire = time.After(w.Debounce)

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)

		case <-fire:
			fire = nil
			w.logger.Info("Configuration file changed, reloading", "path", w.path)
			w.handler(ctx, CommandReload)
		}
	}
}
