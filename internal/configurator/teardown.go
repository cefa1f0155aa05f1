package configurator

import (
	"context"

	"github.com/veesix-networks/linkd/pkg/config"
	"github.com/veesix-networks/linkd/pkg/link"
	"github.com/veesix-networks/linkd/pkg/logger"
)

// Teardown reverses Configure. A bridge that no longer exists is skipped,
// so tearing down twice is safe.
func (c *Configurator) Teardown(ctx context.Context, spec *config.Interface) error {
	iface := link.New(c.Link, spec.Name)

	if spec.Type == config.KindBridge {
		return c.teardownBridge(ctx, iface, spec)
	}
	return c.release(ctx, iface)
}

func (c *Configurator) teardownBridge(ctx context.Context, iface *link.Interface, spec *config.Interface) error {
	log := logger.WithInterface(c.log(), spec.Name)

	exists, err := iface.Exists(ctx)
	if err != nil {
		return fail(spec.Name, "lookup", err)
	}
	if !exists {
		log.Info("Bridge already gone")
		return nil
	}

	for _, name := range spec.Members {
		member := link.New(c.Link, name)

		exists, err := member.Exists(ctx)
		if err != nil || !exists {
			log.Warn("Skipping absent member", "member", name, "error", err)
			continue
		}
		if err := member.ClearMaster(ctx); err != nil {
			log.Warn("Failed to detach member", "member", name, "error", err)
		}
		if err := member.Down(ctx); err != nil {
			log.Warn("Failed to bring member down", "member", name, "error", err)
		}
	}

	if err := c.release(ctx, iface); err != nil {
		return err
	}
	if err := iface.Delete(ctx); err != nil {
		return fail(spec.Name, "delete", err)
	}
	log.Info("Bridge removed")
	return nil
}

// release brings the link down and clears what Configure set on it.
func (c *Configurator) release(ctx context.Context, iface *link.Interface) error {
	if err := iface.Down(ctx); err != nil {
		return fail(iface.Name(), "down", err)
	}
	if err := iface.FlushAddresses(ctx); err != nil {
		return fail(iface.Name(), "flush", err)
	}
	if err := iface.SetDescription(ctx, link.StateNone); err != nil {
		return fail(iface.Name(), "clear description", err)
	}
	return nil
}
