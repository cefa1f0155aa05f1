// Package dhcp drives the external DHCP client and server processes. No
// DHCP protocol is spoken here.
package dhcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veesix-networks/linkd/pkg/command"
	"github.com/veesix-networks/linkd/pkg/logger"
)

// Client runs the DHCP client against an interface.
type Client struct {
	Runner command.Runner
	Binary string

	// ProbeTimeout bounds a probe-mode run. Zero leaves it to the client's
	// own retry limits.
	ProbeTimeout time.Duration

	logger *slog.Logger
}

func NewClient(runner command.Runner, binary string, probeTimeout time.Duration) *Client {
	return &Client{
		Runner:       runner,
		Binary:       binary,
		ProbeTimeout: probeTimeout,
		logger:       logger.Get(logger.DHCP),
	}
}

// Acquire requests a lease on ifname. In probe mode the client stays in the
// foreground, gives up if no lease is offered and exits after obtaining one.
//
// A client that ran and failed returns (false, nil). Only a client that
// could not be run at all is an error.
func (c *Client) Acquire(ctx context.Context, ifname string, probe bool) (bool, error) {
	parent := ctx
	args := []string{"-i", ifname}
	if probe {
		args = append(args, "-n", "-q")
		if c.ProbeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.ProbeTimeout)
			defer cancel()
		}
	}

	log := c.logger
	if log == nil {
		log = logger.Get(logger.DHCP)
	}

	var (
		out []byte
		err error
	)
	if probe {
		out, err = c.Runner.Output(ctx, c.Binary, args...)
	} else {
		// udhcpc forks into the background once bound.
		err = c.Runner.Run(ctx, c.Binary, args...)
	}
	output := strings.TrimSpace(string(out))
	if err != nil {
		if parent.Err() != nil {
			return false, parent.Err()
		}
		if command.IsExitError(err) {
			log.Info("DHCP client did not obtain a lease", "interface", ifname, "probe", probe, "output", output)
			return false, nil
		}
		return false, fmt.Errorf("run %s on %q: %w", c.Binary, ifname, err)
	}

	log.Info("DHCP client obtained a lease", "interface", ifname, "probe", probe)
	log.Debug("DHCP client output", "interface", ifname, "output", output)
	return true, nil
}
