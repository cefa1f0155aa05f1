package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/veesix-networks/linkd/pkg/config"
	"github.com/veesix-networks/linkd/pkg/link"
)

func showStatus(args []string, stdout, stderr io.Writer) int {
	fs, flags := newFlagSet("status", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(flags.config)
	if err != nil {
		fmt.Fprintf(stderr, "linkd: failed to load config: %v\n", err)
		return 1
	}

	ctl, err := link.NewNetlink(cfg.Daemon.NetNS)
	if err != nil {
		fmt.Fprintf(stderr, "linkd: %v\n", err)
		return 1
	}
	defer ctl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := printStatus(ctx, stdout, ctl, cfg); err != nil {
		fmt.Fprintf(stderr, "linkd: %v\n", err)
		return 1
	}
	return 0
}

// printStatus reads every declared interface's state from the OS. Nothing
// is taken from the daemon.
func printStatus(ctx context.Context, out io.Writer, ctl link.Controller, cfg *config.Config) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INTERFACE\tTYPE\tMODE\tLINK\tSTATE")

	for _, name := range cfg.InterfaceNames() {
		spec := cfg.Interfaces[name]
		iface := link.New(ctl, name)

		linkState, state := "absent", "-"
		exists, err := iface.Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			up, err := iface.IsUp(ctx)
			if err != nil {
				return err
			}
			linkState = "down"
			if up {
				linkState = "up"
			}

			desc, err := iface.Description(ctx)
			if err != nil {
				return err
			}
			if desc != "" {
				state = desc
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, spec.Type, spec.Mode, linkState, state)
	}

	return w.Flush()
}
