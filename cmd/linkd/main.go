package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/veesix-networks/linkd/internal/control"
	"github.com/veesix-networks/linkd/pkg/config"
	"github.com/veesix-networks/linkd/pkg/version"
)

const usage = `Usage: linkd <command> [flags]

Commands:
  run        configure interfaces and serve the control socket
  install    register linkd with the system service manager
  uninstall  remove the service registration
  reset      tear down all configured interfaces
  reload     tear down, re-read the configuration and configure again
  status     show the live state of every declared interface
  tui        interactive interface (not implemented)
  version    print build information

Run 'linkd <command> -h' for command flags.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.ReadCloser, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "run":
		return runDaemon(args, stderr)
	case "install", "uninstall":
		return controlService(cmd, args, stdout, stderr)
	case control.CommandReset, control.CommandReload:
		return sendCommand(cmd, args, stdin, stdout, stderr)
	case "status":
		return showStatus(args, stdout, stderr)
	case "tui":
		fmt.Fprintln(stderr, "linkd: tui is not implemented")
		return 2
	case "version":
		fmt.Fprintln(stdout, version.Full())
		return 0
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "linkd: unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

type commonFlags struct {
	config string
	socket string
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet("linkd "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	c := &commonFlags{}
	fs.StringVar(&c.config, "config", config.DefaultPath, "Path to configuration file")
	fs.StringVar(&c.socket, "socket", "", "Control socket path (default from configuration)")
	return fs, c
}

// socketPath prefers the flag, then the configuration, then the default.
// An unreadable configuration is not an error here; the client only needs
// the socket.
func (c *commonFlags) socketPath() string {
	if c.socket != "" {
		return c.socket
	}
	if cfg, err := config.Load(c.config); err == nil {
		return cfg.Daemon.Socket
	}
	return config.DefaultSocket
}
