package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/veesix-networks/linkd/internal/control"
)

// sendTimeout covers the daemon tearing down and, for reload, re-reading
// the configuration. The configure pass itself runs after the reply.
const sendTimeout = 5 * time.Minute

func sendCommand(cmd string, args []string, stdin io.ReadCloser, stdout, stderr io.Writer) int {
	fs, flags := newFlagSet(cmd, stderr)
	yes := fs.Bool("y", false, "Do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !*yes {
		ok, err := confirm(fmt.Sprintf("%s all interfaces? [y/N] ", cmd), stdin, stdout)
		if err != nil {
			fmt.Fprintf(stderr, "linkd: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(stdout, "Aborted.")
			return 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := control.Send(ctx, flags.socketPath(), cmd); err != nil {
		fmt.Fprintf(stderr, "linkd: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "linkd: %s done\n", cmd)
	return 0
}

func confirm(prompt string, stdin io.ReadCloser, stdout io.Writer) (bool, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		Stdin:           stdin,
		Stdout:          stdout,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
