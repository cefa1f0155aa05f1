// Package command wraps process spawning for the external collaborators
// the daemon drives: DHCP client and server, hook scripts, and the service
// manager.
package command

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Runner spawns external processes.
type Runner interface {
	// Output runs the command to completion and returns its combined
	// output. A non-zero exit is reported as an *exec.ExitError.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Run runs the command to completion without capturing its output, for
	// programs that daemonize and would otherwise hold the output pipe open.
	Run(ctx context.Context, name string, args ...string) error

	// Start spawns the command and returns without waiting for it.
	Start(name string, args ...string) error
}

// Exec runs commands with os/exec.
type Exec struct{}

func (Exec) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func (Exec) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Start reaps the child on a background goroutine so fire-and-forget
// processes do not linger as zombies.
func (Exec) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	go cmd.Wait()
	return nil
}

// IsExitError reports whether err is a process that ran and exited
// non-zero, as opposed to one that could not be spawned at all.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
