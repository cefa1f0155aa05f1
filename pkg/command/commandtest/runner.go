// Package commandtest provides a recording command.Runner.
package commandtest

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/veesix-networks/linkd/pkg/command"
)

// Result is what a faked command returns.
type Result struct {
	Output []byte
	Err    error
}

// ExitError is a non-zero exit as returned by os/exec.
func ExitError() error {
	return &exec.ExitError{}
}

// Runner records every invocation as "name arg...". Results are looked up
// by the full command line first, then by the program name.
type Runner struct {
	mu      sync.Mutex
	calls   []string
	started []string
	results map[string]Result

	// Hook, when set, runs before each Output or Run call returns.
	Hook func(ctx context.Context, line string)
}

var _ command.Runner = (*Runner)(nil)

func New() *Runner {
	return &Runner{results: make(map[string]Result)}
}

func (r *Runner) Set(key string, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[key] = res
}

func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *Runner) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func (r *Runner) lookup(name string, args []string) (string, Result) {
	line := strings.Join(append([]string{name}, args...), " ")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, line)
	if res, ok := r.results[line]; ok {
		return line, res
	}
	return line, r.results[name]
}

func (r *Runner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	line, res := r.lookup(name, args)
	if r.Hook != nil {
		r.Hook(ctx, line)
	}
	return res.Output, res.Err
}

func (r *Runner) Run(ctx context.Context, name string, args ...string) error {
	line, res := r.lookup(name, args)
	if r.Hook != nil {
		r.Hook(ctx, line)
	}
	return res.Err
}

func (r *Runner) Start(name string, args ...string) error {
	line := strings.Join(append([]string{name}, args...), " ")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, line)
	if res, ok := r.results[line]; ok {
		return res.Err
	}
	return r.results[name].Err
}
