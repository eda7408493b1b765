// Package target runs local automation commands (tmux, osascript, open,
// terminal CLIs) with a per-attempt timeout and retries for read-only queries.
package target

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os/exec"
	"strings"
	"time"

	"github.com/g960059/agthud/internal/config"
)

var (
	ErrEmptyCommand  = errors.New("empty command")
	ErrCommandFailed = errors.New("command failed")
)

type RunResult struct {
	Output   string
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// tmux subcommands that only read server state.
var readOnlyTmux = map[string]bool{
	"list-windows":    true,
	"list-sessions":   true,
	"list-clients":    true,
	"display-message": true,
}

// Output fragments that are a final answer from tmux, not a transient fault.
var definitiveTmux = []string{"no server running", "can't find session", "no current client"}

type Executor struct {
	timeout time.Duration
	delays  []time.Duration
	runner  Runner
}

func NewExecutor(cfg config.Config) *Executor {
	return &Executor{timeout: cfg.CommandTimeout, delays: cfg.RetryBackoff, runner: OSRunner{}}
}

func NewExecutorWithRunner(cfg config.Config, runner Runner) *Executor {
	e := NewExecutor(cfg)
	e.runner = runner
	return e
}

// Run executes command once, or up to len(RetryBackoff)+1 times for a
// read-only tmux query. Commands that change what is on screen never repeat.
func (e *Executor) Run(ctx context.Context, command []string) (RunResult, error) {
	if len(command) == 0 {
		return RunResult{}, ErrEmptyCommand
	}
	var delays []time.Duration
	if readOnly(command) {
		delays = e.delays
	}

	for attempt := 0; ; attempt++ {
		out, took, err := e.once(ctx, command)
		if err == nil {
			return RunResult{Output: string(out), Duration: took}, nil
		}
		if ctx.Err() != nil {
			return RunResult{}, ctx.Err()
		}
		if attempt >= len(delays) || definitive(out) {
			return failed(command, out, err)
		}
		if !sleep(ctx, jittered(delays[attempt])) {
			return RunResult{}, ctx.Err()
		}
	}
}

func (e *Executor) once(ctx context.Context, command []string) ([]byte, time.Duration, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := e.runner.Run(ctx, command[0], command[1:]...)
	return out, time.Since(start), err
}

func failed(command []string, out []byte, err error) (RunResult, error) {
	detail := strings.TrimSpace(string(out))
	if detail == "" {
		return RunResult{}, fmt.Errorf("%w: %s: %w", ErrCommandFailed, command[0], err)
	}
	return RunResult{Output: string(out)}, fmt.Errorf("%w: %s: %s: %w", ErrCommandFailed, command[0], detail, err)
}

// jittered adds up to a quarter of d so concurrent callers spread out.
func jittered(d time.Duration) time.Duration {
	if d/4 <= 0 {
		return d
	}
	return d + rand.N(d/4)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func readOnly(command []string) bool {
	return len(command) >= 2 && command[0] == "tmux" && readOnlyTmux[strings.ToLower(command[1])]
}

func definitive(out []byte) bool {
	s := string(out)
	for _, frag := range definitiveTmux {
		if strings.Contains(s, frag) {
			return true
		}
	}
	return false
}

func BuildTmuxCommand(args ...string) []string {
	return append([]string{"tmux"}, args...)
}
