// Package tmux implements the multiplexer capability on top of the tmux CLI.
package tmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/g960059/agthud/internal/activation"
	"github.com/g960059/agthud/internal/target"
)

// CommandRunner is satisfied by *target.Executor.
type CommandRunner interface {
	Run(ctx context.Context, command []string) (target.RunResult, error)
}

type Client struct {
	runner CommandRunner
}

var _ activation.Multiplexer = (*Client)(nil)

func New(runner CommandRunner) *Client {
	return &Client{runner: runner}
}

func (c *Client) ListWindows(ctx context.Context) ([]activation.Window, error) {
	res, err := c.runner.Run(ctx, target.BuildTmuxCommand(
		"list-windows",
		"-a",
		"-F",
		format(
			"#{session_name}",
			"#{window_index}",
			"#{window_active}",
			"#{pane_current_path}",
			"#{window_name}",
		),
	))
	if err != nil {
		if noServer(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseWindows(res.Output)
}

func (c *Client) ListClients(ctx context.Context, session string) ([]activation.Client, error) {
	args := []string{"list-clients", "-F", format("#{client_tty}", "#{client_session}")}
	if session != "" {
		args = append(args, "-t", ExactSession(session))
	}
	res, err := c.runner.Run(ctx, target.BuildTmuxCommand(args...))
	if err != nil {
		if noServer(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseClients(res.Output), nil
}

func (c *Client) CurrentClientTTY(ctx context.Context) (string, error) {
	res, err := c.runner.Run(ctx, target.BuildTmuxCommand("display-message", "-p", "#{client_tty}"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Output), nil
}

func (c *Client) SwitchClient(ctx context.Context, clientTTY, session string) error {
	if session == "" {
		return errors.New("tmux: switch-client needs a session")
	}
	args := []string{"switch-client"}
	if clientTTY != "" {
		args = append(args, "-c", clientTTY)
	}
	args = append(args, "-t", ExactSession(session))
	_, err := c.runner.Run(ctx, target.BuildTmuxCommand(args...))
	return err
}

// HasSession reports false, not an error, when tmux exits non-zero.
func (c *Client) HasSession(ctx context.Context, session string) (bool, error) {
	_, err := c.runner.Run(ctx, target.BuildTmuxCommand("has-session", "-t", ExactSession(session)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, target.ErrCommandFailed) {
		return false, nil
	}
	return false, err
}

func (c *Client) NewSession(ctx context.Context, session, dir string) error {
	args := []string{"new-session", "-d", "-s", session}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	_, err := c.runner.Run(ctx, target.BuildTmuxCommand(args...))
	return err
}

func noServer(err error) bool {
	msg := err.Error()
	return errors.Is(err, target.ErrCommandFailed) &&
		(strings.Contains(msg, "no server running") || strings.Contains(msg, "error connecting to") || strings.Contains(msg, "no current client"))
}

func parseWindows(output string) ([]activation.Window, error) {
	s := bufio.NewScanner(strings.NewReader(output))
	windows := make([]activation.Window, 0)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		parts := fields(line, 5)
		if len(parts) < 4 {
			return nil, fmt.Errorf("invalid tmux list-windows line: %q", line)
		}
		index, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid tmux window index in %q", line)
		}
		w := activation.Window{
			Session:  parts[0],
			Index:    index,
			Active:   strings.TrimSpace(parts[2]) == "1",
			PanePath: strings.TrimSpace(parts[3]),
		}
		if len(parts) == 5 {
			w.Name = parts[4]
		}
		windows = append(windows, w)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan tmux output: %w", err)
	}
	return windows, nil
}

func parseClients(output string) []activation.Client {
	var clients []activation.Client
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := fields(line, 2)
		cl := activation.Client{TTY: strings.TrimSpace(parts[0])}
		if len(parts) == 2 {
			cl.Session = parts[1]
		}
		if cl.TTY != "" {
			clients = append(clients, cl)
		}
	}
	return clients
}
