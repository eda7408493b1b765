package osauto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/g960059/agthud/internal/activation"
	"github.com/g960059/agthud/internal/strategy"
)

// FocusRemote focuses a kitty or WezTerm window through the terminal's own
// remote-control CLI. Other apps report not found.
func (a *Automation) FocusRemote(ctx context.Context, app string, t activation.Target) (bool, error) {
	switch strategy.CanonicalApp(app) {
	case "kitty":
		return a.focusKitty(ctx, t)
	case "wezterm":
		return a.focusWezTerm(ctx, t)
	default:
		return false, nil
	}
}

func (a *Automation) focusKitty(ctx context.Context, t activation.Target) (bool, error) {
	match := "cwd:" + t.Dir()
	if t.Shell != nil && t.Shell.PID > 0 {
		match = "pid:" + strconv.Itoa(t.Shell.PID)
	}
	if _, err := a.runner.Run(ctx, []string{"kitten", "@", "focus-window", "--match", match}); err != nil {
		// kitten exits non-zero when nothing matches.
		return false, nil
	}
	return true, nil
}

type wezPane struct {
	PaneID  int    `json:"pane_id"`
	TTYName string `json:"tty_name"`
	CWD     string `json:"cwd"`
}

func (a *Automation) focusWezTerm(ctx context.Context, t activation.Target) (bool, error) {
	res, err := a.runner.Run(ctx, []string{"wezterm", "cli", "list", "--format", "json"})
	if err != nil {
		return false, err
	}
	var panes []wezPane
	if err := json.Unmarshal([]byte(res.Output), &panes); err != nil {
		return false, fmt.Errorf("decode wezterm pane list: %w", err)
	}
	id, ok := pickWezPane(panes, t)
	if !ok {
		return false, nil
	}
	if _, err := a.runner.Run(ctx, []string{"wezterm", "cli", "activate-pane", "--pane-id", strconv.Itoa(id)}); err != nil {
		return false, err
	}
	return true, nil
}

// pickWezPane matches by tty first, then by working directory.
func pickWezPane(panes []wezPane, t activation.Target) (int, bool) {
	if t.TTY != "" {
		for _, p := range panes {
			if p.TTYName == t.TTY {
				return p.PaneID, true
			}
		}
	}
	dir := t.Dir()
	for _, p := range panes {
		if paneDir(p.CWD) == dir {
			return p.PaneID, true
		}
	}
	return 0, false
}

// paneDir strips the file://host prefix WezTerm reports.
func paneDir(raw string) string {
	if !strings.HasPrefix(raw, "file://") {
		return strings.TrimSuffix(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}
