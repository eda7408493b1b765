// Package osauto implements the activation capabilities with macOS
// automation commands: open, osascript and terminal remote-control CLIs.
package osauto

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/g960059/agthud/internal/activation"
	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/strategy"
	"github.com/g960059/agthud/internal/target"
	"github.com/g960059/agthud/internal/tmux"
)

// CommandRunner is satisfied by *target.Executor.
type CommandRunner interface {
	Run(ctx context.Context, command []string) (target.RunResult, error)
}

// Automation bundles every OS-level capability behind one runner.
type Automation struct {
	runner CommandRunner
}

var (
	_ activation.TTYFocuser    = (*Automation)(nil)
	_ activation.AppActivator  = (*Automation)(nil)
	_ activation.RemoteFocuser = (*Automation)(nil)
	_ activation.IDEFocuser    = (*Automation)(nil)
	_ activation.Launcher      = (*Automation)(nil)
)

func New(runner CommandRunner) *Automation {
	return &Automation{runner: runner}
}

// Capabilities returns the full capability set backed by a and mux.
func (a *Automation) Capabilities(mux activation.Multiplexer) activation.Capabilities {
	return activation.Capabilities{TTY: a, Apps: a, Mux: mux, Remote: a, IDE: a, Launcher: a}
}

func (a *Automation) ActivateApp(ctx context.Context, app string) error {
	_, err := a.runner.Run(ctx, []string{"open", "-a", app})
	return err
}

func (a *Automation) IsRunning(ctx context.Context, app string) (bool, error) {
	out, err := a.osascript(ctx, fmt.Sprintf(`application %s is running`, quote(app)))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

func (a *Automation) WindowCount(ctx context.Context, app string) (int, error) {
	out, err := a.osascript(ctx, fmt.Sprintf(`tell application "System Events" to count windows of process %s`, quote(processName(app))))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("window count for %s: %w", app, err)
	}
	return n, nil
}

// FocusTTY selects the tab owning tty in iTerm2 or Terminal. Other apps have
// no tty lookup and report not found.
func (a *Automation) FocusTTY(ctx context.Context, app, tty string) (bool, error) {
	tty = strings.TrimSpace(tty)
	if tty == "" {
		return false, nil
	}
	apps := []string{"iTerm2", "Terminal"}
	if app != "" {
		if strategy.Categorize(app) != model.CategoryTTYTerminal {
			return false, nil
		}
		apps = []string{canonicalTTYApp(app)}
	}
	for _, candidate := range apps {
		running, err := a.IsRunning(ctx, candidate)
		if err != nil || !running {
			continue
		}
		out, err := a.osascript(ctx, ttyScript(candidate, tty))
		if err != nil {
			continue
		}
		if strings.TrimSpace(out) == "found" {
			return true, nil
		}
	}
	return false, nil
}

func canonicalTTYApp(app string) string {
	switch strategy.CanonicalApp(app) {
	case "iterm", "iterm2":
		return "iTerm2"
	default:
		return "Terminal"
	}
}

func ttyScript(app, tty string) string {
	if app == "iTerm2" {
		return fmt.Sprintf(`tell application "iTerm2"
	repeat with w in windows
		repeat with t in tabs of w
			repeat with s in sessions of t
				if tty of s is %s then
					select w
					tell t to select
					tell s to select
					activate
					return "found"
				end if
			end repeat
		end repeat
	end repeat
end tell
return ""`, quote(tty))
	}
	return fmt.Sprintf(`tell application "Terminal"
	repeat with w in windows
		repeat with t in tabs of w
			if tty of t is %s then
				set selected of t to true
				set index of w to 1
				activate
				return "found"
			end if
		end repeat
	end repeat
end tell
return ""`, quote(tty))
}

// FocusIDE reopens dir through the editor's CLI, which raises the window
// already showing that folder.
func (a *Automation) FocusIDE(ctx context.Context, app, dir string) (bool, error) {
	cli, ok := ideCLI(app)
	if !ok {
		return false, nil
	}
	if _, err := a.runner.Run(ctx, []string{cli, dir}); err != nil {
		return false, err
	}
	return true, nil
}

func ideCLI(app string) (string, bool) {
	switch strategy.CanonicalApp(app) {
	case "code", "visual studio code":
		return "code", true
	case "vscodium":
		return "codium", true
	case "cursor":
		return "cursor", true
	case "windsurf":
		return "windsurf", true
	case "zed":
		return "zed", true
	default:
		return "", false
	}
}

// Launch opens a new window of app in dir, attached to session when set.
func (a *Automation) Launch(ctx context.Context, app, dir, session string) error {
	_, err := a.runner.Run(ctx, launchCommand(app, dir, session))
	return err
}

func attachCommand(session string) []string {
	return []string{"tmux", "attach-session", "-t", tmux.ExactSession(session)}
}

func launchCommand(app, dir, session string) []string {
	var attach []string
	if session != "" {
		attach = attachCommand(session)
	}
	switch strategy.CanonicalApp(app) {
	case "iterm", "iterm2":
		return []string{"osascript", "-e", fmt.Sprintf(`tell application "iTerm2"
	create window with default profile command %s
	activate
end tell`, quote(shellLine(dir, attach)))}
	case "terminal", "":
		return []string{"osascript", "-e", fmt.Sprintf(`tell application "Terminal"
	do script %s
	activate
end tell`, quote(shellLine(dir, attach)))}
	case "kitty":
		cmd := []string{"kitty", "--single-instance", "--directory", dir}
		return append(cmd, attach...)
	case "wezterm":
		cmd := []string{"wezterm", "start", "--cwd", dir}
		if len(attach) > 0 {
			cmd = append(append(cmd, "--"), attach...)
		}
		return cmd
	case "ghostty", "alacritty":
		cmd := []string{"open", "-na", app, "--args", "--working-directory=" + dir}
		if len(attach) > 0 {
			cmd = append(append(cmd, "-e"), attach...)
		}
		return cmd
	default:
		return []string{"open", "-a", app, dir}
	}
}

func shellLine(dir string, attach []string) string {
	line := "cd " + shellQuote(dir)
	if len(attach) > 0 {
		quoted := make([]string, len(attach))
		for i, arg := range attach {
			quoted[i] = shellQuote(arg)
		}
		line += " && exec " + strings.Join(quoted, " ")
	}
	return line
}

func (a *Automation) osascript(ctx context.Context, script string) (string, error) {
	res, err := a.runner.Run(ctx, []string{"osascript", "-e", script})
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// quote renders s as an AppleScript string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// processName maps an app name to its System Events process name.
func processName(app string) string {
	switch strategy.CanonicalApp(app) {
	case "iterm", "iterm2":
		return "iTerm2"
	case "wezterm":
		return "wezterm-gui"
	default:
		return strings.TrimSuffix(app, ".app")
	}
}
