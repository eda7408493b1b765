package osauto

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/agthud/internal/activation"
	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/target"
)

// scriptedRunner answers commands by matching a substring of the joined argv.
type scriptedRunner struct {
	calls   []string
	answers []answer
}

type answer struct {
	contains string
	out      string
	err      error
}

func (r *scriptedRunner) Run(_ context.Context, command []string) (target.RunResult, error) {
	joined := strings.Join(command, " ")
	r.calls = append(r.calls, joined)
	for _, a := range r.answers {
		if strings.Contains(joined, a.contains) {
			return target.RunResult{Output: a.out}, a.err
		}
	}
	return target.RunResult{}, nil
}

func TestFocusTTYSearchesRunningTTYTerminals(t *testing.T) {
	r := &scriptedRunner{answers: []answer{
		{contains: `application "iTerm2" is running`, out: "false\n"},
		{contains: `application "Terminal" is running`, out: "true\n"},
		{contains: `tell application "Terminal"`, out: "found\n"},
	}}
	ok, err := New(r).FocusTTY(context.Background(), "", "/dev/ttys004")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, r.calls, 3)
	assert.Contains(t, r.calls[2], `"/dev/ttys004"`)
}

func TestFocusTTYNotFoundIsNotAnError(t *testing.T) {
	r := &scriptedRunner{answers: []answer{
		{contains: "is running", out: "true"},
		{contains: `tell application "iTerm2"`, out: ""},
	}}
	ok, err := New(r).FocusTTY(context.Background(), "iTerm.app", "/dev/ttys004")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = New(r).FocusTTY(context.Background(), "Ghostty", "/dev/ttys004")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWindowCountParsesOutput(t *testing.T) {
	r := &scriptedRunner{answers: []answer{{contains: "count windows", out: "3\n"}}}
	n, err := New(r).WindowCount(context.Background(), "WezTerm")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Contains(t, r.calls[0], `process "wezterm-gui"`)

	r = &scriptedRunner{answers: []answer{{contains: "count windows", out: "lots"}}}
	_, err = New(r).WindowCount(context.Background(), "Ghostty")
	assert.Error(t, err)
}

func TestLaunchCommands(t *testing.T) {
	cases := []struct {
		app, session string
		want         string
	}{
		{"kitty", "proj", "kitty --single-instance --directory /work/p tmux attach-session -t =proj"},
		{"WezTerm", "proj", "wezterm start --cwd /work/p -- tmux attach-session -t =proj"},
		{"Ghostty", "", "open -na Ghostty --args --working-directory=/work/p"},
		{"Warp", "proj", "open -a Warp /work/p"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, strings.Join(launchCommand(tc.app, "/work/p", tc.session), " "), tc.app)
	}

	script := launchCommand("Terminal", "/work/it's", "proj")
	require.Len(t, script, 3)
	assert.Contains(t, script[2], `do script "cd '/work/it'\\''s' && exec 'tmux' 'attach-session' '-t' '=proj'"`)
}

func TestFocusIDEUsesEditorCLI(t *testing.T) {
	r := &scriptedRunner{}
	ok, err := New(r).FocusIDE(context.Background(), "Cursor", "/work/p")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"cursor /work/p"}, r.calls)

	ok, err = New(r).FocusIDE(context.Background(), "Notepad", "/work/p")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFocusRemoteWezTermMatchesTTYThenDir(t *testing.T) {
	list := `[{"pane_id":3,"tty_name":"/dev/ttys010","cwd":"file://host/work/other/"},{"pane_id":7,"tty_name":"/dev/ttys011","cwd":"file://host/work/p/"}]`
	r := &scriptedRunner{answers: []answer{{contains: "cli list", out: list}}}
	a := New(r)

	target := activation.Target{Project: model.PinnedProject{Path: "/work/p"}}
	ok, err := a.FocusRemote(context.Background(), "WezTerm", target)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "wezterm cli activate-pane --pane-id 7", r.calls[len(r.calls)-1])

	target.TTY = "/dev/ttys010"
	ok, err = a.FocusRemote(context.Background(), "wezterm", target)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "wezterm cli activate-pane --pane-id 3", r.calls[len(r.calls)-1])
}

func TestFocusRemoteKittyNoMatch(t *testing.T) {
	r := &scriptedRunner{answers: []answer{{contains: "focus-window", err: errors.New("exit status 1")}}}
	shell := model.ShellEntry{PID: 42}
	ok, err := New(r).FocusRemote(context.Background(), "kitty", activation.Target{Shell: &shell})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"kitten @ focus-window --match pid:42"}, r.calls)
}
