package shellstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/agthud/internal/model"
)

func TestLiveTrustsDaemonFlagThenProbes(t *testing.T) {
	alive, dead := true, false
	shells := []model.ShellEntry{
		{PID: 1, Alive: &dead},
		{PID: 2, Alive: &alive},
		{PID: 3},
		{PID: 4},
	}
	probe := ProbeFunc(func(pid int) bool { return pid == 3 || pid == 1 })
	got := Live(shells, probe)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].PID)
	assert.Equal(t, 3, got[1].PID)
}

func TestSignalProbe(t *testing.T) {
	assert.True(t, SignalProbe{}.Alive(os.Getpid()))
	assert.False(t, SignalProbe{}.Alive(0))
	assert.False(t, SignalProbe{}.Alive(-5))
}

func TestReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shells.json")
	body := `{"version":1,"shells":{
		"501":{"cwd":"/work/p","tty":"/dev/ttys003","parent_app":"Ghostty","tmux_session":"proj","tmux_client_tty":"/dev/ttys001","updated_at":"2026-02-13T10:00:00.5Z"},
		"502":{"cwd":"/work/q","tty":"/dev/ttys004","updated_at":"not-a-time"}
	}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	shells, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Len(t, shells, 2)
	assert.Equal(t, 501, shells[0].PID)
	assert.Equal(t, "proj", shells[0].TmuxSession)
	assert.Equal(t, "/dev/ttys001", shells[0].TmuxClientTTY)
	require.NotNil(t, shells[0].UpdatedAt)
	assert.Equal(t, 500*time.Millisecond, time.Duration(shells[0].UpdatedAt.Nanosecond()))
	assert.Nil(t, shells[1].UpdatedAt)

	_, err = ReadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatcherReportsRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shells.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 4)
	w := NewWatcher(path, nil)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func() { changed <- struct{}{} })
	}()

	tmp := filepath.Join(dir, "shells.json.tmp")
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, os.WriteFile(tmp, []byte(`{"version":1}`), 0o600))
		require.NoError(t, os.Rename(tmp, path))
		select {
		case <-changed:
			cancel()
			require.NoError(t, <-done)
			return
		case <-deadline:
			t.Fatalf("watcher did not report change")
		case <-tick.C:
		}
	}
}
