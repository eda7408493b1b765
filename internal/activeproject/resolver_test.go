package activeproject

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/workspace"
)

type fixture struct {
	alpha, beta, gamma model.PinnedProject
	pinned             []model.PinnedProject
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	base := t.TempDir()
	mk := func(name string) model.PinnedProject {
		dir := filepath.Join(base, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		normalized, err := workspace.Normalize(dir)
		require.NoError(t, err)
		return model.PinnedProject{Name: name, Path: normalized}
	}
	f := fixture{alpha: mk("alpha"), beta: mk("beta"), gamma: mk("gamma")}
	f.pinned = []model.PinnedProject{f.alpha, f.beta, f.gamma}
	return f
}

func ts(sec int) *time.Time {
	v := time.Date(2026, 2, 13, 9, 0, sec, 0, time.UTC)
	return &v
}

func session(p model.PinnedProject, state model.SessionState, id string, updated *time.Time) model.ReconciledSessionState {
	return model.ReconciledSessionState{
		ProjectPath: p.Path,
		State:       state,
		Source: model.DaemonProjectState{
			ProjectPath: p.Path,
			State:       state,
			SessionID:   id,
			UpdatedAt:   updated,
			HasSession:  id != "",
		},
	}
}

func shell(pid int, cwd string, updated *time.Time) model.ShellEntry {
	return model.ShellEntry{PID: pid, CWD: cwd, ParentApp: "iTerm2", UpdatedAt: updated}
}

func newResolver() *Resolver {
	return NewResolver(nil).WithHome("")
}

func TestResolveNoneWithoutSignals(t *testing.T) {
	f := newFixture(t)
	res := newResolver().Resolve(Input{Pinned: f.pinned})
	assert.Nil(t, res.Project)
	assert.Equal(t, model.ActiveSourceNone, res.Source.Kind)
}

func TestResolvePrefersActiveSessionOverMoreRecentIdle(t *testing.T) {
	f := newFixture(t)
	res := newResolver().Resolve(Input{
		Pinned: f.pinned,
		Sessions: map[string]model.ReconciledSessionState{
			f.alpha.Path: session(f.alpha, model.StateReady, "a", ts(30)),
			f.beta.Path:  session(f.beta, model.StateWorking, "b", ts(10)),
			f.gamma.Path: session(f.gamma, model.StateCompacting, "c", ts(20)),
		},
	})
	require.NotNil(t, res.Project)
	assert.Equal(t, f.gamma.Path, res.Project.Path)
	assert.Equal(t, model.ActiveSource{Kind: model.ActiveSourceAgentSession, SessionID: "c"}, res.Source)
}

func TestResolveFallsBackToPassiveSessionThenShell(t *testing.T) {
	f := newFixture(t)
	r := newResolver()

	res := r.Resolve(Input{
		Pinned: f.pinned,
		Sessions: map[string]model.ReconciledSessionState{
			f.alpha.Path: session(f.alpha, model.StateIdle, "a", ts(1)),
			f.beta.Path:  session(f.beta, model.StateReady, "b", ts(2)),
			f.gamma.Path: session(f.gamma, model.StateWorking, "", ts(9)),
		},
	})
	require.NotNil(t, res.Project)
	assert.Equal(t, f.beta.Path, res.Project.Path)

	dead := false
	res = r.Resolve(Input{
		Pinned: f.pinned,
		Shells: []model.ShellEntry{
			shell(11, filepath.Join(f.alpha.Path, "src"), ts(5)),
			shell(12, f.gamma.Path, ts(3)),
			{PID: 13, CWD: f.beta.Path, UpdatedAt: ts(9), Alive: &dead},
			shell(14, "/nowhere/at/all", ts(20)),
		},
	})
	require.NotNil(t, res.Project)
	assert.Equal(t, f.alpha.Path, res.Project.Path)
	assert.Equal(t, model.ActiveSourceShellCWD, res.Source.Kind)
	assert.Equal(t, 11, res.Source.PID)
	assert.Equal(t, "iTerm2", res.Source.App)
}

func TestOverrideClearedBySessionBackedShellElsewhere(t *testing.T) {
	f := newFixture(t)
	r := newResolver()
	r.SetOverride(f.alpha.Path)

	in := Input{
		Pinned: f.pinned,
		Sessions: map[string]model.ReconciledSessionState{
			f.beta.Path: session(f.beta, model.StateWorking, "b", ts(5)),
		},
		Shells: []model.ShellEntry{shell(21, f.beta.Path, ts(8))},
	}
	res := r.Resolve(in)
	require.NotNil(t, res.Project)
	assert.Equal(t, f.beta.Path, res.Project.Path)
	assert.Equal(t, model.ActiveSourceAgentSession, res.Source.Kind)
	_, ok := r.Override()
	assert.False(t, ok)
}

func TestOverrideRetainedForSessionlessShellElsewhere(t *testing.T) {
	f := newFixture(t)
	r := newResolver()
	r.SetOverride(f.alpha.Path)

	in := Input{
		Pinned: f.pinned,
		Sessions: map[string]model.ReconciledSessionState{
			f.gamma.Path: session(f.gamma, model.StateWorking, "g", ts(5)),
		},
		Shells: []model.ShellEntry{shell(31, f.beta.Path, ts(8))},
	}
	for range 2 {
		res := r.Resolve(in)
		require.NotNil(t, res.Project)
		assert.Equal(t, f.alpha.Path, res.Project.Path)
		assert.Equal(t, model.ActiveSourceManualOverride, res.Source.Kind)
	}
	path, ok := r.Override()
	assert.True(t, ok)
	assert.Equal(t, f.alpha.Path, path)
}

func TestOverrideRetainedWhenShellInOverrideProject(t *testing.T) {
	f := newFixture(t)
	r := newResolver()
	r.SetOverride(f.alpha.Path)
	res := r.Resolve(Input{
		Pinned: f.pinned,
		Sessions: map[string]model.ReconciledSessionState{
			f.alpha.Path: session(f.alpha, model.StateReady, "a", ts(1)),
		},
		Shells: []model.ShellEntry{shell(41, f.alpha.Path, ts(8))},
	})
	require.NotNil(t, res.Project)
	assert.Equal(t, model.ActiveSourceManualOverride, res.Source.Kind)
}

func TestOverrideDroppedWhenProjectUnpinned(t *testing.T) {
	f := newFixture(t)
	r := newResolver()
	r.SetOverride(filepath.Join(f.alpha.Path, "gone"))
	res := r.Resolve(Input{Pinned: f.pinned})
	assert.Equal(t, model.ActiveSourceNone, res.Source.Kind)
	_, ok := r.Override()
	assert.False(t, ok)

	r.SetOverride(f.beta.Path)
	r.ClearOverride()
	_, ok = r.Override()
	assert.False(t, ok)
}

func TestWithHomeLeavesReceiverUntouched(t *testing.T) {
	shared := NewResolver(nil)
	before := shared.home
	shared.SetOverride("/work/alpha")

	scoped := shared.WithHome("/home/someone")
	require.NotSame(t, shared, scoped)
	assert.Equal(t, before, shared.home)
	assert.Equal(t, "/home/someone", scoped.home)

	override, ok := scoped.Override()
	assert.True(t, ok)
	assert.Equal(t, "/work/alpha", override)

	scoped.ClearOverride()
	_, ok = shared.Override()
	assert.True(t, ok, "clearing the copy must not clear the original")
}
