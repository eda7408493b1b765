package reconcile

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

func mkdir(t *testing.T, parts ...string) string {
	t.Helper()
	dir := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	normalized, err := workspace.Normalize(dir)
	require.NoError(t, err)
	return normalized
}

func initRepo(t *testing.T, root string) string {
	t.Helper()
	mkdir(t, root, ".git")
	return mkdir(t, root)
}

func addWorktree(t *testing.T, repo, wt, name string) string {
	t.Helper()
	admin := mkdir(t, repo, ".git", "worktrees", name)
	require.NoError(t, os.WriteFile(filepath.Join(admin, "commondir"), []byte("../..\n"), 0o644))
	wt = mkdir(t, wt)
	require.NoError(t, os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: "+admin+"\n"), 0o644))
	return wt
}

func at(sec int) *time.Time {
	ts := time.Date(2026, 2, 13, 10, 0, sec, 0, time.UTC)
	return &ts
}

func daemonState(path, state, session string, updated *time.Time) model.DaemonProjectState {
	parsed, ok := model.ParseSessionState(state)
	return model.DaemonProjectState{
		ProjectPath: path,
		State:       parsed,
		RawState:    state,
		Recognized:  ok,
		UpdatedAt:   updated,
		SessionID:   session,
		HasSession:  session != "",
	}
}

func newTestReconciler() *Reconciler {
	return NewReconciler(nil).WithHome("")
}

func TestReconcileWorktreeEntriesOntoRepo(t *testing.T) {
	base := t.TempDir()
	repo := initRepo(t, filepath.Join(base, "repo"))
	wt := addWorktree(t, repo, filepath.Join(repo, "worktrees", "a"), "a")

	pinned := []model.PinnedProject{{Name: "repo", Path: repo}}
	daemon := []model.DaemonProjectState{
		daemonState(wt, "working", "s1", at(2)),
		daemonState(repo, "ready", "s2", at(1)),
	}

	got := newTestReconciler().Reconcile(daemon, pinned)
	require.Len(t, got, 1)
	st := got[repo]
	assert.Equal(t, model.StateWorking, st.State)
	assert.Equal(t, "s1", st.SessionID())

	// Input order does not matter when timestamps differ.
	reversed := []model.DaemonProjectState{daemon[1], daemon[0]}
	assert.Equal(t, got, newTestReconciler().Reconcile(reversed, pinned))
}

func TestReconcileIsIdempotent(t *testing.T) {
	base := t.TempDir()
	a := mkdir(t, base, "a")
	b := mkdir(t, base, "b")
	pinned := []model.PinnedProject{{Name: "a", Path: a}, {Name: "b", Path: b}}
	daemon := []model.DaemonProjectState{
		daemonState(a, "Waiting", "s1", at(3)),
		daemonState(filepath.Join(b, "sub"), "idle", "s2", nil),
	}
	r := newTestReconciler()
	first := r.Reconcile(daemon, pinned)
	second := r.Reconcile(daemon, pinned)
	assert.Equal(t, first, second)
	assert.Equal(t, model.StateWaiting, first[a].State)
	assert.Equal(t, model.StateIdle, first[b].State)
}

func TestReconcileKeepsMostRecentTimestamp(t *testing.T) {
	base := t.TempDir()
	p := mkdir(t, base, "proj")
	pinned := []model.PinnedProject{{Name: "proj", Path: p}}

	changed := at(5)
	older := daemonState(filepath.Join(p, "x"), "working", "old", nil)
	older.StateChangedAt = changed
	newerEntry := daemonState(p, "ready", "new", at(9))
	undated := daemonState(filepath.Join(p, "y"), "compacting", "undated", nil)

	got := newTestReconciler().Reconcile([]model.DaemonProjectState{older, newerEntry, undated}, pinned)
	require.Contains(t, got, p)
	assert.Equal(t, "new", got[p].SessionID())
	assert.Equal(t, *at(9), got[p].Source.RecencyKey())
}

func TestReconcileEqualTimestampPrefersActive(t *testing.T) {
	base := t.TempDir()
	p := mkdir(t, base, "proj")
	pinned := []model.PinnedProject{{Name: "proj", Path: p}}

	ready := daemonState(p, "ready", "r", at(1))
	working := daemonState(filepath.Join(p, "sub"), "working", "w", at(1))
	got := newTestReconciler().Reconcile([]model.DaemonProjectState{ready, working}, pinned)
	assert.Equal(t, "w", got[p].SessionID())

	got = newTestReconciler().Reconcile([]model.DaemonProjectState{working, ready}, pinned)
	assert.Equal(t, "w", got[p].SessionID())
}

func TestReconcilePrefersDeepestPinnedProject(t *testing.T) {
	base := t.TempDir()
	outer := mkdir(t, base, "mono")
	inner := mkdir(t, base, "mono", "apps", "web")
	pinned := []model.PinnedProject{{Name: "mono", Path: outer}, {Name: "web", Path: inner}}

	got := newTestReconciler().Reconcile([]model.DaemonProjectState{
		daemonState(filepath.Join(inner, "src"), "working", "s1", at(1)),
		daemonState(filepath.Join(outer, "docs"), "ready", "s2", at(1)),
	}, pinned)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[inner].SessionID())
	assert.Equal(t, "s2", got[outer].SessionID())
}

func TestReconcileHomeIsNotAPrefixMatch(t *testing.T) {
	base := t.TempDir()
	home := mkdir(t, base, "home")
	pinned := []model.PinnedProject{{Name: "home", Path: home}}
	daemon := []model.DaemonProjectState{
		daemonState(filepath.Join(home, "scratch"), "working", "s1", at(1)),
		daemonState(home, "ready", "s2", at(0)),
	}
	got := NewReconciler(nil).WithHome(home).Reconcile(daemon, pinned)
	require.Len(t, got, 1)
	// Only the exact identity match applies.
	assert.Equal(t, "s2", got[home].SessionID())
}

func TestReconcileDropsUnmatchedAndMapsUnknownState(t *testing.T) {
	base := t.TempDir()
	p := mkdir(t, base, "proj")
	other := mkdir(t, base, "other")
	pinned := []model.PinnedProject{{Name: "proj", Path: p}}

	got := newTestReconciler().Reconcile([]model.DaemonProjectState{
		daemonState(other, "working", "s9", at(5)),
		daemonState(p, "Hibernating", "s1", at(1)),
	}, pinned)
	require.Len(t, got, 1)
	assert.Equal(t, model.StateIdle, got[p].State)
	assert.Equal(t, "s1", got[p].SessionID())

	assert.Empty(t, newTestReconciler().Reconcile(nil, pinned))
	assert.Empty(t, newTestReconciler().Reconcile([]model.DaemonProjectState{daemonState(p, "working", "", nil)}, nil))
}

func TestCrossWorktreeSingleProjectRepresentsRepo(t *testing.T) {
	base := t.TempDir()
	repo := initRepo(t, filepath.Join(base, "repo"))
	web := mkdir(t, repo, "apps", "web")
	wt := addWorktree(t, repo, filepath.Join(base, "wt"), "wt")
	api := mkdir(t, wt, "apps", "api")

	m := NewMatcher([]model.PinnedProject{{Name: "web", Path: web}}, workspace.NewCache(), "")
	project, kind, ok := m.Match(api)
	require.True(t, ok)
	assert.Equal(t, web, project.Path)
	assert.Equal(t, MatchCrossWorktree, kind)
}

func TestCrossWorktreeTieBreaks(t *testing.T) {
	base := t.TempDir()
	repo := initRepo(t, filepath.Join(base, "repo"))
	web := mkdir(t, repo, "apps", "web")
	api := mkdir(t, repo, "apps", "api")
	docs := mkdir(t, repo, "docs")
	wt := addWorktree(t, repo, filepath.Join(base, "wt"), "wt")
	wtApps := mkdir(t, wt, "apps")
	wtTools := mkdir(t, wt, "tools")

	pinned := []model.PinnedProject{
		{Name: "web", Path: web},
		{Name: "docs", Path: docs},
		{Name: "api", Path: api},
	}
	m := NewMatcher(pinned, workspace.NewCache(), "")

	// apps/web and apps/api both lie beneath apps at equal depth: path order decides.
	project, kind, ok := m.Match(wtApps)
	require.True(t, ok)
	assert.Equal(t, MatchCrossWorktree, kind)
	assert.Equal(t, api, project.Path)

	// Nothing related to tools: dropped.
	_, _, ok = m.Match(wtTools)
	assert.False(t, ok)

	// The worktree root is an ancestor of every pinned subpath: deepest wins.
	project, _, ok = m.Match(wt)
	require.True(t, ok)
	assert.Equal(t, api, project.Path)

	// A direct repo-subpath match beats the cross-worktree fallback.
	wtWeb := mkdir(t, wt, "apps", "web", "src")
	project, kind, ok = m.Match(wtWeb)
	require.True(t, ok)
	assert.Equal(t, web, project.Path)
	assert.Equal(t, MatchRepoSubpath, kind)
}
