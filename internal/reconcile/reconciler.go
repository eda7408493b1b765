package reconcile

import (
	"log/slog"
	"os"

	"github.com/g960059/agthud/internal/logging"
	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/workspace"
)

// Reconciler maps daemon project states onto the pinned project set.
type Reconciler struct {
	logger *slog.Logger
	home   string
}

func NewReconciler(logger *slog.Logger) *Reconciler {
	home, _ := os.UserHomeDir()
	return &Reconciler{logger: logging.OrDiscard(logger), home: home}
}

// WithHome overrides the home directory excluded from prefix matching.
func (r *Reconciler) WithHome(home string) *Reconciler {
	cp := *r
	cp.home = home
	return &cp
}

// NewMatcher builds a per-pass matcher for pinned.
func (r *Reconciler) NewMatcher(pinned []model.PinnedProject, cache *workspace.Cache) *Matcher {
	return NewMatcher(pinned, cache, r.home)
}

// Reconcile returns at most one state per pinned project path. Entries that
// match no pinned project are dropped.
func (r *Reconciler) Reconcile(daemon []model.DaemonProjectState, pinned []model.PinnedProject) map[string]model.ReconciledSessionState {
	return r.ReconcileWith(r.NewMatcher(pinned, workspace.NewCache()), daemon)
}

// ReconcileWith is Reconcile over a caller-built matcher, letting one pass
// share identity resolution with the active project resolver.
func (r *Reconciler) ReconcileWith(m *Matcher, daemon []model.DaemonProjectState) map[string]model.ReconciledSessionState {
	out := make(map[string]model.ReconciledSessionState)
	if m.Len() == 0 {
		return out
	}
	for _, entry := range daemon {
		project, kind, ok := m.Match(entry.ProjectPath)
		if !ok {
			r.logger.Debug("daemon entry matches no pinned project", "project_path", entry.ProjectPath, "session_id", entry.SessionID)
			continue
		}
		candidate := model.ReconciledSessionState{
			ProjectPath: project.Path,
			State:       canonicalState(entry),
			Source:      entry,
		}
		incumbent, exists := out[project.Path]
		if exists && !newer(candidate, incumbent) {
			continue
		}
		if kind == MatchCrossWorktree {
			r.logger.Debug("cross-worktree match", "project_path", entry.ProjectPath, "pinned", project.Path)
		}
		out[project.Path] = candidate
	}
	return out
}

// newer reports whether candidate should replace incumbent. On equal recency
// an active state displaces an inactive one; otherwise the incumbent stays.
func newer(candidate, incumbent model.ReconciledSessionState) bool {
	c, i := candidate.Source.RecencyKey(), incumbent.Source.RecencyKey()
	if c.After(i) {
		return true
	}
	if c.Before(i) {
		return false
	}
	return candidate.State.IsActive() && !incumbent.State.IsActive()
}

func canonicalState(entry model.DaemonProjectState) model.SessionState {
	raw := entry.RawState
	if raw == "" {
		raw = string(entry.State)
	}
	state, _ := model.ParseSessionState(raw)
	return state
}
