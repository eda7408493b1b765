// Package activeproject decides which pinned project is currently active.
package activeproject

import (
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/g960059/agthud/internal/logging"
	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/reconcile"
	"github.com/g960059/agthud/internal/workspace"
)

// Input is one consistent snapshot to resolve against.
type Input struct {
	Pinned   []model.PinnedProject
	Sessions map[string]model.ReconciledSessionState
	// Shells should already be filtered to live processes; entries with an
	// explicit Alive=false are skipped regardless.
	Shells []model.ShellEntry
	// Matcher is optional; when nil one is built from Pinned.
	Matcher *reconcile.Matcher
}

// Resolver owns the manual override. Resolve is otherwise a pure function of
// its input.
type Resolver struct {
	mu       sync.Mutex
	override string
	logger   *slog.Logger
	home     string
}

func NewResolver(logger *slog.Logger) *Resolver {
	home, _ := os.UserHomeDir()
	return &Resolver{logger: logging.OrDiscard(logger), home: home}
}

// WithHome returns a resolver that excludes home from prefix matching. The
// current override carries over; r itself is left untouched.
func (r *Resolver) WithHome(home string) *Resolver {
	override, _ := r.Override()
	return &Resolver{override: override, logger: r.logger, home: home}
}

// SetOverride pins the active project to path until a session-backed shell
// elsewhere takes over.
func (r *Resolver) SetOverride(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = path
}

func (r *Resolver) ClearOverride() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = ""
}

// Override returns the current manual override path.
func (r *Resolver) Override() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.override, r.override != ""
}

func (r *Resolver) Resolve(in Input) model.ActiveProjectResolution {
	matcher := in.Matcher
	if matcher == nil {
		matcher = reconcile.NewMatcher(in.Pinned, workspace.NewCache(), r.home)
	}
	byPath := make(map[string]model.PinnedProject, len(in.Pinned))
	for _, p := range in.Pinned {
		byPath[p.Path] = p
	}

	shell, shellProject, hasShell := latestShellProject(matcher, in.Shells)

	if res, ok := r.resolveOverride(byPath, in.Sessions, shellProject, hasShell); ok {
		return res
	}
	if res, ok := resolveSession(byPath, in.Sessions); ok {
		return res
	}
	if hasShell {
		p := shellProject
		return model.ActiveProjectResolution{
			Project: &p,
			Source:  model.ActiveSource{Kind: model.ActiveSourceShellCWD, PID: shell.PID, App: shell.ParentApp},
		}
	}
	return model.ActiveProjectResolution{Source: model.ActiveSource{Kind: model.ActiveSourceNone}}
}

func (r *Resolver) resolveOverride(byPath map[string]model.PinnedProject, sessions map[string]model.ReconciledSessionState, shellProject model.PinnedProject, hasShell bool) (model.ActiveProjectResolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.override == "" {
		return model.ActiveProjectResolution{}, false
	}
	project, pinned := byPath[r.override]
	if !pinned {
		r.logger.Debug("clearing override for unpinned project", "path", r.override)
		r.override = ""
		return model.ActiveProjectResolution{}, false
	}
	if hasShell && shellProject.Path != r.override && sessions[shellProject.Path].SessionID() != "" {
		r.logger.Debug("clearing override for session-backed shell", "override", r.override, "shell_project", shellProject.Path)
		r.override = ""
		return model.ActiveProjectResolution{}, false
	}
	return model.ActiveProjectResolution{
		Project: &project,
		Source:  model.ActiveSource{Kind: model.ActiveSourceManualOverride},
	}, true
}

// resolveSession prefers actively processing sessions, then the most recent.
func resolveSession(byPath map[string]model.PinnedProject, sessions map[string]model.ReconciledSessionState) (model.ActiveProjectResolution, bool) {
	var active, passive []model.ReconciledSessionState
	for path, st := range sessions {
		if st.SessionID() == "" {
			continue
		}
		if _, ok := byPath[path]; !ok {
			continue
		}
		if st.State.IsActive() {
			active = append(active, st)
		} else {
			passive = append(passive, st)
		}
	}
	pool := active
	if len(pool) == 0 {
		pool = passive
	}
	if len(pool) == 0 {
		return model.ActiveProjectResolution{}, false
	}
	sort.Slice(pool, func(i, j int) bool {
		ti, tj := pool[i].Source.RecencyKey(), pool[j].Source.RecencyKey()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return pool[i].ProjectPath < pool[j].ProjectPath
	})
	best := pool[0]
	project := byPath[best.ProjectPath]
	return model.ActiveProjectResolution{
		Project: &project,
		Source:  model.ActiveSource{Kind: model.ActiveSourceAgentSession, SessionID: best.SessionID()},
	}, true
}

// latestShellProject returns the most recently updated live shell whose cwd
// belongs to a pinned project.
func latestShellProject(m *reconcile.Matcher, shells []model.ShellEntry) (model.ShellEntry, model.PinnedProject, bool) {
	ordered := make([]model.ShellEntry, 0, len(shells))
	for _, s := range shells {
		if s.Alive != nil && !*s.Alive {
			continue
		}
		if s.CWD == "" {
			continue
		}
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		ti, tj := ordered[i].RecencyKey(), ordered[j].RecencyKey()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ordered[i].PID > ordered[j].PID
	})
	for _, s := range ordered {
		if project, _, ok := m.Match(s.CWD); ok {
			return s, project, true
		}
	}
	return model.ShellEntry{}, model.PinnedProject{}, false
}

// ShellsForProject returns the live shells whose cwd maps to project, most
// recent first.
func ShellsForProject(m *reconcile.Matcher, project model.PinnedProject, shells []model.ShellEntry) []model.ShellEntry {
	var out []model.ShellEntry
	for _, s := range shells {
		if s.Alive != nil && !*s.Alive {
			continue
		}
		if p, _, ok := m.Match(s.CWD); ok && p.Path == project.Path {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecencyKey().After(out[j].RecencyKey())
	})
	return out
}
