package activation

import (
	"sort"

	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/workspace"
)

// Target is what to activate: a project, and when known the shell and
// multiplexer session hosting it.
type Target struct {
	Project model.PinnedProject
	Shell   *model.ShellEntry
	Session string
	App     string
	TTY     string
}

// Dir is the directory new windows should open in.
func (t Target) Dir() string {
	if t.Shell != nil && t.Shell.CWD != "" {
		return t.Shell.CWD
	}
	return t.Project.Path
}

// ResolveTarget picks the shell to activate for project. shells are the
// project's live shells, most recent first. When no shell names a session,
// windows are searched for a pane inside the project.
func ResolveTarget(project model.PinnedProject, shells []model.ShellEntry, windows []Window) Target {
	t := Target{Project: project}
	if len(shells) > 0 {
		s := shells[0]
		t.Shell = &s
		t.App = s.ParentApp
		t.TTY = s.TTY
		t.Session = s.TmuxSession
	}
	if t.Session == "" {
		t.Session = sessionForPath(project.Path, windows)
	}
	return t
}

// sessionForPath prefers an exact pane path match, then an active window,
// then the pane closest to path, then session name order.
func sessionForPath(path string, windows []Window) string {
	type hit struct {
		session string
		exact   bool
		active  bool
		depth   int
	}
	var hits []hit
	for _, w := range windows {
		if w.PanePath == "" || w.Session == "" {
			continue
		}
		exact := w.PanePath == path
		if !exact && !workspace.IsStrictDescendant(w.PanePath, path) {
			continue
		}
		depth := len(w.PanePath)
		hits = append(hits, hit{session: w.Session, exact: exact, active: w.Active, depth: depth})
	}
	if len(hits) == 0 {
		return ""
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].exact != hits[j].exact {
			return hits[i].exact
		}
		if hits[i].active != hits[j].active {
			return hits[i].active
		}
		if hits[i].depth != hits[j].depth {
			return hits[i].depth < hits[j].depth
		}
		return hits[i].session < hits[j].session
	})
	return hits[0].session
}
