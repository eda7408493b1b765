package reconcile

import (
	"sort"
	"strings"

	"github.com/g960059/agthud/internal/model"
	"github.com/g960059/agthud/internal/workspace"
)

// MatchKind says how a path was attributed to a pinned project.
type MatchKind string

const (
	MatchNone          MatchKind = ""
	MatchIdentity      MatchKind = "identity"
	MatchPathPrefix    MatchKind = "path_prefix"
	MatchRepoSubpath   MatchKind = "repo_subpath"
	MatchCrossWorktree MatchKind = "cross_worktree"
)

type pinnedEntry struct {
	project  model.PinnedProject
	identity workspace.Identity
	depth    int
}

// Matcher attributes arbitrary paths to a fixed set of pinned projects.
// It is built once per pass and must not outlive it.
type Matcher struct {
	entries []pinnedEntry
	cache   *workspace.Cache
	home    string
}

// NewMatcher resolves the pinned projects through cache and orders them
// deepest first. home is excluded from path-prefix matching; empty disables
// the exclusion.
func NewMatcher(pinned []model.PinnedProject, cache *workspace.Cache, home string) *Matcher {
	if cache == nil {
		cache = workspace.NewCache()
	}
	if home != "" {
		if normalized, err := workspace.Normalize(home); err == nil {
			home = normalized
		}
	}
	entries := make([]pinnedEntry, 0, len(pinned))
	for _, p := range pinned {
		id, err := cache.Resolve(p.Path)
		if err != nil {
			continue
		}
		entries = append(entries, pinnedEntry{project: p, identity: id, depth: p.Depth()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].depth != entries[j].depth {
			return entries[i].depth > entries[j].depth
		}
		return entries[i].identity.Normalized < entries[j].identity.Normalized
	})
	return &Matcher{entries: entries, cache: cache, home: home}
}

// Len returns the number of usable pinned projects.
func (m *Matcher) Len() int {
	return len(m.entries)
}

// Match returns the pinned project path belongs to.
func (m *Matcher) Match(path string) (model.PinnedProject, MatchKind, bool) {
	id, err := m.cache.Resolve(path)
	if err != nil {
		return model.PinnedProject{}, MatchNone, false
	}
	for _, e := range m.entries {
		if kind := m.direct(e, id); kind != MatchNone {
			return e.project, kind, true
		}
	}
	if e, ok := m.crossWorktree(id); ok {
		return e.project, MatchCrossWorktree, true
	}
	return model.PinnedProject{}, MatchNone, false
}

func (m *Matcher) direct(e pinnedEntry, id workspace.Identity) MatchKind {
	if e.identity.ID == id.ID {
		return MatchIdentity
	}
	pinnedPath := e.identity.Normalized
	if pinnedPath != m.home && (id.Normalized == pinnedPath || workspace.IsStrictDescendant(id.Normalized, pinnedPath)) {
		return MatchPathPrefix
	}
	if e.identity.Repo != nil && id.Repo != nil &&
		e.identity.Repo.CommonDir == id.Repo.CommonDir &&
		workspace.IsDescendant(id.Repo.RelPath, e.identity.Repo.RelPath) {
		return MatchRepoSubpath
	}
	return MatchNone
}

// crossWorktree handles a path inside a repository whose pinned projects all
// sit elsewhere in the tree.
func (m *Matcher) crossWorktree(id workspace.Identity) (pinnedEntry, bool) {
	if id.Repo == nil {
		return pinnedEntry{}, false
	}
	var sameRepo []pinnedEntry
	for _, e := range m.entries {
		if e.identity.Repo != nil && e.identity.Repo.CommonDir == id.Repo.CommonDir {
			sameRepo = append(sameRepo, e)
		}
	}
	switch len(sameRepo) {
	case 0:
		return pinnedEntry{}, false
	case 1:
		return sameRepo[0], true
	}

	rel := id.Repo.RelPath
	var related []pinnedEntry
	for _, e := range sameRepo {
		pinnedRel := e.identity.Repo.RelPath
		if workspace.IsDescendant(rel, pinnedRel) || workspace.IsDescendant(pinnedRel, rel) {
			related = append(related, e)
		}
	}
	if len(related) == 0 {
		return pinnedEntry{}, false
	}
	sort.SliceStable(related, func(i, j int) bool {
		ri, rj := relSpecificity(related[i].identity.Repo.RelPath), relSpecificity(related[j].identity.Repo.RelPath)
		if ri != rj {
			return ri > rj
		}
		return related[i].project.Path < related[j].project.Path
	})
	return related[0], true
}

func relSpecificity(rel string) int {
	if rel == "." || rel == "" {
		return 0
	}
	return len(strings.Split(rel, "/"))
}
