package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	repoMarker     = ".git"
	gitdirPrefix   = "gitdir:"
	commonDirFile  = "commondir"
	identitySep    = "|"
	rootRelPath    = "."
	maxPointerSize = 4096
)

var ErrEmptyPath = errors.New("workspace: empty path")

// RepoInfo locates a path inside a git repository. CommonDir is the storage
// directory shared by every worktree of the repository.
type RepoInfo struct {
	Root      string
	CommonDir string
	RelPath   string
}

// Identity is the resolved workspace identity for one path.
type Identity struct {
	ID         string
	Normalized string
	Repo       *RepoInfo
}

// Normalize makes path absolute, cleans it and resolves symlinks when possible.
func Normalize(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrEmptyPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("normalize %q: %w", path, err)
	}
	return resolveExisting(filepath.Clean(abs)), nil
}

// resolveExisting resolves symlinks in the longest existing prefix of path so
// that paths which no longer exist still compare against canonical ones.
func resolveExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(resolveExisting(parent), filepath.Base(path))
}

// Resolve computes the identity of path from the filesystem as it is now.
func Resolve(path string) (Identity, error) {
	normalized, err := Normalize(path)
	if err != nil {
		return Identity{}, err
	}
	repo := FindRepo(normalized)
	if repo == nil {
		return Identity{ID: deriveID(normalized, normalized), Normalized: normalized}, nil
	}
	return Identity{ID: deriveID(repo.CommonDir, repo.RelPath), Normalized: normalized, Repo: repo}, nil
}

// FindRepo walks up from a normalized path looking for a repository marker.
// It returns nil when no marker is found or the repository metadata cannot
// be read.
func FindRepo(normalized string) *RepoInfo {
	dir := normalized
	for {
		marker := filepath.Join(dir, repoMarker)
		if st, err := os.Lstat(marker); err == nil {
			commonDir, ok := resolveCommonDir(dir, marker, st.IsDir())
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(dir, normalized)
			if err != nil {
				return nil
			}
			return &RepoInfo{Root: dir, CommonDir: commonDir, RelPath: filepath.ToSlash(rel)}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

// resolveCommonDir follows a ".git" redirect file and at most one commondir
// pointer beyond it.
func resolveCommonDir(root, marker string, isDir bool) (string, bool) {
	if isDir {
		return canonical(marker), true
	}
	raw, err := readPointer(marker)
	if err != nil || !strings.HasPrefix(raw, gitdirPrefix) {
		return "", false
	}
	gitDir := strings.TrimSpace(strings.TrimPrefix(raw, gitdirPrefix))
	if gitDir == "" {
		return "", false
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(root, gitDir)
	}
	gitDir = filepath.Clean(gitDir)

	common, err := readPointer(filepath.Join(gitDir, commonDirFile))
	if err != nil || common == "" {
		return canonical(gitDir), true
	}
	if !filepath.IsAbs(common) {
		common = filepath.Join(gitDir, common)
	}
	return canonical(common), true
}

func readPointer(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck
	buf := make([]byte, maxPointerSize)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	line, _, _ := strings.Cut(string(buf[:n]), "\n")
	return strings.TrimSpace(line), nil
}

func canonical(path string) string {
	return resolveExisting(filepath.Clean(path))
}

func deriveID(base, rel string) string {
	hash := sha256.Sum256([]byte(base + identitySep + rel))
	return hex.EncodeToString(hash[:])
}

// IsDescendant reports whether child equals parent or lies beneath it.
// Both arguments are slash-separated relative paths or cleaned absolute paths.
func IsDescendant(child, parent string) bool {
	if child == parent || parent == rootRelPath {
		return true
	}
	return strings.HasPrefix(child, strings.TrimSuffix(parent, "/")+"/")
}

// IsStrictDescendant reports whether child lies beneath parent.
func IsStrictDescendant(child, parent string) bool {
	if child == parent {
		return false
	}
	if parent == "/" {
		return strings.HasPrefix(child, "/")
	}
	return strings.HasPrefix(child, strings.TrimSuffix(parent, "/")+"/")
}

// Cache memoizes identities for the duration of one resolution pass.
// Create a fresh Cache per pass; the filesystem may change between passes.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	id  Identity
	err error
}

func NewCache() *Cache {
	return &Cache{entries: map[string]cacheEntry{}}
}

func (c *Cache) Resolve(path string) (Identity, error) {
	if c == nil {
		return Resolve(path)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		return e.id, e.err
	}
	id, err := Resolve(path)
	c.entries[path] = cacheEntry{id: id, err: err}
	return id, err
}
