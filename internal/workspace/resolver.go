// Package workspace maps absolute file paths to workspace roots and derives
// session ids, rolling sessions over after an idle gap.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdle is the inactivity gap that triggers a session rollover.
const DefaultIdle = 30 * time.Minute

// Clock supplies the current time. Tests substitute a virtual clock.
type Clock func() time.Time

// markerFiles identify a project root when walking up from a file outside
// the configured roots.
var markerFiles = []string{".git", "go.mod", "package.json", "Cargo.toml", "pyproject.toml"}

type sessionState struct {
	id           string
	lastActivity time.Time
}

// Resolver tracks one session per workspace. Safe for concurrent use.
type Resolver struct {
	roots      []string
	autoDetect bool
	idle       time.Duration
	clock      Clock

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewResolver builds a resolver over the configured workspace roots. Roots
// are cleaned; the longest matching root wins at lookup time. A zero idle
// falls back to DefaultIdle; a nil clock falls back to time.Now.
func NewResolver(roots []string, autoDetect bool, idle time.Duration, clock Clock) *Resolver {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if clock == nil {
		clock = time.Now
	}
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		cleaned = append(cleaned, filepath.Clean(r))
	}
	return &Resolver{
		roots:      cleaned,
		autoDetect: autoDetect,
		idle:       idle,
		clock:      clock,
		sessions:   make(map[string]*sessionState),
	}
}

// DetectWorkspace maps an absolute path to its workspace root: the longest
// configured root that is a prefix of the path, else (when auto-detection is
// on) the nearest ancestor directory holding a project marker, else the
// path's parent directory.
func (r *Resolver) DetectWorkspace(absPath string) string {
	absPath = filepath.Clean(absPath)

	best := ""
	for _, root := range r.roots {
		if isPathPrefix(root, absPath) && len(root) > len(best) {
			best = root
		}
	}
	if best != "" {
		return best
	}

	if r.autoDetect {
		if root := findMarkerRoot(filepath.Dir(absPath)); root != "" {
			return root
		}
	}
	return filepath.Dir(absPath)
}

// SessionFor returns the current session id for a workspace, creating a
// fresh one on first use or after an idle gap of at least the configured
// duration. Updates the workspace's last-activity time to now.
func (r *Resolver) SessionFor(workspacePath string) string {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[workspacePath]
	if !ok || now.Sub(st.lastActivity) >= r.idle {
		st = &sessionState{id: uuid.NewString()}
		r.sessions[workspacePath] = st
	}
	st.lastActivity = now
	return st.id
}

// Relative returns path relative to the workspace root, or the cleaned path
// unchanged when it is not under the root.
func Relative(workspacePath, absPath string) string {
	rel, err := filepath.Rel(workspacePath, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Clean(absPath)
	}
	return rel
}

func isPathPrefix(root, path string) bool {
	if root == path {
		return true
	}
	if !strings.HasPrefix(path, root) {
		return false
	}
	return path[len(root)] == filepath.Separator
}

// findMarkerRoot walks up from dir looking for a project marker file.
func findMarkerRoot(dir string) string {
	for {
		for _, marker := range markerFiles {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
