// Package pathguard canonicalizes and bounds-checks every filesystem
// reference the core touches, and watches the workspace for out-of-band
// change, leaving staged skill bundle subtrees out of the report.
package pathguard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Guard holds a process-wide reference to the canonical workspace root and
// validates every path a tool invocation touches against it.
type Guard struct {
	root string

	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	staged   map[string]bool // scratch subtrees currently exempt from external-change reporting
	logger   *logging.Logger
	onDrift  func(path string)
}

// New resolves root to an absolute, symlink-free path and constructs a
// Guard rooted there. It does not require root to exist yet.
func New(root string, logger *logging.Logger) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "pathguard.New", "resolve absolute path", err)
	}
	canon, err := canonicalize(abs)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "pathguard.New", "canonicalize workspace root", err)
	}
	return &Guard{root: canon, staged: make(map[string]bool), logger: logger}, nil
}

// Root returns the canonical workspace root.
func (g *Guard) Root() string { return g.root }

// canonicalize resolves symlinks where possible; a path that does not yet
// exist is canonicalized component-by-component up to its first existing
// ancestor, since tools may write new files or directories.
func canonicalize(p string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return filepath.Clean(resolved), nil
	}
	parent := filepath.Dir(p)
	if parent == p {
		return filepath.Clean(p), nil
	}
	resolvedParent, err := canonicalize(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(p)), nil
}

// Resolve validates a single path argument against the workspace boundary.
// Relative paths are resolved against the workspace root. The returned path
// is canonical and guaranteed to be a prefix-descendant of the root (or the
// root itself). An empty path is a KindValidation error and a failed device
// check a KindInternal error; every other rejection is a KindSandbox error
// tagged workspace_violation.
func (g *Guard) Resolve(raw string) (string, error) {
	if raw == "" {
		return "", titanerr.New(titanerr.KindValidation, "pathguard.Resolve", "empty path")
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(g.root, candidate)
	}

	canon, err := canonicalize(candidate)
	if err != nil {
		return "", titanerr.Wrap(titanerr.KindSandbox, "pathguard.Resolve", "workspace_violation: cannot canonicalize path", err)
	}

	if !g.withinRoot(canon) {
		return "", titanerr.New(titanerr.KindSandbox, "pathguard.Resolve",
			fmt.Sprintf("workspace_violation: %q escapes workspace root %q (raw input: %q)", canon, g.root, raw))
	}

	if crossesMount, err := g.crossesDeviceBoundary(canon); err != nil {
		return "", titanerr.Wrap(titanerr.KindInternal, "pathguard.Resolve", "check device boundary", err)
	} else if crossesMount {
		return "", titanerr.New(titanerr.KindSandbox, "pathguard.Resolve",
			fmt.Sprintf("workspace_violation: %q crosses a filesystem device boundary", canon))
	}

	return canon, nil
}

// withinRoot reports whether canon is the workspace root or a
// prefix-descendant of it. Path equal to the root itself is allowed.
func (g *Guard) withinRoot(canon string) bool {
	if canon == g.root {
		return true
	}
	rel, err := filepath.Rel(g.root, canon)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..") && rel != ".."
}

// crossesDeviceBoundary reports whether canon lives on a different
// filesystem device than the workspace root, catching bind-mounts grafted
// under the workspace. Resolve applies it to every path; no tool class is
// exempt from it.
func (g *Guard) crossesDeviceBoundary(canon string) (bool, error) {
	rootInfo, err := os.Stat(g.root)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	target := canon
	for {
		info, err := os.Stat(target)
		if err == nil {
			return !sameDevice(rootInfo, info), nil
		}
		if !os.IsNotExist(err) {
			return false, err
		}
		parent := filepath.Dir(target)
		if parent == target {
			return false, nil
		}
		target = parent
	}
}

// StartWatch begins observing the workspace root for changes outside any
// currently staged scratch subtree, reporting drift via onDrift as an
// informational signal; it never blocks a tool invocation.
func (g *Guard) StartWatch(onDrift func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return titanerr.Wrap(titanerr.KindInternal, "pathguard.StartWatch", "create watcher", err)
	}
	if err := w.Add(g.root); err != nil {
		w.Close()
		return titanerr.Wrap(titanerr.KindInternal, "pathguard.StartWatch", "watch workspace root", err)
	}

	g.mu.Lock()
	g.watcher = w
	g.onDrift = onDrift
	g.mu.Unlock()

	go g.watchLoop(w)
	return nil
}

func (g *Guard) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if g.isStaged(ev.Name) {
				continue
			}
			if g.logger != nil {
				g.logger.Info("workspace_external_change", map[string]interface{}{"path": ev.Name, "op": ev.Op.String()})
			}
			g.mu.RLock()
			cb := g.onDrift
			g.mu.RUnlock()
			if cb != nil {
				cb(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if g.logger != nil {
				g.logger.Warn("workspace watch error", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// StageExempt marks a scratch subtree as exempt from drift reporting while
// a skill bundle install is in flight there.
func (g *Guard) StageExempt(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.staged[filepath.Clean(path)] = true
}

// UnstageExempt removes a previously staged exemption.
func (g *Guard) UnstageExempt(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.staged, filepath.Clean(path))
}

func (g *Guard) isStaged(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for staged := range g.staged {
		if strings.HasPrefix(path, staged) {
			return true
		}
	}
	return false
}

// Close stops the background watcher, if one was started.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.watcher == nil {
		return nil
	}
	return g.watcher.Close()
}
