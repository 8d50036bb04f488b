// Package watcher observes workspace roots for file changes, computes
// before/after diffs against an in-memory snapshot cache, and appends
// significant changes to the store.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/marcus/trail/internal/diff"
	"github.com/marcus/trail/internal/models"
	"github.com/marcus/trail/internal/store"
	"github.com/marcus/trail/internal/workspace"
)

const (
	// DefaultStability is how long a file must be quiescent before it is
	// read.
	DefaultStability = 300 * time.Millisecond

	// readTimeout bounds a single file read.
	readTimeout = 5 * time.Second

	// maxReadAttempts bounds transient read retries.
	maxReadAttempts = 3

	// pathQueueCapacity bounds the debounced-path queue.
	pathQueueCapacity = 512
)

// Config tunes a Watcher.
type Config struct {
	Roots        []string
	Ignore       []string
	MaxFileBytes int64
	Threshold    int
	Stability    time.Duration
	Retention    time.Duration
	Clock        workspace.Clock
}

// Watcher owns the snapshot cache; no other component touches it.
type Watcher struct {
	cfg      Config
	store    *store.Store
	resolver *workspace.Resolver

	// snapshots and timers are touched only by the run goroutine.
	snapshots map[string][]byte
	timers    map[string]*time.Timer

	// pathCh carries debounced paths back into the run goroutine.
	pathCh chan string
}

// New builds a watcher over the configured roots.
func New(cfg Config, st *store.Store, res *workspace.Resolver) *Watcher {
	if cfg.Stability <= 0 {
		cfg.Stability = DefaultStability
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = diff.DefaultThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Watcher{
		cfg:       cfg,
		store:     st,
		resolver:  res,
		snapshots: make(map[string][]byte),
		timers:    make(map[string]*time.Timer),
		pathCh:    make(chan string, pathQueueCapacity),
	}
}

// QueueDepth reports how many debounced paths await processing.
func (w *Watcher) QueueDepth() int {
	return len(w.pathCh)
}

// Run watches until ctx is cancelled. Loss of the OS watch subsystem is
// fatal and returns an error.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	for _, root := range w.cfg.Roots {
		if err := w.addTree(fw, root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}
	slog.Info("watcher started", "roots", len(w.cfg.Roots))

	for {
		select {
		case <-ctx.Done():
			w.drainTimers()
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watch event stream closed")
			}
			w.handleFsEvent(ctx, fw, ev)

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watch error stream closed")
			}
			slog.Warn("watch error", "err", err)

		case path := <-w.pathCh:
			w.processPath(ctx, path)
		}
	}
}

// handleFsEvent routes one raw fsnotify event. Deletes and renames are
// processed immediately; writes and creates are debounced per path.
func (w *Watcher) handleFsEvent(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if w.ignored(path) {
		return
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// A rename is an unlink of the old path; the new path arrives as a
		// separate create and does not inherit the snapshot.
		if t, ok := w.timers[path]; ok {
			t.Stop()
			delete(w.timers, path)
		}
		w.handleUnlink(ctx, path)
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			if err := w.addTree(fw, path); err != nil {
				slog.Warn("watch new dir", "path", path, "err", err)
			}
		}
		return
	}

	// Debounce: the file must be quiescent for the stability interval
	// before it is read.
	if t, ok := w.timers[path]; ok {
		t.Reset(w.cfg.Stability)
		return
	}
	w.timers[path] = time.AfterFunc(w.cfg.Stability, func() {
		select {
		case w.pathCh <- path:
		case <-ctx.Done():
		}
	})
}

// processPath runs the per-path protocol: read, diff against the snapshot,
// append an entry when significant, replace the snapshot.
func (w *Watcher) processPath(ctx context.Context, path string) {
	delete(w.timers, path)

	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.handleUnlink(ctx, path)
		} else {
			slog.Warn("stat file", "path", path, "err", err)
		}
		return
	}
	if fi.IsDir() {
		return
	}

	if fi.Size() > w.cfg.MaxFileBytes {
		slog.Info("skipping oversize file", "path", path,
			"size", humanize.Bytes(uint64(fi.Size())),
			"limit", humanize.Bytes(uint64(w.cfg.MaxFileBytes)))
		return
	}

	after, err := readFileRetry(ctx, path)
	if err != nil {
		// Snapshot stays untouched so the next event retries the diff.
		slog.Warn("read file", "path", path, "err", err)
		return
	}
	if int64(len(after)) > w.cfg.MaxFileBytes {
		slog.Info("skipping oversize file", "path", path,
			"size", humanize.Bytes(uint64(len(after))))
		return
	}

	before := w.snapshots[path]
	if string(before) == string(after) {
		return
	}

	summary := diff.Compute(before, after, diff.Options{Threshold: w.cfg.Threshold})
	if !summary.Significant {
		w.snapshots[path] = after
		return
	}

	now := w.cfg.Clock()
	ws := w.resolver.DetectWorkspace(path)
	session := w.resolver.SessionFor(ws)

	entry := &models.Entry{
		SessionID:     session,
		WorkspacePath: ws,
		Timestamp:     now,
		Source:        models.SourceFilesystem,
		FilePath:      workspace.Relative(ws, path),
		BeforeCode:    string(before),
		AfterCode:     string(after),
		Diff:          summary,
		ExpiresAt:     expiry(now, w.cfg.Retention),
	}

	if _, err := w.store.AppendEntry(ctx, entry); err != nil {
		slog.Error("append entry", "path", path, "err", err)
		return
	}
	slog.Debug("entry recorded", "file", entry.FilePath,
		"added", summary.CharsAdded, "removed", summary.CharsRemoved)

	w.snapshots[path] = after
}

// handleUnlink drops the snapshot and records a file_deleted event. Paths
// we never snapshotted (directories, untracked files) are ignored.
func (w *Watcher) handleUnlink(ctx context.Context, path string) {
	if _, ok := w.snapshots[path]; !ok {
		return
	}
	delete(w.snapshots, path)

	now := w.cfg.Clock()
	ws := w.resolver.DetectWorkspace(path)
	session := w.resolver.SessionFor(ws)

	ev := &models.Event{
		SessionID:     session,
		WorkspacePath: ws,
		Timestamp:     now,
		Type:          models.EventFileDeleted,
		Details:       fmt.Sprintf(`{"file_path":%q}`, workspace.Relative(ws, path)),
		ExpiresAt:     expiry(now, w.cfg.Retention),
	}
	if _, err := w.store.AppendEvent(ctx, ev); err != nil {
		slog.Error("append delete event", "path", path, "err", err)
	}
}

// addTree registers path and all non-ignored subdirectories with the OS
// watcher.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (w.ignored(path) || w.ignoredDir(path)) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

// ignored matches the path against the configured glob patterns, testing
// the path relative to its root and the bare file name.
func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.cfg.Ignore {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
		for _, root := range w.cfg.Roots {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				continue
			}
			if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
				return true
			}
		}
	}
	return false
}

// ignoredDir reports whether a "dir/**" pattern covers everything under
// path, so the whole subtree can be skipped instead of watched.
func (w *Watcher) ignoredDir(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.cfg.Ignore {
		prefix, found := strings.CutSuffix(pattern, "/**")
		if !found {
			continue
		}
		if prefix == base {
			return true
		}
		for _, root := range w.cfg.Roots {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				continue
			}
			if ok, _ := doublestar.Match(prefix, filepath.ToSlash(rel)); ok {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) drainTimers() {
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// readFileRetry reads path with bounded retries and exponential backoff.
// A path that vanished mid-read is not retried; the unlink handler owns it.
func readFileRetry(ctx context.Context, path string) ([]byte, error) {
	var err error
	backoff := 10 * time.Millisecond
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		var data []byte
		data, err = readFile(ctx, path)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, fs.ErrNotExist) || ctx.Err() != nil {
			return nil, err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, err
}

// readFile reads path with a bounded timeout.
func readFile(ctx context.Context, path string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- result{data, err}
	}()

	timer := time.NewTimer(readTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.data, res.err
	case <-timer.C:
		return nil, fmt.Errorf("read %s: timeout", path)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func expiry(now time.Time, retention time.Duration) *time.Time {
	if retention <= 0 {
		return nil
	}
	t := now.Add(retention)
	return &t
}
