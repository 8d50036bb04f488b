package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/trail/internal/models"
	"github.com/marcus/trail/internal/store"
	"github.com/marcus/trail/internal/workspace"
)

func newTestWatcher(t *testing.T, root string, cfg Config) (*Watcher, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "activity.db"), nil, 64)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg.Roots = []string{root}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = 1 << 20
	}
	res := workspace.NewResolver(cfg.Roots, false, 0, cfg.Clock)
	return New(cfg, st, res), st
}

func TestProcessPathRecordsSignificantChange(t *testing.T) {
	root := t.TempDir()
	w, st := newTestWatcher(t, root, Config{Threshold: 10})
	ctx := context.Background()

	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// First observation: the whole file counts as added.
	w.processPath(ctx, path)

	entries, err := st.QueryEntries(store.EntryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Source != models.SourceFilesystem {
		t.Errorf("Source = %q", e.Source)
	}
	if e.FilePath != "main.go" {
		t.Errorf("FilePath = %q, want workspace-relative main.go", e.FilePath)
	}
	if e.WorkspacePath != root {
		t.Errorf("WorkspacePath = %q, want %q", e.WorkspacePath, root)
	}
	if e.BeforeCode != "" {
		t.Errorf("BeforeCode = %q, want empty on first observation", e.BeforeCode)
	}

	// Second change diffs against the snapshot.
	if err := os.WriteFile(path, []byte("package main\n\nfunc main() { println(42) }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	w.processPath(ctx, path)

	entries, _ = st.QueryEntries(store.EntryFilter{Descending: true})
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].BeforeCode != "package main\n\nfunc main() {}\n" {
		t.Errorf("BeforeCode = %q, want prior snapshot", entries[0].BeforeCode)
	}
}

func TestProcessPathInsignificantChangeUpdatesSnapshot(t *testing.T) {
	root := t.TempDir()
	w, st := newTestWatcher(t, root, Config{Threshold: 100})
	ctx := context.Background()

	path := filepath.Join(root, "notes.txt")
	os.WriteFile(path, []byte("tiny\n"), 0644)
	w.processPath(ctx, path)

	entries, _ := st.QueryEntries(store.EntryFilter{})
	if len(entries) != 0 {
		t.Fatalf("insignificant change recorded: %d entries", len(entries))
	}

	// The snapshot advanced anyway: the next diff is against "tiny\n",
	// not against the empty initial state.
	if string(w.snapshots[path]) != "tiny\n" {
		t.Errorf("snapshot = %q, want updated content", w.snapshots[path])
	}
}

func TestProcessPathUnchangedContentSkipped(t *testing.T) {
	root := t.TempDir()
	w, st := newTestWatcher(t, root, Config{Threshold: 5})
	ctx := context.Background()

	path := filepath.Join(root, "main.go")
	os.WriteFile(path, []byte("package main\n"), 0644)
	w.processPath(ctx, path)
	w.processPath(ctx, path) // touch without content change

	entries, _ := st.QueryEntries(store.EntryFilter{})
	if len(entries) != 1 {
		t.Errorf("identical content recorded again: %d entries", len(entries))
	}
}

func TestProcessPathOversizeSkipped(t *testing.T) {
	root := t.TempDir()
	w, st := newTestWatcher(t, root, Config{Threshold: 5, MaxFileBytes: 16})
	ctx := context.Background()

	path := filepath.Join(root, "big.bin")
	os.WriteFile(path, make([]byte, 64), 0644)
	w.processPath(ctx, path)

	entries, _ := st.QueryEntries(store.EntryFilter{})
	if len(entries) != 0 {
		t.Errorf("oversize file recorded: %d entries", len(entries))
	}
	if _, ok := w.snapshots[path]; ok {
		t.Error("oversize file gained a snapshot")
	}
}

func TestUnlinkEmitsDeleteEventOnlyForSnapshottedPaths(t *testing.T) {
	root := t.TempDir()
	w, st := newTestWatcher(t, root, Config{Threshold: 5})
	ctx := context.Background()

	tracked := filepath.Join(root, "tracked.go")
	os.WriteFile(tracked, []byte("package tracked\n"), 0644)
	w.processPath(ctx, tracked)

	// Unlink of a path we never snapshotted: no event.
	w.handleUnlink(ctx, filepath.Join(root, "never-seen.go"))

	os.Remove(tracked)
	w.handleUnlink(ctx, tracked)

	events, err := st.QueryEvents(store.EventFilter{Type: models.EventFileDeleted})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	var details struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal([]byte(events[0].Details), &details); err != nil {
		t.Fatalf("details not JSON: %q", events[0].Details)
	}
	if details.FilePath != "tracked.go" {
		t.Errorf("file_path = %q", details.FilePath)
	}

	if _, ok := w.snapshots[tracked]; ok {
		t.Error("snapshot survived unlink")
	}

	// A second unlink of the same path stays silent.
	w.handleUnlink(ctx, tracked)
	events, _ = st.QueryEvents(store.EventFilter{Type: models.EventFileDeleted})
	if len(events) != 1 {
		t.Errorf("repeat unlink emitted another event")
	}
}

func TestIgnored(t *testing.T) {
	root := "/ws"
	w := New(Config{
		Roots:  []string{root},
		Ignore: []string{"*.log", "node_modules/**", ".git/**", "build"},
	}, nil, nil)

	tests := []struct {
		path string
		want bool
	}{
		{"/ws/app.log", true},
		{"/ws/deep/nested/trace.log", true},
		{"/ws/node_modules/pkg/index.js", true},
		{"/ws/.git/objects/ab/cdef", true},
		{"/ws/build", true},
		{"/ws/src/main.go", false},
		{"/ws/logfile.txt", false},
	}
	for _, tt := range tests {
		if got := w.ignored(tt.path); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestRunWatchesFilesystem(t *testing.T) {
	root := t.TempDir()
	w, st := newTestWatcher(t, root, Config{
		Threshold: 5,
		Stability: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// Give the watcher a moment to register the root.
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(root, "watched.go")
	if err := os.WriteFile(path, []byte("package watched\n\nvar x = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		entries, err := st.QueryEntries(store.EntryFilter{})
		if err == nil && len(entries) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no entry recorded for watched file")
		}
		time.Sleep(25 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}
