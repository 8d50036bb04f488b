package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/trail/internal/config"
	"github.com/marcus/trail/internal/store"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.WriteStabilityMS = 20

	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestStartStop(t *testing.T) {
	p := newTestPipeline(t)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Errorf("second Start: %v", err)
	}

	// Components reach Running shortly after Start.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h := p.Health()
		if h.Components["watcher"] == StateRunning &&
			h.Components["miner"] == StateRunning &&
			h.Components["correlator"] == StateRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("components never started: %v", h.Components)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := p.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	h := p.Health()
	if h.Components["store"] != StateStopped {
		t.Errorf("store state = %s, want stopped", h.Components["store"])
	}
	for _, name := range []string{"watcher", "miner", "correlator"} {
		if s := h.Components[name]; s != StateStopped {
			t.Errorf("%s state = %s, want stopped", name, s)
		}
	}

	if err := p.Stop(time.Second); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestHealthBeforeStart(t *testing.T) {
	p := newTestPipeline(t)
	defer p.Stop(time.Second)

	h := p.Health()
	if !h.StoreOpen {
		t.Error("store should be open after New")
	}
	if h.Components["watcher"] != StateCreated {
		t.Errorf("watcher state = %s, want created", h.Components["watcher"])
	}
	if h.WriterQueueDepth != 0 {
		t.Errorf("WriterQueueDepth = %d", h.WriterQueueDepth)
	}
}

func TestPipelineRecordsFileChange(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.WriteStabilityMS = 20
	cfg.DiffThreshold = 5

	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(5 * time.Second)

	// Let the watcher register its roots before writing.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		entries, err := p.Store().QueryEntries(store.EntryFilter{})
		if err == nil && len(entries) == 1 {
			if entries[0].FilePath != "main.go" {
				t.Errorf("FilePath = %q", entries[0].FilePath)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("file change never recorded")
		}
		time.Sleep(25 * time.Millisecond)
	}
}
