// Package pipeline wires the recorder components together and owns their
// lifecycle: start, drain, stop, and health reporting.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/trail/internal/config"
	"github.com/marcus/trail/internal/correlate"
	"github.com/marcus/trail/internal/hub"
	"github.com/marcus/trail/internal/miner"
	"github.com/marcus/trail/internal/store"
	"github.com/marcus/trail/internal/watcher"
	"github.com/marcus/trail/internal/workspace"
)

// State is the lifecycle state of one component.
type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// janitorInterval is how often expired rows are swept when retention is
// configured.
const janitorInterval = time.Hour

// Pipeline owns the full capture-correlate-persist core.
type Pipeline struct {
	cfg *config.Config

	store      *store.Store
	hub        *hub.Hub
	resolver   *workspace.Resolver
	watcher    *watcher.Watcher
	miner      *miner.Miner
	correlator *correlate.Correlator

	mu      sync.Mutex
	states  map[string]State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a pipeline from config. The store is opened here so a fatal
// database problem surfaces before any component starts.
func New(cfg *config.Config, clock workspace.Clock) (*Pipeline, error) {
	if clock == nil {
		clock = time.Now
	}

	h := hub.New(cfg.QueueCapacity)
	st, err := store.Open(cfg.StorePath, h, config.DefaultWriterCapacity)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	resolver := workspace.NewResolver(cfg.WorkspaceRoots, cfg.AutoDetectWorkspaces,
		cfg.SessionIdle(), clock)

	w := watcher.New(watcher.Config{
		Roots:        cfg.WorkspaceRoots,
		Ignore:       cfg.Ignore,
		MaxFileBytes: cfg.MaxFileBytes,
		Threshold:    cfg.DiffThreshold,
		Stability:    cfg.WriteStability(),
		Retention:    cfg.Retention(),
		Clock:        clock,
	}, st, resolver)

	mn := miner.New(miner.Config{
		Databases: cfg.MinerDatabases,
		Poll:      cfg.MinerPoll(),
		Retention: cfg.Retention(),
		Clock:     clock,
	}, st)

	corr := correlate.New(st, h, cfg.LinkWindow(), clock)

	return &Pipeline{
		cfg:        cfg,
		store:      st,
		hub:        h,
		resolver:   resolver,
		watcher:    w,
		miner:      mn,
		correlator: corr,
		states: map[string]State{
			"store":      StateRunning, // writer task starts with Open
			"watcher":    StateCreated,
			"miner":      StateCreated,
			"correlator": StateCreated,
		},
	}, nil
}

// Store exposes the store for read-side consumers.
func (p *Pipeline) Store() *store.Store { return p.store }

// Hub exposes the hub for read-side subscribers.
func (p *Pipeline) Hub() *hub.Hub { return p.hub }

// Resolver exposes the workspace resolver for ingest surfaces.
func (p *Pipeline) Resolver() *workspace.Resolver { return p.resolver }

// Start launches every component. Idempotent: a second call is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(p.runComponent(gctx, "correlator", p.correlator.Run))
	g.Go(p.runComponent(gctx, "watcher", p.watcher.Run))
	g.Go(p.runComponent(gctx, "miner", p.miner.Run))
	if p.cfg.Retention() > 0 {
		g.Go(func() error { return p.runJanitor(gctx) })
	}

	go func() {
		defer close(p.done)
		if err := g.Wait(); err != nil {
			slog.Error("pipeline halted", "err", err)
		}
	}()

	slog.Info("pipeline started",
		"roots", len(p.cfg.WorkspaceRoots),
		"miner_dbs", len(p.cfg.MinerDatabases),
		"store", p.cfg.StorePath)
	return nil
}

// runComponent wraps a component run loop with state bookkeeping. A non-nil
// return is a fatal fault: the component is marked Failed and the errgroup
// cancels its siblings.
func (p *Pipeline) runComponent(ctx context.Context, name string, run func(context.Context) error) func() error {
	return func() error {
		p.setState(name, StateRunning)
		err := run(ctx)
		if err != nil {
			p.setState(name, StateFailed)
			return fmt.Errorf("%s: %w", name, err)
		}
		p.setState(name, StateStopped)
		return nil
	}
}

// Stop cancels all components, waits up to timeout for them to drain, then
// closes the hub and flushes the store. Safe to call more than once.
func (p *Pipeline) Stop(timeout time.Duration) error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel != nil {
		p.setDrainingAll()
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			slog.Warn("pipeline stop timed out, discarding in-flight work")
		}
	}

	p.hub.Close()
	if err := p.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	p.setState("store", StateStopped)
	slog.Info("pipeline stopped")
	return nil
}

// runJanitor sweeps expired rows on a coarse interval.
func (p *Pipeline) runJanitor(ctx context.Context) error {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.store.CleanupExpired(ctx, time.Now())
			if err != nil {
				slog.Warn("retention sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("retention sweep", "removed", n)
			}
		}
	}
}

func (p *Pipeline) setState(name string, s State) {
	p.mu.Lock()
	p.states[name] = s
	p.mu.Unlock()
}

func (p *Pipeline) setDrainingAll() {
	p.mu.Lock()
	for name, s := range p.states {
		if s == StateRunning {
			p.states[name] = StateDraining
		}
	}
	p.mu.Unlock()
}
