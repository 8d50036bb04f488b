// Package correlate links newly appended entries to the prompt that
// plausibly caused them, using a time-window lookback policy.
package correlate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marcus/trail/internal/hub"
	"github.com/marcus/trail/internal/models"
	"github.com/marcus/trail/internal/store"
	"github.com/marcus/trail/internal/workspace"
)

// DefaultWindow is the lookback interval for prompt candidates.
const DefaultWindow = 5 * time.Minute

// Correlator consumes EntryAppended notifications and attaches at most one
// unlinked prompt to each entry. Linking failures are never user-visible
// and never block ingestion.
type Correlator struct {
	store  *store.Store
	sub    *hub.Subscriber
	window time.Duration
	clock  workspace.Clock
}

// New subscribes a correlator to the hub. A zero window falls back to
// DefaultWindow.
func New(st *store.Store, h *hub.Hub, window time.Duration, clock workspace.Clock) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = time.Now
	}
	return &Correlator{
		store:  st,
		sub:    h.Subscribe("correlator"),
		window: window,
		clock:  clock,
	}
}

// Run consumes notifications until ctx is cancelled or the hub closes.
func (c *Correlator) Run(ctx context.Context) error {
	// Subscribe returns nil once the hub is closed.
	if c.sub == nil {
		return errors.New("correlator: hub closed before start")
	}
	defer c.sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-c.sub.C():
			if !ok {
				return nil
			}
			if n.Kind == hub.KindEntryAppended && n.Entry != nil {
				c.CorrelateEntry(ctx, n.Entry)
			}
			// PromptAppended takes no eager action: linking happens on the
			// next entry.
		}
	}
}

// CorrelateEntry applies the link policy to one entry: within
// [ts-window, ts], pick the unlinked prompt with the greatest timestamp
// (ties broken by larger id) and link it. On a concurrent-link conflict the
// query is retried once; any further failure is dropped silently.
func (c *Correlator) CorrelateEntry(ctx context.Context, e *models.Entry) {
	if e.PromptID != "" {
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		p, err := c.pickCandidate(e)
		if err != nil {
			slog.Warn("correlator query failed", "entry", e.ID, "err", err)
			return
		}
		if p == nil {
			return
		}

		err = c.store.Link(ctx, e.ID, p.ID)
		if err == nil {
			slog.Debug("prompt linked", "entry", e.ID, "prompt", p.ID)
			return
		}
		if errors.Is(err, store.ErrAlreadyLinked) {
			// Someone linked one endpoint concurrently; re-query once.
			continue
		}
		slog.Warn("link failed", "entry", e.ID, "prompt", p.ID, "err", err)
		return
	}
}

// pickCandidate returns the best linkable prompt in the window, or nil.
// QueryPromptsInWindow orders newest-first with id as the deterministic
// tie-break.
func (c *Correlator) pickCandidate(e *models.Entry) (*models.Prompt, error) {
	lo := e.Timestamp.Add(-c.window)
	prompts, err := c.store.QueryPromptsInWindow(lo, e.Timestamp,
		[]models.PromptStatus{models.PromptCaptured, models.PromptPending}, 0)
	if err != nil {
		return nil, err
	}
	for i := range prompts {
		if prompts[i].LinkedEntryID == "" {
			return &prompts[i], nil
		}
	}
	return nil, nil
}

// Dropped reports how many notifications the correlator has lost, for
// health output.
func (c *Correlator) Dropped() uint64 {
	if c.sub == nil {
		return 0
	}
	return c.sub.Dropped()
}
