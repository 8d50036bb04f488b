package pipeline

import (
	"github.com/marcus/trail/internal/miner"
)

// Health is the operator-facing snapshot of the pipeline.
type Health struct {
	Components        map[string]State        `json:"components"`
	StoreOpen         bool                    `json:"store_open"`
	StoreLastError    string                  `json:"store_last_error,omitempty"`
	WriterQueueDepth  int                     `json:"writer_queue_depth"`
	WatcherQueueDepth int                     `json:"watcher_queue_depth"`
	Miners            map[string]miner.Status `json:"miners"`
	SubscriberDrops   map[string]uint64       `json:"subscriber_drops"`
}

// Health returns the current snapshot. Safe to call at any point in the
// lifecycle.
func (p *Pipeline) Health() Health {
	p.mu.Lock()
	components := make(map[string]State, len(p.states))
	for name, s := range p.states {
		components[name] = s
	}
	storeOpen := components["store"] == StateRunning
	p.mu.Unlock()

	h := Health{
		Components:        components,
		StoreOpen:         storeOpen,
		WriterQueueDepth:  p.store.QueueDepth(),
		WatcherQueueDepth: p.watcher.QueueDepth(),
		Miners:            p.miner.Statuses(),
		SubscriberDrops:   p.hub.DropCounts(),
	}
	if err := p.store.LastError(); err != nil {
		h.StoreLastError = err.Error()
	}
	return h
}
