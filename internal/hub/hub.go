// Package hub fans out typed change notifications to registered subscribers.
//
// Each subscriber owns a bounded FIFO queue. Publishing never blocks: when a
// subscriber's queue is full the oldest notification is evicted and the
// subscriber's dropped counter is incremented. Slow subscribers lose events;
// they never exert backpressure on the pipeline.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/marcus/trail/internal/models"
)

// Kind discriminates the notification union.
type Kind string

const (
	KindEntryAppended  Kind = "entry_appended"
	KindPromptAppended Kind = "prompt_appended"
	KindPromptLinked   Kind = "prompt_linked"
	KindEventAppended  Kind = "event_appended"
)

// Notification is one typed change notice. Exactly one payload field is set
// for the append kinds; PromptLinked carries the two endpoint ids.
type Notification struct {
	Kind   Kind
	Entry  *models.Entry
	Prompt *models.Prompt
	Event  *models.Event

	// Set for KindPromptLinked.
	EntryID  string
	PromptID string
}

// Hub manages subscribers and broadcasts notifications to all of them.
type Hub struct {
	capacity int

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// Subscriber is one registered receiver. Read notifications from C();
// call Close to deregister.
type Subscriber struct {
	name    string
	ch      chan Notification
	dropped atomic.Uint64
	hub     *Hub
}

// New creates a Hub whose subscribers buffer up to capacity notifications.
func New(capacity int) *Hub {
	if capacity < 1 {
		capacity = 1
	}
	return &Hub{
		capacity: capacity,
		subs:     make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber. The name is used only in health
// output and logs. Returns nil if the hub is already closed.
func (h *Hub) Subscribe(name string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	s := &Subscriber{
		name: name,
		ch:   make(chan Notification, h.capacity),
		hub:  h,
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish delivers n to every subscriber, evicting the oldest queued
// notification per subscriber on overflow.
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		for {
			select {
			case s.ch <- n:
			default:
				// Queue full: evict the head and retry. A concurrent
				// receive may have already made room.
				select {
				case <-s.ch:
					s.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Close deregisters all subscribers and closes their channels. Subsequent
// Publish and Subscribe calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}

// DropCounts returns the dropped-notification count per subscriber name.
func (h *Hub) DropCounts() map[string]uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := make(map[string]uint64, len(h.subs))
	for s := range h.subs {
		counts[s.name] += s.dropped.Load()
	}
	return counts
}

// C returns the subscriber's receive channel. The channel is closed when the
// subscriber or the hub is closed.
func (s *Subscriber) C() <-chan Notification {
	return s.ch
}

// Dropped returns how many notifications this subscriber has lost to
// overflow.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Name returns the subscriber's registration name.
func (s *Subscriber) Name() string {
	return s.name
}

// Close deregisters the subscriber and closes its channel.
func (s *Subscriber) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}
