package serve

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcus/trail/internal/hub"
)

// SSEEvent represents a single Server-Sent Event.
type SSEEvent struct {
	ID    string // record id of the notification subject
	Event string // notification kind, or "ping"
	Data  string // JSON payload
}

// pingInterval keeps idle SSE connections alive through proxies.
const pingInterval = 30 * time.Second

// streamPayload is the JSON body of a notification event on the stream.
type streamPayload struct {
	Kind     string  `json:"kind"`
	EntryID  string  `json:"entry_id,omitempty"`
	PromptID string  `json:"prompt_id,omitempty"`
	Entry    any     `json:"entry,omitempty"`
	Prompt   any     `json:"prompt,omitempty"`
	Event    any     `json:"event,omitempty"`
	SentAt   string  `json:"sent_at"`
	Dropped  *uint64 `json:"dropped,omitempty"`
}

// handleStream is the HTTP handler for GET /v1/stream (SSE endpoint). Each
// connection gets its own hub subscription; a slow reader sheds its oldest
// pending notifications rather than stalling the recorder.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrInternal, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Long-lived connection: clear the server write deadline.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("sse: failed to clear write deadline", "err", err)
	}

	sub := s.pipe.Hub().Subscribe("sse-" + r.RemoteAddr)
	if sub == nil {
		WriteError(w, ErrInternal, "event stream unavailable", http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	// Initial ping so the client knows it is connected.
	writeSSEEvent(w, flusher, SSEEvent{Event: "ping", Data: "{}"})

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			writeSSEEvent(w, flusher, SSEEvent{Event: "ping", Data: "{}"})
		case n, ok := <-sub.C():
			if !ok {
				// Hub shutting down.
				return
			}
			writeSSEEvent(w, flusher, notificationEvent(n, sub.Dropped()))
		}
	}
}

// notificationEvent converts a hub notification into its SSE frame.
func notificationEvent(n hub.Notification, dropped uint64) SSEEvent {
	p := streamPayload{
		Kind:     string(n.Kind),
		EntryID:  n.EntryID,
		PromptID: n.PromptID,
		SentAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if dropped > 0 {
		p.Dropped = &dropped
	}

	id := n.EntryID
	switch {
	case n.Entry != nil:
		dto := EntryToDTO(n.Entry)
		p.Entry = dto
		id = n.Entry.ID
	case n.Prompt != nil:
		dto := PromptToDTO(n.Prompt)
		p.Prompt = dto
		id = n.Prompt.ID
	case n.Event != nil:
		dto := EventToDTO(n.Event)
		p.Event = dto
		id = n.Event.ID
	}
	if id == "" {
		id = n.PromptID
	}

	return SSEEvent{
		ID:    id,
		Event: string(n.Kind),
		Data:  marshalJSON(p),
	}
}

// writeSSEEvent writes a single SSE event to the response writer and flushes.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event SSEEvent) {
	if event.ID != "" {
		fmt.Fprintf(w, "id: %s\n", event.ID)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, event.Data)
	flusher.Flush()
}

// marshalJSON is a helper that marshals to JSON, returning "{}" on error.
func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
