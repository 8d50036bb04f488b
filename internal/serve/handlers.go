package serve

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/marcus/trail/internal/models"
	"github.com/marcus/trail/internal/store"
)

const defaultListLimit = 200

// ============================================================================
// GET /health
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, s.pipe.Health(), http.StatusOK)
}

// ============================================================================
// GET /v1/entries
// ============================================================================

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.EntryFilter{
		Workspace:  q.Get("workspace"),
		FilePath:   q.Get("file"),
		Source:     models.Source(q.Get("source")),
		Descending: q.Get("order") != "asc",
		Limit:      parseLimit(q.Get("limit")),
	}
	if filter.Source != "" && !models.IsValidSource(filter.Source) {
		WriteError(w, ErrValidation, "invalid source: "+string(filter.Source), http.StatusBadRequest)
		return
	}
	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		WriteError(w, ErrValidation, "invalid since: "+err.Error(), http.StatusBadRequest)
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		WriteError(w, ErrValidation, "invalid until: "+err.Error(), http.StatusBadRequest)
		return
	}
	if v := q.Get("has_prompt"); v != "" {
		b := v == "true"
		filter.HasPrompt = &b
	}

	entries, err := s.store.QueryEntries(filter)
	if err != nil {
		WriteError(w, ErrInternal, err.Error(), http.StatusInternalServerError)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i := range entries {
		dtos[i] = EntryToDTO(&entries[i])
	}
	WriteSuccess(w, map[string]any{"entries": dtos}, http.StatusOK)
}

// ============================================================================
// GET /v1/entries/{id}
// ============================================================================

// getEntryData is the single-entry response; unlike the list view it carries
// the full before/after contents.
type getEntryData struct {
	Entry      EntryDTO `json:"entry"`
	BeforeCode string   `json:"before_code"`
	AfterCode  string   `json:"after_code"`
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := s.store.GetEntry(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, ErrNotFound, "entry not found: "+id, http.StatusNotFound)
			return
		}
		WriteError(w, ErrInternal, err.Error(), http.StatusInternalServerError)
		return
	}
	WriteSuccess(w, getEntryData{
		Entry:      EntryToDTO(entry),
		BeforeCode: entry.BeforeCode,
		AfterCode:  entry.AfterCode,
	}, http.StatusOK)
}

// ============================================================================
// GET /v1/prompts
// ============================================================================

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.PromptFilter{
		Status:     models.PromptStatus(q.Get("status")),
		Unlinked:   q.Get("unlinked") == "true",
		Descending: q.Get("order") != "asc",
		Limit:      parseLimit(q.Get("limit")),
	}
	if filter.Status != "" && !models.IsValidPromptStatus(filter.Status) {
		WriteError(w, ErrValidation, "invalid status: "+string(filter.Status), http.StatusBadRequest)
		return
	}

	prompts, err := s.store.QueryPrompts(filter)
	if err != nil {
		WriteError(w, ErrInternal, err.Error(), http.StatusInternalServerError)
		return
	}

	dtos := make([]PromptDTO, len(prompts))
	for i := range prompts {
		dtos[i] = PromptToDTO(&prompts[i])
	}
	WriteSuccess(w, map[string]any{"prompts": dtos}, http.StatusOK)
}

// ============================================================================
// GET /v1/events
// ============================================================================

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.EventFilter{
		SessionID:  q.Get("session"),
		Type:       q.Get("type"),
		Descending: q.Get("order") != "asc",
		Limit:      parseLimit(q.Get("limit")),
	}

	events, err := s.store.QueryEvents(filter)
	if err != nil {
		WriteError(w, ErrInternal, err.Error(), http.StatusInternalServerError)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i := range events {
		dtos[i] = EventToDTO(&events[i])
	}
	WriteSuccess(w, map[string]any{"events": dtos}, http.StatusOK)
}

// ============================================================================
// POST /v1/events
// ============================================================================

// eventCreateBody is the expected JSON body for posting an external event,
// used by local SDKs to record terminal commands and system samples.
type eventCreateBody struct {
	WorkspacePath string `json:"workspace_path"`
	Type          string `json:"type"`
	Details       string `json:"details"`
	Timestamp     string `json:"timestamp"` // RFC3339, optional
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var body eventCreateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, ErrValidation, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Type == "" {
		WriteError(w, ErrValidation, "type is required", http.StatusBadRequest)
		return
	}
	if body.WorkspacePath == "" {
		WriteError(w, ErrValidation, "workspace_path is required", http.StatusBadRequest)
		return
	}

	ts := time.Now()
	if body.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, body.Timestamp)
		if err != nil {
			WriteError(w, ErrValidation, "invalid timestamp: "+err.Error(), http.StatusBadRequest)
			return
		}
		ts = parsed
	}

	ev := &models.Event{
		SessionID:     s.resolver.SessionFor(body.WorkspacePath),
		WorkspacePath: body.WorkspacePath,
		Timestamp:     ts,
		Type:          body.Type,
		Details:       body.Details,
	}
	id, err := s.store.AppendEvent(r.Context(), ev)
	if err != nil {
		WriteError(w, ErrInternal, err.Error(), http.StatusInternalServerError)
		return
	}
	WriteSuccess(w, map[string]any{"id": id}, http.StatusCreated)
}

// ============================================================================
// Query helpers
// ============================================================================

func parseLimit(v string) int {
	if v == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return defaultListLimit
	}
	return n
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
