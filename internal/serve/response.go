// Package serve provides the minimal local HTTP surface for read-side
// consumers: store queries, a live SSE stream bridging the broadcast hub,
// a health snapshot, and an ingest endpoint for external events.
package serve

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcus/trail/internal/models"
)

// Envelope is the standard response wrapper for all API responses.
// Success: {"ok": true, "data": {...}}
// Error:   {"ok": false, "error": {"code": "...", "message": "..."}}
type Envelope struct {
	OK    bool          `json:"ok"`
	Data  any           `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload holds structured error information.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Standard error codes mapped to HTTP status codes.
const (
	ErrValidation = "validation_error" // 400
	ErrNotFound   = "not_found"        // 404
	ErrInternal   = "internal"         // 500
)

// WriteSuccess writes a JSON success envelope with the given data and status.
func WriteSuccess(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{OK: true, Data: data}); err != nil {
		slog.Error("write success response", "err", err)
	}
}

// WriteError writes a JSON error envelope.
func WriteError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{
		OK: false,
		Error: &ErrorPayload{
			Code:    code,
			Message: message,
		},
	}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

// ============================================================================
// DTOs
// ============================================================================

// EntryDTO is the API representation of an entry. Before/after bodies are
// omitted from list responses; fetch a single entry for full contents.
type EntryDTO struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id"`
	WorkspacePath string             `json:"workspace_path"`
	Timestamp     string             `json:"timestamp"`
	Source        string             `json:"source"`
	FilePath      string             `json:"file_path"`
	Diff          models.DiffSummary `json:"diff"`
	PromptID      *string            `json:"prompt_id"`
	Notes         string             `json:"notes"`
	Tags          []string           `json:"tags"`
}

// EntryToDTO converts a models.Entry to its API representation.
func EntryToDTO(e *models.Entry) EntryDTO {
	dto := EntryDTO{
		ID:            e.ID,
		SessionID:     e.SessionID,
		WorkspacePath: e.WorkspacePath,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:        string(e.Source),
		FilePath:      e.FilePath,
		Diff:          e.Diff,
		PromptID:      nullableString(e.PromptID),
		Notes:         e.Notes,
		Tags:          e.Tags,
	}
	if dto.Tags == nil {
		dto.Tags = []string{}
	}
	return dto
}

// PromptDTO is the API representation of a prompt.
type PromptDTO struct {
	ID            string            `json:"id"`
	Timestamp     string            `json:"timestamp"`
	WorkspacePath *string           `json:"workspace_path"`
	SourceOrigin  string            `json:"source_origin"`
	Text          string            `json:"text"`
	Response      string            `json:"response"`
	Metadata      map[string]string `json:"metadata"`
	Status        string            `json:"status"`
	LinkedEntryID *string           `json:"linked_entry_id"`
}

// PromptToDTO converts a models.Prompt to its API representation.
func PromptToDTO(p *models.Prompt) PromptDTO {
	dto := PromptDTO{
		ID:            p.ID,
		Timestamp:     p.Timestamp.UTC().Format(time.RFC3339Nano),
		WorkspacePath: nullableString(p.WorkspacePath),
		SourceOrigin:  string(p.SourceOrigin),
		Text:          p.Text,
		Response:      p.Response,
		Metadata:      p.Metadata,
		Status:        string(p.Status),
		LinkedEntryID: nullableString(p.LinkedEntryID),
	}
	if dto.Metadata == nil {
		dto.Metadata = map[string]string{}
	}
	return dto
}

// EventDTO is the API representation of an event.
type EventDTO struct {
	ID            string `json:"id"`
	SessionID     string `json:"session_id"`
	WorkspacePath string `json:"workspace_path"`
	Timestamp     string `json:"timestamp"`
	Type          string `json:"type"`
	Details       string `json:"details"`
}

// EventToDTO converts a models.Event to its API representation.
func EventToDTO(ev *models.Event) EventDTO {
	return EventDTO{
		ID:            ev.ID,
		SessionID:     ev.SessionID,
		WorkspacePath: ev.WorkspacePath,
		Timestamp:     ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Type:          ev.Type,
		Details:       ev.Details,
	}
}

// nullableString converts a string to *string, returning nil for empty
// strings so they serialize as JSON null.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
