// Package models defines the core entities recorded by trail: entries
// (significant file changes), prompts (captured AI-assistant exchanges),
// and events (auxiliary activity records).
package models

import "time"

// Source identifies where an entry came from.
type Source string

const (
	SourceFilesystem Source = "filesystem"
	SourceAssistant  Source = "assistant"
	SourceExternal   Source = "external"
)

// IsValidSource reports whether s is a known entry source.
func IsValidSource(s Source) bool {
	switch s {
	case SourceFilesystem, SourceAssistant, SourceExternal:
		return true
	}
	return false
}

// PromptStatus is the lifecycle state of a captured prompt.
type PromptStatus string

const (
	PromptCaptured  PromptStatus = "captured"
	PromptPending   PromptStatus = "pending"
	PromptLinked    PromptStatus = "linked"
	PromptProcessed PromptStatus = "processed"
	PromptFailed    PromptStatus = "failed"
)

// IsValidPromptStatus reports whether s is a known prompt status.
func IsValidPromptStatus(s PromptStatus) bool {
	switch s {
	case PromptCaptured, PromptPending, PromptLinked, PromptProcessed, PromptFailed:
		return true
	}
	return false
}

// PromptOrigin identifies how a prompt entered the store.
type PromptOrigin string

const (
	OriginDB       PromptOrigin = "db"
	OriginExternal PromptOrigin = "external"
)

// DiffSummary reports the deltas between two versions of a file.
type DiffSummary struct {
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	CharsAdded   int    `json:"chars_added"`
	CharsRemoved int    `json:"chars_removed"`
	SizeBytes    int    `json:"size_bytes"`
	Summary      string `json:"summary,omitempty"`
	Significant  bool   `json:"significant"`
	Unified      string `json:"unified,omitempty"`
}

// Entry is one recorded significant change to a single file.
// Entries are append-only; only PromptID, Notes, and Tags may be mutated.
type Entry struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"session_id"`
	WorkspacePath string      `json:"workspace_path"`
	Timestamp     time.Time   `json:"timestamp"`
	Source        Source      `json:"source"`
	FilePath      string      `json:"file_path"`
	BeforeCode    string      `json:"before_code,omitempty"`
	AfterCode     string      `json:"after_code,omitempty"`
	Diff          DiffSummary `json:"diff"`
	PromptID      string      `json:"prompt_id,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	Tags          []string    `json:"tags,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
}

// Prompt is one captured user prompt and optional assistant response,
// mined from an external application's database or posted directly.
type Prompt struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	WorkspacePath string            `json:"workspace_path,omitempty"`
	SourceOrigin  PromptOrigin      `json:"source_origin"`
	SourceID      string            `json:"source_id"`
	Text          string            `json:"text"`
	Response      string            `json:"response,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        PromptStatus      `json:"status"`
	LinkedEntryID string            `json:"linked_entry_id,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
}

// Event is a generic activity record: a terminal command, a system metric
// sample, a file deletion. Events are append-only and never referenced.
type Event struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	WorkspacePath string     `json:"workspace_path"`
	Timestamp     time.Time  `json:"timestamp"`
	Type          string     `json:"type"`
	Details       string     `json:"details,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Well-known event types produced by the pipeline itself.
const (
	EventFileDeleted = "file_deleted"
)
