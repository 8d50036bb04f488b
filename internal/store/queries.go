package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/trail/internal/models"
)

// EntryFilter narrows QueryEntries. Zero values mean "no constraint".
type EntryFilter struct {
	Workspace  string
	FilePath   string
	Source     models.Source
	Since      time.Time
	Until      time.Time
	HasPrompt  *bool
	Descending bool
	Limit      int
}

// QueryEntries returns entries matching the filter, ordered by timestamp.
func (s *Store) QueryEntries(f EntryFilter) ([]models.Entry, error) {
	var where []string
	var args []any

	if f.Workspace != "" {
		where = append(where, "workspace_path = ?")
		args = append(args, f.Workspace)
	}
	if f.FilePath != "" {
		where = append(where, "file_path = ?")
		args = append(args, f.FilePath)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(f.Source))
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.Until.UnixMilli())
	}
	if f.HasPrompt != nil {
		if *f.HasPrompt {
			where = append(where, "prompt_id IS NOT NULL AND prompt_id != ''")
		} else {
			where = append(where, "(prompt_id IS NULL OR prompt_id = '')")
		}
	}

	query := `SELECT ` + entryColumns + ` FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Descending {
		query += " ORDER BY timestamp DESC, id DESC"
	} else {
		query += " ORDER BY timestamp ASC, id ASC"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntry returns one entry by id, or ErrNotFound.
func (s *Store) GetEntry(id string) (*models.Entry, error) {
	rows, err := s.conn.Query(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, id)
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// QueryPromptsInWindow returns prompts with lo <= timestamp <= hi whose
// status is in statuses (all statuses when empty), newest first. Used by
// the correlator.
func (s *Store) QueryPromptsInWindow(lo, hi time.Time, statuses []models.PromptStatus, limit int) ([]models.Prompt, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{lo.UnixMilli(), hi.UnixMilli()}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prompts in window: %w", err)
	}
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// PromptFilter narrows QueryPrompts.
type PromptFilter struct {
	Status     models.PromptStatus
	Unlinked   bool
	Since      time.Time
	Until      time.Time
	Descending bool
	Limit      int
}

// QueryPrompts returns prompts matching the filter, ordered by timestamp.
func (s *Store) QueryPrompts(f PromptFilter) ([]models.Prompt, error) {
	var where []string
	var args []any

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Unlinked {
		where = append(where, "(linked_entry_id IS NULL OR linked_entry_id = '')")
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.Until.UnixMilli())
	}

	query := `SELECT ` + promptColumns + ` FROM prompts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Descending {
		query += " ORDER BY timestamp DESC, id DESC"
	} else {
		query += " ORDER BY timestamp ASC, id ASC"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// GetPrompt returns one prompt by id, or ErrNotFound.
func (s *Store) GetPrompt(id string) (*models.Prompt, error) {
	rows, err := s.conn.Query(`SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, fmt.Errorf("%w: prompt %s", ErrNotFound, id)
	}
	p, err := scanPrompt(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EventFilter narrows QueryEvents.
type EventFilter struct {
	SessionID  string
	Type       string
	Since      time.Time
	Until      time.Time
	Descending bool
	Limit      int
}

// QueryEvents returns events matching the filter, ordered by timestamp.
func (s *Store) QueryEvents(f EventFilter) ([]models.Event, error) {
	var where []string
	var args []any

	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.Until.UnixMilli())
	}

	query := `SELECT id, session_id, workspace_path, timestamp, type, details, expires_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Descending {
		query += " ORDER BY timestamp DESC, id DESC"
	} else {
		query += " ORDER BY timestamp ASC, id ASC"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var ts int64
		var expires sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.WorkspacePath, &ts, &ev.Type,
			&ev.Details, &expires); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts)
		if expires.Valid {
			t := time.UnixMilli(expires.Int64)
			ev.ExpiresAt = &t
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

const entryColumns = `id, session_id, workspace_path, timestamp, source, file_path,
	before_code, after_code, lines_added, lines_removed, chars_added, chars_removed,
	size_bytes, diff_summary, diff_significant, prompt_id, notes, tags, expires_at`

const promptColumns = `id, timestamp, workspace_path, source_origin, source_id,
	text, response, metadata, status, linked_entry_id, expires_at`

func scanEntry(rows *sql.Rows) (models.Entry, error) {
	var e models.Entry
	var ts int64
	var promptID, tags sql.NullString
	var expires sql.NullInt64
	var source string

	err := rows.Scan(&e.ID, &e.SessionID, &e.WorkspacePath, &ts, &source, &e.FilePath,
		&e.BeforeCode, &e.AfterCode,
		&e.Diff.LinesAdded, &e.Diff.LinesRemoved, &e.Diff.CharsAdded, &e.Diff.CharsRemoved,
		&e.Diff.SizeBytes, &e.Diff.Summary, &e.Diff.Significant, &promptID, &e.Notes, &tags, &expires)
	if err != nil {
		return e, fmt.Errorf("scan entry: %w", err)
	}
	e.Timestamp = time.UnixMilli(ts)
	e.Source = models.Source(source)
	if promptID.Valid {
		e.PromptID = promptID.String
	}
	if tags.Valid && tags.String != "" {
		json.Unmarshal([]byte(tags.String), &e.Tags)
	}
	if expires.Valid {
		t := time.UnixMilli(expires.Int64)
		e.ExpiresAt = &t
	}
	return e, nil
}

func scanPrompt(rows *sql.Rows) (models.Prompt, error) {
	var p models.Prompt
	var ts int64
	var workspace, linked, meta sql.NullString
	var expires sql.NullInt64
	var origin, status string

	err := rows.Scan(&p.ID, &ts, &workspace, &origin, &p.SourceID,
		&p.Text, &p.Response, &meta, &status, &linked, &expires)
	if err != nil {
		return p, fmt.Errorf("scan prompt: %w", err)
	}
	p.Timestamp = time.UnixMilli(ts)
	p.SourceOrigin = models.PromptOrigin(origin)
	p.Status = models.PromptStatus(status)
	if workspace.Valid {
		p.WorkspacePath = workspace.String
	}
	if linked.Valid {
		p.LinkedEntryID = linked.String
	}
	if meta.Valid && meta.String != "" {
		json.Unmarshal([]byte(meta.String), &p.Metadata)
	}
	if expires.Valid {
		t := time.UnixMilli(expires.Int64)
		p.ExpiresAt = &t
	}
	return p, nil
}
