package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/trail/internal/faults"
	"github.com/marcus/trail/internal/hub"
	"github.com/marcus/trail/internal/models"
)

// AppendEntry inserts a new entry and publishes EntryAppended. Assigns an id
// when the entry carries none; returns ErrDuplicateID if the id exists.
func (s *Store) AppendEntry(ctx context.Context, e *models.Entry) (string, error) {
	val, err := s.submit(ctx, func() (any, []hub.Notification, error) {
		if e.ID == "" {
			id, err := generateEntryID()
			if err != nil {
				return nil, nil, faults.New(faults.Fatal, err)
			}
			e.ID = id
		}

		var exists int
		if err := s.conn.QueryRow(`SELECT COUNT(*) FROM entries WHERE id = ?`, e.ID).Scan(&exists); err != nil {
			return nil, nil, faults.New(faults.Fatal, err)
		}
		if exists > 0 {
			return nil, nil, faults.New(faults.Duplicate, fmt.Errorf("%w: entry %s", ErrDuplicateID, e.ID))
		}

		tags, err := json.Marshal(e.Tags)
		if err != nil {
			return nil, nil, faults.New(faults.Parse, err)
		}
		if e.Tags == nil {
			tags = []byte("[]")
		}

		_, err = s.conn.Exec(`
			INSERT INTO entries (id, session_id, workspace_path, timestamp, source, file_path,
				before_code, after_code, lines_added, lines_removed, chars_added, chars_removed,
				size_bytes, diff_summary, diff_significant, prompt_id, notes, tags, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.SessionID, e.WorkspacePath, e.Timestamp.UnixMilli(), string(e.Source),
			e.FilePath, e.BeforeCode, e.AfterCode,
			e.Diff.LinesAdded, e.Diff.LinesRemoved, e.Diff.CharsAdded, e.Diff.CharsRemoved,
			e.Diff.SizeBytes, e.Diff.Summary, e.Diff.Significant, nullString(e.PromptID),
			e.Notes, string(tags), nullTimeMS(e.ExpiresAt))
		if err != nil {
			return nil, nil, faults.New(faults.Fatal, fmt.Errorf("insert entry: %w", err))
		}

		copied := *e
		return e.ID, []hub.Notification{{Kind: hub.KindEntryAppended, Entry: &copied}}, nil
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

// AppendPrompt inserts a prompt, idempotent by (source_origin, source_id):
// a collision returns the original id with inserted=false and publishes
// nothing.
func (s *Store) AppendPrompt(ctx context.Context, p *models.Prompt) (string, bool, error) {
	type res struct {
		id       string
		inserted bool
	}
	val, err := s.submit(ctx, func() (any, []hub.Notification, error) {
		var existing string
		err := s.conn.QueryRow(`SELECT id FROM prompts WHERE source_origin = ? AND source_id = ?`,
			string(p.SourceOrigin), p.SourceID).Scan(&existing)
		if err == nil {
			return res{id: existing, inserted: false}, nil, nil
		}
		if err != sql.ErrNoRows {
			return nil, nil, faults.New(faults.Fatal, err)
		}

		if p.ID == "" {
			id, err := generatePromptID()
			if err != nil {
				return nil, nil, faults.New(faults.Fatal, err)
			}
			p.ID = id
		}
		if p.Status == "" {
			p.Status = models.PromptCaptured
		}

		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, nil, faults.New(faults.Parse, err)
		}
		if p.Metadata == nil {
			meta = []byte("{}")
		}

		_, err = s.conn.Exec(`
			INSERT INTO prompts (id, timestamp, workspace_path, source_origin, source_id,
				text, response, metadata, status, linked_entry_id, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Timestamp.UnixMilli(), nullString(p.WorkspacePath),
			string(p.SourceOrigin), p.SourceID, p.Text, p.Response, string(meta),
			string(p.Status), nullString(p.LinkedEntryID), nullTimeMS(p.ExpiresAt))
		if err != nil {
			return nil, nil, faults.New(faults.Fatal, fmt.Errorf("insert prompt: %w", err))
		}

		copied := *p
		return res{id: p.ID, inserted: true},
			[]hub.Notification{{Kind: hub.KindPromptAppended, Prompt: &copied}}, nil
	})
	if err != nil {
		return "", false, err
	}
	r := val.(res)
	return r.id, r.inserted, nil
}

// AppendEvent inserts an event and publishes EventAppended.
func (s *Store) AppendEvent(ctx context.Context, ev *models.Event) (string, error) {
	val, err := s.submit(ctx, func() (any, []hub.Notification, error) {
		if ev.ID == "" {
			id, err := generateEventID()
			if err != nil {
				return nil, nil, faults.New(faults.Fatal, err)
			}
			ev.ID = id
		}
		details := ev.Details
		if details == "" {
			details = "{}"
		}
		_, err := s.conn.Exec(`
			INSERT INTO events (id, session_id, workspace_path, timestamp, type, details, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.SessionID, ev.WorkspacePath, ev.Timestamp.UnixMilli(),
			ev.Type, details, nullTimeMS(ev.ExpiresAt))
		if err != nil {
			return nil, nil, faults.New(faults.Fatal, fmt.Errorf("insert event: %w", err))
		}
		copied := *ev
		return ev.ID, []hub.Notification{{Kind: hub.KindEventAppended, Event: &copied}}, nil
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

// Link atomically sets entries.prompt_id and prompts.linked_entry_id (plus
// status=linked) in one transaction. Readers never observe a half-linked
// pair. Returns ErrNotFound when either id is missing and ErrAlreadyLinked
// when either endpoint already points elsewhere. Re-linking an existing
// symmetric pair is a no-op success.
func (s *Store) Link(ctx context.Context, entryID, promptID string) error {
	_, err := s.submit(ctx, func() (any, []hub.Notification, error) {
		tx, err := s.conn.Begin()
		if err != nil {
			return nil, nil, faults.New(faults.Fatal, err)
		}
		defer tx.Rollback()

		var curPrompt sql.NullString
		err = tx.QueryRow(`SELECT prompt_id FROM entries WHERE id = ?`, entryID).Scan(&curPrompt)
		if err == sql.ErrNoRows {
			return nil, nil, faults.New(faults.Conflict, fmt.Errorf("%w: entry %s", ErrNotFound, entryID))
		} else if err != nil {
			return nil, nil, faults.New(faults.Fatal, err)
		}

		var curEntry sql.NullString
		err = tx.QueryRow(`SELECT linked_entry_id FROM prompts WHERE id = ?`, promptID).Scan(&curEntry)
		if err == sql.ErrNoRows {
			return nil, nil, faults.New(faults.Conflict, fmt.Errorf("%w: prompt %s", ErrNotFound, promptID))
		} else if err != nil {
			return nil, nil, faults.New(faults.Fatal, err)
		}

		if curPrompt.Valid && curPrompt.String == promptID &&
			curEntry.Valid && curEntry.String == entryID {
			return nil, nil, nil // already linked to each other
		}
		if curPrompt.Valid && curPrompt.String != "" {
			return nil, nil, faults.New(faults.Conflict,
				fmt.Errorf("%w: entry %s -> prompt %s", ErrAlreadyLinked, entryID, curPrompt.String))
		}
		if curEntry.Valid && curEntry.String != "" {
			return nil, nil, faults.New(faults.Conflict,
				fmt.Errorf("%w: prompt %s -> entry %s", ErrAlreadyLinked, promptID, curEntry.String))
		}

		if _, err := tx.Exec(`UPDATE entries SET prompt_id = ? WHERE id = ?`, promptID, entryID); err != nil {
			return nil, nil, faults.New(faults.Fatal, err)
		}
		if _, err := tx.Exec(`UPDATE prompts SET linked_entry_id = ?, status = ? WHERE id = ?`,
			entryID, string(models.PromptLinked), promptID); err != nil {
			return nil, nil, faults.New(faults.Fatal, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, nil, faults.New(faults.Fatal, err)
		}

		return nil, []hub.Notification{{
			Kind:     hub.KindPromptLinked,
			EntryID:  entryID,
			PromptID: promptID,
		}}, nil
	})
	return err
}

// UpdateEntryAnnotations mutates the only mutable entry fields: notes and
// tags.
func (s *Store) UpdateEntryAnnotations(ctx context.Context, entryID, notes string, tags []string) error {
	_, err := s.submit(ctx, func() (any, []hub.Notification, error) {
		tagJSON, err := json.Marshal(tags)
		if err != nil {
			return nil, nil, faults.New(faults.Parse, err)
		}
		if tags == nil {
			tagJSON = []byte("[]")
		}
		res, err := s.conn.Exec(`UPDATE entries SET notes = ?, tags = ? WHERE id = ?`,
			notes, string(tagJSON), entryID)
		if err != nil {
			return nil, nil, faults.New(faults.Fatal, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, nil, faults.New(faults.Conflict, fmt.Errorf("%w: entry %s", ErrNotFound, entryID))
		}
		return nil, nil, nil
	})
	return err
}

// SetPromptStatus moves a prompt to a non-linked lifecycle state. Linking
// goes through Link.
func (s *Store) SetPromptStatus(ctx context.Context, promptID string, status models.PromptStatus) error {
	_, err := s.submit(ctx, func() (any, []hub.Notification, error) {
		res, err := s.conn.Exec(`UPDATE prompts SET status = ? WHERE id = ?`, string(status), promptID)
		if err != nil {
			return nil, nil, faults.New(faults.Fatal, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, nil, faults.New(faults.Conflict, fmt.Errorf("%w: prompt %s", ErrNotFound, promptID))
		}
		return nil, nil, nil
	})
	return err
}

// CleanupExpired removes rows whose expires_at has passed. Rows without a
// retention are kept indefinitely. Returns the number of rows removed.
func (s *Store) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	val, err := s.submit(ctx, func() (any, []hub.Notification, error) {
		cutoff := now.UnixMilli()
		var total int64
		for _, table := range []string{"entries", "prompts", "events"} {
			res, err := s.conn.Exec(
				fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?`, table),
				cutoff)
			if err != nil {
				return nil, nil, faults.New(faults.Fatal, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return total, nil, nil
	})
	if err != nil {
		return 0, err
	}
	return val.(int64), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimeMS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
