package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/marcus/trail/internal/faults"
	"github.com/marcus/trail/internal/hub"
)

// GetMeta reads a value from the meta area. Returns "" when the key is
// absent.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta durably writes a value into the meta area through the writer
// task. The miner persists its cursors here; nothing else reads them.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.submit(ctx, func() (any, []hub.Notification, error) {
		_, err := s.conn.Exec(`
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return nil, nil, faults.New(faults.Fatal, fmt.Errorf("set meta %s: %w", key, err))
		}
		return nil, nil, nil
	})
	return err
}
