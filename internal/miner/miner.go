// Package miner periodically reads the host editor's on-disk databases and
// ingests newly observed prompts into the store.
//
// Ingestion is idempotent: the key is (source_origin, source_id) where
// source_origin is the absolute database path. The per-database cursor is
// persisted in the store's meta area and nothing else reads it.
package miner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/marcus/trail/internal/models"
	"github.com/marcus/trail/internal/store"
	"github.com/marcus/trail/internal/workspace"
)

const (
	// DefaultPoll is the interval between mining cycles.
	DefaultPoll = 10 * time.Second

	// DefaultBatchLimit caps rows ingested per database per cycle.
	DefaultBatchLimit = 200

	// queryTimeout bounds one external-database query.
	queryTimeout = 30 * time.Second

	cursorKeyPrefix = "miner.cursor."
)

// cursor records the last source row successfully ingested from one
// database. PromptIndex tracks position in index-keyed prompt arrays that
// carry no timestamps of their own.
type cursor struct {
	SourceID    string `json:"source_id"`
	TimestampMS int64  `json:"timestamp_ms"`
	PromptIndex int    `json:"prompt_index"`
}

// Config tunes a Miner.
type Config struct {
	Databases  []string
	Poll       time.Duration
	BatchLimit int
	Retention  time.Duration
	Clock      workspace.Clock
}

// Miner polls configured external databases for new prompts.
type Miner struct {
	cfg   Config
	store *store.Store

	mu          sync.Mutex
	lastSuccess map[string]time.Time
	cursors     map[string]cursor
}

// New builds a miner over the configured database paths.
func New(cfg Config, st *store.Store) *Miner {
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Miner{
		cfg:         cfg,
		store:       st,
		lastSuccess: make(map[string]time.Time),
		cursors:     make(map[string]cursor),
	}
}

// Run polls until ctx is cancelled.
func (m *Miner) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Poll)
	defer ticker.Stop()

	m.MineOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.MineOnce(ctx)
		}
	}
}

// MineOnce runs one cycle over every configured database. Missing or locked
// databases are skipped without error; a store failure aborts the cycle for
// that database and the prior cursor is retried next poll.
func (m *Miner) MineOnce(ctx context.Context) {
	for _, path := range m.cfg.Databases {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := m.mineDatabase(ctx, path); err != nil {
			slog.Warn("mining cycle failed", "db", path, "err", err)
		}
	}
}

// Status reports the per-database cursor and last success time for health.
type Status struct {
	Cursor      string    `json:"cursor"`
	LastSuccess time.Time `json:"last_success"`
}

// Statuses returns health information for every mined database.
func (m *Miner) Statuses() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.cfg.Databases))
	for _, path := range m.cfg.Databases {
		cur := m.cursors[path]
		data, _ := json.Marshal(cur)
		out[path] = Status{Cursor: string(data), LastSuccess: m.lastSuccess[path]}
	}
	return out
}

func (m *Miner) mineDatabase(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil // treated as locked, retry next poll
	}
	defer db.Close()

	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := db.PingContext(qctx); err != nil {
		slog.Debug("external db unavailable", "db", path, "err", err)
		return nil
	}

	cur, err := m.loadCursor(path)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	rows, next, err := extractRows(qctx, db, cur, m.cfg.BatchLimit, m.cfg.Clock())
	if err != nil {
		return fmt.Errorf("extract rows: %w", err)
	}
	if len(rows) == 0 {
		m.markSuccess(path, cur)
		return nil
	}

	inserted := 0
	for _, row := range rows {
		p := &models.Prompt{
			Timestamp:     row.Timestamp,
			WorkspacePath: row.Workspace,
			SourceOrigin:  models.OriginDB,
			SourceID:      path + "::" + row.SourceID, // scoped so ids from different dbs never collide
			Text:          row.Text,
			Response:      row.Response,
			Metadata:      row.Metadata,
			Status:        models.PromptCaptured,
			ExpiresAt:     expiry(m.cfg.Clock(), m.cfg.Retention),
		}
		// Store publishes PromptAppended only on true inserts; idempotent
		// collisions are silent.
		_, wasNew, err := m.store.AppendPrompt(ctx, p)
		if err != nil {
			return fmt.Errorf("append prompt %s: %w", row.SourceID, err)
		}
		if wasNew {
			inserted++
		}
	}

	if err := m.saveCursor(ctx, path, next); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	m.markSuccess(path, next)

	if inserted > 0 {
		slog.Info("prompts mined", "db", path, "new", inserted, "seen", len(rows))
	}
	return nil
}

func (m *Miner) markSuccess(path string, cur cursor) {
	m.mu.Lock()
	m.lastSuccess[path] = m.cfg.Clock()
	m.cursors[path] = cur
	m.mu.Unlock()
}

func (m *Miner) loadCursor(path string) (cursor, error) {
	var cur cursor
	value, err := m.store.GetMeta(cursorKeyPrefix + path)
	if err != nil {
		return cur, err
	}
	if value == "" {
		return cur, nil
	}
	if err := json.Unmarshal([]byte(value), &cur); err != nil {
		// A corrupt cursor restarts mining from the beginning; ingestion
		// stays idempotent so no duplicates result.
		slog.Warn("corrupt miner cursor, resetting", "db", path, "err", err)
		return cursor{}, nil
	}
	return cur, nil
}

func (m *Miner) saveCursor(ctx context.Context, path string, cur cursor) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	return m.store.SetMeta(ctx, cursorKeyPrefix+path, string(data))
}

func expiry(now time.Time, retention time.Duration) *time.Time {
	if retention <= 0 {
		return nil
	}
	t := now.Add(retention)
	return &t
}
