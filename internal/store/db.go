// Package store owns all durable state: entries, prompts, events, and the
// miner cursor meta area, backed by a single SQLite file.
//
// Mutations are serialized through one writer goroutine. Producers submit
// requests over a bounded channel and block when it is full, which is the
// pipeline's backpressure point. The writer publishes hub notifications
// after each successful commit, in commit order, so every subscriber
// observes appends before any link that references them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/marcus/trail/internal/hub"
)

// DefaultWriterCapacity bounds the writer request channel.
const DefaultWriterCapacity = 1024

// Store wraps the database connection and the writer task.
type Store struct {
	conn *sql.DB
	path string
	hub  *hub.Hub

	writeCh chan *writeReq
	done    chan struct{}

	mu      sync.RWMutex
	closed  bool
	lastErr error
}

// Open opens (creating if needed) the database at path, applies the schema
// and any pending migrations, and starts the writer task. The hub may be
// nil; no notifications are published then.
func Open(path string, h *hub.Hub, writerCapacity int) (*Store, error) {
	if writerCapacity < 1 {
		writerCapacity = DefaultWriterCapacity
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent reads while the writer task commits.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{
		conn:    conn,
		path:    path,
		hub:     h,
		writeCh: make(chan *writeReq, writerCapacity),
		done:    make(chan struct{}),
	}

	if err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	go s.writeLoop()
	return s, nil
}

// Close drains pending writes and closes the database. Mutations submitted
// after Close return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.writeCh)
	s.mu.Unlock()

	<-s.done
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Conn exposes the underlying connection for read-side callers.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// LastError returns the most recent writer failure, for health output.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// QueueDepth reports how many write requests are waiting, for health output.
func (s *Store) QueueDepth() int {
	return len(s.writeCh)
}

// runMigrations brings an existing database up to the current schema
// version. The initial schema is version 1.
func (s *Store) runMigrations() error {
	var verStr string
	err := s.conn.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&verStr)
	version := 1
	if err == sql.ErrNoRows {
		_, err = s.conn.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`,
			fmt.Sprint(schemaVersion))
		return err
	} else if err != nil {
		return err
	}
	fmt.Sscanf(verStr, "%d", &version)

	for v := version; v < schemaVersion; v++ {
		if _, err := s.conn.Exec(migrations[v-1]); err != nil {
			return fmt.Errorf("migration %d -> %d: %w", v, v+1, err)
		}
		if _, err := s.conn.Exec(`UPDATE meta SET value = ? WHERE key = 'schema_version'`,
			fmt.Sprint(v+1)); err != nil {
			return err
		}
	}
	return nil
}

// writeReq is one unit of work for the writer task.
type writeReq struct {
	fn    func() (any, []hub.Notification, error)
	reply chan writeResult
}

type writeResult struct {
	val any
	err error
}

// writeLoop is the single writer task. It applies each request, records the
// last failure for health, publishes notifications post-commit, and acks.
func (s *Store) writeLoop() {
	defer close(s.done)
	for req := range s.writeCh {
		val, notes, err := req.fn()
		if err != nil {
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
		} else if s.hub != nil {
			for _, n := range notes {
				s.hub.Publish(n)
			}
		}
		req.reply <- writeResult{val: val, err: err}
	}
}

// submit queues fn for the writer task and waits for its result.
func (s *Store) submit(ctx context.Context, fn func() (any, []hub.Notification, error)) (any, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	req := &writeReq{fn: fn, reply: make(chan writeResult, 1)}
	select {
	case s.writeCh <- req:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.val, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
