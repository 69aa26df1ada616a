// Package audit implements the optional session audit log (spec.md's
// expanded §4.9): an in-memory ring buffer always available, backed
// optionally by a sqlite table for durability. This is a diagnostic
// trail only, never consulted for state restoration, so it does not
// touch the state-restoration non-goal.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	SessionID string
	Seq       int64
	Kind      string // "start", "event", "log", "done", ...
	Name      string
	Data      any
	At        time.Time
}

// Log is a bounded ring buffer of recent entries, optionally mirrored to
// a sqlite database for cross-process inspection.
type Log struct {
	mu      sync.Mutex
	buf     []Entry
	cap     int
	next    int64
	db      *sql.DB
}

// New builds a ring buffer holding at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Log{cap: capacity}
}

// Open additionally mirrors every Record call to a sqlite database at
// dsn, creating the events table if absent (grounded on the teacher's
// sql.Open + PingContext + wrapped-error pattern for its own store).
func Open(ctx context.Context, dsn string, capacity int) (*Log, error) {
	l := New(capacity)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			name       TEXT NOT NULL,
			data       TEXT,
			ts         INTEGER NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("audit: create events table: %w", err)
	}
	l.db = db
	return l, nil
}

// Record appends an entry to the ring buffer and, if a database is
// attached, inserts a durable row. Database errors are discarded rather
// than returned or raised into the interpreter: audit is diagnostic,
// never load-bearing for execution semantics.
func (l *Log) Record(ctx context.Context, sessionID, kind, name string, data any) {
	l.mu.Lock()
	seq := l.next
	l.next++
	entry := Entry{SessionID: sessionID, Seq: seq, Kind: kind, Name: name, Data: data, At: time.Now()}
	l.buf = append(l.buf, entry)
	if len(l.buf) > l.cap {
		l.buf = l.buf[len(l.buf)-l.cap:]
	}
	db := l.db
	l.mu.Unlock()

	if db == nil {
		return
	}
	_, _ = db.ExecContext(ctx,
		`INSERT INTO events (session_id, seq, kind, name, data, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, seq, kind, name, fmt.Sprintf("%v", data), entry.At.UnixMilli())
}

// Recent returns up to n most-recently recorded entries, oldest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.buf) {
		n = len(l.buf)
	}
	out := make([]Entry, n)
	copy(out, l.buf[len(l.buf)-n:])
	return out
}

// Close releases the underlying database handle, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
