package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/docsearch/internal/action"
)

// pollInterval is how often a blocked producer re-checks for room.
const pollInterval = 10 * time.Millisecond

// SQLiteQueue is an ActionQueue persisted in a SQLite file, so queued
// actions survive a restart. Rows are consumed in insertion order.
type SQLiteQueue struct {
	db      *sql.DB
	path    string
	cap     int
	timeout time.Duration

	// mu serializes the capacity check with the insert, and dequeues.
	mu     sync.Mutex
	size   atomic.Int64
	closed atomic.Bool
	done   chan struct{}
}

var _ ActionQueue = (*SQLiteQueue)(nil)

// NewSQLiteQueue opens (or creates) the queue database at path.
func NewSQLiteQueue(path string, opts Options) (*SQLiteQueue, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// Single connection: all access goes through mu anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS actions (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	var n int64
	if err := db.QueryRow("SELECT COUNT(*) FROM actions").Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to count queued actions: %w", err)
	}

	q := &SQLiteQueue{
		db:      db,
		path:    path,
		cap:     opts.Capacity,
		timeout: opts.EnqueueTimeout,
		done:    make(chan struct{}),
	}
	q.size.Store(n)

	if n > 0 {
		slog.Info("queue_restored",
			slog.String("path", path),
			slog.Int64("pending", n))
	}

	return q, nil
}

// Enqueue implements ActionQueue.
func (q *SQLiteQueue) Enqueue(ctx context.Context, a action.Action) bool {
	if a == nil {
		return false
	}
	payload, err := action.Encode(a)
	if err != nil {
		slog.Warn("queue_encode_failed", slog.String("index", a.Target()), slog.String("error", err.Error()))
		return false
	}

	deadline := time.NewTimer(q.timeout)
	defer deadline.Stop()

	for {
		if q.closed.Load() {
			return false
		}

		accepted, err := q.tryInsert(ctx, payload)
		if err != nil {
			slog.Warn("queue_insert_failed", slog.String("index", a.Target()), slog.String("error", err.Error()))
			return false
		}
		if accepted {
			return true
		}

		select {
		case <-time.After(pollInterval):
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		case <-q.done:
			return false
		}
	}
}

func (q *SQLiteQueue) tryInsert(ctx context.Context, payload []byte) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size.Load() >= int64(q.cap) {
		return false, nil
	}
	if _, err := q.db.ExecContext(ctx, "INSERT INTO actions (payload) VALUES (?)", payload); err != nil {
		return false, err
	}
	q.size.Add(1)
	return true, nil
}

// Dequeue implements ActionQueue. Rows that no longer decode are dropped.
func (q *SQLiteQueue) Dequeue() (action.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.Load() || q.size.Load() == 0 {
		return nil, false
	}

	for {
		id, payload, ok, err := q.popOldest()
		if err != nil {
			slog.Warn("queue_dequeue_failed", slog.String("error", err.Error()))
			return nil, false
		}
		if !ok {
			q.size.Store(0)
			return nil, false
		}
		q.size.Add(-1)

		a, err := action.Decode(payload)
		if err != nil {
			slog.Warn("queue_dropped_corrupt_action",
				slog.Int64("id", id),
				slog.String("error", err.Error()))
			continue
		}
		return a, true
	}
}

func (q *SQLiteQueue) popOldest() (id int64, payload []byte, ok bool, err error) {
	tx, err := q.db.Begin()
	if err != nil {
		return 0, nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRow("SELECT id, payload FROM actions ORDER BY id LIMIT 1").Scan(&id, &payload)
	if err == sql.ErrNoRows {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	if _, err := tx.Exec("DELETE FROM actions WHERE id = ?", id); err != nil {
		return 0, nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, false, err
	}
	return id, payload, true, nil
}

// Size implements ActionQueue.
func (q *SQLiteQueue) Size() int {
	return int(q.size.Load())
}

// Close stops accepting actions and closes the database. Undequeued rows
// stay on disk for the next open.
func (q *SQLiteQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(q.done)

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.db.Close()
}
