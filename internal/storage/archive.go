// Package storage archives proxied request records in PostgreSQL.
//
// The in-memory history keeps only the most recent requests; the archive
// keeps all of them. Writes are queued and performed by a single background
// worker so the proxy path never waits on the database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mlflow-proxy-go/internal/stats"
)

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 100

// MaxRecentLimit caps the number of rows Recent returns.
const MaxRecentLimit = 1000

const insertTimeout = 5 * time.Second

// ErrClosed is returned when the archive no longer accepts records.
var ErrClosed = errors.New("archive closed")

// Archive is a queued writer for request records. A nil *Archive is valid
// and discards everything, which is how a disabled archive is represented.
type Archive struct {
	pool   *pgxpool.Pool
	insert func(context.Context, stats.RequestRecord) error
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan stats.RequestRecord
	done    chan struct{}
	dropped atomic.Int64
}

// Open connects to PostgreSQL, creates the schema if needed and returns an
// archive that is ready to Start.
func Open(ctx context.Context, dsn string, queueSize int, logger *slog.Logger) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	a := newArchive(queueSize, logger)
	a.pool = pool
	a.insert = a.insertRecord
	return a, nil
}

func newArchive(queueSize int, logger *slog.Logger) *Archive {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Archive{
		logger: logger.With("component", "archive"),
		queue:  make(chan stats.RequestRecord, queueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the background writer.
func (a *Archive) Start() {
	if a == nil {
		return
	}
	go a.run()
}

// Enqueue queues rec for writing. It never blocks: when the queue is full
// the record is dropped and counted.
func (a *Archive) Enqueue(rec stats.RequestRecord) bool {
	if a == nil {
		return false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}

	select {
	case a.queue <- rec:
		return true
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.logger.Warn("archive queue full, dropping records", "dropped_total", n)
		}
		return false
	}
}

// Dropped returns the number of records discarded because the queue was full.
func (a *Archive) Dropped() int64 {
	if a == nil {
		return 0
	}
	return a.dropped.Load()
}

func (a *Archive) run() {
	defer close(a.done)
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := a.insert(ctx, rec); err != nil {
			a.logger.Error("archiving request record", "err", err, "path", rec.Path)
		}
		cancel()
	}
}

// Close stops accepting records, waits for queued ones to be written and
// releases the connection pool. Start must have been called.
func (a *Archive) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	var err error
	select {
	case <-a.done:
	case <-ctx.Done():
		err = fmt.Errorf("drain archive queue: %w", ctx.Err())
	}

	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

// Recent returns up to limit archived records, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]stats.RequestRecord, error) {
	if a == nil || a.pool == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	const query = `
        SELECT requested_at, method, path, type, status_code, duration_seconds
        FROM request_history
        ORDER BY id DESC
        LIMIT $1`

	rows, err := a.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select request_history: %w", err)
	}
	defer rows.Close()

	records := make([]stats.RequestRecord, 0, limit)
	for rows.Next() {
		var rec stats.RequestRecord
		if err := rows.Scan(
			&rec.Timestamp,
			&rec.Method,
			&rec.Path,
			&rec.Type,
			&rec.StatusCode,
			&rec.Duration,
		); err != nil {
			return nil, fmt.Errorf("scan request_history: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request_history: %w", err)
	}

	return records, nil
}

func (a *Archive) insertRecord(ctx context.Context, rec stats.RequestRecord) error {
	const query = `
        INSERT INTO request_history (
            requested_at, method, path, type, status_code, duration_seconds
        ) VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := a.pool.Exec(ctx, query,
		rec.Timestamp,
		rec.Method,
		rec.Path,
		rec.Type,
		rec.StatusCode,
		rec.Duration,
	); err != nil {
		return fmt.Errorf("insert request_history: %w", err)
	}
	return nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS request_history (
            id BIGSERIAL PRIMARY KEY,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            requested_at TEXT NOT NULL,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            type TEXT NOT NULL,
            status_code INT NOT NULL,
            duration_seconds DOUBLE PRECISION NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_request_history_created_at ON request_history(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_request_history_type ON request_history(type);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
