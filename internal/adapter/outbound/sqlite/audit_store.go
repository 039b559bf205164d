// Package sqlite provides the SQLite-backed audit trail for scan decisions.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/sentinelscan/internal/domain/audit"
	"github.com/Sentinel-Gate/sentinelscan/internal/port/outbound"
)

// bufferSize is the async write queue depth. Entries beyond it are dropped
// rather than blocking the scan path.
const bufferSize = 1024

const schema = `
CREATE TABLE IF NOT EXISTS scan_audit (
	id          TEXT PRIMARY KEY,
	ts          INTEGER NOT NULL,
	mode        TEXT NOT NULL,
	direction   TEXT NOT NULL,
	tenant_id   TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	text_digest TEXT NOT NULL,
	decision    TEXT NOT NULL,
	score       INTEGER NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	dialect     TEXT NOT NULL DEFAULT '',
	cache_hit   INTEGER NOT NULL DEFAULT 0,
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	error_kind  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scan_audit_ts ON scan_audit (ts DESC);
`

// AuditStore writes scan decisions to a SQLite database asynchronously.
// Record never blocks the caller: entries go through a bounded queue and a
// single writer goroutine; when the queue is full the entry is dropped and
// counted. It implements outbound.AuditStore.
type AuditStore struct {
	db     *sql.DB
	logger *slog.Logger

	ch      chan audit.Entry
	dropped int64
	mu      sync.Mutex // guards dropped

	wg   sync.WaitGroup
	once sync.Once
}

// NewAuditStore opens (or creates) the database at path and starts the
// writer goroutine. Use ":memory:" for tests.
func NewAuditStore(path string, logger *slog.Logger) (*AuditStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// modernc.org/sqlite serializes through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	s := &AuditStore{
		db:     db,
		logger: logger,
		ch:     make(chan audit.Entry, bufferSize),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// Record enqueues one entry. When the queue is full the entry is dropped;
// audit backpressure never slows or fails a scan.
func (s *AuditStore) Record(_ context.Context, e audit.Entry) error {
	select {
	case s.ch <- e:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		s.logger.Warn("audit entry dropped", "total_dropped", n)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, mode, direction, tenant_id, session_id, text_digest,
		       decision, score, reason, dialect, cache_hit, latency_ms, error_kind
		FROM scan_audit ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var ts int64
		var cacheHit int
		if err := rows.Scan(&e.ID, &ts, &e.Mode, &e.Direction, &e.TenantID, &e.SessionID,
			&e.TextDigest, &e.Decision, &e.Score, &e.Reason, &e.Dialect,
			&cacheHit, &e.LatencyMs, &e.ErrorKind); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.CacheHit = cacheHit != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Dropped returns how many entries were discarded due to backpressure.
func (s *AuditStore) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close flushes queued entries, stops the writer, and closes the database.
// Safe to call multiple times.
func (s *AuditStore) Close() error {
	s.once.Do(func() {
		close(s.ch)
	})
	s.wg.Wait()
	return s.db.Close()
}

// writeLoop drains the queue until Close.
func (s *AuditStore) writeLoop() {
	defer s.wg.Done()
	for e := range s.ch {
		s.insert(e)
	}
}

// insert writes one entry. Failures are logged, never propagated.
func (s *AuditStore) insert(e audit.Entry) {
	cacheHit := 0
	if e.CacheHit {
		cacheHit = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO scan_audit
		(id, ts, mode, direction, tenant_id, session_id, text_digest,
		 decision, score, reason, dialect, cache_hit, latency_ms, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixMilli(), e.Mode, e.Direction, e.TenantID, e.SessionID,
		e.TextDigest, e.Decision, e.Score, e.Reason, e.Dialect, cacheHit, e.LatencyMs, e.ErrorKind)
	if err != nil {
		s.logger.Error("audit insert failed", "error", err)
	}
}

// Compile-time interface verification.
var _ outbound.AuditStore = (*AuditStore)(nil)
