package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a SQLite file, so recent ids survive a
// restart inside the retention window.
type SQLite struct {
	db        *sql.DB
	ttl       time.Duration
	now       func() time.Time
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string, ttl time.Duration) (*SQLite, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single connection keeps upserts serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{
		db:   db,
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	s.wg.Add(1)
	go s.sweepLoop()
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS seen_events (
		id      TEXT PRIMARY KEY,
		seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_seen_events_at ON seen_events(seen_at);`)
	return err
}

func (s *SQLite) Seen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var seenAt int64
	err := s.db.QueryRowContext(ctx, `SELECT seen_at FROM seen_events WHERE id = ?`, id).Scan(&seenAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen event: %w", err)
	}
	return seenAt > s.cutoff(), nil
}

func (s *SQLite) Mark(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	// Inserts a new row or refreshes an expired one; a live row is left
	// untouched and reports zero affected rows.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_events (id, seen_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET seen_at = excluded.seen_at
		WHERE seen_events.seen_at <= ?`,
		id, s.now().UnixNano(), s.cutoff())
	if err != nil {
		return false, fmt.Errorf("mark event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark event: %w", err)
	}
	return n == 0, nil
}

func (s *SQLite) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLite) cutoff() int64 {
	return s.now().Add(-s.ttl).UnixNano()
}

func (s *SQLite) sweep(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM seen_events WHERE seen_at <= ?`, s.cutoff())
	if err != nil {
		return fmt.Errorf("sweep seen events: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Debug("swept expired events", "count", n)
	}
	return nil
}

func (s *SQLite) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.sweep(context.Background()); err != nil {
				slog.Warn("dedup sweep failed", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}
