package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Both DuckDB and PostgreSQL accept $n placeholders and IF NOT EXISTS DDL,
// so one set of statements serves both drivers.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS posture_events (
		id          VARCHAR(36) PRIMARY KEY,
		ts_ms       BIGINT      NOT NULL,
		event_type  VARCHAR(16) NOT NULL,
		duration_ms BIGINT      NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posture_events_ts ON posture_events (ts_ms)`,
}

const selectColumns = `SELECT id, ts_ms, event_type, duration_ms FROM posture_events`

// SQLStore implements Store on database/sql. Timestamps are stored as unix
// milliseconds.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func newSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// Driver returns the database/sql driver name backing the store.
func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) Insert(ctx context.Context, e Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posture_events (id, ts_ms, event_type, duration_ms) VALUES ($1, $2, $3, $4)`,
		e.ID.String(), e.Timestamp.UnixMilli(), string(e.Type), e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLStore) Since(ctx context.Context, from time.Time) ([]Event, error) {
	return s.query(ctx, selectColumns+` WHERE ts_ms >= $1 ORDER BY ts_ms DESC`, from.UnixMilli())
}

func (s *SQLStore) InRange(ctx context.Context, from, to time.Time) ([]Event, error) {
	return s.query(ctx, selectColumns+` WHERE ts_ms BETWEEN $1 AND $2 ORDER BY ts_ms DESC`,
		from.UnixMilli(), to.UnixMilli())
}

func (s *SQLStore) Recent(ctx context.Context, n int) ([]Event, error) {
	return s.query(ctx, selectColumns+` ORDER BY ts_ms DESC LIMIT $1`, recentLimit(n))
}

func (s *SQLStore) DeleteOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posture_events WHERE ts_ms < $1`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted events: %w", err)
	}
	return n, nil
}

func (s *SQLStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM posture_events`); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			id         string
			tsMs       int64
			eventType  string
			durationMs int64
		)
		if err := rows.Scan(&id, &tsMs, &eventType, &durationMs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("event %q has invalid id: %w", id, err)
		}
		events = append(events, Event{
			ID:        parsed,
			Timestamp: time.UnixMilli(tsMs),
			Type:      EventType(eventType),
			Duration:  time.Duration(durationMs) * time.Millisecond,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
