package postgres

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seclyn/callwarden/internal/signal"
	"github.com/seclyn/callwarden/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements [store.Store] on top of PostgreSQL. All operations are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes the connection pool for dsn, verifies
// connectivity, and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Contains implements [store.Allowlist].
func (s *Store) Contains(ctx context.Context, value string, kind signal.Kind) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM allowlist WHERE value = $1 AND channel = $2)`

	var exists bool
	if err := s.pool.QueryRow(ctx, q, value, string(kind)).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres store: allowlist contains: %w", err)
	}
	return exists, nil
}

// AddAllowlist implements [store.Allowlist]. Inserting an existing entry is
// a no-op.
func (s *Store) AddAllowlist(ctx context.Context, value string, kind signal.Kind) error {
	const q = `
		INSERT INTO allowlist (value, channel)
		VALUES ($1, $2)
		ON CONFLICT (value, channel) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, value, string(kind)); err != nil {
		return fmt.Errorf("postgres store: allowlist add: %w", err)
	}
	return nil
}

// Toggle implements [store.Toggles]. Unknown toggle names report false.
func (s *Store) Toggle(ctx context.Context, name string) (bool, error) {
	const q = `SELECT COALESCE((SELECT enabled FROM toggles WHERE name = $1), false)`

	var enabled bool
	if err := s.pool.QueryRow(ctx, q, name).Scan(&enabled); err != nil {
		return false, fmt.Errorf("postgres store: get toggle %q: %w", name, err)
	}
	return enabled, nil
}

// SetToggle implements [store.Toggles].
func (s *Store) SetToggle(ctx context.Context, name string, enabled bool) error {
	const q = `
		INSERT INTO toggles (name, enabled, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET enabled = $2, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, name, enabled); err != nil {
		return fmt.Errorf("postgres store: set toggle %q: %w", name, err)
	}
	return nil
}

// AppendAlert implements [store.Records].
func (s *Store) AppendAlert(ctx context.Context, rec store.AlertRecord) error {
	const q = `
		INSERT INTO alert_log (time, category, source, status)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, rec.Time, rec.Category, rec.Source, rec.Status); err != nil {
		return fmt.Errorf("postgres store: append alert: %w", err)
	}
	return nil
}

// AppendContent implements [store.Records].
func (s *Store) AppendContent(ctx context.Context, rec store.ContentRecord) error {
	const q = `
		INSERT INTO content_log (type, timestamp, content)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, rec.Type, rec.Timestamp, rec.Content); err != nil {
		return fmt.Errorf("postgres store: append content: %w", err)
	}
	return nil
}

// RecentAlerts implements [store.Records]. Records are returned newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]store.AlertRecord, error) {
	const q = `
		SELECT time, category, source, status
		FROM   alert_log
		ORDER  BY time DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent alerts: %w", err)
	}
	defer rows.Close()

	var recs []store.AlertRecord
	for rows.Next() {
		var rec store.AlertRecord
		if err := rows.Scan(&rec.Time, &rec.Category, &rec.Source, &rec.Status); err != nil {
			return nil, fmt.Errorf("postgres store: scan alert: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate alerts: %w", err)
	}
	return recs, nil
}

// ExportAlertsCSV implements [store.Store]. The full alert log is streamed in
// chronological order.
func (s *Store) ExportAlertsCSV(ctx context.Context, w io.Writer) error {
	const q = `
		SELECT time, category, source, status
		FROM   alert_log
		ORDER  BY time`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("postgres store: export alerts: %w", err)
	}
	defer rows.Close()

	var recs []store.AlertRecord
	for rows.Next() {
		var rec store.AlertRecord
		if err := rows.Scan(&rec.Time, &rec.Category, &rec.Source, &rec.Status); err != nil {
			return fmt.Errorf("postgres store: scan alert: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres store: iterate alerts: %w", err)
	}
	return store.WriteAlertsCSV(w, recs)
}
