// Package postgres provides the PostgreSQL-backed implementation of the
// [store.Store] contract: the allowlist, feature toggles, and the append-only
// alert and content logs.
//
// All tables share a single [pgxpool.Pool] connection pool. [Migrate] creates
// missing tables idempotently via CREATE TABLE IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	ok, _ := st.Contains(ctx, "+15551234567", signal.KindCall)
//	_ = st.AppendAlert(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAllowlist = `
CREATE TABLE IF NOT EXISTS allowlist (
    value       TEXT         NOT NULL,
    channel     TEXT         NOT NULL,
    added_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (value, channel)
);
`

const ddlToggles = `
CREATE TABLE IF NOT EXISTS toggles (
    name        TEXT         PRIMARY KEY,
    enabled     BOOLEAN      NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlAlertLog = `
CREATE TABLE IF NOT EXISTS alert_log (
    id          BIGSERIAL    PRIMARY KEY,
    time        TIMESTAMPTZ  NOT NULL,
    category    TEXT         NOT NULL,
    source      TEXT         NOT NULL DEFAULT '',
    status      TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_alert_log_time
    ON alert_log (time);
`

const ddlContentLog = `
CREATE TABLE IF NOT EXISTS content_log (
    id          BIGSERIAL    PRIMARY KEY,
    type        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL,
    content     TEXT         NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_content_log_timestamp
    ON content_log (timestamp);
`

// Migrate creates all tables and indexes the store needs. Safe to run on
// every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlAllowlist, ddlToggles, ddlAlertLog, ddlContentLog} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres store: migrate: %w", err)
		}
	}
	return nil
}
