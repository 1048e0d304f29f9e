// Package store defines the narrow CRUD contract the protection pipeline
// uses for allowlists, feature toggles and append-only records, plus the
// record types written through it. The production implementation is
// [github.com/seclyn/callwarden/internal/store/postgres]; tests use the mock
// sub-package.
package store

import (
	"context"
	"io"
	"time"

	"github.com/seclyn/callwarden/internal/signal"
)

// Toggle names understood by the orchestrator and the capability cascade.
const (
	ToggleCallProtection    = "call_protection"
	ToggleMeetingProtection = "meeting_protection"
	ToggleSnapshotCollector = "snapshot_collector"
)

// AlertRecord is one append-only alert log entry. Records are written once
// and never mutated.
type AlertRecord struct {
	Time     time.Time
	Category string
	Source   string
	Status   string
}

// ContentRecord is one append-only content log entry (classification
// explanations, session summaries).
type ContentRecord struct {
	Type      string
	Timestamp time.Time
	Content   string
}

// Allowlist answers membership queries for protected-entity identifiers.
type Allowlist interface {
	// Contains reports whether value (a phone number or meeting id) is
	// allowlisted for the given channel kind.
	Contains(ctx context.Context, value string, kind signal.Kind) (bool, error)

	// AddAllowlist inserts value into the allowlist for kind. Idempotent.
	AddAllowlist(ctx context.Context, value string, kind signal.Kind) error
}

// Toggles exposes named boolean feature switches.
type Toggles interface {
	// Toggle returns the current value of the named switch. Unknown names
	// report false without error.
	Toggle(ctx context.Context, name string) (bool, error)

	// SetToggle updates the named switch.
	SetToggle(ctx context.Context, name string, enabled bool) error
}

// Records is the append-only record writer.
type Records interface {
	AppendAlert(ctx context.Context, rec AlertRecord) error
	AppendContent(ctx context.Context, rec ContentRecord) error

	// RecentAlerts returns up to limit alert records, newest first.
	RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// Store is the full contract the application wires together.
type Store interface {
	Allowlist
	Toggles
	Records

	// ExportAlertsCSV streams the alert log as CSV to w.
	ExportAlertsCSV(ctx context.Context, w io.Writer) error
}
