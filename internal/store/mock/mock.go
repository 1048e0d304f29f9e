// Package mock provides an in-memory test double for the [store.Store]
// contract.
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All methods are safe
// for concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	st := mock.New()
//	st.Allow("+15551234567", signal.KindCall)
//	st.Enable(store.ToggleCallProtection)
//
//	// inject st into the system under test …
//
//	if got := st.CallCount("Contains"); got != 1 {
//	    t.Errorf("expected 1 Contains call, got %d", got)
//	}
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/seclyn/callwarden/internal/signal"
	"github.com/seclyn/callwarden/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable in-memory [store.Store]. All exported *Err fields
// default to nil (success).
type Store struct {
	mu sync.Mutex

	calls   []Call
	allowed map[string]bool // "kind|value"
	toggles map[string]bool

	// Alerts and Contents accumulate every appended record in order.
	Alerts   []store.AlertRecord
	Contents []store.ContentRecord

	// ContainsErr is returned by Contains when non-nil (simulates storage
	// being unavailable).
	ContainsErr error

	// ToggleErr is returned by Toggle when non-nil.
	ToggleErr error

	// AppendAlertErr is returned by AppendAlert when non-nil.
	AppendAlertErr error

	// AppendContentErr is returned by AppendContent when non-nil.
	AppendContentErr error
}

// New creates an empty mock store.
func New() *Store {
	return &Store{
		allowed: make(map[string]bool),
		toggles: make(map[string]bool),
	}
}

// Allow marks value as allowlisted for kind.
func (m *Store) Allow(value string, kind signal.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowed[string(kind)+"|"+value] = true
}

// Enable switches the named toggle on.
func (m *Store) Enable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggles[name] = true
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of invocations of the named method.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *Store) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Contains implements [store.Allowlist].
func (m *Store) Contains(_ context.Context, value string, kind signal.Kind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Contains", value, kind)
	if m.ContainsErr != nil {
		return false, m.ContainsErr
	}
	return m.allowed[string(kind)+"|"+value], nil
}

// AddAllowlist implements [store.Allowlist].
func (m *Store) AddAllowlist(_ context.Context, value string, kind signal.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AddAllowlist", value, kind)
	m.allowed[string(kind)+"|"+value] = true
	return nil
}

// Toggle implements [store.Toggles].
func (m *Store) Toggle(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Toggle", name)
	if m.ToggleErr != nil {
		return false, m.ToggleErr
	}
	return m.toggles[name], nil
}

// SetToggle implements [store.Toggles].
func (m *Store) SetToggle(_ context.Context, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetToggle", name, enabled)
	m.toggles[name] = enabled
	return nil
}

// ToggleValue returns the current value of a toggle without recording a call.
func (m *Store) ToggleValue(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toggles[name]
}

// AppendAlert implements [store.Records].
func (m *Store) AppendAlert(_ context.Context, rec store.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AppendAlert", rec)
	if m.AppendAlertErr != nil {
		return m.AppendAlertErr
	}
	m.Alerts = append(m.Alerts, rec)
	return nil
}

// AppendContent implements [store.Records].
func (m *Store) AppendContent(_ context.Context, rec store.ContentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AppendContent", rec)
	if m.AppendContentErr != nil {
		return m.AppendContentErr
	}
	m.Contents = append(m.Contents, rec)
	return nil
}

// RecentAlerts implements [store.Records].
func (m *Store) RecentAlerts(_ context.Context, limit int) ([]store.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("RecentAlerts", limit)
	n := len(m.Alerts)
	if limit > n {
		limit = n
	}
	out := make([]store.AlertRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.Alerts[i])
	}
	return out, nil
}

// ExportAlertsCSV implements [store.Store].
func (m *Store) ExportAlertsCSV(_ context.Context, w io.Writer) error {
	m.mu.Lock()
	recs := make([]store.AlertRecord, len(m.Alerts))
	copy(recs, m.Alerts)
	m.mu.Unlock()
	return store.WriteAlertsCSV(w, recs)
}

// AlertCount returns the number of appended alert records.
func (m *Store) AlertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Alerts)
}
