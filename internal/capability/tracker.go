package capability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/seclyn/callwarden/internal/store"
)

// Tracker owns the current capability snapshot. It is the only component that
// reads and writes the snapshot; everyone else observes the effects through
// the toggle store.
type Tracker struct {
	provider Provider
	toggles  store.Toggles
	path     string

	mu      sync.Mutex
	current Snapshot
}

// NewTracker creates a tracker that persists snapshots to path. It loads the
// last persisted snapshot so the first [Tracker.Refresh] after a restart can
// still detect revocations that happened while the process was down.
func NewTracker(provider Provider, toggles store.Toggles, path string) (*Tracker, error) {
	last, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		provider: provider,
		toggles:  toggles,
		path:     path,
		current:  last,
	}, nil
}

// Current returns a copy of the most recent snapshot. Nil until the first
// Refresh on a fresh install.
func (t *Tracker) Current() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Clone()
}

// Refresh takes a new snapshot, applies the cascade for any transitions, and
// persists the new state. Returns the changes observed. Persist failures are
// logged but do not undo the cascade.
func (t *Tracker) Refresh(ctx context.Context) []Change {
	fresh := Take(t.provider)

	t.mu.Lock()
	old := t.current
	t.current = fresh
	t.mu.Unlock()

	changes := Diff(old, fresh)
	if len(changes) > 0 {
		if err := Cascade(ctx, t.toggles, changes); err != nil {
			slog.Error("capability cascade incomplete", "err", err)
		}
	}

	if err := SaveSnapshot(t.path, fresh); err != nil {
		slog.Error("failed to persist capability snapshot", "path", t.path, "err", err)
	}
	return changes
}
