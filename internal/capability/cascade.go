package capability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seclyn/callwarden/internal/store"
)

// dependentToggles maps each capability to the protection toggles that cannot
// function without it. A revocation disables every listed toggle.
var dependentToggles = map[Capability][]string{
	RecordAudio:       {store.ToggleCallProtection, store.ToggleMeetingProtection},
	ReadCallState:     {store.ToggleCallProtection},
	ReadNotifications: {store.ToggleMeetingProtection},
	PrivilegedBridge:  {store.ToggleSnapshotCollector},
	// PostAlerts has no dependent toggle: losing it degrades alert delivery
	// but detection keeps running.
}

// DependentToggles returns the toggles that depend on c. The returned slice
// must not be modified.
func DependentToggles(c Capability) []string {
	return dependentToggles[c]
}

// Cascade applies a set of capability changes to the toggle store.
// A revocation (true→false) synchronously disables every dependent toggle;
// a grant (false→true) is only logged, never auto-applied. Returns an error
// if any disable write fails; remaining changes are still attempted.
func Cascade(ctx context.Context, toggles store.Toggles, changes []Change) error {
	var firstErr error
	for _, ch := range changes {
		if ch.Granted {
			slog.Info("capability granted; dependent features stay off until re-enabled",
				"capability", ch.Capability,
				"dependent_toggles", dependentToggles[ch.Capability],
			)
			continue
		}
		for _, name := range dependentToggles[ch.Capability] {
			if err := toggles.SetToggle(ctx, name, false); err != nil {
				slog.Error("failed to disable toggle after capability revocation",
					"capability", ch.Capability,
					"toggle", name,
					"err", err,
				)
				if firstErr == nil {
					firstErr = fmt.Errorf("capability: disable toggle %q: %w", name, err)
				}
				continue
			}
			slog.Warn("capability revoked; dependent toggle disabled",
				"capability", ch.Capability,
				"toggle", name,
			)
		}
	}
	return firstErr
}
