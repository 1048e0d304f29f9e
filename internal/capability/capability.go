// Package capability tracks externally-granted permission flags and reacts to
// changes in them. The host environment grants or revokes capabilities outside
// this process; the differ compares consecutive snapshots and synchronously
// disables every protection toggle that depends on a revoked capability.
// Grants are never applied automatically — re-enabling a feature after a grant
// is a deliberate operator action.
package capability

// Capability is one named, externally-granted permission flag.
type Capability string

const (
	RecordAudio       Capability = "record_audio"
	ReadCallState     Capability = "read_call_state"
	ReadNotifications Capability = "read_notifications"
	PrivilegedBridge  Capability = "privileged_bridge"
	PostAlerts        Capability = "post_alerts"
)

// All lists every capability in a stable order.
var All = []Capability{
	RecordAudio,
	ReadCallState,
	ReadNotifications,
	PrivilegedBridge,
	PostAlerts,
}

// IsValid reports whether c is a recognised capability.
func (c Capability) IsValid() bool {
	switch c {
	case RecordAudio, ReadCallState, ReadNotifications, PrivilegedBridge, PostAlerts:
		return true
	}
	return false
}

// Provider reports whether a capability is currently granted by the host.
// Implementations query the platform permission model.
type Provider interface {
	IsGranted(c Capability) bool
}

// Snapshot is the grant state of every capability at one point in time.
type Snapshot map[Capability]bool

// Take queries p for every capability and returns the resulting snapshot.
func Take(p Provider) Snapshot {
	s := make(Snapshot, len(All))
	for _, c := range All {
		s[c] = p.IsGranted(c)
	}
	return s
}

// Clone returns an independent copy of s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for c, granted := range s {
		out[c] = granted
	}
	return out
}

// Change is one capability transition between two snapshots.
type Change struct {
	Capability Capability
	// Granted is the new state: true for a grant, false for a revocation.
	Granted bool
}

// Diff returns the capabilities whose grant state differs between old and new,
// in the stable order of [All]. Capabilities absent from old (first run after
// install, or a snapshot persisted by an older build) are treated as granted
// so that a fresh start never triggers a spurious revocation cascade.
func Diff(old, new Snapshot) []Change {
	var changes []Change
	for _, c := range All {
		before, ok := old[c]
		if !ok {
			before = true
		}
		after := new[c]
		if before != after {
			changes = append(changes, Change{Capability: c, Granted: after})
		}
	}
	return changes
}
