package orchestrator

// SessionState is the lifecycle state of one protection channel.
type SessionState int

const (
	// StateInactive means no session exists for the channel.
	StateInactive SessionState = iota

	// StateArmed means a qualifying start signal was accepted and the
	// session is waiting for transport confirmation.
	StateArmed

	// StateActive means the session is live and capture is running.
	StateActive

	// StateEnding is the transient teardown state: capture is stopped and
	// the pending partial segment flushed before returning to inactive.
	StateEnding
)

// String returns the human-readable name of the state.
func (s SessionState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateArmed:
		return "armed"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}
