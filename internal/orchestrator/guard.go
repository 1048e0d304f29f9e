package orchestrator

import "github.com/seclyn/callwarden/internal/signal"

// Guard implements the per-channel dedup contract. External signal sources
// reuse identifiers across logically distinct sessions, so an id alone cannot
// identify a duplicate: a signal is a duplicate only while a session for that
// id is still active.
//
// The deny path is asymmetric on purpose. When a signal is evaluated and the
// outcome is "deny" (toggle off, target allowlisted), the last-processed id
// is reset to [signal.UnprocessedID] rather than left pointing at the denied
// id. Leaving it in place would silently drop a later legitimate session that
// happens to reuse the same id.
type Guard struct {
	lastProcessedID int64
	sessionActive   bool
}

// NewGuard returns a guard with no processed signal.
func NewGuard() *Guard {
	return &Guard{lastProcessedID: signal.UnprocessedID}
}

// ShouldProcess reports whether a signal with the given id must be evaluated.
func (g *Guard) ShouldProcess(id int64) bool {
	return id != g.lastProcessedID || !g.sessionActive
}

// Accept records that the signal entered a session.
func (g *Guard) Accept(id int64) {
	g.lastProcessedID = id
	g.sessionActive = true
}

// Deny records a deny outcome, resetting the last-processed id to the
// unprocessed sentinel.
func (g *Guard) Deny() {
	g.lastProcessedID = signal.UnprocessedID
	g.sessionActive = false
}

// End marks the session over. The last-processed id is kept: a subsequent
// signal reusing it is evaluated anyway because no session is active.
func (g *Guard) End() {
	g.sessionActive = false
}

// LastProcessedID returns the current dedup id, [signal.UnprocessedID] when
// none.
func (g *Guard) LastProcessedID() int64 {
	return g.lastProcessedID
}

// SessionActive reports whether the guard considers a session live.
func (g *Guard) SessionActive() bool {
	return g.sessionActive
}
