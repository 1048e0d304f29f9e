package orchestrator_test

import (
	"testing"

	"github.com/seclyn/callwarden/internal/orchestrator"
	"github.com/seclyn/callwarden/internal/signal"
)

func TestGuard_FreshGuardProcessesAnything(t *testing.T) {
	t.Parallel()
	g := orchestrator.NewGuard()
	if !g.ShouldProcess(7) {
		t.Error("fresh guard should process any id")
	}
	if g.LastProcessedID() != signal.UnprocessedID {
		t.Errorf("fresh guard id = %d, want sentinel", g.LastProcessedID())
	}
}

func TestGuard_DuplicateDuringActiveSession(t *testing.T) {
	t.Parallel()
	g := orchestrator.NewGuard()
	g.Accept(7)

	if g.ShouldProcess(7) {
		t.Error("same id during an active session is a duplicate")
	}
	if !g.ShouldProcess(8) {
		t.Error("a different id must be processed even during a session")
	}
}

func TestGuard_ReusedIDAfterSessionEnd(t *testing.T) {
	t.Parallel()
	g := orchestrator.NewGuard()
	g.Accept(7)
	g.End()

	if !g.ShouldProcess(7) {
		t.Error("a reused id after session end must be evaluated")
	}
}

// Regression: a deny outcome must reset the dedup id to the sentinel. If the
// denied id were retained, a legitimate later session reusing it while a
// session is active elsewhere would be silently dropped.
func TestGuard_DenyResetsToSentinel(t *testing.T) {
	t.Parallel()
	g := orchestrator.NewGuard()
	g.Deny()

	if g.LastProcessedID() != signal.UnprocessedID {
		t.Errorf("after deny, id = %d, want sentinel %d",
			g.LastProcessedID(), signal.UnprocessedID)
	}
	if !g.ShouldProcess(7) {
		t.Error("any id must be processable after a deny")
	}
}

func TestGuard_DenyThenReuseSameID(t *testing.T) {
	t.Parallel()
	g := orchestrator.NewGuard()

	// First occurrence of id 7 is denied.
	if !g.ShouldProcess(7) {
		t.Fatal("first occurrence must be evaluated")
	}
	g.Deny()

	// Second occurrence with the same id must still be evaluated.
	if !g.ShouldProcess(7) {
		t.Error("second occurrence of a previously denied id must not be skipped")
	}
	g.Accept(7)
	if !g.SessionActive() {
		t.Error("accept should mark the session active")
	}
}
