package capability_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/seclyn/callwarden/internal/capability"
	"github.com/seclyn/callwarden/internal/store"
	storemock "github.com/seclyn/callwarden/internal/store/mock"
)

// staticProvider grants exactly the capabilities in its set.
type staticProvider map[capability.Capability]bool

func (p staticProvider) IsGranted(c capability.Capability) bool { return p[c] }

func allGranted() staticProvider {
	p := staticProvider{}
	for _, c := range capability.All {
		p[c] = true
	}
	return p
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	s := capability.Take(allGranted())
	if changes := capability.Diff(s, s.Clone()); len(changes) != 0 {
		t.Errorf("expected no changes, got %v", changes)
	}
}

func TestDiff_Revocation(t *testing.T) {
	t.Parallel()
	old := capability.Take(allGranted())
	p := allGranted()
	p[capability.RecordAudio] = false
	new := capability.Take(p)

	changes := capability.Diff(old, new)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %v", len(changes), changes)
	}
	if changes[0].Capability != capability.RecordAudio || changes[0].Granted {
		t.Errorf("expected record_audio revocation, got %+v", changes[0])
	}
}

func TestDiff_MissingFromOldTreatedAsGranted(t *testing.T) {
	t.Parallel()
	// A nil old snapshot models a fresh install: must not report the whole
	// granted set as "changes", and a missing grant must surface as revoked.
	p := allGranted()
	p[capability.PrivilegedBridge] = false
	new := capability.Take(p)

	changes := capability.Diff(nil, new)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %v", len(changes), changes)
	}
	if changes[0].Capability != capability.PrivilegedBridge {
		t.Errorf("expected privileged_bridge change, got %+v", changes[0])
	}
}

func TestCascade_RevocationDisablesDependentToggles(t *testing.T) {
	t.Parallel()
	st := storemock.New()
	st.Enable(store.ToggleCallProtection)
	st.Enable(store.ToggleMeetingProtection)

	changes := []capability.Change{
		{Capability: capability.RecordAudio, Granted: false},
	}
	if err := capability.Cascade(context.Background(), st, changes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st.ToggleValue(store.ToggleCallProtection) {
		t.Error("call_protection should be disabled after record_audio revocation")
	}
	if st.ToggleValue(store.ToggleMeetingProtection) {
		t.Error("meeting_protection should be disabled after record_audio revocation")
	}
}

func TestCascade_GrantNeverEnablesToggles(t *testing.T) {
	t.Parallel()
	st := storemock.New()

	changes := []capability.Change{
		{Capability: capability.RecordAudio, Granted: true},
	}
	if err := capability.Cascade(context.Background(), st, changes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st.CallCount("SetToggle") != 0 {
		t.Error("a grant must not write any toggle")
	}
}

func TestSnapshotPersistence_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "capabilities.json")

	s := capability.Take(allGranted())
	s[capability.PostAlerts] = false

	if err := capability.SaveSnapshot(path, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := capability.LoadSnapshot(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, c := range capability.All {
		if loaded[c] != s[c] {
			t.Errorf("capability %s: got %v, want %v", c, loaded[c], s[c])
		}
	}
}

func TestLoadSnapshot_MissingFile(t *testing.T) {
	t.Parallel()
	s, err := capability.LoadSnapshot(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should not be an error, got: %v", err)
	}
	if s != nil {
		t.Errorf("missing file should yield a nil snapshot, got %v", s)
	}
}

func TestTracker_RestartDetectsOfflineRevocation(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "capabilities.json")

	// Persist a fully-granted snapshot, then "restart" with a provider that
	// has lost the bridge capability.
	if err := capability.SaveSnapshot(path, capability.Take(allGranted())); err != nil {
		t.Fatalf("save: %v", err)
	}

	p := allGranted()
	p[capability.PrivilegedBridge] = false
	st := storemock.New()
	st.Enable(store.ToggleSnapshotCollector)

	tr, err := capability.NewTracker(p, st, path)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}

	changes := tr.Refresh(context.Background())
	if len(changes) != 1 || changes[0].Capability != capability.PrivilegedBridge {
		t.Fatalf("expected privileged_bridge revocation, got %v", changes)
	}
	if st.ToggleValue(store.ToggleSnapshotCollector) {
		t.Error("snapshot_collector should be disabled after offline revocation")
	}

	// The refreshed state must be persisted so a second restart is quiet.
	loaded, err := capability.LoadSnapshot(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded[capability.PrivilegedBridge] {
		t.Error("persisted snapshot should record the revocation")
	}
}
