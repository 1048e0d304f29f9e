package alert_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/seclyn/callwarden/internal/alert"
	"github.com/seclyn/callwarden/internal/classify"
	storemock "github.com/seclyn/callwarden/internal/store/mock"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []alert.Notification
	fail error
}

func (n *recordingNotifier) Notify(ctx context.Context, note alert.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, note)
	return nil
}

func phishing(confidence float64) classify.Verdict {
	return classify.Verdict{
		Decision:    classify.DecisionPhishing,
		Confidence:  confidence,
		Explanation: "urgency pressure",
	}
}

func safe() classify.Verdict {
	return classify.Verdict{Decision: classify.DecisionSafe, Confidence: 0.1}
}

func TestSink_HighConfidencePhishingRaisesAlert(t *testing.T) {
	t.Parallel()
	st := storemock.New()
	notifier := &recordingNotifier{}
	sink := alert.NewSink(st, notifier)

	sink.HandleVerdict(context.Background(), "+15551234567", phishing(0.92), "reported number")

	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.sent))
	}
	n := notifier.sent[0]
	if n.Source != "+15551234567" || n.Confidence != 0.92 {
		t.Errorf("notification = %+v", n)
	}
	if n.RiskSummary != "reported number" {
		t.Errorf("risk summary = %q", n.RiskSummary)
	}

	stats := sink.Stats()
	if stats.Processed != 1 || stats.Threats != 1 {
		t.Errorf("stats = %+v, want 1/1", stats)
	}
}

func TestSink_ThresholdIsExclusive(t *testing.T) {
	t.Parallel()
	st := storemock.New()
	notifier := &recordingNotifier{}
	sink := alert.NewSink(st, notifier)

	// Exactly 0.7 must not alert; strictly above must.
	sink.HandleVerdict(context.Background(), "a", phishing(0.7), "")
	sink.HandleVerdict(context.Background(), "b", phishing(0.71), "")

	if len(notifier.sent) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", len(notifier.sent))
	}
	if notifier.sent[0].Source != "b" {
		t.Errorf("alerted on %q, want b", notifier.sent[0].Source)
	}
	if got := sink.Stats().Threats; got != 1 {
		t.Errorf("threats = %d, want 1", got)
	}
}

func TestSink_SafeVerdictCountsButNeverAlerts(t *testing.T) {
	t.Parallel()
	st := storemock.New()
	notifier := &recordingNotifier{}
	sink := alert.NewSink(st, notifier)

	sink.HandleVerdict(context.Background(), "a", safe(), "")

	if len(notifier.sent) != 0 {
		t.Errorf("safe verdict should not alert, got %d notifications", len(notifier.sent))
	}
	stats := sink.Stats()
	if stats.Processed != 1 || stats.Threats != 0 {
		t.Errorf("stats = %+v, want 1/0", stats)
	}
}

func TestSink_RecordsWrittenPerVerdict(t *testing.T) {
	t.Parallel()
	st := storemock.New()
	sink := alert.NewSink(st, nil)

	// Every verdict's record lands in the store immediately; a threat also
	// writes its alert record before any flush happens.
	sink.HandleVerdict(context.Background(), "a", phishing(0.95), "")

	if got := st.CallCount("AppendContent"); got != 1 {
		t.Errorf("classification record writes = %d, want 1", got)
	}
	if got := st.CallCount("AppendAlert"); got != 1 {
		t.Errorf("alert record writes = %d, want 1", got)
	}
}

func TestSink_StatsFlushedEveryFifthVerdict(t *testing.T) {
	t.Parallel()
	st := storemock.New()
	sink := alert.NewSink(st, nil)

	ctx := context.Background()
	for range 4 {
		sink.HandleVerdict(ctx, "a", safe(), "")
	}
	// Four classification records, no stats snapshot yet.
	if got := st.CallCount("AppendContent"); got != 4 {
		t.Fatalf("writes after 4 verdicts = %d, want 4", got)
	}

	sink.HandleVerdict(ctx, "a", safe(), "")
	// The fifth record plus the rolling-stats snapshot.
	if got := st.CallCount("AppendContent"); got != 6 {
		t.Errorf("writes after 5 verdicts = %d, want 6", got)
	}
}

func TestSink_FlushIsNoOpWithoutNewVerdicts(t *testing.T) {
	t.Parallel()
	st := storemock.New()
	sink := alert.NewSink(st, nil)

	ctx := context.Background()
	sink.HandleVerdict(ctx, "a", phishing(0.95), "")
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	writes := st.CallCount("AppendContent")

	// Nothing new was processed; a second flush must not write again.
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if got := st.CallCount("AppendContent"); got != writes {
		t.Errorf("idle flush wrote %d extra records", got-writes)
	}
}

func TestSink_PersistenceFailureKeepsCounters(t *testing.T) {
	t.Parallel()
	st := storemock.New()
	st.AppendContentErr = errors.New("db down")
	sink := alert.NewSink(st, nil)

	ctx := context.Background()
	sink.HandleVerdict(ctx, "a", safe(), "")
	if err := sink.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}

	if got := sink.Stats().Processed; got != 1 {
		t.Errorf("persistence failure must not affect counters, processed = %d", got)
	}
}

func TestSink_NotifierFailureDoesNotPanic(t *testing.T) {
	t.Parallel()
	st := storemock.New()
	notifier := &recordingNotifier{fail: errors.New("notification service down")}
	sink := alert.NewSink(st, notifier)

	sink.HandleVerdict(context.Background(), "a", phishing(0.9), "")

	if got := sink.Stats().Threats; got != 1 {
		t.Errorf("threat count should advance despite notifier failure, got %d", got)
	}
}
