package classify_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/seclyn/callwarden/internal/classify"
)

// envelope wraps an output text in the standard successful workflow response.
func envelope(outputKey, text string) string {
	return fmt.Sprintf(`{
		"data": {
			"status": "succeeded",
			"outputs": {%q: %q},
			"total_tokens": 1234,
			"total_steps": 3,
			"elapsed_time": 2.5
		}
	}`, outputKey, text)
}

func TestParseVerdict_FencedSuspiciousIsPhishing(t *testing.T) {
	t.Parallel()
	inner := "```json\n{\"verdict\": \"SUSPICIOUS\", \"confidence\": 0.91, \"reasons\": [\"urgency pressure\"]}\n```"
	v, err := classify.ParseVerdict([]byte(envelope("text", inner)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Decision != classify.DecisionPhishing {
		t.Errorf("decision = %q, want phishing", v.Decision)
	}
	if v.Confidence != 0.91 {
		t.Errorf("confidence = %v, want 0.91", v.Confidence)
	}
	if !strings.Contains(v.Explanation, "urgency pressure") {
		t.Errorf("explanation should carry the reason, got %q", v.Explanation)
	}
	if v.TotalTokens != 1234 || v.TotalSteps != 3 {
		t.Errorf("counters = %d/%d, want 1234/3", v.TotalTokens, v.TotalSteps)
	}
	if v.ProcessingDuration.Seconds() != 2.5 {
		t.Errorf("processing duration = %v, want 2.5s", v.ProcessingDuration)
	}
}

func TestParseVerdict_DecisionSynonyms(t *testing.T) {
	t.Parallel()
	cases := []struct {
		verdict string
		want    classify.Decision
	}{
		{"PHISHING", classify.DecisionPhishing},
		{"malicious", classify.DecisionPhishing},
		{"Suspicious", classify.DecisionPhishing},
		{"SAFE", classify.DecisionSafe},
		{"legitimate", classify.DecisionSafe},
		{"Benign", classify.DecisionSafe},
	}
	for _, tc := range cases {
		inner := fmt.Sprintf(`{"decision": %q, "confidence": 0.8}`, tc.verdict)
		v, err := classify.ParseVerdict([]byte(envelope("text", inner)))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.verdict, err)
		}
		if v.Decision != tc.want {
			t.Errorf("verdict %q: decision = %q, want %q", tc.verdict, v.Decision, tc.want)
		}
	}
}

func TestParseVerdict_MissingDecisionThresholdsConfidence(t *testing.T) {
	t.Parallel()
	v, err := classify.ParseVerdict([]byte(envelope("text", `{"confidence": 0.42}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Decision != classify.DecisionSafe {
		t.Errorf("decision = %q, want safe for confidence 0.42", v.Decision)
	}

	v, err = classify.ParseVerdict([]byte(envelope("text", `{"confidence": 0.88}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Decision != classify.DecisionPhishing {
		t.Errorf("decision = %q, want phishing for confidence 0.88", v.Decision)
	}
}

func TestParseVerdict_OutputKeyFallback(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"text", "result", "output", "answer", "json"} {
		v, err := classify.ParseVerdict([]byte(envelope(key, `{"verdict": "SAFE"}`)))
		if err != nil {
			t.Fatalf("key %q: unexpected error: %v", key, err)
		}
		if v.Decision != classify.DecisionSafe {
			t.Errorf("key %q: decision = %q, want safe", key, v.Decision)
		}
	}
}

func TestParseVerdict_EvidenceObjects(t *testing.T) {
	t.Parallel()
	inner := `{"verdict": "PHISHING", "evidence": [{"quote": "wire the money now", "tactic": "urgency"}, "spoofed caller id"]}`
	v, err := classify.ParseVerdict([]byte(envelope("text", inner)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(v.Explanation, "urgency") || !strings.Contains(v.Explanation, "wire the money now") {
		t.Errorf("explanation should include quote and tactic, got %q", v.Explanation)
	}
	if !strings.Contains(v.Explanation, "spoofed caller id") {
		t.Errorf("explanation should include plain-string evidence, got %q", v.Explanation)
	}
}

func TestParseVerdict_NoReasonsSynthesizesExplanation(t *testing.T) {
	t.Parallel()
	v, err := classify.ParseVerdict([]byte(envelope("text", `{"verdict": "SAFE", "confidence": 0.12}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(v.Explanation, "0.12") {
		t.Errorf("synthesized explanation should carry the confidence, got %q", v.Explanation)
	}
}

func TestParseVerdict_Failures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
	}{
		{"not json", "definitely not json"},
		{"top-level error", `{"code": "invalid_param", "message": "workflow not found"}`},
		{"status failed", `{"data": {"status": "failed", "outputs": {}}}`},
		{"no outputs", `{"data": {"status": "succeeded"}}`},
		{"no known key", `{"data": {"status": "succeeded", "outputs": {"weird": "{}"}}}`},
		{"inner not json", envelope("text", "the model rambled instead of emitting JSON")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := classify.ParseVerdict([]byte(tc.body))
			var parseErr *classify.ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("expected *ParseError, got %v", err)
			}
		})
	}
}
