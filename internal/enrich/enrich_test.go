package enrich_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seclyn/callwarden/internal/enrich"
)

func newLookup(t *testing.T, fn func(ctx context.Context, prompt string) (string, error), opts ...enrich.Option) *enrich.Lookup {
	t.Helper()
	opts = append(opts, enrich.WithCompleteFunc(fn))
	l, err := enrich.New("openai", "gpt-4o-mini", "sk-test", opts...)
	if err != nil {
		t.Fatalf("new lookup: %v", err)
	}
	return l
}

func TestLookup_ParsesFencedAnswer(t *testing.T) {
	t.Parallel()
	l := newLookup(t, func(ctx context.Context, prompt string) (string, error) {
		return "```json\n{\"level\": \"HIGH\", \"summary\": \"number reported in smishing campaigns\"}\n```", nil
	})

	risk, ok := l.Lookup(context.Background(), "+15551234567")
	if !ok {
		t.Fatal("expected a result")
	}
	if risk.Level != enrich.LevelHigh {
		t.Errorf("level = %q, want high", risk.Level)
	}
	if risk.Summary == "" {
		t.Error("summary should not be empty")
	}
	if risk.Target != "+15551234567" {
		t.Errorf("target = %q", risk.Target)
	}
}

func TestLookup_ProviderErrorYieldsNoResult(t *testing.T) {
	t.Parallel()
	l := newLookup(t, func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("rate limited")
	})

	risk, ok := l.Lookup(context.Background(), "target")
	if ok {
		t.Fatal("expected no result on provider error")
	}
	if risk.Level != enrich.LevelUnknown {
		t.Errorf("level = %q, want unknown", risk.Level)
	}
}

func TestLookup_UnparseableAnswerYieldsNoResult(t *testing.T) {
	t.Parallel()
	l := newLookup(t, func(ctx context.Context, prompt string) (string, error) {
		return "I think this number looks fine to me!", nil
	})

	if _, ok := l.Lookup(context.Background(), "target"); ok {
		t.Fatal("expected no result for an unparseable answer")
	}
}

func TestLookup_UnrecognisedLevelBecomesUnknown(t *testing.T) {
	t.Parallel()
	l := newLookup(t, func(ctx context.Context, prompt string) (string, error) {
		return `{"level": "catastrophic", "summary": "x"}`, nil
	})

	risk, ok := l.Lookup(context.Background(), "target")
	if !ok {
		t.Fatal("expected a result")
	}
	if risk.Level != enrich.LevelUnknown {
		t.Errorf("level = %q, want unknown", risk.Level)
	}
}

func TestLookup_SlowProviderTimesOut(t *testing.T) {
	t.Parallel()
	l := newLookup(t, func(ctx context.Context, prompt string) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return `{"level": "low", "summary": "late"}`, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}, enrich.WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, ok := l.Lookup(context.Background(), "target")
	if ok {
		t.Fatal("expected no result from a slow provider")
	}
	if time.Since(start) > time.Second {
		t.Error("lookup should return promptly on timeout")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()
	if _, err := enrich.New("fakecloud", "some-model", "key"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
