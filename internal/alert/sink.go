// Package alert turns classification verdicts into user-facing alerts and
// durable records. Failures never reach this package: a failed classification
// is silent by design, so the sink only ever sees successful verdicts.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seclyn/callwarden/internal/classify"
	"github.com/seclyn/callwarden/internal/store"
)

// alertThreshold is the minimum confidence for a phishing verdict to surface
// as a user-facing alert.
const alertThreshold = 0.7

// flushEvery is how many processed verdicts pass between rolling-statistics
// flushes to durable storage.
const flushEvery = 5

// Notification is one user-facing alert.
type Notification struct {
	Source      string
	Confidence  float64
	Explanation string

	// RiskSummary is the optional enrichment result for the source.
	RiskSummary string
}

// Notifier delivers user-facing alerts.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Stats is a point-in-time snapshot of the sink's counters.
type Stats struct {
	Processed int64
	Threats   int64
}

// Sink persists a record for every verdict, raises alerts above the
// confidence threshold, and periodically flushes rolling statistics to the
// store. Safe for concurrent use: verdicts for different artifacts arrive
// from detached pipeline tasks.
type Sink struct {
	records  store.Records
	notifier Notifier

	mu        sync.Mutex
	processed int64
	threats   int64
	flushed   int64
}

// NewSink creates a sink writing to records and alerting through notifier.
// notifier may be nil, in which case threats are only persisted.
func NewSink(records store.Records, notifier Notifier) *Sink {
	return &Sink{
		records:  records,
		notifier: notifier,
	}
}

// HandleVerdict processes one successful verdict for the given source
// identifier. The structured record (and the alert record for a threat) is
// written immediately; each write is independently atomic, and a failed
// write is logged without rolling back the in-memory counters.
func (s *Sink) HandleVerdict(ctx context.Context, source string, v classify.Verdict, riskSummary string) {
	now := time.Now().UTC()
	isThreat := v.Decision == classify.DecisionPhishing && v.Confidence > alertThreshold

	s.mu.Lock()
	s.processed++
	if isThreat {
		s.threats++
	}
	shouldFlush := s.processed%flushEvery == 0
	s.mu.Unlock()

	if err := s.records.AppendContent(ctx, store.ContentRecord{
		Type:      "classification",
		Timestamp: now,
		Content: fmt.Sprintf("source=%s decision=%s confidence=%.2f explanation=%s",
			source, v.Decision, v.Confidence, v.Explanation),
	}); err != nil {
		slog.Error("failed to persist classification record", "source", source, "err", err)
	}

	if isThreat {
		if err := s.records.AppendAlert(ctx, store.AlertRecord{
			Time:     now,
			Category: string(v.Decision),
			Source:   source,
			Status:   "raised",
		}); err != nil {
			slog.Error("failed to persist alert record", "source", source, "err", err)
		}
		if s.notifier != nil {
			if err := s.notifier.Notify(ctx, Notification{
				Source:      source,
				Confidence:  v.Confidence,
				Explanation: v.Explanation,
				RiskSummary: riskSummary,
			}); err != nil {
				slog.Error("failed to deliver alert", "source", source, "err", err)
			}
		}
	}

	if shouldFlush {
		if err := s.Flush(ctx); err != nil {
			slog.Error("failed to flush alert statistics", "err", err)
		}
	}
}

// Flush writes a rolling-statistics record covering everything processed
// since the previous flush. Called automatically every fifth verdict and by
// the owner on shutdown; a no-op when no new verdicts arrived. A failed
// write drops the snapshot — evidence is ephemeral and time-sensitive, so
// there is no retry queue.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.processed == s.flushed {
		s.mu.Unlock()
		return nil
	}
	snap := Stats{Processed: s.processed, Threats: s.threats}
	s.flushed = s.processed
	s.mu.Unlock()

	if err := s.records.AppendContent(ctx, store.ContentRecord{
		Type:      "stats",
		Timestamp: time.Now().UTC(),
		Content:   fmt.Sprintf("processed=%d threats=%d", snap.Processed, snap.Threats),
	}); err != nil {
		return fmt.Errorf("alert: append stats record: %w", err)
	}
	return nil
}

// Stats returns the current counters.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Processed: s.processed, Threats: s.threats}
}
