// Package app wires all callwarden subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run supervises the long-running loops, and Shutdown tears
// everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithStore,
// WithClassifier, WithSourceFactory, etc.). When an option is not provided,
// New creates the real implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seclyn/callwarden/internal/alert"
	"github.com/seclyn/callwarden/internal/capability"
	"github.com/seclyn/callwarden/internal/capture"
	"github.com/seclyn/callwarden/internal/classify"
	"github.com/seclyn/callwarden/internal/config"
	"github.com/seclyn/callwarden/internal/enrich"
	"github.com/seclyn/callwarden/internal/orchestrator"
	"github.com/seclyn/callwarden/internal/signal"
	"github.com/seclyn/callwarden/internal/snapshot"
	"github.com/seclyn/callwarden/internal/store"
	"github.com/seclyn/callwarden/internal/store/postgres"
	"github.com/seclyn/callwarden/pkg/audio"
)

// snapshotSource labels verdicts that originated from the privileged
// snapshot path rather than a live session.
const snapshotSource = "snapshot"

// App owns all subsystem lifetimes and runs the protection pipeline.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	st          store.Store
	classifier  Classifier
	enricher    *enrich.Lookup
	notifier    alert.Notifier
	sink        *alert.Sink
	sources     SourceFactory
	pipeline    *Pipeline
	orch        *orchestrator.Orchestrator
	feed        *signal.Feed
	collector   *snapshot.Collector
	bridge      snapshot.Bridge
	capProvider capability.Provider
	tracker     *capability.Tracker

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of connecting to PostgreSQL.
func WithStore(s store.Store) Option {
	return func(a *App) { a.st = s }
}

// WithClassifier injects a classifier instead of creating an HTTP client
// from config.
func WithClassifier(c Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithSourceFactory injects the live audio source opener.
func WithSourceFactory(f SourceFactory) Option {
	return func(a *App) { a.sources = f }
}

// WithNotifier injects the alert delivery channel. Default logs alerts.
func WithNotifier(n alert.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithBridge injects the privileged bridge used by the snapshot collector.
func WithBridge(b snapshot.Bridge) Option {
	return func(a *App) { a.bridge = b }
}

// WithCapabilityProvider enables capability tracking against the given
// provider. Without it capability events are acknowledged but not acted on.
func WithCapabilityProvider(p capability.Provider) Option {
	return func(a *App) { a.capProvider = p }
}

// New creates an App by wiring all subsystems together: store → alert sink →
// pipeline → orchestrator → signal feed, plus the snapshot collector and the
// capability tracker when configured.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initToggles(ctx); err != nil {
		return nil, fmt.Errorf("app: init toggles: %w", err)
	}
	a.initClassifier()
	a.initEnricher()
	a.initPipeline()
	if err := a.initCapabilities(); err != nil {
		return nil, fmt.Errorf("app: init capabilities: %w", err)
	}
	a.initOrchestrator()
	a.initSnapshot()
	a.feed = signal.NewFeed(cfg.Signals.BridgeURL)
	a.closers = append(a.closers, a.feed.Close)

	return a, nil
}

// initStore connects PostgreSQL unless a store was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.st != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("storage.postgres_dsn is required when no store is injected")
	}
	st, err := postgres.New(ctx, dsn)
	if err != nil {
		return err
	}
	a.st = st
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initToggles seeds the persisted toggles from config. Config is the desired
// state at boot; capability revocations may flip them off afterwards.
func (a *App) initToggles(ctx context.Context) error {
	seed := map[string]bool{
		store.ToggleCallProtection:    a.cfg.Toggles.CallProtection,
		store.ToggleMeetingProtection: a.cfg.Toggles.MeetingProtection,
		store.ToggleSnapshotCollector: a.cfg.Toggles.SnapshotCollector,
	}
	for name, enabled := range seed {
		if err := a.st.SetToggle(ctx, name, enabled); err != nil {
			return fmt.Errorf("seed toggle %q: %w", name, err)
		}
	}
	return nil
}

func (a *App) initClassifier() {
	if a.classifier != nil {
		return
	}
	copts := []classify.Option{}
	if a.cfg.Classifier.Timeout > 0 {
		copts = append(copts, classify.WithTimeout(a.cfg.Classifier.Timeout))
	}
	a.classifier = classify.NewClient(
		a.cfg.Classifier.BaseURL,
		a.cfg.Classifier.APIKey,
		a.cfg.Classifier.UserID,
		copts...,
	)
}

// initEnricher builds the caller-risk lookup. Enrichment only annotates
// alerts, so a misconfigured provider degrades to "no enrichment" instead of
// failing boot.
func (a *App) initEnricher() {
	if a.enricher != nil || a.cfg.Enrichment.Provider == "" {
		return
	}
	eopts := []enrich.Option{}
	if a.cfg.Enrichment.Timeout > 0 {
		eopts = append(eopts, enrich.WithTimeout(a.cfg.Enrichment.Timeout))
	}
	lookup, err := enrich.New(
		a.cfg.Enrichment.Provider,
		a.cfg.Enrichment.Model,
		a.cfg.Enrichment.APIKey,
		eopts...,
	)
	if err != nil {
		slog.Warn("enrichment disabled", "provider", a.cfg.Enrichment.Provider, "err", err)
		return
	}
	a.enricher = lookup
}

func (a *App) initPipeline() {
	if a.notifier == nil {
		a.notifier = logNotifier{}
	}
	a.sink = alert.NewSink(a.st, a.notifier)

	if a.sources == nil {
		a.sources = func(context.Context, signal.Kind, string) (capture.Source, audio.Format, error) {
			return nil, audio.Format{}, fmt.Errorf("app: no live audio source configured")
		}
		slog.Warn("no audio source configured, live sessions will be denied")
	}

	a.pipeline = NewPipeline(a.sources, a.classifier, a.sink, a.enricher, PipelineConfig{
		SegmentDuration: a.cfg.Capture.SegmentDuration(),
		ArtifactDir:     a.cfg.Snapshot.StagingDir,
	})
}

// initCapabilities builds the capability tracker when a provider was
// injected. Tracker state persists across restarts so revocations that
// happened while the service was down still cascade.
func (a *App) initCapabilities() error {
	if a.capProvider == nil {
		return nil
	}
	dir := a.cfg.Storage.StateDir
	if dir == "" {
		dir = os.TempDir()
	}
	tracker, err := capability.NewTracker(a.capProvider, a.st, filepath.Join(dir, "capabilities.json"))
	if err != nil {
		return err
	}
	a.tracker = tracker
	return nil
}

func (a *App) initOrchestrator() {
	oopts := []orchestrator.Option{}
	if a.tracker != nil {
		oopts = append(oopts, orchestrator.WithCapabilityHook(func(ctx context.Context) {
			a.tracker.Refresh(ctx)
		}))
	}
	a.orch = orchestrator.New(a.st, signal.NewRecognizer(), a.pipeline, oopts...)
	a.pipeline.Bind(a.orch.Report)
}

// initSnapshot builds the privileged snapshot collector when an external
// directory is configured. Snapshot segments feed the same classification
// pipeline as live segments.
func (a *App) initSnapshot() {
	if a.cfg.Snapshot.ExternalDir == "" {
		return
	}
	if a.bridge == nil {
		a.bridge = &snapshot.ExecBridge{Command: a.cfg.Snapshot.BridgeCommand}
	}

	// Snapshots are converted straight to the classifier format; the
	// pipeline's own converter then passes them through untouched.
	target := a.pipeline.classifierFormat
	conv := &audio.Converter{Target: target}
	handler := func(ctx context.Context, seg audio.Segment) error {
		enabled, err := a.st.Toggle(ctx, store.ToggleSnapshotCollector)
		if err != nil || !enabled {
			return err
		}
		return a.pipeline.HandleSegment(ctx, snapshotSource, conv, seg)
	}

	a.collector = snapshot.NewCollector(
		a.bridge,
		handler,
		a.cfg.Snapshot.ExternalDir,
		a.cfg.Snapshot.StagingDir,
		target,
		snapshot.WithPollInterval(a.cfg.Snapshot.PollInterval()),
		snapshot.WithRecencyWindow(a.cfg.Snapshot.RecencyWindow()),
		snapshot.WithTrailingWindow(a.cfg.Snapshot.TrailingWindow()),
	)
}

// Orchestrator exposes the signal entry point for callers that deliver
// events out-of-band (the status API's replay endpoint, tests).
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Sink exposes rolling alert statistics for the status API.
func (a *App) Sink() *alert.Sink { return a.sink }

// Store exposes the persistence layer for the status API.
func (a *App) Store() store.Store { return a.st }

// Degraded reports whether the snapshot collector has entered degraded mode.
// Always false when no collector is configured.
func (a *App) Degraded() bool {
	return a.collector != nil && a.collector.Degraded()
}

// Run starts the signal feed, the orchestrator loops, and the snapshot
// collector, then blocks until ctx is cancelled or a loop fails.
func (a *App) Run(ctx context.Context) error {
	if a.tracker != nil {
		a.tracker.Refresh(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.feed.Run(ctx) })
	g.Go(func() error { return a.orch.Run(ctx) })
	g.Go(func() error { return a.forwardSignals(ctx) })
	if a.collector != nil {
		g.Go(func() error { return a.collector.Run(ctx) })
	}

	slog.Info("callwarden running",
		"signals", a.cfg.Signals.BridgeURL,
		"classifier", a.cfg.Classifier.BaseURL,
		"snapshot", a.collector != nil,
		"enrichment", a.enricher != nil,
	)
	return g.Wait()
}

// forwardSignals moves events from the feed into the orchestrator's queue.
func (a *App) forwardSignals(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-a.feed.Events():
			if !ok {
				return nil
			}
			a.orch.Enqueue(ctx, ev)
		}
	}
}

// Shutdown flushes pending records and tears subsystems down in reverse-init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.sink != nil {
			if err := a.sink.Flush(ctx); err != nil {
				slog.Warn("final flush failed", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// logNotifier is the default alert delivery channel: a structured log line.
type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, n alert.Notification) error {
	slog.Warn("THREAT ALERT",
		"source", n.Source,
		"confidence", n.Confidence,
		"explanation", n.Explanation,
		"risk", n.RiskSummary,
	)
	return nil
}
