// Package orchestrator is the single authority deciding whether a protection
// session is active for a channel. It consumes the ordered external signal
// stream, applies the dedup guard and the toggle/allowlist policy, drives the
// per-channel state machine, and starts/stops the capture pipeline through a
// [SessionRunner].
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seclyn/callwarden/internal/classify"
	"github.com/seclyn/callwarden/internal/observe"
	"github.com/seclyn/callwarden/internal/signal"
	"github.com/seclyn/callwarden/internal/store"
)

// SessionHandle controls one running capture session.
type SessionHandle interface {
	// Stop tears the session down synchronously: capture stops and the
	// pending partial segment is flushed into the pipeline before Stop
	// returns. Stop is idempotent.
	Stop()
}

// SessionRunner starts the capture pipeline for an activated session.
type SessionRunner interface {
	StartSession(ctx context.Context, kind signal.Kind, target string) (SessionHandle, error)
}

// Result is one classification outcome fed back from the pipeline. Failures
// carry a nil-decision verdict and a non-nil Err.
type Result struct {
	Source  string
	Verdict classify.Verdict
	Err     error
}

// session is the per-channel state. Owned exclusively by the signal consumer
// loop; never accessed concurrently.
type session struct {
	state  SessionState
	guard  *Guard
	target string
	handle SessionHandle
	armed  time.Time
}

// Orchestrator runs the signal and result consumer loops.
type Orchestrator struct {
	st         store.Store
	recognizer *signal.Recognizer
	runner     SessionRunner
	metrics    *observe.Metrics

	events  chan signal.Event
	results chan Result

	armedTimeout time.Duration
	onCapability func(ctx context.Context)

	sessions map[signal.Kind]*session
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithQueueSize bounds the signal FIFO. The default is 128.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.events = make(chan signal.Event, n)
		}
	}
}

// WithArmedTimeout sets how long a session may stay armed without transport
// confirmation before the reaper resets it. The default is 2 minutes.
func WithArmedTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.armedTimeout = d
		}
	}
}

// WithCapabilityHook installs the callback run when a capability-change
// signal arrives.
func WithCapabilityHook(fn func(ctx context.Context)) Option {
	return func(o *Orchestrator) {
		o.onCapability = fn
	}
}

// New creates an orchestrator. The store provides toggle and allowlist
// lookups; the runner starts capture when a session activates.
func New(st store.Store, recognizer *signal.Recognizer, runner SessionRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		st:           st,
		recognizer:   recognizer,
		runner:       runner,
		metrics:      observe.DefaultMetrics(),
		events:       make(chan signal.Event, 128),
		results:      make(chan Result, 32),
		armedTimeout: 2 * time.Minute,
		sessions: map[signal.Kind]*session{
			signal.KindCall:    {guard: NewGuard()},
			signal.KindMeeting: {guard: NewGuard()},
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue offers one signal to the bounded FIFO. It reports false when the
// queue is full; the signal is dropped and counted, never blocks the feed.
func (o *Orchestrator) Enqueue(ctx context.Context, ev signal.Event) bool {
	select {
	case o.events <- ev:
		return true
	default:
		o.metrics.SignalsDropped.Add(ctx, 1)
		slog.Warn("signal queue full; dropping event",
			"id", ev.ID, "kind", ev.Kind, "type", ev.Type)
		return false
	}
}

// Report offers one classification result to the feedback stream. Results are
// consumed by their own loop and never block signal processing.
func (o *Orchestrator) Report(res Result) {
	select {
	case o.results <- res:
	default:
		slog.Warn("result queue full; dropping feedback", "source", res.Source)
	}
}

// Run processes signals and results until ctx is cancelled, then tears down
// any live session.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.signalLoop(ctx) })
	g.Go(func() error { return o.resultLoop(ctx) })
	return g.Wait()
}

// signalLoop is the single consumer of the signal FIFO: strictly in arrival
// order, so no two signals for the same channel are ever evaluated
// concurrently. A periodic tick expires sessions stuck in the armed state.
func (o *Orchestrator) signalLoop(ctx context.Context) error {
	reap := time.NewTicker(o.armedTimeout / 4)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			o.teardownAll()
			return ctx.Err()
		case ev := <-o.events:
			o.Process(ctx, ev)
		case <-reap.C:
			o.reapArmed()
		}
	}
}

// resultLoop consumes classification feedback independently of signal
// processing.
func (o *Orchestrator) resultLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-o.results:
			if res.Err != nil {
				slog.Warn("classification failed; no alert",
					"source", res.Source, "err", res.Err)
				continue
			}
			slog.Info("classification verdict",
				"source", res.Source,
				"decision", res.Verdict.Decision,
				"confidence", res.Verdict.Confidence,
			)
		}
	}
}

// Process evaluates one signal against its channel's state machine. The
// signal loop is the sole production caller; calling it from more than one
// goroutine violates the ordering contract.
func (o *Orchestrator) Process(ctx context.Context, ev signal.Event) {
	if ev.Type == signal.EventCapability {
		if o.onCapability != nil {
			o.onCapability(ctx)
		}
		return
	}

	// A recognized meeting notification is the meeting channel's start
	// signal; everything else in the payload is ignored.
	if ev.Type == signal.EventNotification {
		match, ok := o.recognizer.Recognize(ev.Payload)
		if !ok {
			o.metrics.RecordSignal(ctx, string(ev.Kind), "ignored")
			return
		}
		ev.Kind = signal.KindMeeting
		ev.Type = signal.EventStart
		if ev.Target == "" {
			ev.Target = match.MeetingID
		}
		if ev.Target == "" {
			ev.Target = match.App
		}
	}

	s := o.sessions[ev.Kind]
	if s == nil {
		o.metrics.RecordSignal(ctx, string(ev.Kind), "ignored")
		return
	}

	switch ev.Type {
	case signal.EventStart:
		o.handleStart(ctx, s, ev)
	case signal.EventConnected:
		o.handleConnected(ctx, s, ev)
	case signal.EventEnd:
		o.handleEnd(ctx, s, ev)
	}
}

// handleStart runs the dedup guard and the asymmetric fail-safe policy.
func (o *Orchestrator) handleStart(ctx context.Context, s *session, ev signal.Event) {
	// A channel only ever carries one session. A start arriving while one
	// is armed or active must not re-arm: that would orphan the running
	// capture handle when the next connected signal replaces it.
	if s.state != StateInactive {
		o.metrics.RecordSignal(ctx, string(ev.Kind), "ignored")
		slog.Warn("start signal during live session ignored",
			"id", ev.ID, "kind", ev.Kind, "state", s.state)
		return
	}
	if !s.guard.ShouldProcess(ev.ID) {
		o.metrics.RecordSignal(ctx, string(ev.Kind), "duplicate")
		slog.Debug("duplicate start signal skipped", "id", ev.ID, "kind", ev.Kind)
		return
	}

	// Toggle lookup fails closed: protection that cannot be confirmed as
	// enabled is treated as disabled.
	enabled, err := o.st.Toggle(ctx, toggleFor(ev.Kind))
	if err != nil {
		slog.Error("toggle lookup failed; treating protection as disabled",
			"kind", ev.Kind, "err", err)
		enabled = false
	}
	if !enabled {
		s.guard.Deny()
		o.metrics.RecordSignal(ctx, string(ev.Kind), "denied_toggle")
		return
	}

	// Allowlist lookup fails open toward protection: a target that cannot
	// be confirmed as allowlisted is still protected.
	allowlisted, err := o.st.Contains(ctx, ev.Target, ev.Kind)
	if err != nil {
		slog.Error("allowlist lookup failed; protecting anyway",
			"kind", ev.Kind, "err", err)
		allowlisted = false
	}
	if allowlisted {
		s.guard.Deny()
		o.metrics.RecordSignal(ctx, string(ev.Kind), "denied_allowlist")
		slog.Info("target allowlisted; no session", "kind", ev.Kind, "target", ev.Target)
		return
	}

	s.guard.Accept(ev.ID)
	s.state = StateArmed
	s.target = ev.Target
	s.armed = time.Now()
	o.metrics.RecordSignal(ctx, string(ev.Kind), "armed")
	slog.Info("session armed", "kind", ev.Kind, "target", ev.Target, "id", ev.ID)
}

// handleConnected activates an armed session and starts capture.
func (o *Orchestrator) handleConnected(ctx context.Context, s *session, ev signal.Event) {
	if s.state != StateArmed {
		o.metrics.RecordSignal(ctx, string(ev.Kind), "ignored")
		return
	}

	handle, err := o.runner.StartSession(ctx, ev.Kind, s.target)
	if err != nil {
		slog.Error("failed to start capture; session abandoned",
			"kind", ev.Kind, "target", s.target, "err", err)
		o.metrics.RecordPipelineError(ctx, "capture")
		s.state = StateInactive
		s.guard.Deny()
		return
	}

	s.state = StateActive
	s.handle = handle
	o.metrics.ActiveSessions.Add(ctx, 1)
	o.metrics.RecordSignal(ctx, string(ev.Kind), "activated")
	slog.Info("session active", "kind", ev.Kind, "target", s.target)
}

// handleEnd tears an armed or active session down synchronously.
func (o *Orchestrator) handleEnd(ctx context.Context, s *session, ev signal.Event) {
	switch s.state {
	case StateArmed:
		s.state = StateInactive
		s.guard.End()
		o.metrics.RecordSignal(ctx, string(ev.Kind), "ended")
	case StateActive:
		s.state = StateEnding
		if s.handle != nil {
			s.handle.Stop()
			s.handle = nil
		}
		s.state = StateInactive
		s.guard.End()
		o.metrics.ActiveSessions.Add(ctx, -1)
		o.metrics.RecordSignal(ctx, string(ev.Kind), "ended")
		slog.Info("session ended", "kind", ev.Kind, "target", s.target)
	default:
		o.metrics.RecordSignal(ctx, string(ev.Kind), "ignored")
	}
}

// reapArmed expires sessions that never received transport confirmation.
func (o *Orchestrator) reapArmed() {
	for kind, s := range o.sessions {
		if s.state == StateArmed && time.Since(s.armed) > o.armedTimeout {
			slog.Warn("armed session timed out without confirmation",
				"kind", kind, "target", s.target)
			s.state = StateInactive
			s.guard.Deny()
		}
	}
}

// teardownAll stops every live session on shutdown.
func (o *Orchestrator) teardownAll() {
	for kind, s := range o.sessions {
		if s.handle != nil {
			slog.Info("stopping session on shutdown", "kind", kind)
			s.handle.Stop()
			s.handle = nil
		}
		s.state = StateInactive
		s.guard.End()
	}
}

// SessionState returns the current state of a channel. Only meaningful when
// the signal loop is quiescent (tests, shutdown).
func (o *Orchestrator) SessionState(kind signal.Kind) SessionState {
	if s := o.sessions[kind]; s != nil {
		return s.state
	}
	return StateInactive
}

// LastProcessedID returns a channel's dedup id, [signal.UnprocessedID] when
// none.
func (o *Orchestrator) LastProcessedID(kind signal.Kind) int64 {
	if s := o.sessions[kind]; s != nil {
		return s.guard.LastProcessedID()
	}
	return signal.UnprocessedID
}

// toggleFor maps a channel kind to its protection toggle name.
func toggleFor(kind signal.Kind) string {
	if kind == signal.KindMeeting {
		return store.ToggleMeetingProtection
	}
	return store.ToggleCallProtection
}
