package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seclyn/callwarden/internal/capture"
	"github.com/seclyn/callwarden/internal/classify"
	"github.com/seclyn/callwarden/internal/enrich"
	"github.com/seclyn/callwarden/internal/observe"
	"github.com/seclyn/callwarden/internal/orchestrator"
	"github.com/seclyn/callwarden/internal/resilience"
	"github.com/seclyn/callwarden/internal/signal"
	"github.com/seclyn/callwarden/pkg/audio"
)

// SourceFactory opens a live audio source for an activated session. The
// returned format describes the PCM the source delivers; the pipeline
// converts it to the classifier format before encoding.
type SourceFactory func(ctx context.Context, kind signal.Kind, target string) (capture.Source, audio.Format, error)

// Classifier is the classification surface the pipeline consumes. Satisfied
// by [classify.Client].
type Classifier interface {
	Classify(ctx context.Context, artifact []byte, filename string) (classify.Verdict, error)
}

// VerdictSink receives every classification outcome. Satisfied by
// [alert.Sink].
type VerdictSink interface {
	HandleVerdict(ctx context.Context, source string, v classify.Verdict, riskSummary string)
}

// Pipeline turns activated sessions into a stream of classified audio
// segments. It implements [orchestrator.SessionRunner]: for each session it
// runs a capture engine, packages every sealed segment into a WAV evidence
// artifact, sends it to the classifier, and hands the verdict to the alert
// sink. Outcomes are also reported back to the orchestrator's result channel.
type Pipeline struct {
	sources    SourceFactory
	classifier Classifier
	sink       VerdictSink
	enricher   *enrich.Lookup
	metrics    *observe.Metrics
	breaker    *resilience.CircuitBreaker

	classifierFormat audio.Format
	segmentLen       time.Duration
	artifactDir      string

	// report is bound after the orchestrator is constructed; nil until then.
	mu     sync.Mutex
	report func(orchestrator.Result)

	sessionSeq int64
}

// PipelineConfig carries the fixed parameters of a Pipeline.
type PipelineConfig struct {
	// ClassifierFormat is the PCM format artifacts are converted to before
	// WAV encoding.
	ClassifierFormat audio.Format

	// SegmentDuration bounds each captured segment. Zero means the capture
	// engine default.
	SegmentDuration time.Duration

	// ArtifactDir is where evidence artifacts are staged between encode and
	// upload. Empty means the OS temp directory.
	ArtifactDir string
}

// NewPipeline wires a Pipeline. The enricher may be nil when target
// enrichment is not configured.
func NewPipeline(sources SourceFactory, classifier Classifier, sink VerdictSink, enricher *enrich.Lookup, cfg PipelineConfig) *Pipeline {
	if cfg.ClassifierFormat.SampleRate == 0 {
		cfg.ClassifierFormat = audio.Format{SampleRate: 16000, Channels: 1}
	}
	return &Pipeline{
		sources:          sources,
		classifier:       classifier,
		sink:             sink,
		enricher:         enricher,
		metrics:          observe.DefaultMetrics(),
		breaker:          resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "classifier"}),
		classifierFormat: cfg.ClassifierFormat,
		segmentLen:       cfg.SegmentDuration,
		artifactDir:      cfg.ArtifactDir,
	}
}

// Bind installs the orchestrator's result callback. The pipeline and the
// orchestrator reference each other, so the callback arrives after both are
// constructed.
func (p *Pipeline) Bind(report func(orchestrator.Result)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report = report
}

func (p *Pipeline) reportResult(res orchestrator.Result) {
	p.mu.Lock()
	report := p.report
	p.mu.Unlock()
	if report != nil {
		report(res)
	}
}

// Compile-time interface check.
var _ orchestrator.SessionRunner = (*Pipeline)(nil)

// captureSession adapts a capture engine plus its dispatch goroutine to
// [orchestrator.SessionHandle].
type captureSession struct {
	cancel context.CancelFunc
	engine *capture.Engine
	done   <-chan struct{}
}

// Stop halts capture and waits until every flushed segment has been handed to
// a classification task. It never waits on the classifications themselves;
// those complete or time out on their own.
func (s *captureSession) Stop() {
	// The source is bound to the session context; cancelling it unblocks a
	// read stuck on a silent input (kills a recorder subprocess).
	s.cancel()
	s.engine.Stop()
	<-s.done
}

// StartSession implements [orchestrator.SessionRunner]. The audio source is
// bound to a per-session context released on Stop; the capture engine and the
// classification tasks run on the orchestrator's context so a session ending
// never cuts short the classification of its final segment.
func (p *Pipeline) StartSession(ctx context.Context, kind signal.Kind, target string) (orchestrator.SessionHandle, error) {
	srcCtx, cancel := context.WithCancel(ctx)
	src, format, err := p.sources(srcCtx, kind, target)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("app: open audio source: %w", err)
	}

	p.mu.Lock()
	p.sessionSeq++
	sessionID := fmt.Sprintf("%s-%d", kind, p.sessionSeq)
	p.mu.Unlock()

	opts := []capture.Option{}
	if p.segmentLen > 0 {
		opts = append(opts, capture.WithSegmentDuration(p.segmentLen))
	}
	engine := capture.NewEngine(sessionID, src, format, opts...)

	segments, err := engine.Start(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("app: start capture: %w", err)
	}

	// The dispatch loop only hands segments off; each one is classified in
	// a detached task so a slow upload can neither stall the capture stream
	// nor hold up session teardown.
	done := make(chan struct{})
	go func() {
		var grp errgroup.Group
		conv := &audio.Converter{Target: p.classifierFormat}
		for seg := range segments {
			grp.Go(func() error {
				return p.HandleSegment(ctx, target, conv, seg)
			})
		}
		if closer, ok := src.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				slog.Warn("audio source close failed", "session", sessionID, "err", err)
			}
		}
		close(done)
		if err := grp.Wait(); err != nil {
			slog.Warn("session finished with classification failures",
				"session", sessionID, "err", err)
		}
	}()

	slog.Info("capture session started", "session", sessionID, "kind", kind, "target", target)
	return &captureSession{cancel: cancel, engine: engine, done: done}, nil
}

// HandleSegment classifies one sealed segment: convert, package as WAV,
// stage the artifact on disk, upload, and route the verdict. The artifact is
// removed before returning regardless of the outcome. Safe for concurrent
// use; segments for one session may be in flight simultaneously.
func (p *Pipeline) HandleSegment(ctx context.Context, target string, conv *audio.Converter, seg audio.Segment) error {
	p.metrics.SegmentDuration.Record(ctx, seg.Duration().Seconds())

	pcm := conv.Convert(seg.Data, seg.Format)
	wav, err := audio.EncodeWAV(pcm, p.classifierFormat)
	if err != nil {
		p.metrics.RecordPipelineError(ctx, "capture")
		slog.Error("segment encoding failed", "session", seg.SessionID, "index", seg.Index, "err", err)
		return fmt.Errorf("app: encode segment: %w", err)
	}

	name := fmt.Sprintf("%s-%04d.wav", seg.SessionID, seg.Index)
	path, err := p.stageArtifact(name, wav)
	if err != nil {
		p.metrics.RecordPipelineError(ctx, "capture")
		slog.Error("artifact staging failed", "session", seg.SessionID, "err", err)
		return fmt.Errorf("app: stage artifact: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			slog.Warn("artifact cleanup failed", "path", path, "err", err)
		}
	}()

	var verdict classify.Verdict
	err = p.breaker.Execute(func() error {
		var cerr error
		verdict, cerr = p.classifier.Classify(ctx, wav, name)
		return cerr
	})
	if err != nil {
		slog.Error("classification failed", "session", seg.SessionID, "index", seg.Index, "err", err)
		p.reportResult(orchestrator.Result{Source: target, Err: err})
		return fmt.Errorf("app: classify segment: %w", err)
	}

	var riskSummary string
	if p.enricher != nil && verdict.Decision == classify.DecisionPhishing {
		if risk, ok := p.enricher.Lookup(ctx, target); ok {
			riskSummary = risk.Summary
		}
	}

	p.sink.HandleVerdict(ctx, target, verdict, riskSummary)
	p.reportResult(orchestrator.Result{Source: target, Verdict: verdict})
	return nil
}

// stageArtifact writes the encoded WAV to the artifact directory and returns
// its path.
func (p *Pipeline) stageArtifact(name string, wav []byte) (string, error) {
	dir := p.artifactDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
