package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/seclyn/callwarden/internal/observe"
	"github.com/seclyn/callwarden/internal/resilience"
	"github.com/seclyn/callwarden/pkg/audio"
)

// Handler receives the canonical trailing-window segment extracted from one
// snapshot cycle. Implementations run the classification pipeline.
type Handler func(ctx context.Context, seg audio.Segment) error

// Collector polls the privileged directory and turns the most recent live
// recorder file into classification segments. One goroutine runs the poll
// loop; all state below mu-free fields is owned by that goroutine.
type Collector struct {
	bridge  Bridge
	handler Handler
	metrics *observe.Metrics

	externalDir string
	stagingDir  string
	interval    time.Duration
	recency     time.Duration
	trailing    time.Duration
	target      audio.Format
	converter   *audio.Converter

	// breaker collapses per-cycle bridge noise: after three
	// consecutive bridge failures the collector reports a single degraded
	// indicator and stops logging per cycle until the bridge recovers.
	breaker  *resilience.CircuitBreaker
	degraded atomic.Bool

	// last selected file, for the finished-file skip rule
	lastPath string
	lastSize int64

	cycles int64
	clock  func() time.Time
}

// Option configures a [Collector].
type Option func(*Collector)

// WithPollInterval sets the poll interval. The default is 10 seconds.
func WithPollInterval(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithRecencyWindow sets the maximum age for a recorder file to count as
// live. The default is 60 seconds.
func WithRecencyWindow(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.recency = d
		}
	}
}

// WithTrailingWindow sets the trailing audio window extracted from each
// snapshot. The default is 20 seconds.
func WithTrailingWindow(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.trailing = d
		}
	}
}

// WithClock overrides the time source used for recency checks. Test hook.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.clock = now
		}
	}
}

// NewCollector creates a collector. target is the canonical analysis format
// segments are converted into before being handed to handler.
func NewCollector(bridge Bridge, handler Handler, externalDir, stagingDir string, target audio.Format, opts ...Option) *Collector {
	c := &Collector{
		bridge:      bridge,
		handler:     handler,
		metrics:     observe.DefaultMetrics(),
		externalDir: externalDir,
		stagingDir:  stagingDir,
		interval:    10 * time.Second,
		recency:     60 * time.Second,
		trailing:    20 * time.Second,
		target:      target,
		converter:   &audio.Converter{Target: target},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "snapshot-bridge",
			MaxFailures:  3,
			ResetTimeout: time.Minute,
		}),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stagingDir == "" {
		c.stagingDir = os.TempDir()
	}
	return c
}

// Run polls until ctx is cancelled. It always returns ctx.Err().
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("snapshot collector started",
		"external_dir", c.externalDir,
		"interval", c.interval,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Poll(ctx)
		}
	}
}

// Degraded reports whether the privileged bridge is currently considered
// unavailable.
func (c *Collector) Degraded() bool {
	return c.degraded.Load()
}

// Poll executes one cycle immediately, behind the bridge breaker, and
// maintains the degraded indicator. Run calls it on every tick.
func (c *Collector) Poll(ctx context.Context) {
	begin := time.Now()
	err := c.breaker.Execute(func() error {
		return c.cycle(ctx)
	})
	c.metrics.SnapshotCycleDuration.Record(ctx, time.Since(begin).Seconds())
	c.cycles++

	switch {
	case err == nil:
		if c.degraded.Load() {
			c.degraded.Store(false)
			c.metrics.BridgeDegraded.Add(ctx, -1)
			slog.Info("privileged bridge recovered; snapshot collection resumed")
		}
	case errors.Is(err, resilience.ErrCircuitOpen):
		if !c.degraded.Load() {
			c.degraded.Store(true)
			c.metrics.BridgeDegraded.Add(ctx, 1)
			slog.Error("privileged bridge is unavailable; snapshot collection degraded")
		}
		// Stay quiet until the breaker lets a probe through.
	default:
		c.metrics.RecordPipelineError(ctx, "bridge")
		if !c.degraded.Load() {
			slog.Warn("snapshot cycle failed", "err", err)
		}
	}
}

// cycle performs one list-select-copy-decode-classify pass. Errors abort the
// current cycle only; a nil return with nothing to do is the common case.
func (c *Collector) cycle(ctx context.Context) error {
	infos, err := c.bridge.List(ctx, c.externalDir)
	if err != nil {
		return err
	}

	pick, ok := c.selectCandidate(infos)
	if !ok {
		return nil
	}

	// Same file as last cycle with an unchanged size means the recorder has
	// finished writing it; treating it as live again would resubmit stale
	// audio every cycle.
	if pick.Path == c.lastPath && pick.Size == c.lastSize {
		return nil
	}

	staged := filepath.Join(c.stagingDir, filepath.Base(pick.Path))
	if err := c.bridge.Copy(ctx, pick.Path, staged); err != nil {
		return err
	}
	defer os.Remove(staged)
	if err := c.bridge.Chmod(ctx, staged, 0o644); err != nil {
		return err
	}

	data, err := os.ReadFile(staged)
	if err != nil {
		return fmt.Errorf("snapshot: read staged copy %q: %w", staged, err)
	}

	// Recorded only once the snapshot is safely staged. A failed copy must
	// leave the observation unset, or a file that stops growing after the
	// failure would be treated as finished and never retried.
	c.lastPath = pick.Path
	c.lastSize = pick.Size

	seg, err := c.extract(data, pick.ModTime)
	if err != nil {
		// Decode failures are not bridge failures: report them but let the
		// breaker see a healthy cycle.
		c.metrics.RecordPipelineError(ctx, "decode")
		slog.Warn("snapshot decode failed; discarding", "path", pick.Path, "err", err)
		return nil
	}

	if err := c.handler(ctx, seg); err != nil {
		slog.Warn("snapshot segment processing failed", "path", pick.Path, "err", err)
	}
	return nil
}

// selectCandidate picks the most-recently-modified file within the recency
// window.
func (c *Collector) selectCandidate(infos []FileInfo) (FileInfo, bool) {
	cutoff := c.clock().Add(-c.recency)
	var pick FileInfo
	found := false
	for _, info := range infos {
		if info.ModTime.Before(cutoff) {
			continue
		}
		if !found || info.ModTime.After(pick.ModTime) {
			pick = info
			found = true
		}
	}
	return pick, found
}

// extract decodes a staged WAV snapshot, trims it to the trailing window, and
// converts it to the canonical analysis format.
func (c *Collector) extract(data []byte, modTime time.Time) (audio.Segment, error) {
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Segment{}, err
	}

	pcm = audio.TrimTrailing(pcm, format, c.trailing)
	pcm = c.converter.Convert(pcm, format)

	dur := time.Duration(len(pcm)) * time.Second / time.Duration(c.target.BytesPerSecond())
	return audio.Segment{
		Data:      pcm,
		Format:    c.target,
		SessionID: "snapshot",
		Index:     int(c.cycles),
		Start:     modTime.Add(-dur),
		End:       modTime,
	}, nil
}
