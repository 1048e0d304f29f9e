// Package capture turns a live audio input into a continuous sequence of
// finite segments. The engine accumulates PCM from a [Source] and seals the
// buffer into a segment on a fixed rotation interval or on stop, never losing
// bytes across a rotation boundary.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/seclyn/callwarden/pkg/audio"
)

// ErrStopped is returned by [Engine.Start] when the engine was already stopped.
var ErrStopped = errors.New("capture: engine stopped")

// ErrTransient marks a read failure that does not invalidate the source.
// Sources wrap it (or return it directly) for faults like a momentarily busy
// device or a rejected parameter; the engine logs, backs off briefly, and
// retries the read. Any other error ends the stream after flushing the
// partial buffer.
var ErrTransient = errors.New("capture: transient read error")

// Source is a live audio input. Read fills buf with raw PCM bytes in the
// engine's configured format and returns the number of bytes written.
// Read should block until data is available or ctx is done; it returns
// [io.EOF] when the input is exhausted.
type Source interface {
	Read(ctx context.Context, buf []byte) (int, error)
}

// Engine rotates audio from one source into sealed segments.
// An Engine serves a single session; create a new one per session.
type Engine struct {
	source    Source
	format    audio.Format
	sessionID string

	segmentLen   time.Duration
	retryBackoff time.Duration
	readChunk    int

	out     chan audio.Segment
	done    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// Option configures an [Engine].
type Option func(*Engine)

// WithSegmentDuration sets the rotation interval. The default is 20 seconds.
func WithSegmentDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.segmentLen = d
		}
	}
}

// WithRetryBackoff sets the pause after a transient read error.
// The default is 50 milliseconds.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryBackoff = d
		}
	}
}

// WithReadChunk sets the per-read buffer size in bytes.
// The default is 100ms worth of audio in the engine's format.
func WithReadChunk(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.readChunk = n
		}
	}
}

// NewEngine creates a capture engine for one session.
func NewEngine(sessionID string, source Source, format audio.Format, opts ...Option) *Engine {
	e := &Engine{
		source:       source,
		format:       format,
		sessionID:    sessionID,
		segmentLen:   20 * time.Second,
		retryBackoff: 50 * time.Millisecond,
		out:          make(chan audio.Segment, 4),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.readChunk == 0 {
		e.readChunk = format.BytesPerSecond() / 10
		if e.readChunk == 0 {
			e.readChunk = 3200
		}
	}
	return e
}

// Start begins reading from the source in a background goroutine and returns
// the segment stream. The channel is closed after the final (possibly
// partial) segment has been delivered. Start may be called once.
func (e *Engine) Start(ctx context.Context) (<-chan audio.Segment, error) {
	select {
	case <-e.done:
		return nil, ErrStopped
	default:
	}

	started := false
	e.startOnce.Do(func() {
		started = true
		go e.run(ctx)
	})
	if !started {
		return nil, fmt.Errorf("capture: engine already started")
	}
	return e.out, nil
}

// Stop seals and flushes any partial buffer, then closes the segment stream.
// It blocks until the final segment has been handed off. Stop is idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
	})
	<-e.stopped
}

// run is the single reader goroutine. It owns the accumulation buffer
// exclusively until a segment is sealed and handed off.
func (e *Engine) run(ctx context.Context) {
	defer close(e.stopped)
	defer close(e.out)

	var (
		acc      []byte
		index    int
		segStart = time.Now()
		readBuf  = make([]byte, e.readChunk)
	)

	seal := func(end time.Time) {
		if len(acc) == 0 {
			segStart = end
			return
		}
		seg := audio.Segment{
			Data:      acc,
			Format:    e.format,
			SessionID: e.sessionID,
			Index:     index,
			Start:     segStart,
			End:       end,
		}
		acc = nil
		index++
		segStart = end
		select {
		case e.out <- seg:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			seal(time.Now())
			return
		case <-e.done:
			seal(time.Now())
			return
		default:
		}

		n, err := e.source.Read(ctx, readBuf)
		if n > 0 {
			acc = append(acc, readBuf[:n]...)
		}

		switch {
		case err == nil:
		case errors.Is(err, ErrTransient):
			slog.Warn("transient capture read error; retrying",
				"session", e.sessionID, "err", err)
			select {
			case <-time.After(e.retryBackoff):
			case <-ctx.Done():
			case <-e.done:
			}
		case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			seal(time.Now())
			return
		default:
			slog.Error("capture source failed; ending segment stream",
				"session", e.sessionID, "err", err)
			seal(time.Now())
			return
		}

		if now := time.Now(); now.Sub(segStart) >= e.segmentLen {
			seal(now)
		}
	}
}
