package signal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// feedBuffer bounds the delivery channel; the orchestrator's consumer
	// keeps up under normal load, and the host bridge tolerates brief
	// backpressure on its side.
	feedBuffer = 64

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Feed subscribes to the host bridge's signal stream over a WebSocket and
// delivers typed events. The raw JSON is converted exactly once here;
// unparseable events are counted, logged and dropped.
type Feed struct {
	url    string
	events chan Event

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

// NewFeed creates a Feed for the bridge endpoint at url. Call [Feed.Run] to
// start consuming.
func NewFeed(url string) *Feed {
	return &Feed{
		url:    url,
		events: make(chan Event, feedBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the typed event stream. The channel is closed when the feed
// stops for good (context cancelled or Close called).
func (f *Feed) Events() <-chan Event { return f.events }

// Dropped returns the number of malformed events discarded so far.
func (f *Feed) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Run connects to the bridge and pumps events until ctx is cancelled or
// Close is called. Connection failures reconnect with exponential backoff;
// a lost connection never terminates the feed on its own.
func (f *Feed) Run(ctx context.Context) error {
	f.wg.Add(1)
	defer f.wg.Done()
	defer close(f.events)

	backoff := reconnectBase
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		conn, _, err := websocket.Dial(ctx, f.url, nil)
		if err != nil {
			slog.Warn("signal feed: dial failed, retrying", "url", f.url, "backoff", backoff, "err", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			case <-f.done:
				return nil
			}
			backoff = min(backoff*2, reconnectMax)
			continue
		}

		backoff = reconnectBase
		slog.Info("signal feed: connected", "url", f.url)

		err = f.readLoop(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "feed closing")
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("signal feed: connection lost, reconnecting", "err", err)
		}
	}
}

// Close stops the feed. Safe to call more than once.
func (f *Feed) Close() error {
	f.stopOnce.Do(func() {
		close(f.done)
	})
	f.wg.Wait()
	return nil
}

// readLoop pumps one connection until it fails or the feed is stopped.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-f.done:
			return nil
		default:
		}

		_, msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		ev, err := ParseEvent(msg)
		if err != nil {
			f.mu.Lock()
			f.dropped++
			n := f.dropped
			f.mu.Unlock()
			slog.Warn("signal feed: dropping malformed event", "err", err, "dropped_total", n)
			continue
		}

		select {
		case f.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		}
	}
}
