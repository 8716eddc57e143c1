package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oremus-labs/kanuni/internal/clock"
	"github.com/oremus-labs/kanuni/internal/logutil"
)

const (
	reconnectRetryDelay = 5 * time.Second
	releaseTimeout      = 2 * time.Second
	errorBuffer         = 8
)

// Tracker consumes a Connection and keeps an ordered event log per entity.
// The processing loop is the only writer of the log.
type Tracker struct {
	conn  *Connection
	clock clock.Clock

	mu      sync.RWMutex
	log     map[uuid.UUID][]Event
	changed chan struct{}

	errs      chan error
	startOnce sync.Once
	done      chan struct{}

	// releaseTimeout bounds each unsubscribe sent after a terminal event.
	releaseTimeout time.Duration
}

// NewTracker wraps conn. A nil clock uses real time.
func NewTracker(conn *Connection, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{
		conn:    conn,
		clock:   clk,
		log:     make(map[uuid.UUID][]Event),
		changed: make(chan struct{}),
		errs:    make(chan error, errorBuffer),
		done:    make(chan struct{}),

		releaseTimeout: releaseTimeout,
	}
}

// Connection returns the underlying stream.
func (t *Tracker) Connection() *Connection {
	return t.conn
}

func (t *Tracker) TrackUpload(ctx context.Context, documentID uuid.UUID) error {
	return t.conn.Subscribe(ctx, ChannelUpload, documentID)
}

func (t *Tracker) TrackAnalysis(ctx context.Context, analysisID uuid.UUID) error {
	return t.conn.Subscribe(ctx, ChannelAnalysis, analysisID)
}

func (t *Tracker) TrackBatch(ctx context.Context, batchID uuid.UUID) error {
	return t.conn.Subscribe(ctx, ChannelBatch, batchID)
}

func (t *Tracker) TrackUser(ctx context.Context, userID uuid.UUID) error {
	return t.conn.Subscribe(ctx, ChannelUser, userID)
}

// Events returns a copy of every event recorded for id, in arrival order.
func (t *Tracker) Events(id uuid.UUID) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Event, len(t.log[id]))
	copy(out, t.log[id])
	return out
}

// LatestEvent returns the most recent event for id.
func (t *Tracker) LatestEvent(id uuid.UUID) (Event, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	evs := t.log[id]
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}

// Changed returns a channel that is closed on the next append.
func (t *Tracker) Changed() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changed
}

// Errors reports reconnect failures. Older errors are dropped when nobody reads.
func (t *Tracker) Errors() <-chan error {
	return t.errs
}

// Done is closed when the processing loop exits.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Await blocks until a terminal event is recorded for id. Events are only
// recorded by the loop started with StartProcessing; without it Await returns
// when ctx ends.
func (t *Tracker) Await(ctx context.Context, id uuid.UUID) (Event, error) {
	for {
		changed := t.Changed()
		if ev, ok := t.LatestEvent(id); ok && ev.IsTerminal() {
			return ev, nil
		}
		select {
		case <-changed:
		case <-t.done:
			if ev, ok := t.LatestEvent(id); ok && ev.IsTerminal() {
				return ev, nil
			}
			return Event{}, ErrClosed
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// StartProcessing runs the event loop in the background until Disconnect or
// ctx cancellation. Later calls are no-ops.
func (t *Tracker) StartProcessing(ctx context.Context) {
	t.startOnce.Do(func() {
		go t.process(ctx)
	})
}

// Disconnect closes the stream, which stops the processing loop.
func (t *Tracker) Disconnect() {
	t.conn.Disconnect()
}

func (t *Tracker) process(ctx context.Context) {
	defer close(t.done)
	for {
		ev, err := t.conn.NextEvent(ctx)
		if err == nil {
			t.record(ev)
			if ev.IsTerminal() {
				t.release(ctx, ev.EntityID())
			}
			continue
		}
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return
		}
		if t.conn.IsConnected() {
			continue
		}
		rerr := t.conn.HandleReconnect(ctx)
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, ErrClosed) || ctx.Err() != nil {
			return
		}
		t.report(rerr)
		select {
		case <-t.clock.After(reconnectRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) record(ev Event) {
	id := ev.EntityID()
	t.mu.Lock()
	t.log[id] = append(t.log[id], ev)
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
}

// release runs on the processing loop, which also drains the event queue, so
// each unsubscribe waits at most releaseTimeout for room in the command queue.
func (t *Tracker) release(ctx context.Context, id uuid.UUID) {
	for _, sub := range t.conn.Registry().ChannelsFor(id) {
		rctx, cancel := context.WithTimeout(ctx, t.releaseTimeout)
		err := t.conn.Unsubscribe(rctx, sub.Channel, sub.ID)
		cancel()
		if err != nil {
			logutil.Debug("unsubscribe after completion failed", map[string]interface{}{
				"subscription": sub.String(),
				"error":        err.Error(),
			})
		}
	}
}

func (t *Tracker) report(err error) {
	logutil.Error("progress stream reconnect failed", err, nil)
	select {
	case t.errs <- err:
	default:
	}
}
