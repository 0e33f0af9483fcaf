package agent

import (
	"context"
	"sync"
	"time"

	"github.com/tabulant/tabulant/pkg/models"
)

// EventSink receives events produced during a turn. Implementations may
// block; the loop tolerates that rather than buffering unboundedly.
type EventSink interface {
	Emit(ctx context.Context, event models.Event) error
}

// statusInterval is the minimum spacing between repeated status events.
const statusInterval = 2500 * time.Millisecond

// Emitter wraps an EventSink with the turn-level delivery rules: status
// coalescing, exactly one done, and nothing after done. It also remembers
// whether the turn produced any visible output, which drives the safety-net
// apology.
type Emitter struct {
	mu   sync.Mutex
	sink EventSink

	done         bool
	visible      bool
	lastStatus   string
	lastStatusAt time.Time
}

// NewEmitter wraps sink.
func NewEmitter(sink EventSink) *Emitter {
	return &Emitter{sink: sink}
}

// ReplaceSink redirects future events to a new sink. Used when the client
// reconnects mid-turn; events emitted during the gap are not replayed.
func (e *Emitter) ReplaceSink(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// Status emits an advisory status event. Identical or near-in-time statuses
// are dropped; status is never worth blocking a turn over, so errors are
// swallowed too.
func (e *Emitter) Status(ctx context.Context, message string) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	if message == e.lastStatus && now.Sub(e.lastStatusAt) < statusInterval {
		e.mu.Unlock()
		return
	}
	e.lastStatus = message
	e.lastStatusAt = now
	sink := e.sink
	e.mu.Unlock()

	_ = sink.Emit(ctx, models.StatusEvent(message))
}

// Emit delivers a visible event (text, table, plot, query_result,
// session_update, error). Returns without sending if done was already
// emitted.
func (e *Emitter) Emit(ctx context.Context, event models.Event) error {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return nil
	}
	switch event.Event {
	case models.EventText, models.EventTable, models.EventPlot:
		e.visible = true
	}
	sink := e.sink
	e.mu.Unlock()

	return sink.Emit(ctx, event)
}

// Done emits the terminal event. Only the first call sends anything; the
// turn is sealed afterwards.
func (e *Emitter) Done(ctx context.Context, data models.DoneData) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.done = true
	sink := e.sink
	e.mu.Unlock()

	_ = sink.Emit(ctx, models.DoneEvent(data))
}

// HasVisibleOutput reports whether a text, table, or plot event was emitted.
func (e *Emitter) HasVisibleOutput() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible
}

// Closed reports whether done has been emitted.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}
