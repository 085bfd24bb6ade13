// Package eventlog implements the per-session append-only event log.
//
// The log is the single source of truth for everything an agent produces.
// Offsets are dense and strictly increasing from 1, events are immutable once
// appended, and both polling reads and push subscriptions resolve against the
// same slice. A subscriber holds only a cursor into the log; a slow consumer
// re-reads history instead of buffering it, so appends never block on
// delivery.
package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

// Log is one session's ordered event history.
type Log struct {
	mu     sync.Mutex
	agent  string
	events []schema.Event
	wake   chan struct{}
	closed bool
}

// New creates an empty log. The agent id is stamped onto every event.
func New(agent string) *Log {
	return &Log{
		agent: agent,
		wake:  make(chan struct{}),
	}
}

// Append assigns the next offset and stores the event. It is the single
// serialization point for a session's output; callers may invoke it from any
// goroutine. Appending to a closed log or appending an invalid payload
// returns an error and stores nothing.
func (l *Log) Append(data schema.EventData) (schema.Event, error) {
	if !data.Valid() {
		return schema.Event{}, schema.Internalf("event payload must have exactly one variant")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return schema.Event{}, schema.Conflictf("event log closed")
	}

	ev := schema.Event{
		ID:        uint64(len(l.events)) + 1,
		Timestamp: time.Now().UTC(),
		Agent:     l.agent,
		Data:      data,
	}
	l.events = append(l.events, ev)
	l.broadcastLocked()
	return ev, nil
}

// broadcastLocked wakes all parked subscribers. Callers hold l.mu.
func (l *Log) broadcastLocked() {
	close(l.wake)
	l.wake = make(chan struct{})
}

// Len returns the number of events appended so far.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.events))
}

// Closed reports whether the log has been closed.
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close marks the log complete. Subscribers drain whatever they have not yet
// seen and then terminate. Further appends fail. Close is idempotent.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.broadcastLocked()
}

// Read returns up to limit events with id > offset, in id order, and the
// offset to resume from (the id of the last event returned, or the request
// offset when nothing new exists). limit <= 0 means no limit.
func (l *Log) Read(offset uint64, limit int) ([]schema.Event, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if offset >= uint64(len(l.events)) {
		return nil, offset
	}
	tail := l.events[offset:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]schema.Event, len(tail))
	copy(out, tail)
	return out, out[len(out)-1].ID
}

// Subscribe returns a channel that yields every event with id > offset, in
// order, then keeps yielding future events as they are appended. The channel
// closes when ctx is cancelled or when the log is closed and fully drained.
// Each subscriber is independent: the log broadcasts, it is not a queue.
func (l *Log) Subscribe(ctx context.Context, offset uint64) <-chan schema.Event {
	out := make(chan schema.Event)
	go l.stream(ctx, offset, out)
	return out
}

func (l *Log) stream(ctx context.Context, cursor uint64, out chan<- schema.Event) {
	defer close(out)
	for {
		batch, next := l.Read(cursor, 0)
		for _, ev := range batch {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		cursor = next

		l.mu.Lock()
		if uint64(len(l.events)) > cursor {
			// Appended while we were delivering; loop again.
			l.mu.Unlock()
			continue
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		wake := l.wake
		l.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return
		}
	}
}
