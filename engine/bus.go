package engine

import (
	"context"
	"sync/atomic"

	"github.com/bobg/multichan"

	"github.com/nodecell/datacell/entityindex"
)

// Bus is the engine's event fan-out: every ChainBlockNew, NewPendingOperation,
// and friends (spec §6's operation-type constants feed these, spec §9
// "shared derived index") is written once and delivered to every
// subscriber, mirroring how the teacher's custodian.w (*multichan.W)
// broadcasts committed blocks to watchExports.
//
// Unlike the teacher's usage, a subscriber here may legitimately lag the
// writer — entity indexing can take longer than block production — so Bus
// bounds how far any one subscription may fall behind before forcing it
// into a StreamDiscontinuity rather than growing an unbounded backlog
// (spec §9 "bounded event channel").
type Bus struct {
	w        *multichan.W
	capacity int64
	written  int64
}

// NewBus returns a Bus that tolerates capacity unread events per
// subscription before forcing a discontinuity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{w: multichan.New(entityindex.Event{}), capacity: int64(capacity)}
}

// Emit broadcasts ev to every current and future subscriber.
func (b *Bus) Emit(ev entityindex.Event) {
	atomic.AddInt64(&b.written, 1)
	b.w.Write(ev)
}

// Close signals no further events will be written.
func (b *Bus) Close() { b.w.Close() }

// Subscribe returns a subscription that sees every event emitted from this
// point forward.
func (b *Bus) Subscribe() *Subscription {
	return &Subscription{bus: b, r: b.w.Reader(), consumed: atomic.LoadInt64(&b.written)}
}

// Subscription is one reader's view of a Bus.
type Subscription struct {
	bus      *Bus
	r        *multichan.R
	consumed int64
}

// Next returns the next event, blocking until one is available or ctx is
// canceled (then ok is false). If this subscription has fallen capacity
// events behind the bus, it skips straight to a synthetic
// StreamDiscontinuity and re-subscribes from the current point, discarding
// the backlog rather than ever reading it.
func (s *Subscription) Next(ctx context.Context) (entityindex.Event, bool) {
	written := atomic.LoadInt64(&s.bus.written)
	if written-s.consumed >= s.bus.capacity {
		s.r = s.bus.w.Reader()
		s.consumed = written
		return entityindex.Event{Kind: entityindex.EventStreamDiscontinuity}, true
	}

	val, ok := s.r.Read(ctx)
	if !ok {
		return entityindex.Event{}, false
	}
	s.consumed++
	return val.(entityindex.Event), true
}
