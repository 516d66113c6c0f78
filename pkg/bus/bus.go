// Package bus provides the bounded, broadcast hand-off channel between the
// network context that decodes MIDI events and the contexts that consume
// them: the audio renderer and the note display.
//
// The bus is a single-producer, multi-subscriber ring with overwrite-oldest
// semantics. The producer never blocks; a subscriber that falls behind loses
// the oldest retained events and its dropped counter grows. Stale note events
// are worse to honor late than to drop, so overflow is not an error.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zurustar/son-net/pkg/midi"
)

// DefaultCapacity is the default number of retained events.
const DefaultCapacity = 256

// Bus is the broadcast ring. Events are retained in a fixed window of the
// most recent Capacity publications; each subscriber reads the window at its
// own pace.
type Bus struct {
	mu   sync.Mutex
	ring []midi.Event
	seq  uint64 // sequence number of the next publication
	subs []*Subscriber
}

// New creates a bus retaining up to capacity events. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ring: make([]midi.Event, capacity)}
}

// Capacity returns the size of the retained-event window.
func (b *Bus) Capacity() int {
	return len(b.ring)
}

// Publish appends an event to the ring, evicting the oldest retained event
// once the window is full. It never blocks; subscribers waiting in Next are
// woken.
func (b *Bus) Publish(ev midi.Event) {
	b.mu.Lock()
	b.ring[b.seq%uint64(len(b.ring))] = ev
	b.seq++
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// Published returns the total number of events published so far.
func (b *Bus) Published() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribe registers a new subscriber. The subscriber sees every event
// published after this call (and none published before it), minus whatever
// the window evicts before the subscriber catches up.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscriber{
		bus:    b,
		next:   b.seq,
		notify: make(chan struct{}, 1),
	}
	b.subs = append(b.subs, s)
	return s
}

// Subscriber is one independent consumer of the bus. Each subscriber receives
// its own delivery of every retained event; subscribers do not compete.
// A Subscriber's Poll/Next must be called from a single goroutine.
type Subscriber struct {
	bus     *Bus
	next    uint64 // sequence number of the next event to read
	dropped atomic.Uint64
	notify  chan struct{}
}

// Poll copies at most len(dst) pending events into dst and returns how many
// were copied. It never blocks; the audio render context uses it for its
// bounded per-buffer drain. Events evicted before this subscriber reached
// them are counted as dropped.
func (s *Subscriber) Poll(dst []midi.Event) int {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := uint64(len(b.ring))
	if b.seq > capacity && s.next < b.seq-capacity {
		s.dropped.Add(b.seq - capacity - s.next)
		s.next = b.seq - capacity
	}

	n := 0
	for n < len(dst) && s.next < b.seq {
		dst[n] = b.ring[s.next%capacity]
		s.next++
		n++
	}
	return n
}

// Next blocks until an event is available, the context is cancelled, or the
// bus publishes again. Intended for the display context; the audio context
// uses Poll.
func (s *Subscriber) Next(ctx context.Context) (midi.Event, bool) {
	var one [1]midi.Event
	for {
		if s.Poll(one[:]) == 1 {
			return one[0], true
		}
		select {
		case <-ctx.Done():
			return midi.Event{}, false
		case <-s.notify:
		}
	}
}

// Dropped returns the number of events this subscriber lost to window
// eviction. Exposed for observability; overflow is not an error.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Pending returns how many events are currently readable by this subscriber.
func (s *Subscriber) Pending() int {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	next := s.next
	capacity := uint64(len(b.ring))
	if b.seq > capacity && next < b.seq-capacity {
		next = b.seq - capacity
	}
	return int(b.seq - next)
}
