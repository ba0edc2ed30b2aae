package events

import (
	"sync"
	"time"

	"github.com/mediaget/media-downloader/internal/model"
)

// Kind discriminates event payloads
type Kind int

const (
	// KindStatus is a job status transition. Never dropped.
	KindStatus Kind = iota

	// KindProgress is a throttled byte-count update. May be dropped for slow
	// subscribers; the latest one is always retrievable via LatestProgress.
	KindProgress
)

// Event is a single notification about a job
type Event struct {
	Kind   Kind
	JobID  string
	Status model.Status
	Bytes  int64
	Total  int64
	Speed  float64 // bytes per second, 0 if unknown
	Reason string  // human-readable error for Failed, empty otherwise
	At     time.Time
}

// Filter selects events a subscriber cares about. A nil filter matches all.
type Filter func(Event) bool

// ForJob returns a filter matching a single job's events
func ForJob(jobID string) Filter {
	return func(e Event) bool { return e.JobID == jobID }
}

// DefaultBuffer is the progress queue capacity for a subscriber
const DefaultBuffer = 64

// Bus fans events out to subscribers
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	latest map[string]Event
	nextID int
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[int]*Subscription),
		latest: make(map[string]Event),
	}
}

// Subscribe registers an observer. buffer bounds the progress queue; values
// below 1 use DefaultBuffer. The caller must drain Events() and call Close
// when done.
func (b *Bus) Subscribe(buffer int, filter Filter) *Subscription {
	if buffer < 1 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{
		bus:         b,
		id:          b.nextID,
		filter:      filter,
		maxProgress: buffer,
		out:         make(chan Event),
		done:        make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	b.nextID++
	b.subs[s.id] = s

	go s.pump()
	return s
}

// Publish delivers an event to all matching subscribers without blocking
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	if e.Kind == KindProgress {
		b.latest[e.JobID] = e
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.filter == nil || s.filter(e) {
			s.enqueue(e)
		}
	}
}

// LatestProgress returns the most recent progress event for a job
func (b *Bus) LatestProgress(jobID string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.latest[jobID]
	return e, ok
}

// Forget drops the retained progress snapshot for a removed job
func (b *Bus) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, jobID)
}

// Subscription is one observer's view of the bus
type Subscription struct {
	bus    *Bus
	id     int
	filter Filter

	mu          sync.Mutex
	cond        *sync.Cond
	statusQ     []Event
	progQ       []Event
	maxProgress int
	closed      bool

	out  chan Event
	done chan struct{}
}

// Events returns the channel delivering this subscriber's events
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close unsubscribes. The events channel is closed once drained.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// enqueue queues an event for delivery. Status events are never dropped;
// progress events evict the oldest queued progress event when the queue is
// full.
func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if e.Kind == KindStatus {
		s.statusQ = append(s.statusQ, e)
	} else {
		if len(s.progQ) >= s.maxProgress {
			s.progQ = s.progQ[1:]
		}
		s.progQ = append(s.progQ, e)
	}
	s.cond.Signal()
}

// pump moves queued events to the out channel, preferring status transitions
func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		for len(s.statusQ) == 0 && len(s.progQ) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.statusQ) == 0 && len(s.progQ) == 0 {
			s.mu.Unlock()
			close(s.out)
			return
		}

		var e Event
		if len(s.statusQ) > 0 {
			e = s.statusQ[0]
			s.statusQ = s.statusQ[1:]
		} else {
			e = s.progQ[0]
			s.progQ = s.progQ[1:]
		}
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			// Drain remaining queued events and stop
			s.mu.Lock()
			s.statusQ, s.progQ = nil, nil
			s.mu.Unlock()
			close(s.out)
			return
		}
	}
}
