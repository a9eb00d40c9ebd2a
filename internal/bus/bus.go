// Package bus delivers a run's stream events to any number of live
// subscribers without ever blocking the publisher.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/xhe623/planrun/internal/domain"
)

// Subscriber receives events for one run. Its channel is closed when the
// run releases the bus (pause or terminal) or on Unsubscribe.
type Subscriber struct {
	id    string
	runID string
	ch    chan domain.StreamEvent

	mu     sync.Mutex
	closed bool
}

// Events returns the receive side of the subscription. A subscriber only
// sees events published after it attached; history lives in the
// checkpoint trace log.
func (s *Subscriber) Events() <-chan domain.StreamEvent {
	return s.ch
}

// offer enqueues an event without blocking. When the buffer is full, the
// oldest undelivered event is dropped in favor of the new one.
func (s *Subscriber) offer(ev domain.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Bus fans out per-run events to subscribers over bounded buffers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscriber // runID -> subID -> sub
	buffer int
}

// New creates a bus with the given per-subscriber buffer size.
func New(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		subs:   make(map[string]map[string]*Subscriber),
		buffer: buffer,
	}
}

// Subscribe attaches a new subscriber to a run's event stream.
func (b *Bus) Subscribe(runID string) *Subscriber {
	sub := &Subscriber{
		id:    uuid.New().String(),
		runID: runID,
		ch:    make(chan domain.StreamEvent, b.buffer),
	}

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[string]*Subscriber)
	}
	b.subs[runID][sub.id] = sub
	b.mu.Unlock()

	return sub
}

// Unsubscribe detaches a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if m, ok := b.subs[sub.runID]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(b.subs, sub.runID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Publish delivers an event to every current subscriber of the run, in
// publish order, never blocking the caller.
func (b *Bus) Publish(runID string, ev domain.StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[runID] {
		sub.offer(ev)
	}
}

// CloseRun detaches and closes every subscriber of the run.
func (b *Bus) CloseRun(runID string) {
	b.mu.Lock()
	subs := b.subs[runID]
	delete(b.subs, runID)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// SubscriberCount reports how many subscribers a run currently has.
func (b *Bus) SubscriberCount(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[runID])
}
