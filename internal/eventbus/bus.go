package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrDuplicateRegistration is returned when a request id is already registered.
	ErrDuplicateRegistration = errors.New("request id already registered")
	// ErrWaitTimeout is returned when no matching event arrives within the wait window.
	ErrWaitTimeout = errors.New("timed out waiting for token event")
)

// TokenEvent is a single update from a node's generation pipeline.
type TokenEvent struct {
	RequestID  string `json:"requestId"`
	Tokens     []int  `json:"tokens"`
	IsFinished bool   `json:"isFinished"`
}

// Predicate decides whether an event satisfies a Wait call.
type Predicate func(TokenEvent) bool

// Bus routes token events to per-request registrations. It is safe for
// concurrent Publish from the generation pipeline and Register/Wait/Deregister
// from benchmark runners; registrations are isolated by request id.
type Bus struct {
	mutex sync.Mutex
	regs  map[string]*Registration
	taps  map[int]chan TokenEvent
	nextT int

	// after is swapped out in tests for deterministic timeouts.
	after func(time.Duration) <-chan time.Time
}

// Registration is a handle for receiving events published under one request id.
// The owner must deregister it on every exit path.
type Registration struct {
	id     string
	events chan TokenEvent
	after  func(time.Duration) <-chan time.Time
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		regs:  make(map[string]*Registration),
		taps:  make(map[int]chan TokenEvent),
		after: time.After,
	}
}

// Register creates a registration for id. It fails if id is already active;
// the id becomes available again after Deregister.
func (b *Bus) Register(id string) (*Registration, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, exists := b.regs[id]; exists {
		return nil, fmt.Errorf("register %q: %w", id, ErrDuplicateRegistration)
	}

	reg := &Registration{
		id: id,
		// Capacity one: an unconsumed event is replaced by the next one, so a
		// Wait only ever evaluates the most recently delivered event.
		events: make(chan TokenEvent, 1),
		after:  b.after,
	}
	b.regs[id] = reg
	return reg, nil
}

// Deregister removes the registration for id. Idempotent; events published
// for an unregistered id are dropped.
func (b *Bus) Deregister(id string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.regs, id)
}

// Publish delivers an event to the registration matching its request id, if
// any, and mirrors it to all observers. Never blocks.
func (b *Bus) Publish(event TokenEvent) {
	b.mutex.Lock()
	reg := b.regs[event.RequestID]
	for _, tap := range b.taps {
		select {
		case tap <- event:
		default:
		}
	}
	b.mutex.Unlock()

	if reg == nil {
		return
	}
	reg.deliver(event)
}

// Observe returns a channel mirroring every published event, regardless of
// request id, plus a cancel function that closes the channel and must be
// called when done. Events are dropped rather than ever blocking Publish.
func (b *Bus) Observe(buffer int) (<-chan TokenEvent, func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	tap := make(chan TokenEvent, buffer)
	key := b.nextT
	b.nextT++
	b.taps[key] = tap

	cancel := func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		if _, ok := b.taps[key]; !ok {
			return
		}
		delete(b.taps, key)
		// Publish sends to taps under the same mutex, so closing here
		// cannot race a send.
		close(tap)
	}
	return tap, cancel
}

// deliver places the event in the registration's slot, displacing a stale
// unconsumed event if needed. Consumed events keep their publish order.
func (r *Registration) deliver(event TokenEvent) {
	for {
		select {
		case r.events <- event:
			return
		default:
			select {
			case <-r.events:
			default:
			}
		}
	}
}

// Wait suspends until an event satisfying predicate arrives, the timeout
// elapses, or ctx is cancelled. Non-matching events are discarded.
func (r *Registration) Wait(ctx context.Context, predicate Predicate, timeout time.Duration) (TokenEvent, error) {
	deadline := r.after(timeout)
	for {
		select {
		case event := <-r.events:
			if predicate(event) {
				return event, nil
			}
		case <-deadline:
			return TokenEvent{}, fmt.Errorf("wait on %q after %s: %w", r.id, timeout, ErrWaitTimeout)
		case <-ctx.Done():
			return TokenEvent{}, ctx.Err()
		}
	}
}
