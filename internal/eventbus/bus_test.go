package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterDuplicateFails(t *testing.T) {
	bus := NewBus()

	if _, err := bus.Register("req-1"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	_, err := bus.Register("req-1")
	if !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("expected ErrDuplicateRegistration, got: %v", err)
	}
}

func TestRegisterAfterDeregisterSucceeds(t *testing.T) {
	bus := NewBus()

	if _, err := bus.Register("req-1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	bus.Deregister("req-1")

	if _, err := bus.Register("req-1"); err != nil {
		t.Fatalf("register after deregister failed: %v", err)
	}
}

func TestDeregisterIsIdempotent(t *testing.T) {
	bus := NewBus()

	bus.Deregister("never-registered")

	if _, err := bus.Register("req-1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	bus.Deregister("req-1")
	bus.Deregister("req-1")
}

func TestWaitReturnsTerminalEvent(t *testing.T) {
	bus := NewBus()
	reg, err := bus.Register("rid")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	done := make(chan struct{})
	var got TokenEvent
	var waitErr error
	go func() {
		defer close(done)
		got, waitErr = reg.Wait(context.Background(), func(ev TokenEvent) bool {
			return ev.IsFinished
		}, 5*time.Second)
	}()

	bus.Publish(TokenEvent{RequestID: "rid", Tokens: []int{1, 2}})
	bus.Publish(TokenEvent{RequestID: "rid", Tokens: []int{1, 2, 3}, IsFinished: true})

	<-done
	if waitErr != nil {
		t.Fatalf("wait failed: %v", waitErr)
	}
	if !got.IsFinished {
		t.Fatalf("expected terminal event, got %+v", got)
	}
	if len(got.Tokens) != 3 || got.Tokens[2] != 3 {
		t.Fatalf("expected tokens [1 2 3], got %v", got.Tokens)
	}
}

func TestWaitTimeoutWithFakeClock(t *testing.T) {
	bus := NewBus()
	clock := make(chan time.Time, 1)
	bus.after = func(time.Duration) <-chan time.Time { return clock }

	reg, err := bus.Register("rid")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Advance the clock past the window with zero events published.
	clock <- time.Now()

	_, waitErr := reg.Wait(context.Background(), func(TokenEvent) bool { return true }, 300*time.Second)
	if !errors.Is(waitErr, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got: %v", waitErr)
	}
}

func TestUnconsumedEventsAreReplacedNotQueued(t *testing.T) {
	bus := NewBus()
	reg, err := bus.Register("rid")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// No waiter: the delivery slot keeps only the most recent event.
	bus.Publish(TokenEvent{RequestID: "rid", Tokens: []int{1}})
	bus.Publish(TokenEvent{RequestID: "rid", Tokens: []int{1, 2}})

	if n := len(reg.events); n != 1 {
		t.Fatalf("expected 1 buffered event, got %d", n)
	}
	buffered := <-reg.events
	if len(buffered.Tokens) != 2 {
		t.Fatalf("expected the later event to displace the earlier one, got tokens %v", buffered.Tokens)
	}
}

func TestWaitDiscardsNonMatchingEvents(t *testing.T) {
	bus := NewBus()
	reg, err := bus.Register("rid")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	seen := make(chan TokenEvent, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Wait(context.Background(), func(ev TokenEvent) bool {
			seen <- ev
			return ev.IsFinished
		}, 5*time.Second)
	}()

	// Publish one at a time, waiting for the predicate to observe each, so
	// the slot never overwrites and order is observable.
	bus.Publish(TokenEvent{RequestID: "rid", Tokens: []int{1}})
	first := <-seen
	bus.Publish(TokenEvent{RequestID: "rid", Tokens: []int{1, 2}})
	second := <-seen
	bus.Publish(TokenEvent{RequestID: "rid", Tokens: []int{1, 2, 3}, IsFinished: true})
	third := <-seen
	<-done

	if len(first.Tokens) != 1 || len(second.Tokens) != 2 || len(third.Tokens) != 3 {
		t.Fatalf("events delivered out of order: %v %v %v", first.Tokens, second.Tokens, third.Tokens)
	}
}

func TestConcurrentRunsAreIsolatedById(t *testing.T) {
	bus := NewBus()
	regA, err := bus.Register("run-a")
	if err != nil {
		t.Fatalf("register run-a failed: %v", err)
	}
	regB, err := bus.Register("run-b")
	if err != nil {
		t.Fatalf("register run-b failed: %v", err)
	}

	type outcome struct {
		event TokenEvent
		err   error
	}
	results := make(chan outcome, 2)
	wait := func(reg *Registration) {
		ev, err := reg.Wait(context.Background(), func(ev TokenEvent) bool {
			return ev.IsFinished
		}, 5*time.Second)
		results <- outcome{ev, err}
	}
	go wait(regA)
	go wait(regB)

	// Interleave publishes on the shared bus.
	bus.Publish(TokenEvent{RequestID: "run-a", Tokens: []int{10}})
	bus.Publish(TokenEvent{RequestID: "run-b", Tokens: []int{20}})
	bus.Publish(TokenEvent{RequestID: "run-a", Tokens: []int{10, 11}, IsFinished: true})
	bus.Publish(TokenEvent{RequestID: "run-b", Tokens: []int{20, 21, 22}, IsFinished: true})

	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			t.Fatalf("wait failed: %v", res.err)
		}
		switch res.event.RequestID {
		case "run-a":
			if len(res.event.Tokens) != 2 || res.event.Tokens[0] != 10 {
				t.Fatalf("run-a received foreign event: %+v", res.event)
			}
		case "run-b":
			if len(res.event.Tokens) != 3 || res.event.Tokens[0] != 20 {
				t.Fatalf("run-b received foreign event: %+v", res.event)
			}
		default:
			t.Fatalf("unexpected request id %q", res.event.RequestID)
		}
	}
}

func TestPublishToUnknownIdIsDropped(t *testing.T) {
	bus := NewBus()
	bus.Publish(TokenEvent{RequestID: "ghost", Tokens: []int{1}, IsFinished: true})
}

func TestWaitHonoursContextCancellation(t *testing.T) {
	bus := NewBus()
	reg, err := bus.Register("rid")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, waitErr := reg.Wait(ctx, func(TokenEvent) bool { return true }, 5*time.Second)
	if !errors.Is(waitErr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", waitErr)
	}
}

func TestObserveMirrorsAllEvents(t *testing.T) {
	bus := NewBus()
	if _, err := bus.Register("rid"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	events, cancel := bus.Observe(4)

	bus.Publish(TokenEvent{RequestID: "rid", Tokens: []int{1}})
	bus.Publish(TokenEvent{RequestID: "other", Tokens: []int{2}})

	first := <-events
	second := <-events
	if first.RequestID != "rid" || second.RequestID != "other" {
		t.Fatalf("observer missed events: %+v %+v", first, second)
	}

	cancel()
	if _, open := <-events; open {
		t.Fatal("expected observer channel to be closed after cancel")
	}
	cancel() // second cancel is a no-op
}
