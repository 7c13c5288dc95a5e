package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"nodebench/internal/eventbus"
	"nodebench/internal/memwatch"
	"nodebench/internal/node"
)

type fakeEngine struct {
	err   error
	calls int
}

func (e *fakeEngine) EnsureShard(ctx context.Context, shard node.Shard) error {
	e.calls++
	return e.err
}

type fakeTokenizer struct{}

func (fakeTokenizer) ApplyChatTemplate(messages []node.Message) string {
	return messages[len(messages)-1].Content
}

func (fakeTokenizer) Decode(tokens []int) string {
	return fmt.Sprint(tokens)
}

// fakeNode publishes a scripted event sequence for whatever request id the
// runner registers.
type fakeNode struct {
	bus          *eventbus.Bus
	err          error
	publishDelay time.Duration
	events       func(requestID string) []eventbus.TokenEvent
}

func (n *fakeNode) OnToken() *eventbus.Bus { return n.bus }

func (n *fakeNode) ProcessPrompt(ctx context.Context, shard node.Shard, prompt, requestID string) error {
	if n.err != nil {
		return n.err
	}
	go func() {
		time.Sleep(n.publishDelay)
		for _, event := range n.events(requestID) {
			n.bus.Publish(event)
		}
	}()
	return nil
}

// scriptedMemory returns the values in order, repeating the last one, and
// exposes the call counter.
func scriptedMemory(counter *atomic.Int64, values ...float64) memwatch.ReadFunc {
	return func() (float64, error) {
		i := counter.Add(1) - 1
		if int(i) >= len(values) {
			i = int64(len(values) - 1)
		}
		return values[i], nil
	}
}

func scriptedClock(times ...time.Time) func() time.Time {
	var calls atomic.Int64
	return func() time.Time {
		i := calls.Add(1) - 1
		if int(i) >= len(times) {
			i = int64(len(times) - 1)
		}
		return times[i]
	}
}

func testShard() node.Shard {
	return node.Shard{ModelID: "test/model-8b", EndLayer: 31, NLayers: 32}
}

func TestRunCompletes(t *testing.T) {
	bus := eventbus.NewBus()
	n := &fakeNode{
		bus:          bus,
		publishDelay: 50 * time.Millisecond,
		events: func(requestID string) []eventbus.TokenEvent {
			return []eventbus.TokenEvent{
				{RequestID: requestID, Tokens: []int{1, 2}},
				{RequestID: requestID, Tokens: []int{1, 2, 3}, IsFinished: true},
			}
		},
	}

	runner := NewRunner(&fakeEngine{}, fakeTokenizer{}, n, Config{
		Shard:          testShard(),
		Quantization:   "int8",
		Prompt:         "hello",
		Timeout:        5 * time.Second,
		SampleInterval: time.Millisecond,
	})

	var reads atomic.Int64
	runner.readMemory = scriptedMemory(&reads, 100, 150, 180)
	start := time.Unix(1000, 0)
	runner.now = scriptedClock(start, start.Add(2*time.Second))
	runner.newRequestID = func() string { return "req-fixed" }

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if runner.State() != Completed {
		t.Fatalf("state = %s, want completed", runner.State())
	}
	if result.ModelID != "test/model-8b" || result.Quantization != "int8" {
		t.Fatalf("wrong identity fields: %+v", result)
	}
	if result.TokenCount != 3 {
		t.Fatalf("token count = %d, want 3", result.TokenCount)
	}
	if result.LatencySeconds != 2.0 {
		t.Fatalf("latency = %v, want 2.0", result.LatencySeconds)
	}
	if result.TokensPerSecond != 1.5 {
		t.Fatalf("tokens/sec = %v, want 1.5", result.TokensPerSecond)
	}
	if result.InitialMemoryMB != 100 {
		t.Fatalf("initial memory = %v, want 100", result.InitialMemoryMB)
	}
	if result.LoadMemoryIncreaseMB != 50 {
		t.Fatalf("load increase = %v, want 50", result.LoadMemoryIncreaseMB)
	}
	// The sampler ran for ~50ms at 1ms, so the 180 plateau was observed.
	if result.PeakMemoryMB != 180 {
		t.Fatalf("peak = %v, want 180", result.PeakMemoryMB)
	}
	if result.InferenceMemoryIncreaseMB != 30 {
		t.Fatalf("inference increase = %v, want 30", result.InferenceMemoryIncreaseMB)
	}
	if result.Text != "[1 2 3]" {
		t.Fatalf("decoded text = %q", result.Text)
	}
}

func TestRunTimesOutAndReleasesResources(t *testing.T) {
	bus := eventbus.NewBus()
	n := &fakeNode{
		bus:    bus,
		events: func(string) []eventbus.TokenEvent { return nil },
	}

	runner := NewRunner(&fakeEngine{}, fakeTokenizer{}, n, Config{
		Shard:          testShard(),
		Prompt:         "hello",
		Timeout:        20 * time.Millisecond,
		SampleInterval: time.Millisecond,
	})

	var reads atomic.Int64
	runner.readMemory = scriptedMemory(&reads, 100)
	runner.newRequestID = func() string { return "req-fixed" }

	result, err := runner.Run(context.Background())
	if result != nil {
		t.Fatalf("expected no partial result, got %+v", result)
	}
	if !errors.Is(err, eventbus.ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got: %v", err)
	}
	if runner.State() != TimedOut {
		t.Fatalf("state = %s, want timed_out", runner.State())
	}

	// Registration released: the id is immediately reusable.
	if _, err := bus.Register("req-fixed"); err != nil {
		t.Fatalf("request id not released after timeout: %v", err)
	}

	// Sampler released: memory reads stop once Run returns.
	after := reads.Load()
	time.Sleep(20 * time.Millisecond)
	if got := reads.Load(); got != after {
		t.Fatalf("sampler still running after timeout: %d -> %d reads", after, got)
	}
}

func TestRunFailsWhenShardLoadFails(t *testing.T) {
	bus := eventbus.NewBus()
	n := &fakeNode{bus: bus, events: func(string) []eventbus.TokenEvent { return nil }}
	engine := &fakeEngine{err: errors.New("weights unavailable")}

	runner := NewRunner(engine, fakeTokenizer{}, n, Config{
		Shard:  testShard(),
		Prompt: "hello",
	})

	var reads atomic.Int64
	runner.readMemory = scriptedMemory(&reads, 100)

	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected load failure")
	}
	if runner.State() != Failed {
		t.Fatalf("state = %s, want failed", runner.State())
	}
	// Monitoring never started: only the initial read happened, so there is
	// no sampler residue.
	if got := reads.Load(); got != 1 {
		t.Fatalf("memory reads = %d, want 1", got)
	}
}

func TestFreshRunAfterFailureStartsAtInitialPeak(t *testing.T) {
	bus := eventbus.NewBus()
	failed := NewRunner(&fakeEngine{err: errors.New("boom")}, fakeTokenizer{}, &fakeNode{bus: bus}, Config{
		Shard:  testShard(),
		Prompt: "hello",
	})
	var failedReads atomic.Int64
	failed.readMemory = scriptedMemory(&failedReads, 100)
	if _, err := failed.Run(context.Background()); err == nil {
		t.Fatal("expected failure")
	}

	// A subsequent run with a fresh sampler sees peak == initial when memory
	// stays flat.
	n := &fakeNode{
		bus:          bus,
		publishDelay: 5 * time.Millisecond,
		events: func(requestID string) []eventbus.TokenEvent {
			return []eventbus.TokenEvent{{RequestID: requestID, Tokens: []int{1}, IsFinished: true}}
		},
	}
	runner := NewRunner(&fakeEngine{}, fakeTokenizer{}, n, Config{
		Shard:          testShard(),
		Prompt:         "hello",
		SampleInterval: time.Millisecond,
	})
	var reads atomic.Int64
	runner.readMemory = scriptedMemory(&reads, 200)

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("fresh run failed: %v", err)
	}
	if result.PeakMemoryMB != result.InitialMemoryMB {
		t.Fatalf("fresh run peak = %v, initial = %v", result.PeakMemoryMB, result.InitialMemoryMB)
	}
}

func TestRunFailsOnDuplicateRequestID(t *testing.T) {
	bus := eventbus.NewBus()
	if _, err := bus.Register("req-fixed"); err != nil {
		t.Fatalf("pre-register failed: %v", err)
	}

	n := &fakeNode{bus: bus, events: func(string) []eventbus.TokenEvent { return nil }}
	runner := NewRunner(&fakeEngine{}, fakeTokenizer{}, n, Config{
		Shard:          testShard(),
		Prompt:         "hello",
		SampleInterval: time.Millisecond,
	})
	var reads atomic.Int64
	runner.readMemory = scriptedMemory(&reads, 100)
	runner.newRequestID = func() string { return "req-fixed" }

	_, err := runner.Run(context.Background())
	if !errors.Is(err, eventbus.ErrDuplicateRegistration) {
		t.Fatalf("expected ErrDuplicateRegistration, got: %v", err)
	}
	if runner.State() != Failed {
		t.Fatalf("state = %s, want failed", runner.State())
	}

	// Sampler released despite the failure.
	after := reads.Load()
	time.Sleep(10 * time.Millisecond)
	if got := reads.Load(); got != after {
		t.Fatalf("sampler still running after failure: %d -> %d reads", after, got)
	}
}

func TestTokensPerSecondIsExact(t *testing.T) {
	cases := []struct {
		tokens  int
		latency float64
	}{
		{1, 1},
		{10, 4},
		{512, 2.5},
		{100, 0.001},
	}
	for _, tc := range cases {
		want := float64(tc.tokens) / tc.latency
		if got := tokensPerSecond(tc.tokens, tc.latency); got != want {
			t.Errorf("tokensPerSecond(%d, %v) = %v, want %v", tc.tokens, tc.latency, got, want)
		}
	}
}

func TestTokensPerSecondGuardsDegenerateLatency(t *testing.T) {
	if got := tokensPerSecond(5, 0); !math.IsInf(got, 1) {
		t.Fatalf("zero latency: got %v, want +Inf", got)
	}
	if got := tokensPerSecond(5, 1e-9); !math.IsInf(got, 1) {
		t.Fatalf("sub-microsecond latency: got %v, want +Inf", got)
	}
}

func TestDegenerateLatencyThroughFullRun(t *testing.T) {
	bus := eventbus.NewBus()
	n := &fakeNode{
		bus:          bus,
		publishDelay: 5 * time.Millisecond,
		events: func(requestID string) []eventbus.TokenEvent {
			return []eventbus.TokenEvent{{RequestID: requestID, Tokens: []int{1, 2}, IsFinished: true}}
		},
	}
	runner := NewRunner(&fakeEngine{}, fakeTokenizer{}, n, Config{
		Shard:          testShard(),
		Prompt:         "hello",
		SampleInterval: time.Millisecond,
	})
	var reads atomic.Int64
	runner.readMemory = scriptedMemory(&reads, 100)
	frozen := time.Unix(1000, 0)
	runner.now = scriptedClock(frozen, frozen)

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !math.IsInf(result.TokensPerSecond, 1) {
		t.Fatalf("tokens/sec = %v, want +Inf for zero latency", result.TokensPerSecond)
	}
}
