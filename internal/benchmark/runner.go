// Package benchmark runs a single timed inference request against a node,
// monitoring process memory while generation is in flight.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"nodebench/internal/eventbus"
	"nodebench/internal/memwatch"
	"nodebench/internal/node"
)

// DefaultTimeout bounds the wait for the terminal token event.
const DefaultTimeout = 300 * time.Second

// State tracks where a run is in its lifecycle.
type State int

const (
	NotStarted State = iota
	Loading
	Monitoring
	Generating
	Completed
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Loading:
		return "loading"
	case Monitoring:
		return "monitoring"
	case Generating:
		return "generating"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config describes one benchmark run.
type Config struct {
	Shard          node.Shard
	Quantization   string
	Prompt         string
	Timeout        time.Duration
	SampleInterval time.Duration
}

// Runner orchestrates a single end-to-end benchmark. A Runner is good for
// one Run call; create a fresh one per run.
type Runner struct {
	engine    node.InferenceEngine
	tokenizer node.Tokenizer
	node      node.Node
	config    Config

	// Injectable for tests.
	readMemory   memwatch.ReadFunc
	now          func() time.Time
	newRequestID func() string

	mutex sync.Mutex
	state State
}

// NewRunner creates a runner over the given collaborators.
func NewRunner(engine node.InferenceEngine, tokenizer node.Tokenizer, n node.Node, config Config) *Runner {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = memwatch.DefaultInterval
	}
	return &Runner{
		engine:       engine,
		tokenizer:    tokenizer,
		node:         n,
		config:       config,
		readMemory:   memwatch.ProcessResidentMB,
		now:          time.Now,
		newRequestID: uuid.NewString,
	}
}

// State reports the run's current lifecycle state.
func (r *Runner) State() State {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mutex.Lock()
	r.state = s
	r.mutex.Unlock()
}

// Run executes the benchmark: load timing, memory monitoring, request
// submission, terminal-event wait, result assembly. The sampler and the
// bus registration are released on every exit path, exactly once.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.setState(Loading)

	initialMB, err := r.readMemory()
	if err != nil {
		r.setState(Failed)
		return nil, fmt.Errorf("read initial memory: %w", err)
	}

	if err := r.engine.EnsureShard(ctx, r.config.Shard); err != nil {
		r.setState(Failed)
		return nil, fmt.Errorf("load shard: %w", err)
	}

	postLoadMB, err := r.readMemory()
	if err != nil {
		r.setState(Failed)
		return nil, fmt.Errorf("read post-load memory: %w", err)
	}

	prompt := r.tokenizer.ApplyChatTemplate([]node.Message{
		{Role: "user", Content: r.config.Prompt},
	})

	r.setState(Monitoring)

	peak := memwatch.NewPeakTracker(initialMB)
	sampler := memwatch.NewSamplerFunc(r.readMemory)
	sampler.Start(peak.Observe, r.config.SampleInterval)

	requestID := r.newRequestID()
	bus := r.node.OnToken()
	registration, err := bus.Register(requestID)
	if err != nil {
		sampler.Cancel()
		r.setState(Failed)
		return nil, fmt.Errorf("register token callback: %w", err)
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			sampler.Cancel()
			bus.Deregister(requestID)
		})
	}
	defer cleanup()

	r.setState(Generating)
	start := r.now()

	if err := r.node.ProcessPrompt(ctx, r.config.Shard, prompt, requestID); err != nil {
		r.setState(Failed)
		return nil, fmt.Errorf("submit prompt: %w", err)
	}

	event, err := registration.Wait(ctx, func(ev eventbus.TokenEvent) bool {
		return ev.RequestID == requestID && ev.IsFinished
	}, r.config.Timeout)
	if err != nil {
		if errors.Is(err, eventbus.ErrWaitTimeout) {
			r.setState(TimedOut)
		} else {
			r.setState(Failed)
		}
		return nil, fmt.Errorf("wait for generation: %w", err)
	}

	end := r.now()
	// Cancellation is synchronous, so the peak is stable once this returns.
	cleanup()

	latency := end.Sub(start).Seconds()
	result := &Result{
		ModelID:                   r.config.Shard.ModelID,
		Quantization:              quantLabel(r.config.Quantization),
		LatencySeconds:            latency,
		TokenCount:                len(event.Tokens),
		TokensPerSecond:           tokensPerSecond(len(event.Tokens), latency),
		InitialMemoryMB:           initialMB,
		LoadMemoryIncreaseMB:      postLoadMB - initialMB,
		InferenceMemoryIncreaseMB: peak.Peak() - postLoadMB,
		PeakMemoryMB:              peak.Peak(),
		Text:                      r.tokenizer.Decode(event.Tokens),
	}

	r.setState(Completed)
	return result, nil
}

// tokensPerSecond guards the degenerate sub-microsecond case: a latency that
// rounds to zero reports +Inf instead of dividing by zero.
func tokensPerSecond(count int, latency float64) float64 {
	if latency < 1e-6 {
		return math.Inf(1)
	}
	return float64(count) / latency
}

func quantLabel(q string) string {
	if q == "" {
		return "none"
	}
	return q
}
