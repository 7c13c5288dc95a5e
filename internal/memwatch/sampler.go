package memwatch

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// DefaultInterval matches the sampling rate used during inference monitoring.
const DefaultInterval = 100 * time.Millisecond

// ReadFunc reports the current resident memory of this process in megabytes.
type ReadFunc func() (float64, error)

// ProcessResidentMB reads the RSS of the current process.
func ProcessResidentMB() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, fmt.Errorf("open process: %w", err)
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	return float64(info.RSS) / 1024 / 1024, nil
}

// Sampler invokes a callback with the process resident memory at a fixed
// interval until cancelled. It never terminates on its own: a failed read
// skips that tick and monitoring continues.
type Sampler struct {
	read ReadFunc

	mutex   sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewSampler creates a sampler reading real process memory.
func NewSampler() *Sampler {
	return &Sampler{read: ProcessResidentMB}
}

// NewSamplerFunc creates a sampler with a custom memory reader.
func NewSamplerFunc(read ReadFunc) *Sampler {
	return &Sampler{read: read}
}

// Start begins the sampling loop. It returns immediately; the callback runs
// on the sampler's own goroutine every interval until Cancel is called.
func (s *Sampler) Start(callback func(mb float64), interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(callback, interval)
}

func (s *Sampler) loop(callback func(mb float64), interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			mb, err := s.read()
			if err != nil {
				// One bad sample must not end monitoring.
				continue
			}
			callback(mb)
		}
	}
}

// Cancel stops the sampling loop and waits for it to exit, so callers can
// read callback-owned state race-free afterwards. Idempotent; cancelling a
// sampler that never started is a no-op.
func (s *Sampler) Cancel() {
	s.mutex.Lock()
	if !s.started {
		s.mutex.Unlock()
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	done := s.done
	s.mutex.Unlock()

	<-done
}

// PeakTracker keeps a running maximum of observed memory readings.
type PeakTracker struct {
	mutex sync.Mutex
	peak  float64
}

// NewPeakTracker seeds the tracker, typically with the initial reading so a
// run that never samples still reports peak == initial.
func NewPeakTracker(initial float64) *PeakTracker {
	return &PeakTracker{peak: initial}
}

// Observe records a reading, keeping the maximum seen so far.
func (t *PeakTracker) Observe(mb float64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if mb > t.peak {
		t.peak = mb
	}
}

// Peak returns the highest reading observed.
func (t *PeakTracker) Peak() float64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.peak
}
