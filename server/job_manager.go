package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"nodebench/internal/benchmark"
	"nodebench/internal/node"
)

// Singleton pattern for JobManager
var (
	jobManagerInstance *JobManager
	jobManagerOnce     sync.Once
)

// JobManager runs benchmark jobs asynchronously and keeps their state for
// polling and SSE streaming. All jobs share one node client, so concurrent
// runs share the token event bus and are isolated by request id.
type JobManager struct {
	jobs           map[string]*jobEntry
	listeners      map[string][]chan *Job
	activeJobCount int
	mutex          sync.RWMutex

	node           *node.RemoteNode
	engine         *node.RemoteEngine
	defaultTimeout time.Duration
}

type jobEntry struct {
	job        Job
	cancelFunc context.CancelFunc
}

// NewJobManager creates a job manager submitting requests to the node at
// baseURL.
func NewJobManager(baseURL, apiKey string, maxTokens, timeoutSeconds int) *JobManager {
	return &JobManager{
		jobs:           make(map[string]*jobEntry),
		listeners:      make(map[string][]chan *Job),
		node:           node.NewRemoteNode(baseURL, apiKey, maxTokens),
		engine:         node.NewRemoteEngine(baseURL, apiKey),
		defaultTimeout: time.Duration(timeoutSeconds) * time.Second,
	}
}

// GetJobManager returns the singleton JobManager instance
func GetJobManager() *JobManager {
	jobManagerOnce.Do(func() {
		config, err := LoadConfigFromEnv()
		if err != nil {
			AppLogger.Fatal("Invalid server configuration: %v", err)
		}
		jobManagerInstance = NewJobManager(config.NodeBaseURL, config.NodeAPIKey, config.MaxTokens, config.TimeoutSeconds)
		AppLogger.Info("Singleton JobManager instance created")
	})
	return jobManagerInstance
}

// Node exposes the shared node client, so the websocket hub can observe its
// token stream.
func (jm *JobManager) Node() *node.RemoteNode {
	return jm.node
}

// CreateJob registers a new job and returns its ID
func (jm *JobManager) CreateJob(request BenchmarkRequest) string {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	jobID := uuid.New().String()
	jm.jobs[jobID] = &jobEntry{
		job: Job{
			ID:        jobID,
			Status:    JobRunning,
			Progress:  0,
			Message:   "Starting benchmark...",
			CreatedAt: time.Now(),
			Request:   request,
		},
	}
	jm.activeJobCount++

	AppLogger.InfoWithContext(&LogContext{JobID: jobID, Model: request.Model}, "Job created (%d active)", jm.activeJobCount)
	return jobID
}

// GetJob returns a snapshot of a job by ID
func (jm *JobManager) GetJob(jobID string) (Job, bool) {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	entry, exists := jm.jobs[jobID]
	if !exists {
		return Job{}, false
	}
	return entry.job, true
}

// ListJobs returns snapshots of all known jobs
func (jm *JobManager) ListJobs() []Job {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, entry := range jm.jobs {
		jobs = append(jobs, entry.job)
	}
	return jobs
}

// ActiveJobCount returns the number of jobs currently running
func (jm *JobManager) ActiveJobCount() int {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()
	return jm.activeJobCount
}

// RunBenchmark executes a job. Meant to be called on its own goroutine right
// after CreateJob.
func (jm *JobManager) RunBenchmark(jobID string, request BenchmarkRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jm.mutex.Lock()
	if entry, exists := jm.jobs[jobID]; exists {
		entry.cancelFunc = cancel
	}
	jm.mutex.Unlock()

	quant, err := node.ParseQuant(request.Quant)
	if err != nil {
		jm.FailJob(jobID, err.Error())
		return
	}

	engine := request.Engine
	if engine == "" {
		engine = node.EngineTinygrad
	}
	shard, err := node.ResolveShard(request.Model, engine)
	if err != nil {
		jm.FailJob(jobID, err.Error())
		return
	}

	timeout := jm.defaultTimeout
	if request.TimeoutSeconds > 0 {
		timeout = time.Duration(request.TimeoutSeconds) * time.Second
	}

	runner := benchmark.NewRunner(jm.engine, jm.node.Tokenizer(), jm.node, benchmark.Config{
		Shard:          shard,
		Quantization:   quant,
		Prompt:         request.Prompt,
		Timeout:        timeout,
		SampleInterval: time.Duration(request.SampleIntervalMS) * time.Millisecond,
	})

	// Mirror the runner's lifecycle into job progress until Run returns.
	watchDone := make(chan struct{})
	go jm.watchProgress(jobID, runner, watchDone)

	result, err := runner.Run(ctx)
	close(watchDone)

	if err != nil {
		if ctx.Err() != nil {
			// Cancellation already recorded by CancelJob.
			return
		}
		jm.FailJob(jobID, err.Error())
		return
	}

	jm.CompleteJob(jobID, result)
}

// watchProgress maps runner states onto coarse job progress updates.
func (jm *JobManager) watchProgress(jobID string, runner *benchmark.Runner, done <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	last := benchmark.NotStarted
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			state := runner.State()
			if state == last {
				continue
			}
			last = state
			switch state {
			case benchmark.Loading:
				jm.UpdateJobProgress(jobID, 10, "Loading model shard...")
			case benchmark.Monitoring:
				jm.UpdateJobProgress(jobID, 40, "Monitoring memory...")
			case benchmark.Generating:
				jm.UpdateJobProgress(jobID, 60, "Generating tokens...")
			}
		}
	}
}

// UpdateJobProgress updates job progress and notifies SSE listeners
func (jm *JobManager) UpdateJobProgress(jobID string, progress int, message string) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	entry, exists := jm.jobs[jobID]
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for progress update")
		return
	}
	if entry.job.Status != JobRunning {
		return
	}
	entry.job.Progress = progress
	entry.job.Message = message

	AppLogger.InfoWithContext(&LogContext{JobID: jobID}, "Job progress updated: %d%% - %s", progress, message)
	jm.broadcastUpdate(jobID, entry.job)
}

// CompleteJob marks a job as completed with its result
func (jm *JobManager) CompleteJob(jobID string, result *benchmark.Result) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	entry, exists := jm.jobs[jobID]
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for completion")
		return
	}
	entry.job.Status = JobCompleted
	entry.job.Progress = 100
	entry.job.Message = "Benchmark completed successfully"
	entry.job.Result = result
	now := time.Now()
	entry.job.CompletedAt = &now
	if jm.activeJobCount > 0 {
		jm.activeJobCount--
	}

	AppLogger.InfoWithContext(&LogContext{JobID: jobID}, "Job completed (%d active)", jm.activeJobCount)
	jm.broadcastUpdate(jobID, entry.job)
}

// FailJob marks a job as failed with an error message
func (jm *JobManager) FailJob(jobID string, errorMsg string) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	entry, exists := jm.jobs[jobID]
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for failure")
		return
	}
	entry.job.Status = JobFailed
	entry.job.Message = "Benchmark failed"
	entry.job.Error = errorMsg
	now := time.Now()
	entry.job.CompletedAt = &now
	if jm.activeJobCount > 0 {
		jm.activeJobCount--
	}

	AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job failed: %s", errorMsg)
	jm.broadcastUpdate(jobID, entry.job)
}

// CancelJob cancels a running job by cancelling its context
func (jm *JobManager) CancelJob(jobID string) bool {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	entry, exists := jm.jobs[jobID]
	if !exists {
		AppLogger.ErrorWithContext(&LogContext{JobID: jobID}, "Job not found for cancellation")
		return false
	}
	if entry.job.Status != JobRunning || entry.cancelFunc == nil {
		AppLogger.WarnWithContext(&LogContext{JobID: jobID}, "Job cannot be cancelled (status: %s)", entry.job.Status)
		return false
	}

	entry.cancelFunc()
	entry.job.Status = JobCancelled
	entry.job.Message = "Job cancelled by user"
	entry.job.Error = "Job cancelled by user"
	now := time.Now()
	entry.job.CompletedAt = &now
	if jm.activeJobCount > 0 {
		jm.activeJobCount--
	}

	AppLogger.InfoWithContext(&LogContext{JobID: jobID}, "Job cancelled (%d active)", jm.activeJobCount)
	jm.broadcastUpdate(jobID, entry.job)
	return true
}

// RegisterSSEListener subscribes a channel to a job's updates
func (jm *JobManager) RegisterSSEListener(jobID string, ch chan *Job) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()
	jm.listeners[jobID] = append(jm.listeners[jobID], ch)
}

// UnregisterSSEListener removes a previously registered channel
func (jm *JobManager) UnregisterSSEListener(jobID string, ch chan *Job) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	listeners := jm.listeners[jobID]
	for i, listener := range listeners {
		if listener == ch {
			jm.listeners[jobID] = append(listeners[:i], listeners[i+1:]...)
			break
		}
	}
	if len(jm.listeners[jobID]) == 0 {
		delete(jm.listeners, jobID)
	}
}

// broadcastUpdate notifies listeners with a snapshot. Caller holds the mutex.
func (jm *JobManager) broadcastUpdate(jobID string, snapshot Job) {
	for _, listener := range jm.listeners[jobID] {
		update := snapshot
		select {
		case listener <- &update:
		default:
			// Slow consumer; it will catch up from the next update.
		}
	}
}

// CleanupOldJobs removes finished jobs older than maxAge
func (jm *JobManager) CleanupOldJobs(maxAge time.Duration) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for jobID, entry := range jm.jobs {
		if entry.job.CompletedAt != nil && entry.job.CompletedAt.Before(cutoff) {
			delete(jm.jobs, jobID)
			AppLogger.InfoWithContext(&LogContext{JobID: jobID}, "Cleaned up old job")
		}
	}
}
