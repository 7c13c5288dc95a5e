package server

import (
	"time"

	"nodebench/internal/benchmark"
)

// BenchmarkRequest represents the request payload for running a benchmark
type BenchmarkRequest struct {
	Model            string `json:"model" binding:"required"`
	Prompt           string `json:"prompt" binding:"required,min=1"`
	Quant            string `json:"quant"`
	Engine           string `json:"engine"`
	TimeoutSeconds   int    `json:"timeoutSeconds,omitempty"`
	SampleIntervalMS int    `json:"sampleIntervalMs,omitempty"`
}

// Job statuses
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job represents one asynchronous benchmark run
type Job struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Progress    int               `json:"progress"` // 0-100
	Message     string            `json:"message"`
	Result      *benchmark.Result `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Request     BenchmarkRequest  `json:"request"`
}

// ModelInfo describes one entry of the shard registry
type ModelInfo struct {
	Name    string   `json:"name"`
	Engines []string `json:"engines"`
}

// ModelsResponse represents the response for model listing
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
	Count  int         `json:"count"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
