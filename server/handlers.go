package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nodebench/internal/node"
)

// Handlers contains the HTTP handlers for the benchmark API
type Handlers struct {
	jobManager *JobManager
}

// NewHandlers creates the handler set over a job manager
func NewHandlers(jobManager *JobManager) *Handlers {
	return &Handlers{jobManager: jobManager}
}

// Health reports service liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"activeJobs": h.jobManager.ActiveJobCount(),
	})
}

// Models lists the shard registry
func (h *Handlers) Models(c *gin.Context) {
	names := node.SupportedModels()
	models := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		models = append(models, ModelInfo{
			Name:    name,
			Engines: node.EnginesFor(name),
		})
	}
	c.JSON(http.StatusOK, ModelsResponse{Models: models, Count: len(models)})
}

// StartBenchmark starts a new benchmark job and returns the job ID
func (h *Handlers) StartBenchmark(c *gin.Context) {
	var request BenchmarkRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		AppLogger.Error("StartBenchmark failed to bind JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	// Reject unknown models before creating any job state.
	engine := request.Engine
	if engine == "" {
		engine = node.EngineTinygrad
	}
	if _, ok := node.ShardFor(request.Model, engine); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported model: " + request.Model})
		return
	}
	if _, err := node.ParseQuant(request.Quant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := h.jobManager.CreateJob(request)
	AppLogger.InfoWithContext(&LogContext{JobID: jobID, Model: request.Model}, "Created job for asynchronous benchmark")

	go h.jobManager.RunBenchmark(jobID, request)

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":   jobID,
		"message": "Benchmark job started successfully",
		"status":  "started",
		"sse": gin.H{
			"url":     "/api/jobs/" + jobID + "/stream",
			"message": "Connect to SSE endpoint for real-time progress updates",
		},
	})
}

// GetJobStatus returns the current status of a job
func (h *Handlers) GetJobStatus(c *gin.Context) {
	jobID := c.Param("jobId")

	job, exists := h.jobManager.GetJob(jobID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs returns all jobs
func (h *Handlers) ListJobs(c *gin.Context) {
	jobs := h.jobManager.ListJobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob cancels a running job
func (h *Handlers) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")

	AppLogger.InfoWithContext(&LogContext{JobID: jobID}, "Received cancellation request for job")

	if h.jobManager.CancelJob(jobID) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Job cancelled successfully",
			"jobId":   jobID,
			"status":  "cancelled",
		})
	} else {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Job not found or not cancellable",
			"jobId":  jobID,
			"status": "not_found",
		})
	}
}
