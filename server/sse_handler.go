package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// SSEHandler streams benchmark job progress as Server-Sent Events
type SSEHandler struct {
	jobManager *JobManager
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(jobManager *JobManager) *SSEHandler {
	return &SSEHandler{jobManager: jobManager}
}

// toSSEMessage renders a job snapshot as one SSE data frame
func toSSEMessage(job *Job) string {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Sprintf("data: {\"id\":%q,\"status\":\"error\"}\n\n", job.ID)
	}
	return fmt.Sprintf("data: %s\n\n", data)
}

// StreamJobProgress streams a job's updates until the client disconnects
func (h *SSEHandler) StreamJobProgress(c *gin.Context) {
	jobID := c.Param("jobId")

	job, exists := h.jobManager.GetJob(jobID)
	if !exists {
		c.JSON(404, gin.H{"error": "Job not found"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	// Send the current state first.
	c.Writer.WriteString(toSSEMessage(&job))
	c.Writer.Flush()

	if job.Status != JobRunning {
		return
	}

	updateChan := make(chan *Job, 10)
	h.jobManager.RegisterSSEListener(jobID, updateChan)
	defer h.jobManager.UnregisterSSEListener(jobID, updateChan)

	ctx := c.Request.Context()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			AppLogger.InfoWithContext(&LogContext{JobID: jobID}, "SSE connection closed for job")
			return
		case <-ticker.C:
			c.Writer.WriteString("data: {\"type\":\"ping\",\"timestamp\":\"" + time.Now().Format(time.RFC3339) + "\"}\n\n")
			c.Writer.Flush()
		case updatedJob := <-updateChan:
			c.Writer.WriteString(toSSEMessage(updatedJob))
			c.Writer.Flush()

			if updatedJob.Status != JobRunning {
				return
			}
		}
	}
}
