package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes for the benchmark service
func SetupRoutes(router *gin.Engine) {
	jobManager := GetJobManager()
	handlers := NewHandlers(jobManager)
	sseHandler := NewSSEHandler(jobManager)

	tokenHub := NewTokenHub(jobManager.Node().OnToken())
	tokenHub.Run()

	router.Use(RecoveryMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware())
	router.Use(LoggingMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", handlers.Health)
		api.GET("/models", handlers.Models)

		api.POST("/benchmark", handlers.StartBenchmark)

		api.GET("/jobs", handlers.ListJobs)
		api.GET("/jobs/:jobId", handlers.GetJobStatus)
		api.POST("/jobs/:jobId/cancel", handlers.CancelJob)
		api.GET("/jobs/:jobId/stream", sseHandler.StreamJobProgress)
	}

	// Live token stream across all running benchmarks.
	router.GET("/ws/tokens", tokenHub.ServeWS)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Inference Node Benchmark API",
			"status":  "ok",
			"endpoints": gin.H{
				"health":    "/api/health",
				"models":    "/api/models",
				"benchmark": "/api/benchmark",
				"jobs":      "/api/jobs",
				"tokens":    "/ws/tokens",
			},
		})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Not Found",
			Message: "The requested endpoint does not exist",
			Code:    http.StatusNotFound,
		})
	})
}
