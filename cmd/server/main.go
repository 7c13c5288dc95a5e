package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"nodebench/server"
)

// Run starts the benchmark service and blocks until shutdown.
func Run() error {
	server.AppLogger = server.NewLogger()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	config, err := server.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	router := gin.New()
	server.SetupRoutes(router)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", config.Port),
		Handler:        router,
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   0, // disabled for SSE connections
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		server.AppLogger.Info("Server starting on port %s", config.Port)
		server.AppLogger.Info("API endpoints available at http://localhost:%s/api", config.Port)
		server.AppLogger.Info("Live token stream at ws://localhost:%s/ws/tokens", config.Port)
		server.AppLogger.Info("Benchmarking node at %s", config.NodeBaseURL)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.AppLogger.Fatal("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	server.AppLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		server.AppLogger.Error("Server forced to shutdown: %v", err)
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	server.AppLogger.Info("Server exited gracefully")
	return nil
}
