// Package server exposes the worker over HTTP in the shape of a serverless endpoint
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richinsley/comfyrunner/worker"
)

// MaxRequestBytes bounds a request body; base64 videos are large
const MaxRequestBytes = 512 << 20

// Handler runs one decoded request
type Handler interface {
	Handle(ctx context.Context, req *worker.Request) worker.Response
}

// Job status values reported by /runsync
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// New returns the router: POST /run answers with the bare worker response,
// POST /runsync wraps it as {id, status, output}, GET /health checks the process.
func New(h Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(config))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.POST("/run", func(c *gin.Context) {
		req, ok := decode(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, h.Handle(c.Request.Context(), req))
	})
	r.POST("/runsync", func(c *gin.Context) {
		req, ok := decode(c)
		if !ok {
			return
		}
		id := uuid.NewString()
		start := time.Now()
		resp := h.Handle(c.Request.Context(), req)
		if err := resp.Err(); err != nil {
			c.JSON(http.StatusOK, gin.H{"id": id, "status": StatusFailed, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":            id,
			"status":        StatusCompleted,
			"executionTime": time.Since(start).Milliseconds(),
			"output":        resp,
		})
	})
	return r
}

func decode(c *gin.Context) (*worker.Request, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return nil, false
	}
	req, err := worker.DecodeRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return req, true
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
}

// Serve runs the router on addr until ctx is cancelled, then drains in-flight requests
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	slog.Info("Server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
