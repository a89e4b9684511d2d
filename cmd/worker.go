package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/richinsley/comfyrunner/client"
	"github.com/richinsley/comfyrunner/internal/config"
	"github.com/richinsley/comfyrunner/worker"
)

// newWorker builds the ComfyUI client and request handler from the loaded configuration
func newWorker(callbacks *client.ComfyClientCallbacks) (*client.ComfyClient, *worker.Handler, error) {
	cfg := config.Instance
	c, err := client.NewComfyClientWithTimeout(cfg.Comfy.URL, callbacks, cfg.Comfy.RequestTimeout)
	if err != nil {
		return nil, nil, err
	}

	var stager worker.Stager
	switch cfg.Staging.Mode {
	case config.StagingUpload:
		s := worker.NewUploadStager(c, cfg.Staging.Subfolder)
		s.MaxPixels = cfg.Staging.MaxPixels
		stager = s
	default:
		s := worker.NewFilesystemStager(cfg.Comfy.InputDir)
		s.MaxPixels = cfg.Staging.MaxPixels
		stager = s
	}

	h := worker.NewHandler(c, stager, worker.Settings{
		InputDir:       cfg.Comfy.InputDir,
		OutputDir:      cfg.Comfy.OutputDir,
		ReadyAttempts:  cfg.Comfy.ReadyAttempts,
		ReadyInterval:  cfg.Comfy.ReadyInterval,
		PollInterval:   cfg.Comfy.PollInterval,
		Timeout:        cfg.Comfy.Timeout,
		RestartCommand: cfg.Comfy.RestartCommand,
		MaxPixels:      cfg.Staging.MaxPixels,
	})
	return c, h, nil
}

// queueCallbacks logs ComfyUI's queue length and how each prompt of this worker ended
func queueCallbacks() *client.ComfyClientCallbacks {
	return &client.ComfyClientCallbacks{
		ClientQueueCountChanged: func(c *client.ComfyClient, remaining int) {
			slog.Debug("ComfyUI queue changed", "queue_remaining", remaining)
		},
		QueuedItemStopped: func(c *client.ComfyClient, qi *client.QueueItem, reason client.QueuedItemStoppedReason) {
			slog.Info("Prompt stopped", "prompt_id", qi.PromptID, "reason", reason)
		},
	}
}

// startWatcher follows ComfyUI's websocket when enabled.  Failing to connect only
// costs progress reporting; completion is still found by polling.
func startWatcher(ctx context.Context, c *client.ComfyClient) {
	if !config.Instance.Comfy.Websocket {
		return
	}
	if err := c.StartStatusWatcher(ctx, 5*time.Second); err != nil {
		slog.Warn("Status watcher unavailable, polling only", "error", err)
	}
}
