package worker

import (
	"context"
	"os"
	"runtime"

	"github.com/richinsley/comfyrunner/client"
)

// debugSystem extends the health report with process and staging details
func (h *Handler) debugSystem(ctx context.Context) Response {
	retv := h.health(ctx)
	retv["runtime"] = map[string]interface{}{
		"go_version":    runtime.Version(),
		"os":            runtime.GOOS,
		"arch":          runtime.GOARCH,
		"num_cpu":       runtime.NumCPU(),
		"num_goroutine": runtime.NumGoroutine(),
	}
	retv["directories"] = map[string]interface{}{
		"input_dir":         h.Settings.InputDir,
		"input_dir_exists":  dirExists(h.Settings.InputDir),
		"output_dir":        h.Settings.OutputDir,
		"output_dir_exists": dirExists(h.Settings.OutputDir),
	}
	retv["settings"] = map[string]interface{}{
		"ready_attempts":  h.Settings.ReadyAttempts,
		"ready_interval":  h.Settings.ReadyInterval.String(),
		"poll_interval":   h.Settings.PollInterval.String(),
		"timeout":         h.Settings.Timeout.String(),
		"restart_enabled": h.Settings.RestartCommand != "",
	}
	retv["presets"] = h.Registry.List()
	if retv["comfy_reachable"] == true {
		if embeddings, err := h.Backend.GetEmbeddings(ctx); err == nil {
			retv["embeddings"] = embeddings
		}
		if extensions, err := h.Backend.GetExtensions(ctx); err == nil {
			retv["extensions_count"] = len(extensions)
		}
	}
	if w, ok := h.Backend.(watcher); ok {
		retv["status_watcher"] = map[string]interface{}{
			"connected":       w.WatcherConnected(),
			"queue_remaining": w.QueueCount(),
		}
	}
	if stats, ok := retv["system_stats"].(*client.SystemStats); ok && stats != nil {
		devices := make([]string, 0, len(stats.Devices))
		for _, d := range stats.Devices {
			devices = append(devices, d.Name)
		}
		retv["devices"] = devices
	}
	return retv
}

// watcher is implemented by a client that can follow ComfyUI's websocket
type watcher interface {
	WatcherConnected() bool
	QueueCount() int
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
