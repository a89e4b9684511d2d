// Package worker turns one job request into a ComfyUI run: it classifies and validates
// the workflow, stages the request's media, rewrites the workflow, queues it, waits for
// ComfyUI to finish and returns the first output file base64 encoded.
package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/richinsley/comfyrunner/client"
	"github.com/richinsley/comfyrunner/graphapi"
	"github.com/richinsley/comfyrunner/workflows"
)

// Backend is the part of *client.ComfyClient the handler drives
type Backend interface {
	BaseURL() string
	WaitForReady(ctx context.Context, attempts int, interval time.Duration) error
	GetSystemStats(ctx context.Context) (*client.SystemStats, error)
	GetQueueExecutionInfo(ctx context.Context) (*client.QueueExecInfo, error)
	GetObjectInfos(ctx context.Context) (*graphapi.NodeObjects, error)
	GetEmbeddings(ctx context.Context) ([]string, error)
	GetExtensions(ctx context.Context) ([]string, error)
	QueuePrompt(ctx context.Context, w graphapi.Workflow) (*client.QueueItem, error)
	WaitForCompletion(ctx context.Context, promptID string, opts client.WaitOptions) (*client.HistoryItem, error)
	GetOutputFile(ctx context.Context, output client.DataOutput) ([]byte, error)
}

// Settings holds the handler's tunables
type Settings struct {
	// InputDir is ComfyUI's input directory, reported by debug_system
	InputDir string
	// OutputDir is ComfyUI's output directory.  Outputs are read from here when
	// present, otherwise fetched through /view.
	OutputDir      string
	ReadyAttempts  int
	ReadyInterval  time.Duration
	PollInterval   time.Duration
	Timeout        time.Duration
	RestartCommand string
	// MaxPixels caps the blank start frame; zero means DefaultMaxPixels
	MaxPixels int64
}

// DefaultSettings mirrors the timings of the serverless worker: 60 readiness probes
// 5s apart, history polled every 5s for at most 10 minutes.
func DefaultSettings() Settings {
	return Settings{
		InputDir:      "/comfyui/input",
		OutputDir:     "/comfyui/output",
		ReadyAttempts: 60,
		ReadyInterval: 5 * time.Second,
		PollInterval:  5 * time.Second,
		Timeout:       10 * time.Minute,
	}
}

// Handler processes requests.  It holds no per-request state and may serve
// concurrent requests.
type Handler struct {
	Backend    Backend
	Stager     Stager
	Registry   *workflows.Registry
	Classifier *workflows.Classifier
	Mutator    *workflows.Mutator
	Settings   Settings
	// Handlers receive websocket progress for generate requests
	Handlers *client.MessageHandlers
	// RunCommand executes the restart command; defaults to sh -c
	RunCommand func(ctx context.Context, command string) error
}

// NewHandler returns a handler using the built-in node groups and presets
func NewHandler(backend Backend, stager Stager, settings Settings) *Handler {
	groups := workflows.DefaultNodeGroups()
	return &Handler{
		Backend:    backend,
		Stager:     stager,
		Registry:   workflows.DefaultRegistry(),
		Classifier: workflows.NewClassifier(groups),
		Mutator:    workflows.NewMutator(groups),
		Settings:   settings,
		RunCommand: runShell,
	}
}

// Handle runs one request.  It never panics and every failure is reported as
// {"error": "..."}.
func (h *Handler) Handle(ctx context.Context, req *Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Request handler panicked", "panic", r, "stack", string(debug.Stack()))
			resp = errorResponse(fmt.Errorf("internal error: %v", r))
		}
	}()

	if req == nil {
		return errorResponse(&DecodeError{Field: "input", Err: errors.New("missing request")})
	}

	var err error
	switch req.Action {
	case ActionPing:
		return Response{"status": "pong"}
	case ActionHealthCheck:
		resp = h.health(ctx)
	case ActionDebugSystem:
		resp = h.debugSystem(ctx)
	case ActionListPresets:
		resp = Response{"presets": h.Registry.Info()}
	case ActionRestartComfyUI:
		resp, err = h.restart(ctx)
	case ActionAnalyze:
		resp, err = h.analyze(ctx, req)
	case "", ActionGenerate:
		resp, err = h.generate(ctx, req)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}
	if err != nil {
		slog.Error("Request failed", "action", req.Action, "error", err)
		return errorResponse(err)
	}
	return resp
}

func (h *Handler) health(ctx context.Context) Response {
	stats, err := h.Backend.GetSystemStats(ctx)
	if err != nil {
		return Response{
			"status":          "unhealthy",
			"comfy_reachable": false,
			"comfy_url":       h.Backend.BaseURL(),
			"message":         err.Error(),
		}
	}
	retv := Response{
		"status":          "healthy",
		"comfy_reachable": true,
		"comfy_url":       h.Backend.BaseURL(),
		"system_stats":    stats,
	}
	if q, err := h.Backend.GetQueueExecutionInfo(ctx); err == nil {
		retv["queue_remaining"] = q.ExecInfo.QueueRemaining
	}
	return retv
}

func (h *Handler) restart(ctx context.Context) (Response, error) {
	if h.Settings.RestartCommand == "" {
		return nil, errors.New("no restart command configured")
	}
	run := h.RunCommand
	if run == nil {
		run = runShell
	}
	slog.Info("Restarting ComfyUI", "command", h.Settings.RestartCommand)
	if err := run(ctx, h.Settings.RestartCommand); err != nil {
		return nil, fmt.Errorf("restart command failed: %w", err)
	}
	if err := h.Backend.WaitForReady(ctx, h.Settings.ReadyAttempts, h.Settings.ReadyInterval); err != nil {
		return nil, err
	}
	return Response{"status": "restarted", "comfy_url": h.Backend.BaseURL()}, nil
}

// runShell waits for the shell only; a command that backgrounds ComfyUI returns at once
func runShell(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	return cmd.Run()
}

func (h *Handler) analyze(ctx context.Context, req *Request) (Response, error) {
	w, err := req.ParseWorkflow()
	if err != nil {
		return nil, err
	}
	info := h.Classifier.Describe(w)
	retv := Response{
		"workflow_type":   info.WorkflowType,
		"node_count":      info.NodeCount,
		"node_types":      info.NodeTypes,
		"expected_output": info.ExpectedOutput,
		"supports_prompt": info.SupportsPrompt,
		"requires_image":  info.RequiresImage,
		"requires_video":  info.RequiresVideo,
	}

	if dangling := w.DanglingReferences(); len(dangling) > 0 {
		slots := make([]string, 0, len(dangling))
		for _, d := range dangling {
			slots = append(slots, fmt.Sprintf("%s.%s -> %s", d.NodeID, d.Input, d.Target.NodeID))
		}
		retv["dangling_references"] = slots
	}

	// best effort; the backend may not be up when a workflow is analyzed
	if objects, err := h.Backend.GetObjectInfos(ctx); err == nil {
		retv["missing_node_types"] = objects.MissingClassTypes(w)
	} else {
		slog.Debug("Node catalog unavailable", "error", err)
	}
	return retv, nil
}

// buildWorkflow returns the request's workflow, building it from a preset when asked
func (h *Handler) buildWorkflow(req *Request, options workflows.Options) (graphapi.Workflow, workflows.Preset, error) {
	if req.Preset != "" && !req.HasWorkflow() {
		p, err := h.Registry.Get(req.Preset)
		if err != nil {
			return nil, nil, err
		}
		// the image slot is filled by the mutator once the input is staged
		w, err := p.CreateWorkflow(req.Prompt, "", options)
		if err != nil {
			return nil, nil, fmt.Errorf("preset %s: %w", req.Preset, err)
		}
		return w, p, nil
	}
	w, err := req.ParseWorkflow()
	return w, nil, err
}

func (h *Handler) generate(ctx context.Context, req *Request) (Response, error) {
	if !req.HasWorkflow() && req.Preset == "" {
		return nil, ErrMissingWorkflow
	}

	// one seed for the whole request so the preset and the option pass agree
	seed := h.Mutator.ResolveSeed(req.Options)
	options := workflows.MergeOptions(req.Options, workflows.Options{"seed": seed})

	w, preset, err := h.buildWorkflow(req, options)
	if err != nil {
		return nil, err
	}

	kind := h.Classifier.Classify(w)
	inputs := workflows.Inputs{
		HasPrompt: req.Prompt != "",
		HasImage:  req.Image != "",
		HasVideo:  req.Video != "",
	}
	if err := workflows.Validate(kind, inputs); err != nil {
		return nil, err
	}

	var image, video []byte
	if req.Image != "" {
		if image, err = DecodePayload("image", req.Image); err != nil {
			return nil, err
		}
	}
	if req.Video != "" {
		if video, err = DecodePayload("video", req.Video); err != nil {
			return nil, err
		}
	}
	if image == nil && preset != nil && preset.SupportsT2V() && h.Classifier.Groups.ImageSource.Intersects(w.ClassTypes()) {
		merged := workflows.MergeOptions(preset.DefaultOptions(), req.Options)
		if image, err = BlankImage(int(merged.Int("width", 832)), int(merged.Int("height", 832)), h.Settings.MaxPixels); err != nil {
			return nil, &DecodeError{Field: "options", Err: err}
		}
		slog.Debug("No input image, using a blank start frame", "preset", req.Preset)
	}

	params := workflows.PrepareParams{Prompt: req.Prompt, Options: options}
	if image != nil {
		if params.ImageFilename, err = h.Stager.StageImage(ctx, image); err != nil {
			return nil, fmt.Errorf("stage image: %w", err)
		}
	}
	if video != nil {
		if params.VideoFilename, err = h.Stager.StageVideo(ctx, video); err != nil {
			return nil, fmt.Errorf("stage video: %w", err)
		}
	}
	prepared := h.Mutator.Prepare(w, kind, params)

	if err := h.Backend.WaitForReady(ctx, h.Settings.ReadyAttempts, h.Settings.ReadyInterval); err != nil {
		return nil, err
	}
	item, err := h.Backend.QueuePrompt(ctx, prepared)
	if err != nil {
		return nil, err
	}
	slog.Info("Workflow queued", "prompt_id", item.PromptID, "workflow_type", kind, "nodes", prepared.NodeCount())

	history, err := h.Backend.WaitForCompletion(ctx, item.PromptID, client.WaitOptions{
		PollInterval: h.Settings.PollInterval,
		Timeout:      h.Settings.Timeout,
		Handlers:     h.Handlers,
	})
	if err != nil {
		return nil, err
	}

	files := history.OutputFiles()
	if len(files) == 0 {
		return nil, fmt.Errorf("%w for prompt %s", ErrNoOutputs, item.PromptID)
	}
	first := files[0]
	data, err := h.readOutput(ctx, first)
	if err != nil {
		return nil, fmt.Errorf("read output %s: %w", first.Filename, err)
	}

	metadata := map[string]interface{}{
		"workflow_type":   kind,
		"has_prompt":      inputs.HasPrompt,
		"has_image":       inputs.HasImage,
		"has_video":       inputs.HasVideo,
		"node_count":      prepared.NodeCount(),
		"options_applied": len(req.Options) > 0,
		"seed":            seed,
	}
	// a preset named next to a workflow is ignored
	if preset != nil {
		metadata["preset"] = req.Preset
	}
	retv := Response{
		"filename":      first.Filename,
		"prompt_id":     item.PromptID,
		"files_count":   len(files),
		"workflow_type": kind,
		"metadata":      metadata,
	}
	retv[mediaKey(kind, first.Filename)] = base64.StdEncoding.EncodeToString(data)
	return retv, nil
}

// readOutput prefers the local output directory and falls back to /view
func (h *Handler) readOutput(ctx context.Context, out client.DataOutput) ([]byte, error) {
	if h.Settings.OutputDir != "" && (out.Type == "" || out.Type == "output") {
		path := filepath.Join(h.Settings.OutputDir, out.Subfolder, out.Filename)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		slog.Debug("Output not on local disk, fetching from ComfyUI", "path", path)
	}
	return h.Backend.GetOutputFile(ctx, out)
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".webm": {}, ".mov": {}, ".mkv": {}, ".avi": {}, ".gif": {},
}

// mediaKey names the response field holding the output
func mediaKey(kind workflows.WorkflowKind, filename string) string {
	switch workflows.ExpectedOutput(kind) {
	case workflows.OutputVideo:
		return "video"
	case workflows.OutputImage:
		return "image"
	}
	if _, ok := videoExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return "video"
	}
	return "image"
}
