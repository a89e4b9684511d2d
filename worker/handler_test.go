package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richinsley/comfyrunner/client"
	"github.com/richinsley/comfyrunner/workflows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t2iWorkflow = `{
  "3": {"inputs": {"seed": 1, "steps": 20, "cfg": 8, "model": ["4", 0], "positive": ["6", 0], "negative": ["7", 0], "latent_image": ["5", 0]}, "class_type": "KSampler"},
  "4": {"inputs": {"ckpt_name": "sd.safetensors"}, "class_type": "CheckpointLoaderSimple"},
  "5": {"inputs": {"width": 512, "height": 512, "batch_size": 1}, "class_type": "EmptyLatentImage"},
  "6": {"inputs": {"text": "old", "clip": ["4", 1]}, "class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}},
  "7": {"inputs": {"text": "blurry", "clip": ["4", 1]}, "class_type": "CLIPTextEncode", "_meta": {"title": "Negative"}},
  "8": {"inputs": {"samples": ["3", 0], "vae": ["4", 2]}, "class_type": "VAEDecode"},
  "9": {"inputs": {"filename_prefix": "out", "images": ["8", 0]}, "class_type": "SaveImage"}
}`

const img2imgWorkflow = `{
  "5": {"inputs": {"image": "example.png"}, "class_type": "LoadImage"},
  "9": {"inputs": {"images": ["5", 0], "filename_prefix": "out"}, "class_type": "SaveImage"}
}`

const imageHistory = `{"status": {"status_str": "success", "completed": true, "messages": []},
  "outputs": {"9": {"images": [{"filename": "out_00001_.png", "subfolder": "", "type": "output"}]}}}`

// fakeComfy answers the ComfyUI routes a generate request touches.  Every queued
// prompt is immediately finished with the configured history entry.
type fakeComfy struct {
	mu      sync.Mutex
	prompts []map[string]interface{}
	history string
	files   map[string]string

	// hangHistory makes /history accept requests and never answer
	hangHistory bool
}

func newFakeComfy(t *testing.T) (*fakeComfy, *httptest.Server) {
	f := &fakeComfy{
		history: imageHistory,
		files:   map[string]string{"out_00001_.png": "PNGDATA"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"system": {"os": "posix", "python_version": "3.11"}, "devices": [{"name": "cuda:0", "type": "cuda"}]}`)
	})
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			io.WriteString(w, `{"exec_info": {"queue_remaining": 0}}`)
			return
		}
		body := map[string]interface{}{}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		require.NoError(t, dec.Decode(&body))
		f.mu.Lock()
		f.prompts = append(f.prompts, body)
		f.mu.Unlock()
		io.WriteString(w, `{"prompt_id": "p1", "number": 1, "node_errors": {}}`)
	})
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/history/")
		f.mu.Lock()
		entry, queued, hang := f.history, len(f.prompts) > 0, f.hangHistory
		f.mu.Unlock()
		if hang {
			<-r.Context().Done()
			return
		}
		if !queued {
			io.WriteString(w, `{}`)
			return
		}
		io.WriteString(w, `{"`+id+`": `+entry+`}`)
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		data, ok := f.files[r.URL.Query().Get("filename")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, data)
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `["easynegative"]`)
	})
	mux.HandleFunc("/extensions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `["/extensions/core/a.js", "/extensions/core/b.js"]`)
	})
	mux.HandleFunc("/object_info", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
  "LoadImage": {"input": {"required": {"image": [["a.png"], {}]}}, "output": ["IMAGE", "MASK"], "output_name": ["IMAGE", "MASK"], "name": "LoadImage", "display_name": "Load Image", "category": "image", "output_node": false},
  "SaveImage": {"input": {"required": {"images": ["IMAGE"]}}, "output": [], "output_name": [], "name": "SaveImage", "display_name": "Save Image", "category": "image", "output_node": true}
}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeComfy) queuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// submittedInput returns an input of the last prompt ComfyUI received
func (f *fakeComfy) submittedInput(t *testing.T, nodeID, input string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.prompts)
	graph := f.prompts[len(f.prompts)-1]["prompt"].(map[string]interface{})
	node, ok := graph[nodeID].(map[string]interface{})
	require.True(t, ok, "node %s not submitted", nodeID)
	return node["inputs"].(map[string]interface{})[input]
}

func newTestHandler(t *testing.T, srv *httptest.Server) (*Handler, string) {
	c, err := client.NewComfyClient(srv.URL, nil)
	require.NoError(t, err)

	inputDir := t.TempDir()
	settings := Settings{
		InputDir:      inputDir,
		ReadyAttempts: 1,
		ReadyInterval: 10 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		Timeout:       5 * time.Second,
	}
	return NewHandler(c, NewFilesystemStager(inputDir), settings), inputDir
}

func pngBase64(t *testing.T) string {
	data, err := BlankImage(8, 8, 0)
	require.NoError(t, err)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func TestPing(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Action: ActionPing})
	assert.Equal(t, Response{"status": "pong"}, resp)
}

func TestUnknownAction(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Action: "explode"})
	require.Error(t, resp.Err())
	assert.Contains(t, resp["error"], "unknown action")
}

func TestGenerateRequiresWorkflow(t *testing.T) {
	f, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Prompt: "a cat"})
	assert.Equal(t, ErrMissingWorkflow.Error(), resp["error"])
	assert.Zero(t, f.queuedCount())
}

func TestGenerateValidationRejectsBeforeQueueing(t *testing.T) {
	f, srv := newFakeComfy(t)
	h, inputDir := newTestHandler(t, srv)

	// img2img without an image; the prompt alone is not enough
	resp := h.Handle(context.Background(), &Request{Workflow: json.RawMessage(img2imgWorkflow), Prompt: "x"})
	require.Error(t, resp.Err())
	assert.Contains(t, resp["error"], "validation error")
	assert.Contains(t, resp["error"], "img2img")
	assert.Zero(t, f.queuedCount())

	entries, err := os.ReadDir(inputDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be staged for a rejected request")
}

func TestGenerateTextToImage(t *testing.T) {
	f, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	req := &Request{
		Workflow: json.RawMessage(t2iWorkflow),
		Prompt:   "new",
		Options:  workflows.Options{"seed": json.Number("42"), "steps": json.Number("30")},
	}
	resp := h.Handle(context.Background(), req)
	require.NoError(t, resp.Err())

	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("PNGDATA")), resp["image"])
	assert.Equal(t, "out_00001_.png", resp["filename"])
	assert.Equal(t, "p1", resp["prompt_id"])
	assert.Equal(t, 1, resp["files_count"])
	assert.Equal(t, workflows.KindTextToImage, resp["workflow_type"])

	meta := resp["metadata"].(map[string]interface{})
	assert.Equal(t, int64(42), meta["seed"])
	assert.Equal(t, true, meta["has_prompt"])
	assert.Equal(t, false, meta["has_image"])
	assert.Equal(t, true, meta["options_applied"])
	assert.Equal(t, 7, meta["node_count"])

	assert.Equal(t, "new", f.submittedInput(t, "6", "text"))
	assert.Equal(t, "blurry", f.submittedInput(t, "7", "text"))
	assert.Equal(t, json.Number("42"), f.submittedInput(t, "3", "seed"))
	assert.Equal(t, json.Number("30"), f.submittedInput(t, "3", "steps"))
	assert.Equal(t, []interface{}{"6", json.Number("0")}, f.submittedInput(t, "3", "positive"))

	// the request's own workflow is left as it was
	assert.Contains(t, string(req.Workflow), `"text": "old"`)
}

func TestGenerateImageToImageStagesInput(t *testing.T) {
	f, srv := newFakeComfy(t)
	h, inputDir := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Workflow: json.RawMessage(img2imgWorkflow), Image: pngBase64(t)})
	require.NoError(t, resp.Err())

	staged, ok := f.submittedInput(t, "5", "image").(string)
	require.True(t, ok)
	assert.Regexp(t, `^input_image_\d+_[0-9a-f-]{8}\.png$`, staged)
	_, err := os.Stat(filepath.Join(inputDir, staged))
	assert.NoError(t, err)

	meta := resp["metadata"].(map[string]interface{})
	assert.Equal(t, true, meta["has_image"])
	assert.Equal(t, false, meta["options_applied"])
}

func TestGenerateBadImagePayload(t *testing.T) {
	f, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Workflow: json.RawMessage(img2imgWorkflow), Image: "not base64!!"})
	require.Error(t, resp.Err())
	assert.Contains(t, resp["error"], "decode error: image")
	assert.Zero(t, f.queuedCount())
}

func TestGenerateReadsLocalOutputDir(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)
	h.Settings.OutputDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(h.Settings.OutputDir, "out_00001_.png"), []byte("LOCAL"), 0o644))

	resp := h.Handle(context.Background(), &Request{Workflow: json.RawMessage(t2iWorkflow), Prompt: "p"})
	require.NoError(t, resp.Err())
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("LOCAL")), resp["image"])
}

func TestGenerateJobError(t *testing.T) {
	f, srv := newFakeComfy(t)
	f.history = `{"status": {"status_str": "error", "completed": false, "messages": [
  ["execution_error", {"prompt_id": "p1", "node_id": "3", "node_type": "KSampler", "exception_message": "CUDA out of memory", "exception_type": "torch.OutOfMemoryError"}]
]}, "outputs": {}}`
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Workflow: json.RawMessage(t2iWorkflow), Prompt: "p"})
	require.Error(t, resp.Err())
	assert.Contains(t, resp["error"], "CUDA out of memory")
}

func TestGenerateTimesOutOnUnansweredHistory(t *testing.T) {
	f, srv := newFakeComfy(t)
	f.hangHistory = true
	h, _ := newTestHandler(t, srv)
	h.Settings.Timeout = 200 * time.Millisecond

	start := time.Now()
	resp := h.Handle(context.Background(), &Request{Workflow: json.RawMessage(t2iWorkflow), Prompt: "p"})
	require.Error(t, resp.Err())
	assert.Contains(t, resp["error"], client.ErrTimeout.Error())
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 1, f.queuedCount())
}

func TestGenerateNoOutputs(t *testing.T) {
	f, srv := newFakeComfy(t)
	f.history = `{"status": {"status_str": "success", "completed": true, "messages": []}, "outputs": {}}`
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Workflow: json.RawMessage(t2iWorkflow), Prompt: "p"})
	assert.Contains(t, resp["error"], ErrNoOutputs.Error())
}

func TestGenerateWAN22PresetWithoutImage(t *testing.T) {
	f, srv := newFakeComfy(t)
	f.history = `{"status": {"status_str": "success", "completed": true, "messages": []},
  "outputs": {"70": {"gifs": [{"filename": "wan_00001.mp4", "subfolder": "", "type": "output", "format": "video/h264-mp4"}]}}}`
	f.files["wan_00001.mp4"] = "MP4DATA"
	h, inputDir := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{
		Preset:  "wan22",
		Prompt:  "a boat at sea",
		Options: workflows.Options{"seed": json.Number("7"), "width": json.Number("64"), "height": json.Number("48")},
	})
	require.NoError(t, resp.Err())
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("MP4DATA")), resp["video"])
	assert.Equal(t, workflows.KindTextToVideo, resp["workflow_type"])

	assert.Equal(t, "a boat at sea", f.submittedInput(t, "6", "text"))
	assert.Equal(t, json.Number("7"), f.submittedInput(t, "57", "noise_seed"))
	assert.Equal(t, json.Number("7"), f.submittedInput(t, "58", "noise_seed"))

	// a black start frame of the requested size was staged for the image loader
	staged := f.submittedInput(t, "52", "image").(string)
	data, err := os.ReadFile(filepath.Join(inputDir, staged))
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)

	meta := resp["metadata"].(map[string]interface{})
	assert.Equal(t, "wan22", meta["preset"])
	assert.Equal(t, false, meta["has_image"])
}

func TestGenerateRejectsOversizedStartFrame(t *testing.T) {
	f, srv := newFakeComfy(t)
	h, inputDir := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{
		Preset:  "wan22",
		Prompt:  "a cat",
		Options: workflows.Options{"width": json.Number("40000"), "height": json.Number("40000")},
	})
	require.Error(t, resp.Err())
	assert.Contains(t, resp["error"], "decode error: options")
	assert.Contains(t, resp["error"], ErrImageTooLarge.Error())

	h.Settings.MaxPixels = 64*48 - 1
	resp = h.Handle(context.Background(), &Request{
		Preset:  "wan22",
		Prompt:  "a cat",
		Options: workflows.Options{"width": json.Number("64"), "height": json.Number("48")},
	})
	assert.Contains(t, resp["error"], ErrImageTooLarge.Error())

	assert.Zero(t, f.queuedCount())
	entries, err := os.ReadDir(inputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateRejectsOversizedImage(t *testing.T) {
	f, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{
		Workflow: json.RawMessage(img2imgWorkflow),
		Image:    base64.StdEncoding.EncodeToString(hugeGIFHeader()),
	})
	require.Error(t, resp.Err())
	assert.Contains(t, resp["error"], "decode error: image")
	assert.Contains(t, resp["error"], ErrImageTooLarge.Error())
	assert.Zero(t, f.queuedCount())
}

func TestGenerateIgnoresPresetNextToWorkflow(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Workflow: json.RawMessage(t2iWorkflow), Preset: "wan22", Prompt: "p"})
	require.NoError(t, resp.Err())
	assert.Equal(t, workflows.KindTextToImage, resp["workflow_type"])
	meta := resp["metadata"].(map[string]interface{})
	assert.NotContains(t, meta, "preset")
}

func TestGenerateUnknownPreset(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Preset: "nope", Prompt: "x"})
	assert.Contains(t, resp["error"], workflows.ErrPresetNotFound.Error())
}

func TestSimpleTestPresetNeedsImage(t *testing.T) {
	f, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Preset: "simple_test", Prompt: "x"})
	assert.Contains(t, resp["error"], "requires an input image")
	assert.Zero(t, f.queuedCount())
}

func TestAnalyzeWorkflow(t *testing.T) {
	f, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Action: ActionAnalyze, Workflow: json.RawMessage(t2iWorkflow)})
	require.NoError(t, resp.Err())
	assert.Equal(t, workflows.KindTextToImage, resp["workflow_type"])
	assert.Equal(t, 7, resp["node_count"])
	assert.Equal(t, workflows.OutputImage, resp["expected_output"])
	assert.Equal(t, true, resp["supports_prompt"])
	assert.Equal(t, []string{"CLIPTextEncode", "CheckpointLoaderSimple", "EmptyLatentImage", "KSampler", "VAEDecode"}, resp["missing_node_types"])
	assert.Zero(t, f.queuedCount())

	assert.NotContains(t, resp, "dangling_references")

	resp = h.Handle(context.Background(), &Request{Action: ActionAnalyze, Workflow: json.RawMessage(img2imgWorkflow)})
	assert.Empty(t, resp["missing_node_types"])

	broken := `{"9": {"inputs": {"images": ["8", 0]}, "class_type": "SaveImage"}}`
	resp = h.Handle(context.Background(), &Request{Action: ActionAnalyze, Workflow: json.RawMessage(broken)})
	assert.Equal(t, []string{"9.images -> 8"}, resp["dangling_references"])

	resp = h.Handle(context.Background(), &Request{Action: ActionAnalyze})
	assert.Equal(t, ErrMissingWorkflow.Error(), resp["error"])
}

func TestHealthCheck(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Action: ActionHealthCheck})
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, true, resp["comfy_reachable"])
	assert.Equal(t, 0, resp["queue_remaining"])

	srv.Close()
	resp = h.Handle(context.Background(), &Request{Action: ActionHealthCheck})
	assert.Equal(t, "unhealthy", resp["status"])
	assert.Equal(t, false, resp["comfy_reachable"])
	assert.Nil(t, resp.Err())
}

func TestDebugSystem(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, inputDir := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Action: ActionDebugSystem})
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, []string{"cuda:0"}, resp["devices"])
	assert.Equal(t, []string{"simple_test", "wan22"}, resp["presets"])
	assert.Equal(t, []string{"easynegative"}, resp["embeddings"])
	assert.Equal(t, 2, resp["extensions_count"])
	assert.Equal(t, map[string]interface{}{"connected": false, "queue_remaining": 0}, resp["status_watcher"])

	dirs := resp["directories"].(map[string]interface{})
	assert.Equal(t, inputDir, dirs["input_dir"])
	assert.Equal(t, true, dirs["input_dir_exists"])
	assert.Equal(t, false, dirs["output_dir_exists"])
}

func TestListPresets(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Action: ActionListPresets})
	infos := resp["presets"].([]workflows.PresetInfo)
	require.Len(t, infos, 2)
	assert.Equal(t, "simple_test", infos[0].Key)
	assert.Equal(t, "wan22", infos[1].Key)
}

func TestRestartComfyUI(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)

	resp := h.Handle(context.Background(), &Request{Action: ActionRestartComfyUI})
	assert.Contains(t, resp["error"], "no restart command")

	var ran string
	h.Settings.RestartCommand = "supervisorctl restart comfyui"
	h.RunCommand = func(ctx context.Context, command string) error {
		ran = command
		return nil
	}
	resp = h.Handle(context.Background(), &Request{Action: ActionRestartComfyUI})
	require.NoError(t, resp.Err())
	assert.Equal(t, "restarted", resp["status"])
	assert.Equal(t, "supervisorctl restart comfyui", ran)

	h.RunCommand = func(ctx context.Context, command string) error { return errors.New("exit status 1") }
	resp = h.Handle(context.Background(), &Request{Action: ActionRestartComfyUI})
	assert.Contains(t, resp["error"], "restart command failed")
}

type panickyStager struct{}

func (panickyStager) StageImage(ctx context.Context, data []byte) (string, error) { panic("disk on fire") }
func (panickyStager) StageVideo(ctx context.Context, data []byte) (string, error) { panic("disk on fire") }

func TestHandleRecoversFromPanic(t *testing.T) {
	_, srv := newFakeComfy(t)
	h, _ := newTestHandler(t, srv)
	h.Stager = panickyStager{}

	resp := h.Handle(context.Background(), &Request{Workflow: json.RawMessage(img2imgWorkflow), Image: pngBase64(t)})
	assert.Equal(t, "internal error: disk on fire", resp["error"])
}

func TestMediaKey(t *testing.T) {
	assert.Equal(t, "video", mediaKey(workflows.KindTextToVideo, "x.png"))
	assert.Equal(t, "image", mediaKey(workflows.KindImageToImage, "x.mp4"))
	assert.Equal(t, "video", mediaKey(workflows.KindUnknown, "clip.MP4"))
	assert.Equal(t, "image", mediaKey(workflows.KindUnknown, "still.png"))
}
