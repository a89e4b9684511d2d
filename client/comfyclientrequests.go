package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/richinsley/comfyrunner/graphapi"
)

/*
@routes.get("/embeddings")
@routes.get("/extensions")
@routes.get("/view")
@routes.get("/system_stats")
@routes.get("/prompt")
@routes.get("/object_info")
@routes.get("/history/{prompt_id}")

@routes.post("/prompt")
@routes.post("/interrupt")
@routes.post("/history")
@routes.post("/upload/image")
*/

// statusError is returned for non-2xx responses that carry no structured error
type statusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Path, e.StatusCode, e.Body)
}

func (c *ComfyClient) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, &statusError{Path: path, StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
	}
	return data, nil
}

func (c *ComfyClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path, query, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (c *ComfyClient) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, path, nil, "application/json", bytes.NewReader(data))
}

func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	retv := &SystemStats{}
	if err := c.getJSON(ctx, "/system_stats", nil, retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// WaitForReady polls /system_stats until ComfyUI answers, trying at most attempts times
// with interval between tries.  Returns ErrBackendUnavailable once the budget is spent.
func (c *ComfyClient) WaitForReady(ctx context.Context, attempts int, interval time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		statsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := c.GetSystemStats(statsCtx)
		cancel()
		if err == nil {
			if i > 0 {
				slog.Info("ComfyUI is ready", "attempts", i+1)
			}
			return nil
		}
		lastErr = err
		slog.Debug("ComfyUI not ready yet", "attempt", i+1, "of", attempts, "error", err)

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrBackendUnavailable, ctx.Err())
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("%w at %s after %d attempts: %w", ErrBackendUnavailable, c.BaseURL(), attempts, lastErr)
}

// GetEmbeddings retrieves the list of Embeddings models installed on the ComfyUI server.
func (c *ComfyClient) GetEmbeddings(ctx context.Context) ([]string, error) {
	retv := make([]string, 0)
	if err := c.getJSON(ctx, "/embeddings", nil, &retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetExtensions retrieves the list of extensions installed on the ComfyUI server.
func (c *ComfyClient) GetExtensions(ctx context.Context) ([]string, error) {
	retv := make([]string, 0)
	if err := c.getJSON(ctx, "/extensions", nil, &retv); err != nil {
		return nil, err
	}
	return retv, nil
}

func (c *ComfyClient) GetQueueExecutionInfo(ctx context.Context) (*QueueExecInfo, error) {
	retv := &QueueExecInfo{}
	if err := c.getJSON(ctx, "/prompt", nil, retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetObjectInfos retrieves the definitions of every node class installed on the server
func (c *ComfyClient) GetObjectInfos(ctx context.Context) (*graphapi.NodeObjects, error) {
	body, err := c.do(ctx, http.MethodGet, "/object_info", nil, "", nil)
	if err != nil {
		return nil, err
	}
	return graphapi.NewNodeObjectsFromJson(body)
}

// QueuePrompt submits the workflow for execution.  A refusal from ComfyUI is returned as *PromptError.
func (c *ComfyClient) QueuePrompt(ctx context.Context, w graphapi.Workflow) (*QueueItem, error) {
	prompt := w.WorkflowToPrompt(c.clientid)

	// the websocket may report on the prompt before the POST returns; those
	// events are held until the item is registered
	c.beginSubmit()
	item, err := c.postPrompt(ctx, w, prompt)

	c.routing.Lock()
	defer c.routing.Unlock()
	for _, raw := range c.endSubmit(item) {
		c.route(raw)
	}
	if err != nil {
		return nil, err
	}
	slog.Debug("Prompt queued", "prompt_id", item.PromptID, "number", item.Number)
	return item, nil
}

func (c *ComfyClient) postPrompt(ctx context.Context, w graphapi.Workflow, prompt graphapi.Prompt) (*QueueItem, error) {
	body, err := c.postJSON(ctx, "/prompt", prompt)
	if err != nil {
		var serr *statusError
		if errors.As(err, &serr) {
			if perr := parsePromptError(body, serr.StatusCode); perr != nil {
				return nil, perr
			}
		}
		return nil, err
	}

	item := newQueueItem(w)
	if err := json.Unmarshal(body, item); err != nil {
		return nil, fmt.Errorf("/prompt: %w", err)
	}
	if perr := parsePromptError(body, http.StatusOK); perr != nil {
		return nil, perr
	}
	if item.PromptID == "" {
		return nil, fmt.Errorf("/prompt: response has no prompt_id: %s", truncate(string(body), 256))
	}
	return item, nil
}

func parsePromptError(body []byte, status int) *PromptError {
	perror := &promptErrorMessage{}
	if err := json.Unmarshal(body, perror); err != nil || perror.Error == nil {
		return nil
	}
	perror.Error.NodeErrors = perror.NodeErrors
	perror.Error.StatusCode = status
	return perror.Error
}

// GetHistory returns the history entry of a prompt, or nil when ComfyUI does not know it (yet)
func (c *ComfyClient) GetHistory(ctx context.Context, promptID string) (*HistoryItem, error) {
	history := make(map[string]*HistoryItem)
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), nil, &history); err != nil {
		return nil, err
	}
	item, ok := history[promptID]
	if !ok || item == nil {
		return nil, nil
	}
	item.PromptID = promptID
	return item, nil
}

// GetOutputFile downloads a file produced by an output node
func (c *ComfyClient) GetOutputFile(ctx context.Context, output DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", output.Filename)
	params.Add("subfolder", output.Subfolder)
	params.Add("type", output.Type)
	return c.do(ctx, http.MethodGet, "/view", params, "", nil)
}
