package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/richinsley/comfyrunner/graphapi"
	"github.com/richinsley/comfyrunner/workflows"
)

// Actions understood by Handler.Handle.  An empty action generates.
const (
	ActionGenerate       = "generate"
	ActionAnalyze        = "analyze_workflow"
	ActionDebugSystem    = "debug_system"
	ActionHealthCheck    = "health_check"
	ActionPing           = "ping"
	ActionRestartComfyUI = "restart_comfyui"
	ActionListPresets    = "list_presets"
)

// Request is one job.  It arrives either bare or wrapped as {"input": {...}}.
type Request struct {
	Action   string            `json:"action,omitempty"`
	Workflow json.RawMessage   `json:"workflow,omitempty"`
	Preset   string            `json:"preset,omitempty"`
	Prompt   string            `json:"prompt,omitempty"`
	Image    string            `json:"image,omitempty"` // base64, optional data: prefix
	Video    string            `json:"video,omitempty"` // base64, optional data: prefix
	Options  workflows.Options `json:"options,omitempty"`
}

// Response is the JSON object returned for a request.  Failures carry a single "error" key.
type Response map[string]interface{}

func errorResponse(err error) Response {
	return Response{"error": err.Error()}
}

// Err returns the failure carried by r, or nil
func (r Response) Err() error {
	if msg, ok := r["error"].(string); ok {
		return errors.New(msg)
	}
	return nil
}

// DecodeRequest parses a request, unwrapping an "input" envelope if present.
// Numbers in options are kept as json.Number.
func DecodeRequest(data []byte) (*Request, error) {
	var envelope struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Field: "request", Err: err}
	}
	if len(envelope.Input) > 0 && !bytes.Equal(envelope.Input, []byte("null")) {
		data = envelope.Input
	}

	req := &Request{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(req); err != nil {
		return nil, &DecodeError{Field: "input", Err: err}
	}
	return req, nil
}

// ReadRequest reads and decodes a request from r
func ReadRequest(r io.Reader) (*Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(data)
}

// HasWorkflow reports whether the request carries a workflow graph
func (r *Request) HasWorkflow() bool {
	raw := bytes.TrimSpace(r.Workflow)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// ParseWorkflow decodes the request's workflow.  A workflow sent as a JSON string
// holding the graph is accepted too.
func (r *Request) ParseWorkflow() (graphapi.Workflow, error) {
	if !r.HasWorkflow() {
		return nil, ErrMissingWorkflow
	}
	raw := bytes.TrimSpace(r.Workflow)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, &DecodeError{Field: "workflow", Err: err}
		}
		raw = []byte(s)
	}
	w, err := graphapi.NewWorkflowFromJson(raw)
	if err != nil {
		return nil, &DecodeError{Field: "workflow", Err: err}
	}
	return w, nil
}
