package client

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic checks via errors.Is()
var (
	// ErrBackendUnavailable means ComfyUI did not answer within the readiness budget
	ErrBackendUnavailable = errors.New("comfyui backend unavailable")

	// ErrJobFailed means ComfyUI reported an error for a queued prompt
	ErrJobFailed = errors.New("comfyui job failed")

	// ErrTimeout means a queued prompt did not finish before the deadline
	ErrTimeout = errors.New("timed out waiting for comfyui job")
)

// PromptError is returned by ComfyUI when it refuses to queue a prompt:
//
//	{"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs", "details": "", "extra_info": {}},
//	 "node_errors": {}}
type PromptError struct {
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details"`
	ExtraInfo  map[string]interface{} `json:"extra_info"`
	NodeErrors map[string]interface{} `json:"-"`
	StatusCode int                    `json:"-"`
}

func (e *PromptError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Type
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if len(e.NodeErrors) > 0 {
		ids := make([]string, 0, len(e.NodeErrors))
		for id := range e.NodeErrors {
			ids = append(ids, id)
		}
		msg += fmt.Sprintf(" (node errors: %s)", strings.Join(sortedStrings(ids), ", "))
	}
	return "prompt rejected: " + msg
}

type promptErrorMessage struct {
	Error      *PromptError           `json:"error"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}

// JobError describes a prompt that ComfyUI accepted but failed to execute.
// Wraps ErrJobFailed.
type JobError struct {
	PromptID      string
	NodeID        string
	NodeType      string
	ExceptionType string
	Message       string
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(ErrJobFailed.Error())
	if e.NodeID != "" {
		fmt.Fprintf(&b, " at node %s", e.NodeID)
		if e.NodeType != "" {
			fmt.Fprintf(&b, " (%s)", e.NodeType)
		}
	}
	if e.ExceptionType != "" {
		fmt.Fprintf(&b, ": %s", e.ExceptionType)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

func (e *JobError) Unwrap() error { return ErrJobFailed }
