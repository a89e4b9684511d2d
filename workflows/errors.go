package workflows

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic checks via errors.Is()
var (
	// ErrValidation means the request's inputs do not satisfy the classified workflow kind.
	ErrValidation = errors.New("validation error")

	ErrPresetNotFound  = errors.New("preset not found")
	ErrDuplicatePreset = errors.New("preset already registered")
)

// ValidationError reports which input a workflow kind was missing.
// Wraps ErrValidation.
type ValidationError struct {
	Kind    WorkflowKind
	Missing string // "prompt", "image" or "video"
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	var what string
	switch e.Missing {
	case "prompt":
		what = "a text prompt"
	case "image":
		what = "an input image"
	case "video":
		what = "an input video"
	default:
		what = e.Missing
	}
	return fmt.Sprintf("%s: %s workflow requires %s", ErrValidation.Error(), e.Kind, what)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
