package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode means a request field could not be decoded
	ErrDecode = errors.New("decode error")
	// ErrMissingWorkflow means a request needed a workflow (or preset) and had none
	ErrMissingWorkflow = errors.New("workflow is required")
	// ErrNoOutputs means ComfyUI finished the prompt without producing a file
	ErrNoOutputs = errors.New("no output files found")
	// ErrUnknownAction means the request named an action the handler does not implement
	ErrUnknownAction = errors.New("unknown action")
	// ErrImageTooLarge means an image's dimensions exceed the configured pixel cap
	ErrImageTooLarge = errors.New("image too large")
)

// DecodeError reports a malformed request field such as a bad base64 payload.
// Wraps ErrDecode.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrDecode.Error(), e.Field)
	}
	return fmt.Sprintf("%s: %s: %v", ErrDecode.Error(), e.Field, e.Err)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }
