package workflows

import "log/slog"

// Inputs records which of the optional request inputs were supplied
type Inputs struct {
	HasPrompt bool
	HasImage  bool
	HasVideo  bool
}

// Validate checks that the supplied inputs are enough to run a workflow of the given kind.
// It has no side effects other than logging and must run before anything is staged or queued.
func Validate(kind WorkflowKind, in Inputs) error {
	switch kind {
	case KindTextToVideo, KindTextToImage:
		if !in.HasPrompt {
			return &ValidationError{Kind: kind, Missing: "prompt"}
		}
	case KindImageToImage:
		if !in.HasImage {
			return &ValidationError{Kind: kind, Missing: "image"}
		}
	case KindVideoUpscale:
		if !in.HasVideo {
			return &ValidationError{Kind: kind, Missing: "video"}
		}
	default:
		slog.Warn("Workflow type could not be determined, skipping input validation")
	}
	return nil
}
