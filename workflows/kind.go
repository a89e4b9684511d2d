// Package workflows works out what kind of job an arbitrary ComfyUI workflow performs,
// checks that a request carries the inputs that kind of job needs, and rewrites the
// workflow's literal inputs to match the request.
package workflows

// WorkflowKind is the job category inferred from a workflow's node types
type WorkflowKind string

const (
	KindTextToVideo  WorkflowKind = "t2v"
	KindTextToImage  WorkflowKind = "t2i"
	KindImageToImage WorkflowKind = "img2img"
	KindVideoUpscale WorkflowKind = "video_upscale"
	KindUnknown      WorkflowKind = "unknown"
)

func (k WorkflowKind) String() string {
	return string(k)
}

// OutputKind is the media type a workflow kind is expected to produce
type OutputKind string

const (
	OutputVideo   OutputKind = "video"
	OutputImage   OutputKind = "image"
	OutputUnknown OutputKind = "unknown"
)

// ExpectedOutput returns the media type produced by workflows of the given kind
func ExpectedOutput(kind WorkflowKind) OutputKind {
	switch kind {
	case KindTextToVideo, KindVideoUpscale:
		return OutputVideo
	case KindTextToImage, KindImageToImage:
		return OutputImage
	}
	return OutputUnknown
}

// AcceptsPrompt reports whether workflows of the given kind are driven by a text prompt
func AcceptsPrompt(kind WorkflowKind) bool {
	return kind == KindTextToVideo || kind == KindTextToImage
}

// RequiresImage reports whether workflows of the given kind need an input image
func RequiresImage(kind WorkflowKind) bool {
	return kind == KindImageToImage
}

// RequiresVideo reports whether workflows of the given kind need an input video
func RequiresVideo(kind WorkflowKind) bool {
	return kind == KindVideoUpscale
}
