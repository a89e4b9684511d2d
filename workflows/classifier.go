package workflows

import (
	"log/slog"

	"github.com/richinsley/comfyrunner/graphapi"
)

// Classifier assigns a WorkflowKind to a workflow by looking at which node groups its
// class types fall into.  Only the set of class types matters; links are ignored.
type Classifier struct {
	Groups NodeGroups
}

func NewClassifier(groups NodeGroups) *Classifier {
	return &Classifier{Groups: groups}
}

var defaultClassifier = NewClassifier(DefaultNodeGroups())

// Classify uses the built-in node groups
func Classify(w graphapi.Workflow) WorkflowKind {
	return defaultClassifier.Classify(w)
}

// Classify never fails: anything it cannot make sense of is KindUnknown.
// Rules are evaluated in order and the first match wins.
func (c *Classifier) Classify(w graphapi.Workflow) (kind WorkflowKind) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Workflow classification failed", "error", r)
			kind = KindUnknown
		}
	}()

	types := w.ClassTypes()
	has := func(g NodeGroup) bool {
		return g.Intersects(types)
	}
	g := c.Groups

	switch {
	case has(g.VideoSource) && has(g.Upscale) && has(g.VideoSink):
		return KindVideoUpscale
	case (has(g.TextEncode) && has(g.VideoSink) && !has(g.VideoSource)) || has(g.ModelVideo):
		return KindTextToVideo
	case has(g.TextEncode) && has(g.ImageSink) && !has(g.ImageSource) && !has(g.VideoSink):
		return KindTextToImage
	case has(g.ImageSource) && has(g.ImageSink) && !has(g.VideoSink):
		return KindImageToImage
	}

	slog.Debug("Workflow did not match any known pattern", "node_types", w.ClassTypeList())
	return KindUnknown
}
