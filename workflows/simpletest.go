package workflows

import (
	"time"

	"github.com/richinsley/comfyrunner/graphapi"
)

// SimpleTest is a small SDXL image-to-image graph used to check that the backend
// and the worker are wired together.
type SimpleTest struct {
	now func() time.Time
}

func NewSimpleTest() *SimpleTest {
	return &SimpleTest{now: time.Now}
}

func (p *SimpleTest) Name() string      { return "Simple Test" }
func (p *SimpleTest) Version() string   { return "1.0" }
func (p *SimpleTest) SupportsT2V() bool { return false }
func (p *SimpleTest) SupportsI2V() bool { return true }

func (p *SimpleTest) DefaultOptions() Options {
	return Options{
		"width":        512,
		"height":       512,
		"steps":        4,
		"cfg":          7.0,
		"sampler_name": "euler",
		"scheduler":    "normal",
	}
}

func (p *SimpleTest) CreateWorkflow(prompt string, imageFilename string, options Options) (graphapi.Workflow, error) {
	opts := MergeOptions(p.DefaultOptions(), options)

	w, err := loadTemplate("simple_test")
	if err != nil {
		return nil, err
	}

	writes := []struct {
		node, input string
		value       interface{}
	}{
		{"1", "text", prompt},
		{"3", "seed", resolveSeed(opts, p.now)},
		{"3", "steps", opts.Int("steps", 4)},
		{"3", "cfg", opts.Float("cfg", 7.0)},
		{"3", "sampler_name", opts.String("sampler_name", "euler")},
		{"3", "scheduler", opts.String("scheduler", "normal")},
		{"5", "image", imageFilename},
		{"8", "width", opts.Int("width", 512)},
		{"8", "height", opts.Int("height", 512)},
	}
	for _, wr := range writes {
		if err := setInput(w, wr.node, wr.input, wr.value); err != nil {
			return nil, err
		}
	}
	return w, nil
}
