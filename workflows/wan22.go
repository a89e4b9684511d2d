package workflows

import (
	"time"

	"github.com/richinsley/comfyrunner/graphapi"
)

// WAN22 is the two-stage WAN 2.2 image-to-video graph: a high-noise pass hands its
// leftover noise to a low-noise pass, each on its own diffusion model.
type WAN22 struct {
	now func() time.Time
}

func NewWAN22() *WAN22 {
	return &WAN22{now: time.Now}
}

func (p *WAN22) Name() string      { return "WAN 2.2" }
func (p *WAN22) Version() string   { return "2.2" }
func (p *WAN22) SupportsT2V() bool { return true }
func (p *WAN22) SupportsI2V() bool { return true }

func (p *WAN22) DefaultOptions() Options {
	return Options{
		"width":            832,
		"height":           832,
		"length":           81,
		"cfg":              1.0,
		"steps":            6,
		"frame_rate":       24,
		"shift":            8.0,
		"high_noise_steps": 3,
		"total_steps":      10000,
	}
}

func (p *WAN22) CreateWorkflow(prompt string, imageFilename string, options Options) (graphapi.Workflow, error) {
	opts := MergeOptions(p.DefaultOptions(), options)
	seed := resolveSeed(opts, p.now)

	w, err := loadTemplate("wan22")
	if err != nil {
		return nil, err
	}

	width := opts.Int("width", 832)
	height := opts.Int("height", 832)
	steps := opts.Int("steps", 6)
	cfg := opts.Float("cfg", 1.0)
	shift := opts.Float("shift", 8.0)
	highNoise := opts.Int("high_noise_steps", 3)

	writes := []struct {
		node, input string
		value       interface{}
	}{
		{"6", "text", prompt},
		{"52", "image", imageFilename},
		{"50", "width", width},
		{"50", "height", height},
		{"50", "length", opts.Int("length", 81)},
		{"54", "shift", shift},
		{"55", "shift", shift},
		{"57", "noise_seed", seed},
		{"57", "steps", steps},
		{"57", "cfg", cfg},
		{"57", "end_at_step", highNoise},
		{"58", "noise_seed", seed},
		{"58", "steps", steps},
		{"58", "cfg", cfg},
		{"58", "start_at_step", highNoise},
		{"58", "end_at_step", opts.Int("total_steps", 10000)},
		{"64", "frame_rate", opts.Int("frame_rate", 24)},
		{"68", "width", width},
		{"68", "height", height},
	}
	for _, wr := range writes {
		if err := setInput(w, wr.node, wr.input, wr.value); err != nil {
			return nil, err
		}
	}
	return w, nil
}
