package workflows

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/richinsley/comfyrunner/graphapi"
)

// PrepareParams carries the caller's request values into the mutator.
// Empty strings mean the value was not supplied.
type PrepareParams struct {
	Prompt        string
	ImageFilename string
	VideoFilename string
	Options       Options
}

// Mutator rewrites the literal inputs of a workflow.  It never adds or removes nodes
// and never touches linked slots.
type Mutator struct {
	Groups NodeGroups
	// Now supplies the fallback seed when the caller did not pick one
	Now func() time.Time
}

func NewMutator(groups NodeGroups) *Mutator {
	return &Mutator{Groups: groups, Now: time.Now}
}

var defaultMutator = NewMutator(DefaultNodeGroups())

// Prepare applies the request to a copy of w using the built-in node groups
func Prepare(w graphapi.Workflow, kind WorkflowKind, params PrepareParams) graphapi.Workflow {
	return defaultMutator.Prepare(w, kind, params)
}

// Prepare returns a deep copy of w with the prompt, image, video and option passes
// applied in that order.  A pass whose input is absent, or that finds nothing to
// rewrite, does nothing.
func (m *Mutator) Prepare(w graphapi.Workflow, kind WorkflowKind, params PrepareParams) graphapi.Workflow {
	retv := w.Clone()
	if retv == nil {
		retv = make(graphapi.Workflow)
	}

	if params.Prompt != "" {
		n := m.injectPrompt(retv, params.Prompt)
		slog.Debug("Prompt injected", "workflow_type", kind, "slots", n)
	}
	if params.ImageFilename != "" {
		n := m.injectInto(retv, m.Groups.ImageSource, imageInputNames, params.ImageFilename)
		slog.Debug("Image injected", "filename", params.ImageFilename, "slots", n)
	}
	if params.VideoFilename != "" {
		n := m.injectInto(retv, m.Groups.VideoSource, videoInputNames, params.VideoFilename)
		slog.Debug("Video injected", "filename", params.VideoFilename, "slots", n)
	}
	m.applyOptions(retv, params.Options)

	return retv
}

// ResolveSeed returns the seed the option pass writes to sampler nodes
func (m *Mutator) ResolveSeed(options Options) interface{} {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	return resolveSeed(options, now)
}

func resolveSeed(options Options, now func() time.Time) interface{} {
	v, ok := options["seed"]
	if !ok || v == nil {
		return now().Unix()
	}
	if n, isNumber := v.(json.Number); isNumber {
		// seeds may exceed int64; keep the literal digits in that case
		if i, err := n.Int64(); err == nil {
			return i
		}
		return n
	}
	if i, ok := toInt64(v); ok {
		return i
	}
	return v
}

// IsNegativePrompt reports whether a text-encode node with the given title is a
// negative or guidance prompt.  This is a case-insensitive substring match on the
// display title and nothing else.
func IsNegativePrompt(title string) bool {
	t := strings.ToLower(title)
	return strings.Contains(t, "negative") || strings.Contains(t, "bad")
}

// IsSamplerNode reports whether a class type belongs to the sampler family
func IsSamplerNode(classType string) bool {
	return strings.Contains(classType, "Sampler")
}

func (m *Mutator) injectPrompt(w graphapi.Workflow, prompt string) int {
	count := 0
	for _, id := range w.NodeIDs() {
		node := w[id]
		if node == nil || !m.Groups.TextEncode.Contains(node.ClassType) {
			continue
		}
		if IsNegativePrompt(node.Title()) {
			slog.Debug("Skipping negative prompt node", "node", id, "title", node.Title())
			continue
		}
		for _, name := range promptInputNames {
			if node.SetLiteral(name, prompt) {
				count++
			}
		}
	}
	return count
}

func (m *Mutator) injectInto(w graphapi.Workflow, group NodeGroup, inputs []string, value string) int {
	count := 0
	for _, id := range w.NodeIDs() {
		node := w[id]
		if node == nil || !group.Contains(node.ClassType) {
			continue
		}
		for _, name := range inputs {
			if node.SetLiteral(name, value) {
				count++
			}
		}
	}
	return count
}

func (m *Mutator) applyOptions(w graphapi.Workflow, options Options) {
	seed := m.ResolveSeed(options)
	for _, id := range w.NodeIDs() {
		node := w[id]
		if node == nil || !IsSamplerNode(node.ClassType) {
			continue
		}
		for _, name := range seedInputNames {
			node.SetLiteral(name, seed)
		}
	}

	for _, key := range options.Keys() {
		if key == "seed" {
			continue
		}
		value := options[key]
		if _, isRef := graphapi.AsReference(value); isRef {
			// writing a link-shaped value would add an edge to the graph
			slog.Warn("Ignoring option with a link-shaped value", "option", key)
			continue
		}
		count := 0
		for _, id := range w.NodeIDs() {
			if node := w[id]; node != nil && node.SetLiteral(key, graphapi.CloneValue(value)) {
				count++
			}
		}
		if count == 0 {
			slog.Debug("Option matched no input slots", "option", key)
		}
	}
}
