package workflows

import (
	"embed"
	"fmt"
	"sort"
	"sync"

	"github.com/richinsley/comfyrunner/graphapi"
)

//go:embed presets/*.json
var presetTemplates embed.FS

// Preset builds a complete workflow from a prompt, a staged image and options.
type Preset interface {
	Name() string
	Version() string
	DefaultOptions() Options
	SupportsT2V() bool
	SupportsI2V() bool
	CreateWorkflow(prompt string, imageFilename string, options Options) (graphapi.Workflow, error)
}

// Factory constructs a preset
type Factory func() Preset

// PresetInfo is the serializable description of a registered preset
type PresetInfo struct {
	Key            string  `json:"key"`
	Name           string  `json:"name"`
	Version        string  `json:"version"`
	SupportsT2V    bool    `json:"supports_t2v"`
	SupportsI2V    bool    `json:"supports_i2v"`
	DefaultOptions Options `json:"default_options"`
}

// Registry maps preset keys to factories.  Presets are registered at startup and
// looked up by key afterwards; lookups are safe from concurrent requests.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a preset factory under key.  Keys must be unique.
func (r *Registry) Register(key string, factory Factory) error {
	if key == "" || factory == nil {
		return fmt.Errorf("invalid preset registration %q", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePreset, key)
	}
	r.factories[key] = factory
	return nil
}

// Get returns a new instance of the preset registered under key
func (r *Registry) Get(key string) (Preset, error) {
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPresetNotFound, key)
	}
	return factory(), nil
}

// List returns the registered keys, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	retv := make([]string, 0, len(r.factories))
	for k := range r.factories {
		retv = append(retv, k)
	}
	sort.Strings(retv)
	return retv
}

// Info describes every registered preset, ordered by key
func (r *Registry) Info() []PresetInfo {
	keys := r.List()
	retv := make([]PresetInfo, 0, len(keys))
	for _, k := range keys {
		p, err := r.Get(k)
		if err != nil {
			continue
		}
		retv = append(retv, PresetInfo{
			Key:            k,
			Name:           p.Name(),
			Version:        p.Version(),
			SupportsT2V:    p.SupportsT2V(),
			SupportsI2V:    p.SupportsI2V(),
			DefaultOptions: p.DefaultOptions(),
		})
	}
	return retv
}

// RegisterBuiltins registers the presets shipped with comfyrunner
func RegisterBuiltins(r *Registry) error {
	if err := r.Register("wan22", func() Preset { return NewWAN22() }); err != nil {
		return err
	}
	return r.Register("simple_test", func() Preset { return NewSimpleTest() })
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry with the built-in presets
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		if err := RegisterBuiltins(defaultRegistry); err != nil {
			panic(err)
		}
	})
	return defaultRegistry
}

func loadTemplate(name string) (graphapi.Workflow, error) {
	data, err := presetTemplates.ReadFile("presets/" + name + ".json")
	if err != nil {
		return nil, err
	}
	return graphapi.NewWorkflowFromJson(data)
}

// setInput writes a template slot, whether or not it currently holds a literal
func setInput(w graphapi.Workflow, nodeID, input string, value interface{}) error {
	node := w.GetNodeById(nodeID)
	if node == nil {
		return fmt.Errorf("preset template has no node %s", nodeID)
	}
	node.Inputs[input] = value
	return nil
}
