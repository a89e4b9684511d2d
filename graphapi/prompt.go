package graphapi

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID  string           `json:"client_id"`
	Nodes     Workflow         `json:"prompt"`
	ExtraData *PromptExtraData `json:"extra_data,omitempty"`
}

type PromptNode struct {
	// Inputs can be one of:
	//	json.Number, float64, int, int64
	//	string
	//	bool
	//	[]interface{} where: [0] is string of target node
	//					     [1] is a number holding the output slot index
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
	Meta      *NodeMeta              `json:"_meta,omitempty"`
}

// NodeMeta holds the frontend-only information ComfyUI attaches to API-format nodes.
type NodeMeta struct {
	Title string `json:"title"`
}

// Title returns the node's display title, or an empty string when none was exported.
func (n *PromptNode) Title() string {
	if n == nil || n.Meta == nil {
		return ""
	}
	return n.Meta.Title
}

// GetInput returns the raw value of the named input slot
func (n *PromptNode) GetInput(name string) (interface{}, bool) {
	if n == nil || n.Inputs == nil {
		return nil, false
	}
	v, ok := n.Inputs[name]
	return v, ok
}

// SetLiteral overwrites the named input slot with value, but only when the slot exists
// and currently holds a literal.  Linked slots are part of the graph topology and are
// never replaced.  Returns true if the slot was written.
func (n *PromptNode) SetLiteral(name string, value interface{}) bool {
	current, ok := n.GetInput(name)
	if !ok || !IsLiteral(current) {
		return false
	}
	n.Inputs[name] = value
	return true
}

type PromptExtraData struct {
	PngInfo PromptWorkflow `json:"extra_pnginfo"`
}

// PromptWorkflow is attached to generated files by ComfyUI so the information needed
// to recreate the output is available.
type PromptWorkflow struct {
	Workflow interface{} `json:"workflow"`
}
