package graphapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrUIFormatWorkflow is returned when a workflow was saved from the ComfyUI editor
// ("nodes" and "links" arrays) instead of being exported in API format.
var ErrUIFormatWorkflow = errors.New("workflow is in UI format, export it with \"Save (API Format)\"")

// Workflow is an API-format ComfyUI graph: a map of node id to node.
// Node ids are opaque strings chosen by whoever authored the graph.
type Workflow map[string]*PromptNode

// NodeIDs returns the ids of all nodes, sorted numerically where possible
func (w Workflow) NodeIDs() []string {
	retv := make([]string, 0, len(w))
	for id := range w {
		retv = append(retv, id)
	}
	sort.Slice(retv, func(i, j int) bool {
		return nodeIDLess(retv[i], retv[j])
	})
	return retv
}

// NodeCount returns the number of nodes in the workflow
func (w Workflow) NodeCount() int {
	return len(w)
}

// ClassTypes returns the set of operation types present in the workflow.
// Nil nodes and nodes without a class type are skipped.
func (w Workflow) ClassTypes() map[string]struct{} {
	retv := make(map[string]struct{})
	for _, n := range w {
		if n == nil || n.ClassType == "" {
			continue
		}
		retv[n.ClassType] = struct{}{}
	}
	return retv
}

// ClassTypeList returns the operation types present in the workflow, sorted
func (w Workflow) ClassTypeList() []string {
	set := w.ClassTypes()
	retv := make([]string, 0, len(set))
	for t := range set {
		retv = append(retv, t)
	}
	sort.Strings(retv)
	return retv
}

// GetNodeById returns the node with the given id or nil
func (w Workflow) GetNodeById(id string) *PromptNode {
	val, ok := w[id]
	if ok {
		return val
	}
	return nil
}

// ReferenceSlot identifies one linked input slot in a workflow
type ReferenceSlot struct {
	NodeID string
	Input  string
	Target Reference
}

// References returns every linked input slot in the workflow, ordered by node id and input name.
func (w Workflow) References() []ReferenceSlot {
	retv := make([]ReferenceSlot, 0)
	for _, id := range w.NodeIDs() {
		n := w[id]
		if n == nil {
			continue
		}
		names := make([]string, 0, len(n.Inputs))
		for k := range n.Inputs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if ref, ok := AsReference(n.Inputs[k]); ok {
				retv = append(retv, ReferenceSlot{NodeID: id, Input: k, Target: ref})
			}
		}
	}
	return retv
}

// DanglingReferences returns the linked slots whose target node does not exist
func (w Workflow) DanglingReferences() []ReferenceSlot {
	retv := make([]ReferenceSlot, 0)
	for _, r := range w.References() {
		if _, ok := w[r.Target.NodeID]; !ok {
			retv = append(retv, r)
		}
	}
	return retv
}

// Clone returns a deep copy of the workflow.  Mutating the copy never affects the original.
func (w Workflow) Clone() Workflow {
	if w == nil {
		return nil
	}
	retv := make(Workflow, len(w))
	for id, n := range w {
		if n == nil {
			retv[id] = nil
			continue
		}
		nn := &PromptNode{
			ClassType: n.ClassType,
		}
		if n.Inputs != nil {
			nn.Inputs = make(map[string]interface{}, len(n.Inputs))
			for k, v := range n.Inputs {
				nn.Inputs[k] = CloneValue(v)
			}
		}
		if n.Meta != nil {
			m := *n.Meta
			nn.Meta = &m
		}
		retv[id] = nn
	}
	return retv
}

// CloneValue deep copies a decoded JSON input value
func CloneValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(value))
		for k, e := range value {
			m[k] = CloneValue(e)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(value))
		for i, e := range value {
			s[i] = CloneValue(e)
		}
		return s
	case *Reference:
		if value == nil {
			return value
		}
		r := *value
		return &r
	}
	// scalars, json.Number and Reference values are immutable
	return v
}

func nodeIDLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		if ai != bi {
			return ai < bi
		}
		return a < b
	case aerr == nil:
		// numeric ids sort before compound ones like "57:8"
		return true
	case berr == nil:
		return false
	}
	return a < b
}

// NewWorkflowFromJsonReader creates a new workflow from the data read from an io.Reader.
// Numbers are kept as json.Number so large seeds survive the round trip unchanged.
func NewWorkflowFromJsonReader(r io.Reader) (Workflow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewWorkflowFromJson(data)
}

// NewWorkflowFromJson decodes an API-format workflow
func NewWorkflowFromJson(data []byte) (Workflow, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, errors.New("empty workflow")
	}

	// sniff for the editor's save format before attempting a strict decode
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("workflow must be a JSON object: %w", err)
	}
	if isUIFormat(top) {
		return nil, ErrUIFormatWorkflow
	}

	retv := make(Workflow, len(top))
	for id, raw := range top {
		node := &PromptNode{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(node); err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		if node.Inputs == nil {
			node.Inputs = make(map[string]interface{})
		}
		retv[id] = node
	}
	return retv, nil
}

// NewWorkflowFromJsonFile creates a new workflow from a JSON file
func NewWorkflowFromJsonFile(path string) (Workflow, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return NewWorkflowFromJsonReader(freader)
}

// NewWorkflowFromJsonString creates a new workflow from a JSON string
func NewWorkflowFromJsonString(data string) (Workflow, error) {
	return NewWorkflowFromJsonReader(strings.NewReader(data))
}

func isUIFormat(top map[string]json.RawMessage) bool {
	nodes, hasNodes := top["nodes"]
	_, hasLinks := top["links"]
	if !hasNodes || !hasLinks {
		return false
	}
	trimmed := bytes.TrimSpace(nodes)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// SaveWorkflowToFile writes the workflow as indented JSON
func (w Workflow) SaveWorkflowToFile(path string) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WorkflowToPrompt wraps the workflow in the body expected by ComfyUI's POST /prompt
func (w Workflow) WorkflowToPrompt(clientID string) Prompt {
	return Prompt{
		ClientID: clientID,
		Nodes:    w,
	}
}
