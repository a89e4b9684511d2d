package graphapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
)

// NodeObjects is the catalogue of node types returned by ComfyUI's /object_info
type NodeObjects struct {
	Objects map[string]*NodeObject
}

// NodeObject represents the metadata ComfyUI publishes for one node type.
type NodeObject struct {
	Input       *NodeObjectInput `json:"input"`
	Output      *[]string        `json:"output"` // output type
	OutputName  *[]string        `json:"output_name"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	OutputNode  bool             `json:"output_node"`
}

// InputNames returns the declared input names, required first, in declaration order
func (n *NodeObject) InputNames() []string {
	if n.Input == nil {
		return nil
	}
	retv := make([]string, 0, len(n.Input.OrderedRequired)+len(n.Input.OrderedOptional))
	retv = append(retv, n.Input.OrderedRequired...)
	retv = append(retv, n.Input.OrderedOptional...)
	return retv
}

type NodeObjectInput struct {
	Required        map[string]interface{} `json:"required"`
	Optional        map[string]interface{} `json:"optional,omitempty"`
	OrderedRequired []string               `json:"-"`
	OrderedOptional []string               `json:"-"`
}

// UnmarshalJSON keeps the declaration order of the inputs, which a plain map would lose.
func (noi *NodeObjectInput) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return err
	} // consume opening brace

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}

		key := t.(string)
		switch key {
		case "required", "optional":
			entries, order, err := decodeOrderedObject(dec)
			if err != nil {
				return err
			}
			if key == "required" {
				noi.Required = entries
				noi.OrderedRequired = order
			} else {
				noi.Optional = entries
				noi.OrderedOptional = order
			}
		default:
			if err := dec.Decode(new(interface{})); err != nil { // consume and ignore non-expected field
				return err
			}
		}
	}

	if _, err := dec.Token(); err != nil { // consume closing brace
		return err
	}

	return nil
}

func decodeOrderedObject(dec *json.Decoder) (map[string]interface{}, []string, error) {
	if _, err := dec.Token(); err != nil { // consume opening brace of nested object
		return nil, nil, err
	}

	entries := make(map[string]interface{})
	order := make([]string, 0)
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name := t.(string)

		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		entries[name] = v
		order = append(order, name)
	}

	if _, err := dec.Token(); err != nil { // consume closing brace of nested object
		return nil, nil, err
	}
	return entries, order, nil
}

// NewNodeObjectsFromJson decodes the body of a /object_info response
func NewNodeObjectsFromJson(data []byte) (*NodeObjects, error) {
	result := &NodeObjects{}
	if err := json.Unmarshal(data, &result.Objects); err != nil {
		return nil, err
	}
	return result, nil
}

func (n *NodeObjects) GetNodeObjectByName(name string) *NodeObject {
	if n == nil {
		return nil
	}
	val, ok := n.Objects[name]
	if ok {
		return val
	}
	return nil
}

// MissingClassTypes returns the class types used by the workflow that the backend does not
// provide, sorted.  A non-empty result means the backend will reject the prompt.
func (n *NodeObjects) MissingClassTypes(w Workflow) []string {
	retv := make([]string, 0)
	for t := range w.ClassTypes() {
		if n.GetNodeObjectByName(t) == nil {
			slog.Debug("Could not get node object for", "node type", t)
			retv = append(retv, t)
		}
	}
	sort.Strings(retv)
	return retv
}

// OutputNodeIDs returns the ids of the workflow's nodes that the backend marks as output nodes
func (n *NodeObjects) OutputNodeIDs(w Workflow) []string {
	retv := make([]string, 0)
	for _, id := range w.NodeIDs() {
		node := w[id]
		if node == nil {
			continue
		}
		if obj := n.GetNodeObjectByName(node.ClassType); obj != nil && obj.OutputNode {
			retv = append(retv, id)
		}
	}
	return retv
}
