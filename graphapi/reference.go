package graphapi

import (
	"encoding/json"
	"fmt"
	"math"
)

// Reference is an input slot that takes output Slot of node NodeID.
// In API-format JSON it is encoded as ["<node id>", <slot>].
type Reference struct {
	NodeID string
	Slot   int
}

func (r Reference) String() string {
	return fmt.Sprintf("%s:%d", r.NodeID, r.Slot)
}

func (r Reference) MarshalJSON() ([]byte, error) {
	tmp := []interface{}{r.NodeID, r.Slot}
	return json.Marshal(tmp)
}

// AsReference reports whether v is a link to another node's output and decodes it.
func AsReference(v interface{}) (Reference, bool) {
	switch value := v.(type) {
	case Reference:
		return value, true
	case *Reference:
		if value == nil {
			return Reference{}, false
		}
		return *value, true
	case []interface{}:
		if len(value) != 2 {
			return Reference{}, false
		}
		id, ok := value[0].(string)
		if !ok {
			return Reference{}, false
		}
		slot, ok := slotIndex(value[1])
		if !ok {
			return Reference{}, false
		}
		return Reference{NodeID: id, Slot: slot}, true
	}
	return Reference{}, false
}

// IsLiteral reports whether v is a plain value rather than a link
func IsLiteral(v interface{}) bool {
	_, isRef := AsReference(v)
	return !isRef
}

func slotIndex(v interface{}) (int, bool) {
	switch value := v.(type) {
	case int:
		return value, true
	case int64:
		return int(value), true
	case float64:
		if value != math.Trunc(value) {
			return 0, false
		}
		return int(value), true
	case json.Number:
		i, err := value.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
