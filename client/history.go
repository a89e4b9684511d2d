package client

import (
	"encoding/json"
	"sort"
	"strconv"
)

// mediaOutputKeys are the output lists that reference produced files
var mediaOutputKeys = []string{"images", "gifs", "videos"}

// HistoryItem is one entry of GET /history/{prompt_id}:
//
//	{"status": {"status_str": "success", "completed": true, "messages": [...]},
//	 "outputs": {"9": {"images": [{"filename": "ComfyUI_00001_.png", "subfolder": "", "type": "output"}]}}}
type HistoryItem struct {
	PromptID string                                `json:"-"`
	Status   HistoryStatus                         `json:"status"`
	Outputs  map[string]map[string]json.RawMessage `json:"outputs"`
}

type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Error     interface{}       `json:"error,omitempty"`
	Messages  []json.RawMessage `json:"messages"`
}

// Failure returns the job error recorded in the history entry, or nil if the prompt did not fail
func (h *HistoryItem) Failure() error {
	if h == nil {
		return nil
	}
	if h.Status.Error != nil {
		msg, ok := h.Status.Error.(string)
		if !ok {
			b, _ := json.Marshal(h.Status.Error)
			msg = string(b)
		}
		return &JobError{PromptID: h.PromptID, Message: msg}
	}
	if h.Status.StatusStr != "error" {
		return nil
	}

	// messages are ["event_name", {...}] pairs; the execution_error one carries the details
	for _, raw := range h.Status.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil || name != "execution_error" {
			continue
		}
		var detail WSMessageExecutionError
		if err := json.Unmarshal(pair[1], &detail); err != nil {
			continue
		}
		return &JobError{
			PromptID:      h.PromptID,
			NodeID:        detail.Node,
			NodeType:      detail.NodeType,
			ExceptionType: detail.ExceptionType,
			Message:       detail.ExceptionMessage,
		}
	}
	return &JobError{PromptID: h.PromptID, Message: "status error"}
}

// Done reports whether ComfyUI finished the prompt, successfully or not
func (h *HistoryItem) Done() bool {
	return h != nil && (h.Status.Completed || h.Failure() != nil)
}

// OutputFiles collects the files listed under images, gifs and videos of every output node,
// ordered by node id
func (h *HistoryItem) OutputFiles() []DataOutput {
	if h == nil {
		return nil
	}
	ids := make([]string, 0, len(h.Outputs))
	for id := range h.Outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ai, aerr := strconv.Atoi(ids[i])
		bi, berr := strconv.Atoi(ids[j])
		if aerr == nil && berr == nil {
			return ai < bi
		}
		return ids[i] < ids[j]
	})

	retv := make([]DataOutput, 0)
	for _, id := range ids {
		node := h.Outputs[id]
		for _, key := range mediaOutputKeys {
			raw, ok := node[key]
			if !ok {
				continue
			}
			entries, ok := decodeDataOutputs(raw)
			if !ok {
				continue
			}
			for _, e := range entries {
				if e.Filename != "" {
					retv = append(retv, e)
				}
			}
		}
	}
	return retv
}
