package client

import (
	"strings"

	"github.com/richinsley/comfyrunner/graphapi"
)

// QueueItem is a prompt accepted by ComfyUI.  When the status watcher is running,
// websocket events for the prompt are delivered on Messages.
type QueueItem struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
	Messages   chan PromptMessage     `json:"-"`
	Workflow   graphapi.Workflow      `json:"-"`
}

// messageBuffer bounds how many websocket events may wait for a reader
const messageBuffer = 64

func newQueueItem(w graphapi.Workflow) *QueueItem {
	return &QueueItem{
		Workflow: w,
		Messages: make(chan PromptMessage, messageBuffer),
	}
}

// deliver hands a message to the item's reader without ever blocking the websocket loop
func (qi *QueueItem) deliver(m PromptMessage) bool {
	select {
	case qi.Messages <- m:
		return true
	default:
		return false
	}
}

// nodeTitle returns the display title of a node in the queued workflow.
// Compound ids like "57:8" belong to a node expanded from group "57".
func (qi *QueueItem) nodeTitle(nodeID string) string {
	if qi == nil || qi.Workflow == nil {
		return nodeID
	}
	node := qi.Workflow.GetNodeById(nodeID)
	if node == nil {
		if i := strings.IndexByte(nodeID, ':'); i > 0 {
			node = qi.Workflow.GetNodeById(nodeID[:i])
		}
	}
	if node == nil {
		return nodeID
	}
	if t := node.Title(); t != "" {
		return t
	}
	return node.ClassType
}
