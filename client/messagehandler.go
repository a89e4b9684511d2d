package client

import (
	"log/slog"
)

// MessageHandlers receives the websocket events of one prompt while WaitForCompletion
// runs.  Nil callbacks are skipped.
type MessageHandlers struct {
	OnStarted   func(*PromptMessageStarted)
	OnExecuting func(*PromptMessageExecuting)
	// OnProgress reports sampler steps of the executing node
	OnProgress func(*PromptMessageProgress)
	// OnData reports files written by an output node
	OnData func(*PromptMessageData)
	// OnError runs before OnStopped when the prompt failed
	OnError func(*PromptMessageStoppedException)
	// OnStopped runs once, last, however the prompt ended
	OnStopped func(*PromptMessageStopped)
}

// DefaultMessageHandlers logs the lifecycle of a prompt through slog
func DefaultMessageHandlers() *MessageHandlers {
	return &MessageHandlers{
		OnStarted: func(msg *PromptMessageStarted) {
			slog.Info("Execution started", "prompt_id", msg.PromptID)
		},
		OnExecuting: func(msg *PromptMessageExecuting) {
			slog.Debug("Executing node", "node_id", msg.NodeID, "title", msg.Title)
		},
		OnError: func(err *PromptMessageStoppedException) {
			slog.Error("Execution error",
				"node_id", err.NodeID,
				"node_type", err.NodeType,
				"error", err.ExceptionMessage,
			)
		},
		OnStopped: func(msg *PromptMessageStopped) {
			if msg.Exception == nil && !msg.Interrupted {
				slog.Info("Execution completed", "prompt_id", msg.PromptID)
			}
		},
	}
}

// WithExecutingHandler replaces the executing handler (builder pattern)
func (h *MessageHandlers) WithExecutingHandler(fn func(*PromptMessageExecuting)) *MessageHandlers {
	h.OnExecuting = fn
	return h
}

// WithProgressHandler adds a progress handler (builder pattern)
func (h *MessageHandlers) WithProgressHandler(fn func(*PromptMessageProgress)) *MessageHandlers {
	h.OnProgress = fn
	return h
}

// WithDataHandler adds a data handler (builder pattern)
func (h *MessageHandlers) WithDataHandler(fn func(*PromptMessageData)) *MessageHandlers {
	h.OnData = fn
	return h
}

// Dispatch calls the handler matching msg.  It returns the stop message when msg ends the prompt.
func (h *MessageHandlers) Dispatch(msg PromptMessage) *PromptMessageStopped {
	if h == nil {
		h = &MessageHandlers{}
	}

	switch msg.Type {
	case "started":
		if h.OnStarted != nil {
			h.OnStarted(msg.ToPromptMessageStarted())
		}
	case "executing":
		if h.OnExecuting != nil {
			h.OnExecuting(msg.ToPromptMessageExecuting())
		}
	case "progress":
		if h.OnProgress != nil {
			h.OnProgress(msg.ToPromptMessageProgress())
		}
	case "data":
		if h.OnData != nil {
			h.OnData(msg.ToPromptMessageData())
		}
	case "stopped":
		stopped := msg.ToPromptMessageStopped()
		// Handle error first if present
		if stopped.Exception != nil && h.OnError != nil {
			h.OnError(stopped.Exception)
		}
		if h.OnStopped != nil {
			h.OnStopped(stopped)
		}
		return stopped
	default:
		slog.Warn("Unknown message type received", "type", msg.Type)
	}
	return nil
}
