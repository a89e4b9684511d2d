package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type QueuedItemStoppedReason string

const (
	QueuedItemStoppedReasonFinished    QueuedItemStoppedReason = "finished"
	QueuedItemStoppedReasonInterrupted QueuedItemStoppedReason = "interrupted"
	QueuedItemStoppedReasonError       QueuedItemStoppedReason = "error"
)

// ComfyClientCallbacks are client-wide websocket notifications; per-prompt events go to
// the MessageHandlers passed to WaitForCompletion.  Both run on the websocket goroutine.
type ComfyClientCallbacks struct {
	ClientQueueCountChanged func(*ComfyClient, int)
	QueuedItemStopped       func(*ComfyClient, *QueueItem, QueuedItemStoppedReason)
}

// ComfyClient is the top level object that allows for interaction with the ComfyUI backend
type ComfyClient struct {
	baseURL    *url.URL
	clientid   string
	callbacks  *ComfyClientCallbacks
	httpclient *http.Client

	// routing is held while a websocket message is routed and while a newly queued
	// item is registered, so events buffered during submission are replayed in order
	routing sync.Mutex

	mu          sync.Mutex
	queueditems map[string]*QueueItem
	queuecount  int
	webSocket   *WebSocketConnection
	// submitting counts prompts posted but not yet registered; while it is non-zero,
	// events for unknown prompt ids are kept in early
	submitting int
	early      map[string][]string
}

// NewComfyClient creates a client for the ComfyUI server at serverURL, e.g. "http://127.0.0.1:8188".
// A bare "host:port" is treated as http.
func NewComfyClient(serverURL string, callbacks *ComfyClientCallbacks) (*ComfyClient, error) {
	return NewComfyClientWithTimeout(serverURL, callbacks, 0)
}

// NewComfyClientWithTimeout is NewComfyClient with a per-request HTTP timeout.
// Zero means no timeout; downloads of large outputs count against it.
func NewComfyClientWithTimeout(serverURL string, callbacks *ComfyClientCallbacks, timeout time.Duration) (*ComfyClient, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid comfyui url %q: %w", serverURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid comfyui url %q: missing host", serverURL)
	}

	return &ComfyClient{
		baseURL:     u,
		clientid:    uuid.New().String(),
		callbacks:   callbacks,
		httpclient:  &http.Client{Timeout: timeout},
		queueditems: make(map[string]*QueueItem),
		early:       make(map[string][]string),
	}, nil
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// BaseURL returns the ComfyUI server address
func (c *ComfyClient) BaseURL() string {
	return c.baseURL.String()
}

// QueueCount returns the last queue length reported over the websocket
func (c *ComfyClient) QueueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queuecount
}

func (c *ComfyClient) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *ComfyClient) websocketURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientid}}.Encode()
	return u.String()
}

// StartStatusWatcher opens the websocket to ComfyUI and routes its events to queued items
// until ctx is cancelled.  It returns once the first connection succeeds, or with an error
// if it could not connect before connectTimeout.  Polling still works when the watcher
// is not running.
func (c *ComfyClient) StartStatusWatcher(ctx context.Context, connectTimeout time.Duration) error {
	ws := &WebSocketConnection{
		WebSocketURL: c.websocketURL(),
		MaxRetry:     5,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		Callback:     c,
	}

	c.mu.Lock()
	c.webSocket = ws
	c.mu.Unlock()

	connected := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		err := ws.Run(ctx, connected)
		if err != nil && ctx.Err() == nil {
			slog.Warn("Status watcher stopped", "error", err)
		}
		done <- err
	}()

	var timeout <-chan time.Time
	if connectTimeout > 0 {
		timeout = time.After(connectTimeout)
	}
	select {
	case <-connected:
		slog.Debug("Status watcher connected", "url", ws.WebSocketURL)
		return nil
	case err := <-done:
		return err
	case <-timeout:
		return fmt.Errorf("status watcher: connection timeout after %v", connectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WatcherConnected reports whether the status watcher websocket is open
func (c *ComfyClient) WatcherConnected() bool {
	c.mu.Lock()
	ws := c.webSocket
	c.mu.Unlock()
	return ws != nil && ws.IsConnected()
}

// GetQueuedItem returns a QueueItem that was queued with the ComfyClient, that has not been processed yet
// or is currently being processed.  Once a QueueItem has been processed, it will not be available with this method.
func (c *ComfyClient) GetQueuedItem(promptID string) *QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueditems[promptID]
}

// ForgetQueuedItem stops routing websocket events to the prompt
func (c *ComfyClient) ForgetQueuedItem(promptID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queueditems, promptID)
}

// beginSubmit marks a prompt submission in flight
func (c *ComfyClient) beginSubmit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting++
}

// endSubmit ends a submission, registering item when it was accepted.  It returns
// the events that arrived for item before it was registered.
func (c *ComfyClient) endSubmit(item *QueueItem) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var early []string
	if item != nil {
		c.queueditems[item.PromptID] = item
		early = c.early[item.PromptID]
		delete(c.early, item.PromptID)
	}
	c.submitting--
	if c.submitting == 0 && len(c.early) > 0 {
		// events of prompts this client never registered
		c.early = make(map[string][]string)
	}
	return early
}

// queuedItemFor returns the item for promptID.  Unknown ids are buffered while a
// submission is in flight, up to messageBuffer events per id.
func (c *ComfyClient) queuedItemFor(promptID, raw string) *QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	if qi := c.queueditems[promptID]; qi != nil {
		return qi
	}
	if c.submitting > 0 && promptID != "" && len(c.early[promptID]) < messageBuffer {
		c.early[promptID] = append(c.early[promptID], raw)
	}
	return nil
}

// OnMessage processes each message received from the websocket connection to ComfyUI.
// The messages are parsed, translated into PromptMessage structs and placed into the
// matching QueueItem's message channel.
func (c *ComfyClient) OnMessage(msg string) {
	c.routing.Lock()
	defer c.routing.Unlock()
	c.route(msg)
}

func (c *ComfyClient) route(msg string) {
	message := &WSStatusMessage{}
	if err := json.Unmarshal([]byte(msg), message); err != nil {
		slog.Error("Deserializing status message", "error", err)
		return
	}

	switch data := message.Data.(type) {
	case *WSMessageDataStatus:
		remaining := data.Status.ExecInfo.QueueRemaining
		c.mu.Lock()
		c.queuecount = remaining
		c.mu.Unlock()
		if c.callbacks != nil && c.callbacks.ClientQueueCountChanged != nil {
			c.callbacks.ClientQueueCountChanged(c, remaining)
		}
	case *WSMessageDataExecutionStart:
		if qi := c.queuedItemFor(data.PromptID, msg); qi != nil {
			qi.deliver(PromptMessage{Type: "started", Message: &PromptMessageStarted{PromptID: qi.PromptID}})
		}
	case *WSMessageDataExecuting:
		qi := c.queuedItemFor(data.PromptID, msg)
		if qi == nil {
			return
		}
		if data.Node == nil {
			// final node was processed
			c.stopItem(qi, QueuedItemStoppedReasonFinished, &PromptMessageStopped{PromptID: qi.PromptID})
			return
		}
		qi.deliver(PromptMessage{
			Type:    "executing",
			Message: &PromptMessageExecuting{NodeID: *data.Node, Title: qi.nodeTitle(*data.Node)},
		})
	case *WSMessageDataProgress:
		if qi := c.queuedItemFor(data.PromptID, msg); qi != nil {
			qi.deliver(PromptMessage{
				Type:    "progress",
				Message: &PromptMessageProgress{NodeID: data.Node, Value: data.Value, Max: data.Max},
			})
		}
	case *WSMessageDataExecuted:
		if qi := c.queuedItemFor(data.PromptID, msg); qi != nil {
			qi.deliver(PromptMessage{Type: "data", Message: &PromptMessageData{NodeID: data.Node, Data: data.Output}})
		}
	case *WSMessageExecutionInterrupted:
		if qi := c.queuedItemFor(data.PromptID, msg); qi != nil {
			c.stopItem(qi, QueuedItemStoppedReasonInterrupted, &PromptMessageStopped{PromptID: qi.PromptID, Interrupted: true})
		}
	case *WSMessageExecutionError:
		if qi := c.queuedItemFor(data.PromptID, msg); qi != nil {
			c.stopItem(qi, QueuedItemStoppedReasonError, &PromptMessageStopped{
				PromptID: qi.PromptID,
				Exception: &PromptMessageStoppedException{
					NodeID:           data.Node,
					NodeType:         data.NodeType,
					NodeName:         qi.nodeTitle(data.Node),
					ExceptionMessage: data.ExceptionMessage,
					ExceptionType:    data.ExceptionType,
					Traceback:        data.Traceback,
				},
			})
		}
	case *WSMessageDataExecutionCached, *WSMessageExecutionSuccess:
		// completion is signalled by the final "executing" message
	default:
		slog.Debug("Unhandled message type", "type", message.Type)
	}
}

// stopItem removes the item from the queue before sending the message;
// no other messages will be sent to the channel after this
func (c *ComfyClient) stopItem(qi *QueueItem, reason QueuedItemStoppedReason, stopped *PromptMessageStopped) {
	if c.callbacks != nil && c.callbacks.QueuedItemStopped != nil {
		c.callbacks.QueuedItemStopped(c, qi, reason)
	}
	c.ForgetQueuedItem(qi.PromptID)
	if !qi.deliver(PromptMessage{Type: "stopped", Message: stopped}) {
		slog.Warn("Dropped stop message for prompt with a full message queue", "prompt_id", qi.PromptID)
	}
}
