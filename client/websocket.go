package client

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
}

// WebSocketConnection keeps a websocket open to ComfyUI, reconnecting with
// exponential backoff until MaxRetry consecutive attempts have failed.
type WebSocketConnection struct {
	WebSocketURL string
	MaxRetry     int
	Callback     WebSocketCallback

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	isConnected bool
	retryCount  int
}

// IsConnected reports whether the websocket is currently open
func (w *WebSocketConnection) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isConnected
}

// Run connects and reads messages until ctx is cancelled or the retry budget is spent.
// connected is closed after the first successful dial; it may be nil.
func (w *WebSocketConnection) Run(ctx context.Context, connected chan<- struct{}) error {
	signalled := false
	for {
		err := w.connect(ctx)
		if err == nil {
			w.mu.Lock()
			w.retryCount = 0
			w.mu.Unlock()
			if !signalled && connected != nil {
				close(connected)
				signalled = true
			}
			w.handleMessages(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Debug("Websocket closed, reconnecting", "url", w.WebSocketURL)
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.mu.Lock()
		retries := w.retryCount
		w.mu.Unlock()
		if retries >= w.MaxRetry {
			return fmt.Errorf("websocket: maximum number of retries reached (%d): %w", w.MaxRetry, err)
		}

		delay := w.getReconnectDelay()
		slog.Warn("Websocket connection attempt failed", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (w *WebSocketConnection) connect(ctx context.Context) error {
	conn, _, err := w.Dialer.DialContext(ctx, w.WebSocketURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.isConnected = true
	w.mu.Unlock()
	return nil
}

// Close shuts the current connection, unblocking the read loop
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// Handle incoming WebSocket messages
func (w *WebSocketConnection) handleMessages(ctx context.Context) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	// unblock ReadMessage when the context ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
		w.mu.Lock()
		w.isConnected = false
		w.mu.Unlock()
	}()

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Websocket read error", "error", err)
			}
			return
		}
		// binary frames carry preview images
		if msgType != websocket.TextMessage {
			continue
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.retryCount)))
	if w.MaxDelay > 0 && delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.retryCount++
	return delay
}
