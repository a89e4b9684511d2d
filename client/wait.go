package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// WaitOptions controls WaitForCompletion
type WaitOptions struct {
	// PollInterval is the delay between GET /history requests
	PollInterval time.Duration
	// Timeout bounds the whole wait; zero waits until ctx is done
	Timeout time.Duration
	// Handlers receive websocket events for the prompt when the status watcher is running
	Handlers *MessageHandlers
}

// WaitForCompletion polls the history of promptID until ComfyUI reports it finished.
// A failed prompt returns the history entry together with a *JobError; running out of
// time returns ErrTimeout, also when a history request is still in flight.  Transient
// request failures are logged and retried.  The prompt keeps running on the server
// when the wait gives up.
func (c *ComfyClient) WaitForCompletion(ctx context.Context, promptID string, opts WaitOptions) (*HistoryItem, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	defer c.ForgetQueuedItem(promptID)

	parent := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	stopped := func() error {
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: prompt %s after %v", ErrTimeout, promptID, opts.Timeout)
		}
		return ctx.Err()
	}

	var messages <-chan PromptMessage
	if qi := c.GetQueuedItem(promptID); qi != nil {
		messages = qi.Messages
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		item, err := c.GetHistory(ctx, promptID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, stopped()
			}
			slog.Warn("Checking job status failed", "prompt_id", promptID, "error", err)
		case item.Done():
			if ferr := item.Failure(); ferr != nil {
				return item, ferr
			}
			slog.Debug("Job completed", "prompt_id", promptID, "elapsed", time.Since(start).Round(time.Millisecond))
			return item, nil
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil, stopped()
			case <-ticker.C:
				break wait
			case msg := <-messages:
				stop := opts.Handlers.Dispatch(msg)
				if stop == nil {
					continue
				}
				if jerr := stop.jobError(); jerr != nil {
					return nil, jerr
				}
				// finished; history should have the outputs now
				messages = nil
				break wait
			}
		}
	}
}
