package gateway

import (
	"context"
	"log/slog"

	"github.com/user/larkflow/internal/types"
)

// Handler processes one received chat message to completion.
type Handler interface {
	HandleMessage(ctx context.Context, ev *types.MessageReceiveEvent)
}

// Gateway defers message handling onto the session queue so the webhook
// can acknowledge Lark before the backend answers. It satisfies Handler
// itself and can stand in for the synchronous handler it wraps.
type Gateway struct {
	handler Handler
	Queue   *Queue
}

// New creates a Gateway around handler with the given concurrency limit.
func New(handler Handler, maxConcurrent int64) *Gateway {
	return &Gateway{
		handler: handler,
		Queue:   NewQueue(maxConcurrent),
	}
}

// Start starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop stops the queue and waits for lane goroutines to exit.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// HandleMessage enqueues ev on its session lane. The job runs on the queue's
// context, not ctx, since the request that carried ev ends first.
func (g *Gateway) HandleMessage(ctx context.Context, ev *types.MessageReceiveEvent) {
	job := NewJob(ev.SessionID(), func(jobCtx context.Context) error {
		g.handler.HandleMessage(jobCtx, ev)
		return nil
	})
	if err := g.Queue.Enqueue(job); err != nil {
		slog.ErrorContext(ctx, "enqueue message",
			"message_id", string(ev.Message.MessageID),
			"session_id", string(job.SessionID),
			"error", err,
		)
		return
	}
	slog.Debug("message queued",
		"job_id", string(job.ID),
		"message_id", string(ev.Message.MessageID),
		"session_id", string(job.SessionID),
	)
}
