package server

import (
	"context"
	"time"

	"github.com/threadmesh/threadmesh/logging"
)

// Observer receives lifecycle notifications around engine operations. Hooks
// run synchronously on the request path, so implementations should be cheap
// and must never panic.
type Observer interface {
	// OperationStart fires before an engine operation touches the store.
	OperationStart(ctx context.Context, op, threadID string)

	// OperationEnd fires after an engine operation finishes, successful or
	// not.
	OperationEnd(ctx context.Context, op, threadID string, dur time.Duration, err error)

	// StoreRead fires after a store read (thread lookup or message list)
	// completes, successful or not.
	StoreRead(ctx context.Context, op, threadID string, dur time.Duration, err error)

	// StoreWrite fires after a store write (create, append, delete)
	// completes, successful or not.
	StoreWrite(ctx context.Context, op, threadID string, dur time.Duration, err error)

	// TurnComplete fires after a dispatch turn produced a final answer.
	TurnComplete(ctx context.Context, threadID string, iterations, toolCalls int, dur time.Duration)
}

// NoOpObserver discards every notification.
type NoOpObserver struct{}

func (NoOpObserver) OperationStart(context.Context, string, string)                     {}
func (NoOpObserver) OperationEnd(context.Context, string, string, time.Duration, error) {}
func (NoOpObserver) StoreRead(context.Context, string, string, time.Duration, error)    {}
func (NoOpObserver) StoreWrite(context.Context, string, string, time.Duration, error)   {}
func (NoOpObserver) TurnComplete(context.Context, string, int, int, time.Duration)      {}

// LogObserver emits every notification as a structured log line.
type LogObserver struct {
	Logger logging.Logger
}

func (o LogObserver) OperationStart(_ context.Context, op, threadID string) {
	o.Logger.Debug("engine.op.start", "op", op, "thread_id", threadID)
}

func (o LogObserver) OperationEnd(_ context.Context, op, threadID string, dur time.Duration, err error) {
	if err != nil {
		o.Logger.Warn("engine.op.error",
			"op", op, "thread_id", threadID, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	o.Logger.Info("engine.op.done",
		"op", op, "thread_id", threadID, "duration_ms", dur.Milliseconds())
}

func (o LogObserver) StoreRead(_ context.Context, op, threadID string, dur time.Duration, err error) {
	if err != nil {
		o.Logger.Warn("store.read.error",
			"op", op, "thread_id", threadID, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	o.Logger.Debug("store.read",
		"op", op, "thread_id", threadID, "duration_ms", dur.Milliseconds())
}

func (o LogObserver) StoreWrite(_ context.Context, op, threadID string, dur time.Duration, err error) {
	if err != nil {
		o.Logger.Warn("store.write.error",
			"op", op, "thread_id", threadID, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	o.Logger.Info("store.write",
		"op", op, "thread_id", threadID, "duration_ms", dur.Milliseconds())
}

func (o LogObserver) TurnComplete(_ context.Context, threadID string, iterations, toolCalls int, dur time.Duration) {
	o.Logger.Info("engine.turn.complete",
		"thread_id", threadID,
		"iterations", iterations,
		"tool_calls", toolCalls,
		"duration_ms", dur.Milliseconds(),
	)
}
