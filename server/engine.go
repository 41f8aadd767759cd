// Package server exposes the conversation engine over HTTP. The Engine
// composes a ConversationStore with the dispatch loop and keeps every
// operation stateless: a request reconstructs whatever it needs from the
// store, runs the turn, and persists the whole result in one atomic append.
package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/dispatch"
	"github.com/threadmesh/threadmesh/logging"
	"github.com/threadmesh/threadmesh/store"
)

// maxContentBytes bounds an inbound message body's content field.
const maxContentBytes = 32 * 1024

// EngineOptions configure an Engine.
type EngineOptions struct {
	Logger   logging.Logger
	Observer Observer
}

// Engine implements the conversation operations over a store and a dispatch
// loop. It holds no per-conversation state; any instance behind a load
// balancer can serve any thread.
type Engine struct {
	store    store.ConversationStore
	loop     *dispatch.Loop
	logger   logging.Logger
	observer Observer
}

// NewEngine constructs an Engine.
func NewEngine(s store.ConversationStore, loop *dispatch.Loop, optFns ...func(o *EngineOptions)) *Engine {
	opts := EngineOptions{
		Logger:   logging.NoOpLogger{},
		Observer: NoOpObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{store: s, loop: loop, logger: opts.Logger, observer: opts.Observer}
}

// CreateThread starts a new conversation.
func (e *Engine) CreateThread(ctx context.Context, metadata map[string]string) (core.Thread, error) {
	start := time.Now()
	e.observer.OperationStart(ctx, "create_thread", "")
	th, err := e.createThread(ctx, metadata)
	e.observer.OperationEnd(ctx, "create_thread", th.ID, time.Since(start), err)
	return th, err
}

// GetThread fetches a thread's metadata and counters.
func (e *Engine) GetThread(ctx context.Context, threadID string) (core.Thread, error) {
	start := time.Now()
	e.observer.OperationStart(ctx, "get_thread", threadID)
	th, err := e.readThread(ctx, threadID)
	e.observer.OperationEnd(ctx, "get_thread", threadID, time.Since(start), err)
	return th, err
}

// DeleteThread tombstones a thread. Deletion is terminal.
func (e *Engine) DeleteThread(ctx context.Context, threadID string) error {
	start := time.Now()
	e.observer.OperationStart(ctx, "delete_thread", threadID)
	err := e.deleteThread(ctx, threadID)
	e.observer.OperationEnd(ctx, "delete_thread", threadID, time.Since(start), err)
	return err
}

// ListMessages returns a thread's messages above the cursor in sequence
// order.
func (e *Engine) ListMessages(ctx context.Context, threadID string, since int64) ([]core.Message, error) {
	start := time.Now()
	e.observer.OperationStart(ctx, "list_messages", threadID)
	msgs, err := e.readMessages(ctx, threadID, since)
	e.observer.OperationEnd(ctx, "list_messages", threadID, time.Since(start), err)
	return msgs, err
}

// PostMessage runs one conversation turn: it validates the input, replays the
// thread's history through the dispatch loop and persists the user message,
// every tool message and the final assistant message as a single atomic
// append. The stored assistant message is returned.
//
// A failed turn persists nothing, so the client can safely retry the whole
// request. Concurrent PostMessage calls on one thread are not serialized
// against each other; the store's conditional appends keep ordering
// consistent, but interleaved turns may observe each other's history.
func (e *Engine) PostMessage(ctx context.Context, threadID, content string) (core.Message, error) {
	start := time.Now()
	e.observer.OperationStart(ctx, "post_message", threadID)
	msg, err := e.postMessage(ctx, threadID, content)
	e.observer.OperationEnd(ctx, "post_message", threadID, time.Since(start), err)
	return msg, err
}

func (e *Engine) postMessage(ctx context.Context, threadID, content string) (core.Message, error) {
	if strings.TrimSpace(content) == "" {
		return core.Message{}, fmt.Errorf("content must not be empty: %w", core.ErrValidation)
	}
	if len(content) > maxContentBytes {
		return core.Message{}, fmt.Errorf("content exceeds %d bytes: %w", maxContentBytes, core.ErrValidation)
	}

	if _, err := e.readThread(ctx, threadID); err != nil {
		return core.Message{}, err
	}
	history, err := e.readMessages(ctx, threadID, 0)
	if err != nil {
		return core.Message{}, err
	}

	userMsg := core.NewUserMessage(threadID, content)
	turnStart := time.Now()
	res, err := e.loop.Run(ctx, history, userMsg)
	if err != nil {
		return core.Message{}, err
	}
	e.observer.TurnComplete(ctx, threadID, res.Iterations, len(res.Trace), time.Since(turnStart))

	assistant := core.NewAssistantMessage(threadID, res.Content, res.Trace)
	batch := make([]core.Message, 0, len(res.ToolMessages)+2)
	batch = append(batch, userMsg)
	batch = append(batch, res.ToolMessages...)
	batch = append(batch, assistant)

	stored, err := e.appendMessages(ctx, threadID, batch)
	if err != nil {
		return core.Message{}, err
	}
	return stored[len(stored)-1], nil
}

// Store accessors below emit one Observer event per store call, read or
// write, matching the span granularity of the persistence boundary.

func (e *Engine) readThread(ctx context.Context, threadID string) (core.Thread, error) {
	start := time.Now()
	th, err := e.store.GetThread(ctx, threadID)
	e.observer.StoreRead(ctx, "get_thread", threadID, time.Since(start), err)
	return th, err
}

func (e *Engine) readMessages(ctx context.Context, threadID string, since int64) ([]core.Message, error) {
	start := time.Now()
	msgs, err := e.store.ListMessages(ctx, threadID, since)
	e.observer.StoreRead(ctx, "list_messages", threadID, time.Since(start), err)
	return msgs, err
}

func (e *Engine) createThread(ctx context.Context, metadata map[string]string) (core.Thread, error) {
	start := time.Now()
	th, err := e.store.CreateThread(ctx, metadata)
	e.observer.StoreWrite(ctx, "create_thread", th.ID, time.Since(start), err)
	return th, err
}

func (e *Engine) deleteThread(ctx context.Context, threadID string) error {
	start := time.Now()
	err := e.store.DeleteThread(ctx, threadID)
	e.observer.StoreWrite(ctx, "delete_thread", threadID, time.Since(start), err)
	return err
}

func (e *Engine) appendMessages(ctx context.Context, threadID string, batch []core.Message) ([]core.Message, error) {
	start := time.Now()
	stored, err := e.store.AppendMessages(ctx, threadID, batch)
	e.observer.StoreWrite(ctx, "append_messages", threadID, time.Since(start), err)
	return stored, err
}
