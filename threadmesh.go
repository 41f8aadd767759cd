// Package threadmesh provides a high-level façade over the conversation
// engine: a thread store, a tool registry and the model-driven dispatch loop
// wired together behind a small API. Most applications interact with this
// package by:
//  1. Creating a ThreadMesh via New() (optionally overriding the store,
//     model, tools or dispatch tunables)
//  2. Creating threads and posting messages
//  3. Mounting Handler() when the engine should be served over HTTP
//
// All defaults are safe for local development: an in-memory store, the
// built-in demo tools and an offline scripted model that echoes input.
// Production deployments supply a durable store, a real model provider and a
// structured logger.
package threadmesh

import (
	"context"
	"net/http"

	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/dispatch"
	"github.com/threadmesh/threadmesh/logging"
	"github.com/threadmesh/threadmesh/model"
	"github.com/threadmesh/threadmesh/model/modeltest"
	"github.com/threadmesh/threadmesh/server"
	"github.com/threadmesh/threadmesh/store"
	"github.com/threadmesh/threadmesh/store/memory"
	"github.com/threadmesh/threadmesh/tool"
	"github.com/threadmesh/threadmesh/toolkit"
)

// Options configure a ThreadMesh instance.
type Options struct {
	// Store holds threads and messages. Defaults to the in-memory store.
	Store store.ConversationStore

	// Model answers reasoning calls. Defaults to the offline scripted model.
	Model model.Model

	// Tools registered before the first request. Defaults to the built-in
	// demo tools; pass an empty non-nil slice to start with none.
	Tools []tool.Tool

	// Instructions is the system prompt for every turn.
	Instructions string

	// Dispatch tweaks the loop defaults (iteration ceiling, retries, budget).
	Dispatch func(o *dispatch.Options)

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// ThreadMesh aggregates the engine and its collaborators.
type ThreadMesh struct {
	engine   *server.Engine
	registry *tool.Registry
}

// New creates a ThreadMesh with optional overrides. Any unset collaborator
// falls back to its local development default.
func New(optFns ...func(o *Options)) *ThreadMesh {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = memory.NewStore()
	}
	if opts.Model == nil {
		opts.Model = modeltest.NewScripted()
	}
	if opts.Tools == nil {
		opts.Tools = toolkit.All()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Logger = opts.Logger
	})
	registry.RegisterAll(opts.Tools...)

	loop := dispatch.NewLoop(opts.Model, registry, func(o *dispatch.Options) {
		o.Instructions = opts.Instructions
		o.Logger = opts.Logger
		if opts.Dispatch != nil {
			opts.Dispatch(o)
		}
	})

	engine := server.NewEngine(opts.Store, loop, func(o *server.EngineOptions) {
		o.Logger = opts.Logger
	})

	return &ThreadMesh{engine: engine, registry: registry}
}

// RegisterTool adds a tool after construction. Registration is not
// synchronized with in-flight turns, so call it before serving traffic.
func (tm *ThreadMesh) RegisterTool(t tool.Tool) { tm.registry.Register(t) }

// CreateThread starts a new conversation.
func (tm *ThreadMesh) CreateThread(ctx context.Context, metadata map[string]string) (core.Thread, error) {
	return tm.engine.CreateThread(ctx, metadata)
}

// GetThread fetches thread metadata and counters.
func (tm *ThreadMesh) GetThread(ctx context.Context, threadID string) (core.Thread, error) {
	return tm.engine.GetThread(ctx, threadID)
}

// DeleteThread tombstones a thread; the operation is terminal.
func (tm *ThreadMesh) DeleteThread(ctx context.Context, threadID string) error {
	return tm.engine.DeleteThread(ctx, threadID)
}

// PostMessage runs one conversation turn and returns the stored assistant
// message.
func (tm *ThreadMesh) PostMessage(ctx context.Context, threadID, content string) (core.Message, error) {
	return tm.engine.PostMessage(ctx, threadID, content)
}

// ListMessages returns a thread's messages above the cursor in order.
func (tm *ThreadMesh) ListMessages(ctx context.Context, threadID string, since int64) ([]core.Message, error) {
	return tm.engine.ListMessages(ctx, threadID, since)
}

// Handler returns the HTTP surface over the engine.
func (tm *ThreadMesh) Handler() http.Handler {
	return server.NewServer(tm.engine).Handler()
}
