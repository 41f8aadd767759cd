package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/threadmesh/threadmesh/logging"
)

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	// Timeout bounds every handler invocation. A handler that exceeds it is
	// abandoned: cancellation is signaled through its context and the result
	// is discarded.
	Timeout time.Duration
	// Logger receives structured invocation events.
	Logger logging.Logger
}

// Registry is a plain dispatch table from tool name to implementation,
// populated at startup and looked up by name at call time. It enforces the
// call-time sandbox (argument validation, per-call timeout, panic recovery)
// so the dispatch loop can treat every invocation outcome as data.
//
// Registration happens during startup; after that the registry is shared
// read-only across concurrent requests.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	logger  logging.Logger
}

// NewRegistry constructs a Registry with optional overrides.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{
		Timeout: 15 * time.Second,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// Register adds a tool, replacing any previous registration under the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// RegisterAll adds multiple tools at once.
func (r *Registry) RegisterAll(tools ...Tool) {
	for _, t := range tools {
		r.Register(t)
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns a snapshot of all registered tools.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Timeout returns the per-invocation deadline applied by Invoke.
func (r *Registry) Timeout() time.Duration { return r.timeout }

// Invoke looks up the named tool, decodes and validates rawArgs, and runs
// the handler under the registry timeout. Failures come back as *ToolError
// with codes NOT_FOUND, ARGUMENT_INVALID, TIMEOUT or HANDLER_FAILED; the
// call never panics.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) (any, error) {
	impl, ok := r.Get(name)
	if !ok {
		return nil, NewToolError(name, CodeNotFound, "tool not registered")
	}

	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, &ToolError{
				Tool:    name,
				Code:    CodeInvalidArguments,
				Message: fmt.Sprintf("failed to decode arguments: %v", err),
			}
		}
	}

	r.logger.Debug("tool.call.start", "tool", name)
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	// Buffered so an abandoned handler can still complete and exit.
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool.call.panic", "tool", name, "recover", rec, "stack", string(debug.Stack()))
				done <- outcome{err: &ToolError{
					Tool:    name,
					Code:    CodeHandlerFailed,
					Message: fmt.Sprintf("panic: %v", rec),
				}}
			}
		}()
		result, err := impl.Call(callCtx, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		dur := time.Since(start)
		if out.err != nil {
			r.logger.Warn("tool.call.error", "tool", name, "duration_ms", dur.Milliseconds(), "error", out.err.Error())
			return nil, asToolError(name, out.err)
		}
		r.logger.Info("tool.call.success", "tool", name, "duration_ms", dur.Milliseconds())
		return out.result, nil
	case <-callCtx.Done():
		dur := time.Since(start)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.Warn("tool.call.timeout", "tool", name, "duration_ms", dur.Milliseconds())
			return nil, &ToolError{
				Tool:    name,
				Code:    CodeTimeout,
				Message: fmt.Sprintf("handler exceeded %s deadline", r.timeout),
			}
		}
		// Caller cancellation, not a tool fault.
		return nil, ctx.Err()
	}
}

// asToolError normalizes arbitrary handler errors into *ToolError.
func asToolError(name string, err error) error {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	return &ToolError{Tool: name, Code: CodeHandlerFailed, Message: err.Error()}
}
