// Package dispatch runs the bounded tool-calling loop at the heart of a
// conversation turn. Given persisted history and one new user message it
// alternates reasoning calls and tool batches until the model emits a final
// answer, every side effect captured as data so the caller can persist the
// whole turn in a single append.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/logging"
	"github.com/threadmesh/threadmesh/model"
	"github.com/threadmesh/threadmesh/tool"
)

// Options configure a Loop.
type Options struct {
	// Instructions is the system prompt sent with every reasoning call.
	Instructions string
	// MaxIterations caps reasoning calls per turn. Reaching the cap without a
	// final answer fails the turn with core.ErrLoopLimit.
	MaxIterations int
	// ModelRetries bounds transparent retries of a failed reasoning call.
	ModelRetries int
	// InitialBackoff is the first retry delay; subsequent delays grow
	// exponentially.
	InitialBackoff time.Duration
	// Budget bounds the wall-clock time of a whole turn.
	Budget time.Duration
	// MaxParallel caps concurrent tool invocations within a batch. Zero means
	// the batch size.
	MaxParallel int
	// Logger receives structured loop events.
	Logger logging.Logger
}

// Result is the outcome of a completed turn: the final answer, the full tool
// call trace behind it, and one tool message per invocation ready for
// persistence.
type Result struct {
	Content      string
	Trace        []core.ToolCallRecord
	ToolMessages []core.Message
	Iterations   int
}

// Loop drives the reasoning and tool-calling cycle for one turn at a time.
// A Loop holds no per-turn state and is safe for concurrent use.
type Loop struct {
	model    model.Model
	registry *tool.Registry
	opts     Options
}

// NewLoop constructs a Loop over a model and a tool registry.
func NewLoop(m model.Model, registry *tool.Registry, optFns ...func(o *Options)) *Loop {
	opts := Options{
		MaxIterations:  5,
		ModelRetries:   3,
		InitialBackoff: 200 * time.Millisecond,
		Budget:         2 * time.Minute,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	// A negative retry count would wrap to an unbounded uint64 in generate.
	if opts.ModelRetries < 0 {
		opts.ModelRetries = 0
	}
	return &Loop{model: m, registry: registry, opts: opts}
}

// Run executes one turn. The history slice is the thread's persisted messages
// in sequence order; userMsg is the incoming message that triggered the turn
// and is appended to the transcript but not to history by Run itself.
//
// The turn state machine is:
//
//	reasoning -> final answer            => done
//	reasoning -> tool requests -> batch  => reasoning (next iteration)
//
// Error cases terminate the turn: core.ErrLoopLimit when MaxIterations
// reasoning calls produced no final answer, core.ErrBudgetExceeded when the
// wall-clock budget lapses, core.ErrRateLimited on provider throttling and
// core.ErrUpstreamUnavailable when the model keeps failing past its retries.
func (l *Loop) Run(ctx context.Context, history []core.Message, userMsg core.Message) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Budget)
	defer cancel()

	threadID := userMsg.ThreadID
	turns := HistoryTurns(history)
	turns = append(turns, model.UserTurn(userMsg.Content))
	tools := l.toolDefinitions()

	var (
		trace        []core.ToolCallRecord
		toolMessages []core.Message
	)

	start := time.Now()
	for iteration := 1; iteration <= l.opts.MaxIterations; iteration++ {
		outcome, err := l.generate(ctx, model.Request{
			Instructions: l.opts.Instructions,
			Turns:        turns,
			Tools:        tools,
		})
		if err != nil {
			return Result{Iterations: iteration}, l.classifyModelError(ctx, err)
		}

		if outcome.IsFinal() {
			l.opts.Logger.Info("dispatch.turn.complete",
				"thread_id", threadID,
				"iterations", iteration,
				"tool_calls", len(trace),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return Result{
				Content:      outcome.Answer,
				Trace:        trace,
				ToolMessages: toolMessages,
				Iterations:   iteration,
			}, nil
		}

		l.opts.Logger.Debug("dispatch.tools.requested",
			"thread_id", threadID,
			"iteration", iteration,
			"count", len(outcome.ToolRequests),
		)

		turns = append(turns, model.ToolCallTurn(outcome.ToolRequests))
		records := l.executeBatch(ctx, outcome.ToolRequests)
		if err := ctx.Err(); err != nil {
			return Result{Iterations: iteration}, l.budgetErr(err)
		}
		for _, rec := range records {
			content := toolContent(rec)
			turns = append(turns, model.ToolResultTurn(model.ToolResult{
				ID:      rec.ID,
				Name:    rec.Name,
				Content: content,
				IsError: rec.Error != "",
			}))
			trace = append(trace, rec)
			toolMessages = append(toolMessages, core.NewToolMessage(threadID, content, rec))
		}
	}

	l.opts.Logger.Warn("dispatch.turn.loop_limit",
		"thread_id", threadID,
		"max_iterations", l.opts.MaxIterations,
	)
	return Result{Iterations: l.opts.MaxIterations}, fmt.Errorf(
		"no final answer after %d reasoning calls: %w", l.opts.MaxIterations, core.ErrLoopLimit)
}

// generate performs one reasoning call with exponential-backoff retries.
// Identical requests are safe to resubmit, so every transient failure is
// retried until the budget or the retry cap runs out.
func (l *Loop) generate(ctx context.Context, req model.Request) (core.Outcome, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.opts.InitialBackoff
	eb.MaxElapsedTime = 0

	var outcome core.Outcome
	var lastErr error
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		outcome, err = l.model.Generate(ctx, req)
		if err != nil {
			lastErr = err
			l.opts.Logger.Warn("dispatch.model.error", "attempt", attempt, "error", err.Error())
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(l.opts.ModelRetries)), ctx))
	if err != nil {
		if lastErr != nil {
			return core.Outcome{}, lastErr
		}
		return core.Outcome{}, err
	}
	return outcome, nil
}

// classifyModelError maps a terminal model failure onto the error taxonomy.
func (l *Loop) classifyModelError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return l.budgetErr(ctxErr)
	}
	if errors.Is(err, core.ErrRateLimited) {
		return err
	}
	return fmt.Errorf("model unavailable after %d retries: %w: %w",
		l.opts.ModelRetries, core.ErrUpstreamUnavailable, err)
}

func (l *Loop) budgetErr(ctxErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("turn budget %s exhausted: %w", l.opts.Budget, core.ErrBudgetExceeded)
	}
	return ctxErr
}

// executeBatch runs one batch of tool requests, possibly in parallel, and
// returns one record per request in request order. A failed invocation never
// fails the batch; its record carries the error and the other calls proceed.
func (l *Loop) executeBatch(ctx context.Context, reqs []core.ToolRequest) []core.ToolCallRecord {
	n := len(reqs)
	records := make([]core.ToolCallRecord, n)
	if n == 0 {
		return records
	}

	// Fast path: a single call needs no fan-out.
	if n == 1 {
		records[0] = l.executeOne(ctx, reqs[0])
		return records
	}

	maxPar := l.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
	for i := range reqs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, req core.ToolRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			records[idx] = l.executeOne(ctx, req)
		}(i, reqs[i])
	}
	wg.Wait()

	l.opts.Logger.Debug("dispatch.tools.batch_complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return records
}

// executeOne invokes a single tool through the registry sandbox and captures
// the outcome as a record. Exactly one of Result and Error is set.
func (l *Loop) executeOne(ctx context.Context, req core.ToolRequest) core.ToolCallRecord {
	rec := core.ToolCallRecord{
		ID:        req.ID,
		Name:      req.Name,
		Arguments: req.Arguments,
		Started:   time.Now().UTC(),
	}
	result, err := l.registry.Invoke(ctx, req.Name, req.Arguments)
	rec.Ended = time.Now().UTC()
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.Result = serializeResult(result)
	return rec
}

// toolContent renders a record as the content fed back to the model. Failures
// become a structured value instead of an error return, letting the model
// reason about them.
func toolContent(rec core.ToolCallRecord) string {
	if rec.Error == "" {
		return rec.Result
	}
	payload := map[string]any{"error": map[string]any{"tool": rec.Name, "message": rec.Error}}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"error":{"tool":%q}}`, rec.Name)
	}
	return string(raw)
}

func serializeResult(result any) string {
	switch v := result.(type) {
	case nil:
		return "null"
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func (l *Loop) toolDefinitions() []model.ToolDefinition {
	tools := l.registry.Tools()
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
