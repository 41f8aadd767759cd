package core

import "errors"

// Error taxonomy surfaced by stores, the dispatch loop and the orchestrator.
// Callers classify failures with errors.Is; wrapping preserves the sentinel.
var (
	// ErrNotFound reports a missing or deleted thread (or message cursor).
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a concurrent mutation detected by a conditional
	// write, including thread identifier collisions on create.
	ErrConflict = errors.New("conflict")

	// ErrValidation reports a malformed request body or tool arguments.
	ErrValidation = errors.New("validation failed")

	// ErrLoopLimit reports that the dispatch loop hit its iteration ceiling
	// without the model converging on a final answer. Reported distinctly so
	// clients can tell "the assistant couldn't converge" from "a dependency
	// failed".
	ErrLoopLimit = errors.New("loop limit exceeded")

	// ErrBudgetExceeded reports that a dispatch run exhausted its aggregate
	// wall-clock budget.
	ErrBudgetExceeded = errors.New("dispatch budget exceeded")

	// ErrUpstreamUnavailable reports that the reasoning call failed after all
	// retries were exhausted.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited reports that the model provider throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrInternal reports a store or infrastructure failure.
	ErrInternal = errors.New("internal error")
)
