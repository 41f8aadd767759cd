// Package tool implements the function calling subsystem that lets the model
// invoke structured capabilities (APIs, computations, lookups) with schema
// validated arguments, a call-time sandbox and consistent error codes.
package tool

import (
	"context"
	"fmt"

	"github.com/threadmesh/threadmesh/internal/util"
)

// Tool is a named callable the model may invoke with structured arguments.
//
// Tool implementations should:
//   - Provide clear, descriptive names (snake_case) and descriptions
//   - Define a JSON schema for their parameters
//   - Be safe for concurrent use
//   - Honor context cancellation for long-running work
//
// A handler receives only its validated arguments; it has no implicit access
// to conversation state.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns the human-readable description provided to the
	// model so it can decide when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already-validated arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Error codes attached to *ToolError.
const (
	// CodeNotFound means no tool with the requested name is registered.
	CodeNotFound = "NOT_FOUND"
	// CodeInvalidArguments means the arguments failed schema validation or
	// could not be decoded; the handler never ran.
	CodeInvalidArguments = "ARGUMENT_INVALID"
	// CodeTimeout means the handler exceeded its deadline and was abandoned.
	CodeTimeout = "TIMEOUT"
	// CodeHandlerFailed means the handler ran and returned an error or
	// panicked.
	CodeHandlerFailed = "HANDLER_FAILED"
)

// ValidationError re-exports the schema validation error type.
type ValidationError = util.ValidationError

// ToolError is the typed failure returned by tool invocation. The dispatch
// loop renders it as a structured failure value for the model rather than
// propagating it to the client.
type ToolError struct {
	Tool    string `json:"tool"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the specified details.
func NewToolError(tool, code, message string) *ToolError {
	return &ToolError{Tool: tool, Code: code, Message: message}
}
