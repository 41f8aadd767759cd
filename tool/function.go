package tool

import (
	"context"
	"fmt"

	"github.com/threadmesh/threadmesh/internal/util"
)

// FunctionTool adapts a plain Go function into a Tool.
//
// It holds a lightweight JSON-Schema-like parameter specification, validates
// model supplied arguments against it before execution, and normalizes
// failures into *ToolError so callers receive consistent codes:
//
//	validation failure -> ARGUMENT_INVALID (handler never runs)
//	handler error      -> HANDLER_FAILED (custom *ToolError passes through)
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and
// function.
//
// Example:
//
//	sum := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(_ context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct via
// reflection, equivalent to NewFunctionTool with util.CreateSchema(argType).
func NewFunctionToolFromStruct(
	name, description string,
	argType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(argType), fn)
}

// Name returns the unique tool name used in tool descriptors and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the natural language description exposed to the model.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args against the declared schema then invokes the wrapped
// function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Code:    CodeInvalidArguments,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: t.name, Code: CodeHandlerFailed, Message: err.Error()}
	}
	return result, nil
}
