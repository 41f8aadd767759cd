package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumTool() *FunctionTool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
	return NewFunctionTool("sum", "Add numbers", params, func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func TestFunctionTool_Success(t *testing.T) {
	result, err := sumTool().Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	_, err := sumTool().Call(context.Background(), map[string]any{"a": 2.0})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeInvalidArguments, toolErr.Code)
	assert.Equal(t, "sum", toolErr.Tool)
}

func TestFunctionTool_HandlerError(t *testing.T) {
	failing := NewFunctionTool("boom", "Always fails", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("backend down")
		})
	_, err := failing.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeHandlerFailed, toolErr.Code)
	assert.Contains(t, toolErr.Message, "backend down")
}

func TestFunctionTool_CustomToolErrorPassthrough(t *testing.T) {
	custom := NewFunctionTool("custom", "Returns custom error", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any) (any, error) {
			return nil, NewToolError("custom", "QUOTA_EXCEEDED", "daily quota used up")
		})
	_, err := custom.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "QUOTA_EXCEEDED", toolErr.Code)
}

func TestNewFunctionToolFromStruct(t *testing.T) {
	type args struct {
		Query string `json:"query" description:"Search query"`
	}
	tl := NewFunctionToolFromStruct("search", "Search things", args{},
		func(_ context.Context, a map[string]any) (any, error) {
			return a["query"], nil
		})
	props := tl.Parameters()["properties"].(map[string]any)
	assert.Contains(t, props, "query")

	_, err := tl.Call(context.Background(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeInvalidArguments, toolErr.Code)
}

func TestRegistry_Invoke(t *testing.T) {
	r := NewRegistry()
	r.Register(sumTool())

	result, err := r.Invoke(context.Background(), "sum", `{"a": 2, "b": 3}`)
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestRegistry_InvokeNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", "{}")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeNotFound, toolErr.Code)
}

func TestRegistry_InvokeMalformedArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(sumTool())
	_, err := r.Invoke(context.Background(), "sum", `{"a": `)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeInvalidArguments, toolErr.Code)
}

func TestRegistry_InvokeTimeout(t *testing.T) {
	r := NewRegistry(func(o *RegistryOptions) { o.Timeout = 20 * time.Millisecond })
	slow := NewFunctionTool("slow", "Sleeps", map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	r.Register(slow)

	_, err := r.Invoke(context.Background(), "slow", "{}")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeTimeout, toolErr.Code)
}

func TestRegistry_InvokeRecoversPanic(t *testing.T) {
	r := NewRegistry()
	panics := NewFunctionTool("panics", "Panics", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any) (any, error) {
			panic("unexpected state")
		})
	r.Register(panics)

	_, err := r.Invoke(context.Background(), "panics", "{}")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeHandlerFailed, toolErr.Code)
	assert.Contains(t, toolErr.Message, "panic")
}

func TestRegistry_InvokeCallerCancellation(t *testing.T) {
	r := NewRegistry()
	slow := NewFunctionTool("slow", "Sleeps", map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	r.Register(slow)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Invoke(ctx, "slow", "{}")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_ToolsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.RegisterAll(sumTool())
	tools := r.Tools()
	assert.Len(t, tools, 1)
	assert.Equal(t, "sum", tools[0].Name())
}
