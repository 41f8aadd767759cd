// Package model defines the normalized reasoning-call contract between the
// dispatch loop and concrete providers. Adapters translate a Request into
// vendor API calls and surface the result as a tagged core.Outcome, so
// downstream logic never branches on provider response shapes.
package model

import (
	"context"

	"github.com/threadmesh/threadmesh/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolResult carries the outcome of a single tool invocation back to the
// model. Content is the serialized result, or a structured failure value
// when IsError is set.
type ToolResult struct {
	ID      string `json:"id"` // matches the originating ToolRequest ID
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Turn is one entry of the normalized transcript submitted to a provider.
// Exactly one of Text, ToolCalls and ToolResult is meaningful:
//   - user/assistant turns carry Text
//   - an assistant turn requesting tools carries ToolCalls
//   - a tool turn carries ToolResult
type Turn struct {
	Role       core.Role          `json:"role"`
	Text       string             `json:"text,omitempty"`
	ToolCalls  []core.ToolRequest `json:"tool_calls,omitempty"`
	ToolResult *ToolResult        `json:"tool_result,omitempty"`
}

// UserTurn builds a user text turn.
func UserTurn(text string) Turn { return Turn{Role: core.RoleUser, Text: text} }

// AssistantTurn builds an assistant text turn.
func AssistantTurn(text string) Turn { return Turn{Role: core.RoleAssistant, Text: text} }

// ToolCallTurn builds the assistant turn requesting a batch of tool calls.
func ToolCallTurn(reqs []core.ToolRequest) Turn {
	return Turn{Role: core.RoleAssistant, ToolCalls: reqs}
}

// ToolResultTurn builds a tool turn feeding one invocation result back.
func ToolResultTurn(res ToolResult) Turn {
	return Turn{Role: core.RoleTool, ToolResult: &res}
}

// Request captures the input of one reasoning call: instructions, the full
// ordered transcript so far, and the registered tool descriptors. Retrying a
// Generate call with an identical Request is safe.
type Request struct {
	Instructions string           `json:"instructions"`
	Turns        []Turn           `json:"turns"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// Info describes a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the reasoning-call interface consumed by the dispatch loop.
//
// Generate returns either a final answer or a batch of tool requests as a
// tagged core.Outcome. Provider throttling is reported by wrapping
// core.ErrRateLimited so the orchestrator can map it to a distinct status.
type Model interface {
	Generate(ctx context.Context, req Request) (core.Outcome, error)

	// Info returns metadata about the model implementation.
	Info() Info
}
