package core

import "time"

// Role identifies the author of a message turn.
type Role string

const (
	// RoleUser is client-supplied input.
	RoleUser Role = "user"
	// RoleAssistant is model output, possibly carrying a tool call trace.
	RoleAssistant Role = "assistant"
	// RoleTool records the result of a single tool invocation fed back into
	// the reasoning loop.
	RoleTool Role = "tool"
)

// Message is one immutable turn in a thread. Corrections are modeled as new
// messages, never in-place edits. Sequence is assigned by the store at append
// time and is strictly increasing within a thread; wall-clock ties never
// reorder messages.
type Message struct {
	ID        string           `json:"id"`
	ThreadID  string           `json:"thread_id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Sequence  int64            `json:"sequence"`
	Timestamp time.Time        `json:"timestamp"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolCallRecord explains how an assistant message's content was derived.
// It is embedded in the message, not a standalone entity. Exactly one of
// Result and Error is populated.
type ToolCallRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Arguments string    `json:"arguments"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Started   time.Time `json:"started_at"`
	Ended     time.Time `json:"ended_at"`
}

// NewUserMessage constructs an unsequenced user message bound to a thread.
func NewUserMessage(threadID, content string) Message {
	return Message{
		ID:        NewMessageID(),
		ThreadID:  threadID,
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewAssistantMessage constructs an unsequenced assistant message with its
// accumulated tool call trace.
func NewAssistantMessage(threadID, content string, trace []ToolCallRecord) Message {
	return Message{
		ID:        NewMessageID(),
		ThreadID:  threadID,
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
		ToolCalls: trace,
	}
}

// NewToolMessage constructs an unsequenced tool-result message. Content holds
// the serialized result (or a structured failure value) and the record keeps
// the invocation detail.
func NewToolMessage(threadID, content string, rec ToolCallRecord) Message {
	return Message{
		ID:        NewMessageID(),
		ThreadID:  threadID,
		Role:      RoleTool,
		Content:   content,
		Timestamp: time.Now().UTC(),
		ToolCalls: []ToolCallRecord{rec},
	}
}
