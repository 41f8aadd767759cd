package core

// ToolRequest is a single tool invocation requested by the model in one
// reasoning turn. Arguments is the serialized (JSON) payload exactly as the
// provider returned it.
type ToolRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Outcome is the tagged result of one reasoning call: either a final textual
// answer or a batch of tool requests. The dispatch loop switches on the
// variant instead of inspecting provider response shapes.
type Outcome struct {
	Answer       string        `json:"answer,omitempty"`
	ToolRequests []ToolRequest `json:"tool_requests,omitempty"`
}

// IsFinal reports whether the model produced a final answer with no further
// tool requests.
func (o Outcome) IsFinal() bool { return len(o.ToolRequests) == 0 }

// FinalAnswer constructs the terminal outcome variant.
func FinalAnswer(text string) Outcome { return Outcome{Answer: text} }

// RequestTools constructs the tool-calling outcome variant. Requests within
// one outcome are independent and may be executed concurrently.
func RequestTools(reqs ...ToolRequest) Outcome { return Outcome{ToolRequests: reqs} }
