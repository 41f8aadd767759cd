package dispatch

import (
	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/model"
)

// HistoryTurns converts persisted thread messages into the normalized
// transcript a provider adapter expects.
//
// An assistant message that carries a tool call trace is expanded back into
// the sequence the provider originally saw: one assistant turn requesting the
// batch, one tool turn per result, then the assistant's final text. Persisted
// tool messages are skipped because the trace already reproduces them; this
// keeps the transcript well formed even when a reader assembled history from
// a partial cursor.
func HistoryTurns(history []core.Message) []model.Turn {
	turns := make([]model.Turn, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case core.RoleUser:
			turns = append(turns, model.UserTurn(msg.Content))
		case core.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				reqs := make([]core.ToolRequest, 0, len(msg.ToolCalls))
				for _, rec := range msg.ToolCalls {
					reqs = append(reqs, core.ToolRequest{
						ID:        rec.ID,
						Name:      rec.Name,
						Arguments: rec.Arguments,
					})
				}
				turns = append(turns, model.ToolCallTurn(reqs))
				for _, rec := range msg.ToolCalls {
					content := toolContent(rec)
					turns = append(turns, model.ToolResultTurn(model.ToolResult{
						ID:      rec.ID,
						Name:    rec.Name,
						Content: content,
						IsError: rec.Error != "",
					}))
				}
			}
			if msg.Content != "" {
				turns = append(turns, model.AssistantTurn(msg.Content))
			}
		case core.RoleTool:
			// Reproduced from the assistant trace above.
		}
	}
	return turns
}
