// Package anthropic implements model.Model on top of the Anthropic Messages
// API, including tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/model"
)

// Options configure the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind model.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Generate submits the transcript and tool descriptors, returning either a
// final answer or the requested tool batch.
func (m *Model) Generate(ctx context.Context, req model.Request) (core.Outcome, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Turns),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
			return core.Outcome{}, fmt.Errorf("anthropic throttled: %w", core.ErrRateLimited)
		}
		return core.Outcome{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var answer string
	var reqs []core.ToolRequest
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			answer += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if raw, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(raw)
				}
			}
			reqs = append(reqs, core.ToolRequest{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}
	if len(reqs) > 0 {
		return core.RequestTools(reqs...), nil
	}
	return core.FinalAnswer(answer), nil
}

// buildMessages converts the normalized transcript into Anthropic messages.
// Consecutive tool-result turns collapse into a single user message, which
// is the shape the Messages API expects after an assistant tool_use turn.
func buildMessages(turns []model.Turn) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, turn := range turns {
		switch {
		case turn.ToolResult != nil:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(
				turn.ToolResult.ID, turn.ToolResult.Content, turn.ToolResult.IsError))
		case len(turn.ToolCalls) > 0:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			for _, tc := range turn.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		case turn.Role == core.RoleAssistant:
			flushResults()
			if turn.Text != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
			}
		default:
			flushResults()
			if turn.Text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
			}
		}
	}
	flushResults()
	return messages
}

// buildTools converts tool descriptors to the Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tdef := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if tdef.Parameters != nil {
			if properties, ok := tdef.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredStrings(tdef.Parameters["required"])
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Name)
	}
	return out
}

func requiredStrings(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		var out []string
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: "anthropic", SupportsTools: true}
}
