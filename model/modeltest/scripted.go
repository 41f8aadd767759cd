// Package modeltest provides a deterministic, scriptable model.Model for
// tests, examples and offline operation.
package modeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/model"
)

// Step is one scripted reasoning-call result.
type Step struct {
	Outcome core.Outcome
	Err     error
}

// Answer scripts a final-answer step.
func Answer(text string) Step { return Step{Outcome: core.FinalAnswer(text)} }

// RequestTools scripts a tool-calling step.
func RequestTools(reqs ...core.ToolRequest) Step {
	return Step{Outcome: core.RequestTools(reqs...)}
}

// Fail scripts a failing reasoning call.
func Fail(err error) Step { return Step{Err: err} }

// ScriptedModel replays a fixed sequence of steps, one per Generate call.
// When the script is exhausted it echoes the last user turn, which keeps
// demo binaries usable without credentials. Safe for concurrent use.
type ScriptedModel struct {
	mu       sync.Mutex
	steps    []Step
	calls    int
	requests []model.Request
}

// NewScripted constructs a ScriptedModel replaying the given steps in order.
func NewScripted(steps ...Step) *ScriptedModel {
	return &ScriptedModel{steps: steps}
}

// Generate implements model.Model.
func (m *ScriptedModel) Generate(_ context.Context, req model.Request) (core.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := m.calls
	m.calls++
	if idx < len(m.steps) {
		step := m.steps[idx]
		return step.Outcome, step.Err
	}
	return core.FinalAnswer(fmt.Sprintf("Echo: %s", lastUserText(req))), nil
}

// Calls returns how many Generate calls were made.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every Request received, in order.
func (m *ScriptedModel) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "modeltest", SupportsTools: true}
}

func lastUserText(req model.Request) string {
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role == core.RoleUser {
			return req.Turns[i].Text
		}
	}
	return ""
}
