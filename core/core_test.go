package core

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNewThread(t *testing.T) {
	th := NewThread(map[string]string{"team": "support"})
	assert.True(t, strings.HasPrefix(th.ID, "thread_"))
	assert.Equal(t, ThreadActive, th.State)
	assert.Equal(t, "support", th.Metadata["team"])
	assert.False(t, th.Created.IsZero())
}

func TestNewThread_NilMetadata(t *testing.T) {
	th := NewThread(nil)
	assert.NotNil(t, th.Metadata)
}

func TestIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewMessageID(), "msg_"))
	assert.Len(t, NewThreadID(), len("thread_")+12)
	assert.NotEqual(t, NewThreadID(), NewThreadID())
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))
	long := strings.Repeat("x", 150)
	got := Preview(long)
	assert.Len(t, got, 103)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestPreviewCutsOnRuneBoundary(t *testing.T) {
	// 99 ASCII bytes followed by multi-byte runes straddling the cut point.
	long := strings.Repeat("x", 99) + strings.Repeat("é", 10)
	got := Preview(long)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))

	emoji := strings.Repeat("🙂", 50) // 4 bytes each, boundary at 100 holds
	assert.True(t, utf8.ValidString(Preview(emoji)))
}

func TestOutcomeVariants(t *testing.T) {
	final := FinalAnswer("done")
	assert.True(t, final.IsFinal())
	assert.Equal(t, "done", final.Answer)

	batch := RequestTools(
		ToolRequest{ID: "c1", Name: "get_weather", Arguments: `{"location":"Paris"}`},
		ToolRequest{ID: "c2", Name: "calculate", Arguments: `{"expression":"75*0.18"}`},
	)
	assert.False(t, batch.IsFinal())
	assert.Len(t, batch.ToolRequests, 2)
}

func TestMessageConstructors(t *testing.T) {
	user := NewUserMessage("thread_abc", "hello")
	assert.Equal(t, RoleUser, user.Role)
	assert.Equal(t, "thread_abc", user.ThreadID)
	assert.Zero(t, user.Sequence)

	rec := ToolCallRecord{ID: "c1", Name: "get_weather", Result: `{"temp":70}`}
	toolMsg := NewToolMessage("thread_abc", rec.Result, rec)
	assert.Equal(t, RoleTool, toolMsg.Role)
	assert.Len(t, toolMsg.ToolCalls, 1)

	asst := NewAssistantMessage("thread_abc", "It is 70F.", []ToolCallRecord{rec})
	assert.Equal(t, RoleAssistant, asst.Role)
	assert.Equal(t, "get_weather", asst.ToolCalls[0].Name)
}
