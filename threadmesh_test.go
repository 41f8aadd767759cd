package threadmesh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/model"
	"github.com/threadmesh/threadmesh/model/modeltest"
)

func TestFacadeConversationFlow(t *testing.T) {
	tm := New(func(o *Options) {
		o.Model = modeltest.NewScripted(modeltest.Answer("hello from the mesh"))
	})
	ctx := context.Background()

	th, err := tm.CreateThread(ctx, map[string]string{"channel": "api"})
	require.NoError(t, err)

	reply, err := tm.PostMessage(ctx, th.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, core.RoleAssistant, reply.Role)
	assert.Equal(t, "hello from the mesh", reply.Content)

	msgs, err := tm.ListMessages(ctx, th.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, tm.DeleteThread(ctx, th.ID))
	_, err = tm.GetThread(ctx, th.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFacadeDefaultsAreUsable(t *testing.T) {
	tm := New()
	ctx := context.Background()

	th, err := tm.CreateThread(ctx, nil)
	require.NoError(t, err)

	// The default scripted model echoes the user message.
	reply, err := tm.PostMessage(ctx, th.ID, "ping")
	require.NoError(t, err)
	assert.Equal(t, "Echo: ping", reply.Content)
}

func TestFacadeToolUseOverHTTP(t *testing.T) {
	tm := New(func(o *Options) {
		o.Model = modeltest.NewScripted(
			modeltest.RequestTools(core.ToolRequest{
				ID: "call_1", Name: "calculate", Arguments: `{"expression":"6*7"}`,
			}),
			modeltest.Answer("42"),
		)
	})
	srv := httptest.NewServer(tm.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	th, err := tm.CreateThread(context.Background(), nil)
	require.NoError(t, err)

	reply, err := tm.PostMessage(context.Background(), th.ID, "what is 6*7?")
	require.NoError(t, err)
	assert.Equal(t, "42", reply.Content)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "calculate", reply.ToolCalls[0].Name)
}

var _ model.Model = (*modeltest.ScriptedModel)(nil)
