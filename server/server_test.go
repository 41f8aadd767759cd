package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadmesh/threadmesh/core"
	"github.com/threadmesh/threadmesh/dispatch"
	"github.com/threadmesh/threadmesh/model/modeltest"
	"github.com/threadmesh/threadmesh/store/memory"
	"github.com/threadmesh/threadmesh/tool"
)

func newTestServer(t *testing.T, m *modeltest.ScriptedModel, tools ...tool.Tool) (*httptest.Server, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	registry := tool.NewRegistry()
	registry.RegisterAll(tools...)
	loop := dispatch.NewLoop(m, registry)
	engine := NewEngine(st, loop)
	srv := httptest.NewServer(NewServer(engine).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func createThread(t *testing.T, baseURL string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/threads", map[string]any{
		"metadata": map[string]string{"suite": "server_test"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, modeltest.NewScripted())

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestThreadLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, modeltest.NewScripted())
	threadID := createThread(t, srv.URL)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/threads/"+threadID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, threadID, body["id"])
	assert.Equal(t, "active", body["state"])

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/threads/"+threadID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/threads/"+threadID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "not_found", errObj["code"])

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/threads/"+threadID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// A turn with no tool use: the model answers directly and the thread ends up
// with exactly one user and one assistant message.
func TestPostMessageDirectAnswer(t *testing.T) {
	m := modeltest.NewScripted(modeltest.Answer("Why do gophers make bad comedians? They always burrow the punchline."))
	srv, _ := newTestServer(t, m)
	threadID := createThread(t, srv.URL)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
		map[string]any{"content": "tell me a joke"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "assistant", body["role"])
	assert.Contains(t, body["content"], "burrow")

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/threads/"+threadID+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	second := msgs[1].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, float64(1), first["sequence"])
	assert.Equal(t, "assistant", second["role"])
	assert.Equal(t, float64(2), second["sequence"])
}

// A turn that fans out a two-tool batch: both results are persisted as tool
// messages between the user message and the final assistant message, and the
// assistant message carries the full trace.
func TestPostMessageTwoToolBatch(t *testing.T) {
	weather := tool.NewFunctionTool("get_weather", "current weather",
		map[string]any{"type": "object", "properties": map[string]any{
			"location": map[string]any{"type": "string"},
		}, "required": []string{"location"}},
		func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"location": args["location"], "temperature": 18}, nil
		})
	calc := tool.NewFunctionTool("calculate", "evaluates arithmetic",
		map[string]any{"type": "object", "properties": map[string]any{
			"expression": map[string]any{"type": "string"},
		}, "required": []string{"expression"}},
		func(_ context.Context, _ map[string]any) (any, error) {
			return map[string]any{"result": 10.44}, nil
		})

	m := modeltest.NewScripted(
		modeltest.RequestTools(
			core.ToolRequest{ID: "call_w", Name: "get_weather", Arguments: `{"location":"Paris"}`},
			core.ToolRequest{ID: "call_c", Name: "calculate", Arguments: `{"expression":"58*0.18"}`},
		),
		modeltest.Answer("It is 18 degrees in Paris and an 18% tip on 58 is 10.44."),
	)
	srv, _ := newTestServer(t, m, weather, calc)
	threadID := createThread(t, srv.URL)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
		map[string]any{"content": "weather in Paris, and tip on 58?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "assistant", body["role"])
	trace := body["tool_calls"].([]any)
	require.Len(t, trace, 2)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/threads/"+threadID+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 4)

	roles := make([]string, len(msgs))
	for i, raw := range msgs {
		roles[i] = raw.(map[string]any)["role"].(string)
	}
	assert.Equal(t, []string{"user", "tool", "tool", "assistant"}, roles)
	for i, raw := range msgs {
		assert.Equal(t, float64(i+1), raw.(map[string]any)["sequence"])
	}
}

func TestPostMessageValidation(t *testing.T) {
	srv, _ := newTestServer(t, modeltest.NewScripted())
	threadID := createThread(t, srv.URL)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
		map[string]any{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "validation_failed", errObj["code"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
		map[string]any{"content": strings.Repeat("a", maxContentBytes+1)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// byteStream emits a fixed number of repeated bytes without allocating them
// up front.
type byteStream struct {
	b         byte
	remaining int64
}

func (r *byteStream) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	n := int64(len(p))
	if n > r.remaining {
		n = r.remaining
	}
	for i := int64(0); i < n; i++ {
		p[i] = r.b
	}
	r.remaining -= n
	return int(n), nil
}

// countingReader tracks how many bytes the server actually consumed.
type countingReader struct {
	inner io.Reader
	read  int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	r.read += int64(n)
	return n, err
}

func TestPostMessageOversizedBodyRejectedEarly(t *testing.T) {
	srv, _ := newTestServer(t, modeltest.NewScripted())
	threadID := createThread(t, srv.URL)

	const bodySize = 8 << 20 // well past the transport cap
	body := &countingReader{inner: io.MultiReader(
		strings.NewReader(`{"content":"`),
		&byteStream{b: 'a', remaining: bodySize},
		strings.NewReader(`"}`),
	)}

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/threads/"+threadID+"/messages", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, "body_too_large", errObj["code"])

	// The server must stop reading at the cap instead of draining the
	// whole stream.
	assert.Less(t, body.read, int64(2*maxBodyBytes))
}

func TestPostMessageToMissingThread(t *testing.T) {
	srv, _ := newTestServer(t, modeltest.NewScripted())

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/threads/thread_missing/messages",
		map[string]any{"content": "hello?"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostMessageLoopLimitMaps422(t *testing.T) {
	req := core.ToolRequest{ID: "call_1", Name: "spin", Arguments: `{}`}
	steps := make([]modeltest.Step, 5)
	for i := range steps {
		steps[i] = modeltest.RequestTools(req)
	}
	spin := tool.NewFunctionTool("spin", "returns immediately",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any) (any, error) { return "ok", nil })

	srv, _ := newTestServer(t, modeltest.NewScripted(steps...), spin)
	threadID := createThread(t, srv.URL)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
		map[string]any{"content": "never converge"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "loop_limit_exceeded", errObj["code"])

	// A failed turn persists nothing.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/threads/"+threadID+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["messages"])
}

func TestPostMessageRateLimitedMaps429(t *testing.T) {
	steps := make([]modeltest.Step, 4)
	for i := range steps {
		steps[i] = modeltest.Fail(fmt.Errorf("throttled: %w", core.ErrRateLimited))
	}
	srv, _ := newTestServer(t, modeltest.NewScripted(steps...))
	threadID := createThread(t, srv.URL)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
		map[string]any{"content": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "rate_limited", errObj["code"])
}

func TestListMessagesSinceCursor(t *testing.T) {
	m := modeltest.NewScripted(modeltest.Answer("one"), modeltest.Answer("two"))
	srv, _ := newTestServer(t, m)
	threadID := createThread(t, srv.URL)

	for _, content := range []string{"first", "second"} {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
			map[string]any{"content": content})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/threads/"+threadID+"/messages?since=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, float64(3), msgs[0].(map[string]any)["sequence"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/threads/"+threadID+"/messages?since=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// The second turn replays persisted history, so the model sees the earlier
// exchange in its transcript.
func TestSecondTurnSeesHistory(t *testing.T) {
	m := modeltest.NewScripted(modeltest.Answer("blue"), modeltest.Answer("you asked about colors"))
	srv, _ := newTestServer(t, m)
	threadID := createThread(t, srv.URL)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
		map[string]any{"content": "favorite color?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
		map[string]any{"content": "what did I ask?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	turns := reqs[1].Turns
	require.GreaterOrEqual(t, len(turns), 3)
	assert.Equal(t, "favorite color?", turns[0].Text)
	assert.Equal(t, "blue", turns[1].Text)
	assert.Equal(t, "what did I ask?", turns[2].Text)
}

func TestThreadCountersAfterTurn(t *testing.T) {
	m := modeltest.NewScripted(modeltest.Answer("done"))
	srv, _ := newTestServer(t, m)
	threadID := createThread(t, srv.URL)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/threads/"+threadID+"/messages",
		map[string]any{"content": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/threads/"+threadID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["message_count"])
	assert.Equal(t, "done", body["last_message_preview"])
}
