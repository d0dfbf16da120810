//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/adapter"
	"trpc.group/trpc-go/trpc-copilot-go/approval"
	"trpc.group/trpc-go/trpc-copilot-go/event"
	"trpc.group/trpc-go/trpc-copilot-go/guardrails"
	"trpc.group/trpc-go/trpc-copilot-go/internal/sse"
	"trpc.group/trpc-go/trpc-copilot-go/middleware"
	"trpc.group/trpc-go/trpc-copilot-go/remote/agent"
	"trpc.group/trpc-go/trpc-copilot-go/runtime"
)

// fakeAdapter scripts the provider with a fixed chunk sequence.
type fakeAdapter struct {
	mu     sync.Mutex
	chunks []action.Chunk
	calls  int
}

func (f *fakeAdapter) Process(ctx context.Context, req adapter.Request) (*adapter.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	defer req.Sink.Close()
	for _, c := range f.chunks {
		req.Sink.Send(c, nil)
	}
	return &adapter.Response{ThreadID: req.ThreadID, RunID: req.RunID}, nil
}

func (f *fakeAdapter) ProviderName() string          { return "fake" }
func (f *fakeAdapter) ModelName() string             { return "fake-model" }
func (f *fakeAdapter) SupportsStreaming() bool       { return true }
func (f *fakeAdapter) SupportsFunctionCalling() bool { return true }

func textChunks(id, text string) []action.Chunk {
	return []action.Chunk{
		{ID: id, TextDelta: text},
		{FinishReason: "stop"},
	}
}

func newTestServer(t *testing.T, rt *runtime.Runtime, opts ...Option) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(rt, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&m))
	return m
}

// readFrames consumes an SSE body up to and including the [DONE] sentinel.
func readFrames(t *testing.T, r io.Reader) []sse.Frame {
	t.Helper()
	reader := sse.NewReader(r)
	var frames []sse.Frame
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, frame)
		if frame.Done() {
			return frames
		}
	}
}

func frameData(t *testing.T, f sse.Frame) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.Data), &m))
	return m
}

func eventNames(frames []sse.Frame) []string {
	names := make([]string, 0, len(frames))
	for _, f := range frames {
		if f.Done() {
			continue
		}
		names = append(names, f.Event)
	}
	return names
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{}), WithVersion("9.9.9"))

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "9.9.9", body["version"])
	assert.Equal(t, "fake", body["provider"])
	assert.Equal(t, "fake-model", body["model"])
	_, err = time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestChatCollatedResponse(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{chunks: textChunks("m1", "hello there")}))

	resp := postJSON(t, srv.URL+"/api/chat", `{
		"threadId": "thread-7",
		"runId": "run-7",
		"messages": [{"type":"text","role":"user","content":"hi"}],
		"extensions": {"client":"sdk-test"}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "thread-7", body["thread_id"])
	assert.Equal(t, "run-7", body["run_id"])

	status := body["status"].(map[string]any)
	assert.Equal(t, "success", status["code"])
	assert.Nil(t, status["reason"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	first := messages[0].(map[string]any)
	assert.Equal(t, "text", first["type"])
	assert.Equal(t, "assistant", first["role"])
	assert.Equal(t, "hello there", first["content"])

	extensions := body["extensions"].(map[string]any)
	assert.Equal(t, "sdk-test", extensions["client"])
}

func TestChatGeneratesIDs(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{chunks: textChunks("m1", "ok")}))

	resp := postJSON(t, srv.URL+"/api/chat", `{"messages":[{"type":"text","role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.NotEmpty(t, body["thread_id"])
	assert.NotEmpty(t, body["run_id"])
}

func TestChatUsesAgentSessionThreadID(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{chunks: textChunks("m1", "ok")}))

	resp := postJSON(t, srv.URL+"/api/chat", `{
		"messages": [{"type":"text","role":"user","content":"hi"}],
		"agentSession": {"agentName":"helper","threadId":"agent-thread"}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp.Body)
	assert.Equal(t, "agent-thread", body["thread_id"])
}

func TestChatRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{}))

	resp := postJSON(t, srv.URL+"/api/chat", `{"messages": [`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp.Body)
	assert.NotEmpty(t, body["error"])
}

func TestChatStreamFrames(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{chunks: textChunks("m1", "streamed")}))

	resp := postJSON(t, srv.URL+"/api/chat/stream", `{
		"threadId": "thread-s",
		"runId": "run-s",
		"messages": [{"type":"text","role":"user","content":"hi"}]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	frames := readFrames(t, resp.Body)
	require.NotEmpty(t, frames)
	assert.Equal(t, []string{
		"session_start",
		"text_message_start",
		"text_message_content",
		"text_message_end",
		"response_end",
	}, eventNames(frames))
	assert.True(t, frames[len(frames)-1].Done())

	session := frameData(t, frames[0])
	assert.Equal(t, "thread-s", session["thread_id"])
	assert.Equal(t, "run-s", session["run_id"])

	start := frameData(t, frames[1])
	assert.Equal(t, "m1", start["id"])
	assert.Equal(t, "assistant", start["role"])
	assert.Equal(t, "text", start["type"])
	_, err := time.Parse(time.RFC3339, start["createdAt"].(string))
	assert.NoError(t, err)

	content := frameData(t, frames[2])
	assert.Equal(t, "m1", content["id"])
	assert.Equal(t, "streamed", content["content"])

	end := frameData(t, frames[3])
	assert.Equal(t, "m1", end["id"])
	assert.Equal(t, "success", end["status"])

	closing := frameData(t, frames[4])
	assert.Equal(t, "success", closing["status"])
}

func TestChatStreamFlagOnChatEndpoint(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{chunks: textChunks("m1", "ok")}))

	resp := postJSON(t, srv.URL+"/api/chat", `{
		"stream": true,
		"messages": [{"type":"text","role":"user","content":"hi"}]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readFrames(t, resp.Body)
	require.NotEmpty(t, frames)
	assert.Equal(t, "session_start", frames[0].Event)
	session := frameData(t, frames[0])
	assert.NotEmpty(t, session["thread_id"])
	assert.NotEmpty(t, session["run_id"])
}

func TestChatStreamEmptyMessages(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{}))

	resp := postJSON(t, srv.URL+"/api/chat/stream", `{"messages": []}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readFrames(t, resp.Body)
	assert.Equal(t, []string{"session_start", "response_end"}, eventNames(frames))
	closing := frameData(t, frames[1])
	assert.Equal(t, "success", closing["status"])
	assert.True(t, frames[len(frames)-1].Done())
}

func TestChatStreamActionExecutionFrames(t *testing.T) {
	fake := &fakeAdapter{chunks: []action.Chunk{
		{ID: "m1", ToolCallID: "t1", ToolCallName: "get_weather"},
		{ArgsDelta: `{"city":"SF"}`},
		{FinishReason: "tool_calls"},
	}}
	weather := &action.Action{
		Name: "get_weather",
		Handler: action.HandlerFunc(func(context.Context, map[string]any) (*action.Output, error) {
			return &action.Output{Value: "72F"}, nil
		}),
	}
	srv := newTestServer(t, runtime.New(fake, runtime.WithServerActions(weather)))

	resp := postJSON(t, srv.URL+"/api/chat/stream", `{
		"messages": [{"type":"text","role":"user","content":"weather?"}]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readFrames(t, resp.Body)
	names := eventNames(frames)
	assert.Equal(t, []string{
		"session_start",
		"action_execution_start",
		"action_execution_args",
		"action_execution_result",
		"response_end",
	}, names, "execution end marks are collation-internal and must not be framed")

	start := frameData(t, frames[1])
	assert.Equal(t, "t1", start["id"])
	assert.Equal(t, "get_weather", start["name"])
	assert.Equal(t, "action_execution", start["type"])

	args := frameData(t, frames[2])
	assert.Equal(t, "t1", args["actionExecutionId"])
	assert.JSONEq(t, `{"city":"SF"}`, args["args"].(string))

	result := frameData(t, frames[3])
	assert.Equal(t, "result-t1", result["id"])
	assert.Equal(t, "t1", result["actionExecutionId"])
	assert.Equal(t, "get_weather", result["actionName"])
	assert.Equal(t, "72F", result["result"])
	assert.Equal(t, "result", result["type"])
}

func TestChatUnauthorized(t *testing.T) {
	rt := runtime.New(
		&fakeAdapter{chunks: textChunks("m1", "ok")},
		runtime.WithMiddlewares(middleware.NewAPIKeyAuth("secret")),
	)
	srv := newTestServer(t, rt)

	resp := postJSON(t, srv.URL+"/api/chat", `{"messages":[{"type":"text","role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody(t, resp.Body)
	assert.Contains(t, body["error"], "unauthorized")

	authorized := postJSON(t, srv.URL+"/api/chat", `{
		"messages": [{"type":"text","role":"user","content":"hi"}],
		"context": {"api_key": "secret"}
	}`)
	assert.Equal(t, http.StatusOK, authorized.StatusCode)
}

func TestChatRateLimited(t *testing.T) {
	rt := runtime.New(
		&fakeAdapter{chunks: textChunks("m1", "ok")},
		runtime.WithMiddlewares(middleware.NewRateLimit(1)),
	)
	srv := newTestServer(t, rt)
	body := `{"threadId":"hot","messages":[{"type":"text","role":"user","content":"hi"}]}`

	first := postJSON(t, srv.URL+"/api/chat", body)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, srv.URL+"/api/chat", body)
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Contains(t, decodeBody(t, second.Body)["error"], "rate limited")
}

func TestChatStreamGuardrailsDenied(t *testing.T) {
	guard := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"denied","reason":"topic blocked"}`))
	}))
	t.Cleanup(guard.Close)

	fake := &fakeAdapter{chunks: textChunks("m1", "should not stream")}
	rt := runtime.New(fake, runtime.WithGuardrails(guardrails.NewClient(
		guardrails.WithBaseURL(guard.URL),
		guardrails.WithAPIKey("ck-test"),
	)))
	srv := newTestServer(t, rt)

	resp := postJSON(t, srv.URL+"/api/chat/stream", `{
		"messages": [{"type":"text","role":"user","content":"weather?"}],
		"cloud": {"guardrails": {"input_validation_rules": {"deny_list": ["weather"]}}}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readFrames(t, resp.Body)
	assert.Equal(t, []string{
		"session_start",
		"text_message_start",
		"text_message_content",
		"text_message_end",
		"response_end",
	}, eventNames(frames))
	assert.Equal(t, "topic blocked", frameData(t, frames[2])["content"])
	assert.Equal(t, "guardrails_validation_failure", frameData(t, frames[4])["status"])

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Zero(t, fake.calls, "denied requests must not reach the provider")
}

func TestActionsEndpoint(t *testing.T) {
	ping := &action.Action{
		Name:        "ping",
		Description: "Answers with pong.",
		Handler: action.HandlerFunc(func(context.Context, map[string]any) (*action.Output, error) {
			return action.StringOutput("pong"), nil
		}),
	}
	srv := newTestServer(t, runtime.New(&fakeAdapter{}, runtime.WithServerActions(ping)))

	resp, err := http.Get(srv.URL + "/api/actions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var descriptors []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&descriptors))
	require.Len(t, descriptors, 1)
	assert.Equal(t, "ping", descriptors[0]["name"])
	assert.Equal(t, "Answers with pong.", descriptors[0]["description"])
	assert.Equal(t, "enabled", descriptors[0]["availability"])
}

func TestExecuteAction(t *testing.T) {
	echo := &action.Action{
		Name: "echo",
		Handler: action.HandlerFunc(func(_ context.Context, args map[string]any) (*action.Output, error) {
			text, _ := args["text"].(string)
			return action.StringOutput(text), nil
		}),
	}
	srv := newTestServer(t, runtime.New(&fakeAdapter{}, runtime.WithServerActions(echo)))

	resp := postJSON(t, srv.URL+"/api/actions/execute", `{"name":"echo","arguments":{"text":"hello"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp.Body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "hello", body["result"])
	assert.GreaterOrEqual(t, body["execution_time"].(float64), 0.0)
}

func TestExecuteActionStringArguments(t *testing.T) {
	echo := &action.Action{
		Name: "echo",
		Handler: action.HandlerFunc(func(_ context.Context, args map[string]any) (*action.Output, error) {
			text, _ := args["text"].(string)
			return action.StringOutput(text), nil
		}),
	}
	srv := newTestServer(t, runtime.New(&fakeAdapter{}, runtime.WithServerActions(echo)))

	resp := postJSON(t, srv.URL+"/api/actions/execute", `{"name":"echo","arguments":"{\"text\":\"quoted\"}"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp.Body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "quoted", body["result"])
}

func TestExecuteActionFailures(t *testing.T) {
	boom := &action.Action{
		Name: "boom",
		Handler: action.HandlerFunc(func(context.Context, map[string]any) (*action.Output, error) {
			return nil, errors.New("ignition failure")
		}),
	}
	remoteOnly := &action.Action{Name: "remote_only", Availability: action.AvailabilityRemote}
	srv := newTestServer(t, runtime.New(&fakeAdapter{}, runtime.WithServerActions(boom, remoteOnly)))

	unknown := postJSON(t, srv.URL+"/api/actions/execute", `{"name":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)

	notExecutable := postJSON(t, srv.URL+"/api/actions/execute", `{"name":"remote_only"}`)
	assert.Equal(t, http.StatusBadRequest, notExecutable.StatusCode)

	missingName := postJSON(t, srv.URL+"/api/actions/execute", `{"arguments":{}}`)
	assert.Equal(t, http.StatusBadRequest, missingName.StatusCode)

	failed := postJSON(t, srv.URL+"/api/actions/execute", `{"name":"boom","arguments":{}}`)
	require.Equal(t, http.StatusOK, failed.StatusCode)
	body := decodeBody(t, failed.Body)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "ignition failure")
}

func TestAgentsWithoutRegistry(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{}))

	resp, err := http.Get(srv.URL + "/api/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agents []any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agents))
	assert.Empty(t, agents)

	state, err := http.Get(srv.URL + "/api/agents/ghost/state")
	require.NoError(t, err)
	defer state.Body.Close()
	assert.Equal(t, http.StatusNotFound, state.StatusCode)
}

func TestAgentsEndpoints(t *testing.T) {
	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(agent.Agent{
		Name:        "research_agent",
		Description: "Finds papers.",
		Endpoint:    "http://agents.local/research",
	}))
	srv := newTestServer(t, runtime.New(&fakeAdapter{}), WithAgentRegistry(registry))

	resp, err := http.Get(srv.URL + "/api/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	var agents []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "research_agent", agents[0]["name"])
	assert.Equal(t, "Finds papers.", agents[0]["description"])

	state, err := http.Get(srv.URL + "/api/agents/research_agent/state?threadId=t-9")
	require.NoError(t, err)
	defer state.Body.Close()
	require.Equal(t, http.StatusOK, state.StatusCode)
	stateBody := decodeBody(t, state.Body)
	assert.Equal(t, "t-9", stateBody["threadId"])
	assert.Equal(t, "research_agent", stateBody["agentName"])
	assert.Equal(t, false, stateBody["active"])
	assert.Equal(t, map[string]any{}, stateBody["state"])

	update := postJSON(t, srv.URL+"/api/agents/research_agent/state", `{
		"threadId": "t-9",
		"nodeName": "plan",
		"state": {"step": 2}
	}`)
	require.Equal(t, http.StatusOK, update.StatusCode)
	updated := decodeBody(t, update.Body)
	assert.Equal(t, "plan", updated["nodeName"])
	assert.Equal(t, map[string]any{"step": float64(2)}, updated["state"])

	missing, err := http.Get(srv.URL + "/api/agents/ghost/state")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestApprovalFlow(t *testing.T) {
	fake := &fakeAdapter{chunks: []action.Chunk{
		{ID: "m1", ToolCallID: "t1", ToolCallName: "send_email"},
		{ArgsDelta: `{"to":"a@b.c"}`},
		{FinishReason: "tool_calls"},
	}}
	sendEmail := &action.Action{
		Name: "send_email",
		Handler: action.HandlerFunc(func(context.Context, map[string]any) (*action.Output, error) {
			return action.StringOutput("sent"), nil
		}),
	}
	manager, err := approval.NewManager(approval.WithGatedActions("send_email"))
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	rt := runtime.New(fake, runtime.WithServerActions(sendEmail), runtime.WithGate(manager))
	srv := newTestServer(t, rt, WithApprovalManager(manager))

	chat := postJSON(t, srv.URL+"/api/chat", `{
		"threadId": "t-approve",
		"messages": [{"type":"text","role":"user","content":"email alice"}]
	}`)
	require.Equal(t, http.StatusOK, chat.StatusCode)

	list, err := http.Get(srv.URL + "/api/approvals")
	require.NoError(t, err)
	defer list.Body.Close()
	var pending []map[string]any
	require.NoError(t, json.NewDecoder(list.Body).Decode(&pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "send_email", pending[0]["toolName"])
	assert.Equal(t, "t-approve", pending[0]["threadId"])
	approvalID := pending[0]["approvalId"].(string)
	require.NotEmpty(t, approvalID)

	decide := postJSON(t, srv.URL+"/api/approvals/"+approvalID, `{"approved":true}`)
	require.Equal(t, http.StatusOK, decide.StatusCode)
	decision := decodeBody(t, decide.Body)
	assert.Equal(t, "approved", decision["status"])
	assert.Equal(t, "sent", decision["result"])

	// Consumed ids are gone.
	again := postJSON(t, srv.URL+"/api/approvals/"+approvalID, `{"approved":true}`)
	assert.Equal(t, http.StatusNotFound, again.StatusCode)
}

func TestApprovalRejectAndCancel(t *testing.T) {
	fake := &fakeAdapter{chunks: []action.Chunk{
		{ID: "m1", ToolCallID: "t1", ToolCallName: "send_email"},
		{FinishReason: "tool_calls"},
	}}
	sendEmail := &action.Action{
		Name: "send_email",
		Handler: action.HandlerFunc(func(context.Context, map[string]any) (*action.Output, error) {
			t.Error("handler must not run for rejected or cancelled approvals")
			return nil, nil
		}),
	}
	manager, err := approval.NewManager(approval.WithGatedActions("send_email"))
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	rt := runtime.New(fake, runtime.WithServerActions(sendEmail), runtime.WithGate(manager))
	srv := newTestServer(t, rt, WithApprovalManager(manager))

	body := `{"messages":[{"type":"text","role":"user","content":"email bob"}]}`
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/chat", body).StatusCode)
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/api/chat", body).StatusCode)

	pendingList := manager.PendingList()
	require.Len(t, pendingList, 2)

	reject := postJSON(t, srv.URL+"/api/approvals/"+pendingList[0].ApprovalID, `{"approved":false,"reason":"nope"}`)
	require.Equal(t, http.StatusOK, reject.StatusCode)
	decision := decodeBody(t, reject.Body)
	assert.Equal(t, "rejected", decision["status"])
	assert.Equal(t, "nope", decision["reason"])

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/approvals/"+pendingList[1].ApprovalID, nil)
	require.NoError(t, err)
	cancel, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer cancel.Body.Close()
	assert.Equal(t, http.StatusNoContent, cancel.StatusCode)

	assert.Empty(t, manager.PendingList())

	missing, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/approvals/ghost", nil)
	require.NoError(t, err)
	gone, err := http.DefaultClient.Do(missing)
	require.NoError(t, err)
	defer gone.Body.Close()
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestApprovalsWithoutManager(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{}))

	resp, err := http.Get(srv.URL + "/api/approvals")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending []any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	assert.Empty(t, pending)

	decide := postJSON(t, srv.URL+"/api/approvals/any", `{"approved":true}`)
	assert.Equal(t, http.StatusNotFound, decide.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{}))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Less(t, resp.StatusCode, 300)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, runtime.New(&fakeAdapter{}))

	resp, err := http.Get(srv.URL + "/api/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDecodeArguments(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]any
		ok   bool
	}{
		{name: "object", raw: `{"a":1}`, want: map[string]any{"a": float64(1)}, ok: true},
		{name: "quoted object", raw: `"{\"a\":1}"`, want: map[string]any{"a": float64(1)}, ok: true},
		{name: "empty", raw: ``, want: map[string]any{}, ok: true},
		{name: "array", raw: `[1,2]`, ok: false},
		{name: "scalar string", raw: `"plain"`, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeArguments(json.RawMessage(tc.raw))
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Frames must stay parseable by the wire reader after formatting.
func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(formatFrame("session_start", []byte(`{"thread_id":"t","run_id":"r"}`)))
	buf.WriteString("data: [DONE]\n\n")

	frames := readFrames(t, &buf)
	require.Len(t, frames, 2)
	assert.Equal(t, "session_start", frames[0].Event)
	assert.Equal(t, `{"thread_id":"t","run_id":"r"}`, frames[0].Data)
	assert.True(t, frames[1].Done())
}

func TestEncodeEventSkipsExecutionEnd(t *testing.T) {
	_, ok := encodeEvent(event.Event{Type: event.TypeActionExecutionEnd}, "t")
	assert.False(t, ok)
}

func TestRejectionStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, rejectionStatus(middleware.ErrUnauthorized))
	assert.Equal(t, http.StatusUnauthorized, rejectionStatus(fmt.Errorf("before hook: %w", middleware.ErrUnauthorized)))
	assert.Equal(t, http.StatusTooManyRequests, rejectionStatus(middleware.ErrRateLimited))
	assert.Equal(t, http.StatusBadRequest, rejectionStatus(errors.New("anything else")))
}
