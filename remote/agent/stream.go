//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-copilot-go/event"
	"trpc.group/trpc-go/trpc-copilot-go/internal/sse"
	"trpc.group/trpc-go/trpc-copilot-go/log"
	"trpc.group/trpc-go/trpc-copilot-go/message"
)

const streamBufferSize = 16

// errorCodeRemoteAgent marks error frames decoded from a remote stream.
const errorCodeRemoteAgent = "REMOTE_AGENT_ERROR"

// chatBody is the request this runtime posts to a remote runtime's
// streaming endpoint.
type chatBody struct {
	ThreadID string            `json:"threadId"`
	RunID    string            `json:"runId"`
	Messages []message.Message `json:"messages"`
}

// stream posts the forwarded call and replays the remote event stream on the
// returned channel. Connection-level failures surface as the error return;
// once streaming starts, failures end the channel after an error event.
func (r *Registry) stream(ctx context.Context, agent Agent, args map[string]any) (<-chan event.Event, error) {
	text, _ := args["message"].(string)

	body, err := json.Marshal(chatBody{
		ThreadID: uuid.New().String(),
		RunID:    uuid.New().String(),
		Messages: []message.Message{message.NewText(message.RoleUser, text)},
	})
	if err != nil {
		return nil, fmt.Errorf("encode agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agent.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range agent.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", agent.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("agent %s: unexpected status %d", agent.Name, resp.StatusCode)
	}

	events := make(chan event.Event, streamBufferSize)
	go replay(ctx, agent.Name, resp.Body, events)
	return events, nil
}

// replay decodes frames off the response body until the terminal frame,
// closing any action-execution group the wire leaves open. The channel is
// closed when the remote run ends or ctx is cancelled.
func replay(ctx context.Context, name string, body io.ReadCloser, events chan<- event.Event) {
	defer close(events)
	defer body.Close()

	send := func(ev event.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	reader := sse.NewReader(body)
	var openExec string
	for {
		frame, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warnf("agent %s: stream read: %v", name, err)
			}
			break
		}
		if frame.Done() || frame.Event == "response_end" {
			break
		}

		ev, ok := decodeFrame(frame)
		if !ok {
			continue
		}

		// The wire carries no explicit end-of-execution frame; close the
		// open group before anything that is not part of it.
		if openExec != "" && ev.Type != event.TypeActionExecutionArgs {
			if !send(event.NewActionExecutionEnd(openExec)) {
				return
			}
			openExec = ""
		}
		if ev.Type == event.TypeActionExecutionStart {
			openExec = ev.ActionExecutionID
		}

		if !send(ev) {
			return
		}
	}

	if openExec != "" {
		send(event.NewActionExecutionEnd(openExec))
	}
}

// decodeFrame maps one wire frame back to an internal event. Framing-only
// and unrecognized frames report ok=false.
func decodeFrame(frame sse.Frame) (event.Event, bool) {
	switch event.Type(frame.Event) {
	case event.TypeTextMessageStart:
		var p struct {
			ID              string `json:"id"`
			ParentMessageID string `json:"parentMessageId"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &p); err != nil {
			return event.Event{}, false
		}
		return event.NewTextMessageStart(p.ID, p.ParentMessageID), true

	case event.TypeTextMessageContent:
		var p struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &p); err != nil {
			return event.Event{}, false
		}
		return event.NewTextMessageContent(p.ID, p.Content), true

	case event.TypeTextMessageEnd:
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &p); err != nil {
			return event.Event{}, false
		}
		return event.NewTextMessageEnd(p.ID), true

	case event.TypeActionExecutionStart:
		var p struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			ParentMessageID string `json:"parentMessageId"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &p); err != nil {
			return event.Event{}, false
		}
		return event.NewActionExecutionStart(p.ID, p.Name, p.ParentMessageID), true

	case event.TypeActionExecutionArgs:
		var p struct {
			ActionExecutionID string `json:"actionExecutionId"`
			Args              string `json:"args"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &p); err != nil {
			return event.Event{}, false
		}
		return event.NewActionExecutionArgs(p.ActionExecutionID, p.Args), true

	case event.TypeActionExecutionResult:
		var p struct {
			ActionExecutionID string `json:"actionExecutionId"`
			ActionName        string `json:"actionName"`
			Result            string `json:"result"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &p); err != nil {
			return event.Event{}, false
		}
		return event.NewActionExecutionResult(p.ActionExecutionID, p.ActionName, p.Result), true

	case event.TypeAgentStateMessage:
		var p struct {
			ThreadID  string          `json:"threadId"`
			AgentName string          `json:"agentName"`
			NodeName  string          `json:"nodeName"`
			RunID     string          `json:"runId"`
			Active    bool            `json:"active"`
			Running   bool            `json:"running"`
			State     json.RawMessage `json:"state"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &p); err != nil {
			return event.Event{}, false
		}
		return event.NewAgentStateMessage(p.ThreadID, p.AgentName, p.NodeName, p.RunID, p.Active, p.Running, p.State), true

	case event.TypeMeta:
		var p struct {
			Name string          `json:"name"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &p); err != nil {
			return event.Event{}, false
		}
		return event.NewMeta(p.Name, p.Data), true

	case event.TypeError:
		var p struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &p); err != nil {
			return event.Event{}, false
		}
		return event.NewError(errorCodeRemoteAgent, p.Error), true

	default:
		// session_start and anything newer than this runtime.
		return event.Event{}, false
	}
}
