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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-copilot-go/event"
)

var errStreamingUnsupported = errors.New("streaming is not supported by this connection")

// Framing-only frame names; everything else reuses the event type strings.
const (
	frameSessionStart = "session_start"
	frameResponseEnd  = "response_end"
)

// wireFrame pairs an SSE event name with its not-yet-encoded payload.
type wireFrame struct {
	event   string
	payload any
}

func formatFrame(name string, data []byte) []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", name, data))
}

func sessionStartFrame(threadID, runID string) wireFrame {
	return wireFrame{event: frameSessionStart, payload: struct {
		ThreadID string `json:"thread_id"`
		RunID    string `json:"run_id"`
	}{threadID, runID}}
}

func responseEndFrame(status string) wireFrame {
	return wireFrame{event: frameResponseEnd, payload: struct {
		Status string `json:"status"`
	}{status}}
}

// encodeEvent projects one internal event onto its SSE frame. The second
// return is false for events with no wire representation; action-execution
// end marks are collation-internal and are never framed.
func encodeEvent(ev event.Event, threadID string) (wireFrame, bool) {
	createdAt := ev.Timestamp.Format(time.RFC3339)
	switch ev.Type {
	case event.TypeTextMessageStart:
		return wireFrame{event: string(ev.Type), payload: struct {
			ID              string `json:"id"`
			ParentMessageID string `json:"parentMessageId,omitempty"`
			Role            string `json:"role"`
			CreatedAt       string `json:"createdAt"`
			Kind            string `json:"type"`
		}{ev.MessageID, ev.ParentMessageID, "assistant", createdAt, "text"}}, true
	case event.TypeTextMessageContent:
		return wireFrame{event: string(ev.Type), payload: struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		}{ev.MessageID, ev.Delta}}, true
	case event.TypeTextMessageEnd:
		return wireFrame{event: string(ev.Type), payload: struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}{ev.MessageID, "success"}}, true
	case event.TypeActionExecutionStart:
		return wireFrame{event: string(ev.Type), payload: struct {
			ID              string `json:"id"`
			ParentMessageID string `json:"parentMessageId,omitempty"`
			Name            string `json:"name"`
			CreatedAt       string `json:"createdAt"`
			Kind            string `json:"type"`
		}{ev.ActionExecutionID, ev.ParentMessageID, ev.ActionName, createdAt, "action_execution"}}, true
	case event.TypeActionExecutionArgs:
		return wireFrame{event: string(ev.Type), payload: struct {
			ActionExecutionID string `json:"actionExecutionId"`
			Args              string `json:"args"`
		}{ev.ActionExecutionID, ev.ArgsDelta}}, true
	case event.TypeActionExecutionResult:
		return wireFrame{event: string(ev.Type), payload: struct {
			ID                string `json:"id"`
			ActionExecutionID string `json:"actionExecutionId"`
			ActionName        string `json:"actionName"`
			Result            string `json:"result"`
			CreatedAt         string `json:"createdAt"`
			Kind              string `json:"type"`
		}{"result-" + ev.ActionExecutionID, ev.ActionExecutionID, ev.ActionName, ev.Result, createdAt, "result"}}, true
	case event.TypeAgentStateMessage:
		state := ev.State
		if len(state) == 0 {
			state = json.RawMessage(`{}`)
		}
		return wireFrame{event: string(ev.Type), payload: struct {
			ID        string          `json:"id"`
			ThreadID  string          `json:"threadId"`
			AgentName string          `json:"agentName"`
			NodeName  string          `json:"nodeName"`
			RunID     string          `json:"runId"`
			Active    bool            `json:"active"`
			State     json.RawMessage `json:"state"`
			Running   bool            `json:"running"`
			Role      string          `json:"role"`
			CreatedAt string          `json:"createdAt"`
			Kind      string          `json:"type"`
		}{uuid.New().String(), ev.ThreadID, ev.AgentName, ev.NodeName, ev.RunID,
			ev.Active, state, ev.Running, "assistant", createdAt, "agent_state"}}, true
	case event.TypeMeta:
		return wireFrame{event: string(ev.Type), payload: struct {
			Kind string          `json:"type"`
			Name string          `json:"name"`
			Data json.RawMessage `json:"data,omitempty"`
		}{"meta_event", ev.Name, ev.Data}}, true
	case event.TypeError:
		return wireFrame{event: string(ev.Type), payload: struct {
			Error    string `json:"error"`
			ThreadID string `json:"threadId"`
		}{ev.Message, threadID}}, true
	default:
		return wireFrame{}, false
	}
}
