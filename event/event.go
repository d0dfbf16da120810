//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package event defines the typed events flowing through a request's
// ordered internal stream.
package event

import (
	"encoding/json"
	"time"
)

// Type discriminates the event variants.
type Type string

// Predefined event types, in the order they typically appear on a stream.
const (
	TypeTextMessageStart      Type = "text_message_start"
	TypeTextMessageContent    Type = "text_message_content"
	TypeTextMessageEnd        Type = "text_message_end"
	TypeActionExecutionStart  Type = "action_execution_start"
	TypeActionExecutionArgs   Type = "action_execution_args"
	TypeActionExecutionEnd    Type = "action_execution_end"
	TypeActionExecutionResult Type = "action_execution_result"
	TypeAgentStateMessage     Type = "agent_state_message"
	TypeMeta                  Type = "meta_event"
	TypeError                 Type = "error"
)

// Event is one item on the runtime's internal ordered stream. Type selects
// the active variant; fields outside the active variant stay at their zero
// value. Events are values, cheap to copy and never mutated after emission.
type Event struct {
	Type      Type
	Timestamp time.Time

	// Text message group.
	MessageID       string
	ParentMessageID string
	Delta           string

	// Action execution group.
	ActionExecutionID string
	ActionName        string
	ArgsDelta         string
	Result            string

	// Agent state.
	ThreadID  string
	AgentName string
	NodeName  string
	RunID     string
	Active    bool
	Running   bool
	State     json.RawMessage

	// Meta.
	Name string
	Data json.RawMessage

	// Error.
	Code    string
	Message string
}

// NewTextMessageStart opens a text message group.
func NewTextMessageStart(messageID, parentMessageID string) Event {
	return Event{
		Type:            TypeTextMessageStart,
		Timestamp:       time.Now(),
		MessageID:       messageID,
		ParentMessageID: parentMessageID,
	}
}

// NewTextMessageContent appends a content delta to an open text message group.
func NewTextMessageContent(messageID, delta string) Event {
	return Event{
		Type:      TypeTextMessageContent,
		Timestamp: time.Now(),
		MessageID: messageID,
		Delta:     delta,
	}
}

// NewTextMessageEnd closes a text message group.
func NewTextMessageEnd(messageID string) Event {
	return Event{
		Type:      TypeTextMessageEnd,
		Timestamp: time.Now(),
		MessageID: messageID,
	}
}

// NewActionExecutionStart opens an action execution group. The execution id
// doubles as the provider tool-call id.
func NewActionExecutionStart(actionExecutionID, actionName, parentMessageID string) Event {
	return Event{
		Type:              TypeActionExecutionStart,
		Timestamp:         time.Now(),
		ActionExecutionID: actionExecutionID,
		ActionName:        actionName,
		ParentMessageID:   parentMessageID,
	}
}

// NewActionExecutionArgs appends an argument delta to an open action
// execution group.
func NewActionExecutionArgs(actionExecutionID, argsDelta string) Event {
	return Event{
		Type:              TypeActionExecutionArgs,
		Timestamp:         time.Now(),
		ActionExecutionID: actionExecutionID,
		ArgsDelta:         argsDelta,
	}
}

// NewActionExecutionEnd closes an action execution group.
func NewActionExecutionEnd(actionExecutionID string) Event {
	return Event{
		Type:              TypeActionExecutionEnd,
		Timestamp:         time.Now(),
		ActionExecutionID: actionExecutionID,
	}
}

// NewActionExecutionResult binds an execution result to a closed group.
// The result string may carry an encoded error envelope.
func NewActionExecutionResult(actionExecutionID, actionName, result string) Event {
	return Event{
		Type:              TypeActionExecutionResult,
		Timestamp:         time.Now(),
		ActionExecutionID: actionExecutionID,
		ActionName:        actionName,
		Result:            result,
	}
}

// NewAgentStateMessage reports a remote agent's state snapshot.
func NewAgentStateMessage(threadID, agentName, nodeName, runID string, active, running bool, state json.RawMessage) Event {
	return Event{
		Type:      TypeAgentStateMessage,
		Timestamp: time.Now(),
		ThreadID:  threadID,
		AgentName: agentName,
		NodeName:  nodeName,
		RunID:     runID,
		Active:    active,
		Running:   running,
		State:     state,
	}
}

// NewMeta carries an out-of-band named payload.
func NewMeta(name string, data json.RawMessage) Event {
	return Event{
		Type:      TypeMeta,
		Timestamp: time.Now(),
		Name:      name,
		Data:      data,
	}
}

// NewError reports a stream-level failure.
func NewError(code, message string) Event {
	return Event{
		Type:      TypeError,
		Timestamp: time.Now(),
		Code:      code,
		Message:   message,
	}
}
