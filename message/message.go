//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package message provides the message types exchanged between clients,
// the runtime and provider adapters.
package message

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Role represents the role of a message author.
type Role string

// Predefined message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleTool      Role = "tool"
)

// Type discriminates the message variants on the wire.
type Type string

// Predefined message types. Exactly one variant is active per message.
const (
	TypeText            Type = "text"
	TypeActionExecution Type = "action_execution"
	TypeResult          Type = "result"
	TypeAgentState      Type = "agent_state"
	TypeImage           Type = "image"
)

// Message is the tagged variant carried in chat requests and collated
// responses. Type selects the active variant; fields outside the active
// variant stay at their zero value.
type Message struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`

	// Text and Image variants.
	Role            Role   `json:"role,omitempty"`
	Content         string `json:"content,omitempty"`
	ParentMessageID string `json:"parentMessageId,omitempty"`

	// ActionExecution variant. Arguments holds the raw JSON argument
	// object; clients may also submit it as a JSON-encoded string.
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Result variant.
	ActionExecutionID string `json:"actionExecutionId,omitempty"`
	ActionName        string `json:"actionName,omitempty"`
	Result            string `json:"result,omitempty"`

	// AgentState variant.
	ThreadID  string          `json:"threadId,omitempty"`
	AgentName string          `json:"agentName,omitempty"`
	NodeName  string          `json:"nodeName,omitempty"`
	RunID     string          `json:"runId,omitempty"`
	Active    bool            `json:"active,omitempty"`
	Running   bool            `json:"running,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`

	// Image variant. Bytes is the base64 payload, Format the image subtype
	// such as "png" or "jpeg".
	Format string `json:"format,omitempty"`
	Bytes  string `json:"bytes,omitempty"`
}

// NewText creates a text message with a fresh id.
func NewText(role Role, content string) Message {
	return Message{
		ID:      uuid.New().String(),
		Type:    TypeText,
		Role:    role,
		Content: content,
	}
}

// NewActionExecution creates an action-execution message. The id doubles as
// the provider tool-call id.
func NewActionExecution(id, name string, arguments json.RawMessage) Message {
	if id == "" {
		id = uuid.New().String()
	}
	return Message{
		ID:        id,
		Type:      TypeActionExecution,
		Name:      name,
		Arguments: arguments,
	}
}

// NewResult creates a result message bound to a prior action execution.
func NewResult(actionExecutionID, actionName, result string) Message {
	return Message{
		ID:                "result-" + actionExecutionID,
		Type:              TypeResult,
		ActionExecutionID: actionExecutionID,
		ActionName:        actionName,
		Result:            result,
	}
}

// NewImage creates an image message carried as base64 bytes.
func NewImage(role Role, format, b64 string) Message {
	return Message{
		ID:     uuid.New().String(),
		Type:   TypeImage,
		Role:   role,
		Format: format,
		Bytes:  b64,
	}
}

// ArgumentsJSON returns the action-execution arguments as a canonical JSON
// object string. Arguments submitted as a JSON-encoded string are unwrapped
// first; empty arguments yield "{}".
func (m Message) ArgumentsJSON() string {
	raw := strings.TrimSpace(string(m.Arguments))
	if raw == "" || raw == "null" {
		return "{}"
	}
	if strings.HasPrefix(raw, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err == nil {
			inner = strings.TrimSpace(inner)
			if inner == "" {
				return "{}"
			}
			return inner
		}
	}
	return raw
}

// IsTextLike reports whether the message carries plain dialog content that a
// provider consumes as a chat turn (text or image).
func (m Message) IsTextLike() bool {
	return m.Type == TypeText || m.Type == TypeImage
}
