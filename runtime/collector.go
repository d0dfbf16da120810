//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package runtime

import (
	"encoding/json"
	"strings"

	"trpc.group/trpc-go/trpc-copilot-go/event"
	"trpc.group/trpc-go/trpc-copilot-go/message"
)

// collector folds the ordered event stream back into whole output messages
// and derives the terminal status of the run. It observes every event in
// emission order on a single goroutine; no locking.
type collector struct {
	messages []message.Message

	// Open text group, nil when none.
	textID      string
	textParent  string
	textContent *strings.Builder

	// Open action execution group, nil args builder when none.
	execID   string
	execName string
	execArgs *strings.Builder

	status string
	reason string
}

func newCollector() *collector {
	return &collector{status: StatusSuccess}
}

// Observe folds one event into the collector.
func (c *collector) Observe(ev event.Event) {
	switch ev.Type {
	case event.TypeTextMessageStart:
		c.textID = ev.MessageID
		c.textParent = ev.ParentMessageID
		c.textContent = &strings.Builder{}
	case event.TypeTextMessageContent:
		if c.textContent != nil {
			c.textContent.WriteString(ev.Delta)
		}
	case event.TypeTextMessageEnd:
		c.closeText()
	case event.TypeActionExecutionStart:
		c.execID = ev.ActionExecutionID
		c.execName = ev.ActionName
		c.execArgs = &strings.Builder{}
	case event.TypeActionExecutionArgs:
		if c.execArgs != nil {
			c.execArgs.WriteString(ev.ArgsDelta)
		}
	case event.TypeActionExecutionEnd:
		c.closeExecution()
	case event.TypeActionExecutionResult:
		c.messages = append(c.messages, message.NewResult(ev.ActionExecutionID, ev.ActionName, ev.Result))
		c.observeResult(ev.Result)
	case event.TypeAgentStateMessage:
		c.messages = append(c.messages, message.Message{
			Type:      message.TypeAgentState,
			Role:      message.RoleAssistant,
			ThreadID:  ev.ThreadID,
			AgentName: ev.AgentName,
			NodeName:  ev.NodeName,
			RunID:     ev.RunID,
			Active:    ev.Active,
			Running:   ev.Running,
			State:     ev.State,
		})
	case event.TypeError:
		c.fail(StatusUnknownError, ev.Message)
	case event.TypeMeta:
		// Meta events are transport instructions, not conversation content.
	}
}

func (c *collector) closeText() {
	if c.textContent == nil {
		return
	}
	msg := message.NewText(message.RoleAssistant, c.textContent.String())
	msg.ID = c.textID
	msg.ParentMessageID = c.textParent
	c.messages = append(c.messages, msg)
	c.textContent = nil
}

func (c *collector) closeExecution() {
	if c.execArgs == nil {
		return
	}
	raw := c.execArgs.String()
	if raw == "" {
		raw = "{}"
	}
	c.messages = append(c.messages, message.NewActionExecution(c.execID, c.execName, json.RawMessage(raw)))
	c.execArgs = nil
}

// observeResult inspects an encoded result for a failure envelope and maps
// its code onto the run status.
func (c *collector) observeResult(encoded string) {
	_, resultErr := message.DecodeResult(encoded)
	if resultErr == nil {
		return
	}
	switch resultErr.Code {
	case message.ErrorCodeInvalidArguments:
		c.fail(StatusInvalidArguments, resultErr.Message)
	default:
		c.fail(StatusActionExecutionFailed, resultErr.Message)
	}
}

// fail records a terminal failure. The first failure wins; later ones keep
// the original status so the caller sees the root cause.
func (c *collector) fail(status, reason string) {
	if c.status != StatusSuccess {
		return
	}
	c.status = status
	c.reason = reason
}

// Messages returns the collated output messages observed so far.
func (c *collector) Messages() []message.Message {
	return c.messages
}

// Status returns the derived terminal status and its reason.
func (c *collector) Status() (string, string) {
	return c.status, c.reason
}
