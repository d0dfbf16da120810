//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package adapter

import (
	"encoding/json"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/message"
)

// tokenCharRatio approximates tokens as characters divided by three, used
// when no real tokenizer is available for the target model.
const tokenCharRatio = 3

// EstimateTokens approximates the token count of a string.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + tokenCharRatio - 1) / tokenCharRatio
}

// TrimToBudget enforces a token allowance over a message list. The serialized
// tools block and every system or developer message are reserved first and
// always kept. The remaining messages are taken newest to oldest while they
// fit; the walk stops at the first message that would exceed the allowance.
// Relative order is preserved. A non-positive limit disables trimming.
func TrimToBudget(messages []message.Message, actions []*action.Action, limit int) []message.Message {
	if limit <= 0 {
		return messages
	}
	keep := make([]bool, len(messages))
	remaining := limit - actionsTokens(actions)
	for i, m := range messages {
		if m.Role == message.RoleSystem || m.Role == message.RoleDeveloper {
			keep[i] = true
			remaining -= messageTokens(m)
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		cost := messageTokens(messages[i])
		if cost > remaining {
			break
		}
		keep[i] = true
		remaining -= cost
	}
	trimmed := make([]message.Message, 0, len(messages))
	for i, m := range messages {
		if keep[i] {
			trimmed = append(trimmed, m)
		}
	}
	return trimmed
}

// messageTokens estimates the wire footprint of one message.
func messageTokens(m message.Message) int {
	b, err := json.Marshal(m)
	if err != nil {
		return EstimateTokens(m.Content)
	}
	return EstimateTokens(string(b))
}

// actionsTokens estimates the serialized tools block for an action set.
func actionsTokens(actions []*action.Action) int {
	total := 0
	for _, a := range actions {
		if a == nil {
			continue
		}
		b, err := json.Marshal(a.Descriptor())
		if err != nil {
			continue
		}
		total += EstimateTokens(string(b))
	}
	return total
}
