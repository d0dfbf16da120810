//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package adapter

import "trpc.group/trpc-go/trpc-copilot-go/message"

// FilterOrphanResults drops Result messages that do not pair with an
// ActionExecution message in the same list, so the provider never sees a
// tool turn without its preceding tool call. Each execution id pairs at most
// once; duplicate Results for the same id keep only the first.
func FilterOrphanResults(messages []message.Message) []message.Message {
	valid := make(map[string]struct{})
	for _, m := range messages {
		if m.Type == message.TypeActionExecution {
			valid[m.ID] = struct{}{}
		}
	}
	filtered := make([]message.Message, 0, len(messages))
	for _, m := range messages {
		if m.Type == message.TypeResult {
			if _, ok := valid[m.ActionExecutionID]; !ok {
				continue
			}
			delete(valid, m.ActionExecutionID)
		}
		filtered = append(filtered, m)
	}
	return filtered
}

// RewriteDeveloperRole returns a copy of messages with the developer role
// rewritten to system, for providers that do not accept developer turns.
func RewriteDeveloperRole(messages []message.Message) []message.Message {
	rewritten := make([]message.Message, len(messages))
	copy(rewritten, messages)
	for i := range rewritten {
		if rewritten[i].Role == message.RoleDeveloper {
			rewritten[i].Role = message.RoleSystem
		}
	}
	return rewritten
}
