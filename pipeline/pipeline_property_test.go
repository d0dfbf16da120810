//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/event"
)

// genChunk produces the chunk shapes a provider can emit: text deltas, tool
// call openers, argument deltas, and finish markers.
func genChunk() gopter.Gen {
	return gen.OneGenOf(
		gen.AlphaString().Map(func(s string) action.Chunk {
			return action.Chunk{ID: "m-" + s, TextDelta: s}
		}),
		gen.Identifier().Map(func(s string) action.Chunk {
			return action.Chunk{ID: "m-" + s, ToolCallID: "t-" + s, ToolCallName: "lookup_" + s}
		}),
		gen.AlphaString().Map(func(s string) action.Chunk {
			return action.Chunk{ArgsDelta: s}
		}),
		gen.Const(action.Chunk{FinishReason: "stop"}),
	)
}

func runOver(chunks []action.Chunk) []event.Event {
	s := action.NewChunkStream(len(chunks) + 1)
	for _, c := range chunks {
		s.Writer.Send(c, nil)
	}
	s.Writer.Close()

	p := New(nil)
	var events []event.Event
	for ev := range p.Run(context.Background(), s.Reader) {
		events = append(events, ev)
	}
	return events
}

// disciplined checks group balance and non-overlap: every Start has a later
// End for the same id, content and args land only inside their own group,
// and no two groups of the same kind are open at once.
func disciplined(events []event.Event) bool {
	openText := ""
	openExec := ""
	for _, ev := range events {
		switch ev.Type {
		case event.TypeTextMessageStart:
			if openText != "" || ev.MessageID == "" {
				return false
			}
			openText = ev.MessageID
		case event.TypeTextMessageContent:
			if openText == "" || openText != ev.MessageID {
				return false
			}
		case event.TypeTextMessageEnd:
			if openText == "" || openText != ev.MessageID {
				return false
			}
			openText = ""
		case event.TypeActionExecutionStart:
			if openExec != "" || ev.ActionExecutionID == "" {
				return false
			}
			openExec = ev.ActionExecutionID
		case event.TypeActionExecutionArgs:
			if openExec == "" || openExec != ev.ActionExecutionID {
				return false
			}
		case event.TypeActionExecutionEnd:
			if openExec == "" || openExec != ev.ActionExecutionID {
				return false
			}
			openExec = ""
		}
	}
	return openText == "" && openExec == ""
}

func TestGroupDisciplineProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("groups stay balanced and non-overlapping for any chunk sequence", prop.ForAll(
		func(chunks []action.Chunk) bool {
			return disciplined(runOver(chunks))
		},
		gen.SliceOf(genChunk()),
	))

	properties.Property("start and end counts match per group kind", prop.ForAll(
		func(chunks []action.Chunk) bool {
			events := runOver(chunks)
			counts := map[event.Type]int{}
			for _, ev := range events {
				counts[ev.Type]++
			}
			return counts[event.TypeTextMessageStart] == counts[event.TypeTextMessageEnd] &&
				counts[event.TypeActionExecutionStart] == counts[event.TypeActionExecutionEnd]
		},
		gen.SliceOf(genChunk()),
	))

	properties.TestingRun(t)
}

func TestTextDeltaConcatenationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("joined content deltas equal the provider text", prop.ForAll(
		func(parts []string) bool {
			chunks := make([]action.Chunk, 0, len(parts)+1)
			for _, part := range parts {
				chunks = append(chunks, action.Chunk{ID: "m1", TextDelta: part})
			}
			chunks = append(chunks, action.Chunk{FinishReason: "stop"})

			var sb strings.Builder
			for _, ev := range runOver(chunks) {
				if ev.Type == event.TypeTextMessageContent {
					sb.WriteString(ev.Delta)
				}
			}
			return sb.String() == strings.Join(parts, "")
		},
		gen.SliceOf(gen.AlphaString().SuchThat(func(s string) bool { return s != "" })),
	))

	properties.TestingRun(t)
}
