//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package action

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// OutputKind discriminates the handler output variants.
type OutputKind int

// Handler output variants.
const (
	// OutputString carries a plain result string.
	OutputString OutputKind = iota
	// OutputStructured carries optional assistant content plus nested tool
	// calls to run after the current chunk source drains.
	OutputStructured
	// OutputStream carries a lazy chunk stream consumed by a nested
	// pipeline pass.
	OutputStream
)

// Output is the tagged variant an action handler returns.
type Output struct {
	Kind OutputKind

	// OutputString.
	Value string

	// OutputStructured.
	Content   string
	ToolCalls []ToolCall

	// OutputStream.
	Stream *ChunkReader
}

// ToolCall is a nested invocation requested by a structured handler output.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// StringOutput wraps a plain result string.
func StringOutput(value string) *Output {
	return &Output{Kind: OutputString, Value: value}
}

// StructuredOutput wraps assistant content and nested tool calls. Either part
// may be empty.
func StructuredOutput(content string, toolCalls ...ToolCall) *Output {
	return &Output{Kind: OutputStructured, Content: content, ToolCalls: toolCalls}
}

// StreamOutput wraps a lazy chunk stream.
func StreamOutput(r *ChunkReader) *Output {
	return &Output{Kind: OutputStream, Stream: r}
}

// Render flattens the output into a single string for callers that invoke a
// handler outside an event pipeline. Stream outputs are drained; their text
// deltas are concatenated and tool-call chunks are ignored.
func (o *Output) Render() string {
	if o == nil {
		return ""
	}
	switch o.Kind {
	case OutputStructured:
		if len(o.ToolCalls) == 0 {
			return o.Content
		}
		raw, err := json.Marshal(struct {
			Content   string     `json:"content,omitempty"`
			ToolCalls []ToolCall `json:"toolCalls"`
		}{Content: o.Content, ToolCalls: o.ToolCalls})
		if err != nil {
			return o.Content
		}
		return string(raw)
	case OutputStream:
		if o.Stream == nil {
			return ""
		}
		var sb strings.Builder
		for {
			chunk, err := o.Stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				break
			}
			sb.WriteString(chunk.TextDelta)
		}
		return sb.String()
	default:
		return o.Value
	}
}
