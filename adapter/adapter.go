//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package adapter defines the contract between the runtime and concrete LLM
// providers, along with the request-shaping helpers every adapter applies
// before a provider call.
package adapter

import (
	"context"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/message"
)

// Request bundles one provider invocation.
type Request struct {
	// Messages is the dialog to forward, newest last.
	Messages []message.Message
	// Actions is the request's effective action set, already merged.
	Actions []*action.Action
	// ThreadID correlates the invocation with its conversation.
	ThreadID string
	// RunID identifies this run within the thread.
	RunID string
	// Model overrides the adapter's configured model when set.
	Model string
	// Forwarded carries optional per-request parameter overrides.
	Forwarded *ForwardedParameters
	// Sink receives the decoded chunk sequence. The adapter closes it when
	// the provider stream ends, so the consuming pipeline observes EOF.
	Sink *action.ChunkWriter
}

// Response reports the identifiers of a completed provider invocation.
type Response struct {
	ThreadID string
	RunID    string
}

// Adapter translates the runtime's abstract messages and actions into one
// provider's API and streams decoded chunks back through the request sink.
type Adapter interface {
	// Process opens the provider call and decodes its stream into the
	// request sink. It blocks until the stream drains or ctx is cancelled,
	// and closes the sink before returning. Stream failures are both
	// surfaced on the sink and returned.
	Process(ctx context.Context, req Request) (*Response, error)
	// ProviderName identifies the provider, such as "openai".
	ProviderName() string
	// ModelName returns the configured default model.
	ModelName() string
	// SupportsStreaming reports whether Process streams incrementally.
	SupportsStreaming() bool
	// SupportsFunctionCalling reports whether the provider accepts tools.
	SupportsFunctionCalling() bool
}
