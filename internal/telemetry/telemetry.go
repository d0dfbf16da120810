//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the shared telemetry constants and span attribute
// helpers used by the runtime, the adapters and the event pipeline.
package telemetry

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "trpc-copilot-go"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-copilot"
	InstrumentName   = "trpc.copilot.go"

	SpanNameChatRequest    = "chat.request"
	SpanNameAdapterProcess = "adapter.process"
	SpanNameActionExecute  = "action.execute"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attributes constants.
var (
	KeyThreadID        = "trpc.go.copilot.thread_id"
	KeyRunID           = "trpc.go.copilot.run_id"
	KeyProvider        = "trpc.go.copilot.provider"
	KeyModel           = "trpc.go.copilot.model"
	KeyActionName      = "trpc.go.copilot.action_name"
	KeyExecutionID     = "trpc.go.copilot.action_execution_id"
	KeyActionArguments = "trpc.go.copilot.action_arguments"
)

// maxArgumentAttrLen bounds the argument payload recorded on spans.
const maxArgumentAttrLen = 512

// TraceChatRequest annotates the span wrapping one chat request lifecycle.
func TraceChatRequest(span trace.Span, threadID, runID, provider, model string) {
	span.SetAttributes(
		attribute.String("gen_ai.system", "trpc.go.copilot"),
		attribute.String(KeyThreadID, threadID),
		attribute.String(KeyRunID, runID),
		attribute.String(KeyProvider, provider),
		attribute.String("gen_ai.request.model", model),
	)
}

// TraceAdapterProcess annotates the span wrapping one provider call.
func TraceAdapterProcess(span trace.Span, threadID, provider, model string) {
	span.SetAttributes(
		attribute.String("gen_ai.system", "trpc.go.copilot"),
		attribute.String(KeyThreadID, threadID),
		attribute.String(KeyProvider, provider),
		attribute.String("gen_ai.request.model", model),
	)
}

// TraceActionExecute annotates the span wrapping one server-side handler
// invocation. Arguments are serialized and truncated before recording.
func TraceActionExecute(span trace.Span, name, executionID string, args map[string]any) {
	span.SetAttributes(
		attribute.String("gen_ai.system", "trpc.go.copilot"),
		attribute.String("gen_ai.operation.name", "action.execute"),
		attribute.String(KeyActionName, name),
		attribute.String(KeyExecutionID, executionID),
		attribute.String(KeyActionArguments, renderArguments(args)),
	)
}

func renderArguments(args map[string]any) string {
	bts, err := json.Marshal(args)
	if err != nil {
		return "<not json serializable>"
	}
	if len(bts) > maxArgumentAttrLen {
		return string(bts[:maxArgumentAttrLen])
	}
	return string(bts)
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// It connects the OpenTelemetry Collector through gRPC connection.
	// You can customize the endpoint using options or environment variables.
	conn, err := grpc.Dial(endpoint,
		// Note the use of insecure transport here. TLS is recommended in production.
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}

	return conn, err
}
