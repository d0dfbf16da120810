//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package middleware

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-copilot-go/message"
	tmetric "trpc.group/trpc-go/trpc-copilot-go/telemetry/metric"
)

// Metrics keeps per-process request counters in atomics and mirrors them to
// OTel instruments. The instruments are created off the global meter, so
// they record nothing until telemetry is started.
type Metrics struct {
	requests       atomic.Int64
	successes      atomic.Int64
	failures       atomic.Int64
	outputMessages atomic.Int64
	actionCalls    atomic.Int64
	totalLatencyMs atomic.Int64

	requestCounter metric.Int64Counter
	messageCounter metric.Int64Counter
	actionCounter  metric.Int64Counter
	latencyHist    metric.Float64Histogram
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests       int64
	Successes      int64
	Failures       int64
	OutputMessages int64
	ActionCalls    int64
	AvgLatencyMs   float64
}

// NewMetrics builds the metrics middleware.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.requestCounter, err = tmetric.Meter.Int64Counter(
		"copilot_requests_total",
		metric.WithDescription("Total number of chat requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	m.messageCounter, err = tmetric.Meter.Int64Counter(
		"copilot_output_messages_total",
		metric.WithDescription("Total number of output messages produced"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message counter: %w", err)
	}
	m.actionCounter, err = tmetric.Meter.Int64Counter(
		"copilot_action_calls_total",
		metric.WithDescription("Total number of action executions observed in output"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create action counter: %w", err)
	}
	m.latencyHist, err = tmetric.Meter.Float64Histogram(
		"copilot_request_duration_seconds",
		metric.WithDescription("Chat request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}
	return m, nil
}

// Name implements Middleware.
func (m *Metrics) Name() string { return "metrics" }

// Before implements Middleware.
func (m *Metrics) Before(ctx context.Context, req *Request) Result {
	m.requests.Add(1)
	return OK()
}

// After implements Middleware.
func (m *Metrics) After(ctx context.Context, resp *Response) Result {
	success := resp.Status == "success"
	if success {
		m.successes.Add(1)
	} else {
		m.failures.Add(1)
	}

	actionCalls := int64(0)
	for _, msg := range resp.Messages {
		if msg.Type == message.TypeActionExecution {
			actionCalls++
		}
	}
	m.outputMessages.Add(int64(len(resp.Messages)))
	m.actionCalls.Add(actionCalls)
	m.totalLatencyMs.Add(resp.Duration.Milliseconds())

	statusAttr := metric.WithAttributes(attribute.String("status", resp.Status))
	m.requestCounter.Add(ctx, 1, statusAttr)
	m.messageCounter.Add(ctx, int64(len(resp.Messages)))
	m.actionCounter.Add(ctx, actionCalls)
	m.latencyHist.Record(ctx, resp.Duration.Seconds(), statusAttr)
	return OK()
}

// SnapshotCounters returns the current counter values. The average latency
// is computed over completed requests.
func (m *Metrics) SnapshotCounters() Snapshot {
	s := Snapshot{
		Requests:       m.requests.Load(),
		Successes:      m.successes.Load(),
		Failures:       m.failures.Load(),
		OutputMessages: m.outputMessages.Load(),
		ActionCalls:    m.actionCalls.Load(),
	}
	if completed := s.Successes + s.Failures; completed > 0 {
		s.AvgLatencyMs = float64(m.totalLatencyMs.Load()) / float64(completed)
	}
	return s
}
