//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry starts the tracing and metrics subsystems together.
// Callers that need finer control can start telemetry/trace and
// telemetry/metric individually.
package telemetry

import (
	"context"
	"errors"

	"trpc.group/trpc-go/trpc-copilot-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-copilot-go/telemetry/trace"
)

type options struct {
	traceOptions  []trace.Option
	metricOptions []metric.Option
}

// Option configures combined telemetry startup.
type Option func(*options)

// WithTraceOptions forwards options to the trace subsystem.
func WithTraceOptions(opts ...trace.Option) Option {
	return func(o *options) {
		o.traceOptions = append(o.traceOptions, opts...)
	}
}

// WithMetricOptions forwards options to the metric subsystem.
func WithMetricOptions(opts ...metric.Option) Option {
	return func(o *options) {
		o.metricOptions = append(o.metricOptions, opts...)
	}
}

// Start initializes tracing and metrics and returns a clean function that
// shuts both down. If the metric subsystem fails to start, the already
// started trace subsystem is shut down before returning the error.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	cleanTrace, err := trace.Start(ctx, opt.traceOptions...)
	if err != nil {
		return nil, err
	}
	cleanMetric, err := metric.Start(ctx, opt.metricOptions...)
	if err != nil {
		return nil, errors.Join(err, cleanTrace())
	}
	return func() error {
		return errors.Join(cleanTrace(), cleanMetric())
	}, nil
}
