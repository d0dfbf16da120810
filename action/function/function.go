//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package function turns ordinary Go functions into actions, deriving the
// parameter declarations from the input type via reflection.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	ischema "trpc.group/trpc-go/trpc-copilot-go/internal/schema"
)

// Option configures the wrapped action.
type Option func(*action.Action)

// WithDescription sets the action description shown to the model.
func WithDescription(description string) Option {
	return func(a *action.Action) {
		a.Description = description
	}
}

// WithParameters overrides the reflected parameter declarations.
func WithParameters(params []action.Parameter) Option {
	return func(a *action.Action) {
		a.Parameters = params
	}
}

// New wraps fn as a server-side action returning a plain string result.
// Parameters are derived from I's exported fields.
func New[I any](name string, fn func(ctx context.Context, in I) (string, error), opts ...Option) *action.Action {
	return build[I](name, opts, func(ctx context.Context, in I) (*action.Output, error) {
		value, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return action.StringOutput(value), nil
	})
}

// NewStructured wraps fn as a server-side action with full control over the
// output variant (string, structured content plus nested tool calls, or a
// chunk stream).
func NewStructured[I any](name string, fn func(ctx context.Context, in I) (*action.Output, error), opts ...Option) *action.Action {
	return build[I](name, opts, fn)
}

// NewStreamable wraps fn as a server-side action that streams chunks back
// through a nested pipeline pass.
func NewStreamable[I any](name string, fn func(ctx context.Context, in I) (*action.ChunkReader, error), opts ...Option) *action.Action {
	return build[I](name, opts, func(ctx context.Context, in I) (*action.Output, error) {
		reader, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return action.StreamOutput(reader), nil
	})
}

func build[I any](name string, opts []Option, fn func(ctx context.Context, in I) (*action.Output, error)) *action.Action {
	var zero I
	a := &action.Action{
		Name:         name,
		Parameters:   ischema.Parameters(reflect.TypeOf(zero)),
		Availability: action.AvailabilityEnabled,
	}
	a.Handler = action.HandlerFunc(func(ctx context.Context, args map[string]any) (*action.Output, error) {
		in, err := decode[I](args)
		if err != nil {
			return nil, err
		}
		return fn(ctx, in)
	})
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// decode converts the argument object into the declared input type by a JSON
// round trip, so json tags and nested structs behave exactly as they do on
// the wire.
func decode[I any](args map[string]any) (I, error) {
	var in I
	if args == nil {
		return in, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return in, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("decode arguments into %T: %w", in, err)
	}
	return in, nil
}
