//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package middleware hooks request preprocessing and completion reporting
// into the chat lifecycle. Before-hooks run in registration order and may
// short-circuit or rewrite the input; after-hooks run in reverse order and
// never alter the already-streamed response.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/log"
	"trpc.group/trpc-go/trpc-copilot-go/message"
)

// Sentinel failures the server maps to dedicated HTTP status codes.
var (
	// ErrUnauthorized rejects a request whose api key is missing or unknown.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited rejects a request over the per-thread rate limit.
	ErrRateLimited = errors.New("rate limited")
)

// Request is the mutable view a before-hook gets of one chat request.
type Request struct {
	ThreadID   string
	RunID      string
	URL        string
	Headers    map[string]string
	StartTime  time.Time
	Properties map[string]any
	Messages   []message.Message
	Actions    []*action.Action
}

// Response is the completed request a after-hook observes.
type Response struct {
	ThreadID string
	RunID    string
	Messages []message.Message
	Status   string
	Reason   string
	Duration time.Duration
}

// Result is a hook's outcome. Success false short-circuits the before
// chain; rewritten messages replace the request's input, and metadata
// merges into the request properties.
type Result struct {
	Success  bool
	Err      error
	Messages []message.Message
	Metadata map[string]any
}

// OK is the plain success result.
func OK() Result {
	return Result{Success: true}
}

// Fail wraps a hook failure.
func Fail(err error) Result {
	return Result{Err: err}
}

// Middleware is one link in the chain.
type Middleware interface {
	Name() string
	Before(ctx context.Context, req *Request) Result
	After(ctx context.Context, resp *Response) Result
}

// Chain runs middlewares around each request.
type Chain struct {
	middlewares []Middleware
}

// NewChain builds a chain in registration order.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use appends a middleware.
func (c *Chain) Use(m Middleware) {
	c.middlewares = append(c.middlewares, m)
}

// Before runs the before-hooks in registration order. The first failure
// stops the chain and is returned wrapped with the hook's name. Message
// rewrites compose by replacement; metadata accumulates into the request
// properties.
func (c *Chain) Before(ctx context.Context, req *Request) error {
	for _, m := range c.middlewares {
		res := m.Before(ctx, req)
		if !res.Success {
			err := res.Err
			if err == nil {
				err = errors.New("rejected")
			}
			return fmt.Errorf("middleware %s: %w", m.Name(), err)
		}
		if res.Messages != nil {
			req.Messages = res.Messages
		}
		if len(res.Metadata) > 0 {
			if req.Properties == nil {
				req.Properties = make(map[string]any, len(res.Metadata))
			}
			for k, v := range res.Metadata {
				req.Properties[k] = v
			}
		}
	}
	return nil
}

// After runs the after-hooks in reverse registration order. Failures are
// logged and swallowed; the response has already been streamed.
func (c *Chain) After(ctx context.Context, resp *Response) {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		m := c.middlewares[i]
		if res := m.After(ctx, resp); !res.Success {
			log.Warnf("middleware %s after-hook failed: %v", m.Name(), res.Err)
		}
	}
}
