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
	"sync"
	"time"
)

const rateLimitWindow = 60 * time.Second

// RateLimit allows at most maxPerWindow requests per thread within a
// sliding 60-second window. Timestamps are pruned on each check, so the
// table stays proportional to recently active threads.
type RateLimit struct {
	mu           sync.Mutex
	maxPerWindow int
	history      map[string][]time.Time

	// now is swapped in tests to step through the window.
	now func() time.Time
}

// NewRateLimit builds the rate-limit middleware.
func NewRateLimit(maxPerWindow int) *RateLimit {
	return &RateLimit{
		maxPerWindow: maxPerWindow,
		history:      make(map[string][]time.Time),
		now:          time.Now,
	}
}

// Name implements Middleware.
func (r *RateLimit) Name() string { return "rate_limit" }

// Before implements Middleware.
func (r *RateLimit) Before(ctx context.Context, req *Request) Result {
	if r.maxPerWindow <= 0 {
		return OK()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-rateLimitWindow)
	recent := r.history[req.ThreadID][:0]
	for _, ts := range r.history[req.ThreadID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= r.maxPerWindow {
		r.history[req.ThreadID] = recent
		return Fail(ErrRateLimited)
	}
	r.history[req.ThreadID] = append(recent, now)
	return OK()
}

// After implements Middleware.
func (r *RateLimit) After(ctx context.Context, resp *Response) Result {
	return OK()
}
