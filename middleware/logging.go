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

	"trpc.group/trpc-go/trpc-copilot-go/log"
)

// Logging reports each request once on arrival and once on completion. The
// completion record is the single structured lifecycle record per request;
// per-event detail stays at debug level in the packages that produce it.
type Logging struct{}

// NewLogging builds the logging middleware.
func NewLogging() *Logging {
	return &Logging{}
}

// Name implements Middleware.
func (l *Logging) Name() string { return "logging" }

// Before implements Middleware.
func (l *Logging) Before(ctx context.Context, req *Request) Result {
	log.Infof("chat request: thread=%s run=%s messages=%d actions=%d",
		req.ThreadID, req.RunID, len(req.Messages), len(req.Actions))
	return OK()
}

// After implements Middleware.
func (l *Logging) After(ctx context.Context, resp *Response) Result {
	if resp.Reason != "" {
		log.Infof("chat completed: thread=%s run=%s status=%s reason=%q messages=%d duration=%s",
			resp.ThreadID, resp.RunID, resp.Status, resp.Reason, len(resp.Messages), resp.Duration)
		return OK()
	}
	log.Infof("chat completed: thread=%s run=%s status=%s messages=%d duration=%s",
		resp.ThreadID, resp.RunID, resp.Status, len(resp.Messages), resp.Duration)
	return OK()
}
