//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package middleware

import "context"

// PropertyAPIKey is the request property the auth middleware matches
// against its allow-set. The server fills it from the X-API-Key header.
const PropertyAPIKey = "api_key"

// APIKeyAuth rejects requests whose api key property is not in the
// configured allow-set.
type APIKeyAuth struct {
	keys map[string]struct{}
}

// NewAPIKeyAuth builds the auth middleware over an allow-set of keys.
func NewAPIKeyAuth(keys ...string) *APIKeyAuth {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return &APIKeyAuth{keys: allowed}
}

// Name implements Middleware.
func (a *APIKeyAuth) Name() string { return "api_key_auth" }

// Before implements Middleware.
func (a *APIKeyAuth) Before(ctx context.Context, req *Request) Result {
	key, _ := req.Properties[PropertyAPIKey].(string)
	if _, ok := a.keys[key]; !ok {
		return Fail(ErrUnauthorized)
	}
	return OK()
}

// After implements Middleware.
func (a *APIKeyAuth) After(ctx context.Context, resp *Response) Result {
	return OK()
}
