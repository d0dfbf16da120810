//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package guardrails calls the cloud input-validation endpoint before a
// request reaches the provider. The runtime only enforces the verdict;
// policy authoring lives on the cloud side.
package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"trpc.group/trpc-go/trpc-copilot-go/message"
)

const (
	defaultBaseURL = "https://api.cloud.copilotkit.ai"
	validatePath   = "/guardrails/validate"
	apiKeyHeader   = "X-CopilotCloud-Public-API-Key"

	defaultTimeout = 10 * time.Second
)

// Validation verdicts.
const (
	StatusAllowed = "allowed"
	StatusDenied  = "denied"
)

// Rules carries the per-request topic lists.
type Rules struct {
	AllowList []string `json:"allow_list,omitempty"`
	DenyList  []string `json:"deny_list,omitempty"`
}

// Config is the request-time guardrails configuration, sent by clients under
// the chat request's cloud field.
type Config struct {
	InputValidationRules Rules `json:"input_validation_rules"`
}

// Result is the endpoint's verdict.
type Result struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Denied reports whether the verdict blocks the request.
func (r *Result) Denied() bool {
	return r != nil && r.Status == StatusDenied
}

// Client talks to the cloud validation endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the cloud endpoint base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithAPIKey sets the cloud public API key.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a guardrails client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// validateRequest is the endpoint's wire body. Input is the newest user
// turn; messages carry the prior dialog for context.
type validateRequest struct {
	Input         string        `json:"input"`
	ValidTopics   []string      `json:"validTopics,omitempty"`
	InvalidTopics []string      `json:"invalidTopics,omitempty"`
	Messages      []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Validate sends the newest user message plus dialog context for a verdict.
// A non-2xx response or an undecodable body is returned as an error; the
// caller maps that to its unknown_error status.
func (c *Client) Validate(ctx context.Context, cfg Config, messages []message.Message) (*Result, error) {
	body := validateRequest{
		ValidTopics:   cfg.InputValidationRules.AllowList,
		InvalidTopics: cfg.InputValidationRules.DenyList,
		Messages:      []wireMessage{},
	}
	lastUser := -1
	for i, m := range messages {
		if !m.IsTextLike() {
			continue
		}
		if m.Role == message.RoleUser {
			lastUser = i
		}
	}
	for i, m := range messages {
		if !m.IsTextLike() {
			continue
		}
		if i == lastUser {
			body.Input = m.Content
			continue
		}
		body.Messages = append(body.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal guardrails request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+validatePath, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build guardrails request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("guardrails call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("guardrails endpoint returned %d: %s", resp.StatusCode, excerpt)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode guardrails response: %w", err)
	}
	return &result, nil
}
