//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package mcp discovers actions from Model Context Protocol servers. Each
// listed tool becomes a remote-availability action whose handler invokes the
// tool and returns the concatenated text content of the response.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-copilot-go/action"
)

// defaultClientInfo identifies this runtime to MCP servers when the caller
// does not provide its own implementation info.
var defaultClientInfo = mcp.Implementation{
	Name:    "trpc-copilot-go",
	Version: "1.0.0",
}

// Config defines how to reach one MCP server.
type Config struct {
	// Transport selects the transport method: "streamable" (default),
	// "sse" or "stdio".
	Transport string `json:"transport,omitempty"`

	// Streamable/SSE configuration.
	ServerURL string            `json:"server_url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`

	// Stdio configuration.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Timeout bounds each MCP operation when the caller context carries no
	// deadline of its own.
	Timeout time.Duration `json:"timeout,omitempty"`

	ClientInfo mcp.Implementation `json:"client_info,omitempty"`
}

type options struct {
	clientOptions []mcp.ClientOption
}

// Option configures a Source.
type Option func(*options)

// WithClientOptions passes extra options to the underlying MCP client.
func WithClientOptions(opts ...mcp.ClientOption) Option {
	return func(o *options) {
		o.clientOptions = append(o.clientOptions, opts...)
	}
}

// Source lists a server's MCP tools as remote actions. It satisfies the
// runtime's action source contract and may be shared across requests; the
// underlying session connects lazily on first use.
type Source struct {
	session *session
}

// New creates a source for one MCP server.
func New(config Config, opts ...Option) *Source {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if config.ClientInfo.Name == "" {
		config.ClientInfo = defaultClientInfo
	}
	return &Source{session: newSession(config, o.clientOptions)}
}

// Actions connects if needed, lists the server's tools and wraps each as a
// remote action. Discovered actions lose name collisions against server and
// client actions during the effective-set merge.
func (s *Source) Actions(ctx context.Context) ([]*action.Action, error) {
	if !s.session.ready() {
		if err := s.session.ensure(ctx); err != nil {
			return nil, err
		}
	}
	tools, err := s.session.listTools(ctx)
	if err != nil {
		return nil, err
	}
	actions := make([]*action.Action, 0, len(tools))
	for _, tool := range tools {
		actions = append(actions, s.convert(tool))
	}
	return actions, nil
}

// Close shuts down the MCP session.
func (s *Source) Close() error {
	return s.session.close()
}

func (s *Source) convert(tool mcp.Tool) *action.Action {
	name := tool.Name
	return &action.Action{
		Name:         name,
		Description:  tool.Description,
		Parameters:   parametersFromSchema(tool.InputSchema),
		Availability: action.AvailabilityRemote,
		Handler: action.HandlerFunc(func(ctx context.Context, args map[string]any) (*action.Output, error) {
			result, err := s.session.callTool(ctx, name, args)
			if err != nil {
				return nil, err
			}
			text := textContent(result.Content)
			if result.IsError {
				if text == "" {
					text = "unknown error"
				}
				return nil, fmt.Errorf("tool %s: %s", name, text)
			}
			return action.StringOutput(text), nil
		}),
	}
}

// textContent joins the text parts of an MCP response. Non-text content is
// skipped.
func textContent(contents []mcp.Content) string {
	var parts []string
	for _, content := range contents {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
