//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-copilot-go/log"
)

// transport is the validated transport method.
type transport string

const (
	transportStreamable transport = "streamable"
	transportSSE        transport = "sse"
	transportStdio      transport = "stdio"
)

// parseTransport validates the configured transport string. An empty string
// selects streamable HTTP.
func parseTransport(t string) (transport, error) {
	switch t {
	case "", "streamable", "streamable_http":
		return transportStreamable, nil
	case "sse":
		return transportSSE, nil
	case "stdio":
		return transportStdio, nil
	default:
		return "", fmt.Errorf("unsupported transport: %s, supported: streamable, sse, stdio", t)
	}
}

// reconnectPatterns lists error fragments that trigger a session rebuild.
// Conservative on purpose: configuration errors (DNS) and plain timeouts are
// excluded because reconnecting would not help them.
var reconnectPatterns = []string{
	"session_expired:",
	"transport is closed",
	"client not initialized",
	"not initialized",
	"connection refused",
	"connection reset",
	"EOF",
	"broken pipe",
	"HTTP 404",
	"session not found",
}

// connector is the subset of the trpc-mcp-go client surface the session uses.
type connector interface {
	Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req *mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// session owns one MCP client connection: lazy connect, mutex-guarded state
// and a single reconnect retry on session-expiry errors.
type session struct {
	config Config
	dial   func() (connector, error)

	mu          sync.RWMutex
	client      connector
	connected   bool
	initialized bool

	// reconnects collapses concurrent session rebuilds into one.
	reconnects singleflight.Group
}

func newSession(config Config, clientOptions []mcp.ClientOption) *session {
	s := &session{config: config}
	s.dial = func() (connector, error) { return dialClient(config, clientOptions) }
	return s
}

// dialClient creates the transport-appropriate MCP client.
func dialClient(config Config, clientOptions []mcp.ClientOption) (connector, error) {
	clientInfo := config.ClientInfo
	if clientInfo.Name == "" {
		clientInfo = defaultClientInfo
	}

	transportType, err := parseTransport(config.Transport)
	if err != nil {
		return nil, err
	}

	switch transportType {
	case transportStdio:
		return mcp.NewStdioClient(mcp.StdioTransportConfig{
			ServerParams: mcp.StdioServerParameters{
				Command: config.Command,
				Args:    config.Args,
			},
			Timeout: config.Timeout,
		}, clientInfo)

	case transportSSE:
		return mcp.NewSSEClient(config.ServerURL, clientInfo, withHeaders(config, clientOptions)...)

	default:
		return mcp.NewClient(config.ServerURL, clientInfo, withHeaders(config, clientOptions)...)
	}
}

func withHeaders(config Config, clientOptions []mcp.ClientOption) []mcp.ClientOption {
	var options []mcp.ClientOption
	if len(config.Headers) > 0 {
		headers := http.Header{}
		for k, v := range config.Headers {
			headers.Set(k, v)
		}
		options = append(options, mcp.WithHTTPHeaders(headers))
	}
	return append(options, clientOptions...)
}

// ensure lazily establishes the connection and initializes the MCP session.
func (s *session) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected && s.initialized {
		return nil
	}

	client, err := s.dial()
	if err != nil {
		return fmt.Errorf("create MCP client: %w", err)
	}
	s.client = client
	s.connected = true

	if err := s.initializeLocked(ctx); err != nil {
		s.connected = false
		if closeErr := client.Close(); closeErr != nil {
			log.Errorf("close MCP client after failed initialize: %v", closeErr)
		}
		s.client = nil
		return fmt.Errorf("initialize MCP session: %w", err)
	}
	return nil
}

// initializeLocked performs the MCP initialize handshake. Caller holds mu.
func (s *session) initializeLocked(ctx context.Context) error {
	if s.initialized {
		return nil
	}
	initCtx, cancel := s.timeoutContext(ctx)
	defer cancel()
	resp, err := s.client.Initialize(initCtx, &mcp.InitializeRequest{})
	if err != nil {
		return err
	}
	log.Debugf("MCP session initialized: server=%s version=%s protocol=%s",
		resp.ServerInfo.Name, resp.ServerInfo.Version, resp.ProtocolVersion)
	s.initialized = true
	return nil
}

// timeoutContext applies the configured per-operation timeout unless the
// caller already set a deadline.
func (s *session) timeoutContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			return context.WithTimeout(ctx, s.config.Timeout)
		}
	}
	return ctx, func() {}
}

// listTools fetches the server tool list, reconnecting once on session loss.
func (s *session) listTools(ctx context.Context) ([]mcp.Tool, error) {
	var tools []mcp.Tool
	err := s.withReconnect(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.client == nil {
			return fmt.Errorf("transport is closed")
		}
		listCtx, cancel := s.timeoutContext(ctx)
		defer cancel()
		resp, err := s.client.ListTools(listCtx, &mcp.ListToolsRequest{})
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		tools = resp.Tools
		return nil
	})
	return tools, err
}

// callTool invokes one tool on the server, reconnecting once on session loss.
func (s *session) callTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	var result *mcp.CallToolResult
	err := s.withReconnect(ctx, func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.client == nil {
			return fmt.Errorf("transport is closed")
		}
		callCtx, cancel := s.timeoutContext(ctx)
		defer cancel()
		req := &mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = arguments
		resp, err := s.client.CallTool(callCtx, req)
		if err != nil {
			return fmt.Errorf("call tool %s: %w", name, err)
		}
		result = resp
		return nil
	})
	return result, err
}

// withReconnect runs op and, if it fails with a session-expiry error,
// rebuilds the session once and retries.
func (s *session) withReconnect(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !reconnectable(err) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	log.Debugf("MCP session error, reconnecting: %v", err)
	if reconnectErr := s.recreate(ctx); reconnectErr != nil {
		log.Warnf("MCP session reconnect failed: %v", reconnectErr)
		return err
	}
	return op()
}

func reconnectable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range reconnectPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// recreate closes the current client and dials a fresh session. Concurrent
// callers share one rebuild through the singleflight group.
func (s *session) recreate(ctx context.Context) error {
	_, err, _ := s.reconnects.Do("reconnect", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.client != nil {
			if closeErr := s.client.Close(); closeErr != nil {
				log.Warnf("close stale MCP client: %v", closeErr)
			}
			s.client = nil
		}
		s.connected = false
		s.initialized = false

		client, err := s.dial()
		if err != nil {
			return nil, fmt.Errorf("create MCP client: %w", err)
		}
		s.client = client
		s.connected = true
		if err := s.initializeLocked(ctx); err != nil {
			s.connected = false
			if closeErr := client.Close(); closeErr != nil {
				log.Errorf("close MCP client after failed re-initialize: %v", closeErr)
			}
			s.client = nil
			return nil, fmt.Errorf("re-initialize MCP session: %w", err)
		}
		return nil, nil
	})
	return err
}

// ready reports whether the session is connected and initialized.
func (s *session) ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && s.initialized
}

// close shuts the client down. Safe to call on a never-connected session.
func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.connected = false
	s.initialized = false
	s.client = nil
	if err != nil {
		return fmt.Errorf("close MCP client: %w", err)
	}
	return nil
}
