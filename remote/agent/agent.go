//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package agent connects this runtime to remote copilot runtimes speaking
// the same streaming protocol. Registered agents surface as
// remote-availability actions whose handler forwards the call and replays
// the remote event stream verbatim.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/event"
)

// Agent describes one remote copilot runtime.
type Agent struct {
	// Name is the action name the model (or an agent session) invokes.
	Name string `json:"name"`
	// Description tells the model what the agent does.
	Description string `json:"description,omitempty"`
	// Endpoint is the URL of the remote runtime's streaming chat endpoint.
	Endpoint string `json:"endpoint"`
	// Headers are sent with every forwarded request, typically auth.
	Headers map[string]string `json:"-"`
}

type registryOptions struct {
	client *http.Client
}

// Option configures a Registry.
type Option func(*registryOptions)

// WithHTTPClient replaces the HTTP client used for forwarded requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *registryOptions) {
		o.client = client
	}
}

// Registry holds the known remote agents. It backs both action discovery
// and the agent metadata endpoints, and may be mutated while serving.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	order  []string
	client *http.Client
}

// NewRegistry creates an empty agent registry.
func NewRegistry(opts ...Option) *Registry {
	o := registryOptions{client: &http.Client{Timeout: 5 * time.Minute}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		agents: make(map[string]Agent),
		client: o.client,
	}
}

// Register adds an agent, replacing any previous registration of the same
// name.
func (r *Registry) Register(agent Agent) error {
	if agent.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if agent.Endpoint == "" {
		return fmt.Errorf("agent %s: endpoint is required", agent.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.Name]; !exists {
		r.order = append(r.order, agent.Name)
	}
	r.agents[agent.Name] = agent
	return nil
}

// Agents lists the registered agents in registration order.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]Agent, 0, len(r.order))
	for _, name := range r.order {
		agents = append(agents, r.agents[name])
	}
	return agents
}

// Lookup returns the agent registered under name.
func (r *Registry) Lookup(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// Actions implements the runtime action source contract: one remote action
// per registered agent. Remote actions lose name collisions against server
// and client actions during the effective-set merge.
func (r *Registry) Actions(ctx context.Context) ([]*action.Action, error) {
	agents := r.Agents()
	actions := make([]*action.Action, 0, len(agents))
	for _, agent := range agents {
		actions = append(actions, r.convert(agent))
	}
	return actions, nil
}

func (r *Registry) convert(agent Agent) *action.Action {
	return &action.Action{
		Name:         agent.Name,
		Description:  agent.Description,
		Availability: action.AvailabilityRemote,
		Parameters: []action.Parameter{{
			Name:        "message",
			Type:        action.TypeString,
			Description: "Message forwarded to the agent",
			Required:    true,
		}},
		RemoteAgentHandler: func(ctx context.Context, args map[string]any) (<-chan event.Event, error) {
			return r.stream(ctx, agent, args)
		},
	}
}
