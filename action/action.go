//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package action defines the tools a model may invoke through the runtime:
// their declarations, their handler contracts and the effective-set merge.
package action

import (
	"context"

	"trpc.group/trpc-go/trpc-copilot-go/event"
)

// Availability controls whether and where an action may run.
type Availability string

// Predefined availability values.
const (
	// AvailabilityEnabled marks an action as invocable.
	AvailabilityEnabled Availability = "enabled"
	// AvailabilityDisabled removes an action from the effective set.
	AvailabilityDisabled Availability = "disabled"
	// AvailabilityRemote marks an action as forwarded to a remote endpoint.
	AvailabilityRemote Availability = "remote"
)

// ParameterType enumerates the JSON types a parameter may declare.
type ParameterType string

// Predefined parameter types.
const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
)

// Parameter describes one declared action argument. Items and Properties
// recurse for array and object parameters.
type Parameter struct {
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Enum        []string      `json:"enum,omitempty"`
	Items       *Parameter    `json:"items,omitempty"`
	Properties  []Parameter   `json:"properties,omitempty"`
}

// Handler executes a server-side action.
type Handler interface {
	// Execute runs the action with the decoded argument object and returns
	// one of the Output variants. Implementations should honor ctx
	// cancellation; the runtime cancels handlers when the client disconnects.
	Execute(ctx context.Context, args map[string]any) (*Output, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]any) (*Output, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, args map[string]any) (*Output, error) {
	return f(ctx, args)
}

// RemoteAgentHandler forwards an execution to a remote agent. The returned
// channel carries the remote event stream, forwarded verbatim into the
// request's own stream; it must be closed by the producer when the remote
// run finishes.
type RemoteAgentHandler func(ctx context.Context, args map[string]any) (<-chan event.Event, error)

// Action is a named, typed tool the model can invoke. Server-side actions
// carry a Handler, remote ones a RemoteAgentHandler, client-side ones
// neither (the client executes and reports back with a Result message).
type Action struct {
	Name               string
	Description        string
	Parameters         []Parameter
	Availability       Availability
	Handler            Handler
	RemoteAgentHandler RemoteAgentHandler
}

// Executable reports whether the runtime itself can run this action.
func (a *Action) Executable() bool {
	return a != nil && (a.Handler != nil || a.RemoteAgentHandler != nil)
}

// Descriptor is the handler-free wire form of an action, used for action
// enumeration and for request-time client declarations.
type Descriptor struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Parameters   []Parameter  `json:"parameters,omitempty"`
	Availability Availability `json:"availability,omitempty"`
}

// Descriptor returns the wire form of the action.
func (a *Action) Descriptor() Descriptor {
	availability := a.Availability
	if availability == "" {
		availability = AvailabilityEnabled
	}
	return Descriptor{
		Name:         a.Name,
		Description:  a.Description,
		Parameters:   a.Parameters,
		Availability: availability,
	}
}

// FromDescriptor builds a client-declared action. It has no handler; the
// client executes the call and reports back with a Result message on the
// next request.
func FromDescriptor(d Descriptor) *Action {
	return &Action{
		Name:         d.Name,
		Description:  d.Description,
		Parameters:   d.Parameters,
		Availability: d.Availability,
	}
}

// Merge resolves the effective action set for one request. Precedence is
// server-side, then client-declared, then remote-discovered; duplicates by
// name keep the first occurrence. Disabled actions never enter the set.
func Merge(server, client, remote []*Action) []*Action {
	merged := make([]*Action, 0, len(server)+len(client)+len(remote))
	seen := make(map[string]struct{}, len(server)+len(client)+len(remote))
	add := func(actions []*Action) {
		for _, a := range actions {
			if a == nil || a.Name == "" || a.Availability == AvailabilityDisabled {
				continue
			}
			if _, ok := seen[a.Name]; ok {
				continue
			}
			seen[a.Name] = struct{}{}
			merged = append(merged, a)
		}
	}
	add(server)
	add(client)
	add(remote)
	return merged
}

// Index builds a name lookup over an action set. First occurrence wins,
// matching Merge's precedence.
func Index(actions []*Action) map[string]*Action {
	idx := make(map[string]*Action, len(actions))
	for _, a := range actions {
		if a == nil || a.Name == "" {
			continue
		}
		if _, ok := idx[a.Name]; !ok {
			idx[a.Name] = a
		}
	}
	return idx
}
