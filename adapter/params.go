//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package adapter

import (
	"encoding/json"
	"fmt"
)

// Tool choice modes accepted in forwarded parameters.
const (
	// ToolChoiceAuto lets the model decide whether to call a tool.
	ToolChoiceAuto = "auto"
	// ToolChoiceNone forbids tool calls for this request.
	ToolChoiceNone = "none"
	// ToolChoiceFunction forces the named function to be called.
	ToolChoiceFunction = "function"
)

// ForwardedParameters carries optional per-request provider overrides from
// the client. Nil pointer fields leave the provider default untouched.
type ForwardedParameters struct {
	Model                  string   `json:"model,omitempty"`
	Temperature            *float64 `json:"temperature,omitempty"`
	MaxTokens              *int64   `json:"max_tokens,omitempty"`
	Stop                   []string `json:"stop,omitempty"`
	ToolChoice             string   `json:"tool_choice,omitempty"`
	ToolChoiceFunctionName string   `json:"tool_choice_function_name,omitempty"`
	ParallelToolCalls      *bool    `json:"parallel_tool_calls,omitempty"`
}

// forwardedParametersWire mirrors ForwardedParameters with a raw tool_choice,
// which clients may send either as a mode string or as a full provider-style
// object such as {"type":"function","function":{"name":"x"}}.
type forwardedParametersWire struct {
	Model                  string          `json:"model,omitempty"`
	Temperature            *float64        `json:"temperature,omitempty"`
	MaxTokens              *int64          `json:"max_tokens,omitempty"`
	Stop                   []string        `json:"stop,omitempty"`
	ToolChoice             json.RawMessage `json:"tool_choice,omitempty"`
	ToolChoiceFunctionName string          `json:"tool_choice_function_name,omitempty"`
	ParallelToolCalls      *bool           `json:"parallel_tool_calls,omitempty"`
}

// UnmarshalJSON accepts both the string and the object form of tool_choice,
// normalizing the object form into mode "function" plus the function name.
func (p *ForwardedParameters) UnmarshalJSON(data []byte) error {
	var w forwardedParametersWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Model = w.Model
	p.Temperature = w.Temperature
	p.MaxTokens = w.MaxTokens
	p.Stop = w.Stop
	p.ToolChoiceFunctionName = w.ToolChoiceFunctionName
	p.ParallelToolCalls = w.ParallelToolCalls
	p.ToolChoice = ""
	if len(w.ToolChoice) == 0 {
		return nil
	}
	var mode string
	if err := json.Unmarshal(w.ToolChoice, &mode); err == nil {
		p.ToolChoice = mode
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(w.ToolChoice, &obj); err != nil {
		return fmt.Errorf("invalid tool_choice: %w", err)
	}
	p.ToolChoice = obj.Type
	if obj.Function.Name != "" {
		p.ToolChoice = ToolChoiceFunction
		p.ToolChoiceFunctionName = obj.Function.Name
	}
	return nil
}

// ClampTemperature bounds a requested temperature to the provider's
// documented range.
func ClampTemperature(t, low, high float64) float64 {
	if t < low {
		return low
	}
	if t > high {
		return high
	}
	return t
}
