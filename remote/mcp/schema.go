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
	"encoding/json"
	"sort"

	"trpc.group/trpc-go/trpc-copilot-go/action"
)

// parametersFromSchema converts an MCP tool input schema into declared
// parameters. The schema arrives as whatever the client library decoded, so
// it is normalized through JSON first. Properties are emitted in name order
// so repeated discovery yields a stable declaration.
func parametersFromSchema(schema any) []action.Parameter {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return objectParameters(decoded)
}

func objectParameters(schema map[string]any) []action.Parameter {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := requiredSet(schema["required"])

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]action.Parameter, 0, len(names))
	for _, name := range names {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		params = append(params, parameterFromProperty(name, prop, required[name]))
	}
	return params
}

func parameterFromProperty(name string, prop map[string]any, required bool) action.Parameter {
	p := action.Parameter{Name: name, Required: required, Type: action.TypeString}
	if t, ok := prop["type"].(string); ok && t != "" {
		p.Type = action.ParameterType(t)
	}
	if d, ok := prop["description"].(string); ok {
		p.Description = d
	}
	if enum, ok := prop["enum"].([]any); ok {
		for _, v := range enum {
			if s, ok := v.(string); ok {
				p.Enum = append(p.Enum, s)
			}
		}
	}
	switch p.Type {
	case action.TypeObject:
		p.Properties = objectParameters(prop)
	case action.TypeArray:
		if items, ok := prop["items"].(map[string]any); ok {
			item := parameterFromProperty("", items, false)
			p.Items = &item
		}
	}
	return p
}

func requiredSet(v any) map[string]bool {
	names, ok := v.([]any)
	if !ok {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		if s, ok := name.(string); ok {
			set[s] = true
		}
	}
	return set
}
