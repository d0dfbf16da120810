//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package action

// ParametersSchema builds the provider tool-parameters JSON schema for a
// declared parameter list. An action without parameters yields
// {"type":"object","properties":{},"required":[]}; the wrapper object is
// never omitted and never a non-object.
func ParametersSchema(params []Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		properties[p.Name] = parameterSchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// parameterSchema renders one parameter, recursing into object properties and
// array items. Parameters without a declared type default to string.
func parameterSchema(p Parameter) map[string]any {
	typ := p.Type
	if typ == "" {
		typ = TypeString
	}
	schema := map[string]any{"type": string(typ)}
	if p.Description != "" {
		schema["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		schema["enum"] = p.Enum
	}
	switch typ {
	case TypeObject:
		properties := make(map[string]any, len(p.Properties))
		required := make([]string, 0, len(p.Properties))
		for _, sub := range p.Properties {
			properties[sub.Name] = parameterSchema(sub)
			if sub.Required {
				required = append(required, sub.Name)
			}
		}
		schema["properties"] = properties
		schema["required"] = required
	case TypeArray:
		items := Parameter{Type: TypeString}
		if p.Items != nil {
			items = *p.Items
		}
		schema["items"] = parameterSchema(items)
	}
	return schema
}
