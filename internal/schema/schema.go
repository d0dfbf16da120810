//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package schema derives action parameter declarations from Go types.
package schema

import (
	"reflect"
	"strings"

	"trpc.group/trpc-go/trpc-copilot-go/action"
)

// Parameters reflects over a struct type and derives the declared parameters
// of an action. Exported fields map by json tag (falling back to the field
// name); fields tagged json:"-" are skipped. Pointer fields and fields with
// omitempty are optional, everything else is required.
func Parameters(t reflect.Type) []action.Parameter {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	params := make([]action.Parameter, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := parseJSONTag(field)
		if skip {
			continue
		}

		p := fieldParameter(name, field.Type)
		p.Description = field.Tag.Get("description")
		p.Required = field.Type.Kind() != reflect.Ptr && !omitEmpty
		params = append(params, p)
	}
	return params
}

func parseJSONTag(field reflect.StructField) (name string, omitEmpty, skip bool) {
	name = field.Name
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func fieldParameter(name string, t reflect.Type) action.Parameter {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	p := action.Parameter{Name: name}
	switch t.Kind() {
	case reflect.String:
		p.Type = action.TypeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		p.Type = action.TypeNumber
	case reflect.Bool:
		p.Type = action.TypeBoolean
	case reflect.Slice, reflect.Array:
		p.Type = action.TypeArray
		items := fieldParameter("", t.Elem())
		p.Items = &items
	case reflect.Struct:
		p.Type = action.TypeObject
		p.Properties = Parameters(t)
	case reflect.Map:
		p.Type = action.TypeObject
	default:
		p.Type = action.TypeString
	}
	return p
}
