//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-copilot-go/action"
)

type weatherInput struct {
	City string `json:"city" description:"city name"`
	Days int    `json:"days,omitempty"`
}

func TestNewDerivesParametersAndExecutes(t *testing.T) {
	a := New("get_weather", func(ctx context.Context, in weatherInput) (string, error) {
		return in.City + ": 72F", nil
	}, WithDescription("weather lookup"))

	assert.Equal(t, "get_weather", a.Name)
	assert.Equal(t, "weather lookup", a.Description)
	assert.True(t, a.Executable())

	require.Len(t, a.Parameters, 2)
	assert.Equal(t, "city", a.Parameters[0].Name)
	assert.Equal(t, action.TypeString, a.Parameters[0].Type)
	assert.True(t, a.Parameters[0].Required)
	assert.Equal(t, "city name", a.Parameters[0].Description)
	assert.False(t, a.Parameters[1].Required)

	out, err := a.Handler.Execute(context.Background(), map[string]any{"city": "SF"})
	require.NoError(t, err)
	assert.Equal(t, action.OutputString, out.Kind)
	assert.Equal(t, "SF: 72F", out.Value)
}

func TestNewPropagatesHandlerError(t *testing.T) {
	sentinel := errors.New("upstream down")
	a := New("broken", func(ctx context.Context, in weatherInput) (string, error) {
		return "", sentinel
	})

	_, err := a.Handler.Execute(context.Background(), map[string]any{"city": "SF"})
	assert.ErrorIs(t, err, sentinel)
}

func TestNewRejectsMistypedArguments(t *testing.T) {
	a := New("get_weather", func(ctx context.Context, in weatherInput) (string, error) {
		return "", nil
	})

	_, err := a.Handler.Execute(context.Background(), map[string]any{"city": 12})
	assert.Error(t, err)
}

func TestNewStructured(t *testing.T) {
	a := NewStructured("plan", func(ctx context.Context, in weatherInput) (*action.Output, error) {
		return action.StructuredOutput("checking "+in.City, action.ToolCall{
			Name:      "get_weather",
			Arguments: map[string]any{"city": in.City},
		}), nil
	})

	out, err := a.Handler.Execute(context.Background(), map[string]any{"city": "SF"})
	require.NoError(t, err)
	assert.Equal(t, action.OutputStructured, out.Kind)
	assert.Equal(t, "checking SF", out.Content)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "get_weather", out.ToolCalls[0].Name)
}

func TestNewStreamable(t *testing.T) {
	a := NewStreamable("narrate", func(ctx context.Context, in weatherInput) (*action.ChunkReader, error) {
		stream := action.NewChunkStream(2)
		go func() {
			stream.Writer.Send(action.Chunk{TextDelta: "sunny in " + in.City}, nil)
			stream.Writer.Close()
		}()
		return stream.Reader, nil
	})

	out, err := a.Handler.Execute(context.Background(), map[string]any{"city": "SF"})
	require.NoError(t, err)
	require.Equal(t, action.OutputStream, out.Kind)

	chunk, err := out.Stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "sunny in SF", chunk.TextDelta)

	_, err = out.Stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestWithParametersOverride(t *testing.T) {
	override := []action.Parameter{{Name: "q", Type: action.TypeString, Required: true}}
	a := New("search", func(ctx context.Context, in weatherInput) (string, error) {
		return "", nil
	}, WithParameters(override))
	assert.Equal(t, override, a.Parameters)
}
