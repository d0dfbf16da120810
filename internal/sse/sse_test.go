//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package sse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "event: text_message_content\ndata: {\"id\":\"m1\"}\n\n",
		string(Frame{Event: "text_message_content", Data: `{"id":"m1"}`}.Encode()))
	assert.Equal(t, "data: [DONE]\n\n", string(Frame{Data: DoneSentinel}.Encode()))
}

func TestReaderRoundTrip(t *testing.T) {
	var stream strings.Builder
	frames := []Frame{
		{Event: "session_start", Data: `{"thread_id":"t1","run_id":"r1"}`},
		{Event: "text_message_content", Data: `{"id":"m1","content":"Hello"}`},
		{Data: DoneSentinel},
	}
	for _, f := range frames {
		stream.Write(f.Encode())
	}

	r := NewReader(strings.NewReader(stream.String()))
	for _, want := range frames {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderDoneSentinel(t *testing.T) {
	r := NewReader(strings.NewReader("data: [DONE]\n\n"))
	frame, err := r.Next()
	require.NoError(t, err)
	assert.True(t, frame.Done())
	assert.Empty(t, frame.Event)
}

func TestReaderSkipsComments(t *testing.T) {
	r := NewReader(strings.NewReader(": keep-alive\n\nevent: error\ndata: {}\n\n"))
	frame, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "error", frame.Event)
	assert.Equal(t, "{}", frame.Data)
}

func TestReaderJoinsMultipleDataLines(t *testing.T) {
	r := NewReader(strings.NewReader("data: line one\ndata: line two\n\n"))
	frame, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", frame.Data)
}

func TestReaderTrailingFrameWithoutBlankLine(t *testing.T) {
	r := NewReader(strings.NewReader("event: response_end\ndata: {\"status\":\"success\"}"))
	frame, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "response_end", frame.Event)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
