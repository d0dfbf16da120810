//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package sse implements the server-sent-events framing the chat stream
// speaks: an optional event name, one JSON data line, a blank-line frame
// terminator, and the [DONE] stream sentinel.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// DoneSentinel is the data payload of the final frame on a stream.
const DoneSentinel = "[DONE]"

const (
	initialBufferSize = 64 * 1024
	maxBufferSize     = 1024 * 1024
)

// Frame is one wire frame.
type Frame struct {
	// Event is the optional event name preceding the data line.
	Event string
	// Data is the frame payload, JSON for every frame except the sentinel.
	Data string
}

// Done reports whether the frame terminates the stream.
func (f Frame) Done() bool {
	return f.Data == DoneSentinel
}

// Encode renders the frame in wire form.
func (f Frame) Encode() []byte {
	var b strings.Builder
	if f.Event != "" {
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteByte('\n')
	}
	b.WriteString("data: ")
	b.WriteString(f.Data)
	b.WriteString("\n\n")
	return []byte(b.String())
}

// Reader decodes frames from a stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r for frame-by-frame decoding. Frames up to 1MiB are
// supported, which bounds a single action-argument or state payload.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufferSize), maxBufferSize)
	return &Reader{scanner: scanner}
}

// Next returns the next complete frame. It returns io.EOF once the stream
// ends, and treats a trailing frame without a blank line as complete.
func (r *Reader) Next() (Frame, error) {
	var frame Frame
	var dataSeen bool
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if dataSeen {
				return frame, nil
			}
		case strings.HasPrefix(line, "event: "):
			frame.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			if dataSeen {
				frame.Data += "\n" + payload
			} else {
				frame.Data = payload
				dataSeen = true
			}
		case strings.HasPrefix(line, ":"):
			// Comment line, ignored.
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if dataSeen {
		return frame, nil
	}
	return Frame{}, io.EOF
}
