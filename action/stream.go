//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package action

import "io"

// Chunk is one incremental delta from a streamed completion, produced either
// by a provider adapter or by a streaming action handler. It is the tuple the
// event pipeline's state machine consumes.
type Chunk struct {
	// ID is the provider's chunk id, reused as the message id of the group
	// the chunk belongs to.
	ID string
	// TextDelta is an increment of assistant text content.
	TextDelta string
	// ToolCallID is set on the chunk that opens a new tool call.
	ToolCallID string
	// ToolCallName names the tool call being opened.
	ToolCallName string
	// ArgsDelta is an increment of the current tool call's argument JSON.
	ArgsDelta string
	// FinishReason terminates the chunk sequence when present.
	FinishReason string
}

// HasNewToolCall reports whether the chunk opens a new tool call.
func (c Chunk) HasNewToolCall() bool {
	return c.ToolCallID != ""
}

// Empty reports whether the chunk carries nothing the pipeline reacts to.
func (c Chunk) Empty() bool {
	return c.TextDelta == "" && c.ToolCallID == "" && c.ArgsDelta == "" && c.FinishReason == ""
}

// NewChunkStream creates a connected reader/writer pair. The buffer size
// determines how many chunks can be queued before the sender blocks.
func NewChunkStream(bufferSize int) *ChunkStream {
	s := &chunkStream{
		items:  make(chan chunkItem, bufferSize),
		closed: make(chan struct{}),
	}
	return &ChunkStream{
		Reader: &ChunkReader{s: s},
		Writer: &ChunkWriter{s: s},
	}
}

// ChunkStream pairs the reading and writing ends of a chunk sequence.
// Streaming handlers keep the Writer and hand the Reader to the runtime.
type ChunkStream struct {
	Reader *ChunkReader
	Writer *ChunkWriter
}

// ChunkReader consumes a chunk sequence.
type ChunkReader struct {
	s *chunkStream
}

// Recv blocks until the next chunk is available. It returns io.EOF once the
// writer has closed the stream and all queued chunks are drained.
func (r *ChunkReader) Recv() (Chunk, error) {
	return r.s.recv()
}

// Close abandons the reading side. Subsequent sends report the stream as
// closed so producers can stop early.
func (r *ChunkReader) Close() {
	r.s.closeRecv()
}

// ChunkWriter produces a chunk sequence.
type ChunkWriter struct {
	s *chunkStream
}

// Send queues a chunk with an optional error. It returns true if the reader
// has gone away and the chunk was dropped.
func (w *ChunkWriter) Send(chunk Chunk, err error) (closed bool) {
	return w.s.send(chunk, err)
}

// Close ends the sequence. Readers observe io.EOF after draining.
func (w *ChunkWriter) Close() {
	w.s.closeSend()
}

type chunkItem struct {
	chunk Chunk
	err   error
}

type chunkStream struct {
	items  chan chunkItem
	closed chan struct{}
}

func (s *chunkStream) recv() (Chunk, error) {
	item, ok := <-s.items
	if !ok {
		item.err = io.EOF
	}
	return item.chunk, item.err
}

func (s *chunkStream) send(chunk Chunk, err error) (closed bool) {
	select {
	case <-s.closed:
		return true
	default:
	}

	select {
	case <-s.closed:
		return true
	case s.items <- chunkItem{chunk, err}:
		return false
	}
}

func (s *chunkStream) closeSend() {
	close(s.items)
}

func (s *chunkStream) closeRecv() {
	close(s.closed)
}
