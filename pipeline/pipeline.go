//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package pipeline turns the provider chunk stream of one request into the
// ordered event stream consumed by collectors and the SSE writer.
//
// A pipeline instance serves exactly one request. It is single-threaded
// cooperative: chunks are pulled one at a time, and consumption suspends
// while a server-side action handler runs, so backpressure flows to the
// provider through the chunk source's own buffering.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/event"
	itelemetry "trpc.group/trpc-go/trpc-copilot-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-copilot-go/log"
	"trpc.group/trpc-go/trpc-copilot-go/message"
	"trpc.group/trpc-go/trpc-copilot-go/telemetry/trace"
)

const (
	defaultBufferSize = 64

	// streamResultSentinel terminates a stream-output execution. The nested
	// text and function groups carry the real payload; the result event only
	// closes the execution id.
	streamResultSentinel = "Sending a message"

	errorCodeStream = "STREAM_ERROR"
)

// Gate intercepts gated server-side executions before their handler runs.
// A captured execution is answered with the returned result instead of
// invoking the handler; args may be mutated in place (for example to strip
// a bypass marker).
type Gate interface {
	Intercept(ctx context.Context, threadID, executionID, name string, args map[string]any, h action.Handler) (result string, captured bool)
}

// Option configures a pipeline.
type Option func(*options)

type options struct {
	bufferSize int
	gate       Gate
	threadID   string
}

// WithChannelBufferSize sets the event channel capacity.
func WithChannelBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithGate installs an approval gate for server-side executions.
func WithGate(g Gate) Option {
	return func(o *options) {
		o.gate = g
	}
}

// WithThreadID records the owning thread id, passed through to the gate.
func WithThreadID(id string) Option {
	return func(o *options) {
		o.threadID = id
	}
}

// Pipeline drives the chunk→event state machine for one request.
type Pipeline struct {
	actions  map[string]*action.Action
	gate     Gate
	threadID string
	buffer   int

	// deferred holds nested tool calls queued by structured handler
	// outputs; they replay after the chunk source drains.
	deferred []deferredCall

	// err is written before the event channel closes, so Err is safe to
	// read once Run's channel is exhausted.
	err error
}

type deferredCall struct {
	parentMessageID string
	call            action.ToolCall
}

// New builds a pipeline over the request's resolved action set.
func New(actions []*action.Action, opts ...Option) *Pipeline {
	o := options{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pipeline{
		actions:  action.Index(actions),
		gate:     o.gate,
		threadID: o.threadID,
		buffer:   o.bufferSize,
	}
}

// Run consumes the chunk source and returns the event stream. The returned
// channel closes when the source drains, errors, or ctx is cancelled; the
// source is closed either way. Call Err after the channel closes to learn
// whether the run terminated cleanly.
func (p *Pipeline) Run(ctx context.Context, r *action.ChunkReader) <-chan event.Event {
	out := make(chan event.Event, p.buffer)
	go func() {
		defer close(out)
		defer r.Close()
		p.err = p.run(ctx, r, out)
	}()
	return out
}

// Err reports the terminal error of a finished run, nil on clean
// completion. Valid only after the channel returned by Run has closed.
func (p *Pipeline) Err() error {
	return p.err
}

func (p *Pipeline) run(ctx context.Context, r *action.ChunkReader, out chan<- event.Event) error {
	st := &groupState{}
	loopErr := p.chunkLoop(ctx, r, st, out)

	// Open groups always close, even when the source failed mid-group.
	p.finalize(ctx, st, out, loopErr)

	if loopErr == nil {
		p.replayDeferred(ctx, out)
		return nil
	}
	if !errors.Is(loopErr, context.Canceled) && !errors.Is(loopErr, context.DeadlineExceeded) {
		p.emit(ctx, out, event.NewError(errorCodeStream, loopErr.Error()))
	}
	return loopErr
}

// mode is the state-machine position between chunks.
type mode int

const (
	modeIdle mode = iota
	modeInMessage
	modeInFunction
)

// groupState tracks the currently open message or execution group.
type groupState struct {
	mode mode

	// modeInMessage.
	messageID string

	// modeInFunction.
	toolCallID      string
	actionName      string
	act             *action.Action
	parentMessageID string
	args            strings.Builder
}

func (p *Pipeline) chunkLoop(ctx context.Context, r *action.ChunkReader, st *groupState, out chan<- event.Event) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := r.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if chunk.Empty() {
			continue
		}
		if finished := p.apply(ctx, st, chunk, out); finished {
			return nil
		}
	}
}

// apply runs the transition rules, in order, for one chunk. It reports
// whether the chunk carried a finish reason, which terminates the loop.
func (p *Pipeline) apply(ctx context.Context, st *groupState, c action.Chunk, out chan<- event.Event) bool {
	// A tool call interrupts an open text message.
	if st.mode == modeInMessage && c.HasNewToolCall() {
		p.emit(ctx, out, event.NewTextMessageEnd(st.messageID))
		st.mode = modeIdle
	}

	// A finish reason, a different tool call, or trailing text closes an
	// open execution group and triggers its handler.
	if st.mode == modeInFunction &&
		(c.FinishReason != "" || (c.HasNewToolCall() && c.ToolCallID != st.toolCallID) || c.TextDelta != "") {
		p.closeExecution(ctx, st, out)
	}

	if st.mode == modeIdle && c.HasNewToolCall() {
		st.toolCallID = c.ToolCallID
		st.actionName = c.ToolCallName
		st.act = p.actions[c.ToolCallName]
		st.parentMessageID = c.ID
		st.args.Reset()
		p.emit(ctx, out, event.NewActionExecutionStart(st.toolCallID, st.actionName, st.parentMessageID))
		st.mode = modeInFunction
	} else if st.mode == modeIdle && c.TextDelta != "" {
		st.messageID = c.ID
		if st.messageID == "" {
			st.messageID = uuid.New().String()
		}
		p.emit(ctx, out, event.NewTextMessageStart(st.messageID, ""))
		st.mode = modeInMessage
	}

	if st.mode == modeInMessage && c.TextDelta != "" {
		p.emit(ctx, out, event.NewTextMessageContent(st.messageID, c.TextDelta))
	}

	if st.mode == modeInFunction && c.ArgsDelta != "" {
		st.args.WriteString(c.ArgsDelta)
		p.emit(ctx, out, event.NewActionExecutionArgs(st.toolCallID, c.ArgsDelta))
	}

	return c.FinishReason != ""
}

// finalize closes whatever group is still open once the loop stops. A group
// interrupted by a source error closes without running its handler.
func (p *Pipeline) finalize(ctx context.Context, st *groupState, out chan<- event.Event, loopErr error) {
	switch st.mode {
	case modeInMessage:
		p.emit(ctx, out, event.NewTextMessageEnd(st.messageID))
		st.mode = modeIdle
	case modeInFunction:
		if loopErr != nil {
			p.emit(ctx, out, event.NewActionExecutionEnd(st.toolCallID))
			st.mode = modeIdle
			return
		}
		p.closeExecution(ctx, st, out)
	}
}

// closeExecution ends the open execution group and, for actions the runtime
// can run itself, executes it. Unknown and client-side actions pass through
// transparently: the client sees Start/Args/End and reports its own Result.
func (p *Pipeline) closeExecution(ctx context.Context, st *groupState, out chan<- event.Event) {
	p.emit(ctx, out, event.NewActionExecutionEnd(st.toolCallID))
	st.mode = modeIdle
	if st.act.Executable() {
		p.execute(ctx, st, out)
	}
}

func (p *Pipeline) execute(ctx context.Context, st *groupState, out chan<- event.Event) {
	raw := st.args.String()
	if raw == "" {
		raw = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		p.emitResultError(ctx, st, out, message.ErrorCodeInvalidArguments,
			fmt.Sprintf("invalid arguments for %s: %v", st.actionName, err))
		return
	}

	if st.act.RemoteAgentHandler != nil {
		p.executeRemote(ctx, st, args, out)
		return
	}

	if p.gate != nil {
		if result, captured := p.gate.Intercept(ctx, p.threadID, st.toolCallID, st.actionName, args, st.act.Handler); captured {
			p.emit(ctx, out, event.NewActionExecutionResult(st.toolCallID, st.actionName, result))
			return
		}
	}

	spanCtx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameActionExecute)
	itelemetry.TraceActionExecute(span, st.actionName, st.toolCallID, args)
	output, err := st.act.Handler.Execute(spanCtx, args)
	span.End()
	if err != nil {
		log.Warnf("action %s (%s) failed: %v", st.actionName, st.toolCallID, err)
		p.emitResultError(ctx, st, out, message.ErrorCodeHandlerError, err.Error())
		return
	}
	p.emitOutput(ctx, st, output, out)
}

// executeRemote binds a result to the execution id up front, then forwards
// the remote agent's event stream verbatim so it can keep producing text
// and tool events under this request.
func (p *Pipeline) executeRemote(ctx context.Context, st *groupState, args map[string]any, out chan<- event.Event) {
	events, err := st.act.RemoteAgentHandler(ctx, args)
	if err != nil {
		log.Warnf("remote agent %s (%s) failed to start: %v", st.actionName, st.toolCallID, err)
		p.emitResultError(ctx, st, out, message.ErrorCodeHandlerError, err.Error())
		return
	}
	p.emit(ctx, out, event.NewActionExecutionResult(st.toolCallID, st.actionName, st.actionName+" agent started"))
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !p.emit(ctx, out, ev) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) emitOutput(ctx context.Context, st *groupState, output *action.Output, out chan<- event.Event) {
	if output == nil {
		p.emit(ctx, out, event.NewActionExecutionResult(st.toolCallID, st.actionName, ""))
		return
	}
	switch output.Kind {
	case action.OutputStructured:
		p.emitStructured(ctx, st, output, out)
	case action.OutputStream:
		p.emitStream(ctx, st, output.Stream, out)
	default:
		p.emit(ctx, out, event.NewActionExecutionResult(st.toolCallID, st.actionName, output.Value))
	}
}

// emitStructured surfaces handler content as a synthetic assistant message
// and queues nested tool calls for replay once the chunk source drains.
func (p *Pipeline) emitStructured(ctx context.Context, st *groupState, output *action.Output, out chan<- event.Event) {
	if output.Content != "" {
		mid := uuid.New().String()
		p.emit(ctx, out, event.NewTextMessageStart(mid, st.parentMessageID))
		p.emit(ctx, out, event.NewTextMessageContent(mid, output.Content))
		p.emit(ctx, out, event.NewTextMessageEnd(mid))
	}
	for _, call := range output.ToolCalls {
		p.deferred = append(p.deferred, deferredCall{parentMessageID: st.parentMessageID, call: call})
	}
}

// emitStream recurses: the handler's chunk stream runs through the same
// state machine, producing nested groups, then a sentinel result closes the
// originating execution.
func (p *Pipeline) emitStream(ctx context.Context, st *groupState, r *action.ChunkReader, out chan<- event.Event) {
	if r != nil {
		defer r.Close()
		nested := &groupState{}
		loopErr := p.chunkLoop(ctx, r, nested, out)
		p.finalize(ctx, nested, out, loopErr)
		if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
			log.Warnf("action %s (%s) stream failed: %v", st.actionName, st.toolCallID, loopErr)
		}
	}
	p.emit(ctx, out, event.NewActionExecutionResult(st.toolCallID, st.actionName, streamResultSentinel))
}

// replayDeferred runs queued nested calls in FIFO order. Calls queued while
// replaying (chained structured outputs) extend the queue.
func (p *Pipeline) replayDeferred(ctx context.Context, out chan<- event.Event) {
	for len(p.deferred) > 0 {
		d := p.deferred[0]
		p.deferred = p.deferred[1:]
		p.runDeferred(ctx, d, out)
	}
}

func (p *Pipeline) runDeferred(ctx context.Context, d deferredCall, out chan<- event.Event) {
	args := d.call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}

	st := &groupState{
		toolCallID:      uuid.New().String(),
		actionName:      d.call.Name,
		act:             p.actions[d.call.Name],
		parentMessageID: d.parentMessageID,
	}
	st.args.Write(raw)

	p.emit(ctx, out, event.NewActionExecutionStart(st.toolCallID, st.actionName, st.parentMessageID))
	p.emit(ctx, out, event.NewActionExecutionArgs(st.toolCallID, string(raw)))
	p.emit(ctx, out, event.NewActionExecutionEnd(st.toolCallID))
	if st.act.Executable() {
		p.execute(ctx, st, out)
	}
}

func (p *Pipeline) emitResultError(ctx context.Context, st *groupState, out chan<- event.Event, code, msg string) {
	encoded := message.EncodeResult("", &message.ResultError{Code: code, Message: msg})
	p.emit(ctx, out, event.NewActionExecutionResult(st.toolCallID, st.actionName, encoded))
}

// emit delivers one event, giving up when ctx is cancelled so a gone
// consumer never wedges the pipeline goroutine.
func (p *Pipeline) emit(ctx context.Context, out chan<- event.Event, ev event.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
