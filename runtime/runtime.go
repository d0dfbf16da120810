//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package runtime orchestrates one chat request end to end: middleware
// hooks, guardrails validation, action-set resolution, the provider
// adapter, the event pipeline, and the per-thread output-message promise.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/adapter"
	"trpc.group/trpc-go/trpc-copilot-go/event"
	"trpc.group/trpc-go/trpc-copilot-go/guardrails"
	itelemetry "trpc.group/trpc-go/trpc-copilot-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-copilot-go/log"
	"trpc.group/trpc-go/trpc-copilot-go/message"
	"trpc.group/trpc-go/trpc-copilot-go/middleware"
	"trpc.group/trpc-go/trpc-copilot-go/pipeline"
	"trpc.group/trpc-go/trpc-copilot-go/telemetry/trace"
)

// Terminal statuses of a chat request. Every run closes with exactly one.
const (
	StatusSuccess                     = "success"
	StatusGuardrailsValidationFailure = "guardrails_validation_failure"
	StatusMessageStreamInterrupted    = "message_stream_interrupted"
	StatusActionExecutionFailed       = "action_execution_failed"
	StatusInvalidArguments            = "invalid_arguments"
	StatusUnknownError                = "unknown_error"
)

const (
	defaultBufferSize   = 64
	errorCodeGuardrails = "GUARDRAILS_ERROR"
)

// Direct-execution failures the HTTP surface maps to 4xx responses.
var (
	ErrUnknownAction       = errors.New("unknown action")
	ErrActionNotExecutable = errors.New("action is not executable server-side")
)

// ActionSource supplies additional actions at request time, typically
// discovered from remote endpoints. Source failures degrade the action set
// rather than the request.
type ActionSource interface {
	Actions(ctx context.Context) ([]*action.Action, error)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithServerActions registers actions the runtime executes itself. They
// take precedence over same-named client or remote actions.
func WithServerActions(actions ...*action.Action) Option {
	return func(rt *Runtime) {
		rt.serverActions = append(rt.serverActions, actions...)
	}
}

// WithActionSources registers request-time action providers.
func WithActionSources(sources ...ActionSource) Option {
	return func(rt *Runtime) {
		rt.sources = append(rt.sources, sources...)
	}
}

// WithMiddlewares installs the middleware chain, in registration order.
func WithMiddlewares(middlewares ...middleware.Middleware) Option {
	return func(rt *Runtime) {
		rt.chain = middleware.NewChain(middlewares...)
	}
}

// WithGuardrails enables input validation through the given cloud client
// for requests that carry a guardrails config.
func WithGuardrails(client *guardrails.Client) Option {
	return func(rt *Runtime) {
		rt.guardrails = client
	}
}

// WithGate intercepts server-side action executions, typically to require
// approval before gated handlers run.
func WithGate(gate pipeline.Gate) Option {
	return func(rt *Runtime) {
		rt.gate = gate
	}
}

// WithChannelBufferSize sets the buffer of the chunk and event channels.
func WithChannelBufferSize(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.bufferSize = n
		}
	}
}

// Runtime mediates between HTTP surfaces and one provider adapter. It is
// safe for concurrent use; all per-request state lives in the Run.
type Runtime struct {
	adapter       adapter.Adapter
	serverActions []*action.Action
	sources       []ActionSource
	chain         *middleware.Chain
	guardrails    *guardrails.Client
	gate          pipeline.Gate
	bufferSize    int
	promises      *promiseStore
}

// New builds a runtime around the given provider adapter.
func New(a adapter.Adapter, opts ...Option) *Runtime {
	rt := &Runtime{
		adapter:    a,
		chain:      middleware.NewChain(),
		bufferSize: defaultBufferSize,
		promises:   newPromiseStore(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Request is one chat invocation as received from a client surface.
type Request struct {
	// ThreadID correlates the request with its conversation. Empty means a
	// fresh thread.
	ThreadID string
	// RunID identifies this run; a fresh one is generated when empty.
	RunID string
	// Model overrides the adapter's configured model when set.
	Model string
	// Messages is the dialog so far, newest last.
	Messages []message.Message
	// Actions declares client-side actions by descriptor.
	Actions []action.Descriptor
	// AgentName routes the request directly to a remote agent instead of
	// the provider, when it names a resolvable remote action.
	AgentName string
	// Forwarded carries optional provider parameter overrides.
	Forwarded *adapter.ForwardedParameters
	// Guardrails requests input validation with the given topic rules.
	Guardrails *guardrails.Config
	// Properties, URL and Headers feed the middleware chain.
	Properties map[string]any
	URL        string
	Headers    map[string]string
}

// Result is the terminal outcome of a run.
type Result struct {
	ThreadID string
	RunID    string
	Messages []message.Message
	Status   string
	Reason   string
}

// Run is a started request. Consumers either stream Events or await the
// collated Result; both observe the same underlying run exactly once.
type Run struct {
	events chan event.Event
	done   chan struct{}
	result Result
}

// Events returns the run's ordered event stream. The channel closes when
// the run reaches a terminal state. Callers must drain it or cancel the
// run's context, otherwise the run cannot finish.
func (r *Run) Events() <-chan event.Event {
	return r.events
}

// Result blocks until the run completes or ctx is cancelled.
func (r *Run) Result(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run starts one chat request. It returns once the before-hooks have
// passed; the adapter call, pipeline, and collection proceed on background
// goroutines tied to ctx. A non-nil error means the request was rejected
// before any event was produced.
func (rt *Runtime) Run(ctx context.Context, req Request) (*Run, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = rt.adapter.ModelName()
	}

	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameChatRequest)
	itelemetry.TraceChatRequest(span, threadID, runID, rt.adapter.ProviderName(), model)

	declared := make([]*action.Action, 0, len(req.Actions))
	for _, d := range req.Actions {
		declared = append(declared, action.FromDescriptor(d))
	}
	mwReq := &middleware.Request{
		ThreadID:   threadID,
		RunID:      runID,
		URL:        req.URL,
		Headers:    req.Headers,
		StartTime:  time.Now(),
		Properties: req.Properties,
		Messages:   req.Messages,
		Actions:    declared,
	}
	if err := rt.chain.Before(ctx, mwReq); err != nil {
		span.End()
		return nil, err
	}
	messages := mwReq.Messages
	resolved := rt.resolveActions(ctx, declared)

	// Nothing to say to the provider; close out as an empty success so
	// pollers of the thread promise are not left hanging.
	if len(messages) == 0 {
		promise := rt.promises.create(threadID)
		rt.promises.resolve(threadID, promise, nil)
		return rt.static(ctx, span, mwReq, Result{
			ThreadID: threadID,
			RunID:    runID,
			Status:   StatusSuccess,
		}), nil
	}

	promise := rt.promises.create(threadID)

	if rt.guardrails != nil && req.Guardrails != nil {
		verdict, err := rt.guardrails.Validate(ctx, *req.Guardrails, messages)
		if err != nil {
			log.Errorf("guardrails validation: %v", err)
			rt.promises.resolve(threadID, promise, nil)
			return rt.static(ctx, span, mwReq, Result{
				ThreadID: threadID,
				RunID:    runID,
				Status:   StatusUnknownError,
				Reason:   err.Error(),
			}, event.NewError(errorCodeGuardrails, err.Error())), nil
		}
		if verdict.Denied() {
			denial := message.NewText(message.RoleAssistant, verdict.Reason)
			rt.promises.resolve(threadID, promise, []message.Message{denial})
			return rt.static(ctx, span, mwReq, Result{
				ThreadID: threadID,
				RunID:    runID,
				Messages: []message.Message{denial},
				Status:   StatusGuardrailsValidationFailure,
				Reason:   verdict.Reason,
			},
				event.NewTextMessageStart(denial.ID, ""),
				event.NewTextMessageContent(denial.ID, verdict.Reason),
				event.NewTextMessageEnd(denial.ID)), nil
		}
	}

	stream := action.NewChunkStream(rt.bufferSize)
	p := pipeline.New(resolved,
		pipeline.WithGate(rt.gate),
		pipeline.WithThreadID(threadID),
		pipeline.WithChannelBufferSize(rt.bufferSize),
	)

	go rt.produce(ctx, req, threadID, runID, model, messages, resolved, stream.Writer)

	run := &Run{
		events: make(chan event.Event, rt.bufferSize),
		done:   make(chan struct{}),
	}
	go rt.collect(ctx, span, mwReq, p, promise, p.Run(ctx, stream.Reader), run, threadID, runID)
	return run, nil
}

// resolveActions merges server actions, request-declared actions, and
// source-discovered actions, first occurrence winning per name. A failing
// source degrades the set instead of the request.
func (rt *Runtime) resolveActions(ctx context.Context, declared []*action.Action) []*action.Action {
	var remote []*action.Action
	for _, src := range rt.sources {
		actions, err := src.Actions(ctx)
		if err != nil {
			log.Warnf("action source: %v", err)
			continue
		}
		remote = append(remote, actions...)
	}
	return action.Merge(rt.serverActions, declared, remote)
}

// produce feeds the chunk stream, either from a direct agent session or
// from the provider adapter. The adapter owns closing the sink; the agent
// path closes it here.
func (rt *Runtime) produce(ctx context.Context, req Request, threadID, runID, model string,
	messages []message.Message, actions []*action.Action, sink *action.ChunkWriter) {
	if agent := agentAction(req.AgentName, actions); agent != nil {
		produceAgentSession(agent, messages, sink)
		return
	}
	spanCtx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameAdapterProcess)
	defer span.End()
	itelemetry.TraceAdapterProcess(span, threadID, rt.adapter.ProviderName(), model)
	if _, err := rt.adapter.Process(spanCtx, adapter.Request{
		Messages:  messages,
		Actions:   actions,
		ThreadID:  threadID,
		RunID:     runID,
		Model:     req.Model,
		Forwarded: req.Forwarded,
		Sink:      sink,
	}); err != nil {
		log.Errorf("adapter %s process: %v", rt.adapter.ProviderName(), err)
	}
}

func agentAction(name string, actions []*action.Action) *action.Action {
	if name == "" {
		return nil
	}
	a := action.Index(actions)[name]
	if a == nil || a.RemoteAgentHandler == nil {
		return nil
	}
	return a
}

// produceAgentSession synthesizes the chunk sequence of a provider that
// chose to call the named agent with the latest user text, so direct agent
// sessions take the same pipeline path as provider-driven tool calls.
func produceAgentSession(agent *action.Action, messages []message.Message, sink *action.ChunkWriter) {
	defer sink.Close()
	args, err := json.Marshal(map[string]string{"message": lastUserText(messages)})
	if err != nil {
		args = []byte("{}")
	}
	sink.Send(action.Chunk{ID: uuid.New().String(), ToolCallID: uuid.New().String(), ToolCallName: agent.Name}, nil)
	sink.Send(action.Chunk{ArgsDelta: string(args)}, nil)
	sink.Send(action.Chunk{FinishReason: "stop"}, nil)
}

func lastUserText(messages []message.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == message.RoleUser && messages[i].Type == message.TypeText {
			return messages[i].Content
		}
	}
	return ""
}

// collect drains the pipeline, forwarding events to the run while folding
// them into output messages, then settles the promise and the run.
func (rt *Runtime) collect(ctx context.Context, span oteltrace.Span, mwReq *middleware.Request,
	p *pipeline.Pipeline, promise *Promise, events <-chan event.Event, run *Run, threadID, runID string) {
	col := newCollector()
	forward := true
	for ev := range events {
		col.Observe(ev)
		if !forward {
			continue
		}
		select {
		case run.events <- ev:
		case <-ctx.Done():
			forward = false
		}
	}

	msgs := col.Messages()
	status, reason := col.Status()
	switch {
	case ctx.Err() != nil:
		status = StatusMessageStreamInterrupted
		reason = ctx.Err().Error()
		rt.promises.reject(threadID, promise, ctx.Err())
	case p.Err() != nil && status == StatusSuccess:
		status = StatusUnknownError
		reason = p.Err().Error()
		rt.promises.resolve(threadID, promise, msgs)
	default:
		rt.promises.resolve(threadID, promise, msgs)
	}

	run.result = Result{ThreadID: threadID, RunID: runID, Messages: msgs, Status: status, Reason: reason}
	close(run.done)
	close(run.events)
	rt.finish(ctx, span, mwReq, run.result)
}

// static builds an already-terminal run from prefilled events.
func (rt *Runtime) static(ctx context.Context, span oteltrace.Span, mwReq *middleware.Request,
	res Result, events ...event.Event) *Run {
	ch := make(chan event.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	done := make(chan struct{})
	close(done)
	rt.finish(ctx, span, mwReq, res)
	return &Run{events: ch, done: done, result: res}
}

// finish runs the after-hooks and ends the request span. After-hooks see a
// context that survives client disconnects so completion records are not
// lost with the connection.
func (rt *Runtime) finish(ctx context.Context, span oteltrace.Span, mwReq *middleware.Request, res Result) {
	rt.chain.After(context.WithoutCancel(ctx), &middleware.Response{
		ThreadID: res.ThreadID,
		RunID:    res.RunID,
		Messages: res.Messages,
		Status:   res.Status,
		Reason:   res.Reason,
		Duration: time.Since(mwReq.StartTime),
	})
	span.End()
}

// Actions lists the actions the runtime can serve on its own: configured
// server actions plus whatever the registered sources currently expose.
func (rt *Runtime) Actions(ctx context.Context) []*action.Action {
	return rt.resolveActions(ctx, nil)
}

// ExecuteAction runs one named action outside any chat session and renders
// its output. Only handler-backed actions qualify; approval gating covers
// chat-driven executions, not this direct surface.
func (rt *Runtime) ExecuteAction(ctx context.Context, name string, args map[string]any) (string, error) {
	act := action.Index(rt.Actions(ctx))[name]
	if act == nil {
		return "", fmt.Errorf("%w %q", ErrUnknownAction, name)
	}
	if act.Handler == nil {
		return "", fmt.Errorf("%w: %q", ErrActionNotExecutable, name)
	}
	spanCtx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameActionExecute)
	defer span.End()
	itelemetry.TraceActionExecute(span, name, "", args)
	output, err := act.Handler.Execute(spanCtx, args)
	if err != nil {
		return "", err
	}
	return output.Render(), nil
}

// Adapter exposes the configured provider adapter, for health reporting.
func (rt *Runtime) Adapter() adapter.Adapter {
	return rt.adapter
}
