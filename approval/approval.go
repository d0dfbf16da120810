//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package approval gates selected server-side actions behind an explicit
// decision. Gated executions park in a bounded in-memory queue; a decision
// arrives either through the approvals HTTP endpoint or, conversationally,
// through a decision action the model calls on the user's behalf.
//
// Pending entries have no TTL. They live until decided, cancelled, or the
// process exits.
package approval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/log"
	"trpc.group/trpc-go/trpc-copilot-go/message"
)

// Decision statuses.
const (
	StatusApproved          = "approved"
	StatusApprovedButFailed = "approved_but_failed"
	StatusRejected          = "rejected"
)

// bypassKey marks replayed argument objects so an approved call is not
// gated again. Intercept strips it before the handler sees the arguments.
const bypassKey = "__approval_bypass__"

const (
	defaultCapacity  = 64
	defaultPoolSize  = 8
	defaultQueueSize = 64
)

// Pending is one parked execution awaiting a decision.
type Pending struct {
	ApprovalID string         `json:"approvalId"`
	ThreadID   string         `json:"threadId"`
	ToolName   string         `json:"toolName"`
	Arguments  map[string]any `json:"arguments"`
	CreatedAt  time.Time      `json:"createdAt"`

	handler action.Handler
}

// Decision is the outcome of resolving a pending entry.
type Decision struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	gated          []string
	capacity       int
	poolSize       int
	queueSize      int
	conversational bool
}

// WithGatedActions names the actions that require approval.
func WithGatedActions(names ...string) Option {
	return func(o *options) {
		o.gated = append(o.gated, names...)
	}
}

// WithCapacity bounds the pending queue.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithConversational switches prompts to the reply-in-chat strategy and
// enables the decision action.
func WithConversational(enabled bool) Option {
	return func(o *options) {
		o.conversational = enabled
	}
}

// WithPoolSize sets the approved-execution worker pool size.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithQueueSize caps how many decision requests may block waiting for a
// pool worker before failing fast.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// Manager owns the pending queue and the approved-execution pool. It
// implements the pipeline's Gate.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Pending
	order   []string

	gated          map[string]struct{}
	capacity       int
	conversational bool
	pool           *ants.Pool
}

// NewManager builds an approval manager.
func NewManager(opts ...Option) (*Manager, error) {
	o := options{
		capacity:  defaultCapacity,
		poolSize:  defaultPoolSize,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := ants.NewPool(o.poolSize, ants.WithMaxBlockingTasks(o.queueSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create approval pool: %w", err)
	}

	gated := make(map[string]struct{}, len(o.gated))
	for _, name := range o.gated {
		if name != "" {
			gated[name] = struct{}{}
		}
	}
	return &Manager{
		pending:        make(map[string]*Pending),
		gated:          gated,
		capacity:       o.capacity,
		conversational: o.conversational,
		pool:           pool,
	}, nil
}

// Close releases the worker pool.
func (m *Manager) Close() {
	m.pool.Release()
}

// Gated reports whether an action name requires approval.
func (m *Manager) Gated(name string) bool {
	_, ok := m.gated[name]
	return ok
}

// Intercept implements pipeline.Gate. Gated executions are parked and
// answered with a prompt; everything else passes through. A bypass marker
// in args (set by an approved replay) is stripped and the call proceeds.
func (m *Manager) Intercept(ctx context.Context, threadID, executionID, name string, args map[string]any, h action.Handler) (string, bool) {
	if !m.Gated(name) {
		return "", false
	}
	if _, ok := args[bypassKey]; ok {
		delete(args, bypassKey)
		return "", false
	}

	p := &Pending{
		ApprovalID: "approval-" + uuid.New().String(),
		ThreadID:   threadID,
		ToolName:   name,
		Arguments:  args,
		CreatedAt:  time.Now(),
		handler:    h,
	}

	m.mu.Lock()
	if len(m.pending) >= m.capacity {
		m.mu.Unlock()
		log.Warnf("approval queue full, refusing %s (%s)", name, executionID)
		return message.EncodeResult("", &message.ResultError{
			Code:    message.ErrorCodeHandlerError,
			Message: fmt.Sprintf("approval queue full, cannot gate %s", name),
		}), true
	}
	m.pending[p.ApprovalID] = p
	m.order = append(m.order, p.ApprovalID)
	m.mu.Unlock()

	return m.prompt(p), true
}

func (m *Manager) prompt(p *Pending) string {
	if m.conversational {
		return fmt.Sprintf("Action %q requires approval (id %s). Reply y to approve or n to reject.",
			p.ToolName, p.ApprovalID)
	}
	return fmt.Sprintf("Action %q requires approval. POST /api/approvals/%s with {\"approved\": true} to run it.",
		p.ToolName, p.ApprovalID)
}

// PendingList snapshots the queue, oldest first.
func (m *Manager) PendingList() []*Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Pending, 0, len(m.order))
	for _, id := range m.order {
		if p, ok := m.pending[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Cancel removes a pending entry without running it.
func (m *Manager) Cancel(approvalID string) bool {
	return m.take(approvalID) != nil
}

// take consumes a pending entry. An empty id takes the most recent one.
// Each entry is taken at most once.
func (m *Manager) take(approvalID string) *Pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	if approvalID == "" {
		for i := len(m.order) - 1; i >= 0; i-- {
			if p, ok := m.pending[m.order[i]]; ok {
				approvalID = p.ApprovalID
				break
			}
		}
		if approvalID == "" {
			return nil
		}
	}

	p, ok := m.pending[approvalID]
	if !ok {
		return nil
	}
	delete(m.pending, approvalID)
	for i, id := range m.order {
		if id == approvalID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return p
}

// Decide resolves a pending entry by id. It returns nil when the id is
// unknown or already consumed. Approved handlers run on the worker pool;
// the call blocks until the invocation finishes or ctx is cancelled.
func (m *Manager) Decide(ctx context.Context, approvalID string, approved bool, reason string) *Decision {
	p := m.take(approvalID)
	if p == nil {
		return nil
	}
	if !approved {
		return &Decision{Status: StatusRejected, Reason: reason}
	}
	return m.runApproved(ctx, p)
}

func (m *Manager) runApproved(ctx context.Context, p *Pending) *Decision {
	type outcome struct {
		output *action.Output
		err    error
	}
	results := make(chan outcome, 1)

	if err := m.pool.Submit(func() {
		output, err := p.handler.Execute(ctx, p.Arguments)
		results <- outcome{output, err}
	}); err != nil {
		return &Decision{Status: StatusApprovedButFailed, Error: err.Error()}
	}

	select {
	case o := <-results:
		if o.err != nil {
			return &Decision{Status: StatusApprovedButFailed, Error: o.err.Error()}
		}
		return &Decision{Status: StatusApproved, Result: o.output.Render()}
	case <-ctx.Done():
		return &Decision{Status: StatusApprovedButFailed, Error: ctx.Err().Error()}
	}
}

// DecisionAction exposes the conversational decision handler as an
// ordinary server action. The model calls it after the user answers an
// approval prompt.
func (m *Manager) DecisionAction() *action.Action {
	return &action.Action{
		Name:        "approve_action",
		Description: "Resolve a pending approval request after the user answers an approval prompt.",
		Parameters: []action.Parameter{
			{Name: "approved", Type: "boolean", Description: "True to approve, false to reject."},
			{Name: "approval_id", Type: "string", Description: "Approval id from the prompt. Defaults to the most recent pending request."},
			{Name: "reply", Type: "string", Description: "Raw user reply, parsed when approved is not set."},
		},
		Handler: action.HandlerFunc(m.decide),
	}
}

func (m *Manager) decide(ctx context.Context, args map[string]any) (*action.Output, error) {
	approved, ok := args["approved"].(bool)
	if !ok {
		reply, _ := args["reply"].(string)
		parsed, valid := parseReply(reply)
		if !valid {
			return action.StringOutput("Please reply y to approve or n to reject."), nil
		}
		approved = parsed
	}

	id, _ := args["approval_id"].(string)
	p := m.take(id)
	if p == nil {
		return action.StringOutput("No pending approval found."), nil
	}
	if !approved {
		return action.StringOutput(fmt.Sprintf("Rejected %s.", p.ToolName)), nil
	}

	// Replay the original call through the pipeline so it runs with the
	// usual tracing and result events; the bypass marker keeps the gate
	// from parking it again.
	replay := make(map[string]any, len(p.Arguments)+1)
	for k, v := range p.Arguments {
		replay[k] = v
	}
	replay[bypassKey] = true
	return action.StructuredOutput(
		fmt.Sprintf("Approved %s, running it now.", p.ToolName),
		action.ToolCall{Name: p.ToolName, Arguments: replay},
	), nil
}

// parseReply maps a natural-language reply onto a decision.
func parseReply(reply string) (approved, ok bool) {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "y", "yes", "approve", "approved", "ok":
		return true, true
	case "n", "no", "reject", "rejected", "deny":
		return false, true
	default:
		return false, false
	}
}
