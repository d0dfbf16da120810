//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package approval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/message"
)

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func countingHandler(calls *int, result string) action.Handler {
	return action.HandlerFunc(func(ctx context.Context, args map[string]any) (*action.Output, error) {
		*calls++
		return action.StringOutput(result), nil
	})
}

func TestUngatedPassesThrough(t *testing.T) {
	m := newManager(t, WithGatedActions("dangerous"))
	_, captured := m.Intercept(context.Background(), "t1", "e1", "harmless", map[string]any{}, nil)
	assert.False(t, captured)
	assert.Empty(t, m.PendingList())
}

func TestGatedExecutionParks(t *testing.T) {
	calls := 0
	m := newManager(t, WithGatedActions("dangerous"))

	prompt, captured := m.Intercept(context.Background(), "t1", "e1", "dangerous",
		map[string]any{"target": "prod"}, countingHandler(&calls, "done"))

	require.True(t, captured)
	assert.Zero(t, calls)

	pending := m.PendingList()
	require.Len(t, pending, 1)
	assert.Equal(t, "dangerous", pending[0].ToolName)
	assert.Equal(t, "t1", pending[0].ThreadID)
	assert.Contains(t, prompt, pending[0].ApprovalID)
	assert.Contains(t, prompt, "/api/approvals/")
}

func TestConversationalPrompt(t *testing.T) {
	m := newManager(t, WithGatedActions("dangerous"), WithConversational(true))
	prompt, captured := m.Intercept(context.Background(), "t1", "e1", "dangerous",
		map[string]any{}, countingHandler(new(int), "done"))

	require.True(t, captured)
	assert.Contains(t, prompt, "Reply y to approve")
}

func TestBypassSkipsGate(t *testing.T) {
	m := newManager(t, WithGatedActions("dangerous"))
	args := map[string]any{"target": "prod", bypassKey: true}

	_, captured := m.Intercept(context.Background(), "t1", "e1", "dangerous", args, nil)

	assert.False(t, captured)
	assert.NotContains(t, args, bypassKey)
	assert.Empty(t, m.PendingList())
}

func TestDecideApproved(t *testing.T) {
	calls := 0
	m := newManager(t, WithGatedActions("dangerous"))
	m.Intercept(context.Background(), "t1", "e1", "dangerous",
		map[string]any{}, countingHandler(&calls, "done"))

	id := m.PendingList()[0].ApprovalID
	d := m.Decide(context.Background(), id, true, "")

	require.NotNil(t, d)
	assert.Equal(t, StatusApproved, d.Status)
	assert.Equal(t, "done", d.Result)
	assert.Equal(t, 1, calls)
	assert.Empty(t, m.PendingList())
}

func TestDecideRejected(t *testing.T) {
	calls := 0
	m := newManager(t, WithGatedActions("dangerous"))
	m.Intercept(context.Background(), "t1", "e1", "dangerous",
		map[string]any{}, countingHandler(&calls, "done"))

	id := m.PendingList()[0].ApprovalID
	d := m.Decide(context.Background(), id, false, "too risky")

	require.NotNil(t, d)
	assert.Equal(t, StatusRejected, d.Status)
	assert.Equal(t, "too risky", d.Reason)
	assert.Zero(t, calls)
}

func TestDecideApprovedButFailed(t *testing.T) {
	m := newManager(t, WithGatedActions("dangerous"))
	failing := action.HandlerFunc(func(ctx context.Context, args map[string]any) (*action.Output, error) {
		return nil, errors.New("disk on fire")
	})
	m.Intercept(context.Background(), "t1", "e1", "dangerous", map[string]any{}, failing)

	id := m.PendingList()[0].ApprovalID
	d := m.Decide(context.Background(), id, true, "")

	require.NotNil(t, d)
	assert.Equal(t, StatusApprovedButFailed, d.Status)
	assert.Contains(t, d.Error, "disk on fire")
}

func TestConsumeOnce(t *testing.T) {
	m := newManager(t, WithGatedActions("dangerous"))
	m.Intercept(context.Background(), "t1", "e1", "dangerous",
		map[string]any{}, countingHandler(new(int), "done"))

	id := m.PendingList()[0].ApprovalID
	require.NotNil(t, m.Decide(context.Background(), id, true, ""))
	assert.Nil(t, m.Decide(context.Background(), id, true, ""))
	assert.Nil(t, m.Decide(context.Background(), "approval-unknown", true, ""))
}

func TestCancelRemovesEntry(t *testing.T) {
	m := newManager(t, WithGatedActions("dangerous"))
	m.Intercept(context.Background(), "t1", "e1", "dangerous",
		map[string]any{}, countingHandler(new(int), "done"))

	id := m.PendingList()[0].ApprovalID
	assert.True(t, m.Cancel(id))
	assert.False(t, m.Cancel(id))
	assert.Empty(t, m.PendingList())
}

func TestCapacityOverflowFailsFast(t *testing.T) {
	m := newManager(t, WithGatedActions("dangerous"), WithCapacity(2))
	h := countingHandler(new(int), "done")

	for i := 0; i < 2; i++ {
		_, captured := m.Intercept(context.Background(), "t1", fmt.Sprintf("e%d", i), "dangerous", map[string]any{}, h)
		require.True(t, captured)
	}

	result, captured := m.Intercept(context.Background(), "t1", "e3", "dangerous", map[string]any{}, h)
	require.True(t, captured)
	_, resultErr := message.DecodeResult(result)
	require.NotNil(t, resultErr)
	assert.Equal(t, message.ErrorCodeHandlerError, resultErr.Code)
	assert.Contains(t, resultErr.Message, "approval queue full")
	assert.Len(t, m.PendingList(), 2)
}

func TestPendingListOldestFirst(t *testing.T) {
	m := newManager(t, WithGatedActions("a", "b"))
	h := countingHandler(new(int), "done")
	m.Intercept(context.Background(), "t1", "e1", "a", map[string]any{}, h)
	m.Intercept(context.Background(), "t1", "e2", "b", map[string]any{}, h)

	pending := m.PendingList()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ToolName)
	assert.Equal(t, "b", pending[1].ToolName)
}

func TestParseReply(t *testing.T) {
	for _, yes := range []string{"y", "Y", "yes", " Approve ", "ok"} {
		approved, ok := parseReply(yes)
		assert.True(t, ok, yes)
		assert.True(t, approved, yes)
	}
	for _, no := range []string{"n", "No", "REJECT", "deny"} {
		approved, ok := parseReply(no)
		assert.True(t, ok, no)
		assert.False(t, approved, no)
	}
	for _, junk := range []string{"", "maybe", "sure thing boss"} {
		_, ok := parseReply(junk)
		assert.False(t, ok, junk)
	}
}

func TestDecisionActionApprovesMostRecent(t *testing.T) {
	calls := 0
	m := newManager(t, WithGatedActions("dangerous"), WithConversational(true))
	m.Intercept(context.Background(), "t1", "e1", "dangerous",
		map[string]any{"target": "prod"}, countingHandler(&calls, "done"))

	decision := m.DecisionAction()
	out, err := decision.Handler.Execute(context.Background(), map[string]any{"reply": "y"})
	require.NoError(t, err)

	// The decision replays the original call with the bypass marker so the
	// pipeline can run it through the normal machinery.
	require.Equal(t, action.OutputStructured, out.Kind)
	assert.Contains(t, out.Content, "Approved dangerous")
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "dangerous", out.ToolCalls[0].Name)
	assert.Equal(t, true, out.ToolCalls[0].Arguments[bypassKey])
	assert.Equal(t, "prod", out.ToolCalls[0].Arguments["target"])
	assert.Empty(t, m.PendingList())
	// The handler itself has not run yet; the pipeline replay does that.
	assert.Zero(t, calls)
}

func TestDecisionActionRejects(t *testing.T) {
	m := newManager(t, WithGatedActions("dangerous"), WithConversational(true))
	m.Intercept(context.Background(), "t1", "e1", "dangerous",
		map[string]any{}, countingHandler(new(int), "done"))

	decision := m.DecisionAction()
	out, err := decision.Handler.Execute(context.Background(), map[string]any{"approved": false})
	require.NoError(t, err)
	assert.Equal(t, action.OutputString, out.Kind)
	assert.Contains(t, out.Value, "Rejected dangerous")
	assert.Empty(t, m.PendingList())
}

func TestDecisionActionNoPending(t *testing.T) {
	m := newManager(t, WithConversational(true))
	out, err := m.DecisionAction().Handler.Execute(context.Background(), map[string]any{"approved": true})
	require.NoError(t, err)
	assert.Contains(t, out.Value, "No pending approval")
}

func TestDecisionActionUnparseableReply(t *testing.T) {
	m := newManager(t, WithGatedActions("dangerous"), WithConversational(true))
	m.Intercept(context.Background(), "t1", "e1", "dangerous",
		map[string]any{}, countingHandler(new(int), "done"))

	out, err := m.DecisionAction().Handler.Execute(context.Background(), map[string]any{"reply": "hmm"})
	require.NoError(t, err)
	assert.Contains(t, out.Value, "Reply y to approve")
	// Entry stays pending until a parseable decision arrives.
	assert.Len(t, m.PendingList(), 1)
}
