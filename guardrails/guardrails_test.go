//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package guardrails

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-copilot-go/message"
)

func TestValidateAllowed(t *testing.T) {
	var got validateRequest
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, validatePath, r.URL.Path)
		gotKey = r.Header.Get(apiKeyHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Result{Status: StatusAllowed})
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithAPIKey("ck_pub_test"))
	result, err := client.Validate(context.Background(), Config{
		InputValidationRules: Rules{DenyList: []string{"weather"}},
	}, []message.Message{
		message.NewText(message.RoleAssistant, "How can I help?"),
		message.NewText(message.RoleUser, "stocks?"),
	})

	require.NoError(t, err)
	assert.False(t, result.Denied())
	assert.Equal(t, "ck_pub_test", gotKey)
	assert.Equal(t, "stocks?", got.Input)
	assert.Equal(t, []string{"weather"}, got.InvalidTopics)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "assistant", got.Messages[0].Role)
}

func TestValidateDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{Status: StatusDenied, Reason: "topic blocked"})
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	result, err := client.Validate(context.Background(), Config{}, []message.Message{
		message.NewText(message.RoleUser, "weather?"),
	})

	require.NoError(t, err)
	assert.True(t, result.Denied())
	assert.Equal(t, "topic blocked", result.Reason)
}

func TestValidateUsesNewestUserTurn(t *testing.T) {
	var got validateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Result{Status: StatusAllowed})
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Validate(context.Background(), Config{}, []message.Message{
		message.NewText(message.RoleUser, "old question"),
		message.NewText(message.RoleAssistant, "old answer"),
		message.NewText(message.RoleUser, "new question"),
	})

	require.NoError(t, err)
	assert.Equal(t, "new question", got.Input)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "old question", got.Messages[0].Content)
	assert.Equal(t, "old answer", got.Messages[1].Content)
}

func TestValidateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Validate(context.Background(), Config{}, []message.Message{
		message.NewText(message.RoleUser, "hi"),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestValidateMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Validate(context.Background(), Config{}, []message.Message{
		message.NewText(message.RoleUser, "hi"),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode guardrails response")
}
