//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/adapter"
	"trpc.group/trpc-go/trpc-copilot-go/guardrails"
	"trpc.group/trpc-go/trpc-copilot-go/log"
	"trpc.group/trpc-go/trpc-copilot-go/message"
	"trpc.group/trpc-go/trpc-copilot-go/runtime"
)

// chatRequest is the wire shape of POST /api/chat and /api/chat/stream.
type chatRequest struct {
	Messages   []message.Message            `json:"messages"`
	ThreadID   string                       `json:"threadId"`
	RunID      string                       `json:"runId"`
	Stream     bool                         `json:"stream"`
	Model      string                       `json:"model"`
	Actions    []action.Descriptor          `json:"actions"`
	Context    map[string]any               `json:"context"`
	Extensions map[string]any               `json:"extensions"`
	Agent      *agentSession                `json:"agentSession"`
	Forwarded  *adapter.ForwardedParameters `json:"forwardedParameters"`
	Cloud      *cloudConfig                 `json:"cloud"`
}

type agentSession struct {
	AgentName string `json:"agentName"`
	ThreadID  string `json:"threadId"`
	NodeName  string `json:"nodeName"`
}

type cloudConfig struct {
	Guardrails *guardrails.Config `json:"guardrails"`
}

// normalize fills thread and run ids so the streaming surface can announce
// them before the run completes.
func (req *chatRequest) normalize() {
	if req.ThreadID == "" && req.Agent != nil {
		req.ThreadID = req.Agent.ThreadID
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.New().String()
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
}

// toRuntimeRequest projects the wire request onto the runtime's contract.
func (req *chatRequest) toRuntimeRequest(r *http.Request) runtime.Request {
	out := runtime.Request{
		ThreadID:  req.ThreadID,
		RunID:     req.RunID,
		Model:     req.Model,
		Messages:  req.Messages,
		Actions:   req.Actions,
		Forwarded: req.Forwarded,
		URL:       r.URL.String(),
		Headers:   flattenHeaders(r.Header),
	}
	if req.Agent != nil {
		out.AgentName = req.Agent.AgentName
	}
	if req.Cloud != nil {
		out.Guardrails = req.Cloud.Guardrails
	}
	if len(req.Context) > 0 || len(req.Extensions) > 0 {
		// Context entries become middleware properties directly, so the
		// auth middleware can match context-supplied api keys.
		out.Properties = make(map[string]any, len(req.Context)+1)
		for k, v := range req.Context {
			out.Properties[k] = v
		}
		if len(req.Extensions) > 0 {
			out.Properties["extensions"] = req.Extensions
		}
	}
	return out
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}

// chatResponse is the collated body of POST /api/chat.
type chatResponse struct {
	ThreadID   string            `json:"thread_id"`
	RunID      string            `json:"run_id"`
	Messages   []message.Message `json:"messages"`
	Timestamp  string            `json:"timestamp"`
	Extensions map[string]any    `json:"extensions,omitempty"`
	Status     chatStatus        `json:"status"`
}

type chatStatus struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()
	req.normalize()

	if req.Stream {
		s.streamChat(w, r, &req)
		return
	}

	run, err := s.runtime.Run(r.Context(), req.toRuntimeRequest(r))
	if err != nil {
		s.writeError(w, rejectionStatus(err), err)
		return
	}
	// The run cannot finish until its event stream is drained.
	for range run.Events() {
	}
	result, err := run.Result(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	messages := result.Messages
	if messages == nil {
		messages = []message.Message{}
	}
	s.writeJSON(w, http.StatusOK, chatResponse{
		ThreadID:   result.ThreadID,
		RunID:      result.RunID,
		Messages:   messages,
		Timestamp:  time.Now().Format(time.RFC3339),
		Extensions: req.Extensions,
		Status:     chatStatus{Code: result.Status, Reason: result.Reason},
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()
	req.normalize()
	s.streamChat(w, r, &req)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req *chatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	run, err := s.runtime.Run(r.Context(), req.toRuntimeRequest(r))
	if err != nil {
		s.writeError(w, rejectionStatus(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	writer := &frameWriter{w: w, flusher: flusher}
	writer.write(sessionStartFrame(req.ThreadID, req.RunID))

	// The event channel must be drained even after a write failure so the
	// run can reach its terminal state.
	for ev := range run.Events() {
		frame, ok := encodeEvent(ev, req.ThreadID)
		if !ok {
			continue
		}
		writer.write(frame)
	}

	result, err := run.Result(r.Context())
	status := result.Status
	if err != nil {
		status = runtime.StatusMessageStreamInterrupted
	}
	writer.write(responseEndFrame(status))
	writer.writeDone()
}

// frameWriter serializes SSE frames onto one response. After the first
// write failure it drops subsequent frames, the client is gone.
type frameWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

func (fw *frameWriter) write(frame wireFrame) {
	if fw.failed {
		return
	}
	data, err := json.Marshal(frame.payload)
	if err != nil {
		log.Errorf("encode sse frame %s: %v", frame.event, err)
		return
	}
	if _, err := fw.w.Write(formatFrame(frame.event, data)); err != nil {
		log.Warnf("client disconnected during stream: %v", err)
		fw.failed = true
		return
	}
	fw.flusher.Flush()
}

func (fw *frameWriter) writeDone() {
	if fw.failed {
		return
	}
	if _, err := fw.w.Write([]byte("data: [DONE]\n\n")); err != nil {
		fw.failed = true
		return
	}
	fw.flusher.Flush()
}
