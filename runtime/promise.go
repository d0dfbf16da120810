//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package runtime

import (
	"context"
	"errors"
	"sync"

	"trpc.group/trpc-go/trpc-copilot-go/message"
)

// ErrSuperseded rejects a promise whose thread received a newer request
// before the older one resolved.
var ErrSuperseded = errors.New("superseded by a newer request on the same thread")

// Promise is a one-shot future for a request's collated output messages.
// It resolves or rejects at most once; later calls are no-ops.
type Promise struct {
	once     sync.Once
	done     chan struct{}
	messages []message.Message
	err      error
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

func (p *Promise) resolve(messages []message.Message) {
	p.once.Do(func() {
		p.messages = messages
		close(p.done)
	})
}

func (p *Promise) reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Await blocks until the promise settles or ctx is cancelled.
func (p *Promise) Await(ctx context.Context) ([]message.Message, error) {
	select {
	case <-p.done:
		return p.messages, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// promiseStore keys live promises by thread id, at most one per key. A new
// request on a thread supersedes the previous promise, rejecting it so
// stale awaiters unblock.
type promiseStore struct {
	mu       sync.Mutex
	promises map[string]*Promise
}

func newPromiseStore() *promiseStore {
	return &promiseStore{promises: make(map[string]*Promise)}
}

func (s *promiseStore) create(threadID string) *Promise {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.promises[threadID]; ok {
		prev.reject(ErrSuperseded)
	}
	p := newPromise()
	s.promises[threadID] = p
	return p
}

// resolve settles p with messages and drops it from the store. The store
// entry is removed only when it still belongs to p, so a superseding run's
// promise survives a slow predecessor settling late.
func (s *promiseStore) resolve(threadID string, p *Promise, messages []message.Message) {
	p.resolve(messages)
	s.drop(threadID, p)
}

// reject settles p with err and drops it from the store.
func (s *promiseStore) reject(threadID string, p *Promise, err error) {
	p.reject(err)
	s.drop(threadID, p)
}

func (s *promiseStore) drop(threadID string, p *Promise) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promises[threadID] == p {
		delete(s.promises, threadID)
	}
}
