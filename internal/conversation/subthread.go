// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rynk-ai/rynk-go/internal/api"
	"github.com/rynk-ai/rynk-go/internal/chat"
)

// ErrThreadNotFound is returned when a sub-thread id is unknown.
var ErrThreadNotFound = errors.New("sub-thread not found")

// threadKey dedupes threads by their anchor. Opening a thread on the same
// quoted span of the same message returns the existing thread instead of
// creating a duplicate.
type threadKey struct {
	sourceMessageID string
	quotedText      string
}

// SubThreads manages side-conversations anchored to quoted spans of main
// timeline messages. Thread messages never mix into the main store.
type SubThreads struct {
	mu      sync.Mutex
	client  *api.Client
	threads map[string]*chat.SubThread
	byKey   map[threadKey]string
}

// NewSubThreads creates an empty sub-thread registry.
func NewSubThreads(client *api.Client) *SubThreads {
	return &SubThreads{
		client:  client,
		threads: make(map[string]*chat.SubThread),
		byKey:   make(map[threadKey]string),
	}
}

// Open returns the thread anchored at (sourceMessageID, quotedText),
// creating it server-side only when it does not exist yet.
func (s *SubThreads) Open(ctx context.Context, conversationID, sourceMessageID, quotedText string) (*chat.SubThread, error) {
	key := threadKey{sourceMessageID: sourceMessageID, quotedText: quotedText}

	s.mu.Lock()
	if id, ok := s.byKey[key]; ok {
		thread := s.threads[id]
		s.mu.Unlock()
		return copyThread(thread), nil
	}
	s.mu.Unlock()

	thread, err := s.client.CreateSubThread(ctx, conversationID, sourceMessageID, quotedText)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A concurrent Open may have won; keep the first.
	if id, ok := s.byKey[key]; ok {
		return copyThread(s.threads[id]), nil
	}
	s.threads[thread.ID] = thread
	s.byKey[key] = thread.ID
	return copyThread(thread), nil
}

// Get returns a registered thread by id.
func (s *SubThreads) Get(threadID string) (*chat.SubThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return copyThread(thread), nil
}

// Send posts a message into a thread. The user message appears
// optimistically; the server's authoritative transcript replaces the whole
// thread on success, and failure removes the optimistic entry.
func (s *SubThreads) Send(ctx context.Context, threadID, content string) (*chat.SubThread, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	thread, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrThreadNotFound
	}
	optimistic := chat.SubThreadMessage{
		ID:      chat.NewTempID(),
		Role:    chat.RoleUser,
		Content: content,
	}
	thread.Messages = append(thread.Messages, optimistic)
	s.mu.Unlock()

	updated, err := s.client.SendSubThreadMessage(ctx, threadID, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok = s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		kept := thread.Messages[:0]
		for _, m := range thread.Messages {
			if m.ID != optimistic.ID {
				kept = append(kept, m)
			}
		}
		thread.Messages = kept
		return nil, err
	}
	thread.Messages = updated.Messages
	return copyThread(thread), nil
}

// All returns every registered thread.
func (s *SubThreads) All() []*chat.SubThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chat.SubThread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, copyThread(t))
	}
	return out
}

func copyThread(t *chat.SubThread) *chat.SubThread {
	copied := *t
	copied.Messages = make([]chat.SubThreadMessage, len(t.Messages))
	copy(copied.Messages, t.Messages)
	return &copied
}
