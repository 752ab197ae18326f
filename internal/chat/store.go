// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sort"
	"sync"
)

// =============================================================================
// MESSAGE STORE
// =============================================================================

// Store is an ordered collection of conversation messages. It guarantees that
// no two messages share an id and that chronological order by CreatedAt is
// recomputed after every insert, never assumed from caller ordering.
//
// The store is safe for concurrent use; reads return snapshots.
type Store struct {
	mu       sync.RWMutex
	messages []*Message

	// activeVersion maps an original message id to the version id selected
	// as its active rendering.
	activeVersion map[string]string
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{
		activeVersion: make(map[string]string),
	}
}

// AddMessages inserts a batch, filtering out ids already present, then
// re-sorts the full collection by CreatedAt. Adding the same message twice is
// a no-op for the duplicate.
func (s *Store) AddMessages(batch ...*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.idSet()
	for _, msg := range batch {
		if msg == nil || seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		copied := *msg
		s.messages = append(s.messages, &copied)
	}
	s.sortLocked()
}

// Reset replaces the whole collection with the given canonical batch.
func (s *Store) Reset(batch []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	seen := make(map[string]bool, len(batch))
	for _, msg := range batch {
		if msg == nil || seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		copied := *msg
		s.messages = append(s.messages, &copied)
	}
	s.sortLocked()
}

// Update applies a field merge to the message with the given id. It is a
// no-op (returning false) if the id is absent.
func (s *Store) Update(id string, apply func(*Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages {
		if msg.ID == id {
			apply(msg)
			return true
		}
	}
	return false
}

// SetContent replaces the content of the message with the given id.
func (s *Store) SetContent(id, content string) bool {
	return s.Update(id, func(m *Message) { m.Content = content })
}

// Replace swaps the message with oldID for newMsg. If newMsg.ID already
// exists under a different entry, the old entry is dropped instead of
// creating a duplicate.
func (s *Store) Replace(oldID string, newMsg *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldIdx := -1
	dupIdx := -1
	for i, msg := range s.messages {
		if msg.ID == oldID {
			oldIdx = i
		} else if msg.ID == newMsg.ID {
			dupIdx = i
		}
	}
	if oldIdx < 0 {
		return false
	}

	if dupIdx >= 0 {
		// The replacement already lives in the store; drop the stale
		// entry rather than duplicating the id.
		s.messages = append(s.messages[:oldIdx], s.messages[oldIdx+1:]...)
	} else {
		copied := *newMsg
		s.messages[oldIdx] = &copied
	}
	s.sortLocked()
	return true
}

// Prepend inserts a page of older messages before the current earliest
// message. The batch is assumed already correctly ordered among itself;
// ids already present are skipped.
func (s *Store) Prepend(batch []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.idSet()
	older := make([]*Message, 0, len(batch))
	for _, msg := range batch {
		if msg == nil || seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		copied := *msg
		older = append(older, &copied)
	}
	s.messages = append(older, s.messages...)
}

// Remove deletes every message matching the predicate and returns how many
// were removed.
func (s *Store) Remove(match func(*Message) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	removed := 0
	for _, msg := range s.messages {
		if match(msg) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	s.messages = kept
	return removed
}

// RemoveByID deletes the message with the given id.
func (s *Store) RemoveByID(id string) bool {
	return s.Remove(func(m *Message) bool { return m.ID == id }) > 0
}

// =============================================================================
// READS
// =============================================================================

// Get returns a copy of the message with the given id, or nil.
func (s *Store) Get(id string) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if msg.ID == id {
			copied := *msg
			return &copied
		}
	}
	return nil
}

// Messages returns a snapshot of all messages in chronological order,
// including inactive versions.
func (s *Store) Messages() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Message, len(s.messages))
	for i, msg := range s.messages {
		copied := *msg
		out[i] = &copied
	}
	return out
}

// Timeline returns the primary timeline: messages without VersionOf set,
// with an original swapped for its version when one was selected active.
func (s *Store) Timeline() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := make(map[string]*Message)
	for _, msg := range s.messages {
		if msg.VersionOf != "" && s.activeVersion[msg.VersionOf] == msg.ID {
			versions[msg.VersionOf] = msg
		}
	}

	out := make([]*Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.VersionOf != "" {
			continue
		}
		if active, ok := versions[msg.ID]; ok {
			copied := *active
			out = append(out, &copied)
			continue
		}
		copied := *msg
		out = append(out, &copied)
	}
	return out
}

// SetActiveVersion selects which version renders in place of the original.
func (s *Store) SetActiveVersion(originalID, versionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeVersion[originalID] = versionID
}

// Earliest returns a copy of the chronologically first message, or nil.
func (s *Store) Earliest() *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) == 0 {
		return nil
	}
	copied := *s.messages[0]
	return &copied
}

// LastUserMessage returns a copy of the most recent user message on the
// primary timeline, or nil.
func (s *Store) LastUserMessage() *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := s.messages[i]
		if msg.Role == RoleUser && msg.VersionOf == "" {
			copied := *msg
			return &copied
		}
	}
	return nil
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// =============================================================================
// INTERNAL
// =============================================================================

// idSet returns the set of ids currently present. Caller holds s.mu.
func (s *Store) idSet() map[string]bool {
	seen := make(map[string]bool, len(s.messages))
	for _, msg := range s.messages {
		seen[msg.ID] = true
	}
	return seen
}

// sortLocked recomputes chronological order. Stable so that equal timestamps
// (optimistic user + assistant pair created in the same instant) keep their
// insertion order. Caller holds s.mu.
func (s *Store) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
}
