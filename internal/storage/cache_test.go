// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rynk-ai/rynk-go/internal/chat"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCache_SaveAndGetConversation(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	conv := &chat.Conversation{
		ID:        "c1",
		Title:     "Trip Planning",
		IsPinned:  true,
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now(),
	}
	if err := cache.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	got, err := cache.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "Trip Planning" || !got.IsPinned {
		t.Errorf("conversation = %+v", got)
	}
}

func TestCache_GetConversationMissing(t *testing.T) {
	cache := openTestCache(t)
	_, err := cache.GetConversation(context.Background(), "ghost")
	if !errors.Is(err, ErrNotCached) {
		t.Errorf("err = %v, want ErrNotCached", err)
	}
}

func TestCache_SaveConversationUpserts(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	conv := &chat.Conversation{ID: "c1", Title: "Old", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := cache.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	conv.Title = "New"
	if err := cache.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation update: %v", err)
	}

	got, err := cache.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "New" {
		t.Errorf("Title = %q", got.Title)
	}

	list, err := cache.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1 (upsert not insert)", len(list))
	}
}

func TestCache_ConversationsPinnedFirst(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	now := time.Now()

	for _, conv := range []*chat.Conversation{
		{ID: "recent", Title: "Recent", CreatedAt: now, UpdatedAt: now},
		{ID: "pinned", Title: "Pinned", IsPinned: true, CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "older", Title: "Older", CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)},
	} {
		if err := cache.SaveConversation(ctx, conv); err != nil {
			t.Fatalf("SaveConversation: %v", err)
		}
	}

	list, err := cache.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	want := []string{"pinned", "recent", "older"}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("list[%d].ID = %q, want %q", i, list[i].ID, id)
		}
	}
}

func TestCache_SaveMessagesSkipsTemporary(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	now := time.Now()

	msgs := []*chat.Message{
		{ID: "srv_1", ConversationID: "c1", Role: chat.RoleUser, Content: "hi", CreatedAt: now},
		chat.NewAssistantPlaceholder("c1"),
		nil,
	}
	if err := cache.SaveMessages(ctx, msgs); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	got, err := cache.Messages(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 1 || got[0].ID != "srv_1" {
		t.Errorf("cached = %+v", got)
	}
}

func TestCache_MessagesChronologicalWithLimit(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var msgs []*chat.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, &chat.Message{
			ID:             "m" + string(rune('1'+i)),
			ConversationID: "c1",
			Role:           chat.RoleUser,
			Content:        "msg",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}
	if err := cache.SaveMessages(ctx, msgs); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	// The limit takes the most recent page, returned oldest-first.
	got, err := cache.Messages(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	want := []string{"m3", "m4", "m5"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestCache_SaveMessagesUpsertsContent(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	now := time.Now()

	m := &chat.Message{ID: "srv_1", ConversationID: "c1", Role: chat.RoleAssistant, Content: "draft", CreatedAt: now}
	if err := cache.SaveMessages(ctx, []*chat.Message{m}); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	m.Content = "final"
	if err := cache.SaveMessages(ctx, []*chat.Message{m}); err != nil {
		t.Fatalf("SaveMessages update: %v", err)
	}

	got, err := cache.Messages(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 1 || got[0].Content != "final" {
		t.Errorf("cached = %+v", got)
	}
}

func TestCache_DeleteConversationCascades(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()
	now := time.Now()

	conv := &chat.Conversation{ID: "c1", CreatedAt: now, UpdatedAt: now}
	if err := cache.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	msg := &chat.Message{ID: "srv_1", ConversationID: "c1", Role: chat.RoleUser, CreatedAt: now}
	if err := cache.SaveMessages(ctx, []*chat.Message{msg}); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	if err := cache.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	if _, err := cache.GetConversation(ctx, "c1"); !errors.Is(err, ErrNotCached) {
		t.Errorf("conversation survived delete: %v", err)
	}
	msgs, err := cache.Messages(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived delete: %d", len(msgs))
	}
}
