// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rynk-ai/rynk-go/internal/api"
	"github.com/rynk-ai/rynk-go/internal/chat"
)

// editHarness wires a controller against a server that serves a fixed
// two-turn history, issues versions and streams regenerations.
type editHarness struct {
	ctrl        *Controller
	srv         *httptest.Server
	versions    atomic.Int32
	streams     atomic.Int32
	lastRequest atomic.Pointer[api.SendRequest]
}

func newEditHarness(t *testing.T, history []*chat.Message) *editHarness {
	t.Helper()
	h := &editHarness{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.MessagePage{Messages: history})
	})
	mux.HandleFunc("POST /messages/{id}/versions", func(w http.ResponseWriter, r *http.Request) {
		h.versions.Add(1)
		var in struct {
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		original := r.PathValue("id")
		json.NewEncoder(w).Encode(chat.Message{
			ID:             original + "-v2",
			ConversationID: "conv-1",
			Role:           chat.RoleUser,
			Content:        in.Content,
			VersionOf:      original,
			VersionNumber:  2,
			CreatedAt:      time.Now(),
		})
	})
	mux.HandleFunc("POST /conversations/conv-1/messages/stream", func(w http.ResponseWriter, r *http.Request) {
		h.streams.Add(1)
		var req api.SendRequest
		json.NewDecoder(r.Body).Decode(&req)
		h.lastRequest.Store(&req)
		fmt.Fprint(w, "regenerated answer")
		fmt.Fprint(w, completeLine)
	})

	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)

	h.ctrl = newTestController(h.srv)
	if err := h.ctrl.SelectConversation(context.Background(), &chat.Conversation{ID: "conv-1"}); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	return h
}

func twoTurnHistory() []*chat.Message {
	return []*chat.Message{
		pageMessage("u1", "conv-1", chat.RoleUser, "original question", 0),
		pageMessage("a1", "conv-1", chat.RoleAssistant, "original answer", time.Minute),
	}
}

func fourTurnHistory() []*chat.Message {
	return append(twoTurnHistory(),
		pageMessage("u2", "conv-1", chat.RoleUser, "followup", 2*time.Minute),
		pageMessage("a2", "conv-1", chat.RoleAssistant, "followup answer", 3*time.Minute),
	)
}

func TestStartEdit_SeedsDraft(t *testing.T) {
	h := newEditHarness(t, twoTurnHistory())

	if err := h.ctrl.StartEdit("u1"); err != nil {
		t.Fatalf("StartEdit: %v", err)
	}
	if got := h.ctrl.EditingID(); got != "u1" {
		t.Errorf("EditingID = %q", got)
	}
	draft, err := h.ctrl.Draft()
	if err != nil || draft != "original question" {
		t.Errorf("Draft = %q, %v", draft, err)
	}

	h.ctrl.CancelEdit()
	if got := h.ctrl.EditingID(); got != "" {
		t.Errorf("EditingID after cancel = %q", got)
	}
	if _, err := h.ctrl.Draft(); !errors.Is(err, ErrNotEditing) {
		t.Errorf("Draft after cancel = %v, want ErrNotEditing", err)
	}
}

func TestStartEdit_Rejections(t *testing.T) {
	h := newEditHarness(t, twoTurnHistory())

	if err := h.ctrl.StartEdit("a1"); !errors.Is(err, ErrNotUserMessage) {
		t.Errorf("StartEdit assistant = %v, want ErrNotUserMessage", err)
	}
	if err := h.ctrl.StartEdit("missing"); !errors.Is(err, ErrEditNotFound) {
		t.Errorf("StartEdit missing = %v, want ErrEditNotFound", err)
	}
	if err := h.ctrl.SetDraft("x"); !errors.Is(err, ErrNotEditing) {
		t.Errorf("SetDraft without edit = %v, want ErrNotEditing", err)
	}
}

func TestSaveEdit_LastUserMessageRegenerates(t *testing.T) {
	h := newEditHarness(t, twoTurnHistory())

	if err := h.ctrl.StartEdit("u1"); err != nil {
		t.Fatalf("StartEdit: %v", err)
	}
	if err := h.ctrl.SetDraft("revised question"); err != nil {
		t.Fatalf("SetDraft: %v", err)
	}
	if err := h.ctrl.SaveEdit(context.Background()); err != nil {
		t.Fatalf("SaveEdit: %v", err)
	}

	if got := h.versions.Load(); got != 1 {
		t.Errorf("version calls = %d, want 1", got)
	}
	if got := h.streams.Load(); got != 1 {
		t.Errorf("stream calls = %d, want exactly one regeneration", got)
	}

	// The regeneration anchors on the new version, not the original.
	req := h.lastRequest.Load()
	if req == nil || req.ParentMessageID != "u1-v2" {
		t.Fatalf("regeneration request = %+v, want parent u1-v2", req)
	}
	if req.Content != "revised question" {
		t.Errorf("regeneration content = %q", req.Content)
	}

	// Timeline shows the active version and the regenerated answer.
	timeline := h.ctrl.Store().Timeline()
	ids := make([]string, len(timeline))
	for i, m := range timeline {
		ids[i] = m.ID
	}
	var sawVersion, sawOriginal bool
	for _, id := range ids {
		if id == "u1-v2" {
			sawVersion = true
		}
		if id == "u1" {
			sawOriginal = true
		}
	}
	if !sawVersion || sawOriginal {
		t.Errorf("timeline ids = %v, want u1-v2 active and u1 hidden", ids)
	}
	last := timeline[len(timeline)-1]
	if last.Role != chat.RoleAssistant || last.Content != "regenerated answer" {
		t.Errorf("last message = %+v, want regenerated answer", last)
	}
	if h.ctrl.EditingID() != "" {
		t.Error("edit still open after save")
	}
}

func TestSaveEdit_OlderMessageRecordsVersionOnly(t *testing.T) {
	h := newEditHarness(t, fourTurnHistory())

	if err := h.ctrl.StartEdit("u1"); err != nil {
		t.Fatalf("StartEdit: %v", err)
	}
	if err := h.ctrl.SetDraft("revised early question"); err != nil {
		t.Fatalf("SetDraft: %v", err)
	}
	if err := h.ctrl.SaveEdit(context.Background()); err != nil {
		t.Fatalf("SaveEdit: %v", err)
	}

	if got := h.versions.Load(); got != 1 {
		t.Errorf("version calls = %d, want 1", got)
	}
	if got := h.streams.Load(); got != 0 {
		t.Errorf("stream calls = %d, editing an older message must not regenerate", got)
	}

	// Downstream turns are untouched.
	timeline := h.ctrl.Store().Timeline()
	if len(timeline) != 4 {
		t.Fatalf("timeline length = %d, want 4", len(timeline))
	}
	if timeline[0].ID != "u1-v2" || timeline[0].Content != "revised early question" {
		t.Errorf("timeline[0] = %+v, want active version", timeline[0])
	}
	if timeline[3].ID != "a2" || timeline[3].Content != "followup answer" {
		t.Errorf("timeline[3] = %+v, want untouched tail", timeline[3])
	}
}

func TestSaveEdit_UnchangedDraftClosesWithoutVersion(t *testing.T) {
	h := newEditHarness(t, twoTurnHistory())

	if err := h.ctrl.StartEdit("u1"); err != nil {
		t.Fatalf("StartEdit: %v", err)
	}
	if err := h.ctrl.SaveEdit(context.Background()); err != nil {
		t.Fatalf("SaveEdit unchanged: %v", err)
	}

	if got := h.versions.Load(); got != 0 {
		t.Errorf("version calls = %d, unchanged draft must not version", got)
	}
	if h.ctrl.EditingID() != "" {
		t.Error("edit still open")
	}
}

func TestSaveEdit_EmptyDraft(t *testing.T) {
	h := newEditHarness(t, twoTurnHistory())

	if err := h.ctrl.StartEdit("u1"); err != nil {
		t.Fatalf("StartEdit: %v", err)
	}
	if err := h.ctrl.SetDraft("   "); err != nil {
		t.Fatalf("SetDraft: %v", err)
	}
	if err := h.ctrl.SaveEdit(context.Background()); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("SaveEdit = %v, want ErrEmptyMessage", err)
	}
}

func TestSaveEdit_NoOpenEdit(t *testing.T) {
	h := newEditHarness(t, twoTurnHistory())
	if err := h.ctrl.SaveEdit(context.Background()); !errors.Is(err, ErrNotEditing) {
		t.Errorf("SaveEdit = %v, want ErrNotEditing", err)
	}
}

func TestSelectVersion_SwitchesWithoutRegenerating(t *testing.T) {
	h := newEditHarness(t, twoTurnHistory())

	if err := h.ctrl.StartEdit("u1"); err != nil {
		t.Fatalf("StartEdit: %v", err)
	}
	if err := h.ctrl.SetDraft("revised question"); err != nil {
		t.Fatalf("SetDraft: %v", err)
	}
	if err := h.ctrl.SaveEdit(context.Background()); err != nil {
		t.Fatalf("SaveEdit: %v", err)
	}
	streamsAfterSave := h.streams.Load()

	// Switch back to the original, then to the version again.
	if err := h.ctrl.SelectVersion("u1", "u1"); err != nil {
		t.Fatalf("SelectVersion original: %v", err)
	}
	if got := h.ctrl.Store().Timeline()[0].ID; got != "u1" {
		t.Errorf("timeline[0] = %q, want original u1", got)
	}

	if err := h.ctrl.SelectVersion("u1", "u1-v2"); err != nil {
		t.Fatalf("SelectVersion v2: %v", err)
	}
	if got := h.ctrl.Store().Timeline()[0].ID; got != "u1-v2" {
		t.Errorf("timeline[0] = %q, want version u1-v2", got)
	}

	if h.streams.Load() != streamsAfterSave {
		t.Error("SelectVersion triggered a regeneration")
	}

	if err := h.ctrl.SelectVersion("u1", "missing"); !errors.Is(err, ErrEditNotFound) {
		t.Errorf("SelectVersion missing = %v, want ErrEditNotFound", err)
	}
}

func TestSaveEdit_VersionConflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.MessagePage{Messages: twoTurnHistory()})
	})
	mux.HandleFunc("POST /messages/u1/versions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"stale version"}`, http.StatusConflict)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctrl := newTestController(srv)
	if err := ctrl.SelectConversation(context.Background(), &chat.Conversation{ID: "conv-1"}); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	if err := ctrl.StartEdit("u1"); err != nil {
		t.Fatalf("StartEdit: %v", err)
	}
	if err := ctrl.SetDraft("revised"); err != nil {
		t.Fatalf("SetDraft: %v", err)
	}

	err := ctrl.SaveEdit(context.Background())
	if !errors.Is(err, api.ErrVersionConflict) {
		t.Fatalf("SaveEdit = %v, want ErrVersionConflict", err)
	}

	// The store is untouched; the edit stays open for retry.
	if n := ctrl.Store().Len(); n != 2 {
		t.Errorf("store length = %d, want 2", n)
	}
	if ctrl.EditingID() != "u1" {
		t.Error("edit closed on conflict, want it kept open")
	}
}
