// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"fmt"
	"testing"

	"github.com/rynk-ai/rynk-go/internal/protocol"
)

func collect() (*[]protocol.Event, Handler) {
	events := &[]protocol.Event{}
	return events, func(ev protocol.Event) {
		*events = append(*events, ev)
	}
}

// normalize collapses runs of consecutive content events down to the last
// one. Content events carry the full accumulated text, so only the final
// value of a run is observable state; how many intermediate snapshots were
// emitted depends on transport chunking and is deliberately unspecified.
func normalize(events []protocol.Event) []protocol.Event {
	var out []protocol.Event
	for _, ev := range events {
		if ev.Kind == protocol.EventContent && len(out) > 0 && out[len(out)-1].Kind == protocol.EventContent {
			out[len(out)-1] = ev
			continue
		}
		out = append(out, ev)
	}
	return out
}

func eventsEqual(a, b []protocol.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].Text != b[i].Text ||
			a[i].Phase != b[i].Phase || a[i].Message != b[i].Message ||
			string(a[i].Payload) != string(b[i].Payload) {
			return false
		}
	}
	return true
}

// =============================================================================
// BASIC DEMUX TESTS
// =============================================================================

func TestDemuxer_ContentThenGluedComplete(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	d.Write("Hello")
	d.Write(" world")
	d.Write(`{"type":"status","status":"complete","message":"Done"}` + "\n")

	got := *events
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(got), got)
	}
	if got[0].Kind != protocol.EventContent || got[0].Text != "Hello" {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].Kind != protocol.EventContent || got[1].Text != "Hello world" {
		t.Errorf("event 1 = %+v", got[1])
	}
	if got[2].Kind != protocol.EventStatus || got[2].Phase != protocol.PhaseComplete {
		t.Errorf("event 2 = %+v", got[2])
	}
	if !d.Closed() {
		t.Error("demuxer should be closed after terminal status")
	}
	if d.Content() != "Hello world" {
		t.Errorf("Content() = %q", d.Content())
	}
}

func TestDemuxer_ContentReplacesNeverAppends(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	d.Write("The answer")
	d.Write(" is 42.")

	got := *events
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	// Each content event carries the full running text.
	if got[0].Text != "The answer" || got[1].Text != "The answer is 42." {
		t.Errorf("texts = %q, %q", got[0].Text, got[1].Text)
	}
}

func TestDemuxer_DoneToken(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	d.Write("answer\n")
	d.Write("[DONE]")

	got := *events
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[1].Kind != protocol.EventDone {
		t.Errorf("last event = %+v, want done", got[1])
	}
	if !d.Closed() {
		t.Error("demuxer should be closed after [DONE]")
	}
}

func TestDemuxer_BackendError(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	d.Write(`{"type":"error","error":"model overloaded"}` + "\n")
	d.Write("this text must be ignored")

	got := *events
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Kind != protocol.EventError || got[0].Message != "model overloaded" {
		t.Errorf("event = %+v", got[0])
	}
	if !d.Closed() {
		t.Error("demuxer should be closed after error")
	}
}

func TestDemuxer_MalformedLineDropped(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	d.Write(`{"totally": "unknown"}` + "\n")
	d.Write("visible text\n")

	got := *events
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(got), got)
	}
	if got[0].Kind != protocol.EventContent || got[0].Text != "visible text\n" {
		t.Errorf("event = %+v", got[0])
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
}

func TestDemuxer_StatusPillsInOrder(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	d.Write(`{"type":"status","status":"searching","message":"Searching..."}` + "\n")
	d.Write(`{"type":"status","status":"reading","message":"Reading results"}` + "\n")
	d.Write("Answer text")
	d.Write(`{"type":"status","status":"complete","message":"Done"}` + "\n")

	got := *events
	if len(got) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(got), got)
	}
	wantPhases := []string{"searching", "reading", "", protocol.PhaseComplete}
	for i, phase := range wantPhases {
		if got[i].Phase != phase {
			t.Errorf("event %d phase = %q, want %q", i, got[i].Phase, phase)
		}
	}
}

func TestDemuxer_SearchResultsPayload(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	line := `{"type":"search_results","results":[{"title":"Go"}]}`
	d.Write("text before" + line + "\n")

	got := *events
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[1].Kind != protocol.EventSearchResults || string(got[1].Payload) != line {
		t.Errorf("event = %+v", got[1])
	}
}

// =============================================================================
// CLOSE SEMANTICS
// =============================================================================

func TestDemuxer_CloseFlushesWithheldTail(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	// The tail is withheld as a possible glued sentinel; EOF resolves the
	// ambiguity in favor of showing the text.
	d.Write(`answer{"type`)
	d.Close()

	got := *events
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[1].Text != `answer{"type` {
		t.Errorf("final content = %q", got[1].Text)
	}
}

func TestDemuxer_CloseIdempotent(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	d.Write("text")
	d.Close()
	d.Close()
	d.Write("after close")

	got := *events
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(got), got)
	}
	if d.Content() != "text" {
		t.Errorf("Content() = %q", d.Content())
	}
}

func TestDemuxer_CloseAfterTerminalNoEvent(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	d.Write("[DONE]")
	before := len(*events)
	d.Close()
	if len(*events) != before {
		t.Errorf("Close after terminal emitted %d extra events", len(*events)-before)
	}
}

// =============================================================================
// CHUNK-BOUNDARY INVARIANCE
// =============================================================================

// The normalized event sequence must not depend on where the transport
// split the body.
func TestDemuxer_ChunkBoundaryInvariance(t *testing.T) {
	body := "Hello world" +
		`{"type":"status","status":"searching","message":"Searching..."}` + "\n" +
		"The answer is 42.\nSecond line of the answer" +
		`{"type":"search_results","results":[{"title":"x"}]}` + "\n" +
		`{"type":"status","status":"complete","message":"Done"}` + "\n"

	reference, refHandler := collect()
	ref := New(refHandler)
	ref.Write(body)
	ref.Close()
	want := normalize(*reference)

	for split := 1; split < len(body); split++ {
		t.Run(fmt.Sprintf("split_%d", split), func(t *testing.T) {
			events, handler := collect()
			d := New(handler)
			d.Write(body[:split])
			d.Write(body[split:])
			d.Close()

			if got := normalize(*events); !eventsEqual(got, want) {
				t.Errorf("split at %d:\n got %+v\nwant %+v", split, got, want)
			}
		})
	}
}

// Byte-at-a-time delivery is the worst case for boundary handling.
func TestDemuxer_ByteAtATime(t *testing.T) {
	body := "Hi there" +
		`{"type":"status","status":"complete","message":"Done"}` + "\n"

	reference, refHandler := collect()
	ref := New(refHandler)
	ref.Write(body)
	want := normalize(*reference)

	events, handler := collect()
	d := New(handler)
	for i := 0; i < len(body); i++ {
		d.Write(body[i : i+1])
	}

	if got := normalize(*events); !eventsEqual(got, want) {
		t.Errorf("byte-at-a-time:\n got %+v\nwant %+v", got, want)
	}
}

// =============================================================================
// POLLED OBSERVATION
// =============================================================================

// Observe with growing totals must produce the same normalized events as
// incremental writes of the same body.
func TestDemuxer_ObserveMatchesWrite(t *testing.T) {
	body := "Streaming text here" +
		`{"type":"status","status":"complete","message":"Done"}` + "\n"

	written, writeHandler := collect()
	w := New(writeHandler)
	w.Write(body)
	want := normalize(*written)

	observed, obsHandler := collect()
	o := New(obsHandler)
	for i := 5; i < len(body); i += 7 {
		o.Observe(body[:i])
	}
	o.Observe(body)

	if got := normalize(*observed); !eventsEqual(got, want) {
		t.Errorf("observe:\n got %+v\nwant %+v", got, want)
	}
}

func TestDemuxer_ObserveIgnoresShrunkenBuffer(t *testing.T) {
	events, handler := collect()
	d := New(handler)

	d.Observe("Hello world")
	d.Observe("Hello")

	got := *events
	if len(got) != 1 || got[0].Text != "Hello world" {
		t.Fatalf("events = %+v", got)
	}
}
