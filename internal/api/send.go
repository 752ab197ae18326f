// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/rynk-ai/rynk-go/internal/chat"
	"github.com/rynk-ai/rynk-go/internal/stream"
)

// =============================================================================
// STREAMING SEND
// =============================================================================

// SendRequest describes one user turn posted to the streaming endpoint.
type SendRequest struct {
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`

	// ParentMessageID regenerates against a specific message version
	// instead of the conversation tail.
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

// Stream message-id headers. The backend issues the persistent ids for the
// optimistic user/assistant pair up front so the client can reconcile its
// temporary ids without a second round trip.
const (
	headerUserMessageID      = "x-user-message-id"
	headerAssistantMessageID = "x-assistant-message-id"
)

// MessageStream is one open streaming response. The caller drives it to
// completion with Drive and may abort it from any goroutine with Close.
type MessageStream struct {
	// UserMessageID and AssistantMessageID are the server-issued ids for
	// this turn, empty when the endpoint does not provide them.
	UserMessageID      string
	AssistantMessageID string

	body io.ReadCloser

	closeOnce sync.Once
}

// OpenMessageStream posts a user turn and returns the open response stream.
// Streaming sends are never retried automatically: a transport failure is
// surfaced for manual retry with all optimistic state rolled back by the
// caller. A non-2xx status is mapped through the same error taxonomy as
// non-streaming calls, so a credit-limit rejection comes back as
// credit.ErrExhausted.
func (c *Client) OpenMessageStream(ctx context.Context, conversationID string, req SendRequest) (*MessageStream, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	path := c.baseURL + "/conversations/" + url.PathEscape(conversationID) + "/messages/stream"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.credits.UpdateFromHeader(resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := readResponse(resp)
		resp.Body.Close()
		return nil, c.handleErrorResponse(resp.StatusCode, body)
	}

	return &MessageStream{
		UserMessageID:      resp.Header.Get(headerUserMessageID),
		AssistantMessageID: resp.Header.Get(headerAssistantMessageID),
		body:               resp.Body,
	}, nil
}

// Drive reads the response body to completion, feeding each delta into the
// demuxer. It returns when the demuxer sees a terminal event, the body ends
// (leftover text is flushed by the demuxer), or the transport fails. Drive
// always leaves the demuxer closed.
func (s *MessageStream) Drive(demux *stream.Demuxer) error {
	defer s.Close()

	buf := make([]byte, 4096)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			demux.Write(string(buf[:n]))
		}
		if demux.Closed() {
			// Terminal event seen: close the transport immediately,
			// no further buffer is processed.
			return nil
		}
		if err != nil {
			demux.Close()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
	}
}

// Close aborts the transport. It is idempotent and safe to call from a
// goroutine other than the one driving the stream; an abort racing an
// already-completed Drive is a no-op.
func (s *MessageStream) Close() {
	s.closeOnce.Do(func() {
		s.body.Close()
	})
}
