// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the Rynk backend: the streaming
// send, conversation and message CRUD, sub-thread endpoints and async job
// submission. The backend's generation logic is a black box; this package
// only speaks the wire contract.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/rynk-ai/rynk-go/internal/credit"
	"github.com/rynk-ai/rynk-go/internal/stream"
)

// Configuration constants for the Rynk API.
const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.rynk.ai/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the retry budget for transient errors on
	// non-streaming requests. Streaming sends are never retried
	// automatically; a failed send is surfaced for manual retry.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff delay.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize bounds non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

// Error variables for common API failures.
var (
	// ErrAuthFailed indicates an invalid or expired bearer token.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates an edit targeted a stale message.
	// Surfaced, never retried.
	ErrVersionConflict = errors.New("message version conflict")
)

// APIError represents an error response from the backend.
type APIError struct {
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("rynk api error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an HTTP client for the Rynk backend. A zero token means a guest
// session; the credit governor then tracks the remaining quota from response
// headers.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	maxRetries int

	// httpClient serves bounded requests; streamClient has no timeout and
	// is controlled via context for the duration of a whole response.
	httpClient   *http.Client
	streamClient *http.Client

	credits *credit.Governor
}

// NewClient creates a client for the given base URL. An empty baseURL uses
// the production endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		userAgent:    "rynk-go/0.2.0",
		maxRetries:   DefaultMaxRetries,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
		credits:      credit.New(),
	}
}

// WithToken sets the bearer token for an authenticated session.
func (c *Client) WithToken(token string) *Client {
	c.token = strings.TrimSpace(token)
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets the retry budget for non-streaming requests.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// Credits returns the credit governor fed by this client's responses.
func (c *Client) Credits() *credit.Governor {
	return c.credits
}

// IsGuest reports whether the client runs without a bearer token.
func (c *Client) IsGuest() bool {
	return c.token == ""
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// setHeaders sets the common headers for API requests.
func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
}

// readResponse reads a non-streaming body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// doJSON performs a request with retry and exponential backoff for transient
// errors, decoding a 2xx response body into out (may be nil). The credit
// header is applied on every response regardless of status.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	// The first attempt is unconditional; maxRetries bounds only the
	// retries after it.
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			lastErr = err
			continue
		}
		log.Printf("api: %s %s -> %d (%v)", method, path, resp.StatusCode, time.Since(start))

		c.credits.UpdateFromHeader(resp.Header)

		respBody, err := readResponse(resp)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("failed to parse response: %w", err)
				}
			}
			return nil
		}

		apiErr := c.handleErrorResponse(resp.StatusCode, respBody)
		if resp.StatusCode >= 500 {
			lastErr = apiErr
			continue
		}
		return apiErr
	}

	if lastErr != nil {
		return fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return errors.New("max retries exceeded")
}

// handleErrorResponse converts a non-2xx response into an appropriate error,
// extracting the {message}/{error} body shape and mapping credit exhaustion
// to its distinct kind so the caller can offer an upgrade path instead of a
// retry.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	msg := stream.ErrorMessage(body)

	if isCreditExhausted(statusCode, msg) {
		c.credits.Exhaust()
		if msg != "" {
			return fmt.Errorf("%w: %s", credit.ErrExhausted, msg)
		}
		return credit.ErrExhausted
	}

	wrap := func(sentinel error) error {
		if msg != "" {
			return fmt.Errorf("%w: %s", sentinel, msg)
		}
		return sentinel
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return wrap(ErrAuthFailed)
	case http.StatusNotFound:
		return wrap(ErrNotFound)
	case http.StatusConflict:
		return wrap(ErrVersionConflict)
	case http.StatusTooManyRequests:
		return wrap(ErrRateLimited)
	default:
		return &APIError{Message: msg, Status: statusCode}
	}
}

// isCreditExhausted recognizes the backend's credit-limit rejection. 402 is
// unambiguous; 403 doubles as a permission error, so the body is consulted.
func isCreditExhausted(statusCode int, msg string) bool {
	if statusCode == http.StatusPaymentRequired {
		return true
	}
	return statusCode == http.StatusForbidden && strings.Contains(strings.ToLower(msg), "credit")
}

// calculateBackoff returns the delay before the next retry attempt.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
