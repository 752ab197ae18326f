// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs runs the bounded polling loop for asynchronously generated
// auxiliary content (conversation titles and similar artifacts).
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/rynk-ai/rynk-go/internal/api"
)

// Polling defaults: bounded attempts at a fixed interval, then a terminal
// timeout. Nothing else in the client retries automatically; this loop is
// retry-by-design up to its bound.
const (
	DefaultAttempts = 20
	DefaultInterval = 1500 * time.Millisecond
)

// ErrTimeout is the distinct error kind for an exhausted polling loop. It
// must not be folded into a generic failure.
var ErrTimeout = errors.New("job polling timed out")

// =============================================================================
// POLLER
// =============================================================================

// Poller drives a job to completion by polling at a fixed pace.
type Poller struct {
	attempts int
	limiter  *rate.Limiter
}

// NewPoller creates a poller with the given bound and interval. Zero values
// fall back to the defaults.
func NewPoller(attempts int, interval time.Duration) *Poller {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		attempts: attempts,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Wait polls the job until it completes, fails, or the attempt budget is
// spent. It returns the job result on completion, the backend's error text
// as an error on failure, and ErrTimeout when the budget runs out.
func (p *Poller) Wait(ctx context.Context, client *api.Client, jobID string) (string, error) {
	for attempt := 0; attempt < p.attempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}

		job, err := client.GetJob(ctx, jobID)
		if err != nil {
			return "", err
		}

		switch job.Status {
		case api.JobComplete:
			return job.Result, nil
		case api.JobError:
			return "", fmt.Errorf("job %s failed: %s", jobID, job.Error)
		case api.JobQueued, api.JobProcessing:
			// Keep polling.
		default:
			return "", fmt.Errorf("job %s reported unknown status %q", jobID, job.Status)
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTimeout, p.attempts)
}
