// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"net/url"
)

// =============================================================================
// ASYNC JOBS
// =============================================================================

// JobState is the lifecycle state of an asynchronously generated artifact.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobComplete   JobState = "complete"
	JobError      JobState = "error"
)

// Job is the polled status of an async generation job.
type Job struct {
	ID     string   `json:"id"`
	Status JobState `json:"status"`
	Result string   `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// SubmitTitleJob asks the backend to derive a conversation title from its
// first turn. The job completes asynchronously; poll with GetJob.
func (c *Client) SubmitTitleJob(ctx context.Context, conversationID string) (string, error) {
	var out Job
	path := "/conversations/" + url.PathEscape(conversationID) + "/title-job"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// GetJob fetches the current status of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var out Job
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
