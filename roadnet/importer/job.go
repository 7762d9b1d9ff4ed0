// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package importer

import (
	"encoding/json"
	"time"

	"storj.io/common/uuid"
)

// JobType discriminates the async operations.
type JobType string

// Job types.
const (
	JobValidation JobType = "validation"
	JobPublish    JobType = "publish"
	JobRollback   JobType = "rollback"
)

// JobStatus is the job state machine:
//
//	pending ──(claim)──▶ running ──(success)──▶ completed
//	                        │
//	                        └──(error|cancel)─▶ failed
//
// completed and failed are terminal; a terminal job is immutable.
type JobStatus string

// Job statuses.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is terminal.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ImportJob is one async operation against a version. Clients observe
// jobs solely by polling the row.
type ImportJob struct {
	ID        uuid.UUID `json:"id"`
	VersionID uuid.UUID `json:"versionId"`
	JobType   JobType   `json:"jobType"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	ErrorMessage  string          `json:"errorMessage,omitempty"`
	ResultSummary json.RawMessage `json:"resultSummary,omitempty"`
}
