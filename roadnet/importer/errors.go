// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package importer

import "github.com/zeebo/errs"

// Stable error kinds of the import pipeline. Each kind has a stable
// code surfaced over the API and a human-readable message.
var (
	// ErrNotFound is returned for unknown versions, jobs or exports.
	ErrNotFound = errs.Class("not found")

	// ErrInvalidTransition guards the version state machine: configuring
	// a non-draft, publishing with blocking validation, rolling back a
	// non-archived or snapshot-less version.
	ErrInvalidTransition = errs.Class("invalid transition")

	// ErrConflictingJob means the version already has a non-terminal job.
	ErrConflictingJob = errs.Class("conflicting job")

	// ErrConflictingPublish means the publish lock could not be acquired
	// within the configured timeout.
	ErrConflictingPublish = errs.Class("conflicting publish")

	// ErrValidationBlocked means the version's validation result carries
	// errors and publishing is refused.
	ErrValidationBlocked = errs.Class("validation blocked")

	// ErrSnapshotFailed means the pre-publish snapshot could not be written.
	ErrSnapshotFailed = errs.Class("snapshot failed")

	// ErrAssetWriteFailed means applying the change set to the road
	// store failed.
	ErrAssetWriteFailed = errs.Class("asset write failed")

	// ErrIntegrityViolation means a consistency check tripped during
	// publish or rollback.
	ErrIntegrityViolation = errs.Class("integrity violation")

	// ErrTimedOut means a job exceeded its wall-clock budget.
	ErrTimedOut = errs.Class("timed out")

	// ErrCancelled means a job was cancelled cooperatively.
	ErrCancelled = errs.Class("cancelled")

	// Error is the catch-all importer errors class.
	Error = errs.Class("importer")
)
