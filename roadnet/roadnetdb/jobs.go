// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roadnetdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/importer"
)

const jobColumns = `id, version_id, job_type, status, progress,
	started_at, completed_at, error_message, result_summary`

func scanJob(row scannable) (*importer.ImportJob, error) {
	var job importer.ImportJob
	var id, versionID []byte
	var startedAt, completedAt sql.NullTime
	var summary sql.NullString

	err := row.Scan(
		&id, &versionID, &job.JobType, &job.Status, &job.Progress,
		&startedAt, &completedAt, &job.ErrorMessage, &summary,
	)
	if err != nil {
		return nil, err
	}
	if job.ID, err = uuid.FromBytes(id); err != nil {
		return nil, err
	}
	if job.VersionID, err = uuid.FromBytes(versionID); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	if summary.Valid {
		job.ResultSummary = json.RawMessage(summary.String)
	}
	return &job, nil
}

func (store *versionStore) CreateJob(ctx context.Context, opts importer.CreateJob) (_ *importer.ImportJob, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := store.GetVersion(ctx, opts.VersionID); err != nil {
		return nil, err
	}

	id, err := uuid.New()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	_, err = store.q.ExecContext(ctx, store.rebind(`
		INSERT INTO import_jobs (id, version_id, job_type, status, progress, created_at)
		VALUES (?, ?, ?, 'pending', 0, ?)`),
		id[:], opts.VersionID[:], string(opts.JobType), time.Now().UTC(),
	)
	if err != nil {
		// The partial unique index allows one non-terminal job per
		// version.
		if isUniqueViolation(err) {
			return nil, importer.ErrConflictingJob.New("version %s already has a job in flight", opts.VersionID)
		}
		return nil, Error.Wrap(err)
	}
	return store.GetJob(ctx, id)
}

func (store *versionStore) GetJob(ctx context.Context, id uuid.UUID) (_ *importer.ImportJob, err error) {
	defer mon.Task()(&ctx)(&err)

	row := store.q.QueryRowContext(ctx, store.rebind(`
		SELECT `+jobColumns+` FROM import_jobs WHERE id = ?`), id[:])
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, importer.ErrNotFound.New("job %s", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return job, nil
}

func (store *versionStore) ClaimJob(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := store.q.ExecContext(ctx, store.rebind(`
		UPDATE import_jobs SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'pending'`),
		at.UTC(), id[:],
	)
	if err != nil {
		return Error.Wrap(err)
	}
	return store.requireJobAffected(ctx, result, id, "claim")
}

func (store *versionStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) (err error) {
	defer mon.Task()(&ctx)(&err)

	// A progress write racing a finalize is harmless and dropped.
	_, err = store.q.ExecContext(ctx, store.rebind(`
		UPDATE import_jobs SET progress = ?
		WHERE id = ? AND status = 'running'`),
		progress, id[:],
	)
	return Error.Wrap(err)
}

func (store *versionStore) FinalizeJob(ctx context.Context, id uuid.UUID, status importer.JobStatus, summary json.RawMessage, errorMessage string, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !status.Terminal() {
		return Error.New("finalize requires a terminal status, got %s", status)
	}
	var summaryValue interface{}
	if summary != nil {
		summaryValue = string(summary)
	}
	progressExpr := "progress"
	if status == importer.JobCompleted {
		progressExpr = "100"
	}
	// A pending job may be finalized directly: it never reached a
	// worker, as when enqueueing fails during shutdown.
	result, err := store.q.ExecContext(ctx, store.rebind(`
		UPDATE import_jobs
		SET status = ?, completed_at = ?, error_message = ?, result_summary = ?, progress = `+progressExpr+`
		WHERE id = ? AND status IN ('pending', 'running')`),
		string(status), at.UTC(), errorMessage, summaryValue, id[:],
	)
	if err != nil {
		return Error.Wrap(err)
	}
	return store.requireJobAffected(ctx, result, id, "finalize")
}

func (store *versionStore) FailAbandonedJobs(ctx context.Context, errorMessage string, at time.Time) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := store.q.ExecContext(ctx, store.rebind(`
		UPDATE import_jobs
		SET status = 'failed', completed_at = ?, error_message = ?
		WHERE status IN ('pending', 'running')`),
		at.UTC(), errorMessage,
	)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return int(affected), nil
}

func (store *versionStore) requireJobAffected(ctx context.Context, result sql.Result, id uuid.UUID, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected > 0 {
		return nil
	}
	job, err := store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return importer.ErrInvalidTransition.New("cannot %s job in status %s", op, job.Status)
}
