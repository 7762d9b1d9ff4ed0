// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roadnetdb_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb/testdb"
)

func TestJobLifecycle(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		version := createDraft(ctx, t, db, "a.geojson")

		job, err := db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: version.ID, JobType: importer.JobValidation,
		})
		require.NoError(t, err)
		require.Equal(t, importer.JobPending, job.Status)
		require.Equal(t, 0, job.Progress)
		require.Nil(t, job.StartedAt)

		require.NoError(t, db.Versions().ClaimJob(ctx, job.ID, time.Now()))
		require.NoError(t, db.Versions().UpdateJobProgress(ctx, job.ID, 40))

		running, err := db.Versions().GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, importer.JobRunning, running.Status)
		require.Equal(t, 40, running.Progress)
		require.NotNil(t, running.StartedAt)

		summary := json.RawMessage(`{"featureCount":3}`)
		require.NoError(t, db.Versions().FinalizeJob(ctx, job.ID, importer.JobCompleted, summary, "", time.Now()))

		done, err := db.Versions().GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, importer.JobCompleted, done.Status)
		require.Equal(t, 100, done.Progress, "completion forces progress to 100")
		require.JSONEq(t, string(summary), string(done.ResultSummary))
		require.NotNil(t, done.CompletedAt)

		// terminal jobs are immutable
		err = db.Versions().FinalizeJob(ctx, job.ID, importer.JobFailed, nil, "late", time.Now())
		require.True(t, importer.ErrInvalidTransition.Has(err))
		err = db.Versions().ClaimJob(ctx, job.ID, time.Now())
		require.True(t, importer.ErrInvalidTransition.Has(err))

		// progress on a terminal job is silently dropped
		require.NoError(t, db.Versions().UpdateJobProgress(ctx, job.ID, 50))
		unchanged, err := db.Versions().GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, 100, unchanged.Progress)
	})
}

func TestCreateJobConflicts(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		version := createDraft(ctx, t, db, "a.geojson")

		first, err := db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: version.ID, JobType: importer.JobValidation,
		})
		require.NoError(t, err)

		// one non-terminal job per version
		_, err = db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: version.ID, JobType: importer.JobPublish,
		})
		require.True(t, importer.ErrConflictingJob.Has(err))

		require.NoError(t, db.Versions().ClaimJob(ctx, first.ID, time.Now()))
		_, err = db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: version.ID, JobType: importer.JobPublish,
		})
		require.True(t, importer.ErrConflictingJob.Has(err), "running still blocks")

		require.NoError(t, db.Versions().FinalizeJob(ctx, first.ID, importer.JobFailed, nil, "boom", time.Now()))
		_, err = db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: version.ID, JobType: importer.JobPublish,
		})
		require.NoError(t, err, "a terminal job releases the slot")
	})
}

func TestFinalizePendingJob(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		version := createDraft(ctx, t, db, "a.geojson")
		job, err := db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: version.ID, JobType: importer.JobValidation,
		})
		require.NoError(t, err)

		// a job that never reached a worker may fail without claiming
		require.NoError(t, db.Versions().FinalizeJob(ctx, job.ID, importer.JobFailed, nil, "refused", time.Now()))

		got, err := db.Versions().GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, importer.JobFailed, got.Status)
		require.Equal(t, "refused", got.ErrorMessage)
		require.Nil(t, got.StartedAt)

		_, err = db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: version.ID, JobType: importer.JobValidation,
		})
		require.NoError(t, err, "the slot is released")
	})
}

func TestFailAbandonedJobs(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		v1 := createDraft(ctx, t, db, "a.geojson")
		v2 := createDraft(ctx, t, db, "b.geojson")

		pending, err := db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: v1.ID, JobType: importer.JobValidation,
		})
		require.NoError(t, err)
		running, err := db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: v2.ID, JobType: importer.JobPublish,
		})
		require.NoError(t, err)
		require.NoError(t, db.Versions().ClaimJob(ctx, running.ID, time.Now()))

		n, err := db.Versions().FailAbandonedJobs(ctx, "job was abandoned", time.Now())
		require.NoError(t, err)
		require.Equal(t, 2, n)

		for _, id := range []importer.ImportJob{*pending, *running} {
			got, err := db.Versions().GetJob(ctx, id.ID)
			require.NoError(t, err)
			require.Equal(t, importer.JobFailed, got.Status)
			require.Contains(t, got.ErrorMessage, "abandoned")
			require.NotNil(t, got.CompletedAt)
		}

		n, err = db.Versions().FailAbandonedJobs(ctx, "job was abandoned", time.Now())
		require.NoError(t, err)
		require.Equal(t, 0, n, "terminal rows are untouched")
	})
}

func TestCreateJobMissingVersion(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		_, err := db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: testrand.UUID(), JobType: importer.JobValidation,
		})
		require.True(t, importer.ErrNotFound.Has(err))

		_, err = db.Versions().GetJob(ctx, testrand.UUID())
		require.True(t, importer.ErrNotFound.Has(err))
	})
}
