// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package jobrunner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/importer/jobrunner"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb/testdb"
)

func startRunner(t *testing.T, db *roadnetdb.DB, config jobrunner.Config) (*jobrunner.Runner, func()) {
	runner := jobrunner.New(zaptest.NewLogger(t), db.Versions(), config)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(runCtx)
	}()
	<-runner.Started()

	return runner, func() {
		cancel()
		<-done
	}
}

func newJob(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) *importer.ImportJob {
	version, err := db.Versions().CreateDraft(ctx, importer.CreateDraft{
		FileName: "a.geojson", FileType: georead.FileTypeGeoJSON, FileRef: "upload/a", ImportScope: "full",
	})
	require.NoError(t, err)
	job, err := db.Versions().CreateJob(ctx, importer.CreateJob{
		VersionID: version.ID, JobType: importer.JobValidation,
	})
	require.NoError(t, err)
	return job
}

func waitTerminal(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB, job *importer.ImportJob) *importer.ImportJob {
	var got *importer.ImportJob
	require.Eventually(t, func() bool {
		var err error
		got, err = db.Versions().GetJob(ctx, job.ID)
		require.NoError(t, err)
		return got.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return got
}

func TestRunnerCompletesJob(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		runner, stop := startRunner(t, db, jobrunner.Config{})
		defer stop()

		job := newJob(ctx, t, db)
		err := runner.Enqueue(job, func(jobCtx context.Context, progress func(int)) (interface{}, error) {
			progress(50)
			return map[string]int{"featureCount": 3}, nil
		})
		require.NoError(t, err)

		got := waitTerminal(ctx, t, db, job)
		require.Equal(t, importer.JobCompleted, got.Status)
		require.Equal(t, 100, got.Progress)
		require.JSONEq(t, `{"featureCount": 3}`, string(got.ResultSummary))
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.CompletedAt)
	})
}

func TestRunnerFailedJob(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		runner, stop := startRunner(t, db, jobrunner.Config{})
		defer stop()

		job := newJob(ctx, t, db)
		err := runner.Enqueue(job, func(context.Context, func(int)) (interface{}, error) {
			return nil, importer.ErrValidationBlocked.New("validation found 2 errors")
		})
		require.NoError(t, err)

		got := waitTerminal(ctx, t, db, job)
		require.Equal(t, importer.JobFailed, got.Status)
		require.Contains(t, got.ErrorMessage, "validation found 2 errors")
		require.Empty(t, got.ResultSummary)
	})
}

func TestRunnerTimeout(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		runner, stop := startRunner(t, db, jobrunner.Config{JobTimeout: 50 * time.Millisecond})
		defer stop()

		job := newJob(ctx, t, db)
		err := runner.Enqueue(job, func(jobCtx context.Context, progress func(int)) (interface{}, error) {
			<-jobCtx.Done()
			return nil, jobCtx.Err()
		})
		require.NoError(t, err)

		got := waitTerminal(ctx, t, db, job)
		require.Equal(t, importer.JobFailed, got.Status)
		require.Contains(t, got.ErrorMessage, "time budget",
			"a blown deadline maps onto the stable taxonomy")
	})
}

func TestRunnerShutdownCancelsJobs(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		runner, stop := startRunner(t, db, jobrunner.Config{})

		job := newJob(ctx, t, db)
		started := make(chan struct{})
		err := runner.Enqueue(job, func(jobCtx context.Context, progress func(int)) (interface{}, error) {
			close(started)
			<-jobCtx.Done()
			return nil, jobCtx.Err()
		})
		require.NoError(t, err)
		<-started

		stop()

		// shutdown still finalized the row, the client is not left
		// polling a running job forever
		got, err := db.Versions().GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, importer.JobFailed, got.Status)
		require.Contains(t, got.ErrorMessage, "cancelled")
	})
}

func TestRunnerFailsAbandonedJobs(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		// a row left behind by a previous process
		job := newJob(ctx, t, db)

		_, stop := startRunner(t, db, jobrunner.Config{})
		defer stop()

		got, err := db.Versions().GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, importer.JobFailed, got.Status)
		require.Contains(t, got.ErrorMessage, "abandoned")

		// the per-version slot is free again
		_, err = db.Versions().CreateJob(ctx, importer.CreateJob{
			VersionID: job.VersionID, JobType: importer.JobValidation,
		})
		require.NoError(t, err)
	})
}

func TestEnqueueBeforeRun(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		runner := jobrunner.New(zaptest.NewLogger(t), db.Versions(), jobrunner.Config{})
		job := newJob(ctx, t, db)
		err := runner.Enqueue(job, func(context.Context, func(int)) (interface{}, error) { return nil, nil })
		require.Error(t, err)
	})
}
