// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package pipeline_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/blobstore/filestore"
	"github.com/opencouncil/roadnet/roadnet/geo"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/importer/differ"
	"github.com/opencouncil/roadnet/roadnet/importer/jobrunner"
	"github.com/opencouncil/roadnet/roadnet/importer/pipeline"
	"github.com/opencouncil/roadnet/roadnet/importer/publisher"
	"github.com/opencouncil/roadnet/roadnet/importer/validation"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb/testdb"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

const twoRoads = `{
	"type": "FeatureCollection",
	"features": [
		{"type": "Feature", "id": "r1",
		 "geometry": {"type": "LineString", "coordinates": [[139.70, 35.60], [139.71, 35.61]]},
		 "properties": {"dataSource": "manual"}},
		{"type": "Feature", "id": "r2",
		 "geometry": {"type": "LineString", "coordinates": [[139.80, 35.70], [139.81, 35.71]]},
		 "properties": {}}
	]
}`

type env struct {
	db      *roadnetdb.DB
	blobs   blobstore.Store
	service *pipeline.Service

	stop func()
}

// newStoppedEnv builds the full stack without running the job runner.
func newStoppedEnv(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) (*env, *jobrunner.Runner) {
	log := zaptest.NewLogger(t)
	blobs, err := filestore.New(log.Named("blobs"), filestore.Config{Dir: ctx.Dir("blobs")})
	require.NoError(t, err)

	reader := georead.NewReader(blobs)
	validator := validation.New(log.Named("validation"), reader)
	dif := differ.New(log.Named("differ"), reader, blobs, differ.Config{})
	pub := publisher.New(log.Named("publisher"), db, blobs, dif, publisher.Config{LockTimeout: time.Second})
	runner := jobrunner.New(log.Named("jobs"), db.Versions(), jobrunner.Config{Concurrency: 2})

	service := pipeline.New(log.Named("pipeline"), db, blobs, reader, validator, dif, pub, runner, pipeline.Config{
		MaxUploadSize: 1 << 20,
	})
	return &env{db: db, blobs: blobs, service: service, stop: func() {}}, runner
}

func newEnv(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) *env {
	e, runner := newStoppedEnv(ctx, t, db)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(runCtx)
	}()
	<-runner.Started()

	e.stop = func() { cancel(); <-done }
	return e
}

func (e *env) upload(ctx *testcontext.Context, t *testing.T, name, content string) *importer.ImportVersion {
	version, err := e.service.Upload(ctx, name, strings.NewReader(content))
	require.NoError(t, err)
	return version
}

func (e *env) awaitJob(ctx *testcontext.Context, t *testing.T, job *importer.ImportJob) *importer.ImportJob {
	var got *importer.ImportJob
	require.Eventually(t, func() bool {
		var err error
		got, err = e.service.Job(ctx, job.ID)
		require.NoError(t, err)
		return got.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return got
}

func boolPtr(b bool) *bool { return &b }

func TestUpload(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()

		version := e.upload(ctx, t, "roads.geojson", twoRoads)
		require.Equal(t, importer.StatusDraft, version.Status)
		require.Equal(t, georead.FileTypeGeoJSON, version.FileType)
		require.Equal(t, 2, version.FeatureCount)
		require.True(t, strings.HasPrefix(version.ImportScope, "bbox:"),
			"the scope starts out derived from the file extent, got %q", version.ImportScope)

		_, err := e.blobs.Stat(ctx, version.FileRef)
		require.NoError(t, err)

		layers, err := e.service.Layers(ctx, version.ID)
		require.NoError(t, err)
		require.Len(t, layers, 1)
		require.Equal(t, "features", layers[0].Name, "geojson reports one implicit layer")
		require.Equal(t, 2, layers[0].FeatureCount)
	})
}

func TestUploadRejectsBadFiles(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()

		_, err := e.service.Upload(ctx, "roads.shp", strings.NewReader("whatever"))
		require.True(t, georead.ErrUnsupportedFormat.Has(err))

		_, err = e.service.Upload(ctx, "roads.geojson", strings.NewReader("not json at all"))
		require.True(t, georead.ErrInvalidFile.Has(err))

		// nothing was created
		_, total, err := e.service.List(ctx, importer.ListVersions{})
		require.NoError(t, err)
		require.Equal(t, 0, total)
	})
}

func TestUploadSizeLimit(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()

		huge := strings.NewReader(`{"pad": "` + strings.Repeat("x", 2<<20) + `"}`)
		_, err := e.service.Upload(ctx, "roads.geojson", huge)
		require.Error(t, err)
		require.Contains(t, err.Error(), "byte limit")
	})
}

func TestConfigure(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()
		version := e.upload(ctx, t, "roads.geojson", twoRoads)

		updated, err := e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{
			SourceCRS:         "epsg:4326",
			DefaultDataSource: importer.DataSourceManual,
			RegionalRefresh:   boolPtr(true),
			ImportScope:       "ward:chuo",
		})
		require.NoError(t, err)
		require.Equal(t, "EPSG:4326", updated.SourceCRS, "CRS spellings normalize")
		require.Equal(t, "manual", updated.DefaultDataSource)
		require.True(t, updated.RegionalRefresh)
		require.Equal(t, "ward:chuo", updated.ImportScope)

		// empty fields keep stored values
		updated, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{ImportScope: "full"})
		require.NoError(t, err)
		require.Equal(t, "manual", updated.DefaultDataSource)
		require.True(t, updated.RegionalRefresh)
		require.Equal(t, "full", updated.ImportScope)

		// a rejected configure leaves the draft untouched
		_, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{
			SourceCRS:         "EPSG:999999",
			DefaultDataSource: "somewhere",
		})
		require.True(t, geo.ErrUnsupportedCRS.Has(err))
		unchanged, err := e.service.Get(ctx, version.ID)
		require.NoError(t, err)
		require.Equal(t, "EPSG:4326", unchanged.SourceCRS)

		_, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{DefaultDataSource: "somewhere"})
		require.Error(t, err)
		_, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{ImportScope: "bogus"})
		require.True(t, roads.ErrInvalidScope.Has(err))
		_, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{LayerName: "roads"})
		require.Error(t, err, "layer selection applies only to geopackage files")
		_, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{SourceExportID: "not-a-uuid"})
		require.Error(t, err)
	})
}

func TestConfigureAutoScope(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()
		version := e.upload(ctx, t, "roads.geojson", twoRoads)

		updated, err := e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{
			DefaultDataSource: importer.DataSourceManual,
			ImportScope:       "auto",
		})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(updated.ImportScope, "bbox:"), "auto derives a bbox scope, got %q", updated.ImportScope)

		scope, err := roads.ParseScope(updated.ImportScope)
		require.NoError(t, err)
		require.True(t, scope.Bbox.MinLng <= 139.70 && scope.Bbox.MaxLng >= 139.81)
	})
}

func TestScopeDerivation(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()
		version := e.upload(ctx, t, "roads.geojson", twoRoads)

		// configuring other fields keeps the scope derived
		updated, err := e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{
			DefaultDataSource: importer.DataSourceManual,
		})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(updated.ImportScope, "bbox:"))
		scope, err := roads.ParseScope(updated.ImportScope)
		require.NoError(t, err)
		require.True(t, scope.Bbox.MinLng <= 139.70 && scope.Bbox.MaxLng >= 139.81)

		// an explicit scope is authoritative and survives later configures
		updated, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{ImportScope: "ward:chuo"})
		require.NoError(t, err)
		require.Equal(t, "ward:chuo", updated.ImportScope)
		updated, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{RegionalRefresh: boolPtr(true)})
		require.NoError(t, err)
		require.Equal(t, "ward:chuo", updated.ImportScope)

		// "auto" hands the scope back to derivation
		updated, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{ImportScope: "auto"})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(updated.ImportScope, "bbox:"))
	})
}

func TestValidateAndResult(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()
		version := e.upload(ctx, t, "roads.geojson", twoRoads)

		// validation requires configuration
		_, err := e.service.Validate(ctx, version.ID)
		require.Error(t, err)
		require.Contains(t, err.Error(), "not fully configured")

		_, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{
			DefaultDataSource: importer.DataSourceManual,
		})
		require.NoError(t, err)

		_, err = e.service.ValidationResult(ctx, version.ID)
		require.True(t, importer.ErrNotFound.Has(err), "no result before the job ran")

		job, err := e.service.Validate(ctx, version.ID)
		require.NoError(t, err)
		require.Equal(t, importer.JobValidation, job.JobType)

		done := e.awaitJob(ctx, t, job)
		require.Equal(t, importer.JobCompleted, done.Status)

		result, err := e.service.ValidationResult(ctx, version.ID)
		require.NoError(t, err)
		require.Equal(t, 2, result.FeatureCount)
		require.Empty(t, result.Errors)
		require.Equal(t, 1, result.MissingDataSourceCount)

		// reconfiguring a fingerprint-covered field invalidates the cache
		_, err = e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{
			DefaultDataSource: importer.DataSourceOfficialLedger,
		})
		require.NoError(t, err)
		_, err = e.service.ValidationResult(ctx, version.ID)
		require.True(t, importer.ErrNotFound.Has(err))
	})
}

func TestPublishFlow(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()
		version := e.upload(ctx, t, "roads.geojson", twoRoads)

		_, err := e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{
			DefaultDataSource: importer.DataSourceManual,
		})
		require.NoError(t, err)

		// publish before validation fails synchronously
		_, err = e.service.Publish(ctx, version.ID)
		require.True(t, importer.ErrValidationBlocked.Has(err))

		job, err := e.service.Validate(ctx, version.ID)
		require.NoError(t, err)
		e.awaitJob(ctx, t, job)

		// preview before publish
		diff, err := e.service.Preview(ctx, version.ID)
		require.NoError(t, err)
		require.Len(t, diff.Added, 2)
		require.Equal(t, 0, diff.Unchanged)

		job, err = e.service.Publish(ctx, version.ID)
		require.NoError(t, err)
		require.Equal(t, importer.JobPublish, job.JobType)
		done := e.awaitJob(ctx, t, job)
		require.Equal(t, importer.JobCompleted, done.Status)

		published, err := e.service.Get(ctx, version.ID)
		require.NoError(t, err)
		require.Equal(t, importer.StatusPublished, published.Status)

		count, err := db.Roads().CountActive(ctx, roads.FullScope)
		require.NoError(t, err)
		require.Equal(t, 2, count)

		// the historical diff is served from the blob
		history, err := e.service.History(ctx, version.ID)
		require.NoError(t, err)
		require.Len(t, history.Added, 2)

		// previews are for drafts only now
		_, err = e.service.Preview(ctx, version.ID)
		require.True(t, importer.ErrInvalidTransition.Has(err))
	})
}

func TestDeleteDraft(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()
		version := e.upload(ctx, t, "roads.geojson", twoRoads)

		require.NoError(t, e.service.DeleteDraft(ctx, version.ID))
		_, err := e.service.Get(ctx, version.ID)
		require.True(t, importer.ErrNotFound.Has(err))
		_, err = e.blobs.Stat(ctx, version.FileRef)
		require.NoError(t, err, "the uploaded file is reclaimed by the sweeper, never here")
	})
}

func TestDeleteDraftSharedUpload(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()

		a := e.upload(ctx, t, "a.geojson", twoRoads)
		b := e.upload(ctx, t, "b.geojson", twoRoads)
		require.Equal(t, a.FileRef, b.FileRef, "identical bytes share one blob")

		require.NoError(t, e.service.DeleteDraft(ctx, a.ID))

		_, err := e.blobs.Stat(ctx, b.FileRef)
		require.NoError(t, err)
		layers, err := e.service.Layers(ctx, b.ID)
		require.NoError(t, err, "the surviving draft still reads its file")
		require.Len(t, layers, 1)
	})
}

func TestJobSlotReleasedWhenEnqueueRefused(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e, runner := newStoppedEnv(ctx, t, db)

		version := e.upload(ctx, t, "roads.geojson", twoRoads)
		_, err := e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{
			DefaultDataSource: importer.DataSourceManual,
		})
		require.NoError(t, err)

		// the runner is not running, so the enqueue is refused
		_, err = e.service.Validate(ctx, version.ID)
		require.Error(t, err)

		// the refused job row was finalized, not left pending
		_, err = e.service.Validate(ctx, version.ID)
		require.Error(t, err)
		require.False(t, importer.ErrConflictingJob.Has(err))

		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = runner.Run(runCtx)
		}()
		<-runner.Started()
		defer func() { cancel(); <-done }()

		job, err := e.service.Validate(ctx, version.ID)
		require.NoError(t, err)
		got := e.awaitJob(ctx, t, job)
		require.Equal(t, importer.JobCompleted, got.Status)
	})
}

func TestExports(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		e := newEnv(ctx, t, db)
		defer e.stop()

		// publish a first version so the export has content
		version := e.upload(ctx, t, "roads.geojson", twoRoads)
		_, err := e.service.Configure(ctx, version.ID, pipeline.ConfigureRequest{
			DefaultDataSource: importer.DataSourceManual,
		})
		require.NoError(t, err)
		job, err := e.service.Validate(ctx, version.ID)
		require.NoError(t, err)
		e.awaitJob(ctx, t, job)
		job, err = e.service.Publish(ctx, version.ID)
		require.NoError(t, err)
		e.awaitJob(ctx, t, job)

		export, err := e.service.CreateExport(ctx, "")
		require.NoError(t, err)
		require.Equal(t, "full", export.Scope)
		require.Equal(t, 2, export.FeatureCount)

		got, blob, err := e.service.OpenExport(ctx, export.ID)
		require.NoError(t, err)
		require.Equal(t, export.ID, got.ID)

		count := 0
		err = roads.StreamSnapshot(ctx, blob, func(roads.SnapshotRecord) error {
			count++
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, blob.Close())
		require.Equal(t, 2, count)

		// a draft pinned to the export previews in precise mode
		second := e.upload(ctx, t, "roads.geojson", twoRoads)
		_, err = e.service.Configure(ctx, second.ID, pipeline.ConfigureRequest{
			DefaultDataSource: importer.DataSourceManual,
			SourceExportID:    export.ID.String(),
		})
		require.NoError(t, err)
		diff, err := e.service.Preview(ctx, second.ID)
		require.NoError(t, err)
		require.Equal(t, importer.ComparePrecise, diff.ComparisonMode)
		require.Equal(t, 2, diff.Unchanged)
	})
}
