// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package pipeline is the front of the import system: it owns the
// version lifecycle operations the API exposes and dispatches the
// async ones to the job runner. Synchronous precondition failures are
// reported directly; everything that touches the road asset runs as a
// job under the publish lock.
package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/geo"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/importer/differ"
	"github.com/opencouncil/roadnet/roadnet/importer/jobrunner"
	"github.com/opencouncil/roadnet/roadnet/importer/publisher"
	"github.com/opencouncil/roadnet/roadnet/importer/validation"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

var (
	// Error is the default pipeline errors class.
	Error = errs.Class("pipeline")

	mon = monkit.Package()
)

// Config holds pipeline tunables.
type Config struct {
	MaxUploadSize int64 `help:"largest accepted upload in bytes" default:"1073741824"`
}

// Service orchestrates the import pipeline.
type Service struct {
	log       *zap.Logger
	db        importer.DB
	blobs     blobstore.Store
	reader    *georead.Reader
	validator *validation.Validator
	differ    *differ.Differ
	publisher *publisher.Publisher
	runner    *jobrunner.Runner
	config    Config
}

// New creates a Service.
func New(log *zap.Logger, db importer.DB, blobs blobstore.Store, reader *georead.Reader,
	validator *validation.Validator, dif *differ.Differ, pub *publisher.Publisher,
	runner *jobrunner.Runner, config Config) *Service {
	return &Service{
		log:       log,
		db:        db,
		blobs:     blobs,
		reader:    reader,
		validator: validator,
		differ:    dif,
		publisher: pub,
		runner:    runner,
		config:    config,
	}
}

// Upload stores the file and creates a draft version around it. The
// file is probed immediately: an unparseable file is rejected here and
// no version is created. When a GeoPackage has exactly one feature
// layer it is pre-selected.
func (service *Service) Upload(ctx context.Context, fileName string, body io.Reader) (_ *importer.ImportVersion, err error) {
	defer mon.Task()(&ctx)(&err)

	fileType, err := georead.DetectFileType(fileName)
	if err != nil {
		return nil, err
	}

	// Blobs from rejected uploads are never deleted here: the store is
	// content-addressed, so a ref may be shared with another draft. The
	// sweeper reclaims anything no row references.
	limited := io.LimitReader(body, service.config.MaxUploadSize+1)
	fileRef, err := service.blobs.Put(ctx, blobstore.KindUpload, limited)
	if err != nil {
		return nil, err
	}
	if info, err := service.blobs.Stat(ctx, fileRef); err == nil && info.Size > service.config.MaxUploadSize {
		return nil, Error.New("upload exceeds the %d byte limit", service.config.MaxUploadSize)
	}

	probe, err := service.reader.Probe(ctx, fileRef, fileType)
	if err != nil {
		return nil, err
	}

	// The scope starts out derived from the file's own bounding box,
	// read as storage coordinates until a CRS is configured. Configure
	// re-derives it when the CRS changes and no explicit scope is set.
	scope := roads.FullScope
	if probe.HasBbox {
		scope = roads.BboxScope(probe.Bbox)
	}

	opts := importer.CreateDraft{
		FileName:     fileName,
		FileType:     fileType,
		FileRef:      fileRef,
		FeatureCount: probe.FeatureCount,
		ImportScope:  scope.String(),
	}
	if len(probe.Layers) == 1 {
		opts.LayerName = probe.Layers[0].Name
		opts.FeatureCount = probe.Layers[0].FeatureCount
	}

	version, err := service.db.Versions().CreateDraft(ctx, opts)
	if err != nil {
		return nil, err
	}
	service.log.Info("uploaded",
		zap.Stringer("version", version.ID),
		zap.String("file", fileName),
		zap.String("type", string(fileType)),
		zap.Int("features", version.FeatureCount))
	return version, nil
}

// Layers lists the layers of a version's file. GeoJSON files report a
// single implicit layer.
func (service *Service) Layers(ctx context.Context, versionID uuid.UUID) (_ []georead.LayerInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := service.db.Versions().GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	probe, err := service.reader.Probe(ctx, version.FileRef, version.FileType)
	if err != nil {
		return nil, err
	}
	if probe.Layers == nil {
		return []georead.LayerInfo{{
			Name:         "features",
			FeatureCount: probe.FeatureCount,
			GeometryType: "",
		}}, nil
	}
	return probe.Layers, nil
}

// ConfigureRequest carries the configurable fields of a draft. Empty
// strings keep the stored value; ImportScope additionally accepts
// "auto" to re-derive the scope from the file's bounding box.
type ConfigureRequest struct {
	LayerName         string
	SourceCRS         string
	DefaultDataSource string
	RegionalRefresh   *bool
	ImportScope       string
	SourceExportID    string
}

// Configure updates a draft's configuration. Only drafts may be
// configured; every field is checked before anything is written, so a
// rejected configure leaves the draft untouched. Changing fields the
// validation fingerprint covers invalidates the cached result.
func (service *Service) Configure(ctx context.Context, versionID uuid.UUID, req ConfigureRequest) (_ *importer.ImportVersion, err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := service.db.Versions().GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != importer.StatusDraft {
		return nil, importer.ErrInvalidTransition.New("only drafts are configurable, version is %s", version.Status)
	}

	opts := importer.ConfigureDraft{
		ID:                versionID,
		LayerName:         version.LayerName,
		SourceCRS:         version.SourceCRS,
		DefaultDataSource: version.DefaultDataSource,
		RegionalRefresh:   version.RegionalRefresh,
		ImportScope:       version.ImportScope,
		ScopeExplicit:     version.ScopeExplicit,
		SourceExportID:    version.SourceExportID,
	}

	if req.LayerName != "" {
		if err := service.checkLayer(ctx, version, req.LayerName); err != nil {
			return nil, err
		}
		opts.LayerName = req.LayerName
	}
	if req.SourceCRS != "" {
		crs, err := geo.Lookup(req.SourceCRS)
		if err != nil {
			return nil, err
		}
		opts.SourceCRS = crs.Code()
	}
	if req.DefaultDataSource != "" {
		if !importer.ValidDataSource(req.DefaultDataSource) {
			return nil, Error.New("unknown data source %q", req.DefaultDataSource)
		}
		opts.DefaultDataSource = req.DefaultDataSource
	}
	if req.RegionalRefresh != nil {
		opts.RegionalRefresh = *req.RegionalRefresh
	}
	if req.SourceExportID != "" {
		exportID, err := uuid.FromString(req.SourceExportID)
		if err != nil {
			return nil, Error.New("sourceExportId is not a uuid: %q", req.SourceExportID)
		}
		if _, err := service.db.Versions().GetExport(ctx, exportID); err != nil {
			return nil, err
		}
		opts.SourceExportID = exportID.String()
	}
	switch req.ImportScope {
	case "":
		// A derived scope follows the CRS; an explicit one stays put.
		if !version.ScopeExplicit {
			scope, err := service.deriveScope(ctx, version, opts.SourceCRS)
			if err != nil {
				return nil, err
			}
			opts.ImportScope = scope.String()
		}
	case "auto":
		scope, err := service.deriveScope(ctx, version, opts.SourceCRS)
		if err != nil {
			return nil, err
		}
		opts.ImportScope = scope.String()
		opts.ScopeExplicit = false
	default:
		scope, err := roads.ParseScope(req.ImportScope)
		if err != nil {
			return nil, err
		}
		opts.ImportScope = scope.String()
		opts.ScopeExplicit = true
	}

	updated, err := service.db.Versions().ConfigureDraft(ctx, opts)
	if err != nil {
		return nil, err
	}
	service.log.Info("configured",
		zap.Stringer("version", versionID),
		zap.String("scope", updated.ImportScope),
		zap.Bool("regionalRefresh", updated.RegionalRefresh))
	return updated, nil
}

func (service *Service) checkLayer(ctx context.Context, version *importer.ImportVersion, layerName string) error {
	if version.FileType != georead.FileTypeGeoPackage {
		return Error.New("layer selection applies only to geopackage files")
	}
	probe, err := service.reader.Probe(ctx, version.FileRef, version.FileType)
	if err != nil {
		return err
	}
	for _, layer := range probe.Layers {
		if layer.Name == layerName {
			return nil
		}
	}
	return georead.ErrLayerNotFound.New("%q", layerName)
}

// deriveScope computes a bbox scope from the file's own bounding box,
// transformed into the storage SRID. Files without a derivable box get
// the full scope.
func (service *Service) deriveScope(ctx context.Context, version *importer.ImportVersion, sourceCRS string) (roads.Scope, error) {
	probe, err := service.reader.Probe(ctx, version.FileRef, version.FileType)
	if err != nil {
		return roads.Scope{}, err
	}
	if !probe.HasBbox {
		return roads.FullScope, nil
	}
	srid := geo.StorageSRID
	if sourceCRS != "" {
		crs, err := geo.Lookup(sourceCRS)
		if err != nil {
			return roads.Scope{}, err
		}
		srid = crs.SRID
	}
	box, err := geo.TransformBbox(probe.Bbox, srid, geo.StorageSRID)
	if err != nil {
		return roads.Scope{}, err
	}
	return roads.BboxScope(box), nil
}

// Get returns a version.
func (service *Service) Get(ctx context.Context, versionID uuid.UUID) (*importer.ImportVersion, error) {
	return service.db.Versions().GetVersion(ctx, versionID)
}

// List pages the version history, newest first.
func (service *Service) List(ctx context.Context, opts importer.ListVersions) ([]importer.ImportVersion, int, error) {
	return service.db.Versions().ListVersions(ctx, opts)
}

// DeleteDraft discards a draft and its uploaded file. Non-drafts are
// refused; published and archived versions are history.
func (service *Service) DeleteDraft(ctx context.Context, versionID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := service.db.Versions().GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if version.Status != importer.StatusDraft {
		return importer.ErrInvalidTransition.New("only drafts may be deleted, version is %s", version.Status)
	}
	if err := service.db.Versions().DeleteDraft(ctx, versionID); err != nil {
		return err
	}
	// The file blob stays: the store is content-addressed, so another
	// draft may hold the same ref. The sweeper reclaims it once nothing
	// references it.
	service.log.Info("draft deleted", zap.Stringer("version", versionID))
	return nil
}

// Validate starts a validation job for a configured draft. Exactly one
// non-terminal job may exist per version.
func (service *Service) Validate(ctx context.Context, versionID uuid.UUID) (_ *importer.ImportJob, err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := service.db.Versions().GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != importer.StatusDraft {
		return nil, importer.ErrInvalidTransition.New("only drafts are validated, version is %s", version.Status)
	}
	if !version.Configured() {
		return nil, Error.New("draft is not fully configured: defaultDataSource and, for geopackage, layerName are required")
	}

	job, err := service.db.Versions().CreateJob(ctx, importer.CreateJob{
		VersionID: versionID,
		JobType:   importer.JobValidation,
	})
	if err != nil {
		return nil, err
	}

	fingerprint := version.ValidationFingerprint()
	err = service.enqueue(ctx, job, func(ctx context.Context, progress func(int)) (interface{}, error) {
		result, err := service.validator.Run(ctx, version, progress)
		if err != nil {
			return nil, err
		}
		err = service.db.Versions().SetValidationResult(ctx, versionID, fingerprint, result)
		if err != nil {
			return nil, err
		}
		return map[string]int{
			"featureCount": result.FeatureCount,
			"errors":       len(result.Errors),
			"warnings":     len(result.Warnings),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ValidationResult returns the cached validation result for the
// version's current configuration. A result computed for a stale
// configuration is reported as absent.
func (service *Service) ValidationResult(ctx context.Context, versionID uuid.UUID) (_ *importer.ValidationResult, err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := service.db.Versions().GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	result, fingerprint, err := service.db.Versions().GetValidationResult(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if result == nil || fingerprint != version.ValidationFingerprint() {
		return nil, importer.ErrNotFound.New("no validation result for the current configuration")
	}
	return result, nil
}

// Preview computes the diff a publish of this draft would apply right
// now. The result is advisory: the publish job recomputes it under the
// lock.
func (service *Service) Preview(ctx context.Context, versionID uuid.UUID) (_ *importer.DiffResult, err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := service.db.Versions().GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != importer.StatusDraft {
		return nil, importer.ErrInvalidTransition.New("diffs are previewed on drafts, version is %s; published versions have a historical diff", version.Status)
	}
	if !version.Configured() {
		return nil, Error.New("draft is not fully configured")
	}

	importSet, warnings, err := service.differ.LoadImportSet(ctx, version)
	if err != nil {
		return nil, err
	}

	scope := roads.FullScope
	if version.ImportScope != "" {
		scope, err = roads.ParseScope(version.ImportScope)
		if err != nil {
			return nil, err
		}
	}
	opts := differ.Options{
		Scope:             scope,
		RegionalRefresh:   version.RegionalRefresh,
		ComparisonMode:    importer.CompareBbox,
		DefaultDataSource: version.DefaultDataSource,
	}
	current := differ.StreamCurrent(func(ctx context.Context, fn func(roads.Road) error) error {
		return service.db.Roads().StreamActive(ctx, scope, fn)
	})
	if version.SourceExportID != "" {
		exportID, err := uuid.FromString(version.SourceExportID)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		export, err := service.db.Versions().GetExport(ctx, exportID)
		if err != nil {
			return nil, err
		}
		opts.ComparisonMode = importer.ComparePrecise
		opts.SourceExportID = version.SourceExportID
		current = service.streamExport(export.BlobRef)
	}

	result, err := service.differ.Classify(ctx, opts, importSet, warnings, current)
	if err != nil {
		return nil, err
	}
	return &result.Diff, nil
}

// History returns the persisted historical diff of a published,
// archived or rolled-back version.
func (service *Service) History(ctx context.Context, versionID uuid.UUID) (_ *importer.DiffResult, err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := service.db.Versions().GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.DiffRef == "" {
		return nil, importer.ErrNotFound.New("version %s has no historical diff", versionID)
	}
	blob, err := service.blobs.Open(ctx, version.DiffRef)
	if err != nil {
		return nil, err
	}
	defer func() { err = errs.Combine(err, blob.Close()) }()

	var diff importer.DiffResult
	if err := json.NewDecoder(blob).Decode(&diff); err != nil {
		return nil, Error.Wrap(err)
	}
	return &diff, nil
}

// Publish starts a publish job for the draft. Preconditions checked
// here fail synchronously: the draft must have a non-blocking
// validation result for its current configuration. The job re-checks
// everything under the lock.
func (service *Service) Publish(ctx context.Context, versionID uuid.UUID) (_ *importer.ImportJob, err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := service.db.Versions().GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != importer.StatusDraft {
		return nil, importer.ErrInvalidTransition.New("only drafts are published, version is %s", version.Status)
	}
	result, fingerprint, err := service.db.Versions().GetValidationResult(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if result == nil || fingerprint != version.ValidationFingerprint() {
		return nil, importer.ErrValidationBlocked.New("validate the draft before publishing")
	}
	if result.Blocking() {
		return nil, importer.ErrValidationBlocked.New("validation found %d errors", len(result.Errors))
	}

	job, err := service.db.Versions().CreateJob(ctx, importer.CreateJob{
		VersionID: versionID,
		JobType:   importer.JobPublish,
	})
	if err != nil {
		return nil, err
	}
	err = service.enqueue(ctx, job, func(ctx context.Context, progress func(int)) (interface{}, error) {
		return service.publisher.Publish(ctx, versionID, progress)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Rollback starts a rollback job restoring the archived target's
// snapshot as a new published version.
func (service *Service) Rollback(ctx context.Context, targetID uuid.UUID) (_ *importer.ImportJob, err error) {
	defer mon.Task()(&ctx)(&err)

	target, err := service.db.Versions().GetVersion(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Status != importer.StatusArchived {
		return nil, importer.ErrInvalidTransition.New("rollback requires an archived version, target is %s", target.Status)
	}
	if target.SnapshotRef == "" {
		return nil, importer.ErrInvalidTransition.New("target version has no snapshot")
	}

	job, err := service.db.Versions().CreateJob(ctx, importer.CreateJob{
		VersionID: targetID,
		JobType:   importer.JobRollback,
	})
	if err != nil {
		return nil, err
	}
	err = service.enqueue(ctx, job, func(ctx context.Context, progress func(int)) (interface{}, error) {
		return service.publisher.Rollback(ctx, targetID, progress)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Job returns a job row for polling.
func (service *Service) Job(ctx context.Context, jobID uuid.UUID) (*importer.ImportJob, error) {
	return service.db.Versions().GetJob(ctx, jobID)
}

// enqueue hands the created job row to the runner. When the runner
// refuses it the row is finalized as failed immediately, so the
// per-version job slot is released instead of holding ErrConflictingJob
// forever.
func (service *Service) enqueue(ctx context.Context, job *importer.ImportJob, fn jobrunner.Func) error {
	err := service.runner.Enqueue(job, fn)
	if err == nil {
		return nil
	}
	ferr := service.db.Versions().FinalizeJob(ctx, job.ID, importer.JobFailed, nil, err.Error(), time.Now().UTC())
	if ferr != nil {
		service.log.Error("finalizing refused job failed",
			zap.Stringer("job", job.ID), zap.Error(ferr))
	}
	return err
}

func (service *Service) streamExport(ref blobstore.Ref) differ.StreamCurrent {
	return func(ctx context.Context, fn func(roads.Road) error) error {
		blob, err := service.blobs.Open(ctx, ref)
		if err != nil {
			return err
		}
		defer func() { _ = blob.Close() }()
		return roads.StreamSnapshot(ctx, blob, func(rec roads.SnapshotRecord) error {
			return fn(rec.Road())
		})
	}
}
