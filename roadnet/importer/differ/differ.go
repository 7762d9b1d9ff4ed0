// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package differ computes the change set a publish would apply: the
// import file joined against the "current" set of a scope, classified
// into added, updated, deactivated and unchanged.
//
// The live set is streamed and joined by identity against a hash map
// of the (smaller) import set, so the full current state is never held
// in memory at once.
package differ

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/geo"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

var (
	// Error is the default differ errors class.
	Error = errs.Class("differ")

	mon = monkit.Package()
)

// Config holds tunables for diff computation.
type Config struct {
	Epsilon float64 `help:"per-ordinate geometry comparison tolerance in degrees" default:"0.000000001"`
}

// Differ computes diffs for drafts (preview) and inside publish
// transactions (authoritative).
type Differ struct {
	log    *zap.Logger
	reader *georead.Reader
	blobs  blobstore.Store
	config Config
}

// New creates a Differ.
func New(log *zap.Logger, reader *georead.Reader, blobs blobstore.Store, config Config) *Differ {
	if config.Epsilon <= 0 {
		config.Epsilon = geo.DefaultEpsilon
	}
	return &Differ{log: log, reader: reader, blobs: blobs, config: config}
}

// ImportFeature is one normalized feature of the import set: geometry
// in the storage SRID, identity resolved, attribute bag attached.
type ImportFeature struct {
	ID         string
	AutoID     bool
	Geometry   orb.Geometry
	Bbox       geo.Bbox
	Ward       string
	DataSource string
	Attributes roads.Attributes
}

// Road converts the feature to an active road row. defaultDataSource
// substitutes an absent dataSource at publish time.
func (f ImportFeature) Road(defaultDataSource string) roads.Road {
	dataSource := f.DataSource
	if dataSource == "" {
		dataSource = defaultDataSource
	}
	return roads.Road{
		ID:         f.ID,
		Geometry:   f.Geometry,
		Bbox:       f.Bbox,
		Ward:       f.Ward,
		Attributes: f.Attributes,
		DataSource: dataSource,
		Status:     roads.StatusActive,
	}
}

// LoadImportSet streams the version's file and builds the identity map
// used for classification. Duplicate identities keep the last
// occurrence; features without geometry are skipped. Both emit
// warnings.
func (d *Differ) LoadImportSet(ctx context.Context, version *importer.ImportVersion) (_ map[string]ImportFeature, warnings []string, err error) {
	defer mon.Task()(&ctx)(&err)

	srcSRID := geo.StorageSRID
	if version.SourceCRS != "" {
		crs, err := geo.Lookup(version.SourceCRS)
		if err != nil {
			return nil, nil, err
		}
		srcSRID = crs.SRID
	}

	set := make(map[string]ImportFeature)
	err = d.reader.Stream(ctx, version.FileRef, version.FileType, version.LayerName, func(raw georead.RawFeature) error {
		if raw.Geometry == nil {
			warnings = append(warnings, fmt.Sprintf("feature %d has no geometry and was skipped", raw.Index))
			return nil
		}
		geometry, err := geo.TransformGeometry(raw.Geometry, srcSRID, geo.StorageSRID)
		if err != nil {
			return err
		}

		id := raw.ID
		autoID := false
		if id == "" {
			id = AutoIdentity(version.FileRef, raw.Index)
			autoID = true
		}
		if _, dup := set[id]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate identity %q; the last occurrence wins", id))
		}

		attrs := roads.Attributes(raw.Properties)
		set[id] = ImportFeature{
			ID:         id,
			AutoID:     autoID,
			Geometry:   geometry,
			Bbox:       geo.BboxFromBound(geometry.Bound()),
			Ward:       attrs.Ward(),
			DataSource: attrs.DataSource(),
			Attributes: attrs,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return set, warnings, nil
}

// AutoIdentity returns the deterministic identity assigned to a
// feature that carries none: stable for a given (fileRef, index) so
// re-validation and publish agree.
func AutoIdentity(fileRef blobstore.Ref, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", fileRef, index)))
	return "auto-" + hex.EncodeToString(sum[:8])
}

// StreamCurrent produces the "current" set for classification.
type StreamCurrent func(ctx context.Context, fn func(roads.Road) error) error

// Options select the classification semantics.
type Options struct {
	Scope             roads.Scope
	RegionalRefresh   bool
	ComparisonMode    importer.ComparisonMode
	SourceExportID    string
	DefaultDataSource string
}

// Result is a classified diff: the API-facing DiffResult plus the
// feature-level material the publisher applies.
type Result struct {
	Diff importer.DiffResult

	Added   []roads.Road
	Updated []roads.Update
	// DeactivatedRoads are the candidates from keys(current)∖keys(import).
	// The publisher applies them only under regional refresh.
	DeactivatedRoads []roads.Road
}

// Change assembles the applied change set honoring the regional
// refresh flag: incremental mode never removes.
func (r *Result) Change(regionalRefresh bool) roads.Change {
	change := roads.Change{Added: r.Added, Updated: r.Updated}
	if regionalRefresh {
		for _, road := range r.DeactivatedRoads {
			change.Deactivated = append(change.Deactivated, road.ID)
		}
	}
	return change
}

// Classify joins the import set against the streamed current set.
// Every identity in either set lands in exactly one class.
func (d *Differ) Classify(ctx context.Context, opts Options, importSet map[string]ImportFeature, warnings []string, current StreamCurrent) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	result := &Result{
		Diff: importer.DiffResult{
			Scope:                  opts.Scope.String(),
			RegionalRefresh:        opts.RegionalRefresh,
			ComparisonMode:         opts.ComparisonMode,
			SourceExportID:         opts.SourceExportID,
			Added:                  []importer.DiffFeature{},
			Updated:                []importer.DiffFeature{},
			Deactivated:            []importer.RemovedFeature{},
			DeactivatedPreviewOnly: !opts.RegionalRefresh,
			Warnings:               warnings,
		},
	}

	matched := make(map[string]struct{}, len(importSet))
	scopeCurrentCount := 0

	err = current(ctx, func(road roads.Road) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		scopeCurrentCount++

		feature, inImport := importSet[road.ID]
		if !inImport {
			// deactivated candidate; in incremental mode this is
			// preview visibility only
			result.DeactivatedRoads = append(result.DeactivatedRoads, road)
			result.Diff.Deactivated = append(result.Diff.Deactivated, importer.RemovedFeature{
				ID:       road.ID,
				Geometry: geometryOf(road.Geometry),
			})
			return nil
		}
		matched[road.ID] = struct{}{}

		if d.equivalent(feature, road, opts.DefaultDataSource) {
			result.Diff.Unchanged++
			return nil
		}

		update := roads.Update{
			Road:             feature.Road(opts.DefaultDataSource),
			PriorFingerprint: Fingerprint(road),
		}
		result.Updated = append(result.Updated, update)
		result.Diff.Updated = append(result.Diff.Updated, diffFeature(feature, update.PriorFingerprint))
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	for id, feature := range importSet {
		if _, ok := matched[id]; ok {
			continue
		}
		result.Added = append(result.Added, feature.Road(opts.DefaultDataSource))
		result.Diff.Added = append(result.Diff.Added, diffFeature(feature, ""))
	}

	result.Diff.Stats = importer.DiffStats{
		ScopeCurrentCount: scopeCurrentCount,
		ImportCount:       len(importSet),
		AddedCount:        len(result.Diff.Added),
		UpdatedCount:      len(result.Diff.Updated),
		DeactivatedCount:  len(result.Diff.Deactivated),
	}

	mon.IntVal("diff_added").Observe(int64(result.Diff.Stats.AddedCount))
	mon.IntVal("diff_updated").Observe(int64(result.Diff.Stats.UpdatedCount))
	mon.IntVal("diff_deactivated").Observe(int64(result.Diff.Stats.DeactivatedCount))

	return result, nil
}

// equivalent applies the unchanged test: geometry equality under the
// tolerance, recognized-attribute equality, and dataSource with
// absence meaning the version default.
func (d *Differ) equivalent(feature ImportFeature, road roads.Road, defaultDataSource string) bool {
	if !geo.GeometriesEqual(feature.Geometry, road.Geometry, d.config.Epsilon) {
		return false
	}
	featureDS := feature.DataSource
	if featureDS == "" {
		featureDS = defaultDataSource
	}
	if featureDS != road.DataSource {
		return false
	}
	return feature.Attributes.EqualRecognized(road.Attributes)
}

// Fingerprint hashes a road's canonical snapshot record. Stored on
// updated features so the historical diff pins the replaced state.
func Fingerprint(road roads.Road) string {
	data, err := json.Marshal(roads.SnapshotRecordOf(road))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func diffFeature(feature ImportFeature, priorFingerprint string) importer.DiffFeature {
	return importer.DiffFeature{
		ID:               feature.ID,
		Geometry:         geometryOf(feature.Geometry),
		Ward:             feature.Ward,
		DataSource:       feature.DataSource,
		Attributes:       feature.Attributes,
		PriorFingerprint: priorFingerprint,
	}
}

func geometryOf(g orb.Geometry) *geojson.Geometry {
	if g == nil {
		return nil
	}
	return geojson.NewGeometry(g)
}
