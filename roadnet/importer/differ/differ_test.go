// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package differ_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/blobstore/filestore"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/importer/differ"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

func newDiffer(t *testing.T, ctx *testcontext.Context) (*differ.Differ, blobstore.Store) {
	log := zaptest.NewLogger(t)
	blobs, err := filestore.New(log, filestore.Config{Dir: ctx.Dir("blobs")})
	require.NoError(t, err)
	return differ.New(log, georead.NewReader(blobs), blobs, differ.Config{}), blobs
}

func uploadGeoJSON(t *testing.T, ctx *testcontext.Context, blobs blobstore.Store, features ...string) blobstore.Ref {
	var buf bytes.Buffer
	buf.WriteString(`{"type": "FeatureCollection", "features": [`)
	for i, f := range features {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(f)
	}
	buf.WriteString(`]}`)
	ref, err := blobs.Put(ctx, blobstore.KindUpload, &buf)
	require.NoError(t, err)
	return ref
}

func lineFeature(id string, lng, lat float64, props string) string {
	return fmt.Sprintf(`{"type": "Feature", "id": %q,
		"geometry": {"type": "LineString", "coordinates": [[%f, %f], [%f, %f]]},
		"properties": {%s}}`, id, lng, lat, lng+0.01, lat+0.01, props)
}

func currentOf(current ...roads.Road) differ.StreamCurrent {
	return func(ctx context.Context, fn func(roads.Road) error) error {
		for _, road := range current {
			if err := fn(road); err != nil {
				return err
			}
		}
		return nil
	}
}

func activeRoad(id string, lng, lat float64, dataSource string) roads.Road {
	return roads.Road{
		ID:         id,
		Geometry:   orb.LineString{{lng, lat}, {lng + 0.01, lat + 0.01}},
		DataSource: dataSource,
		Status:     roads.StatusActive,
	}
}

func TestLoadImportSet(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	d, blobs := newDiffer(t, ctx)

	ref := uploadGeoJSON(t, ctx, blobs,
		lineFeature("r1", 139.70, 35.60, `"name": "Main St", "dataSource": "manual", "ward": "chuo"`),
		lineFeature("r1", 139.80, 35.70, ``), // duplicate identity
		`{"type": "Feature", "geometry": null, "properties": {"id": "r3"}}`,
		`{"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[139.9, 35.9], [139.91, 35.91]]}, "properties": {}}`,
	)
	version := &importer.ImportVersion{
		FileRef:  ref,
		FileType: georead.FileTypeGeoJSON,
	}

	set, warnings, err := d.LoadImportSet(ctx, version)
	require.NoError(t, err)
	require.Len(t, set, 2, "duplicate collapsed, geometry-less skipped")
	require.Len(t, warnings, 2)

	r1 := set["r1"]
	require.Equal(t, orb.LineString{{139.80, 35.70}, {139.81, 35.71}}, r1.Geometry, "last duplicate wins")
	require.False(t, r1.AutoID)

	auto := differ.AutoIdentity(ref, 3)
	generated, ok := set[auto]
	require.True(t, ok, "identity-less features get a deterministic auto id")
	require.True(t, generated.AutoID)
}

func TestLoadImportSetTransforms(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	d, blobs := newDiffer(t, ctx)

	// plane coordinates near the zone IX origin
	ref := uploadGeoJSON(t, ctx, blobs,
		`{"type": "Feature", "id": "r1",
		  "geometry": {"type": "LineString", "coordinates": [[0, 0], [100, 100]]},
		  "properties": {}}`,
	)
	version := &importer.ImportVersion{
		FileRef:   ref,
		FileType:  georead.FileTypeGeoJSON,
		SourceCRS: "EPSG:6677",
	}

	set, _, err := d.LoadImportSet(ctx, version)
	require.NoError(t, err)
	line := set["r1"].Geometry.(orb.LineString)
	require.InDelta(t, 139.0+50.0/60.0, line[0][0], 1e-6, "zone IX origin longitude")
	require.InDelta(t, 36.0, line[0][1], 1e-6, "zone IX origin latitude")
}

func TestAutoIdentityDeterministic(t *testing.T) {
	a := differ.AutoIdentity("upload/abc", 7)
	require.Equal(t, a, differ.AutoIdentity("upload/abc", 7))
	require.NotEqual(t, a, differ.AutoIdentity("upload/abc", 8))
	require.NotEqual(t, a, differ.AutoIdentity("upload/def", 7))
}

func TestClassify(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	d, blobs := newDiffer(t, ctx)

	ref := uploadGeoJSON(t, ctx, blobs,
		lineFeature("unchanged", 139.70, 35.60, `"dataSource": "manual"`),
		lineFeature("moved", 139.80, 35.70, `"dataSource": "manual"`),
		lineFeature("new", 139.90, 35.80, `"dataSource": "manual"`),
	)
	set, warnings, err := d.LoadImportSet(ctx, &importer.ImportVersion{
		FileRef: ref, FileType: georead.FileTypeGeoJSON,
	})
	require.NoError(t, err)
	require.Empty(t, warnings)

	current := currentOf(
		activeRoad("unchanged", 139.70, 35.60, "manual"),
		activeRoad("moved", 139.85, 35.75, "manual"), // different geometry
		activeRoad("gone", 139.60, 35.50, "manual"),  // absent from the import
	)

	result, err := d.Classify(ctx, differ.Options{
		Scope:          roads.FullScope,
		ComparisonMode: importer.CompareBbox,
	}, set, warnings, current)
	require.NoError(t, err)

	diff := result.Diff
	require.Equal(t, 1, diff.Unchanged)
	require.Len(t, diff.Added, 1)
	require.Equal(t, "new", diff.Added[0].ID)
	require.Len(t, diff.Updated, 1)
	require.Equal(t, "moved", diff.Updated[0].ID)
	require.NotEmpty(t, diff.Updated[0].PriorFingerprint)
	require.Len(t, diff.Deactivated, 1)
	require.Equal(t, "gone", diff.Deactivated[0].ID)
	require.True(t, diff.DeactivatedPreviewOnly, "incremental mode shows removals without applying them")

	require.Equal(t, importer.DiffStats{
		ScopeCurrentCount: 3,
		ImportCount:       3,
		AddedCount:        1,
		UpdatedCount:      1,
		DeactivatedCount:  1,
	}, diff.Stats)

	// every identity lands in exactly one class
	total := diff.Stats.AddedCount + diff.Stats.UpdatedCount + diff.Unchanged
	require.Equal(t, diff.Stats.ImportCount, total)

	// incremental change never removes
	change := result.Change(false)
	require.Empty(t, change.Deactivated)
	require.Len(t, change.Added, 1)
	require.Len(t, change.Updated, 1)

	// regional refresh does
	change = result.Change(true)
	require.Equal(t, []string{"gone"}, change.Deactivated)
}

func TestClassifyDataSourceDefault(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	d, blobs := newDiffer(t, ctx)

	// no dataSource on the feature; the version default should make it
	// equivalent to an active row carrying that default
	ref := uploadGeoJSON(t, ctx, blobs, lineFeature("r1", 139.70, 35.60, ``))
	set, warnings, err := d.LoadImportSet(ctx, &importer.ImportVersion{
		FileRef: ref, FileType: georead.FileTypeGeoJSON,
	})
	require.NoError(t, err)

	result, err := d.Classify(ctx, differ.Options{
		Scope:             roads.FullScope,
		DefaultDataSource: "official_ledger",
	}, set, warnings, currentOf(activeRoad("r1", 139.70, 35.60, "official_ledger")))
	require.NoError(t, err)
	require.Equal(t, 1, result.Diff.Unchanged)

	// a different default makes the same feature an update
	result, err = d.Classify(ctx, differ.Options{
		Scope:             roads.FullScope,
		DefaultDataSource: "manual",
	}, set, warnings, currentOf(activeRoad("r1", 139.70, 35.60, "official_ledger")))
	require.NoError(t, err)
	require.Len(t, result.Diff.Updated, 1)
	require.Equal(t, "manual", result.Updated[0].Road.DataSource)
}

func TestClassifyGeometryTolerance(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	d, blobs := newDiffer(t, ctx)

	ref := uploadGeoJSON(t, ctx, blobs, lineFeature("r1", 139.70, 35.60, `"dataSource": "manual"`))
	set, warnings, err := d.LoadImportSet(ctx, &importer.ImportVersion{
		FileRef: ref, FileType: georead.FileTypeGeoJSON,
	})
	require.NoError(t, err)

	// a sub-tolerance wiggle is unchanged
	within := activeRoad("r1", 139.70, 35.60, "manual")
	line := within.Geometry.(orb.LineString)
	line[0][0] += 1e-12
	result, err := d.Classify(ctx, differ.Options{Scope: roads.FullScope}, set, warnings, currentOf(within))
	require.NoError(t, err)
	require.Equal(t, 1, result.Diff.Unchanged)

	beyond := activeRoad("r1", 139.70, 35.60, "manual")
	line = beyond.Geometry.(orb.LineString)
	line[0][0] += 1e-6
	result, err = d.Classify(ctx, differ.Options{Scope: roads.FullScope}, set, warnings, currentOf(beyond))
	require.NoError(t, err)
	require.Len(t, result.Diff.Updated, 1)
}

func TestFingerprintStable(t *testing.T) {
	road := activeRoad("r1", 139.70, 35.60, "manual")
	require.Equal(t, differ.Fingerprint(road), differ.Fingerprint(road))

	other := activeRoad("r1", 139.80, 35.70, "manual")
	require.NotEqual(t, differ.Fingerprint(road), differ.Fingerprint(other))
}
