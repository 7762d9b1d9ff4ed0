// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package georead parses uploaded geospatial files. It probes layer
// metadata and streams features lazily so large files never load into
// memory at once. Streams are finite, forward-only and restartable by
// reopening the same blob ref.
package georead

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/geo"
)

var (
	// ErrInvalidFile means the file could not be parsed at all.
	ErrInvalidFile = errs.Class("invalid file")
	// ErrUnsupportedFormat means the file type is not geojson or geopackage.
	ErrUnsupportedFormat = errs.Class("unsupported format")
	// ErrCorruptedGeometry means a single feature carried an
	// undecodable geometry; the feature index is part of the message.
	ErrCorruptedGeometry = errs.Class("corrupted geometry")
	// ErrLayerNotFound means the configured layer is absent.
	ErrLayerNotFound = errs.Class("layer not found")

	mon = monkit.Package()
)

// FileType discriminates supported upload formats.
type FileType string

// Supported file types.
const (
	FileTypeGeoJSON    FileType = "geojson"
	FileTypeGeoPackage FileType = "geopackage"
)

// DetectFileType maps an upload file name to its type.
func DetectFileType(fileName string) (FileType, error) {
	switch strings.ToLower(strings.TrimPrefix(ext(fileName), ".")) {
	case "geojson", "json":
		return FileTypeGeoJSON, nil
	case "gpkg":
		return FileTypeGeoPackage, nil
	}
	return "", ErrUnsupportedFormat.New("%q", fileName)
}

func ext(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

// LayerInfo describes one layer of a GeoPackage.
type LayerInfo struct {
	Name         string `json:"name"`
	FeatureCount int    `json:"featureCount"`
	GeometryType string `json:"geometryType"`
}

// ProbeResult summarizes a file without materializing it.
type ProbeResult struct {
	FeatureCount int
	Bbox         geo.Bbox // in source CRS units; zero when unknown
	HasBbox      bool
	Layers       []LayerInfo // non-empty for GeoPackage, nil for GeoJSON
}

// RawFeature is one streamed feature, geometry still in the source CRS.
type RawFeature struct {
	Index      int
	ID         string // empty when no recognized identity field is present
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

// Reader probes and streams uploaded files out of the blob store.
type Reader struct {
	blobs blobstore.Store
}

// NewReader creates a Reader.
func NewReader(blobs blobstore.Store) *Reader {
	return &Reader{blobs: blobs}
}

// Probe inspects the file: feature count, bounding box when derivable,
// and the layer list for GeoPackage.
func (r *Reader) Probe(ctx context.Context, fileRef blobstore.Ref, fileType FileType) (_ ProbeResult, err error) {
	defer mon.Task()(&ctx)(&err)

	switch fileType {
	case FileTypeGeoJSON:
		return r.probeGeoJSON(ctx, fileRef)
	case FileTypeGeoPackage:
		return r.probeGeoPackage(ctx, fileRef)
	}
	return ProbeResult{}, ErrUnsupportedFormat.New("%q", fileType)
}

// Stream walks the features of a file, in file order, invoking fn per
// feature. layerName selects the GeoPackage layer and is ignored for
// GeoJSON, whose FeatureCollection is the only layer. A single bad
// feature fails the stream with its index attached.
func (r *Reader) Stream(ctx context.Context, fileRef blobstore.Ref, fileType FileType, layerName string, fn func(RawFeature) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	switch fileType {
	case FileTypeGeoJSON:
		return r.streamGeoJSON(ctx, fileRef, fn)
	case FileTypeGeoPackage:
		return r.streamGeoPackage(ctx, fileRef, layerName, fn)
	}
	return ErrUnsupportedFormat.New("%q", fileType)
}

// resolveIdentity applies the identity-field order: top-level id,
// properties.id, properties.feature_id; first present wins.
func resolveIdentity(topLevel interface{}, properties map[string]interface{}) string {
	if s := identityString(topLevel); s != "" {
		return s
	}
	if s := identityString(properties["id"]); s != "" {
		return s
	}
	return identityString(properties["feature_id"])
}

func identityString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%v", id)
	case int64:
		return fmt.Sprintf("%d", id)
	case int:
		return fmt.Sprintf("%d", id)
	default:
		return fmt.Sprintf("%v", id)
	}
}
