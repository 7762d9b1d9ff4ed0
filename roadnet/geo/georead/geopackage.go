// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package georead

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite driver for reading GeoPackage files

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/geo"
)

// gpkgLayer is a row of gpkg_contents joined with gpkg_geometry_columns.
type gpkgLayer struct {
	TableName    string   `db:"table_name"`
	Identifier   string   `db:"identifier"`
	GeometryCol  string   `db:"column_name"`
	GeometryType string   `db:"geometry_type_name"`
	MinX         *float64 `db:"min_x"`
	MinY         *float64 `db:"min_y"`
	MaxX         *float64 `db:"max_x"`
	MaxY         *float64 `db:"max_y"`
}

func (r *Reader) probeGeoPackage(ctx context.Context, fileRef blobstore.Ref) (ProbeResult, error) {
	return withGeoPackage(ctx, r.blobs, fileRef, func(db *sqlx.DB) (ProbeResult, error) {
		layers, err := readLayers(ctx, db)
		if err != nil {
			return ProbeResult{}, err
		}

		result := ProbeResult{}
		for _, layer := range layers {
			count := 0
			err := db.GetContext(ctx, &count, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, layer.TableName))
			if err != nil {
				return ProbeResult{}, ErrInvalidFile.New("counting %q: %v", layer.TableName, err)
			}
			result.Layers = append(result.Layers, LayerInfo{
				Name:         layer.TableName,
				FeatureCount: count,
				GeometryType: layer.GeometryType,
			})
			result.FeatureCount += count
			if layer.MinX != nil && layer.MinY != nil && layer.MaxX != nil && layer.MaxY != nil {
				result.Bbox = result.Bbox.Extend(geo.Bbox{
					MinLng: *layer.MinX, MinLat: *layer.MinY,
					MaxLng: *layer.MaxX, MaxLat: *layer.MaxY,
				})
				result.HasBbox = true
			}
		}
		if len(result.Layers) == 0 {
			return ProbeResult{}, ErrInvalidFile.New("geopackage contains no feature tables")
		}
		return result, nil
	})
}

func (r *Reader) streamGeoPackage(ctx context.Context, fileRef blobstore.Ref, layerName string, fn func(RawFeature) error) error {
	_, err := withGeoPackage(ctx, r.blobs, fileRef, func(db *sqlx.DB) (struct{}, error) {
		layers, err := readLayers(ctx, db)
		if err != nil {
			return struct{}{}, err
		}

		var layer *gpkgLayer
		switch {
		case layerName != "":
			for i := range layers {
				if layers[i].TableName == layerName {
					layer = &layers[i]
					break
				}
			}
			if layer == nil {
				return struct{}{}, ErrLayerNotFound.New("%q", layerName)
			}
		case len(layers) == 1:
			// single layer auto-selects
			layer = &layers[0]
		default:
			return struct{}{}, ErrLayerNotFound.New("layer not configured and %d layers present", len(layers))
		}

		rows, err := db.QueryxContext(ctx, fmt.Sprintf(`SELECT * FROM %q`, layer.TableName))
		if err != nil {
			return struct{}{}, ErrInvalidFile.New("reading %q: %v", layer.TableName, err)
		}
		defer func() { _ = rows.Close() }()

		index := 0
		for rows.Next() {
			if err := ctx.Err(); err != nil {
				return struct{}{}, err
			}
			row := map[string]interface{}{}
			if err := rows.MapScan(row); err != nil {
				return struct{}{}, ErrInvalidFile.New("feature %d: %v", index, err)
			}
			feature, err := rowToFeature(index, row, layer.GeometryCol)
			if err != nil {
				return struct{}{}, err
			}
			if err := fn(feature); err != nil {
				return struct{}{}, err
			}
			index++
		}
		return struct{}{}, ErrInvalidFile.Wrap(rows.Err())
	})
	return err
}

func rowToFeature(index int, row map[string]interface{}, geometryCol string) (RawFeature, error) {
	feature := RawFeature{Index: index, Properties: map[string]interface{}{}}

	for column, value := range row {
		if column == geometryCol {
			continue
		}
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		feature.Properties[column] = value
	}

	blob, _ := row[geometryCol].([]byte)
	if len(blob) > 0 {
		decoded, err := gpkg.DecodeGeometry(blob)
		if err != nil {
			return RawFeature{}, ErrCorruptedGeometry.New("feature %d: %v", index, err)
		}
		geometry, err := orbGeometry(decoded.Geometry)
		if err != nil {
			return RawFeature{}, ErrCorruptedGeometry.New("feature %d: %v", index, err)
		}
		feature.Geometry = geometry
	}

	feature.ID = resolveIdentity(nil, feature.Properties)
	return feature, nil
}

func readLayers(ctx context.Context, db *sqlx.DB) ([]gpkgLayer, error) {
	var layers []gpkgLayer
	err := db.SelectContext(ctx, &layers, `
		SELECT c.table_name, c.identifier, c.min_x, c.min_y, c.max_x, c.max_y,
		       g.column_name, g.geometry_type_name
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name`)
	if err != nil {
		return nil, ErrInvalidFile.New("not a geopackage: %v", err)
	}
	return layers, nil
}

// withGeoPackage materializes the blob to a temporary sqlite file,
// opens it read-only and guarantees both are released on all exit
// paths.
func withGeoPackage[T any](ctx context.Context, blobs blobstore.Store, fileRef blobstore.Ref, fn func(*sqlx.DB) (T, error)) (result T, err error) {
	blob, err := blobs.Open(ctx, fileRef)
	if err != nil {
		return result, err
	}
	defer func() { _ = blob.Close() }()

	tmp, err := os.CreateTemp("", "roadnet-gpkg-*.gpkg")
	if err != nil {
		return result, ErrInvalidFile.Wrap(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, err = io.Copy(tmp, blob)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		return result, ErrInvalidFile.New("materializing geopackage: %v", firstErr(err, closeErr))
	}

	db, err := sqlx.Open("sqlite3", "file:"+tmp.Name()+"?mode=ro")
	if err != nil {
		return result, ErrInvalidFile.Wrap(err)
	}
	defer func() { _ = db.Close() }()

	return fn(db)
}

func firstErr(errors ...error) error {
	for _, err := range errors {
		if err != nil {
			return err
		}
	}
	return nil
}
