// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package georead

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/paulmach/orb/geojson"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/geo"
)

func (r *Reader) probeGeoJSON(ctx context.Context, fileRef blobstore.Ref) (ProbeResult, error) {
	result := ProbeResult{}
	err := r.streamGeoJSON(ctx, fileRef, func(feature RawFeature) error {
		result.FeatureCount++
		if feature.Geometry != nil {
			result.Bbox = result.Bbox.Extend(geo.BboxFromBound(feature.Geometry.Bound()))
			result.HasBbox = true
		}
		return nil
	})
	if err != nil {
		return ProbeResult{}, err
	}
	return result, nil
}

// streamGeoJSON walks the features array of a FeatureCollection with a
// token decoder, so the file is never held in memory whole.
func (r *Reader) streamGeoJSON(ctx context.Context, fileRef blobstore.Ref, fn func(RawFeature) error) error {
	blob, err := r.blobs.Open(ctx, fileRef)
	if err != nil {
		return err
	}
	defer func() { _ = blob.Close() }()

	dec := json.NewDecoder(bufio.NewReader(blob))

	if err := expectDelim(dec, '{'); err != nil {
		return ErrInvalidFile.New("not a GeoJSON object: %v", err)
	}

	sawFeatures := false
	for dec.More() {
		keyToken, err := dec.Token()
		if err != nil {
			return ErrInvalidFile.Wrap(err)
		}
		key, ok := keyToken.(string)
		if !ok {
			return ErrInvalidFile.New("malformed object key")
		}
		if key != "features" {
			// skip the value of type, name, crs, bbox, ...
			var skipped json.RawMessage
			if err := dec.Decode(&skipped); err != nil {
				return ErrInvalidFile.Wrap(err)
			}
			continue
		}

		sawFeatures = true
		if err := expectDelim(dec, '['); err != nil {
			return ErrInvalidFile.New("features is not an array: %v", err)
		}
		index := 0
		for dec.More() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return ErrInvalidFile.Wrap(err)
			}
			feature, err := geojson.UnmarshalFeature(raw)
			if err != nil {
				return ErrCorruptedGeometry.New("feature %d: %v", index, err)
			}
			rawFeature := RawFeature{
				Index:      index,
				ID:         resolveIdentity(feature.ID, feature.Properties),
				Geometry:   feature.Geometry,
				Properties: feature.Properties,
			}
			if err := fn(rawFeature); err != nil {
				return err
			}
			index++
		}
		if err := expectDelim(dec, ']'); err != nil {
			return ErrInvalidFile.Wrap(err)
		}
	}
	if !sawFeatures {
		return ErrInvalidFile.New("missing features array")
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	token, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return ErrInvalidFile.New("unexpected end of file")
		}
		return err
	}
	delim, ok := token.(json.Delim)
	if !ok || delim != want {
		return ErrInvalidFile.New("expected %q, got %v", want, token)
	}
	return nil
}
