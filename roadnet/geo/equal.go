// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// DefaultEpsilon is the per-ordinate tolerance, in storage SRID units
// (degrees), used when comparing geometries across versions.
const DefaultEpsilon = 1e-9

// GeometriesEqual reports whether a and b describe the same shape:
// identical geometry types, identical structure, and every ordinate
// within epsilon.
func GeometriesEqual(a, b orb.Geometry, epsilon float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.GeoJSONType() != b.GeoJSONType() {
		return false
	}
	switch ag := a.(type) {
	case orb.Point:
		return pointsEqual(ag, b.(orb.Point), epsilon)
	case orb.MultiPoint:
		return pointSlicesEqual(ag, b.(orb.MultiPoint), epsilon)
	case orb.LineString:
		return pointSlicesEqual(ag, b.(orb.LineString), epsilon)
	case orb.MultiLineString:
		bg := b.(orb.MultiLineString)
		if len(ag) != len(bg) {
			return false
		}
		for i := range ag {
			if !pointSlicesEqual(ag[i], bg[i], epsilon) {
				return false
			}
		}
		return true
	case orb.Ring:
		return pointSlicesEqual(ag, b.(orb.Ring), epsilon)
	case orb.Polygon:
		bg := b.(orb.Polygon)
		if len(ag) != len(bg) {
			return false
		}
		for i := range ag {
			if !pointSlicesEqual(ag[i], bg[i], epsilon) {
				return false
			}
		}
		return true
	case orb.MultiPolygon:
		bg := b.(orb.MultiPolygon)
		if len(ag) != len(bg) {
			return false
		}
		for i := range ag {
			if !GeometriesEqual(ag[i], bg[i], epsilon) {
				return false
			}
		}
		return true
	case orb.Collection:
		bg := b.(orb.Collection)
		if len(ag) != len(bg) {
			return false
		}
		for i := range ag {
			if !GeometriesEqual(ag[i], bg[i], epsilon) {
				return false
			}
		}
		return true
	case orb.Bound:
		bg := b.(orb.Bound)
		return pointsEqual(ag.Min, bg.Min, epsilon) && pointsEqual(ag.Max, bg.Max, epsilon)
	}
	return false
}

func pointsEqual(a, b orb.Point, epsilon float64) bool {
	return math.Abs(a[0]-b[0]) <= epsilon && math.Abs(a[1]-b[1]) <= epsilon
}

func pointSlicesEqual[T ~[]orb.Point](a, b T, epsilon float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !pointsEqual(a[i], b[i], epsilon) {
			return false
		}
	}
	return true
}
