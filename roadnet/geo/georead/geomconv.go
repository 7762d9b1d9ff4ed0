// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package georead

import (
	"github.com/go-spatial/geom"
	"github.com/paulmach/orb"
)

// orbGeometry converts a go-spatial geometry, as decoded from a
// GeoPackage binary blob, into the orb model used everywhere else.
func orbGeometry(g geom.Geometry) (orb.Geometry, error) {
	switch gg := g.(type) {
	case geom.Point:
		return orb.Point(gg), nil
	case *geom.Point:
		return orb.Point(*gg), nil
	case geom.MultiPoint:
		return orb.MultiPoint(points(gg)), nil
	case *geom.MultiPoint:
		return orb.MultiPoint(points(*gg)), nil
	case geom.LineString:
		return orb.LineString(points(gg)), nil
	case *geom.LineString:
		return orb.LineString(points(*gg)), nil
	case geom.MultiLineString:
		return orb.MultiLineString(lines(gg)), nil
	case *geom.MultiLineString:
		return orb.MultiLineString(lines(*gg)), nil
	case geom.Polygon:
		return orb.Polygon(rings(gg)), nil
	case *geom.Polygon:
		return orb.Polygon(rings(*gg)), nil
	case geom.MultiPolygon:
		polys := make(orb.MultiPolygon, 0, len(gg))
		for _, p := range gg {
			polys = append(polys, orb.Polygon(rings(p)))
		}
		return polys, nil
	case *geom.MultiPolygon:
		return orbGeometry(geom.MultiPolygon(*gg))
	case geom.Collection:
		collection := make(orb.Collection, 0, len(gg))
		for _, member := range gg {
			converted, err := orbGeometry(member)
			if err != nil {
				return nil, err
			}
			collection = append(collection, converted)
		}
		return collection, nil
	case nil:
		return nil, nil
	}
	return nil, ErrCorruptedGeometry.New("unsupported geometry type %T", g)
}

func points[T ~[][2]float64](coords T) []orb.Point {
	out := make([]orb.Point, len(coords))
	for i, c := range coords {
		out[i] = orb.Point(c)
	}
	return out
}

func lines[T ~[][][2]float64](coords T) []orb.LineString {
	out := make([]orb.LineString, len(coords))
	for i, line := range coords {
		out[i] = orb.LineString(points(line))
	}
	return out
}

func rings[T ~[][][2]float64](coords T) []orb.Ring {
	out := make([]orb.Ring, len(coords))
	for i, ring := range coords {
		out[i] = orb.Ring(points(ring))
	}
	return out
}
