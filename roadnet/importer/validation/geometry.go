// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package validation

import "github.com/paulmach/orb"

// validGeometry applies the structural validity test: non-empty, and
// line work with at least two distinct coordinates. Topological repair
// is out of scope.
func validGeometry(g orb.Geometry) bool {
	switch gg := g.(type) {
	case orb.Point:
		return true
	case orb.MultiPoint:
		return len(gg) > 0
	case orb.LineString:
		return validLine(gg)
	case orb.MultiLineString:
		if len(gg) == 0 {
			return false
		}
		for _, line := range gg {
			if !validLine(line) {
				return false
			}
		}
		return true
	case orb.Ring:
		return len(gg) >= 4
	case orb.Polygon:
		if len(gg) == 0 {
			return false
		}
		for _, ring := range gg {
			if len(ring) < 4 {
				return false
			}
		}
		return true
	case orb.MultiPolygon:
		if len(gg) == 0 {
			return false
		}
		for _, poly := range gg {
			if !validGeometry(poly) {
				return false
			}
		}
		return true
	case orb.Collection:
		if len(gg) == 0 {
			return false
		}
		for _, member := range gg {
			if !validGeometry(member) {
				return false
			}
		}
		return true
	}
	return false
}

func validLine(line orb.LineString) bool {
	if len(line) < 2 {
		return false
	}
	for i := 1; i < len(line); i++ {
		if line[i] != line[0] {
			return true
		}
	}
	return false
}
