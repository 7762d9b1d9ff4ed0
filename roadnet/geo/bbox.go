// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package geo implements the coordinate model shared by the import
// pipeline: bounding boxes, the enumerated coordinate reference
// systems, transformations into the storage SRID and geometry
// comparison under tolerance.
package geo

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/zeebo/errs"
)

// Error is the default geo errors class.
var Error = errs.Class("geo")

// Bbox is an axis-aligned bounding box in lon/lat order.
type Bbox struct {
	MinLng float64
	MinLat float64
	MaxLng float64
	MaxLat float64
}

// BboxFromBound converts an orb.Bound.
func BboxFromBound(b orb.Bound) Bbox {
	return Bbox{
		MinLng: b.Min[0],
		MinLat: b.Min[1],
		MaxLng: b.Max[0],
		MaxLat: b.Max[1],
	}
}

// ParseBbox parses "minLng,minLat,maxLng,maxLat" with no whitespace.
func ParseBbox(s string) (Bbox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bbox{}, Error.New("bbox must have 4 ordinates: %q", s)
	}
	var ords [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return Bbox{}, Error.New("bbox ordinate %d invalid: %q", i, part)
		}
		ords[i] = v
	}
	box := Bbox{MinLng: ords[0], MinLat: ords[1], MaxLng: ords[2], MaxLat: ords[3]}
	if box.MinLng > box.MaxLng || box.MinLat > box.MaxLat {
		return Bbox{}, Error.New("bbox min exceeds max: %q", s)
	}
	return box, nil
}

// String formats the box using the wire grammar, decimal degrees with
// '.' separator and ',' delimiter.
func (b Bbox) String() string {
	ords := []float64{b.MinLng, b.MinLat, b.MaxLng, b.MaxLat}
	parts := make([]string, len(ords))
	for i, v := range ords {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// IsZero reports whether the box is the zero value.
func (b Bbox) IsZero() bool {
	return b == Bbox{}
}

// Intersects reports whether the boxes share any point.
func (b Bbox) Intersects(o Bbox) bool {
	return b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// Extend returns the smallest box covering both.
func (b Bbox) Extend(o Bbox) Bbox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	return Bbox{
		MinLng: min(b.MinLng, o.MinLng),
		MinLat: min(b.MinLat, o.MinLat),
		MaxLng: max(b.MaxLng, o.MaxLng),
		MaxLat: max(b.MaxLat, o.MaxLat),
	}
}

// Bound converts to an orb.Bound.
func (b Bbox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLng, b.MinLat},
		Max: orb.Point{b.MaxLng, b.MaxLat},
	}
}
