// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/zeebo/errs"
)

// ErrUnsupportedCRS is returned for coordinate systems outside the
// enumerated set.
var ErrUnsupportedCRS = errs.Class("unsupported crs")

// StorageSRID is the SRID every geometry is stored in. Coordinates are
// kept in lon/lat order; EPSG:4326's formal lat/lon axis order is
// deliberately ignored for interoperability with GeoJSON and the road
// store. See the axis order note on CRS.
const StorageSRID = 4326

// CRS is a recognized coordinate reference system.
//
// Axis order: regardless of the authority definition, coordinate pairs
// are interpreted as (easting, northing), i.e. lon/lat for geographic
// systems. This matches how GeoJSON and the common desktop tools write
// files and is a conscious compatibility choice.
type CRS struct {
	SRID int
	Name string
}

// Code returns the canonical "EPSG:nnnn" code.
func (c CRS) Code() string { return fmt.Sprintf("EPSG:%d", c.SRID) }

var crsRegistry = map[int]CRS{
	4326: {SRID: 4326, Name: "WGS 84"},
	3857: {SRID: 3857, Name: "Web Mercator"},
}

// jgdZoneOrigins holds latitude/longitude of origin for the JGD2011
// plane rectangular zones I..XIX (EPSG:6669..6687), in degrees.
var jgdZoneOrigins = map[int][2]float64{
	6669: {33, 129.5},
	6670: {33, 131},
	6671: {36, 132 + 10.0/60},
	6672: {33, 133.5},
	6673: {36, 134 + 20.0/60},
	6674: {36, 136},
	6675: {36, 137 + 10.0/60},
	6676: {36, 138.5},
	6677: {36, 139 + 50.0/60},
	6678: {40, 140 + 50.0/60},
	6679: {44, 140.25},
	6680: {44, 142.25},
	6681: {44, 144.25},
	6682: {26, 142},
	6683: {26, 127.5},
	6684: {26, 124},
	6685: {26, 131},
	6686: {20, 136},
	6687: {26, 154},
}

func init() {
	for srid := range jgdZoneOrigins {
		zone := srid - 6669 + 1
		crsRegistry[srid] = CRS{
			SRID: srid,
			Name: fmt.Sprintf("JGD2011 / Japan Plane Rectangular CS %d", zone),
		}
	}
}

// Lookup resolves a client-supplied CRS code to a recognized system.
// Accepted spellings: "EPSG:nnnn", bare "nnnn", "CRS84" and the OGC
// CRS84 urn (both aliases of EPSG:4326).
func Lookup(code string) (CRS, error) {
	trimmed := strings.TrimSpace(code)
	upper := strings.ToUpper(trimmed)
	switch upper {
	case "CRS84", "OGC:CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84":
		return crsRegistry[4326], nil
	}
	numeric := upper
	if strings.HasPrefix(upper, "EPSG:") {
		numeric = strings.TrimPrefix(upper, "EPSG:")
	}
	srid, err := strconv.Atoi(numeric)
	if err != nil {
		return CRS{}, ErrUnsupportedCRS.New("%q", code)
	}
	crs, ok := crsRegistry[srid]
	if !ok {
		return CRS{}, ErrUnsupportedCRS.New("%q", code)
	}
	return crs, nil
}

// LookupSRID resolves an SRID to a recognized system.
func LookupSRID(srid int) (CRS, error) {
	crs, ok := crsRegistry[srid]
	if !ok {
		return CRS{}, ErrUnsupportedCRS.New("EPSG:%d", srid)
	}
	return crs, nil
}

// pointTransform converts a single coordinate pair.
type pointTransform func(orb.Point) orb.Point

// toStorage returns the transform from srid into EPSG:4326.
func toStorage(srid int) (pointTransform, error) {
	switch {
	case srid == 4326:
		return func(p orb.Point) orb.Point { return p }, nil
	case srid == 3857:
		return pointTransform(project.Mercator.ToWGS84), nil
	default:
		origin, ok := jgdZoneOrigins[srid]
		if !ok {
			return nil, ErrUnsupportedCRS.New("EPSG:%d", srid)
		}
		return jgdInverse(origin[0], origin[1]), nil
	}
}

// fromStorage returns the transform from EPSG:4326 into srid.
func fromStorage(srid int) (pointTransform, error) {
	switch {
	case srid == 4326:
		return func(p orb.Point) orb.Point { return p }, nil
	case srid == 3857:
		return pointTransform(project.WGS84.ToMercator), nil
	default:
		origin, ok := jgdZoneOrigins[srid]
		if !ok {
			return nil, ErrUnsupportedCRS.New("EPSG:%d", srid)
		}
		return jgdForward(origin[0], origin[1]), nil
	}
}

func transform(srcSRID, dstSRID int) (pointTransform, error) {
	if srcSRID == dstSRID {
		return func(p orb.Point) orb.Point { return p }, nil
	}
	up, err := toStorage(srcSRID)
	if err != nil {
		return nil, err
	}
	down, err := fromStorage(dstSRID)
	if err != nil {
		return nil, err
	}
	return func(p orb.Point) orb.Point { return down(up(p)) }, nil
}

// TransformGeometry converts every coordinate of g from srcSRID to
// dstSRID. Identity when the SRIDs are equal.
func TransformGeometry(g orb.Geometry, srcSRID, dstSRID int) (orb.Geometry, error) {
	fn, err := transform(srcSRID, dstSRID)
	if err != nil {
		return nil, err
	}
	if srcSRID == dstSRID {
		return g, nil
	}
	return project.Geometry(orb.Clone(g), orb.Projection(fn)), nil
}

// TransformBbox converts a bounding box between SRIDs by transforming
// all four corners and re-normalizing.
func TransformBbox(b Bbox, srcSRID, dstSRID int) (Bbox, error) {
	fn, err := transform(srcSRID, dstSRID)
	if err != nil {
		return Bbox{}, err
	}
	if srcSRID == dstSRID {
		return b, nil
	}
	corners := []orb.Point{
		{b.MinLng, b.MinLat},
		{b.MinLng, b.MaxLat},
		{b.MaxLng, b.MinLat},
		{b.MaxLng, b.MaxLat},
	}
	out := Bbox{}
	for i, corner := range corners {
		p := fn(corner)
		if i == 0 {
			out = Bbox{MinLng: p[0], MinLat: p[1], MaxLng: p[0], MaxLat: p[1]}
			continue
		}
		out.MinLng = min(out.MinLng, p[0])
		out.MinLat = min(out.MinLat, p[1])
		out.MaxLng = max(out.MaxLng, p[0])
		out.MaxLat = max(out.MaxLat, p[1])
	}
	return out, nil
}
