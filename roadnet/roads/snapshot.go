// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roads

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/paulmach/orb/geojson"

	"github.com/opencouncil/roadnet/roadnet/geo"
)

// SnapshotRecord is the canonical serialized form of one active road:
// identity, geometry in the storage SRID, ward tag and the attribute
// bag. Snapshots are JSON lines ordered by road identity, which makes
// the byte stream deterministic for content addressing.
type SnapshotRecord struct {
	ID         string            `json:"id"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Ward       string            `json:"ward,omitempty"`
	DataSource string            `json:"dataSource,omitempty"`
	Attributes Attributes        `json:"attributes,omitempty"`
}

// Road converts the record back into an active road.
func (rec SnapshotRecord) Road() Road {
	road := Road{
		ID:         rec.ID,
		Ward:       rec.Ward,
		DataSource: rec.DataSource,
		Attributes: rec.Attributes,
		Status:     StatusActive,
	}
	if rec.Geometry != nil {
		road.Geometry = rec.Geometry.Geometry()
		road.Bbox = geo.BboxFromBound(road.Geometry.Bound())
	}
	return road
}

// SnapshotRecordOf builds the canonical record for a road.
func SnapshotRecordOf(road Road) SnapshotRecord {
	rec := SnapshotRecord{
		ID:         road.ID,
		Ward:       road.Ward,
		DataSource: road.DataSource,
		Attributes: road.Attributes,
	}
	if road.Geometry != nil {
		rec.Geometry = geojson.NewGeometry(road.Geometry)
	}
	return rec
}

// SnapshotWriter writes snapshot records as JSON lines.
type SnapshotWriter struct {
	w     *bufio.Writer
	enc   *json.Encoder
	count int
}

// NewSnapshotWriter wraps w.
func NewSnapshotWriter(w io.Writer) *SnapshotWriter {
	bw := bufio.NewWriter(w)
	return &SnapshotWriter{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends one record.
func (sw *SnapshotWriter) Write(rec SnapshotRecord) error {
	if err := sw.enc.Encode(rec); err != nil {
		return Error.Wrap(err)
	}
	sw.count++
	return nil
}

// Count returns the number of records written so far.
func (sw *SnapshotWriter) Count() int { return sw.count }

// Flush flushes buffered output.
func (sw *SnapshotWriter) Flush() error {
	return Error.Wrap(sw.w.Flush())
}

// StreamSnapshot decodes snapshot records from r, invoking fn per
// record. It stops on the first fn error.
func StreamSnapshot(ctx context.Context, r io.Reader, fn func(SnapshotRecord) error) error {
	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		if err := ctx.Err(); err != nil {
			return Error.Wrap(err)
		}
		var rec SnapshotRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return nil
			}
			return Error.Wrap(err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
