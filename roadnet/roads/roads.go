// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package roads defines the active-roads asset model consumed and
// written by the import pipeline, the spatial scope grammar and the
// canonical snapshot serialization.
package roads

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/zeebo/errs"

	"github.com/opencouncil/roadnet/roadnet/geo"
)

// Error is the default roads errors class.
var Error = errs.Class("roads")

// Status of a road row.
type Status string

// Road statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Road is one row of the asset table. A road's identity (ID) is stable
// across publishes; the row's lifetime is bounded by ValidFrom/ValidTo.
type Road struct {
	ID         string
	Geometry   orb.Geometry // storage SRID, lon/lat
	Bbox       geo.Bbox
	Ward       string
	Attributes Attributes
	DataSource string
	Status     Status
	ValidFrom  time.Time
	ValidTo    *time.Time
	// ReplacedBy points forward to the row that superseded this one,
	// as "<id>@<versionNumber>". The chain never cycles because each
	// publish strictly advances ValidFrom.
	ReplacedBy string
}

// Update describes a soft-update applied during publish: the prior
// active row is closed and a replacement row inserted under the same
// identity.
type Update struct {
	Road Road
	// PriorFingerprint is the content fingerprint of the replaced
	// state, kept in the historical diff.
	PriorFingerprint string
}

// Change is the applied change set of a publish or rollback.
type Change struct {
	Added   []Road
	Updated []Update
	// Deactivated lists road identities to close. Left empty in
	// incremental mode.
	Deactivated []string
}

// Store is the pipeline's window into the asset table. The publisher
// and the rollback engine are its only writers.
type Store interface {
	// StreamActive streams active roads intersecting scope, ordered
	// by road identity. The order is what makes snapshots
	// deterministic for content addressing.
	StreamActive(ctx context.Context, scope Scope, fn func(Road) error) error

	// CountActive counts active roads intersecting scope.
	CountActive(ctx context.Context, scope Scope) (int, error)

	// Apply applies a change set. Added and replacement rows get
	// ValidFrom=at; closed rows get ValidTo=at. Implementations run
	// the whole change in the ambient transaction.
	Apply(ctx context.Context, at time.Time, versionNumber int64, change Change) error
}
