// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package importer

import (
	"github.com/paulmach/orb/geojson"

	"github.com/opencouncil/roadnet/roadnet/roads"
)

// ValidationIssue is one per-feature finding. Errors block publishing;
// warnings do not.
type ValidationIssue struct {
	FeatureIndex int    `json:"featureIndex"`
	FeatureID    string `json:"featureId,omitempty"`
	Field        string `json:"field,omitempty"`
	Error        string `json:"error"`
	Hint         string `json:"hint,omitempty"`
}

// ValidationResult is the persisted outcome of a validation run over
// one (fileRef, configuration) pair. Re-validation of the same pair is
// idempotent.
type ValidationResult struct {
	FeatureCount           int               `json:"featureCount"`
	Errors                 []ValidationIssue `json:"errors"`
	Warnings               []ValidationIssue `json:"warnings"`
	MissingIDCount         int               `json:"missingIdCount"`
	MissingDataSourceCount int               `json:"missingDataSourceCount"`
	GeometryTypes          []string          `json:"geometryTypes"`
}

// Blocking reports whether the result forbids publishing.
func (r *ValidationResult) Blocking() bool {
	return r != nil && len(r.Errors) > 0
}

// ComparisonMode of a diff.
type ComparisonMode string

// Comparison modes. Precise compares against the canonical origin
// recorded by sourceExportId; bbox compares against the live set in
// the derived spatial scope.
const (
	ComparePrecise ComparisonMode = "precise"
	CompareBbox    ComparisonMode = "bbox"
)

// DiffFeature is one import feature in a diff result, geometry already
// in the storage SRID.
type DiffFeature struct {
	ID         string            `json:"id"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Ward       string            `json:"ward,omitempty"`
	DataSource string            `json:"dataSource,omitempty"`
	Attributes roads.Attributes  `json:"attributes,omitempty"`
	// PriorFingerprint is set for updated features: a content hash of
	// the live state being replaced.
	PriorFingerprint string `json:"priorFingerprint,omitempty"`
}

// RemovedFeature is a deactivation candidate: identity and geometry
// only, per the historical diff layout.
type RemovedFeature struct {
	ID       string            `json:"id"`
	Geometry *geojson.Geometry `json:"geometry"`
}

// DiffStats summarizes a diff.
type DiffStats struct {
	ScopeCurrentCount int `json:"scopeCurrentCount"`
	ImportCount       int `json:"importCount"`
	AddedCount        int `json:"addedCount"`
	UpdatedCount      int `json:"updatedCount"`
	DeactivatedCount  int `json:"deactivatedCount"`
}

// DiffResult is the change set a publish would apply. For drafts it is
// ephemeral and recomputed on demand; for published versions the
// authoritative recomputation is persisted as the historical diff.
type DiffResult struct {
	Scope           string         `json:"scope"`
	RegionalRefresh bool           `json:"regionalRefresh"`
	ComparisonMode  ComparisonMode `json:"comparisonMode"`
	SourceExportID  string         `json:"sourceExportId,omitempty"`

	Added   []DiffFeature `json:"added"`
	Updated []DiffFeature `json:"updated"`
	// Deactivated is preview-only when regionalRefresh is false: the
	// publisher will not touch those roads in incremental mode.
	Deactivated []RemovedFeature `json:"deactivated"`
	// DeactivatedPreviewOnly is set on incremental diffs to label the
	// deactivated class as advisory.
	DeactivatedPreviewOnly bool `json:"deactivatedPreviewOnly,omitempty"`

	Unchanged int       `json:"unchanged"`
	Stats     DiffStats `json:"stats"`

	// Warnings carries non-fatal findings from diff computation, e.g.
	// duplicate identities in the import file.
	Warnings []string `json:"warnings,omitempty"`
}
