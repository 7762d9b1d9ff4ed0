// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package importer defines the versioned import data model: import
// versions and their state machine, async jobs, validation and diff
// results, and the store interfaces the pipeline runs against.
package importer

import (
	"time"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
)

// VersionStatus is the lifecycle state of an ImportVersion.
type VersionStatus string

// Version statuses. RolledBack is terminal: a rolled-back version's
// snapshot can never be restored again, which keeps history linear.
const (
	StatusDraft      VersionStatus = "draft"
	StatusPublished  VersionStatus = "published"
	StatusArchived   VersionStatus = "archived"
	StatusRolledBack VersionStatus = "rolledBack"
)

// DataSource values assignable as a version's default.
const (
	DataSourceOfficialLedger = "official_ledger"
	DataSourceManual         = "manual"
	DataSourceOSMTest        = "osm_test"
)

// ValidDataSource reports whether s is an accepted default data source.
func ValidDataSource(s string) bool {
	switch s {
	case DataSourceOfficialLedger, DataSourceManual, DataSourceOSMTest:
		return true
	}
	return false
}

// ImportVersion is one uploaded dataset and its progress through the
// pipeline. Exactly one version is published at any instant.
type ImportVersion struct {
	ID            uuid.UUID        `json:"id"`
	VersionNumber int64            `json:"versionNumber"`
	Status        VersionStatus    `json:"status"`
	FileName      string           `json:"fileName"`
	FileType      georead.FileType `json:"fileType"`
	FileRef       blobstore.Ref    `json:"fileRef"`

	LayerName         string `json:"layerName,omitempty"`
	SourceCRS         string `json:"sourceCRS,omitempty"`
	DefaultDataSource string `json:"defaultDataSource,omitempty"`
	RegionalRefresh   bool   `json:"regionalRefresh"`
	ImportScope       string `json:"importScope,omitempty"`
	// ScopeExplicit records whether the operator set the scope. A
	// derived scope is recomputed when the source CRS changes; an
	// explicit one is authoritative.
	ScopeExplicit  bool   `json:"-"`
	SourceExportID string `json:"sourceExportId,omitempty"`

	FeatureCount int `json:"featureCount"`

	UploadedAt   time.Time  `json:"uploadedAt"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	ArchivedAt   *time.Time `json:"archivedAt,omitempty"`
	RolledBackAt *time.Time `json:"rolledBackAt,omitempty"`

	SnapshotRef blobstore.Ref `json:"snapshotRef,omitempty"`
	DiffRef     blobstore.Ref `json:"diffRef,omitempty"`

	AddedCount       *int `json:"addedCount,omitempty"`
	UpdatedCount     *int `json:"updatedCount,omitempty"`
	DeactivatedCount *int `json:"deactivatedCount,omitempty"`
}

// CanTransition reports whether the version may move to next. Blind
// status overwrites are forbidden everywhere; stores additionally guard
// the transition inside the update statement.
func (v *ImportVersion) CanTransition(next VersionStatus) bool {
	switch v.Status {
	case StatusDraft:
		return next == StatusPublished
	case StatusPublished:
		return next == StatusArchived
	case StatusArchived:
		return next == StatusRolledBack
	default:
		return false
	}
}

// Configured reports whether the draft carries everything a validation
// run needs.
func (v *ImportVersion) Configured() bool {
	return v.DefaultDataSource != "" && (v.FileType != georead.FileTypeGeoPackage || v.LayerName != "")
}

// ValidationFingerprint identifies the configuration a validation
// result was computed for. regionalRefresh is deliberately excluded:
// only diff and publish consume the flag, so toggling it keeps the
// cached result valid.
func (v *ImportVersion) ValidationFingerprint() string {
	return string(v.FileRef) + "|" + v.LayerName + "|" + v.SourceCRS + "|" + v.DefaultDataSource
}
