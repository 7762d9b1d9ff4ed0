// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package importer

import (
	"context"
	"encoding/json"
	"time"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

// CreateDraft are the arguments for creating a draft version on upload.
type CreateDraft struct {
	FileName     string
	FileType     georead.FileType
	FileRef      blobstore.Ref
	LayerName    string // pre-selected when the file has exactly one layer
	FeatureCount int
	ImportScope  string
}

// ConfigureDraft mutates a draft's configuration. Only drafts may be
// configured.
type ConfigureDraft struct {
	ID                uuid.UUID
	LayerName         string
	SourceCRS         string
	DefaultDataSource string
	RegionalRefresh   bool
	ImportScope       string
	ScopeExplicit     bool
	SourceExportID    string
}

// ListVersions filters and pages the version list.
type ListVersions struct {
	Status VersionStatus // empty matches all
	Limit  int
	Offset int
}

// MarkPublished finalizes a publish: refs, counts and the guarded
// draft→published transition.
type MarkPublished struct {
	ID               uuid.UUID
	SnapshotRef      blobstore.Ref
	DiffRef          blobstore.Ref
	AddedCount       int
	UpdatedCount     int
	DeactivatedCount int
	PublishedAt      time.Time
}

// CreateRollbackVersion inserts the draft row a rollback publishes in
// the same transaction. It allocates the next version number; refs and
// counts land via MarkPublished.
type CreateRollbackVersion struct {
	SourceVersionID uuid.UUID // the archived version whose snapshot is being restored
	FileName        string
	FeatureCount    int
}

// CreateJob creates a pending job for a version. At most one
// non-terminal job may exist per version.
type CreateJob struct {
	VersionID uuid.UUID
	JobType   JobType
}

// RoadExport is a canonical dump of the live scope that an operator
// downloaded. A draft referencing it via sourceExportId diffs in
// precise mode.
type RoadExport struct {
	ID           uuid.UUID     `json:"id"`
	Scope        string        `json:"scope"`
	BlobRef      blobstore.Ref `json:"blobRef"`
	FeatureCount int           `json:"featureCount"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// VersionStore persists ImportVersion, ImportJob and RoadExport rows.
// All writes run inside transactions; state transitions are guarded by
// conditional checks against the current status.
type VersionStore interface {
	CreateDraft(ctx context.Context, opts CreateDraft) (*ImportVersion, error)
	ConfigureDraft(ctx context.Context, opts ConfigureDraft) (*ImportVersion, error)
	GetVersion(ctx context.Context, id uuid.UUID) (*ImportVersion, error)
	ListVersions(ctx context.Context, opts ListVersions) (_ []ImportVersion, total int, _ error)
	// DeleteDraft removes a draft version. Non-drafts are refused with
	// ErrInvalidTransition.
	DeleteDraft(ctx context.Context, id uuid.UUID) error

	// CurrentPublished returns the single published version, or nil.
	CurrentPublished(ctx context.Context) (*ImportVersion, error)

	MarkPublished(ctx context.Context, opts MarkPublished) error
	MarkArchived(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRolledBack(ctx context.Context, id uuid.UUID, at time.Time) error
	CreateRollbackVersion(ctx context.Context, opts CreateRollbackVersion) (*ImportVersion, error)

	SetValidationResult(ctx context.Context, id uuid.UUID, fingerprint string, result *ValidationResult) error
	// GetValidationResult returns the cached result and the
	// configuration fingerprint it was computed for.
	GetValidationResult(ctx context.Context, id uuid.UUID) (*ValidationResult, string, error)

	CreateJob(ctx context.Context, opts CreateJob) (*ImportJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error)
	// ClaimJob moves pending→running and stamps startedAt.
	ClaimJob(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error
	// FinalizeJob moves a non-terminal job to a terminal status. A
	// pending job may be finalized directly when it never reaches a
	// worker. Terminal jobs are immutable; finalizing one again is an
	// ErrInvalidTransition.
	FinalizeJob(ctx context.Context, id uuid.UUID, status JobStatus, summary json.RawMessage, errorMessage string, at time.Time) error
	// FailAbandonedJobs finalizes every non-terminal job as failed. The
	// runner calls it on startup so rows left behind by a crash do not
	// hold the per-version job slot forever.
	FailAbandonedJobs(ctx context.Context, errorMessage string, at time.Time) (int, error)

	CreateExport(ctx context.Context, export RoadExport) error
	GetExport(ctx context.Context, id uuid.UUID) (*RoadExport, error)

	// ReferencedBlobRefs returns every blob ref any row points at.
	// The sweeper treats everything else as garbage.
	ReferencedBlobRefs(ctx context.Context) (map[blobstore.Ref]struct{}, error)
}

// Tx is the slice of the database visible inside a locked publish
// transaction.
type Tx interface {
	Versions() VersionStore
	Roads() roads.Store
}

// DB aggregates the stores the pipeline runs against. Implementations
// keep versions and roads in the same database so a publish commits
// atomically.
type DB interface {
	Versions() VersionStore
	Roads() roads.Store

	// WithPublishLock serializes publishes and rollbacks: it takes the
	// advisory lock, opens a transaction and runs fn inside it.
	// Exceeding timeout while waiting returns ErrConflictingPublish.
	WithPublishLock(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx Tx) error) error
}
