// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package publisher applies a validated draft to the live road set,
// and restores archived snapshots. Both paths run under the shared
// advisory publish lock, so no two publishes or rollbacks ever
// interleave asset writes.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/importer/differ"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

var (
	// Error is the default publisher errors class.
	Error = errs.Class("publisher")

	mon = monkit.Package()
)

// Config holds publisher tunables.
type Config struct {
	LockTimeout time.Duration `help:"how long a publish waits for the advisory lock before failing with a conflict" default:"30s"`
}

// Publisher owns all writes from the pipeline into the road store.
type Publisher struct {
	log    *zap.Logger
	db     importer.DB
	blobs  blobstore.Store
	differ *differ.Differ
	config Config

	nowFn func() time.Time
}

// New creates a Publisher.
func New(log *zap.Logger, db importer.DB, blobs blobstore.Store, dif *differ.Differ, config Config) *Publisher {
	return &Publisher{
		log:    log,
		db:     db,
		blobs:  blobs,
		differ: dif,
		config: config,
		nowFn:  time.Now,
	}
}

// TestingSetNow overrides the clock.
func (p *Publisher) TestingSetNow(nowFn func() time.Time) { p.nowFn = nowFn }

// Publish applies the draft: snapshot current state, recompute the
// authoritative diff inside the transaction, apply the change set,
// persist the historical diff, and advance the version pointers.
// Progress is coarse: 10 after the import set loads, 40 after the
// snapshot, 80 after apply, 100 at commit.
func (p *Publisher) Publish(ctx context.Context, versionID uuid.UUID, progress func(int)) (_ *importer.DiffStats, err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := p.db.Versions().GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != importer.StatusDraft {
		return nil, importer.ErrInvalidTransition.New("publish requires a draft, version is %s", version.Status)
	}

	// The import set loads outside the lock; it reads only the blob.
	importSet, warnings, err := p.differ.LoadImportSet(ctx, version)
	if err != nil {
		return nil, err
	}
	progress(10)

	var stats importer.DiffStats
	err = p.db.WithPublishLock(ctx, p.config.LockTimeout, func(ctx context.Context, tx importer.Tx) error {
		// Re-read under the lock; a concurrent publish may have won.
		version, err := tx.Versions().GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if version.Status != importer.StatusDraft {
			return importer.ErrInvalidTransition.New("publish requires a draft, version is %s", version.Status)
		}
		result, fingerprint, err := tx.Versions().GetValidationResult(ctx, versionID)
		if err != nil {
			return err
		}
		if result == nil || fingerprint != version.ValidationFingerprint() {
			return importer.ErrValidationBlocked.New("no validation result for the current configuration")
		}
		if result.Blocking() {
			return importer.ErrValidationBlocked.New("validation found %d errors", len(result.Errors))
		}

		now := p.nowFn().UTC()

		snapshotRef, err := p.writeSnapshot(ctx, tx.Roads())
		if err != nil {
			return importer.ErrSnapshotFailed.Wrap(err)
		}
		progress(40)

		diffResult, err := p.recomputeDiff(ctx, tx, version, importSet, warnings)
		if err != nil {
			return err
		}

		change := diffResult.Change(version.RegionalRefresh)
		if err := tx.Roads().Apply(ctx, now, version.VersionNumber, change); err != nil {
			return importer.ErrAssetWriteFailed.Wrap(err)
		}
		progress(80)

		diffRef, err := p.writeDiff(ctx, &diffResult.Diff)
		if err != nil {
			return err
		}

		previous, err := tx.Versions().CurrentPublished(ctx)
		if err != nil {
			return err
		}
		if previous != nil {
			if err := tx.Versions().MarkArchived(ctx, previous.ID, now); err != nil {
				return err
			}
		}
		err = tx.Versions().MarkPublished(ctx, importer.MarkPublished{
			ID:               versionID,
			SnapshotRef:      snapshotRef,
			DiffRef:          diffRef,
			AddedCount:       diffResult.Diff.Stats.AddedCount,
			UpdatedCount:     diffResult.Diff.Stats.UpdatedCount,
			DeactivatedCount: appliedDeactivations(version.RegionalRefresh, diffResult),
			PublishedAt:      now,
		})
		if err != nil {
			return err
		}

		stats = diffResult.Diff.Stats
		return nil
	})
	if err != nil {
		return nil, err
	}

	mon.Meter("publish_added").Mark(stats.AddedCount)
	mon.Meter("publish_updated").Mark(stats.UpdatedCount)
	mon.Meter("publish_deactivated").Mark(stats.DeactivatedCount)

	progress(100)
	p.log.Info("published",
		zap.Stringer("version", versionID),
		zap.Int("added", stats.AddedCount),
		zap.Int("updated", stats.UpdatedCount),
		zap.Int("deactivated", stats.DeactivatedCount))
	return &stats, nil
}

// appliedDeactivations is the count actually applied: incremental mode
// never removes, whatever the preview showed.
func appliedDeactivations(regionalRefresh bool, result *differ.Result) int {
	if !regionalRefresh {
		return 0
	}
	return len(result.DeactivatedRoads)
}

// writeSnapshot streams every active road in canonical order into a
// content-addressed snapshot blob.
func (p *Publisher) writeSnapshot(ctx context.Context, store roads.Store) (blobstore.Ref, error) {
	pr, pw := io.Pipe()

	var ref blobstore.Ref
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		writer := roads.NewSnapshotWriter(pw)
		err := store.StreamActive(groupCtx, roads.FullScope, func(road roads.Road) error {
			return writer.Write(roads.SnapshotRecordOf(road))
		})
		if err == nil {
			err = writer.Flush()
		}
		return pw.CloseWithError(err)
	})
	group.Go(func() error {
		var err error
		ref, err = p.blobs.Put(groupCtx, blobstore.KindSnapshot, pr)
		if err != nil {
			_ = pr.CloseWithError(err)
		}
		return err
	})
	if err := group.Wait(); err != nil {
		return "", err
	}
	return ref, nil
}

// recomputeDiff is the authoritative classification, run against the
// live state inside the locked transaction. Any preview served earlier
// is advisory only.
func (p *Publisher) recomputeDiff(ctx context.Context, tx importer.Tx, version *importer.ImportVersion, importSet map[string]differ.ImportFeature, warnings []string) (*differ.Result, error) {
	scope := roads.FullScope
	if version.ImportScope != "" {
		parsed, err := roads.ParseScope(version.ImportScope)
		if err != nil {
			return nil, err
		}
		scope = parsed
	}

	opts := differ.Options{
		Scope:             scope,
		RegionalRefresh:   version.RegionalRefresh,
		ComparisonMode:    importer.CompareBbox,
		DefaultDataSource: version.DefaultDataSource,
	}
	current := differ.StreamCurrent(func(ctx context.Context, fn func(roads.Road) error) error {
		return tx.Roads().StreamActive(ctx, scope, fn)
	})

	if version.SourceExportID != "" {
		exportID, err := uuid.FromString(version.SourceExportID)
		if err != nil {
			return nil, importer.Error.Wrap(err)
		}
		if _, err := tx.Versions().GetExport(ctx, exportID); err != nil {
			return nil, err
		}
		// The export only labels the historical diff. The applied change
		// set is classified against the live rows, so anything that
		// drifted since the export was taken is reconciled here.
		opts.ComparisonMode = importer.ComparePrecise
		opts.SourceExportID = version.SourceExportID
	}

	return p.differ.Classify(ctx, opts, importSet, warnings, current)
}

// writeDiff persists the historical diff document.
func (p *Publisher) writeDiff(ctx context.Context, diff *importer.DiffResult) (blobstore.Ref, error) {
	data, err := json.Marshal(diff)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return p.blobs.Put(ctx, blobstore.KindDiff, bytes.NewReader(data))
}
