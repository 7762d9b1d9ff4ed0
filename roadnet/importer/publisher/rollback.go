// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package publisher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/importer/differ"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

// Rollback restores an archived version's snapshot as a new published
// version. The target transitions to rolledBack, a terminal state, so
// the same snapshot can never be restored twice and history stays
// linear. The new version gets its own pre-apply snapshot, which makes
// the rollback itself rollback-able.
func (p *Publisher) Rollback(ctx context.Context, targetID uuid.UUID, progress func(int)) (_ *importer.DiffStats, err error) {
	defer mon.Task()(&ctx)(&err)

	target, err := p.db.Versions().GetVersion(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Status != importer.StatusArchived {
		return nil, importer.ErrInvalidTransition.New("rollback requires an archived version, target is %s", target.Status)
	}
	if target.SnapshotRef == "" {
		return nil, importer.ErrInvalidTransition.New("target version has no snapshot")
	}

	// The restore set is the target's snapshot, loaded into the same
	// identity map the differ joins against.
	restoreSet, err := p.loadSnapshotSet(ctx, target)
	if err != nil {
		return nil, err
	}
	progress(10)

	var stats importer.DiffStats
	err = p.db.WithPublishLock(ctx, p.config.LockTimeout, func(ctx context.Context, tx importer.Tx) error {
		// Re-check under the lock; a concurrent rollback of the same
		// target must fail, not restore twice.
		target, err := tx.Versions().GetVersion(ctx, targetID)
		if err != nil {
			return err
		}
		if target.Status != importer.StatusArchived {
			return importer.ErrInvalidTransition.New("rollback requires an archived version, target is %s", target.Status)
		}

		now := p.nowFn().UTC()

		snapshotRef, err := p.writeSnapshot(ctx, tx.Roads())
		if err != nil {
			return importer.ErrSnapshotFailed.Wrap(err)
		}
		progress(40)

		// Reconcile live against the snapshot with the same
		// classification a regional-refresh publish uses: roads only
		// in the snapshot come back, roads only live are deactivated,
		// divergent roads are updated. The diff is labeled bbox; a
		// snapshot restoration is not an export comparison.
		opts := differ.Options{
			Scope:             roads.FullScope,
			RegionalRefresh:   true,
			ComparisonMode:    importer.CompareBbox,
			DefaultDataSource: target.DefaultDataSource,
		}
		current := differ.StreamCurrent(func(ctx context.Context, fn func(roads.Road) error) error {
			return tx.Roads().StreamActive(ctx, roads.FullScope, fn)
		})
		result, err := p.differ.Classify(ctx, opts, restoreSet, nil, current)
		if err != nil {
			return err
		}

		restored, err := tx.Versions().CreateRollbackVersion(ctx, importer.CreateRollbackVersion{
			SourceVersionID: targetID,
			FileName:        fmt.Sprintf("rollback of v%d (%s)", target.VersionNumber, target.FileName),
			FeatureCount:    len(restoreSet),
		})
		if err != nil {
			return err
		}

		change := result.Change(true)
		if err := tx.Roads().Apply(ctx, now, restored.VersionNumber, change); err != nil {
			return importer.ErrAssetWriteFailed.Wrap(err)
		}
		progress(80)

		diffRef, err := p.writeDiff(ctx, &result.Diff)
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
			ID:               restored.ID,
			SnapshotRef:      snapshotRef,
			DiffRef:          diffRef,
			AddedCount:       result.Diff.Stats.AddedCount,
			UpdatedCount:     result.Diff.Stats.UpdatedCount,
			DeactivatedCount: result.Diff.Stats.DeactivatedCount,
			PublishedAt:      now,
		})
		if err != nil {
			return err
		}
		if err := tx.Versions().MarkRolledBack(ctx, targetID, now); err != nil {
			return err
		}

		stats = result.Diff.Stats
		return nil
	})
	if err != nil {
		return nil, err
	}

	progress(100)
	p.log.Info("rolled back",
		zap.Stringer("target", targetID),
		zap.Int("reactivated", stats.AddedCount),
		zap.Int("updated", stats.UpdatedCount),
		zap.Int("deactivated", stats.DeactivatedCount))
	return &stats, nil
}

// loadSnapshotSet reads a snapshot blob into the identity map the
// classifier joins against.
func (p *Publisher) loadSnapshotSet(ctx context.Context, version *importer.ImportVersion) (map[string]differ.ImportFeature, error) {
	blob, err := p.blobs.Open(ctx, version.SnapshotRef)
	if err != nil {
		return nil, err
	}
	defer func() { _ = blob.Close() }()

	set := make(map[string]differ.ImportFeature)
	err = roads.StreamSnapshot(ctx, blob, func(rec roads.SnapshotRecord) error {
		road := rec.Road()
		set[road.ID] = differ.ImportFeature{
			ID:         road.ID,
			Geometry:   road.Geometry,
			Bbox:       road.Bbox,
			Ward:       road.Ward,
			DataSource: road.DataSource,
			Attributes: road.Attributes,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}
