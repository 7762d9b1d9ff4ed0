// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package sweeper reclaims blobs nothing references anymore: uploads
// of deleted drafts, snapshots and diffs orphaned by failed publishes.
// Blob writes are not transactional with the database, so orphans are
// expected; the sweeper is what makes that design safe.
package sweeper

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/importer"
)

var (
	// Error is the default sweeper errors class.
	Error = errs.Class("sweeper")

	mon = monkit.Package()
)

// Config holds sweeper tunables.
type Config struct {
	Interval    time.Duration `help:"how often the sweeper scans for unreferenced blobs" default:"1h"`
	GracePeriod time.Duration `help:"blobs younger than this are never reclaimed, covering in-flight writes" default:"24h"`
}

// Chore periodically deletes unreferenced blobs.
type Chore struct {
	log      *zap.Logger
	versions importer.VersionStore
	blobs    blobstore.Lister
	deleter  blobstore.Store
	config   Config

	Loop *sync2.Cycle

	nowFn func() time.Time
}

// New creates a sweeper chore. blobs must be the same store as deleter;
// the split exists because only the sweeper may list.
func New(log *zap.Logger, versions importer.VersionStore, blobs blobstore.Lister, deleter blobstore.Store, config Config) *Chore {
	return &Chore{
		log:      log,
		versions: versions,
		blobs:    blobs,
		deleter:  deleter,
		config:   config,
		Loop:     sync2.NewCycle(config.Interval),
		nowFn:    time.Now,
	}
}

// Run runs the chore until ctx is done.
func (chore *Chore) Run(ctx context.Context) error {
	return chore.Loop.Run(ctx, chore.RunOnce)
}

// Close stops the loop.
func (chore *Chore) Close() error {
	chore.Loop.Close()
	return nil
}

// TestingSetNow overrides the clock.
func (chore *Chore) TestingSetNow(nowFn func() time.Time) { chore.nowFn = nowFn }

// RunOnce performs one sweep: every blob of every kind that no row
// references and that is older than the grace period is deleted.
func (chore *Chore) RunOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	referenced, err := chore.versions.ReferencedBlobRefs(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	cutoff := chore.nowFn().Add(-chore.config.GracePeriod)

	var swept, kept int
	for _, kind := range []blobstore.Kind{blobstore.KindUpload, blobstore.KindSnapshot, blobstore.KindDiff} {
		err := chore.blobs.List(ctx, kind, func(info blobstore.Info) error {
			if _, ok := referenced[info.Ref]; ok {
				kept++
				return nil
			}
			if info.ModTime.After(cutoff) {
				kept++
				return nil
			}
			if err := chore.deleter.Delete(ctx, info.Ref); err != nil {
				chore.log.Warn("deleting unreferenced blob failed",
					zap.String("ref", string(info.Ref)), zap.Error(err))
				return nil
			}
			swept++
			return nil
		})
		if err != nil {
			return Error.Wrap(err)
		}
	}

	mon.IntVal("sweeper_swept").Observe(int64(swept))
	if swept > 0 {
		chore.log.Info("swept unreferenced blobs", zap.Int("swept", swept), zap.Int("kept", kept))
	}
	return nil
}
