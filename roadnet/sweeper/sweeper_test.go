// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package sweeper_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/blobstore/filestore"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb/testdb"
	"github.com/opencouncil/roadnet/roadnet/sweeper"
)

func TestSweeperReclaimsOrphans(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		log := zaptest.NewLogger(t)
		blobs, err := filestore.New(log, filestore.Config{Dir: ctx.Dir("blobs")})
		require.NoError(t, err)

		referenced, err := blobs.Put(ctx, blobstore.KindUpload, bytes.NewReader([]byte("kept upload")))
		require.NoError(t, err)
		orphanUpload, err := blobs.Put(ctx, blobstore.KindUpload, bytes.NewReader([]byte("orphan upload")))
		require.NoError(t, err)
		orphanSnapshot, err := blobs.Put(ctx, blobstore.KindSnapshot, bytes.NewReader([]byte("orphan snapshot")))
		require.NoError(t, err)

		_, err = db.Versions().CreateDraft(ctx, importer.CreateDraft{
			FileName: "a.geojson", FileType: georead.FileTypeGeoJSON,
			FileRef: referenced, ImportScope: "full",
		})
		require.NoError(t, err)

		chore := sweeper.New(log.Named("sweeper"), db.Versions(), blobs, blobs, sweeper.Config{
			Interval:    time.Hour,
			GracePeriod: 24 * time.Hour,
		})

		// everything is younger than the grace period
		require.NoError(t, chore.RunOnce(ctx))
		_, err = blobs.Stat(ctx, orphanUpload)
		require.NoError(t, err, "the grace period protects fresh blobs")

		// move the clock past the grace period
		chore.TestingSetNow(func() time.Time { return time.Now().Add(48 * time.Hour) })
		require.NoError(t, chore.RunOnce(ctx))

		_, err = blobs.Stat(ctx, referenced)
		require.NoError(t, err, "referenced blobs survive")
		_, err = blobs.Stat(ctx, orphanUpload)
		require.True(t, blobstore.ErrNotFound.Has(err))
		_, err = blobs.Stat(ctx, orphanSnapshot)
		require.True(t, blobstore.ErrNotFound.Has(err))
	})
}
