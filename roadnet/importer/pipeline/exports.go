// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

// CreateExport dumps the active roads of a scope into a canonical
// export blob and records it. A draft configured with the export's id
// diffs in precise mode against this dump instead of the live set, so
// externally edited data can be reconciled against the exact state it
// was derived from.
func (service *Service) CreateExport(ctx context.Context, scopeStr string) (_ *importer.RoadExport, err error) {
	defer mon.Task()(&ctx)(&err)

	scope := roads.FullScope
	if scopeStr != "" {
		scope, err = roads.ParseScope(scopeStr)
		if err != nil {
			return nil, err
		}
	}

	pr, pw := io.Pipe()
	var ref blobstore.Ref
	var count int

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		writer := roads.NewSnapshotWriter(pw)
		err := service.db.Roads().StreamActive(groupCtx, scope, func(road roads.Road) error {
			return writer.Write(roads.SnapshotRecordOf(road))
		})
		if err == nil {
			err = writer.Flush()
			count = writer.Count()
		}
		return pw.CloseWithError(err)
	})
	group.Go(func() error {
		var err error
		ref, err = service.blobs.Put(groupCtx, blobstore.KindSnapshot, pr)
		if err != nil {
			_ = pr.CloseWithError(err)
		}
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	id, err := uuid.New()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	export := importer.RoadExport{
		ID:           id,
		Scope:        scope.String(),
		BlobRef:      ref,
		FeatureCount: count,
		CreatedAt:    time.Now().UTC(),
	}
	if err := service.db.Versions().CreateExport(ctx, export); err != nil {
		return nil, err
	}
	service.log.Info("export created",
		zap.Stringer("export", id),
		zap.String("scope", export.Scope),
		zap.Int("features", count))
	return &export, nil
}

// GetExport returns export metadata.
func (service *Service) GetExport(ctx context.Context, exportID uuid.UUID) (*importer.RoadExport, error) {
	return service.db.Versions().GetExport(ctx, exportID)
}

// OpenExport returns a reader over the export's canonical dump. The
// caller closes it.
func (service *Service) OpenExport(ctx context.Context, exportID uuid.UUID) (_ *importer.RoadExport, _ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	export, err := service.db.Versions().GetExport(ctx, exportID)
	if err != nil {
		return nil, nil, err
	}
	blob, err := service.blobs.Open(ctx, export.BlobRef)
	if err != nil {
		return nil, nil, err
	}
	return export, blob, nil
}
