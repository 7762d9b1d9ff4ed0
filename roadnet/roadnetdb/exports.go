// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roadnetdb

import (
	"context"
	"database/sql"
	"errors"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/importer"
)

func (store *versionStore) CreateExport(ctx context.Context, export importer.RoadExport) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.q.ExecContext(ctx, store.rebind(`
		INSERT INTO road_exports (id, scope, blob_ref, feature_count, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		export.ID[:], export.Scope, string(export.BlobRef), export.FeatureCount, export.CreatedAt.UTC(),
	)
	return Error.Wrap(err)
}

func (store *versionStore) GetExport(ctx context.Context, id uuid.UUID) (_ *importer.RoadExport, err error) {
	defer mon.Task()(&ctx)(&err)

	var export importer.RoadExport
	var rawID []byte
	err = store.q.QueryRowContext(ctx, store.rebind(`
		SELECT id, scope, blob_ref, feature_count, created_at
		FROM road_exports WHERE id = ?`), id[:]).
		Scan(&rawID, &export.Scope, &export.BlobRef, &export.FeatureCount, &export.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, importer.ErrNotFound.New("export %s", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if export.ID, err = uuid.FromBytes(rawID); err != nil {
		return nil, Error.Wrap(err)
	}
	export.CreatedAt = export.CreatedAt.UTC()
	return &export, nil
}
