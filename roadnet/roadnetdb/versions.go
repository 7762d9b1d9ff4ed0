// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roadnetdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"

	"github.com/opencouncil/roadnet/roadnet/blobstore"
	"github.com/opencouncil/roadnet/roadnet/importer"
)

// versionStore implements importer.VersionStore.
type versionStore struct {
	q      queryer
	rebind func(string) string
}

const versionColumns = `id, version_number, status,
	file_name, file_type, file_ref,
	layer_name, source_crs, default_data_source, regional_refresh, import_scope, scope_explicit, source_export_id,
	feature_count,
	uploaded_at, published_at, archived_at, rolled_back_at,
	snapshot_ref, diff_ref,
	added_count, updated_count, deactivated_count`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row scannable) (*importer.ImportVersion, error) {
	var v importer.ImportVersion
	var id []byte
	var publishedAt, archivedAt, rolledBackAt sql.NullTime
	var added, updated, deactivated sql.NullInt64

	err := row.Scan(
		&id, &v.VersionNumber, &v.Status,
		&v.FileName, &v.FileType, &v.FileRef,
		&v.LayerName, &v.SourceCRS, &v.DefaultDataSource, &v.RegionalRefresh, &v.ImportScope, &v.ScopeExplicit, &v.SourceExportID,
		&v.FeatureCount,
		&v.UploadedAt, &publishedAt, &archivedAt, &rolledBackAt,
		&v.SnapshotRef, &v.DiffRef,
		&added, &updated, &deactivated,
	)
	if err != nil {
		return nil, err
	}
	v.ID, err = uuid.FromBytes(id)
	if err != nil {
		return nil, err
	}
	v.UploadedAt = v.UploadedAt.UTC()
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		v.PublishedAt = &t
	}
	if archivedAt.Valid {
		t := archivedAt.Time.UTC()
		v.ArchivedAt = &t
	}
	if rolledBackAt.Valid {
		t := rolledBackAt.Time.UTC()
		v.RolledBackAt = &t
	}
	if added.Valid {
		n := int(added.Int64)
		v.AddedCount = &n
	}
	if updated.Valid {
		n := int(updated.Int64)
		v.UpdatedCount = &n
	}
	if deactivated.Valid {
		n := int(deactivated.Int64)
		v.DeactivatedCount = &n
	}
	return &v, nil
}

func (store *versionStore) CreateDraft(ctx context.Context, opts importer.CreateDraft) (_ *importer.ImportVersion, err error) {
	defer mon.Task()(&ctx)(&err)

	id, err := uuid.New()
	if err != nil {
		return nil, Error.Wrap(err)
	}

	// The version number is allocated by the insert itself; the unique
	// index backstops the rare concurrent upload.
	_, err = store.q.ExecContext(ctx, store.rebind(`
		INSERT INTO import_versions (
			id, version_number, status,
			file_name, file_type, file_ref,
			layer_name, import_scope, feature_count, uploaded_at
		) VALUES (
			?, (SELECT COALESCE(MAX(version_number), 0) + 1 FROM import_versions), 'draft',
			?, ?, ?,
			?, ?, ?, ?
		)`),
		id[:], opts.FileName, string(opts.FileType), string(opts.FileRef),
		opts.LayerName, opts.ImportScope, opts.FeatureCount, time.Now().UTC(),
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return store.GetVersion(ctx, id)
}

func (store *versionStore) ConfigureDraft(ctx context.Context, opts importer.ConfigureDraft) (_ *importer.ImportVersion, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := store.q.ExecContext(ctx, store.rebind(`
		UPDATE import_versions
		SET layer_name = ?, source_crs = ?, default_data_source = ?,
			regional_refresh = ?, import_scope = ?, scope_explicit = ?, source_export_id = ?
		WHERE id = ? AND status = 'draft'`),
		opts.LayerName, opts.SourceCRS, opts.DefaultDataSource,
		opts.RegionalRefresh, opts.ImportScope, opts.ScopeExplicit, opts.SourceExportID,
		opts.ID[:],
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := store.requireAffected(ctx, result, opts.ID, importer.StatusDraft, "configure"); err != nil {
		return nil, err
	}
	return store.GetVersion(ctx, opts.ID)
}

// requireAffected distinguishes "no such version" from "wrong status"
// after a guarded zero-row update.
func (store *versionStore) requireAffected(ctx context.Context, result sql.Result, id uuid.UUID, want importer.VersionStatus, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected > 0 {
		return nil
	}
	version, err := store.GetVersion(ctx, id)
	if err != nil {
		return err
	}
	return importer.ErrInvalidTransition.New("%s requires status %s, version is %s", op, want, version.Status)
}

func (store *versionStore) GetVersion(ctx context.Context, id uuid.UUID) (_ *importer.ImportVersion, err error) {
	defer mon.Task()(&ctx)(&err)

	row := store.q.QueryRowContext(ctx, store.rebind(`
		SELECT `+versionColumns+` FROM import_versions WHERE id = ?`), id[:])
	version, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, importer.ErrNotFound.New("version %s", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return version, nil
}

func (store *versionStore) ListVersions(ctx context.Context, opts importer.ListVersions) (_ []importer.ImportVersion, total int, err error) {
	defer mon.Task()(&ctx)(&err)

	where, args := "", []interface{}{}
	if opts.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(opts.Status))
	}
	err = store.q.QueryRowContext(ctx,
		store.rebind(`SELECT count(*) FROM import_versions`+where), args...).Scan(&total)
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + versionColumns + ` FROM import_versions` + where +
		` ORDER BY version_number DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := store.q.QueryContext(ctx, store.rebind(query), args...)
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var versions []importer.ImportVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, 0, Error.Wrap(err)
		}
		versions = append(versions, *version)
	}
	return versions, total, Error.Wrap(rows.Err())
}

func (store *versionStore) DeleteDraft(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := store.q.ExecContext(ctx, store.rebind(`
		DELETE FROM import_versions WHERE id = ? AND status = 'draft'`), id[:])
	if err != nil {
		return Error.Wrap(err)
	}
	if err := store.requireAffected(ctx, result, id, importer.StatusDraft, "delete"); err != nil {
		return err
	}
	// Terminal jobs of the discarded draft are no longer meaningful.
	_, err = store.q.ExecContext(ctx, store.rebind(`
		DELETE FROM import_jobs WHERE version_id = ?`), id[:])
	return Error.Wrap(err)
}

func (store *versionStore) CurrentPublished(ctx context.Context) (_ *importer.ImportVersion, err error) {
	defer mon.Task()(&ctx)(&err)

	row := store.q.QueryRowContext(ctx, store.rebind(`
		SELECT `+versionColumns+` FROM import_versions WHERE status = 'published'`))
	version, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return version, nil
}

func (store *versionStore) MarkPublished(ctx context.Context, opts importer.MarkPublished) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := store.q.ExecContext(ctx, store.rebind(`
		UPDATE import_versions
		SET status = 'published', published_at = ?,
			snapshot_ref = ?, diff_ref = ?,
			added_count = ?, updated_count = ?, deactivated_count = ?
		WHERE id = ? AND status = 'draft'`),
		opts.PublishedAt.UTC(), string(opts.SnapshotRef), string(opts.DiffRef),
		opts.AddedCount, opts.UpdatedCount, opts.DeactivatedCount,
		opts.ID[:],
	)
	if err != nil {
		if isUniqueViolation(err) {
			return importer.ErrConflictingPublish.New("another version is already published")
		}
		return Error.Wrap(err)
	}
	return store.requireAffected(ctx, result, opts.ID, importer.StatusDraft, "publish")
}

func (store *versionStore) MarkArchived(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := store.q.ExecContext(ctx, store.rebind(`
		UPDATE import_versions SET status = 'archived', archived_at = ?
		WHERE id = ? AND status = 'published'`),
		at.UTC(), id[:],
	)
	if err != nil {
		return Error.Wrap(err)
	}
	return store.requireAffected(ctx, result, id, importer.StatusPublished, "archive")
}

func (store *versionStore) MarkRolledBack(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := store.q.ExecContext(ctx, store.rebind(`
		UPDATE import_versions SET status = 'rolledBack', rolled_back_at = ?
		WHERE id = ? AND status = 'archived'`),
		at.UTC(), id[:],
	)
	if err != nil {
		return Error.Wrap(err)
	}
	return store.requireAffected(ctx, result, id, importer.StatusArchived, "rollback")
}

func (store *versionStore) CreateRollbackVersion(ctx context.Context, opts importer.CreateRollbackVersion) (_ *importer.ImportVersion, err error) {
	defer mon.Task()(&ctx)(&err)

	source, err := store.GetVersion(ctx, opts.SourceVersionID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.New()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// The restored version inherits the source's file lineage and
	// configuration; the rollback always applies as a full refresh.
	_, err = store.q.ExecContext(ctx, store.rebind(`
		INSERT INTO import_versions (
			id, version_number, status,
			file_name, file_type, file_ref,
			layer_name, source_crs, default_data_source, regional_refresh, import_scope,
			feature_count, uploaded_at, source_version_id
		) VALUES (
			?, (SELECT COALESCE(MAX(version_number), 0) + 1 FROM import_versions), 'draft',
			?, ?, ?,
			?, ?, ?, ?, 'full',
			?, ?, ?
		)`),
		id[:],
		opts.FileName, string(source.FileType), string(source.FileRef),
		source.LayerName, source.SourceCRS, source.DefaultDataSource, true,
		opts.FeatureCount, time.Now().UTC(), opts.SourceVersionID[:],
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return store.GetVersion(ctx, id)
}

func (store *versionStore) SetValidationResult(ctx context.Context, id uuid.UUID, fingerprint string, result *importer.ValidationResult) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := json.Marshal(result)
	if err != nil {
		return Error.Wrap(err)
	}
	res, err := store.q.ExecContext(ctx, store.rebind(`
		UPDATE import_versions SET validation_fingerprint = ?, validation_result = ?
		WHERE id = ?`),
		fingerprint, string(data), id[:],
	)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return importer.ErrNotFound.New("version %s", id)
	}
	return nil
}

func (store *versionStore) GetValidationResult(ctx context.Context, id uuid.UUID) (_ *importer.ValidationResult, fingerprint string, err error) {
	defer mon.Task()(&ctx)(&err)

	var data sql.NullString
	err = store.q.QueryRowContext(ctx, store.rebind(`
		SELECT validation_result, validation_fingerprint FROM import_versions WHERE id = ?`),
		id[:]).Scan(&data, &fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", importer.ErrNotFound.New("version %s", id)
	}
	if err != nil {
		return nil, "", Error.Wrap(err)
	}
	if !data.Valid {
		return nil, "", nil
	}
	var result importer.ValidationResult
	if err := json.Unmarshal([]byte(data.String), &result); err != nil {
		return nil, "", Error.Wrap(err)
	}
	return &result, fingerprint, nil
}

func (store *versionStore) ReferencedBlobRefs(ctx context.Context) (_ map[blobstore.Ref]struct{}, err error) {
	defer mon.Task()(&ctx)(&err)

	refs := make(map[blobstore.Ref]struct{})
	collect := func(query string) error {
		rows, err := store.q.QueryContext(ctx, store.rebind(query))
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var ref string
			if err := rows.Scan(&ref); err != nil {
				return Error.Wrap(err)
			}
			if ref != "" {
				refs[blobstore.Ref(ref)] = struct{}{}
			}
		}
		return Error.Wrap(rows.Err())
	}

	if err := collect(`SELECT file_ref FROM import_versions`); err != nil {
		return nil, err
	}
	if err := collect(`SELECT snapshot_ref FROM import_versions`); err != nil {
		return nil, err
	}
	if err := collect(`SELECT diff_ref FROM import_versions`); err != nil {
		return nil, err
	}
	if err := collect(`SELECT blob_ref FROM road_exports`); err != nil {
		return nil, err
	}
	return refs, nil
}
