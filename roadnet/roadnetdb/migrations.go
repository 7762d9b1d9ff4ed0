// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roadnetdb

import (
	"context"

	"storj.io/private/migrate"
)

// MigrateToLatest migrates the database to the latest schema version.
func (db *DB) MigrateToLatest(ctx context.Context) error {
	return db.Migration().Run(ctx, db.log.Named("migrate"))
}

// CheckVersion checks the schema is at the expected version.
func (db *DB) CheckVersion(ctx context.Context) error {
	return db.Migration().ValidateVersions(ctx, db.log)
}

// Migration returns the schema migration steps. The DDL sticks to the
// dialect subset Postgres and SQLite share; partial unique indexes
// encode the core invariants so races cannot break them:
//
//   - at most one published version,
//   - at most one non-terminal job per version,
//   - at most one active row per road identity.
func (db *DB) Migration() *migrate.Migration {
	return &migrate.Migration{
		Table: "roadnet_versions",
		Steps: []*migrate.Step{
			{
				DB:          &db.db,
				Description: "initial setup",
				Version:     1,
				Action: migrate.SQL{
					`CREATE TABLE import_versions (
						id             BYTEA NOT NULL PRIMARY KEY,
						version_number BIGINT NOT NULL,
						status         TEXT NOT NULL,

						file_name TEXT NOT NULL,
						file_type TEXT NOT NULL,
						file_ref  TEXT NOT NULL,

						layer_name          TEXT NOT NULL DEFAULT '',
						source_crs          TEXT NOT NULL DEFAULT '',
						default_data_source TEXT NOT NULL DEFAULT '',
						regional_refresh    BOOLEAN NOT NULL DEFAULT false,
						import_scope        TEXT NOT NULL DEFAULT 'full',
						scope_explicit      BOOLEAN NOT NULL DEFAULT false,
						source_export_id    TEXT NOT NULL DEFAULT '',

						feature_count INTEGER NOT NULL DEFAULT 0,

						uploaded_at    TIMESTAMP NOT NULL,
						published_at   TIMESTAMP,
						archived_at    TIMESTAMP,
						rolled_back_at TIMESTAMP,

						snapshot_ref TEXT NOT NULL DEFAULT '',
						diff_ref     TEXT NOT NULL DEFAULT '',

						added_count       INTEGER,
						updated_count     INTEGER,
						deactivated_count INTEGER,

						validation_fingerprint TEXT NOT NULL DEFAULT '',
						validation_result      TEXT,

						source_version_id BYTEA
					)`,
					`CREATE UNIQUE INDEX import_versions_number ON import_versions ( version_number )`,
					`CREATE UNIQUE INDEX import_versions_single_published ON import_versions ( status )
						WHERE status = 'published'`,

					`CREATE TABLE import_jobs (
						id         BYTEA NOT NULL PRIMARY KEY,
						version_id BYTEA NOT NULL,
						job_type   TEXT NOT NULL,
						status     TEXT NOT NULL,
						progress   INTEGER NOT NULL DEFAULT 0,

						created_at   TIMESTAMP NOT NULL,
						started_at   TIMESTAMP,
						completed_at TIMESTAMP,

						error_message  TEXT NOT NULL DEFAULT '',
						result_summary TEXT
					)`,
					`CREATE UNIQUE INDEX import_jobs_one_active ON import_jobs ( version_id )
						WHERE status IN ('pending', 'running')`,

					`CREATE TABLE roads (
						road_id  TEXT NOT NULL,
						geometry TEXT NOT NULL,

						min_lng DOUBLE PRECISION NOT NULL,
						min_lat DOUBLE PRECISION NOT NULL,
						max_lng DOUBLE PRECISION NOT NULL,
						max_lat DOUBLE PRECISION NOT NULL,

						ward        TEXT NOT NULL DEFAULT '',
						attributes  TEXT,
						data_source TEXT NOT NULL DEFAULT '',
						status      TEXT NOT NULL,

						valid_from     TIMESTAMP NOT NULL,
						valid_to       TIMESTAMP,
						replaced_by    TEXT NOT NULL DEFAULT '',
						version_number BIGINT NOT NULL
					)`,
					`CREATE UNIQUE INDEX roads_one_active ON roads ( road_id )
						WHERE status = 'active'`,
					`CREATE INDEX roads_active_ward ON roads ( ward )
						WHERE status = 'active'`,
					`CREATE INDEX roads_active_bbox ON roads ( min_lng, max_lng, min_lat, max_lat )
						WHERE status = 'active'`,

					`CREATE TABLE road_exports (
						id            BYTEA NOT NULL PRIMARY KEY,
						scope         TEXT NOT NULL,
						blob_ref      TEXT NOT NULL,
						feature_count INTEGER NOT NULL,
						created_at    TIMESTAMP NOT NULL
					)`,
				},
			},
		},
	}
}
