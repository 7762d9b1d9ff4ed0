// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package testdb opens migrated throwaway databases for tests.
package testdb

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/opencouncil/roadnet/roadnet/roadnetdb"
)

// Run opens an in-memory SQLite database, migrates it to the latest
// schema and hands it to the test.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB)) {
	t.Helper()

	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	db, err := roadnetdb.Open(ctx, log, "sqlite3://file::memory:?mode=memory")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	defer ctx.Check(db.Close)

	if err := db.MigrateToLatest(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	test(ctx, t, db)
}
