// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roadnetdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storj.io/private/dbutil/txutil"
	"storj.io/private/tagsql"

	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

// publishLockKey is the advisory lock key shared by every publish and
// rollback against this database.
const publishLockKey = 0x726f61646e657431 // "roadnet1"

// publishTx exposes the stores bound to one transaction.
type publishTx struct {
	versions *versionStore
	roads    *roadStore
}

func (tx *publishTx) Versions() importer.VersionStore { return tx.versions }
func (tx *publishTx) Roads() roads.Store              { return tx.roads }

// WithPublishLock serializes publishes and rollbacks. On Postgres the
// transaction takes an advisory lock that releases on commit or abort;
// on SQLite an in-process slot stands in, which is sound because the
// SQLite backend runs single-process. Waiting longer than timeout
// fails with ErrConflictingPublish.
func (db *DB) WithPublishLock(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx importer.Tx) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	if db.impl == implSQLite {
		select {
		case db.publishMu <- struct{}{}:
			defer func() { <-db.publishMu }()
		case <-time.After(timeout):
			return importer.ErrConflictingPublish.New("another publish is in progress")
		case <-ctx.Done():
			return Error.Wrap(ctx.Err())
		}
		return txutil.WithTx(ctx, db.db, nil, func(ctx context.Context, tx tagsql.Tx) error {
			return fn(ctx, db.wrapTx(tx))
		})
	}

	return txutil.WithTx(ctx, db.db, nil, func(ctx context.Context, tx tagsql.Tx) error {
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, timeout.Milliseconds()))
		if err != nil {
			return Error.Wrap(err)
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`SELECT pg_advisory_xact_lock(%d)`, int64(publishLockKey)))
		if err != nil {
			if isLockTimeout(err) {
				return importer.ErrConflictingPublish.New("another publish is in progress")
			}
			return Error.Wrap(err)
		}
		// Statement timeouts should not apply to the rest of the
		// transaction.
		if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = DEFAULT`); err != nil {
			return Error.Wrap(err)
		}
		return fn(ctx, db.wrapTx(tx))
	})
}

func (db *DB) wrapTx(tx tagsql.Tx) importer.Tx {
	return &publishTx{
		versions: &versionStore{q: tx, rebind: db.rebind},
		roads:    &roadStore{q: tx, rebind: db.rebind},
	}
}

// isLockTimeout recognizes Postgres lock_not_available (55P03).
func isLockTimeout(err error) bool {
	return err != nil &&
		(strings.Contains(err.Error(), "55P03") ||
			strings.Contains(err.Error(), "lock timeout"))
}
