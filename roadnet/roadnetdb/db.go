// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package roadnetdb implements the pipeline stores on a SQL database.
// Postgres backs production; SQLite backs tests and single-node
// deployments. Versions, jobs and roads live in the same database so a
// publish commits atomically.
package roadnetdb

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/private/tagsql"

	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/roads"

	_ "github.com/jackc/pgx/v4/stdlib" // registers the pgx driver
	_ "github.com/mattn/go-sqlite3"    // registers the sqlite3 driver
)

var (
	// Error is the default roadnetdb errors class.
	Error = errs.Class("roadnetdb")

	mon = monkit.Package()
)

// implementation discriminates the SQL dialects.
type implementation int

const (
	implPostgres implementation = iota
	implSQLite
)

// Config holds database tunables.
type Config struct {
	URL string `help:"database connection string; postgres:// or sqlite3://" default:"postgres://roadnet@localhost/roadnet?sslmode=disable"`
}

// DB is the SQL-backed implementation of importer.DB.
type DB struct {
	log  *zap.Logger
	db   tagsql.DB
	impl implementation

	// publishMu serializes publishes for the SQLite backend, which has
	// no advisory locks.
	publishMu chan struct{}

	testCleanup func() error
}

// Open connects to the database named by connstr. Supported schemes:
// postgres:// and postgresql:// via pgx, sqlite3:// via mattn.
func Open(ctx context.Context, log *zap.Logger, connstr string) (*DB, error) {
	driverName, source, impl, err := parseConnStr(connstr)
	if err != nil {
		return nil, err
	}

	rawdb, err := tagsql.Open(ctx, driverName, source)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if impl == implSQLite {
		// Shared in-memory databases vanish when the last connection
		// closes; a single connection also sidesteps SQLITE_BUSY.
		rawdb.SetMaxOpenConns(1)
	}

	db := &DB{
		log:         log,
		db:          rawdb,
		impl:        impl,
		publishMu:   make(chan struct{}, 1),
		testCleanup: func() error { return nil },
	}
	log.Debug("connected", zap.String("db source", redacted(connstr)))
	return db, nil
}

func parseConnStr(connstr string) (driverName, source string, impl implementation, err error) {
	switch {
	case strings.HasPrefix(connstr, "postgres://"),
		strings.HasPrefix(connstr, "postgresql://"):
		return "pgx", connstr, implPostgres, nil
	case strings.HasPrefix(connstr, "sqlite3://"):
		return "sqlite3", strings.TrimPrefix(connstr, "sqlite3://"), implSQLite, nil
	}
	return "", "", 0, Error.New("unsupported database scheme: %q", redacted(connstr))
}

func redacted(connstr string) string {
	if i := strings.Index(connstr, "@"); i >= 0 {
		if j := strings.Index(connstr, "://"); j >= 0 && j < i {
			return connstr[:j+3] + "..." + connstr[i:]
		}
	}
	return connstr
}

// Close closes the connection.
func (db *DB) Close() error {
	return errs.Combine(Error.Wrap(db.db.Close()), db.testCleanup())
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return Error.Wrap(db.db.PingContext(ctx))
}

// TestingSetCleanup registers a callback run on Close.
func (db *DB) TestingSetCleanup(cleanup func() error) { db.testCleanup = cleanup }

// Versions returns the version store.
func (db *DB) Versions() importer.VersionStore {
	return &versionStore{q: db.db, rebind: db.rebind}
}

// Roads returns the road store.
func (db *DB) Roads() roads.Store {
	return &roadStore{q: db.db, rebind: db.rebind}
}

// queryer is the querying surface shared by tagsql.DB and tagsql.Tx,
// so the stores run unchanged inside and outside transactions.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (tagsql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rebind rewrites ? placeholders to $n for postgres. Queries are
// written once in ? form.
func (db *DB) rebind(query string) string {
	if db.impl != implPostgres {
		return query
	}
	return postgresRebind(query)
}

func postgresRebind(sql string) string {
	type sqlParseState int
	const (
		sqlParseStart sqlParseState = iota
		sqlParseInStringLiteral
		sqlParseInQuotedIdentifier
		sqlParseInComment
	)

	out := make([]byte, 0, len(sql)+10)

	j := 1
	state := sqlParseStart
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch state {
		case sqlParseStart:
			switch ch {
			case '?':
				out = append(out, '$')
				out = append(out, strconv.Itoa(j)...)
				j++
				continue
			case '-':
				if i+1 < len(sql) && sql[i+1] == '-' {
					state = sqlParseInComment
				}
			case '"':
				state = sqlParseInQuotedIdentifier
			case '\'':
				state = sqlParseInStringLiteral
			}
		case sqlParseInStringLiteral:
			if ch == '\'' {
				state = sqlParseStart
			}
		case sqlParseInQuotedIdentifier:
			if ch == '"' {
				state = sqlParseStart
			}
		case sqlParseInComment:
			if ch == '\n' {
				state = sqlParseStart
			}
		}
		out = append(out, ch)
	}

	return string(out)
}

// isUniqueViolation recognizes unique-index violations across both
// backends without importing driver error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
