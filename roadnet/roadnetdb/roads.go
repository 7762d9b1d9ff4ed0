// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roadnetdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/zeebo/errs"

	"github.com/opencouncil/roadnet/roadnet/geo"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

// roadStore implements roads.Store. Geometries are stored as GeoJSON
// text alongside denormalized bbox columns, which keep the spatial
// filter inside the database without a spatial extension.
type roadStore struct {
	q      queryer
	rebind func(string) string
}

const roadColumns = `road_id, geometry, min_lng, min_lat, max_lng, max_lat,
	ward, attributes, data_source, status, valid_from, valid_to, replaced_by`

func scanRoad(row scannable) (roads.Road, error) {
	var road roads.Road
	var geometry string
	var attributes sql.NullString
	var validTo sql.NullTime

	err := row.Scan(
		&road.ID, &geometry,
		&road.Bbox.MinLng, &road.Bbox.MinLat, &road.Bbox.MaxLng, &road.Bbox.MaxLat,
		&road.Ward, &attributes, &road.DataSource, &road.Status,
		&road.ValidFrom, &validTo, &road.ReplacedBy,
	)
	if err != nil {
		return roads.Road{}, err
	}
	g, err := geojson.UnmarshalGeometry([]byte(geometry))
	if err != nil {
		return roads.Road{}, err
	}
	road.Geometry = g.Geometry()
	if attributes.Valid && attributes.String != "" {
		if err := json.Unmarshal([]byte(attributes.String), &road.Attributes); err != nil {
			return roads.Road{}, err
		}
	}
	road.ValidFrom = road.ValidFrom.UTC()
	if validTo.Valid {
		t := validTo.Time.UTC()
		road.ValidTo = &t
	}
	return road, nil
}

// scopeWhere renders the scope as a WHERE fragment over the active
// rows.
func scopeWhere(scope roads.Scope) (string, []interface{}) {
	where := `status = 'active'`
	var args []interface{}
	switch scope.Kind {
	case roads.ScopeWard:
		where += ` AND ward = ?`
		args = append(args, scope.Ward)
	case roads.ScopeBbox:
		where += ` AND min_lng <= ? AND max_lng >= ? AND min_lat <= ? AND max_lat >= ?`
		args = append(args, scope.Bbox.MaxLng, scope.Bbox.MinLng, scope.Bbox.MaxLat, scope.Bbox.MinLat)
	}
	return where, args
}

func (store *roadStore) StreamActive(ctx context.Context, scope roads.Scope, fn func(roads.Road) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	where, args := scopeWhere(scope)
	rows, err := store.q.QueryContext(ctx, store.rebind(`
		SELECT `+roadColumns+` FROM roads WHERE `+where+` ORDER BY road_id`), args...)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		road, err := scanRoad(rows)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := fn(road); err != nil {
			return err
		}
	}
	return Error.Wrap(rows.Err())
}

func (store *roadStore) CountActive(ctx context.Context, scope roads.Scope) (count int, err error) {
	defer mon.Task()(&ctx)(&err)

	where, args := scopeWhere(scope)
	err = store.q.QueryRowContext(ctx, store.rebind(`
		SELECT count(*) FROM roads WHERE `+where), args...).Scan(&count)
	return count, Error.Wrap(err)
}

// Apply writes a change set. Updates are soft: the prior active row is
// closed with valid_to and replaced_by, and a fresh active row is
// inserted, so history queries can walk the lineage.
func (store *roadStore) Apply(ctx context.Context, at time.Time, versionNumber int64, change roads.Change) (err error) {
	defer mon.Task()(&ctx)(&err)

	at = at.UTC()

	for _, road := range change.Added {
		if err := store.insertActive(ctx, road, at, versionNumber); err != nil {
			return err
		}
	}
	for _, update := range change.Updated {
		if err := store.closeActive(ctx, update.Road.ID, at, replacedBy(update.Road.ID, versionNumber)); err != nil {
			return err
		}
		if err := store.insertActive(ctx, update.Road, at, versionNumber); err != nil {
			return err
		}
	}
	for _, id := range change.Deactivated {
		if err := store.closeActive(ctx, id, at, ""); err != nil {
			return err
		}
	}
	return nil
}

func replacedBy(id string, versionNumber int64) string {
	return fmt.Sprintf("%s@%d", id, versionNumber)
}

func (store *roadStore) insertActive(ctx context.Context, road roads.Road, at time.Time, versionNumber int64) error {
	if road.Geometry == nil {
		return Error.New("road %s has no geometry", road.ID)
	}
	geometry, err := geojson.NewGeometry(road.Geometry).MarshalJSON()
	if err != nil {
		return Error.Wrap(err)
	}
	var attributes interface{}
	if len(road.Attributes) > 0 {
		data, err := json.Marshal(road.Attributes)
		if err != nil {
			return Error.Wrap(err)
		}
		attributes = string(data)
	}
	box := road.Bbox
	if box.IsZero() {
		box = geo.BboxFromBound(road.Geometry.Bound())
	}
	_, err = store.q.ExecContext(ctx, store.rebind(`
		INSERT INTO roads (
			road_id, geometry, min_lng, min_lat, max_lng, max_lat,
			ward, attributes, data_source, status, valid_from, version_number
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?)`),
		road.ID, string(geometry),
		box.MinLng, box.MinLat, box.MaxLng, box.MaxLat,
		road.Ward, attributes, road.DataSource, at, versionNumber,
	)
	if isUniqueViolation(err) {
		return Error.New("road %s is already active", road.ID)
	}
	return Error.Wrap(err)
}

func (store *roadStore) closeActive(ctx context.Context, id string, at time.Time, replacedBy string) error {
	result, err := store.q.ExecContext(ctx, store.rebind(`
		UPDATE roads SET status = 'inactive', valid_to = ?, replaced_by = ?
		WHERE road_id = ? AND status = 'active'`),
		at, replacedBy, id,
	)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return Error.New("road %s has no active row to close", id)
	}
	return nil
}
