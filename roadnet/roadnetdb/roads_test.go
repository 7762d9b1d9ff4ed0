// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roadnetdb_test

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"

	"github.com/opencouncil/roadnet/roadnet/geo"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb"
	"github.com/opencouncil/roadnet/roadnet/roadnetdb/testdb"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

func road(id, ward string, lng, lat float64) roads.Road {
	return roads.Road{
		ID:         id,
		Geometry:   orb.LineString{{lng, lat}, {lng + 0.01, lat + 0.01}},
		Ward:       ward,
		DataSource: "manual",
		Attributes: roads.Attributes{"name": "road " + id},
		Status:     roads.StatusActive,
	}
}

func streamAll(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB, scope roads.Scope) []roads.Road {
	var out []roads.Road
	err := db.Roads().StreamActive(ctx, scope, func(r roads.Road) error {
		out = append(out, r)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestRoadsApplyAndStream(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		now := time.Now()
		err := db.Roads().Apply(ctx, now, 1, roads.Change{
			Added: []roads.Road{
				road("r2", "kita", 139.80, 35.80),
				road("r1", "chuo", 139.70, 35.60),
			},
		})
		require.NoError(t, err)

		active := streamAll(ctx, t, db, roads.FullScope)
		require.Len(t, active, 2)
		require.Equal(t, "r1", active[0].ID, "streamed in road id order")
		require.Equal(t, "r2", active[1].ID)
		require.Equal(t, "chuo", active[0].Ward)
		require.Equal(t, "road r1", active[0].Attributes["name"])
		require.Equal(t, orb.LineString{{139.70, 35.60}, {139.71, 35.61}}, active[0].Geometry)
		require.False(t, active[0].Bbox.IsZero(), "bbox is derived on insert")
		require.Nil(t, active[0].ValidTo)

		count, err := db.Roads().CountActive(ctx, roads.FullScope)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})
}

func TestRoadsScopeFiltering(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		err := db.Roads().Apply(ctx, time.Now(), 1, roads.Change{
			Added: []roads.Road{
				road("r1", "chuo", 139.70, 35.60),
				road("r2", "kita", 139.90, 35.80),
			},
		})
		require.NoError(t, err)

		inWard := streamAll(ctx, t, db, roads.WardScope("chuo"))
		require.Len(t, inWard, 1)
		require.Equal(t, "r1", inWard[0].ID)

		inBbox := streamAll(ctx, t, db, roads.BboxScope(geo.Bbox{
			MinLng: 139.65, MinLat: 35.55, MaxLng: 139.75, MaxLat: 35.65,
		}))
		require.Len(t, inBbox, 1)
		require.Equal(t, "r1", inBbox[0].ID)

		outside := streamAll(ctx, t, db, roads.BboxScope(geo.Bbox{
			MinLng: 138.0, MinLat: 34.0, MaxLng: 138.5, MaxLat: 34.5,
		}))
		require.Empty(t, outside)
	})
}

func TestRoadsUpdateKeepsLineage(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		v1 := time.Now().Add(-time.Hour)
		require.NoError(t, db.Roads().Apply(ctx, v1, 1, roads.Change{
			Added: []roads.Road{road("r1", "chuo", 139.70, 35.60)},
		}))

		updated := road("r1", "chuo", 139.70, 35.60)
		updated.Attributes = roads.Attributes{"name": "renamed"}
		require.NoError(t, db.Roads().Apply(ctx, time.Now(), 2, roads.Change{
			Updated: []roads.Update{{Road: updated}},
		}))

		active := streamAll(ctx, t, db, roads.FullScope)
		require.Len(t, active, 1, "one active row per road id")
		require.Equal(t, "renamed", active[0].Attributes["name"])

		count, err := db.Roads().CountActive(ctx, roads.FullScope)
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})
}

func TestRoadsDeactivate(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		require.NoError(t, db.Roads().Apply(ctx, time.Now(), 1, roads.Change{
			Added: []roads.Road{
				road("r1", "chuo", 139.70, 35.60),
				road("r2", "kita", 139.90, 35.80),
			},
		}))
		require.NoError(t, db.Roads().Apply(ctx, time.Now(), 2, roads.Change{
			Deactivated: []string{"r2"},
		}))

		active := streamAll(ctx, t, db, roads.FullScope)
		require.Len(t, active, 1)
		require.Equal(t, "r1", active[0].ID)

		// closing a road twice fails: there is no active row left
		err := db.Roads().Apply(ctx, time.Now(), 3, roads.Change{Deactivated: []string{"r2"}})
		require.Error(t, err)
	})
}

func TestRoadsDuplicateActiveRefused(t *testing.T) {
	testdb.Run(t, func(ctx *testcontext.Context, t *testing.T, db *roadnetdb.DB) {
		require.NoError(t, db.Roads().Apply(ctx, time.Now(), 1, roads.Change{
			Added: []roads.Road{road("r1", "chuo", 139.70, 35.60)},
		}))
		err := db.Roads().Apply(ctx, time.Now(), 2, roads.Change{
			Added: []roads.Road{road("r1", "chuo", 139.70, 35.60)},
		})
		require.Error(t, err)
	})
}
