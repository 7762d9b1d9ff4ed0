// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roads_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencouncil/roadnet/roadnet/geo"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

func TestParseScope(t *testing.T) {
	scope, err := roads.ParseScope("full")
	require.NoError(t, err)
	require.Equal(t, roads.FullScope, scope)

	scope, err = roads.ParseScope("ward:chuo")
	require.NoError(t, err)
	require.Equal(t, roads.WardScope("chuo"), scope)

	scope, err = roads.ParseScope("bbox:139.5,35.5,140.0,35.9")
	require.NoError(t, err)
	require.Equal(t, roads.ScopeBbox, scope.Kind)

	for _, s := range []string{"full", "ward:chuo", "bbox:139.5,35.5,140,35.9"} {
		parsed, err := roads.ParseScope(s)
		require.NoError(t, err)
		require.Equal(t, s, parsed.String(), "scope strings round-trip")
	}

	for _, bad := range []string{"", "ward:", "bbox:1,2,3", "everything", "bbox:a,b,c,d"} {
		_, err := roads.ParseScope(bad)
		require.True(t, roads.ErrInvalidScope.Has(err), "%q", bad)
	}
}

func TestScopeContains(t *testing.T) {
	road := roads.Road{
		ID:   "r1",
		Ward: "chuo",
		Bbox: geo.Bbox{MinLng: 139.6, MinLat: 35.6, MaxLng: 139.7, MaxLat: 35.7},
	}

	require.True(t, roads.FullScope.Contains(road))
	require.True(t, roads.WardScope("chuo").Contains(road))
	require.False(t, roads.WardScope("kita").Contains(road))
	require.True(t, roads.BboxScope(geo.Bbox{MinLng: 139.0, MinLat: 35.0, MaxLng: 140.0, MaxLat: 36.0}).Contains(road))
	require.False(t, roads.BboxScope(geo.Bbox{MinLng: 140.5, MinLat: 35.0, MaxLng: 141.0, MaxLat: 36.0}).Contains(road))
}
