// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roads

import (
	"strings"

	"github.com/zeebo/errs"

	"github.com/opencouncil/roadnet/roadnet/geo"
)

// ErrInvalidScope is returned when an import scope string does not
// match the grammar `full | ward:<name> | bbox:<minLng,minLat,maxLng,maxLat>`.
var ErrInvalidScope = errs.Class("invalid scope")

// ScopeKind discriminates the scope variants.
type ScopeKind string

// Scope kinds.
const (
	ScopeFull ScopeKind = "full"
	ScopeWard ScopeKind = "ward"
	ScopeBbox ScopeKind = "bbox"
)

// Scope bounds the "current state" a diff or publish compares against.
type Scope struct {
	Kind ScopeKind
	Ward string
	Bbox geo.Bbox
}

// FullScope covers the entire live set.
var FullScope = Scope{Kind: ScopeFull}

// WardScope covers roads tagged to a ward.
func WardScope(name string) Scope { return Scope{Kind: ScopeWard, Ward: name} }

// BboxScope covers roads whose geometry intersects box (storage SRID).
func BboxScope(box geo.Bbox) Scope { return Scope{Kind: ScopeBbox, Bbox: box} }

// ParseScope parses the persisted scope grammar.
func ParseScope(s string) (Scope, error) {
	switch {
	case s == string(ScopeFull):
		return FullScope, nil
	case strings.HasPrefix(s, "ward:"):
		name := strings.TrimPrefix(s, "ward:")
		if name == "" {
			return Scope{}, ErrInvalidScope.New("empty ward name")
		}
		return WardScope(name), nil
	case strings.HasPrefix(s, "bbox:"):
		box, err := geo.ParseBbox(strings.TrimPrefix(s, "bbox:"))
		if err != nil {
			return Scope{}, ErrInvalidScope.Wrap(err)
		}
		return BboxScope(box), nil
	}
	return Scope{}, ErrInvalidScope.New("%q", s)
}

// String formats the scope using the wire grammar. The string is both
// persisted and surfaced via the API.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeWard:
		return "ward:" + s.Ward
	case ScopeBbox:
		return "bbox:" + s.Bbox.String()
	default:
		return string(ScopeFull)
	}
}

// Contains reports whether a road falls inside the scope. Used by the
// differ when the backing query is coarser than the scope.
func (s Scope) Contains(road Road) bool {
	switch s.Kind {
	case ScopeWard:
		return road.Ward == s.Ward
	case ScopeBbox:
		return s.Bbox.Intersects(road.Bbox)
	default:
		return true
	}
}
