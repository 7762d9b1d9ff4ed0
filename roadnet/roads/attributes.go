// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

package roads

import (
	"math"
	"reflect"
)

// Attributes is the dynamic attribute bag carried by a road. Uploads
// are permissive: any key round-trips through the pipeline untouched,
// but only the recognized set below participates in diff equality.
type Attributes map[string]interface{}

// Recognized attribute keys. Values outside this set are passthrough.
// dataSource is deliberately absent: it is promoted to its own column
// and compared with default substitution, not as a bag entry.
var recognizedKeys = []string{
	"name",
	"ward",
	"road_class",
	"lane_count",
	"width_m",
	"surface",
	"one_way",
}

// DataSource returns the dataSource attribute, or "" when absent.
func (a Attributes) DataSource() string {
	s, _ := a["dataSource"].(string)
	return s
}

// Ward returns the ward attribute, or "" when absent.
func (a Attributes) Ward() string {
	s, _ := a["ward"].(string)
	return s
}

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// EqualRecognized compares two bags over the recognized attribute set.
// Comparison is deep and unordered; nil and missing values are treated
// as absent; numbers compare by value so 2 and 2.0 are equal even when
// one side came from JSON.
func (a Attributes) EqualRecognized(b Attributes) bool {
	for _, key := range recognizedKeys {
		av, aok := presentValue(a, key)
		bv, bok := presentValue(b, key)
		if aok != bok {
			return false
		}
		if !aok {
			continue
		}
		if !valuesEqual(av, bv) {
			return false
		}
	}
	return true
}

func presentValue(a Attributes, key string) (interface{}, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func valuesEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && math.Abs(af-bf) == 0
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
