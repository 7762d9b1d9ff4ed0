// Copyright (C) 2026 Open Council Works
// See LICENSE for copying information.

// Package validation runs per-feature structural checks over a draft's
// streamed file. Findings are recorded, not raised: a validation job
// completes successfully even when the result carries errors, and the
// errors then block publishing.
package validation

import (
	"context"
	"fmt"
	"sort"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/opencouncil/roadnet/roadnet/geo"
	"github.com/opencouncil/roadnet/roadnet/geo/georead"
	"github.com/opencouncil/roadnet/roadnet/importer"
	"github.com/opencouncil/roadnet/roadnet/importer/differ"
	"github.com/opencouncil/roadnet/roadnet/roads"
)

var (
	// Error is the default validation errors class.
	Error = errs.Class("validation")

	mon = monkit.Package()
)

// Validator checks a configured draft feature by feature.
type Validator struct {
	log    *zap.Logger
	reader *georead.Reader
}

// New creates a Validator.
func New(log *zap.Logger, reader *georead.Reader) *Validator {
	return &Validator{log: log, reader: reader}
}

// Run streams the version's file and produces the ValidationResult.
// progress receives coarse percentages from 0 to 100. Re-running over
// the same (fileRef, configuration) yields an equivalent result.
func (v *Validator) Run(ctx context.Context, version *importer.ImportVersion, progress func(int)) (_ *importer.ValidationResult, err error) {
	defer mon.Task()(&ctx)(&err)

	result := &importer.ValidationResult{
		Errors:   []importer.ValidationIssue{},
		Warnings: []importer.ValidationIssue{},
	}

	// CRS realizability is fatal: nothing downstream can interpret the
	// coordinates.
	if version.SourceCRS != "" {
		if _, err := geo.Lookup(version.SourceCRS); err != nil {
			return nil, err
		}
	}

	total := version.FeatureCount
	lastPct := -1
	geometryTypes := map[string]struct{}{}

	err = v.reader.Stream(ctx, version.FileRef, version.FileType, version.LayerName, func(raw georead.RawFeature) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.FeatureCount++

		v.checkGeometry(raw, result, geometryTypes)
		v.checkIdentity(version, raw, result)
		v.checkDataSource(raw, result)
		v.checkTyping(raw, result)

		if total > 0 {
			if pct := result.FeatureCount * 100 / total; pct != lastPct {
				lastPct = pct
				progress(min(pct, 100))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for gt := range geometryTypes {
		result.GeometryTypes = append(result.GeometryTypes, gt)
	}
	sort.Strings(result.GeometryTypes)

	mon.IntVal("validation_errors").Observe(int64(len(result.Errors)))
	mon.IntVal("validation_warnings").Observe(int64(len(result.Warnings)))

	progress(100)
	return result, nil
}

func (v *Validator) checkGeometry(raw georead.RawFeature, result *importer.ValidationResult, geometryTypes map[string]struct{}) {
	if raw.Geometry == nil {
		result.Errors = append(result.Errors, importer.ValidationIssue{
			FeatureIndex: raw.Index,
			FeatureID:    raw.ID,
			Field:        "geometry",
			Error:        "geometry is missing",
			Hint:         "every road needs a geometry; remove the feature or re-export it with coordinates",
		})
		return
	}
	geometryTypes[raw.Geometry.GeoJSONType()] = struct{}{}
	if !validGeometry(raw.Geometry) {
		result.Errors = append(result.Errors, importer.ValidationIssue{
			FeatureIndex: raw.Index,
			FeatureID:    raw.ID,
			Field:        "geometry",
			Error:        "geometry is empty or degenerate",
			Hint:         "lines need at least two distinct coordinates",
		})
	}
}

func (v *Validator) checkIdentity(version *importer.ImportVersion, raw georead.RawFeature, result *importer.ValidationResult) {
	if raw.ID != "" {
		return
	}
	result.MissingIDCount++
	autoID := differ.AutoIdentity(version.FileRef, raw.Index)
	result.Warnings = append(result.Warnings, importer.ValidationIssue{
		FeatureIndex: raw.Index,
		FeatureID:    autoID,
		Field:        "id",
		Error:        "no identity field; a deterministic id was generated",
		Hint:         "add an id, properties.id or properties.feature_id so the road keeps its identity across imports",
	})
}

func (v *Validator) checkDataSource(raw georead.RawFeature, result *importer.ValidationResult) {
	if roads.Attributes(raw.Properties).DataSource() != "" {
		return
	}
	result.MissingDataSourceCount++
	result.Warnings = append(result.Warnings, importer.ValidationIssue{
		FeatureIndex: raw.Index,
		FeatureID:    raw.ID,
		Field:        "dataSource",
		Error:        "dataSource is missing; the version default will be substituted at publish",
		Hint:         "set properties.dataSource to record where this road came from",
	})
}

// checkTyping is lightweight: recognized fields are checked only when
// present.
func (v *Validator) checkTyping(raw georead.RawFeature, result *importer.ValidationResult) {
	if v, ok := raw.Properties["lane_count"]; ok && v != nil {
		if !isNonNegativeNumber(v) {
			result.Warnings = append(result.Warnings, importer.ValidationIssue{
				FeatureIndex: raw.Index,
				FeatureID:    raw.ID,
				Field:        "lane_count",
				Error:        fmt.Sprintf("lane_count %v is not a non-negative number", v),
				Hint:         "use an integer lane count",
			})
		}
	}
	if v, ok := raw.Properties["width_m"]; ok && v != nil {
		if !isNonNegativeNumber(v) {
			result.Warnings = append(result.Warnings, importer.ValidationIssue{
				FeatureIndex: raw.Index,
				FeatureID:    raw.ID,
				Field:        "width_m",
				Error:        fmt.Sprintf("width_m %v is not a non-negative number", v),
				Hint:         "use the width in meters as a number",
			})
		}
	}
}

func isNonNegativeNumber(v interface{}) bool {
	switch n := v.(type) {
	case float64:
		return n >= 0
	case int:
		return n >= 0
	case int64:
		return n >= 0
	}
	return false
}
