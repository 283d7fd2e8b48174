// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package validate runs pure consistency rules over a finalized record.
// Implements: prd004-validation (R1-R3); docs/ARCHITECTURE § Validation.
//
// Rules inspect a small named set of paths for mutually exclusive or
// logically dependent flags. They never mutate the record; every hit is
// a non-fatal warning attached to the document.
package validate

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/pdiddy/evidence-engine/internal/pointer"
	"github.com/pdiddy/evidence-engine/internal/schema"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Rule inspects one condition and returns zero or more warnings.
type Rule func(record map[string]any) []types.Warning

// Rules is the default rule set, in evaluation order.
var Rules = []Rule{
	siteEmpty,
	siteInconsistent,
	routeEmpty,
	routeBothNoSpecific,
	routeNotReportedConflict,
	developmentToken,
	developmentDetailsMissing,
}

// Validate runs every rule against the record's active values.
func Validate(record map[string]any) []types.Warning {
	var out []types.Warning
	for _, rule := range Rules {
		out = append(out, rule(record)...)
	}
	return out
}

const incPrefix = schema.IncludedSheet + "/"

var (
	sitePaths = []string{
		incPrefix + "site_maxilla",
		incPrefix + "site_mandible",
		incPrefix + "site_both",
	}
	specificRoutePaths = []string{
		incPrefix + "route_iv",
		incPrefix + "route_oral",
		incPrefix + "route_im",
		incPrefix + "route_subcutaneous",
	}
	routeBothPath        = incPrefix + "route_both"
	routeNotReportedPath = incPrefix + "route_not_reported"
	developmentPath      = schema.DevelopmentPath
	developmentDetails   = incPrefix + "mronj_development_details"
)

// truthyPaths returns the subset of paths whose active value is an
// affirmative flag.
func truthyPaths(record map[string]any, paths []string) []string {
	var out []string
	for _, p := range paths {
		v, ok := pointer.Get(record, p)
		if !ok {
			continue
		}
		if set, known := schema.Truthy(v); known && set {
			out = append(out, p)
		}
	}
	return out
}

func isTruthy(record map[string]any, path string) bool {
	v, ok := pointer.Get(record, path)
	if !ok {
		return false
	}
	set, known := schema.Truthy(v)
	return known && set
}

func siteEmpty(record map[string]any) []types.Warning {
	if len(truthyPaths(record, sitePaths)) > 0 {
		return nil
	}
	return []types.Warning{{
		Rule:    "site-empty",
		Paths:   append([]string(nil), sitePaths...),
		Message: "no site flag set (maxilla, mandible, both)",
	}}
}

func siteInconsistent(record map[string]any) []types.Warning {
	set := truthyPaths(record, sitePaths)
	if len(set) <= 1 || isTruthy(record, incPrefix+"site_both") {
		return nil
	}
	return []types.Warning{{
		Rule:    "site-inconsistent",
		Paths:   set,
		Message: "multiple site flags set without site_both",
	}}
}

func routeEmpty(record map[string]any) []types.Warning {
	all := append(append([]string(nil), specificRoutePaths...), routeBothPath, routeNotReportedPath)
	if len(truthyPaths(record, all)) > 0 {
		return nil
	}
	return []types.Warning{{
		Rule:    "route-empty",
		Paths:   all,
		Message: "no administration route flag set",
	}}
}

func routeBothNoSpecific(record map[string]any) []types.Warning {
	if !isTruthy(record, routeBothPath) {
		return nil
	}
	if len(truthyPaths(record, specificRoutePaths)) > 0 {
		return nil
	}
	return []types.Warning{{
		Rule:    "route-both-no-specific",
		Paths:   []string{routeBothPath},
		Message: "route_both set without any specific route flag",
	}}
}

// routeNotReportedConflict fires once per record, naming the
// not-reported flag and every specific flag that contradicts it.
func routeNotReportedConflict(record map[string]any) []types.Warning {
	if !isTruthy(record, routeNotReportedPath) {
		return nil
	}
	conflicting := truthyPaths(record, append(append([]string(nil), specificRoutePaths...), routeBothPath))
	if len(conflicting) == 0 {
		return nil
	}
	return []types.Warning{{
		Rule:    "route-not-reported-conflict",
		Paths:   append([]string{routeNotReportedPath}, conflicting...),
		Message: fmt.Sprintf("route_not_reported set alongside %d specific route flag(s)", len(conflicting)),
	}}
}

func developmentToken(record map[string]any) []types.Warning {
	v, ok := pointer.Get(record, developmentPath)
	if !ok || v == nil {
		return nil
	}
	s := strings.TrimSpace(cast.ToString(v))
	for _, token := range schema.DevelopmentTokens {
		if strings.EqualFold(s, token) {
			return nil
		}
	}
	return []types.Warning{{
		Rule:    "development-token",
		Paths:   []string{developmentPath},
		Message: fmt.Sprintf("mronj_development %q is not one of Yes/No/Unclear/NR", s),
	}}
}

// developmentDetailsMissing requires a details sentence whenever the
// outcome is affirmative.
func developmentDetailsMissing(record map[string]any) []types.Warning {
	v, ok := pointer.Get(record, developmentPath)
	if !ok || v == nil {
		return nil
	}
	if !strings.EqualFold(strings.TrimSpace(cast.ToString(v)), "Yes") {
		return nil
	}
	d, ok := pointer.Get(record, developmentDetails)
	if ok && d != nil && strings.TrimSpace(cast.ToString(d)) != "" {
		return nil
	}
	return []types.Warning{{
		Rule:    "development-details-missing",
		Paths:   []string{developmentPath, developmentDetails},
		Message: "mronj_development is Yes but mronj_development_details is empty",
	}}
}
