// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schema declares the valid record paths and value kinds per study
// category. The merge engine consults it at Decision-application time, which
// keeps the merge policy itself schema-agnostic.
// Implements: prd001-schema R1.1-R1.4, R2.1-R2.3.
package schema

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Kind classifies the value a field may hold.
type Kind string

const (
	// KindFlag is a 0/1 marker; accepts bool and yes/no text.
	KindFlag Kind = "flag"
	// KindInt is an integer count.
	KindInt Kind = "int"
	// KindFloat is a numeric measurement.
	KindFloat Kind = "float"
	// KindText is short free text.
	KindText Kind = "text"
	// KindToken is one of a fixed set of enumerated values.
	KindToken Kind = "token"
)

// Field describes one valid record path.
type Field struct {
	Kind   Kind
	Tokens []string // valid values for KindToken, matched case-insensitively
}

// Sheet path prefixes within the canonical record.
const (
	IncludedSheet      = "sheets/included_articles"
	EvidenceSheet      = "sheets/level_of_evidence"
	RCTSheet           = "sheets/rct_appraisal"
	CohortSheet        = "sheets/cohort_appraisal"
	CaseSeriesSheet    = "sheets/case_series_appraisal"
	CaseControlSheet   = "sheets/case_control_appraisal"
	SystematicSheet    = "sheets/systematic_appraisal"
	StudyTypePath      = "study_type"
	DevelopmentPath    = IncludedSheet + "/mronj_development"
	PMIDPath           = IncludedSheet + "/pmid"
	DOIPath            = IncludedSheet + "/doi"
	TitlePath          = IncludedSheet + "/title"
)

// DevelopmentTokens are the accepted values for the MRONJ development outcome.
var DevelopmentTokens = []string{"Yes", "No", "Unclear", "NR"}

// studyTypeTokens mirror the StudyCategory constants.
var studyTypeTokens = []string{
	string(types.CategoryRCT), string(types.CategoryCohort),
	string(types.CategoryCaseSeries), string(types.CategoryCaseControl),
	string(types.CategorySystematic), string(types.CategoryOther),
	string(types.CategoryUnclear),
}

// appraisalQuestions lists the scored questions per appraisal sheet, in
// template column order.
var appraisalQuestions = map[string][]string{
	RCTSheet: {
		"q1_randomized", "q2_randomization_method", "q3_double_blind",
		"q4_blinding_method", "q5_withdrawals",
	},
	CohortSheet: {
		"q1_clear_question", "q2_cohort_recruited", "q3_exposure_measured",
		"q4_outcome_measured", "q5_confounders", "q6_followup_complete",
	},
	CaseSeriesSheet: {
		"q1_clear_aim", "q2_inclusion_criteria", "q3_consecutive_cases",
		"q4_outcomes_defined", "q5_followup_sufficient", "q6_statistical_analysis",
	},
	CaseControlSheet: {
		"q1_clear_question", "q2_cases_representative", "q3_controls_selected",
		"q4_exposure_measured", "q5_confounders", "q6_results_precise",
	},
	SystematicSheet: {
		"q1_focus_question", "q2_inclusion_criteria", "q3_comprehensive_search",
		"q4_6_search_and_duplication", "q7_quality_assessed",
		"q8_combining_appropriate", "q9_conclusions_supported",
	},
}

// categorySheets maps a study category to its appraisal sheet. Other and
// unclear categories have none.
var categorySheets = map[types.StudyCategory]string{
	types.CategoryRCT:         RCTSheet,
	types.CategoryCohort:      CohortSheet,
	types.CategoryCaseSeries:  CaseSeriesSheet,
	types.CategoryCaseControl: CaseControlSheet,
	types.CategorySystematic:  SystematicSheet,
}

// base holds the paths valid for every category.
var base = buildBase()

func buildBase() map[string]Field {
	m := map[string]Field{
		StudyTypePath: {Kind: KindToken, Tokens: studyTypeTokens},
	}

	add := func(prefix string, kind Kind, names ...string) {
		for _, n := range names {
			m[prefix+"/"+n] = Field{Kind: kind}
		}
	}

	// Included-articles sheet.
	add(IncludedSheet, KindText, "pmid", "doi", "title", "author", "study_design",
		"primary_cause_other_details", "ards_bisphosphonates_others_details",
		"ards_other_drug_details", "prevention_technique", "group_intervention",
		"group_control", "follow_up_range", "outcome_variable",
		"mronj_development_details")
	add(IncludedSheet, KindInt, "year", "n_pts", "gender_male_n", "gender_female_n")
	add(IncludedSheet, KindFloat, "age_mean_years", "follow_up_mean_months")
	add(IncludedSheet, KindFlag,
		"site_maxilla", "site_mandible", "site_both",
		"primary_cause_breast_cancer", "primary_cause_prostate_cancer",
		"primary_cause_mm", "primary_cause_osteoporosis", "primary_cause_other",
		"ards_bisphosphonates_alendronate", "ards_bisphosphonates_zoledronate",
		"ards_bisphosphonates_risedronate", "ards_bisphosphonates_neridronate",
		"ards_bisphosphonates_pamidronate", "ards_bisphosphonates_others",
		"ards_denosumab", "ards_both", "ards_other_drug",
		"route_iv", "route_oral", "route_im", "route_subcutaneous",
		"route_both", "route_not_reported",
		"mronj_stage_at_risk", "mronj_stage_0")
	m[DevelopmentPath] = Field{Kind: KindToken, Tokens: DevelopmentTokens}

	// Level-of-evidence sheet.
	add(EvidenceSheet, KindText, "pmid", "author", "study_design",
		"level_of_evidence", "grade_of_recommendation")
	add(EvidenceSheet, KindInt, "year")

	// Appraisal sheets: scored questions plus the shared header fields.
	for sheet, questions := range appraisalQuestions {
		add(sheet, KindText, "pmid", "author", "study_design")
		add(sheet, KindInt, "year", "total_score")
		add(sheet, KindFlag, questions...)
	}

	return m
}

// Lookup returns the Field for path under the given category. Appraisal
// paths belonging to a different category's sheet are invalid; while the
// category is still other or unclear every appraisal sheet is accepted,
// since the classification itself arrives as a Decision mid-stream.
func Lookup(cat types.StudyCategory, path string) (Field, bool) {
	path = strings.TrimPrefix(path, "/")
	f, ok := base[path]
	if !ok {
		return Field{}, false
	}

	own, classified := categorySheets[cat]
	if !classified {
		return f, true
	}
	for _, sheet := range categorySheets {
		if sheet != own && strings.HasPrefix(path, sheet+"/") {
			return Field{}, false
		}
	}
	return f, true
}

// Check validates a value against the schema for path under cat. A nil
// value is always valid for a known path: null means "not reported".
func Check(cat types.StudyCategory, path string, value any) error {
	f, ok := Lookup(cat, path)
	if !ok {
		return fmt.Errorf("path %q is not valid for category %q", path, cat)
	}
	if value == nil {
		return nil
	}

	switch f.Kind {
	case KindFlag:
		if _, ok := Truthy(value); !ok {
			return fmt.Errorf("path %q: %v is not a flag value", path, value)
		}
	case KindInt:
		n, err := cast.ToFloat64E(value)
		if err != nil || n != float64(int64(n)) {
			return fmt.Errorf("path %q: %v is not an integer", path, value)
		}
	case KindFloat:
		if _, err := cast.ToFloat64E(value); err != nil {
			return fmt.Errorf("path %q: %v is not numeric", path, value)
		}
	case KindToken:
		s := strings.TrimSpace(cast.ToString(value))
		for _, tok := range f.Tokens {
			if strings.EqualFold(s, tok) {
				return nil
			}
		}
		return fmt.Errorf("path %q: %q is not one of %v", path, s, f.Tokens)
	case KindText:
		// Any scalar renders as text.
	}
	return nil
}

// Truthy interprets a flag value. Accepted set mirrors the extraction
// sheet conventions: bool, 0/1 numbers, and yes/no/true/false text.
func Truthy(value any) (bool, bool) {
	switch v := value.(type) {
	case nil:
		return false, false
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y":
			return true, true
		case "0", "false", "no", "n", "":
			return false, true
		}
		return false, false
	default:
		n, err := cast.ToFloat64E(value)
		if err != nil {
			return false, false
		}
		switch n {
		case 0:
			return false, true
		case 1:
			return true, true
		}
		return false, false
	}
}

// AppraisalSheet returns the appraisal sheet prefix for cat, if it has one.
func AppraisalSheet(cat types.StudyCategory) (string, bool) {
	sheet, ok := categorySheets[cat]
	return sheet, ok
}

// AppraisalQuestions returns the scored question fields for an appraisal
// sheet prefix, in template order.
func AppraisalQuestions(sheet string) []string {
	return appraisalQuestions[sheet]
}

// Category reads the active study category from a record, defaulting to
// unclear.
func Category(record map[string]any) types.StudyCategory {
	s := strings.ToLower(strings.TrimSpace(cast.ToString(record[StudyTypePath])))
	for _, tok := range studyTypeTokens {
		if s == tok {
			return types.StudyCategory(s)
		}
	}
	return types.CategoryUnclear
}
