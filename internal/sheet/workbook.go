// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sheet renders finalized records into the extraction workbook
// and the human review log. Implements: prd005-output (R4-R6);
// docs/ARCHITECTURE § Output.
//
// The column map mirrors the lab's extraction template; rows are keyed
// by PMID so re-running a document updates its row in place instead of
// appending a duplicate.
package sheet

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// sheetConfig maps one record sheet onto a workbook sheet.
type sheetConfig struct {
	name       string            // workbook sheet name
	headerRows int               // rows above the first data row
	columns    map[string]string // field → column letter
}

var headerFields = []string{"author", "year", "study_design"}

// sheetConfigs is keyed by the record sheet key (the path segment under
// "sheets/"). Column letters follow the extraction template.
var sheetConfigs = map[string]sheetConfig{
	"included_articles": {
		name:       "Included Articles",
		headerRows: 3,
		columns: map[string]string{
			"pmid": "A", "author": "B", "year": "C", "study_design": "D",
			"n_pts": "E", "age_mean_years": "F",
			"gender_male_n": "G", "gender_female_n": "H",
			"site_maxilla": "I", "site_mandible": "J", "site_both": "K",
			"primary_cause_breast_cancer": "L", "primary_cause_prostate_cancer": "M",
			"primary_cause_mm": "N", "primary_cause_osteoporosis": "O",
			"primary_cause_other": "P", "primary_cause_other_details": "Q",
			"ards_bisphosphonates_alendronate": "R", "ards_bisphosphonates_zoledronate": "S",
			"ards_bisphosphonates_risedronate": "T", "ards_bisphosphonates_neridronate": "U",
			"ards_bisphosphonates_pamidronate": "V", "ards_bisphosphonates_others": "W",
			"ards_bisphosphonates_others_details": "X",
			"ards_other_drug":                     "Y", "ards_denosumab": "Z", "ards_both": "AA",
			"route_iv": "AB", "route_oral": "AC", "ards_other_drug_details": "AD",
			"route_im": "AE", "route_subcutaneous": "AF", "route_both": "AG",
			"mronj_stage_at_risk": "AH", "mronj_stage_0": "AI",
			"prevention_technique": "AJ", "group_intervention": "AK", "group_control": "AL",
			"follow_up_mean_months": "AM", "follow_up_range": "AN", "outcome_variable": "AO",
			"mronj_development": "AP", "mronj_development_details": "AQ",
			"route_not_reported": "AR",
		},
	},
	"level_of_evidence": {
		name:       "Level of Evidence",
		headerRows: 1,
		columns: map[string]string{
			"pmid": "A", "author": "B", "year": "C", "study_design": "D",
			"level_of_evidence": "E", "grade_of_recommendation": "F",
		},
	},
	"rct_appraisal": {
		name:       "Critical Appraisal of RCTS",
		headerRows: 3,
		columns: map[string]string{
			"pmid": "A", "author": "B", "year": "C", "study_design": "D",
			"q1_randomized": "E", "q2_randomization_method": "F",
			"q3_double_blind": "G", "q4_blinding_method": "H",
			"q5_withdrawals": "I", "total_score": "J",
		},
	},
	"cohort_appraisal": {
		name:       "Critical Appraisal of Cohort",
		headerRows: 2,
		columns: map[string]string{
			"pmid": "A", "author": "B", "year": "C", "study_design": "D",
			"q1_clear_question": "E", "q2_cohort_recruited": "F",
			"q3_exposure_measured": "G", "q4_outcome_measured": "H",
			"q5_confounders": "I", "q6_followup_complete": "J", "total_score": "K",
		},
	},
	"case_series_appraisal": {
		name:       "Critical Appraisal of Case Seri",
		headerRows: 2,
		columns: map[string]string{
			"pmid": "A", "author": "B", "year": "C", "study_design": "D",
			"q1_clear_aim": "E", "q2_inclusion_criteria": "F",
			"q3_consecutive_cases": "G", "q4_outcomes_defined": "H",
			"q5_followup_sufficient": "I", "q6_statistical_analysis": "J", "total_score": "K",
		},
	},
	"case_control_appraisal": {
		name:       "Critical Appraisal of Case Cont",
		headerRows: 2,
		columns: map[string]string{
			"pmid": "A", "author": "B", "year": "C", "study_design": "D",
			"q1_clear_question": "E", "q2_cases_representative": "F",
			"q3_controls_selected": "G", "q4_exposure_measured": "H",
			"q5_confounders": "I", "q6_results_precise": "J", "total_score": "K",
		},
	},
	"systematic_appraisal": {
		name:       "Critical Appraisal of Systemati",
		headerRows: 3,
		columns: map[string]string{
			"pmid": "A", "author": "B", "year": "C", "study_design": "D",
			"q1_focus_question": "E", "q2_inclusion_criteria": "F",
			"q3_comprehensive_search": "G", "q4_6_search_and_duplication": "H",
			"q7_quality_assessed": "I", "q8_combining_appropriate": "J",
			"q9_conclusions_supported": "K", "total_score": "L",
		},
	},
}

// Workbook accumulates rows for a batch and writes them once.
type Workbook struct {
	file *excelize.File
}

// OpenWorkbook opens the template workbook, or starts a fresh one with
// the standard sheets when no template is given or found.
func OpenWorkbook(templatePath string) (*Workbook, error) {
	if templatePath != "" {
		if _, err := os.Stat(templatePath); err == nil {
			f, err := excelize.OpenFile(templatePath)
			if err != nil {
				return nil, fmt.Errorf("opening template %s: %w", templatePath, err)
			}
			return &Workbook{file: f}, nil
		}
	}

	f := excelize.NewFile()
	for _, cfg := range sheetConfigs {
		if _, err := f.NewSheet(cfg.name); err != nil {
			return nil, fmt.Errorf("creating sheet %s: %w", cfg.name, err)
		}
	}
	f.DeleteSheet("Sheet1")
	return &Workbook{file: f}, nil
}

// Close releases the underlying file handle.
func (wb *Workbook) Close() error {
	return wb.file.Close()
}

// Apply writes one finalized record into the workbook, one row per
// populated sheet, keyed by PMID.
func (wb *Workbook) Apply(result *types.DocumentResult) error {
	sheets, _ := result.Record["sheets"].(map[string]any)
	if sheets == nil {
		return nil
	}
	pmid := result.ID

	included, _ := sheets["included_articles"].(map[string]any)

	for key, payload := range sheets {
		data, ok := payload.(map[string]any)
		if !ok {
			continue
		}
		cfg, ok := sheetConfigs[key]
		if !ok {
			continue
		}
		if idx, err := wb.file.GetSheetIndex(cfg.name); err != nil || idx < 0 {
			continue
		}

		row, err := wb.findOrCreateRow(cfg, pmid)
		if err != nil {
			return fmt.Errorf("locating row for %s on %s: %w", pmid, cfg.name, err)
		}

		for field, col := range cfg.columns {
			if field == "pmid" {
				if err := wb.setCell(cfg.name, col, row, pmid); err != nil {
					return err
				}
				continue
			}
			v, present := data[field]
			if !present || v == nil {
				continue
			}
			if err := wb.setCell(cfg.name, col, row, normalizeCellValue(v)); err != nil {
				return err
			}
		}

		// Backfill the shared header fields from the included sheet so
		// every appraisal row identifies its study.
		for _, field := range headerFields {
			col, mapped := cfg.columns[field]
			if !mapped {
				continue
			}
			cell, err := wb.getCell(cfg.name, col, row)
			if err != nil {
				return err
			}
			if cell != "" {
				continue
			}
			if v, ok := included[field]; ok && v != nil {
				if err := wb.setCell(cfg.name, col, row, normalizeCellValue(v)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// SaveAs writes the workbook to outPath.
func (wb *Workbook) SaveAs(outPath string) error {
	if err := wb.file.SaveAs(outPath); err != nil {
		return fmt.Errorf("saving workbook %s: %w", outPath, err)
	}
	return nil
}

// findOrCreateRow locates the row keyed by pmid in column A, or the
// first empty row below the header.
func (wb *Workbook) findOrCreateRow(cfg sheetConfig, pmid string) (int, error) {
	rows, err := wb.file.GetRows(cfg.name)
	if err != nil {
		return 0, err
	}

	start := cfg.headerRows + 1
	if pmid != "" {
		for i := start; i <= len(rows); i++ {
			if len(rows[i-1]) > 0 && rows[i-1][0] == pmid {
				return i, nil
			}
		}
	}
	for i := start; i <= len(rows); i++ {
		if len(rows[i-1]) == 0 || rows[i-1][0] == "" {
			return i, nil
		}
	}
	if len(rows) < start {
		return start, nil
	}
	return len(rows) + 1, nil
}

func (wb *Workbook) setCell(sheetName, col string, row int, v any) error {
	return wb.file.SetCellValue(sheetName, fmt.Sprintf("%s%d", col, row), v)
}

func (wb *Workbook) getCell(sheetName, col string, row int) (string, error) {
	return wb.file.GetCellValue(sheetName, fmt.Sprintf("%s%d", col, row))
}

// normalizeCellValue renders flags as 0/1 and trims text, matching the
// template's conventions.
func normalizeCellValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	if s, ok := v.(string); ok {
		trimmed := strings.TrimSpace(s)
		switch strings.ToLower(trimmed) {
		case "true", "yes", "y", "1":
			return 1
		case "false", "no", "n", "0":
			return 0
		}
		return trimmed
	}
	if f, err := cast.ToFloat64E(v); err == nil && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}
