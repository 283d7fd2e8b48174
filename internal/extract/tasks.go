// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pdiddy/evidence-engine/internal/schema"
)

// Task is one extraction pass over the document view, scoped to a named
// slice of the record schema.
type Task struct {
	Name   string
	System string
	Fields []string // paths the task may claim, relative to the record root
}

// driverSystem is the system prompt shared by every task.
const driverSystem = `You are an evidence extraction agent for MRONJ prevention literature.
Use ONLY the provided paper text. Do not guess.
If a value is not reported, use null.
Evidence must be short (1 sentence), no long quotes.
Return strict JSON: an object with a "decisions" array; each element has "path", "value", "evidence", "page". Echo paths exactly as listed. Do not include any text outside the JSON object.`

// taskPromptTmpl renders the per-task user prompt.
var taskPromptTmpl = template.Must(template.New("task").Parse(`TASK: {{.Instructions}}

For every field you fill, emit one decision with:
- path: the field path exactly as listed
- value: the exact value you set (null if not reported)
- evidence: one sentence grounding the value in the paper text
- page: the page number if identifiable, else 0

FIELDS:
{{.Fields}}

PAPER_TEXT (VIEW):
{{.View}}
`))

const inc = "sheets/included_articles/"
const loe = "sheets/level_of_evidence/"

// Tasks is the extraction fan-out for one document, in a fixed order so
// sequence draws are reproducible under a deterministic driver.
var Tasks = []Task{
	{
		Name: "identification",
		System: driverSystem + `
Classify study_type as one of: rct|cohort|case_series|case_control|systematic_review|other|unclear.
Site flags: set maxilla/mandible/both as applicable (null if not reported).`,
		Fields: []string{
			"study_type",
			inc + "pmid", inc + "doi", inc + "title", inc + "author",
			inc + "year", inc + "study_design",
			inc + "n_pts", inc + "age_mean_years",
			inc + "gender_male_n", inc + "gender_female_n",
			inc + "site_maxilla", inc + "site_mandible", inc + "site_both",
			inc + "primary_cause_breast_cancer", inc + "primary_cause_prostate_cancer",
			inc + "primary_cause_mm", inc + "primary_cause_osteoporosis",
			inc + "primary_cause_other", inc + "primary_cause_other_details",
		},
	},
	{
		Name: "therapy",
		System: driverSystem + `
Drug flags: set the specific bisphosphonate subtype(s) if stated; denosumab if stated; ards_both if both.
Route flags: set the most specific route(s); if truly not reported set route_not_reported=1.
mronj_development must be one of: Yes|No|Unclear|NR.`,
		Fields: []string{
			inc + "ards_bisphosphonates_alendronate", inc + "ards_bisphosphonates_zoledronate",
			inc + "ards_bisphosphonates_risedronate", inc + "ards_bisphosphonates_neridronate",
			inc + "ards_bisphosphonates_pamidronate", inc + "ards_bisphosphonates_others",
			inc + "ards_bisphosphonates_others_details",
			inc + "ards_denosumab", inc + "ards_both",
			inc + "ards_other_drug", inc + "ards_other_drug_details",
			inc + "route_iv", inc + "route_oral", inc + "route_im",
			inc + "route_subcutaneous", inc + "route_both", inc + "route_not_reported",
			inc + "mronj_stage_at_risk", inc + "mronj_stage_0",
			inc + "prevention_technique", inc + "group_intervention", inc + "group_control",
			inc + "follow_up_mean_months", inc + "follow_up_range", inc + "outcome_variable",
			inc + "mronj_development", inc + "mronj_development_details",
		},
	},
	{
		Name: "appraisal",
		System: driverSystem + `
Classify study_type as one of: rct|cohort|case_series|case_control|systematic_review|other|unclear.
Fill level_of_evidence only if the paper explicitly states it; else null.
Fill exactly ONE appraisal sheet matching the study type (rct -> rct_appraisal, cohort -> cohort_appraisal, case_series -> case_series_appraisal, case_control -> case_control_appraisal, systematic_review -> systematic_appraisal); other/unclear fill none.
Appraisal questions: 1 for Yes, 0 for No, null for unclear or not stated.`,
		Fields: appraisalFields(),
	},
}

// appraisalFields enumerates the evidence-level fields plus every scored
// question on every appraisal sheet; the prompt tells the driver which
// single sheet applies.
func appraisalFields() []string {
	fields := []string{
		"study_type",
		loe + "level_of_evidence", loe + "grade_of_recommendation",
	}
	sheets := []string{
		schema.RCTSheet, schema.CohortSheet, schema.CaseSeriesSheet,
		schema.CaseControlSheet, schema.SystematicSheet,
	}
	for _, sheet := range sheets {
		for _, q := range schema.AppraisalQuestions(sheet) {
			fields = append(fields, sheet+"/"+q)
		}
	}
	return fields
}

// renderTaskPrompt builds the user prompt for one task against a view.
func renderTaskPrompt(task Task, view string) (string, error) {
	instructions := "Extract the listed fields from the paper."
	var buf bytes.Buffer
	err := taskPromptTmpl.Execute(&buf, struct {
		Instructions string
		Fields       string
		View         string
	}{
		Instructions: instructions,
		Fields:       strings.Join(task.Fields, "\n"),
		View:         view,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
