// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// StudyCategory classifies the study design of a source document and selects
// which appraisal field set applies. Per prd001-schema R2.1.
type StudyCategory string

const (
	CategoryRCT         StudyCategory = "rct"
	CategoryCohort      StudyCategory = "cohort"
	CategoryCaseSeries  StudyCategory = "case_series"
	CategoryCaseControl StudyCategory = "case_control"
	CategorySystematic  StudyCategory = "systematic_review"
	CategoryOther       StudyCategory = "other"
	CategoryUnclear     StudyCategory = "unclear"
)

// Warning is a non-fatal annotation attached to a finalized record: a rule
// name, the offending paths, and a human-readable description. Warnings
// never block output. Per prd004-validation R1.1.
type Warning struct {
	// Rule names the check that fired (e.g. "route-not-reported-conflict",
	// "identity-conflict", "verification-exhausted").
	Rule string `json:"rule" yaml:"rule"`

	// Paths lists the record paths involved.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// Message describes the problem for a human reviewer.
	Message string `json:"message" yaml:"message"`
}

// Verdict is a reviewer's judgement on one Decision. Per prd003-verification R3.1.
type Verdict string

const (
	// VerdictAgree confirms the Decision; no value change.
	VerdictAgree Verdict = "agree"

	// VerdictCorrect rejects the value and proposes a correction.
	VerdictCorrect Verdict = "disagree-with-correction"

	// VerdictUnsupported rejects the value without a supported alternative;
	// the field is cleared to null rather than left un-flagged.
	VerdictUnsupported Verdict = "disagree-unsupported"
)

// ReviewItem is one Decision presented to a reviewer.
type ReviewItem struct {
	Path     string `json:"path" yaml:"path"`
	Value    any    `json:"value" yaml:"value"`
	Evidence string `json:"evidence" yaml:"evidence"`
}

// ReviewRequest asks an independent reviewer to check one chunk of
// Decisions against the document view. Per prd003-verification R2.1.
type ReviewRequest struct {
	View  string       `json:"view" yaml:"view"`
	Items []ReviewItem `json:"items" yaml:"items"`
}

// ReviewFinding is the reviewer's per-Decision response.
type ReviewFinding struct {
	Path          string  `json:"path" yaml:"path"`
	Verdict       Verdict `json:"verdict" yaml:"verdict"`
	ProposedValue any     `json:"proposed_value,omitempty" yaml:"proposed_value,omitempty"`
	Explanation   string  `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Evidence      string  `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// ReviewResponse is the reviewer's answer for one ReviewRequest.
type ReviewResponse struct {
	Findings []ReviewFinding `json:"findings" yaml:"findings"`
}

// DocumentResult is a finalized per-document output: the canonical record,
// the full audit trail, and all warnings. Sufficient for a serializer to
// render final values and explain every disagreement. Per prd005-output R1.1.
type DocumentResult struct {
	// ID is the canonical row identity (normalized PMID), or the opaque
	// token when no identifier ever resolved.
	ID string `json:"id" yaml:"id"`

	// Token is the opaque per-document token assigned before an
	// identifier resolved.
	Token string `json:"token" yaml:"token"`

	// SourcePath is the document the record was extracted from.
	SourcePath string `json:"source_path" yaml:"source_path"`

	// Category is the study design classification.
	Category StudyCategory `json:"category" yaml:"category"`

	// Record is the canonical nested mapping from path to active value.
	Record map[string]any `json:"record" yaml:"record"`

	// Audit is the append-only revision history of every field.
	Audit []AuditEntry `json:"audit" yaml:"audit"`

	// Warnings collects validation, identity, and verification warnings.
	Warnings []Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// NeedsReview is true when any Decision is disputed or any warning
	// requires a human pass.
	NeedsReview bool `json:"needs_review" yaml:"needs_review"`

	// ProcessedAt is when the record was finalized.
	ProcessedAt time.Time `json:"processed_at" yaml:"processed_at"`
}

// DisputedPaths returns the paths whose active Decision ended disputed.
func (r *DocumentResult) DisputedPaths() []string {
	seen := make(map[string]bool)
	var paths []string
	for i := len(r.Audit) - 1; i >= 0; i-- {
		e := r.Audit[i]
		if e.Superseded || seen[e.Decision.Path] {
			continue
		}
		seen[e.Decision.Path] = true
		if e.Decision.Status == StatusDisputed {
			paths = append(paths, e.Decision.Path)
		}
	}
	return paths
}
