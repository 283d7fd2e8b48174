// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types holds the structs shared across pipeline stages.
package types

import "sync/atomic"

// DecisionStatus tracks a Decision through the verification lifecycle.
// Per prd002-merge R1.4: proposed → confirmed (terminal),
// proposed → disputed (terminal, cleared to null), and
// proposed → disputed → corrected (terminal, via a superseding Decision).
type DecisionStatus string

const (
	StatusProposed  DecisionStatus = "proposed"
	StatusConfirmed DecisionStatus = "confirmed"
	StatusDisputed  DecisionStatus = "disputed"
	StatusCorrected DecisionStatus = "corrected"
)

// Decision is one claimed value for one field of a document record, with
// supporting evidence and provenance. Per prd002-merge R1.1-R1.3.
type Decision struct {
	// Path addresses a field in the canonical record, e.g.
	// "sheets/included_articles/n_pts". Slash-delimited; list indices
	// are numeric segments.
	Path string `json:"path" yaml:"path"`

	// Value is the claimed value: nil, int64, float64, or a short string.
	// Nil means the document does not report the field, which is distinct
	// from the field never having been visited.
	Value any `json:"value" yaml:"value"`

	// Evidence is at most one supporting sentence from the document.
	// Empty for nil values.
	Evidence string `json:"evidence,omitempty" yaml:"evidence,omitempty"`

	// Page is the page the evidence was found on (0 if unknown).
	Page int `json:"page,omitempty" yaml:"page,omitempty"`

	// Source names the extraction task or reviewer that produced the
	// Decision (e.g. "therapy", "verifier").
	Source string `json:"source" yaml:"source"`

	// Sequence is assigned at emission time and establishes write order
	// for conflict resolution. Per prd002-merge R2.3.
	Sequence int64 `json:"sequence" yaml:"sequence"`

	// Status is the verification state. New Decisions start proposed.
	Status DecisionStatus `json:"status" yaml:"status"`
}

// AuditEntry is one row of a record's append-only revision history.
// Superseded entries are retained, never deleted, so every field's full
// history is reconstructable. Per prd002-merge R3.1-R3.3.
type AuditEntry struct {
	Decision   Decision `json:"decision" yaml:"decision"`
	Superseded bool     `json:"superseded" yaml:"superseded"`
}

// Sequence hands out monotonically increasing sequence numbers. Extraction
// tasks running concurrently for one document share a Sequence so their
// Decisions carry stable, comparable write order assigned at emission time.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}
