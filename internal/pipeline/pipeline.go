// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline orchestrates the per-document flow: convert, view,
// extract, merge, resolve identity, verify, validate, score, output.
// Implements: prd002-merge R6, prd003-verification R5;
// docs/ARCHITECTURE § Pipeline.
//
// Documents process fully in parallel; the only state crossing document
// boundaries is the process-wide model rate limiter and the batch
// collision check that joins two documents resolving to the same
// identity.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pdiddy/evidence-engine/internal/convert"
	"github.com/pdiddy/evidence-engine/internal/extract"
	"github.com/pdiddy/evidence-engine/internal/identity"
	"github.com/pdiddy/evidence-engine/internal/merge"
	"github.com/pdiddy/evidence-engine/internal/pointer"
	"github.com/pdiddy/evidence-engine/internal/schema"
	"github.com/pdiddy/evidence-engine/internal/sheet"
	"github.com/pdiddy/evidence-engine/internal/validate"
	"github.com/pdiddy/evidence-engine/internal/verify"
	"github.com/pdiddy/evidence-engine/internal/view"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// IdentifierLookup resolves a PMID from secondary identifiers. The NCBI
// client implements it; tests supply a mock.
type IdentifierLookup interface {
	PMIDByDOI(ctx context.Context, doi string) (string, bool, error)
	PMIDByTitle(ctx context.Context, title string) (string, bool, error)
}

// Sink receives finalized results. The output stage (store, workbook,
// review log) implements it; tests capture results directly.
type Sink interface {
	Emit(ctx context.Context, result *types.DocumentResult) error
}

// Pipeline wires the stage collaborators for a batch run.
type Pipeline struct {
	Converter convert.Converter
	Driver    extract.Driver
	Reviewer  verify.Reviewer
	Lookup    IdentifierLookup // nil disables external lookup

	cfg     types.PipelineConfig
	limiter *rate.Limiter
}

// New creates a Pipeline. One rate limiter spans extraction and
// verification for the whole batch.
func New(converter convert.Converter, driver extract.Driver, reviewer verify.Reviewer, lk IdentifierLookup, cfg types.PipelineConfig) *Pipeline {
	rpm := cfg.ModelRequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &Pipeline{
		Converter: converter,
		Driver:    driver,
		Reviewer:  reviewer,
		Lookup:    lk,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

// BatchSummary holds counts from one batch run.
type BatchSummary struct {
	Processed   int
	Failed      int
	NeedsReview int
}

// Total returns the number of documents attempted.
func (s BatchSummary) Total() int {
	return s.Processed + s.Failed
}

// HasFailures reports whether any documents failed outright.
func (s BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// document pairs a finalized result with its live ledger so late
// identity collisions can replay audits through the merge policy.
type document struct {
	result *types.DocumentResult
	ledger *merge.Ledger
}

// Run processes a batch of PDFs and emits every finalized result to the
// sink. A document-scoped failure is counted and logged, never fatal to
// the batch.
func (p *Pipeline) Run(ctx context.Context, pdfPaths []string, sink Sink, w io.Writer) (BatchSummary, error) {
	maxDocs := p.cfg.MaxConcurrentDocuments
	if maxDocs <= 0 {
		maxDocs = 2
	}

	var mu sync.Mutex
	var summary BatchSummary
	byID := make(map[string]*document)
	var order []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDocs)

	for _, pdfPath := range pdfPaths {
		pdfPath := pdfPath
		g.Go(func() error {
			doc, err := p.processOne(gctx, pdfPath, w)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				fmt.Fprintf(w, "failed  %s: %v\n", pdfPath, err)
				summary.Failed++
				return nil
			}

			id := doc.result.ID
			if prior, ok := byID[id]; ok {
				joinDocuments(prior, doc, w)
			} else {
				byID[id] = doc
				order = append(order, id)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}

	for _, id := range order {
		doc := byID[id]
		finalize(doc)
		if doc.result.NeedsReview {
			summary.NeedsReview++
		}
		summary.Processed++
		if sink != nil {
			if err := sink.Emit(ctx, doc.result); err != nil {
				return summary, fmt.Errorf("emitting result for %s: %w", id, err)
			}
		}
		fmt.Fprintf(w, "done    %s (review: %v, warnings: %d)\n",
			id, doc.result.NeedsReview, len(doc.result.Warnings))
	}

	fmt.Fprintf(w, "\nBatch summary: %d processed, %d failed, %d need review (total: %d)\n",
		summary.Processed, summary.Failed, summary.NeedsReview, summary.Total())
	return summary, nil
}

// processOne runs the full per-document flow and returns the result
// with its ledger still attached.
func (p *Pipeline) processOne(ctx context.Context, pdfPath string, w io.Writer) (*document, error) {
	text, err := convert.Text(ctx, p.Converter, pdfPath, p.textCacheDir(), w)
	if err != nil {
		return nil, err
	}
	docView := view.Build(text, p.cfg.Extraction.MaxViewChars)

	seq := &types.Sequence{}
	ledger := merge.NewLedger()
	binder := identity.NewBinder()

	decisions, extractWarnings, _, err := extract.Run(ctx, p.Driver, docView, p.cfg.Extraction, p.limiter, seq, w)
	if err != nil {
		return nil, err
	}

	for _, d := range decisions {
		// Malformed decisions are recorded as ledger warnings; the
		// batch moves on.
		ledger.Apply(d)
	}

	p.resolveIdentity(ctx, ledger, binder, w)

	controller := verify.NewController(p.Reviewer, p.cfg.Verification, p.limiter, seq)
	verifyWarnings, err := controller.Run(ctx, ledger, docView, w)
	if err != nil {
		return nil, err
	}

	for _, d := range sheet.Scores(ledger.Snapshot(), seq) {
		ledger.Apply(d)
	}

	record := ledger.Snapshot()
	ruleWarnings := validate.Validate(record)

	result := &types.DocumentResult{
		ID:         binder.ID(),
		Token:      binder.Token(),
		SourcePath: pdfPath,
		Category:   schema.Category(record),
		Record:     record,
		Audit:      ledger.Audit(),
	}
	result.Warnings = append(result.Warnings, ledger.Warnings()...)
	result.Warnings = append(result.Warnings, binder.Warnings()...)
	result.Warnings = append(result.Warnings, extractWarnings...)
	result.Warnings = append(result.Warnings, verifyWarnings...)
	result.Warnings = append(result.Warnings, ruleWarnings...)

	return &document{result: result, ledger: ledger}, nil
}

// resolveIdentity offers the extracted PMID to the binder, falling back
// to an external DOI or title lookup when nothing resolved.
func (p *Pipeline) resolveIdentity(ctx context.Context, ledger *merge.Ledger, binder *identity.Binder, w io.Writer) {
	record := ledger.Snapshot()

	if v, ok := pointer.Get(record, schema.PMIDPath); ok && v != nil {
		binder.Offer(v, "extraction")
	}
	if binder.Resolved() || p.Lookup == nil || !p.cfg.Lookup.Enabled {
		return
	}

	if v, ok := pointer.Get(record, schema.DOIPath); ok && v != nil {
		if doi, _ := v.(string); doi != "" {
			if pmid, found, err := p.Lookup.PMIDByDOI(ctx, doi); err != nil {
				fmt.Fprintf(w, "lookup: DOI query failed: %v\n", err)
			} else if found {
				binder.Offer(pmid, "lookup-doi")
				return
			}
		}
	}
	if v, ok := pointer.Get(record, schema.TitlePath); ok && v != nil {
		if title, _ := v.(string); title != "" {
			if pmid, found, err := p.Lookup.PMIDByTitle(ctx, title); err != nil {
				fmt.Fprintf(w, "lookup: title query failed: %v\n", err)
			} else if found {
				binder.Offer(pmid, "lookup-title")
			}
		}
	}
}

// joinDocuments merges a second document resolving to the same identity
// into the first: the audit replays through the surviving ledger's
// policy, so conflicts re-resolve by sequence.
func joinDocuments(dst, src *document, w io.Writer) {
	fmt.Fprintf(w, "join    %s: duplicate identity, merging %s\n", dst.result.ID, src.result.SourcePath)

	// Renumber the incoming sequence draws past the surviving ledger's
	// so the later document's claims rank as newer arrivals.
	var maxSeq int64
	for _, e := range dst.result.Audit {
		if e.Decision.Sequence > maxSeq {
			maxSeq = e.Decision.Sequence
		}
	}
	audit := src.ledger.Audit()
	shifted := make([]types.AuditEntry, len(audit))
	for i, e := range audit {
		e.Decision.Sequence += maxSeq
		shifted[i] = e
	}

	dst.ledger.Adopt(shifted)
	dst.result.Record = dst.ledger.Snapshot()
	dst.result.Audit = dst.ledger.Audit()
	dst.result.Category = schema.Category(dst.result.Record)
	dst.result.Warnings = append(dst.result.Warnings, src.result.Warnings...)
	dst.result.Warnings = append(dst.result.Warnings, types.Warning{
		Rule:    "identity-conflict",
		Message: fmt.Sprintf("documents %s and %s resolve to the same identity", dst.result.SourcePath, src.result.SourcePath),
	})
}

// finalize stamps the review flag and timestamp once all joins settled.
func finalize(doc *document) {
	doc.result.ProcessedAt = time.Now().UTC()
	doc.result.NeedsReview = len(doc.result.DisputedPaths()) > 0 || len(doc.result.Warnings) > 0
}

func (p *Pipeline) textCacheDir() string {
	if p.cfg.Output.StoreDir == "" {
		return ""
	}
	return p.cfg.Output.StoreDir + "/text"
}
