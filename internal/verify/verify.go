// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package verify re-checks every active non-null Decision of a merged
// record against source evidence through an independent reviewer.
// Implements: prd003-verification (R1-R4); docs/ARCHITECTURE § Verification.
//
// Review requests are chunked because the reviewing model has a finite
// context budget, and chunking keeps one failed review from invalidating
// the whole record. A chunk that exhausts its retries degrades to
// "unverified" with a warning; verification failure is never silent data
// loss.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pdiddy/evidence-engine/internal/merge"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Reviewer checks one chunk of Decisions against the document view.
// Implementations wrap an external model; tests supply a mock.
type Reviewer interface {
	Review(ctx context.Context, req types.ReviewRequest) (types.ReviewResponse, error)
}

// ExhaustedError reports a chunk whose review failed after the retry
// budget. The chunk's Decisions keep their pre-verification status.
type ExhaustedError struct {
	Paths   []string
	Retries int
	Last    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("verification exhausted after %d retries for %d decision(s): %v", e.Retries, len(e.Paths), e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Defaults per prd003-verification R2.2-R2.4.
const (
	defaultChunkSize     = 24
	defaultEvidenceBytes = 16 * 1024
	defaultMaxRetries    = 2
)

// retryBase controls the backoff between chunk retries. Tests override
// this to avoid real sleeps.
var retryBase = time.Second

// Controller runs the verification pass for one record.
type Controller struct {
	reviewer Reviewer
	cfg      types.VerificationConfig
	limiter  *rate.Limiter
	seq      *types.Sequence
}

// NewController creates a Controller. The limiter is shared process-wide
// with the extraction stage and may be nil; seq must be the same Sequence
// the extraction tasks drew from, so corrective Decisions order after
// everything already applied.
func NewController(reviewer Reviewer, cfg types.VerificationConfig, limiter *rate.Limiter, seq *types.Sequence) *Controller {
	return &Controller{reviewer: reviewer, cfg: cfg, limiter: limiter, seq: seq}
}

// Run reviews every active non-null Decision in the ledger and folds the
// verdicts back through the merge policy. Chunks review concurrently;
// folds serialize through the ledger. Returns the verification warnings.
func (c *Controller) Run(ctx context.Context, ledger *merge.Ledger, view string, w io.Writer) ([]types.Warning, error) {
	items := ledger.ActiveNonNull()
	if len(items) == 0 {
		fmt.Fprintln(w, "verify: nothing to review")
		return nil, nil
	}

	chunks := partition(items, c.chunkSize(), c.evidenceBytes())
	fmt.Fprintf(w, "verify: %d decision(s) in %d chunk(s)\n", len(items), len(chunks))

	warningCh := make(chan types.Warning, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			resp, err := c.reviewChunk(gctx, chunk, view)
			if err != nil {
				var exhausted *ExhaustedError
				if !errors.As(err, &exhausted) {
					return err
				}
				fmt.Fprintf(w, "verify: chunk %d/%d unverified: %v\n", i+1, len(chunks), exhausted)
				warningCh <- types.Warning{
					Rule:    "verification-exhausted",
					Paths:   exhausted.Paths,
					Message: exhausted.Error(),
				}
				return nil
			}
			c.fold(ledger, chunk, resp, warningCh)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(warningCh)

	var warnings []types.Warning
	for warning := range warningCh {
		warnings = append(warnings, warning)
	}
	return warnings, nil
}

// reviewChunk retries a chunk's review up to the configured bound with
// exponential backoff, then reports exhaustion.
func (c *Controller) reviewChunk(ctx context.Context, chunk []types.Decision, view string) (types.ReviewResponse, error) {
	req := types.ReviewRequest{View: view, Items: make([]types.ReviewItem, len(chunk))}
	for i, d := range chunk {
		req.Items[i] = types.ReviewItem{Path: d.Path, Value: d.Value, Evidence: d.Evidence}
	}

	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * retryBase
			select {
			case <-ctx.Done():
				return types.ReviewResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return types.ReviewResponse{}, err
			}
		}

		resp, err := c.reviewer.Review(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	paths := make([]string, len(chunk))
	for i, d := range chunk {
		paths[i] = d.Path
	}
	return types.ReviewResponse{}, &ExhaustedError{Paths: paths, Retries: maxRetries, Last: lastErr}
}

// fold interprets the reviewer's findings and applies them to the ledger.
// Decisions the reviewer did not address keep their pre-verification
// status and draw a warning.
func (c *Controller) fold(ledger *merge.Ledger, chunk []types.Decision, resp types.ReviewResponse, warningCh chan<- types.Warning) {
	byPath := make(map[string]types.ReviewFinding, len(resp.Findings))
	for _, f := range resp.Findings {
		byPath[normalizePath(f.Path)] = f
	}

	for _, d := range chunk {
		finding, ok := byPath[normalizePath(d.Path)]
		if !ok {
			warningCh <- types.Warning{
				Rule:    "review-missing",
				Paths:   []string{d.Path},
				Message: fmt.Sprintf("reviewer did not address %s; decision left unverified", d.Path),
			}
			continue
		}

		switch finding.Verdict {
		case types.VerdictAgree:
			ledger.SetStatus(d.Path, types.StatusConfirmed)

		case types.VerdictCorrect:
			ledger.SetStatus(d.Path, types.StatusDisputed)
			ledger.Apply(types.Decision{
				Path:     d.Path,
				Value:    finding.ProposedValue,
				Evidence: finding.Evidence,
				Source:   "verifier",
				Sequence: c.seq.Next(),
				Status:   types.StatusCorrected,
			})

		case types.VerdictUnsupported:
			ledger.SetStatus(d.Path, types.StatusDisputed)
			ledger.Apply(types.Decision{
				Path:     d.Path,
				Value:    nil,
				Evidence: finding.Explanation,
				Source:   "verifier",
				Sequence: c.seq.Next(),
				Status:   types.StatusDisputed,
			})

		default:
			warningCh <- types.Warning{
				Rule:    "review-unparseable",
				Paths:   []string{d.Path},
				Message: fmt.Sprintf("reviewer returned unknown verdict %q for %s", finding.Verdict, d.Path),
			}
		}
	}
}

// partition splits items into ordered chunks bounded by a maximum count
// and a maximum combined evidence length, preserving path order.
func partition(items []types.Decision, maxCount, maxBytes int) [][]types.Decision {
	var chunks [][]types.Decision
	var current []types.Decision
	bytes := 0

	for _, d := range items {
		evLen := len(d.Evidence)
		if len(current) > 0 && (len(current) >= maxCount || bytes+evLen > maxBytes) {
			chunks = append(chunks, current)
			current = nil
			bytes = 0
		}
		current = append(current, d)
		bytes += evLen
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func (c *Controller) chunkSize() int {
	if c.cfg.ChunkSize > 0 {
		return c.cfg.ChunkSize
	}
	return defaultChunkSize
}

func (c *Controller) evidenceBytes() int {
	if c.cfg.ChunkEvidenceBytes > 0 {
		return c.cfg.ChunkEvidenceBytes
	}
	return defaultEvidenceBytes
}

// normalizePath tolerates a reviewer echoing paths with a leading slash.
func normalizePath(p string) string {
	return strings.TrimPrefix(p, "/")
}
