// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract turns a document view into a stream of Decisions.
// Implements: prd006-extraction (R1-R5); docs/ARCHITECTURE § Extraction.
//
// Extraction runs as independent tasks (identification, therapy,
// appraisal), each covering its own slice of the record schema. Tasks
// run concurrently; their field sets overlap only where the merge
// policy resolves by sequence, so concurrent arrival is safe. Sequence
// numbers are drawn at emission time from a shared counter.
package extract

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Driver abstracts the extraction model so tests can supply a mock.
// Each call handles one task against the full document view. Per
// Strategy pattern (prd006-extraction R2.1).
type Driver interface {
	Extract(ctx context.Context, task Task, view string) (TaskResponse, error)
}

// TaskResponse is the structured response from the driver for one task.
type TaskResponse struct {
	StudyType string         `json:"study_type,omitempty"`
	Decisions []TaskDecision `json:"decisions"`
}

// TaskDecision is a single claimed value as returned by the driver.
type TaskDecision struct {
	Path     string `json:"path"`
	Value    any    `json:"value"`
	Evidence string `json:"evidence"`
	Page     int    `json:"page"`
}

// TaskSummary holds counts from one document's extraction fan-out.
type TaskSummary struct {
	Completed int
	Failed    int
	Decisions int
}

// HasFailures reports whether any task exhausted its retries.
func (s TaskSummary) HasFailures() bool {
	return s.Failed > 0
}

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

const defaultMaxRetries = 3

// Run fans the extraction tasks out against the view and collects their
// Decisions. A task that exhausts its retries degrades to a warning;
// the remaining tasks' Decisions still ship, so a partial extraction
// yields a usable record instead of blocking the document.
func Run(ctx context.Context, driver Driver, view string, cfg types.ExtractionConfig, limiter *rate.Limiter, seq *types.Sequence, w io.Writer) ([]types.Decision, []types.Warning, TaskSummary, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	type taskOut struct {
		task      Task
		decisions []types.Decision
		err       error
	}
	outs := make([]taskOut, len(Tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range Tasks {
		i, task := i, task
		g.Go(func() error {
			resp, err := callWithRetry(gctx, driver, task, view, limiter, maxRetries)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				outs[i] = taskOut{task: task, err: err}
				return nil
			}
			outs[i] = taskOut{task: task, decisions: convert(resp, task, seq)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, TaskSummary{}, err
	}

	var decisions []types.Decision
	var warnings []types.Warning
	var summary TaskSummary

	for _, out := range outs {
		if out.err != nil {
			fmt.Fprintf(w, "extract: task %s failed: %v\n", out.task.Name, out.err)
			warnings = append(warnings, types.Warning{
				Rule:    "extraction-exhausted",
				Message: fmt.Sprintf("task %s failed after %d retries: %v", out.task.Name, maxRetries, out.err),
			})
			summary.Failed++
			continue
		}
		fmt.Fprintf(w, "extract: task %s returned %d decision(s)\n", out.task.Name, len(out.decisions))
		decisions = append(decisions, out.decisions...)
		summary.Completed++
	}
	summary.Decisions = len(decisions)

	return decisions, warnings, summary, nil
}

// callWithRetry calls the driver with exponential backoff (R2.3). The
// limiter is shared process-wide with verification and may be nil.
func callWithRetry(ctx context.Context, driver Driver, task Task, view string, limiter *rate.Limiter, maxRetries int) (TaskResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return TaskResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return TaskResponse{}, err
			}
		}

		resp, err := driver.Extract(ctx, task, view)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return TaskResponse{}, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// convert stamps driver output into Decisions: source from the task,
// sequence drawn per Decision at emission time. A study_type claim the
// driver reports outside the decisions array is folded in so category
// classification always reaches the merge.
func convert(resp TaskResponse, task Task, seq *types.Sequence) []types.Decision {
	var out []types.Decision
	sawStudyType := false

	for _, d := range resp.Decisions {
		path := strings.TrimPrefix(strings.TrimSpace(d.Path), "/")
		if path == "" {
			continue
		}
		if path == "study_type" {
			sawStudyType = true
		}
		out = append(out, types.Decision{
			Path:     path,
			Value:    d.Value,
			Evidence: d.Evidence,
			Page:     d.Page,
			Source:   task.Name,
			Sequence: seq.Next(),
			Status:   types.StatusProposed,
		})
	}

	if resp.StudyType != "" && !sawStudyType {
		out = append(out, types.Decision{
			Path:     "study_type",
			Value:    resp.StudyType,
			Evidence: "driver classification",
			Source:   task.Name,
			Sequence: seq.Next(),
			Status:   types.StatusProposed,
		})
	}
	return out
}
