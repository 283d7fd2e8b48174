// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package verify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/merge"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

func TestMain(m *testing.M) {
	// Override backoff to avoid real sleeps in retry tests.
	retryBase = time.Millisecond
	os.Exit(m.Run())
}

// --- mock reviewer ---

// verdictReviewer answers each path from a fixed verdict table; unknown
// paths get agree.
type verdictReviewer struct {
	findings map[string]types.ReviewFinding
	calls    atomic.Int32
}

func (r *verdictReviewer) Review(_ context.Context, req types.ReviewRequest) (types.ReviewResponse, error) {
	r.calls.Add(1)
	var resp types.ReviewResponse
	for _, item := range req.Items {
		if f, ok := r.findings[item.Path]; ok {
			resp.Findings = append(resp.Findings, f)
			continue
		}
		resp.Findings = append(resp.Findings, types.ReviewFinding{Path: item.Path, Verdict: types.VerdictAgree})
	}
	return resp, nil
}

// failNTimesReviewer fails the first N calls, then agrees with everything.
type failNTimesReviewer struct {
	failures int
	calls    atomic.Int32
}

func (r *failNTimesReviewer) Review(_ context.Context, req types.ReviewRequest) (types.ReviewResponse, error) {
	if int(r.calls.Add(1)) <= r.failures {
		return types.ReviewResponse{}, fmt.Errorf("transport fault")
	}
	var resp types.ReviewResponse
	for _, item := range req.Items {
		resp.Findings = append(resp.Findings, types.ReviewFinding{Path: item.Path, Verdict: types.VerdictAgree})
	}
	return resp, nil
}

// --- helpers ---

func seededLedger(t *testing.T, seq *types.Sequence, values map[string]any) *merge.Ledger {
	t.Helper()
	l := merge.NewUncheckedLedger()
	for path, v := range values {
		require.NoError(t, l.Apply(types.Decision{
			Path:     path,
			Value:    v,
			Evidence: "as reported",
			Source:   "demographics",
			Sequence: seq.Next(),
			Status:   types.StatusProposed,
		}))
	}
	return l
}

func controller(r Reviewer, seq *types.Sequence, cfg types.VerificationConfig) *Controller {
	return NewController(r, cfg, nil, seq)
}

// --- verdict folding ---

func TestRunConfirmsAgreedDecisions(t *testing.T) {
	seq := &types.Sequence{}
	l := seededLedger(t, seq, map[string]any{"n_pts": int64(40), "author": "Smith"})

	c := controller(&verdictReviewer{}, seq, types.VerificationConfig{})
	warnings, err := c.Run(context.Background(), l, "paper text", io.Discard)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	for _, path := range []string{"n_pts", "author"} {
		d, ok := l.Active(path)
		require.True(t, ok)
		assert.Equal(t, types.StatusConfirmed, d.Status, path)
	}
}

func TestRunAppliesCorrection(t *testing.T) {
	seq := &types.Sequence{}
	l := seededLedger(t, seq, map[string]any{"n_pts": int64(40)})

	r := &verdictReviewer{findings: map[string]types.ReviewFinding{
		"n_pts": {
			Path:          "n_pts",
			Verdict:       types.VerdictCorrect,
			ProposedValue: int64(38),
			Evidence:      "table 1 reports 38 patients",
		},
	}}

	c := controller(r, seq, types.VerificationConfig{})
	_, err := c.Run(context.Background(), l, "paper text", io.Discard)
	require.NoError(t, err)

	d, ok := l.Active("n_pts")
	require.True(t, ok)
	assert.Equal(t, int64(38), d.Value)
	assert.Equal(t, types.StatusCorrected, d.Status)
	assert.Equal(t, "verifier", d.Source)

	// The overridden claim survives in the audit trail.
	audit := l.Audit()
	require.Len(t, audit, 2)
	assert.Equal(t, int64(40), audit[0].Decision.Value)
	assert.True(t, audit[0].Superseded)
	assert.Equal(t, types.StatusDisputed, audit[0].Decision.Status)
}

// An unsupported claim is cleared to null and flagged disputed; the
// original value stays visible in the audit trail.
func TestRunClearsUnsupportedClaim(t *testing.T) {
	seq := &types.Sequence{}
	l := seededLedger(t, seq, map[string]any{"n_pts": int64(40)})

	r := &verdictReviewer{findings: map[string]types.ReviewFinding{
		"n_pts": {
			Path:        "n_pts",
			Verdict:     types.VerdictUnsupported,
			Explanation: "no patient count appears anywhere in the paper",
		},
	}}

	c := controller(r, seq, types.VerificationConfig{})
	_, err := c.Run(context.Background(), l, "paper text", io.Discard)
	require.NoError(t, err)

	d, ok := l.Active("n_pts")
	require.True(t, ok)
	assert.Nil(t, d.Value)
	assert.Equal(t, types.StatusDisputed, d.Status)

	audit := l.Audit()
	assert.Equal(t, int64(40), audit[0].Decision.Value)
}

func TestRunSkipsNullDecisions(t *testing.T) {
	seq := &types.Sequence{}
	l := seededLedger(t, seq, map[string]any{"n_pts": nil, "author": "Smith"})

	r := &verdictReviewer{}
	c := controller(r, seq, types.VerificationConfig{})
	_, err := c.Run(context.Background(), l, "paper text", io.Discard)
	require.NoError(t, err)

	// Only the author reached the reviewer; the null kept its status.
	d, _ := l.Active("n_pts")
	assert.Equal(t, types.StatusProposed, d.Status)
	d, _ = l.Active("author")
	assert.Equal(t, types.StatusConfirmed, d.Status)
}

func TestRunWarnsOnUnaddressedDecision(t *testing.T) {
	seq := &types.Sequence{}
	l := seededLedger(t, seq, map[string]any{"n_pts": int64(40)})

	// Reviewer answers about a path it was never asked about.
	silent := reviewerFunc(func(_ context.Context, _ types.ReviewRequest) (types.ReviewResponse, error) {
		return types.ReviewResponse{}, nil
	})

	c := controller(silent, seq, types.VerificationConfig{})
	warnings, err := c.Run(context.Background(), l, "paper text", io.Discard)
	require.NoError(t, err)

	require.Len(t, warnings, 1)
	assert.Equal(t, "review-missing", warnings[0].Rule)

	d, _ := l.Active("n_pts")
	assert.Equal(t, types.StatusProposed, d.Status)
}

type reviewerFunc func(context.Context, types.ReviewRequest) (types.ReviewResponse, error)

func (f reviewerFunc) Review(ctx context.Context, req types.ReviewRequest) (types.ReviewResponse, error) {
	return f(ctx, req)
}

// --- retries ---

func TestRunRetriesTransientFaults(t *testing.T) {
	seq := &types.Sequence{}
	l := seededLedger(t, seq, map[string]any{"n_pts": int64(40)})

	r := &failNTimesReviewer{failures: 2}
	c := controller(r, seq, types.VerificationConfig{})
	warnings, err := c.Run(context.Background(), l, "paper text", io.Discard)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	d, _ := l.Active("n_pts")
	assert.Equal(t, types.StatusConfirmed, d.Status)
	assert.Equal(t, int32(3), r.calls.Load())
}

// Exhausted retries degrade the chunk to unverified with a warning;
// decisions keep their pre-verification status and value.
func TestRunDegradesToUnverified(t *testing.T) {
	seq := &types.Sequence{}
	l := seededLedger(t, seq, map[string]any{"n_pts": int64(40)})

	r := &failNTimesReviewer{failures: 100}
	cfg := types.VerificationConfig{}
	cfg.MaxRetries = 1

	var progress strings.Builder
	c := controller(r, seq, cfg)
	warnings, err := c.Run(context.Background(), l, "paper text", &progress)
	require.NoError(t, err, "exhaustion is a warning, not a run failure")

	require.Len(t, warnings, 1)
	assert.Equal(t, "verification-exhausted", warnings[0].Rule)
	assert.Equal(t, []string{"n_pts"}, warnings[0].Paths)
	assert.Contains(t, progress.String(), "unverified")

	d, _ := l.Active("n_pts")
	assert.Equal(t, types.StatusProposed, d.Status)
	assert.Equal(t, int64(40), d.Value)
	assert.Equal(t, int32(2), r.calls.Load())
}

// --- chunk partitioning ---

func TestPartitionByCount(t *testing.T) {
	items := make([]types.Decision, 10)
	for i := range items {
		items[i] = types.Decision{Path: fmt.Sprintf("f%02d", i), Value: i}
	}

	chunks := partition(items, 4, 1<<20)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 4)
	assert.Len(t, chunks[1], 4)
	assert.Len(t, chunks[2], 2)

	// Path order preserved across chunk boundaries.
	assert.Equal(t, "f00", chunks[0][0].Path)
	assert.Equal(t, "f04", chunks[1][0].Path)
	assert.Equal(t, "f08", chunks[2][0].Path)
}

func TestPartitionByEvidenceBudget(t *testing.T) {
	long := strings.Repeat("e", 600)
	items := []types.Decision{
		{Path: "a", Value: 1, Evidence: long},
		{Path: "b", Value: 2, Evidence: long},
		{Path: "c", Value: 3, Evidence: long},
	}

	chunks := partition(items, 24, 1000)
	require.Len(t, chunks, 3, "whichever bound trips first closes the chunk")
}

func TestPartitionOversizedSingleItem(t *testing.T) {
	items := []types.Decision{{Path: "a", Value: 1, Evidence: strings.Repeat("e", 5000)}}
	chunks := partition(items, 24, 1000)
	require.Len(t, chunks, 1, "a single oversized item still ships alone")
	assert.Len(t, chunks[0], 1)
}

func TestRunEmptyLedger(t *testing.T) {
	seq := &types.Sequence{}
	l := merge.NewUncheckedLedger()

	c := controller(&verdictReviewer{}, seq, types.VerificationConfig{})
	warnings, err := c.Run(context.Background(), l, "paper text", io.Discard)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}
