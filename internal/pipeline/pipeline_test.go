// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/extract"
	"github.com/pdiddy/evidence-engine/internal/pointer"
	"github.com/pdiddy/evidence-engine/internal/schema"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// fixedConverter returns canned text per PDF path.
type fixedConverter struct {
	texts map[string]string
	errs  map[string]error
}

func (c *fixedConverter) Convert(_ context.Context, pdfPath string) (string, error) {
	if err := c.errs[pdfPath]; err != nil {
		return "", err
	}
	if text, ok := c.texts[pdfPath]; ok {
		return text, nil
	}
	return "Abstract\nSome study text.\nMethods\nForty patients enrolled.", nil
}

// scriptedDriver answers extraction tasks from a canned map. Tasks with
// no entry return an empty response.
type scriptedDriver struct {
	mu        sync.Mutex
	responses map[string]extract.TaskResponse
	perPath   map[string]map[string]extract.TaskResponse // keyed by view marker
}

func (d *scriptedDriver) Extract(_ context.Context, task extract.Task, view string) (extract.TaskResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for marker, responses := range d.perPath {
		if strings.Contains(view, marker) {
			return responses[task.Name], nil
		}
	}
	return d.responses[task.Name], nil
}

// echoReviewer agrees with every claim except the paths it is told to
// dispute.
type echoReviewer struct {
	unsupported map[string]bool
}

func (r *echoReviewer) Review(_ context.Context, req types.ReviewRequest) (types.ReviewResponse, error) {
	var resp types.ReviewResponse
	for _, item := range req.Items {
		verdict := types.VerdictAgree
		if r.unsupported[item.Path] {
			verdict = types.VerdictUnsupported
		}
		resp.Findings = append(resp.Findings, types.ReviewFinding{
			Path:        item.Path,
			Verdict:     verdict,
			Explanation: "checked against text",
		})
	}
	return resp, nil
}

// captureSink collects emitted results.
type captureSink struct {
	mu      sync.Mutex
	results []*types.DocumentResult
}

func (s *captureSink) Emit(_ context.Context, result *types.DocumentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

type fixedLookup struct {
	byDOI   map[string]string
	byTitle map[string]string
}

func (l *fixedLookup) PMIDByDOI(_ context.Context, doi string) (string, bool, error) {
	pmid, ok := l.byDOI[doi]
	return pmid, ok, nil
}

func (l *fixedLookup) PMIDByTitle(_ context.Context, title string) (string, bool, error) {
	pmid, ok := l.byTitle[title]
	return pmid, ok, nil
}

func cleanIdentification(pmid string) extract.TaskResponse {
	return extract.TaskResponse{
		StudyType: "cohort",
		Decisions: []extract.TaskDecision{
			{Path: schema.PMIDPath, Value: pmid, Evidence: "header", Page: 1},
			{Path: schema.IncludedSheet + "/author", Value: "Smith", Evidence: "byline", Page: 1},
			{Path: schema.IncludedSheet + "/n_pts", Value: float64(40), Evidence: "methods", Page: 3},
			{Path: schema.IncludedSheet + "/site_mandible", Value: true, Evidence: "results", Page: 4},
		},
	}
}

func cleanTherapy() extract.TaskResponse {
	return extract.TaskResponse{
		Decisions: []extract.TaskDecision{
			{Path: schema.IncludedSheet + "/route_oral", Value: true, Evidence: "methods", Page: 3},
			{Path: schema.IncludedSheet + "/mronj_development", Value: "No", Evidence: "results", Page: 5},
		},
	}
}

func cleanAppraisal() extract.TaskResponse {
	return extract.TaskResponse{
		Decisions: []extract.TaskDecision{
			{Path: schema.CohortSheet + "/q1_clear_question", Value: true, Evidence: "aims", Page: 1},
			{Path: schema.CohortSheet + "/q2_cohort_recruited", Value: false, Evidence: "methods", Page: 3},
		},
	}
}

func testConfig() types.PipelineConfig {
	cfg := types.PipelineConfig{}
	cfg.ModelRequestsPerMinute = 100000
	cfg.MaxConcurrentDocuments = 2
	return cfg
}

func TestRunSingleDocument(t *testing.T) {
	driver := &scriptedDriver{responses: map[string]extract.TaskResponse{
		"identification": cleanIdentification("31542391"),
		"therapy":        cleanTherapy(),
		"appraisal":      cleanAppraisal(),
	}}
	sink := &captureSink{}

	p := New(&fixedConverter{}, driver, &echoReviewer{}, nil, testConfig())
	summary, err := p.Run(context.Background(), []string{"paper.pdf"}, sink, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.NeedsReview)
	require.Len(t, sink.results, 1)

	result := sink.results[0]
	assert.Equal(t, "31542391", result.ID)
	assert.Equal(t, "paper.pdf", result.SourcePath)
	assert.Equal(t, types.CategoryCohort, result.Category)
	assert.False(t, result.NeedsReview)
	assert.Empty(t, result.Warnings)
	assert.False(t, result.ProcessedAt.IsZero())

	n, ok := pointer.Get(result.Record, schema.IncludedSheet+"/n_pts")
	require.True(t, ok)
	assert.Equal(t, float64(40), n)

	// The appraisal answers produce a derived score.
	score, ok := pointer.Get(result.Record, schema.CohortSheet+"/total_score")
	require.True(t, ok)
	assert.Equal(t, int64(1), score)

	// Every extracted claim came back confirmed.
	for _, e := range result.Audit {
		if e.Superseded || e.Decision.Source == "scoring" {
			continue
		}
		assert.Equal(t, types.StatusConfirmed, e.Decision.Status, e.Decision.Path)
	}
}

func TestRunFlagsDisputesForReview(t *testing.T) {
	driver := &scriptedDriver{responses: map[string]extract.TaskResponse{
		"identification": cleanIdentification("31542391"),
		"therapy":        cleanTherapy(),
		"appraisal":      cleanAppraisal(),
	}}
	reviewer := &echoReviewer{unsupported: map[string]bool{
		schema.IncludedSheet + "/n_pts": true,
	}}
	sink := &captureSink{}

	p := New(&fixedConverter{}, driver, reviewer, nil, testConfig())
	summary, err := p.Run(context.Background(), []string{"paper.pdf"}, sink, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NeedsReview)
	require.Len(t, sink.results, 1)

	result := sink.results[0]
	assert.True(t, result.NeedsReview)
	assert.Contains(t, result.DisputedPaths(), schema.IncludedSheet+"/n_pts")

	// The unsupported claim was cleared from the record.
	v, ok := pointer.Get(result.Record, schema.IncludedSheet+"/n_pts")
	if ok {
		assert.Nil(t, v)
	}
}

func TestRunResolvesIdentityThroughLookup(t *testing.T) {
	resp := cleanIdentification("")
	resp.Decisions[0] = extract.TaskDecision{
		Path: schema.DOIPath, Value: "10.1000/xyz", Evidence: "footer", Page: 1,
	}
	driver := &scriptedDriver{responses: map[string]extract.TaskResponse{
		"identification": resp,
		"therapy":        cleanTherapy(),
		"appraisal":      cleanAppraisal(),
	}}
	lookup := &fixedLookup{byDOI: map[string]string{"10.1000/xyz": "99887766"}}
	sink := &captureSink{}

	cfg := testConfig()
	cfg.Lookup.Enabled = true
	p := New(&fixedConverter{}, driver, &echoReviewer{}, lookup, cfg)
	_, err := p.Run(context.Background(), []string{"paper.pdf"}, sink, io.Discard)
	require.NoError(t, err)

	require.Len(t, sink.results, 1)
	assert.Equal(t, "99887766", sink.results[0].ID)
}

func TestRunJoinsDuplicateIdentity(t *testing.T) {
	base := map[string]extract.TaskResponse{
		"identification": cleanIdentification("31542391"),
		"therapy":        cleanTherapy(),
		"appraisal":      cleanAppraisal(),
	}
	second := map[string]extract.TaskResponse{
		"identification": cleanIdentification("31542391"),
		"therapy":        cleanTherapy(),
		"appraisal":      cleanAppraisal(),
	}
	// The later document claims a different patient count.
	second["identification"].Decisions[2].Value = float64(38)

	driver := &scriptedDriver{perPath: map[string]map[string]extract.TaskResponse{
		"FIRST COPY":  base,
		"SECOND COPY": second,
	}}
	converter := &fixedConverter{texts: map[string]string{
		"a.pdf": "FIRST COPY of the study text.",
		"b.pdf": "SECOND COPY of the study text.",
	}}
	sink := &captureSink{}

	cfg := testConfig()
	cfg.MaxConcurrentDocuments = 1
	p := New(converter, driver, &echoReviewer{}, nil, cfg)
	summary, err := p.Run(context.Background(), []string{"a.pdf", "b.pdf"}, sink, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	require.Len(t, sink.results, 1)

	result := sink.results[0]
	assert.Equal(t, "31542391", result.ID)
	assert.True(t, result.NeedsReview)

	var rules []string
	for _, warning := range result.Warnings {
		rules = append(rules, warning.Rule)
	}
	assert.Contains(t, rules, "identity-conflict")

	// The later arrival's count wins under the merge policy.
	n, ok := pointer.Get(result.Record, schema.IncludedSheet+"/n_pts")
	require.True(t, ok)
	assert.Equal(t, float64(38), n)
}

func TestRunIsolatesDocumentFailure(t *testing.T) {
	driver := &scriptedDriver{responses: map[string]extract.TaskResponse{
		"identification": cleanIdentification("31542391"),
		"therapy":        cleanTherapy(),
		"appraisal":      cleanAppraisal(),
	}}
	converter := &fixedConverter{errs: map[string]error{
		"broken.pdf": errors.New("pdftotext: damaged xref table"),
	}}
	sink := &captureSink{}

	var progress strings.Builder
	p := New(converter, driver, &echoReviewer{}, nil, testConfig())
	summary, err := p.Run(context.Background(), []string{"broken.pdf", "good.pdf"}, sink, &progress)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.HasFailures())
	require.Len(t, sink.results, 1)
	assert.Equal(t, "good.pdf", sink.results[0].SourcePath)
	assert.Contains(t, progress.String(), "damaged xref table")
}

func TestRunUnresolvedIdentityKeepsToken(t *testing.T) {
	resp := cleanIdentification("")
	resp.Decisions = resp.Decisions[1:] // no pmid claim at all
	driver := &scriptedDriver{responses: map[string]extract.TaskResponse{
		"identification": resp,
		"therapy":        cleanTherapy(),
		"appraisal":      cleanAppraisal(),
	}}
	sink := &captureSink{}

	p := New(&fixedConverter{}, driver, &echoReviewer{}, nil, testConfig())
	_, err := p.Run(context.Background(), []string{"paper.pdf"}, sink, io.Discard)
	require.NoError(t, err)

	require.Len(t, sink.results, 1)
	result := sink.results[0]
	assert.True(t, strings.HasPrefix(result.ID, "doc-"))
	assert.Equal(t, result.Token, result.ID)
}
