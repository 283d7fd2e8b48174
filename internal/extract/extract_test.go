// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// --- mock drivers ---

type mockDriver struct {
	responses map[string]TaskResponse // task name → response
	calls     int
}

func (m *mockDriver) Extract(_ context.Context, task Task, _ string) (TaskResponse, error) {
	m.calls++
	if resp, ok := m.responses[task.Name]; ok {
		return resp, nil
	}
	return TaskResponse{}, nil
}

// failTaskDriver fails a named task the first N calls, succeeds otherwise.
type failTaskDriver struct {
	failTask  string
	failures  int
	taskCalls map[string]int
}

func (f *failTaskDriver) Extract(_ context.Context, task Task, _ string) (TaskResponse, error) {
	if f.taskCalls == nil {
		f.taskCalls = make(map[string]int)
	}
	f.taskCalls[task.Name]++
	if task.Name == f.failTask && f.taskCalls[task.Name] <= f.failures {
		return TaskResponse{}, fmt.Errorf("transient error (call %d)", f.taskCalls[task.Name])
	}
	return TaskResponse{Decisions: []TaskDecision{
		{Path: "sheets/included_articles/author", Value: "Smith", Evidence: "title page"},
	}}, nil
}

func TestMain(m *testing.M) {
	// Override backoff to avoid real sleeps in retry tests.
	backoffBase = time.Millisecond
	os.Exit(m.Run())
}

func run(t *testing.T, driver Driver, cfg types.ExtractionConfig) ([]types.Decision, []types.Warning, TaskSummary) {
	t.Helper()
	seq := &types.Sequence{}
	decisions, warnings, summary, err := Run(context.Background(), driver, "paper text", cfg, nil, seq, io.Discard)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return decisions, warnings, summary
}

// --- task fan-out ---

func TestRunCollectsAllTasks(t *testing.T) {
	driver := &mockDriver{responses: map[string]TaskResponse{
		"identification": {Decisions: []TaskDecision{
			{Path: "sheets/included_articles/pmid", Value: "12345", Evidence: "header", Page: 1},
			{Path: "sheets/included_articles/n_pts", Value: 40, Evidence: "methods"},
		}},
		"therapy": {Decisions: []TaskDecision{
			{Path: "sheets/included_articles/route_oral", Value: 1, Evidence: "methods"},
		}},
		"appraisal": {Decisions: []TaskDecision{
			{Path: "study_type", Value: "cohort", Evidence: "design statement"},
		}},
	}}

	decisions, warnings, summary := run(t, driver, types.ExtractionConfig{})

	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	if summary.Completed != len(Tasks) || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(decisions) != 4 {
		t.Fatalf("got %d decisions, want 4", len(decisions))
	}
}

func TestRunStampsProvenance(t *testing.T) {
	driver := &mockDriver{responses: map[string]TaskResponse{
		"therapy": {Decisions: []TaskDecision{
			{Path: "/sheets/included_articles/route_oral", Value: 1, Evidence: "methods", Page: 3},
		}},
	}}

	decisions, _, _ := run(t, driver, types.ExtractionConfig{})

	if len(decisions) != 1 {
		t.Fatalf("got %d decisions, want 1", len(decisions))
	}
	d := decisions[0]
	if d.Source != "therapy" {
		t.Errorf("Source = %q, want therapy", d.Source)
	}
	if strings.HasPrefix(d.Path, "/") {
		t.Errorf("leading slash not stripped: %q", d.Path)
	}
	if d.Status != types.StatusProposed {
		t.Errorf("Status = %q, want proposed", d.Status)
	}
	if d.Page != 3 {
		t.Errorf("Page = %d, want 3", d.Page)
	}
	if d.Sequence == 0 {
		t.Error("Sequence not drawn")
	}
}

func TestRunUniqueSequences(t *testing.T) {
	driver := &mockDriver{responses: map[string]TaskResponse{
		"identification": {Decisions: []TaskDecision{
			{Path: "sheets/included_articles/pmid", Value: "12345"},
			{Path: "sheets/included_articles/year", Value: 2024},
		}},
		"therapy": {Decisions: []TaskDecision{
			{Path: "sheets/included_articles/route_oral", Value: 1},
		}},
	}}

	decisions, _, _ := run(t, driver, types.ExtractionConfig{})

	seen := make(map[int64]bool)
	for _, d := range decisions {
		if seen[d.Sequence] {
			t.Fatalf("duplicate sequence %d", d.Sequence)
		}
		seen[d.Sequence] = true
	}
}

// An out-of-band study_type claim is folded into the decision stream.
func TestRunFoldsStudyTypeClaim(t *testing.T) {
	driver := &mockDriver{responses: map[string]TaskResponse{
		"identification": {StudyType: "rct"},
	}}

	decisions, _, _ := run(t, driver, types.ExtractionConfig{})

	if len(decisions) != 1 {
		t.Fatalf("got %d decisions, want 1", len(decisions))
	}
	if decisions[0].Path != "study_type" || decisions[0].Value != "rct" {
		t.Errorf("unexpected decision %+v", decisions[0])
	}
}

func TestRunDropsEmptyPaths(t *testing.T) {
	driver := &mockDriver{responses: map[string]TaskResponse{
		"therapy": {Decisions: []TaskDecision{
			{Path: "  ", Value: 1},
			{Path: "sheets/included_articles/route_oral", Value: 1},
		}},
	}}

	decisions, _, _ := run(t, driver, types.ExtractionConfig{})
	if len(decisions) != 1 {
		t.Fatalf("got %d decisions, want 1", len(decisions))
	}
}

// --- retries and degradation ---

func TestRunRetriesTransientFaults(t *testing.T) {
	driver := &failTaskDriver{failTask: "therapy", failures: 2}
	cfg := types.ExtractionConfig{}
	cfg.MaxRetries = 3

	_, warnings, summary := run(t, driver, cfg)

	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	if summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if driver.taskCalls["therapy"] != 3 {
		t.Errorf("therapy calls = %d, want 3", driver.taskCalls["therapy"])
	}
}

// A task that exhausts retries degrades to a warning; the other tasks'
// decisions still ship.
func TestRunDegradesFailedTask(t *testing.T) {
	driver := &failTaskDriver{failTask: "appraisal", failures: 100}
	cfg := types.ExtractionConfig{}
	cfg.MaxRetries = 1

	decisions, warnings, summary := run(t, driver, cfg)

	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", warnings)
	}
	if warnings[0].Rule != "extraction-exhausted" {
		t.Errorf("Rule = %q", warnings[0].Rule)
	}
	if summary.Failed != 1 || summary.Completed != len(Tasks)-1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(decisions) == 0 {
		t.Error("surviving tasks produced no decisions")
	}
	if !summary.HasFailures() {
		t.Error("HasFailures() = false")
	}
}

// --- prompts ---

func TestRenderTaskPromptListsFields(t *testing.T) {
	for _, task := range Tasks {
		prompt, err := renderTaskPrompt(task, "the view text")
		if err != nil {
			t.Fatalf("%s: %v", task.Name, err)
		}
		if !strings.Contains(prompt, "the view text") {
			t.Errorf("%s: view missing from prompt", task.Name)
		}
		for _, f := range task.Fields {
			if !strings.Contains(prompt, f) {
				t.Errorf("%s: field %s missing from prompt", task.Name, f)
			}
		}
	}
}

func TestTaskFieldCoverage(t *testing.T) {
	// Every route and site flag the validation rules inspect must be
	// claimable by some task.
	want := []string{
		"sheets/included_articles/route_not_reported",
		"sheets/included_articles/site_both",
		"sheets/included_articles/mronj_development",
		"study_type",
	}
	all := make(map[string]bool)
	for _, task := range Tasks {
		for _, f := range task.Fields {
			all[f] = true
		}
	}
	for _, f := range want {
		if !all[f] {
			t.Errorf("no task claims %s", f)
		}
	}
}
