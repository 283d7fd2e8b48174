// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sheet

import (
	"fmt"

	"github.com/pdiddy/evidence-engine/internal/pointer"
	"github.com/pdiddy/evidence-engine/internal/schema"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Scores derives a total_score Decision for every appraisal sheet the
// record populates: one point per affirmative question. Emitted as
// Decisions so the computed score carries provenance like any other
// value.
func Scores(record map[string]any, seq *types.Sequence) []types.Decision {
	var out []types.Decision

	for _, sheetPrefix := range []string{
		schema.RCTSheet, schema.CohortSheet, schema.CaseSeriesSheet,
		schema.CaseControlSheet, schema.SystematicSheet,
	} {
		questions := schema.AppraisalQuestions(sheetPrefix)
		score := 0
		answered := 0
		for _, q := range questions {
			v, ok := pointer.Get(record, sheetPrefix+"/"+q)
			if !ok || v == nil {
				continue
			}
			answered++
			if set, known := schema.Truthy(v); known && set {
				score++
			}
		}
		if answered == 0 {
			continue
		}
		out = append(out, types.Decision{
			Path:     sheetPrefix + "/total_score",
			Value:    int64(score),
			Evidence: fmt.Sprintf("%d of %d appraisal questions affirmative", score, len(questions)),
			Source:   "scoring",
			Sequence: seq.Next(),
			Status:   types.StatusProposed,
		})
	}

	return out
}
