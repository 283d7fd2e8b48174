// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sheet

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"

	"github.com/pdiddy/evidence-engine/internal/pointer"
	"github.com/pdiddy/evidence-engine/internal/schema"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const reportTitle = "# MRONJ prevention extraction: human review log\n"

// AppendReport appends one document's review section to the Markdown
// log at path, creating the file with a title on first write. The log
// explains every disagreement: disputed paths with their full revision
// history, plus the validation warnings.
func AppendReport(path string, result *types.DocumentResult) error {
	var b strings.Builder

	if _, err := os.Stat(path); os.IsNotExist(err) {
		b.WriteString(reportTitle)
	}

	b.WriteString("\n## PMID: " + displayID(result) + "\n\n")
	if title := recordText(result, schema.TitlePath); title != "" {
		b.WriteString("Title: " + title + "\n")
	}
	if doi := recordText(result, schema.DOIPath); doi != "" {
		b.WriteString("DOI: " + doi + "\n")
	}
	b.WriteString("Study type: " + string(result.Category) + "\n")
	if result.NeedsReview {
		b.WriteString("Needs human review: YES\n")
	} else {
		b.WriteString("Needs human review: NO\n")
	}

	writeDisputes(&b, result)
	writeWarnings(&b, result)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening review log %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("writing review log: %w", err)
	}
	return nil
}

func writeDisputes(b *strings.Builder, result *types.DocumentResult) {
	disputed := result.DisputedPaths()
	b.WriteString("\n### Disputed decisions\n\n")
	if len(disputed) == 0 {
		b.WriteString("None.\n")
		return
	}

	for _, path := range disputed {
		b.WriteString("- `" + path + "`\n")
		for _, e := range result.Audit {
			if e.Decision.Path != path {
				continue
			}
			marker := "final"
			if e.Superseded {
				marker = "superseded"
			}
			fmt.Fprintf(b, "  - [%s] %s=%s (seq %d, %s): %s\n",
				marker, string(e.Decision.Status), renderValue(e.Decision.Value),
				e.Decision.Sequence, e.Decision.Source, e.Decision.Evidence)
		}
	}
}

func writeWarnings(b *strings.Builder, result *types.DocumentResult) {
	b.WriteString("\n### Warnings\n\n")
	if len(result.Warnings) == 0 {
		b.WriteString("None.\n")
		return
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(b, "- [%s] %s", warning.Rule, warning.Message)
		if len(warning.Paths) > 0 {
			fmt.Fprintf(b, " (paths: %s)", strings.Join(warning.Paths, ", "))
		}
		b.WriteString("\n")
	}
}

func displayID(result *types.DocumentResult) string {
	if result.ID != "" {
		return result.ID
	}
	return result.Token
}

func recordText(result *types.DocumentResult, path string) string {
	v, ok := pointer.Get(result.Record, path)
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

func renderValue(v any) string {
	if v == nil {
		return "null"
	}
	return cast.ToString(v)
}
