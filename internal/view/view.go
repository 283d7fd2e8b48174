// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package view builds the bounded document view both AI stages read.
// Implements: prd006-extraction (R1); docs/ARCHITECTURE § Document View.
//
// Full papers routinely exceed the model context budget, so the view
// keeps the head of the document plus a window around each section
// heading that matters for evidence extraction. Extraction and
// verification read the identical view, so a verifier disagreement means
// the extractor misread the text, not that it saw different text.
package view

import (
	"regexp"
	"strings"
)

// DefaultMaxChars bounds the assembled view.
const DefaultMaxChars = 60000

const (
	headChars    = 7000
	windowBefore = 1500
	windowSpan   = 12000
)

// sectionKeys are matched case-insensitively against the cleaned text;
// each hit contributes one labeled window.
var sectionKeys = []string{
	"abstract",
	"introduction",
	"methods",
	"materials and methods",
	"results",
	"discussion",
	"conclusion",
	"table",
	"supplement",
}

var (
	trailingWS = regexp.MustCompile(`[ \t]+\n`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// Build assembles the view for one document: whitespace-normalized head
// plus a window per section heading found, truncated to maxChars. A
// maxChars of zero or less means DefaultMaxChars.
func Build(fullText string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	t := trailingWS.ReplaceAllString(fullText, "\n")
	t = blankRuns.ReplaceAllString(t, "\n\n")
	lower := strings.ToLower(t)

	var b strings.Builder
	b.WriteString(head(t))

	for _, key := range sectionKeys {
		w := window(t, lower, key)
		if w == "" {
			continue
		}
		b.WriteString("\n\n===== " + strings.ToUpper(key) + " (WINDOW) =====\n")
		b.WriteString(w)
	}

	out := b.String()
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}

func head(t string) string {
	if len(t) <= headChars {
		return t
	}
	return t[:headChars]
}

// window cuts a slice around the first occurrence of key, reaching a
// little before the heading and well past it.
func window(t, lower, key string) string {
	idx := strings.Index(lower, key)
	if idx < 0 {
		return ""
	}
	start := idx - windowBefore
	if start < 0 {
		start = 0
	}
	end := idx + windowSpan
	if end > len(t) {
		end = len(t)
	}
	return t[start:end]
}
