// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package identity normalizes document identifiers across heterogeneous
// representations and binds every Decision stream for a document to one
// Row Identity. Implements: prd001-schema R3.1-R3.4.
package identity

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Normalize canonicalizes a raw identifier (PMID) to one textual form.
// It accepts numeric values, numeric text with surrounding whitespace or
// stray punctuation, and float renderings with a trailing ".0". The second
// return value is false when the input cannot be interpreted as an
// identifier. Normalization never truncates digits, so two genuinely
// different identifiers cannot collapse into one.
func Normalize(raw any) (string, bool) {
	if raw == nil {
		return "", false
	}

	switch v := raw.(type) {
	case bool:
		return "", false
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n := cast.ToInt64(v)
		if n <= 0 {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	case float32, float64:
		f := cast.ToFloat64(v)
		if f <= 0 || f != float64(int64(f)) {
			return "", false
		}
		return strconv.FormatInt(int64(f), 10), true
	case string:
		return normalizeString(v)
	default:
		return normalizeString(cast.ToString(raw))
	}
}

func normalizeString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.ToUpper(s), "PMID:")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")

	// Strip stray punctuation hugging the digits ("12345.", "(12345)").
	s = strings.TrimFunc(s, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

// ConflictError reports a raw identifier that normalizes inconsistently
// with the identity already bound for the document. The earlier binding is
// kept; the conflict surfaces as a warning, never a silent rebind.
type ConflictError struct {
	Bound   string
	Offered string
	Source  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("identity conflict: document bound to %s but %s offered %s", e.Bound, e.Source, e.Offered)
}

// Binder tracks the Row Identity for one document. Until an identifier
// resolves, the document is keyed by an opaque token; the first successful
// normalization binds the identity permanently.
type Binder struct {
	mu        sync.Mutex
	token     string
	canonical string
	warnings  []types.Warning
}

// NewBinder creates a Binder keyed by a fresh opaque token.
func NewBinder() *Binder {
	return &Binder{token: "doc-" + uuid.NewString()[:8]}
}

// Offer presents a raw identifier from some source (extraction task,
// external lookup). The first normalizable value binds the identity; later
// agreeing values are no-ops; later disagreeing values return a
// *ConflictError and attach an identity-conflict warning.
func (b *Binder) Offer(raw any, source string) error {
	canonical, ok := Normalize(raw)
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.canonical == "" {
		b.canonical = canonical
		return nil
	}
	if b.canonical == canonical {
		return nil
	}

	err := &ConflictError{Bound: b.canonical, Offered: canonical, Source: source}
	b.warnings = append(b.warnings, types.Warning{
		Rule:    "identity-conflict",
		Message: err.Error(),
	})
	return err
}

// ID returns the canonical identity, or the opaque token when no
// identifier has resolved yet.
func (b *Binder) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.canonical != "" {
		return b.canonical
	}
	return b.token
}

// Token returns the opaque per-document token.
func (b *Binder) Token() string {
	return b.token
}

// Resolved reports whether a canonical identity has bound.
func (b *Binder) Resolved() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canonical != ""
}

// Warnings returns identity-conflict warnings accumulated so far.
func (b *Binder) Warnings() []types.Warning {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Warning(nil), b.warnings...)
}
