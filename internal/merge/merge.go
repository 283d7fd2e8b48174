// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package merge folds streams of Decisions from independent extraction
// tasks into one canonical record per document.
// Implements: prd002-merge (R1-R5); docs/ARCHITECTURE § Merge Engine.
//
// The ledger is an append-only log keyed by (path, sequence); the canonical
// record is a derived projection holding the winning entry per path. The
// conflict policy is last-write-wins by sequence with two domain rules: a
// null claim never erases an earlier positive finding, and a corrected
// Decision from verification outranks any proposed one regardless of
// sequence.
package merge

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/pdiddy/evidence-engine/internal/pointer"
	"github.com/pdiddy/evidence-engine/internal/schema"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Numeric tolerance for value equality, absolute and relative. Extraction
// tasks render the same measurement with different precision.
const (
	numericTolAbs = 0.01
	numericTolRel = 0.01
)

// Ledger owns the canonical record for one Row Identity. All mutation goes
// through Apply; the mutex serializes writers so extraction tasks and
// verification chunks may fold in concurrently. One Ledger per record,
// records fully parallel to each other.
type Ledger struct {
	mu          sync.Mutex
	checkSchema bool
	entries     []types.AuditEntry
	active      map[string]int // path → index of the active entry
	order       []string       // paths in first-write order
	record      map[string]any
	warnings    []types.Warning
}

// NewLedger creates an empty ledger that validates Decisions against the
// category schema at application time.
func NewLedger() *Ledger {
	return &Ledger{
		checkSchema: true,
		active:      make(map[string]int),
		record:      make(map[string]any),
	}
}

// NewUncheckedLedger creates a ledger without schema validation, for
// callers that address arbitrary paths.
func NewUncheckedLedger() *Ledger {
	l := NewLedger()
	l.checkSchema = false
	return l
}

// Apply folds one Decision into the record. A Decision that cannot be
// applied (malformed path, schema violation) is recorded as a warning and
// reported through the returned error; the ledger stays consistent and the
// caller moves on to the next Decision.
func (l *Ledger) Apply(d types.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if d.Status == "" {
		d.Status = types.StatusProposed
	}

	if l.checkSchema {
		cat := schema.Category(l.record)
		if err := schema.Check(cat, d.Path, d.Value); err != nil {
			l.warn("malformed-path", d.Path, fmt.Sprintf("decision from %s skipped: %v", d.Source, err))
			return fmt.Errorf("applying decision at %s: %w", d.Path, err)
		}
	}

	idx, seen := l.active[d.Path]
	if !seen {
		return l.install(d)
	}
	prior := l.entries[idx].Decision

	// No-op merge: an equal value is recorded in the audit trail only.
	if valuesEqual(prior.Value, d.Value) {
		l.entries = append(l.entries, types.AuditEntry{Decision: d, Superseded: true})
		return nil
	}

	// Silence is weaker evidence than a claim: a proposed null never
	// erases an earlier positive finding. Controller-emitted Decisions
	// (disputed, corrected) may clear a value.
	if d.Value == nil && prior.Value != nil && d.Status == types.StatusProposed {
		l.entries = append(l.entries, types.AuditEntry{Decision: d, Superseded: true})
		return nil
	}

	if !supersedes(prior, d) {
		l.entries = append(l.entries, types.AuditEntry{Decision: d, Superseded: true})
		return nil
	}

	if err := pointer.Set(l.record, d.Path, d.Value); err != nil {
		l.warn("malformed-path", d.Path, fmt.Sprintf("decision from %s skipped: %v", d.Source, err))
		return fmt.Errorf("applying decision at %s: %w", d.Path, err)
	}
	l.entries[idx].Superseded = true
	l.entries = append(l.entries, types.AuditEntry{Decision: d})
	l.active[d.Path] = len(l.entries) - 1
	return nil
}

// install records the first Decision ever seen for a path.
func (l *Ledger) install(d types.Decision) error {
	if err := pointer.Set(l.record, d.Path, d.Value); err != nil {
		l.warn("malformed-path", d.Path, fmt.Sprintf("decision from %s skipped: %v", d.Source, err))
		return fmt.Errorf("applying decision at %s: %w", d.Path, err)
	}
	l.entries = append(l.entries, types.AuditEntry{Decision: d})
	l.active[d.Path] = len(l.entries) - 1
	l.order = append(l.order, d.Path)
	return nil
}

// supersedes decides whether next replaces prior as the active Decision.
// Corrected status carries verifier provenance and outranks sequence;
// between equals, the larger sequence wins regardless of arrival order.
func supersedes(prior, next types.Decision) bool {
	if next.Status == types.StatusCorrected && prior.Status != types.StatusCorrected {
		return true
	}
	if prior.Status == types.StatusCorrected && next.Status != types.StatusCorrected {
		return false
	}
	return next.Sequence > prior.Sequence
}

// SetStatus transitions the active Decision at path. Used by verification
// to mark confirmed and disputed outcomes in place.
func (l *Ledger) SetStatus(path string, status types.DecisionStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.active[path]
	if !ok {
		return false
	}
	l.entries[idx].Decision.Status = status
	return true
}

// Active returns the active Decision at path.
func (l *Ledger) Active(path string) (types.Decision, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.active[path]
	if !ok {
		return types.Decision{}, false
	}
	return l.entries[idx].Decision, true
}

// ActiveNonNull returns the active non-null Decisions in first-write path
// order. Null decisions are excluded: silence is not independently
// falsifiable, so re-checking it adds cost without value.
func (l *Ledger) ActiveNonNull() []types.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []types.Decision
	for _, path := range l.order {
		d := l.entries[l.active[path]].Decision
		if d.Value != nil {
			out = append(out, d)
		}
	}
	return out
}

// Snapshot returns a deep copy of the canonical record.
func (l *Ledger) Snapshot() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyValue(l.record).(map[string]any)
}

// Audit returns a copy of the full append-only revision history.
func (l *Ledger) Audit() []types.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.AuditEntry(nil), l.entries...)
}

// Warnings returns the warnings accumulated during merging.
func (l *Ledger) Warnings() []types.Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Warning(nil), l.warnings...)
}

// Adopt replays another ledger's audit trail through this ledger's policy.
// Used when a late-resolving identity joins a token-keyed record with an
// identifier-keyed one: the Decisions re-resolve by sequence, so the join
// is order-tolerant. Per-Decision failures are returned, not fatal.
func (l *Ledger) Adopt(audit []types.AuditEntry) []error {
	var errs []error
	for _, e := range audit {
		if err := l.Apply(e.Decision); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (l *Ledger) warn(rule, path, msg string) {
	l.warnings = append(l.warnings, types.Warning{Rule: rule, Paths: []string{path}, Message: msg})
}

// valuesEqual compares claimed values: trimmed for text, within tolerance
// for numbers, deep equality otherwise.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.TrimSpace(as) == strings.TrimSpace(bs)
		}
	}
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil {
		if math.Abs(fa-fb) <= numericTolAbs {
			return true
		}
		return fb != 0 && math.Abs(fa-fb)/math.Abs(fb) <= numericTolRel
	}
	return reflect.DeepEqual(a, b)
}

// copyValue deep-copies the nested map/list structure of a record.
func copyValue(v any) any {
	switch c := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(c))
		for k, e := range c {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(c))
		for i, e := range c {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
