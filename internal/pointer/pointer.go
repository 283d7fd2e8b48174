// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pointer provides total get/set/exists operations on nested
// records addressed by slash-delimited paths.
// Implements: prd002-merge R4.1-R4.4.
//
// A path is a sequence of segments separated by "/": a segment is either a
// map key or a non-negative list index. "~1" escapes "/" and "~0" escapes
// "~" inside a segment. Get never fails; it reports absence through its
// second return value. Set fails only with *MalformedPathError, which
// callers catch and log without aborting a batch.
package pointer

import (
	"fmt"
	"strings"
)

// MalformedPathError reports a path that cannot be resolved against a
// record: an out-of-range or non-numeric list index, a non-container
// intermediate value, or an empty path on Set.
type MalformedPathError struct {
	Path   string
	Reason string
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("malformed path %q: %s", e.Path, e.Reason)
}

// Get resolves path against record. The second return value is false when
// any segment cannot be resolved; a nil value with true means the field
// holds an explicit null, which is distinct from absent.
func Get(record map[string]any, path string) (any, bool) {
	if path == "" || path == "/" {
		return record, true
	}

	cur := any(record)
	for _, tok := range split(path) {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, ok := parseIndex(tok)
			if !ok || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Exists reports whether path resolves to a field, null-valued or not.
func Exists(record map[string]any, path string) bool {
	_, ok := Get(record, path)
	return ok
}

// Set writes value at path, creating missing intermediate containers. A
// missing intermediate becomes a list when the following segment is a
// non-negative integer and a map otherwise. Set never replaces an existing
// container of the wrong kind, and never replaces an existing non-null
// scalar with a container; both fail with *MalformedPathError. Appending
// to a list is allowed only at the index equal to its length.
func Set(record map[string]any, path string, value any) error {
	toks := split(path)
	if len(toks) == 0 {
		return &MalformedPathError{Path: path, Reason: "empty path"}
	}
	_, err := setIn(record, toks, value, path)
	return err
}

// setIn descends one segment and returns the (possibly reallocated)
// container so list appends propagate to the parent.
func setIn(cur any, toks []string, value any, full string) (any, error) {
	tok := toks[0]
	last := len(toks) == 1

	switch c := cur.(type) {
	case map[string]any:
		if last {
			c[tok] = value
			return c, nil
		}
		child, exists := c[tok]
		next, err := descend(child, exists, toks[1], full)
		if err != nil {
			return nil, err
		}
		updated, err := setIn(next, toks[1:], value, full)
		if err != nil {
			return nil, err
		}
		c[tok] = updated
		return c, nil

	case []any:
		idx, ok := parseIndex(tok)
		if !ok {
			return nil, &MalformedPathError{Path: full, Reason: fmt.Sprintf("list index %q is not a non-negative integer", tok)}
		}
		if idx > len(c) {
			return nil, &MalformedPathError{Path: full, Reason: fmt.Sprintf("list index %d out of range (len %d)", idx, len(c))}
		}
		if last {
			if idx == len(c) {
				return append(c, value), nil
			}
			c[idx] = value
			return c, nil
		}
		var child any
		exists := idx < len(c)
		if exists {
			child = c[idx]
		}
		next, err := descend(child, exists, toks[1], full)
		if err != nil {
			return nil, err
		}
		updated, err := setIn(next, toks[1:], value, full)
		if err != nil {
			return nil, err
		}
		if idx == len(c) {
			return append(c, updated), nil
		}
		c[idx] = updated
		return c, nil

	default:
		return nil, &MalformedPathError{Path: full, Reason: "intermediate segment is not a container"}
	}
}

// descend returns the container to continue through for an intermediate
// segment, creating one when the slot is missing or holds an explicit null.
func descend(child any, exists bool, nextTok, full string) (any, error) {
	switch child.(type) {
	case map[string]any:
		return child, nil
	case []any:
		if _, ok := parseIndex(nextTok); !ok {
			return nil, &MalformedPathError{Path: full, Reason: fmt.Sprintf("segment %q indexes a list but is not a non-negative integer", nextTok)}
		}
		return child, nil
	}
	if exists && child != nil {
		return nil, &MalformedPathError{Path: full, Reason: "intermediate segment holds a scalar"}
	}
	if _, ok := parseIndex(nextTok); ok {
		return []any{}, nil
	}
	return map[string]any{}, nil
}

// split tokenizes a path, stripping one leading slash and unescaping
// "~1" → "/" and "~0" → "~" per segment.
func split(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}
	return parts
}

// parseIndex parses a non-negative decimal index. Signs, spaces, and
// non-digit characters all fail, so "-1" and "1e3" are rejected.
func parseIndex(tok string) (int, bool) {
	if tok == "" {
		return 0, false
	}
	n := 0
	for _, r := range tok {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 1<<30 {
			return 0, false
		}
	}
	return n, true
}
