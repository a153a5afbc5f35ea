package config

import (
	"path/filepath"
)

// PatternEntry is one (glob-pattern, value) pair in an ordered
// pattern-matched config map (spec §9 design note: "model {name_glob ->
// value} as an ordered list with default last").
type PatternEntry[T any] struct {
	Pattern string
	Value   T
}

// PatternMap is an ordered list of glob-matched overrides with a
// compile-time fallback. Lookup order: exact name match, then first
// glob match in list order, then the literal "default" entry, then the
// fallback passed to Lookup.
type PatternMap[T any] []PatternEntry[T]

// Lookup resolves name to a value following the precedence above.
func (m PatternMap[T]) Lookup(name string, fallback T) T {
	// Exact match first.
	for _, e := range m {
		if e.Pattern == name {
			return e.Value
		}
	}
	// Glob match, skipping the literal "default" entry (handled last).
	for _, e := range m {
		if e.Pattern == "default" {
			continue
		}
		if ok, _ := filepath.Match(e.Pattern, name); ok {
			return e.Value
		}
	}
	// Explicit "default" key.
	for _, e := range m {
		if e.Pattern == "default" {
			return e.Value
		}
	}
	return fallback
}
