package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternMapLookupExactMatchWins(t *testing.T) {
	m := PatternMap[int64]{
		{Pattern: "eth0", Value: 1},
		{Pattern: "eth*", Value: 2},
	}
	assert.EqualValues(t, 1, m.Lookup("eth0", 0))
}

func TestPatternMapLookupGlobMatchInListOrder(t *testing.T) {
	m := PatternMap[int64]{
		{Pattern: "veth*", Value: 1},
		{Pattern: "*", Value: 2},
	}
	assert.EqualValues(t, 1, m.Lookup("veth5", 0))
}

func TestPatternMapLookupFallsBackToDefaultEntry(t *testing.T) {
	m := PatternMap[int64]{
		{Pattern: "eth*", Value: 1},
		{Pattern: "default", Value: 9},
	}
	assert.EqualValues(t, 9, m.Lookup("unrelated", 0))
}

func TestPatternMapLookupFallsBackToCallerValueWhenEmpty(t *testing.T) {
	var m PatternMap[int64]
	assert.EqualValues(t, 42, m.Lookup("anything", 42))
}

func TestPatternMapLookupSkipsDefaultDuringGlobPass(t *testing.T) {
	m := PatternMap[string]{
		{Pattern: "default", Value: "fallback"},
		{Pattern: "*", Value: "wildcard"},
	}
	assert.Equal(t, "wildcard", m.Lookup("anything", ""))
}
