package iproute2

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSkipsBlankLinesAndComments(t *testing.T) {
	in := "# this is a comment\n\n1\tlocal\n2\tmain   # trailing comment\n"
	groups, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "local", groups[1])
	assert.Equal(t, "main", groups[2])
	assert.Len(t, groups, 2)
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := Parse(strings.NewReader("7\n"))
	assert.Error(t, err)
}

func TestParseRejectsNonIntegerID(t *testing.T) {
	_, err := Parse(strings.NewReader("not-a-number local\n"))
	assert.Error(t, err)
}

func TestIDForNameFindsMatch(t *testing.T) {
	groups := Groups{0: "default", 254: "management"}
	id, ok := groups.IDForName("management")
	require.True(t, ok)
	assert.Equal(t, 254, id)
}

func TestIDForNameMissingReturnsFalse(t *testing.T) {
	groups := Groups{0: "default"}
	_, ok := groups.IDForName("nonexistent")
	assert.False(t, ok)
}
