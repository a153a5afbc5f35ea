package netspec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNoneIsExclusive(t *testing.T) {
	_, err := Parse(strings.NewReader("none\nsteal eth0\n"))
	assert.Error(t, err)
}

func TestParseInheritedAliasHost(t *testing.T) {
	spec, err := Parse(strings.NewReader("host\n"))
	require.NoError(t, err)
	assert.Equal(t, ModeInherited, spec.Mode)
}

func TestParseHostWithArgIsLegacySteal(t *testing.T) {
	spec, err := Parse(strings.NewReader("host eth0\n"))
	require.NoError(t, err)
	require.Len(t, spec.Links, 1)
	assert.Equal(t, KindSteal, spec.Links[0].Kind)
	assert.Equal(t, "eth0", spec.Links[0].Name)
}

func TestParseMacvlanDefaultsTypeBridge(t *testing.T) {
	spec, err := Parse(strings.NewReader("macvlan eth0 mv0\n"))
	require.NoError(t, err)
	require.Len(t, spec.Links, 1)
	assert.Equal(t, "bridge", spec.Links[0].Type)
}

func TestParseMacvlanRejectsInvalidType(t *testing.T) {
	_, err := Parse(strings.NewReader("macvlan eth0 mv0 bogus\n"))
	assert.Error(t, err)
}

func TestParseMacvlanAcceptsFivePositionsIncludingHW(t *testing.T) {
	spec, err := Parse(strings.NewReader("macvlan eth0 mv0 bridge 1500 aa:bb:cc:dd:ee:ff\n"))
	require.NoError(t, err)
	require.Len(t, spec.Links, 1)
	l := spec.Links[0]
	assert.Equal(t, "bridge", l.Type)
	assert.Equal(t, 1500, l.MTU)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", l.HW)
}

func TestParseMacvlanRejectsInvalidHW(t *testing.T) {
	_, err := Parse(strings.NewReader("macvlan eth0 mv0 bridge 1500 not-a-mac\n"))
	assert.Error(t, err)
}

func TestParseMacvlanRejectsSixthArgument(t *testing.T) {
	_, err := Parse(strings.NewReader("macvlan eth0 mv0 bridge 1500 aa:bb:cc:dd:ee:ff extra\n"))
	assert.Error(t, err)
}

func TestParseIPvlanDefaultsModeL2(t *testing.T) {
	spec, err := Parse(strings.NewReader("ipvlan eth0 iv0\n"))
	require.NoError(t, err)
	assert.Equal(t, "l2", spec.Links[0].Type)
}

func TestParseVethRejectsBadMAC(t *testing.T) {
	_, err := Parse(strings.NewReader("veth eth0 br0 1500 not-a-mac\n"))
	assert.Error(t, err)
}

func TestParseNATAttachesToMostRecentLink(t *testing.T) {
	spec, err := Parse(strings.NewReader("veth eth0 br0\nNAT\n"))
	require.NoError(t, err)
	assert.True(t, spec.Links[0].NAT)
}

func TestParseMTUAppliesToPriorLink(t *testing.T) {
	spec, err := Parse(strings.NewReader("veth eth0 br0\nMTU eth0 9000\n"))
	require.NoError(t, err)
	assert.Equal(t, 9000, spec.Links[0].MTU)
}

func TestParseMTUUnknownLinkFails(t *testing.T) {
	_, err := Parse(strings.NewReader("MTU eth0 9000\n"))
	assert.Error(t, err)
}

func TestParseL3NoArgsIsValid(t *testing.T) {
	spec, err := Parse(strings.NewReader("L3\n"))
	require.NoError(t, err)
	require.Len(t, spec.Links, 1)
	assert.Equal(t, KindL3, spec.Links[0].Kind)
}

func TestParseUnrecognisedDirectiveFails(t *testing.T) {
	_, err := Parse(strings.NewReader("bogus foo\n"))
	assert.Error(t, err)
}

func TestParseCommentsAndBlankLinesIgnored(t *testing.T) {
	spec, err := Parse(strings.NewReader("\n; comment\nsteal eth0\n# also a comment\n"))
	require.NoError(t, err)
	require.Len(t, spec.Links, 1)
}
