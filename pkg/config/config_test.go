package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsForZeroFields(t *testing.T) {
	path := writeTOML(t, "nat_first_ipv4 = \"10.0.0.0\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultNATCount, cfg.NATCount)
	assert.Equal(t, int(DefaultAutoconfTimeout.Seconds()), cfg.AutoconfTimeoutS)
	assert.Equal(t, DefaultStartTimeoutMillis, cfg.StartTimeoutMS)
}

func TestLoadPreservesExplicitNonZeroFields(t *testing.T) {
	path := writeTOML(t, "nat_count = 128\nstart_timeout_ms = 9000\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.NATCount)
	assert.Equal(t, 9000, cfg.StartTimeoutMS)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeTOML(t, "this is not = = valid toml\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestClampRateMapsNonPositiveToZero(t *testing.T) {
	assert.EqualValues(t, 0, ClampRate(0))
	assert.EqualValues(t, 0, ClampRate(-5))
}

func TestClampRateCeilsAtInt32Max(t *testing.T) {
	const int32Max = int64(1<<31 - 1)
	assert.EqualValues(t, int32Max, ClampRate(int32Max+1000))
}

func TestClampRatePassesThroughInRangeValues(t *testing.T) {
	assert.EqualValues(t, 5000, ClampRate(5000))
}

func TestDeviceRateForUsesPatternMapAndClamp(t *testing.T) {
	cfg := &Config{
		DeviceRate: PatternMap[int64]{
			{Pattern: "eth*", Value: -1},
			{Pattern: "default", Value: 1000},
		},
	}
	assert.EqualValues(t, 0, cfg.DeviceRateFor("eth0"))
	assert.EqualValues(t, 1000, cfg.DeviceRateFor("veth5"))
}

func writeTOML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
