package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveClassParamsZeroRateMapsToOne(t *testing.T) {
	p := DeriveClassParams(0, 0, 1000000, 0, 1500, 0, 0, 0)
	assert.EqualValues(t, 1, p.Rate)
}

func TestDeriveClassParamsClampsToDeviceMax(t *testing.T) {
	p := DeriveClassParams(2_000_000, 2_000_000, 1_000_000, 0, 1500, 0, 0, 0)
	assert.EqualValues(t, 1_000_000, p.Rate)
	assert.EqualValues(t, 1_000_000, p.Ceil)
}

func TestDeriveClassParamsCeilDefaultsToDeviceMax(t *testing.T) {
	p := DeriveClassParams(500_000, 0, 1_000_000, 0, 1500, 0, 0, 0)
	assert.EqualValues(t, 1_000_000, p.Ceil)
}

func TestDeriveClassParamsCeilNeverBelowRate(t *testing.T) {
	p := DeriveClassParams(900_000, 100, 1_000_000, 0, 1500, 0, 0, 0)
	assert.EqualValues(t, 900_000, p.Ceil)
}

func TestDeriveClassParamsDefaultsQuantumAndBuffers(t *testing.T) {
	p := DeriveClassParams(100_000, 0, 1_000_000, 1, 1500, 0, 0, 0)
	assert.EqualValues(t, 2*1500, p.Quantum)
	assert.EqualValues(t, 10*1500, p.RBuffer)
	assert.EqualValues(t, 10*1500, p.CBuffer)
}

func TestDeriveClassParamsHonorsConfigOverrides(t *testing.T) {
	p := DeriveClassParams(100_000, 0, 1_000_000, 1, 1500, 4000, 8000, 9000)
	assert.EqualValues(t, 4000, p.Quantum)
	assert.EqualValues(t, 8000, p.RBuffer)
	assert.EqualValues(t, 9000, p.CBuffer)
}

func TestDeriveClassParamsClampsDeviceMaxToInt32Max(t *testing.T) {
	p := DeriveClassParams(10, 0, 1<<40, 0, 1500, 0, 0, 0)
	assert.EqualValues(t, 1<<31-1, p.Ceil)
}

func TestHandleStringFormatsHex(t *testing.T) {
	assert.Equal(t, "1:0", RootQdisc.String())
	assert.Equal(t, "1:1", RootClass.String())
	assert.Equal(t, "1:a", ContainerClass(10).String())
}

func TestContainerClassUsesMajorOne(t *testing.T) {
	h := ContainerClass(42)
	assert.EqualValues(t, 1, h.Major)
	assert.EqualValues(t, 42, h.Minor)
}
