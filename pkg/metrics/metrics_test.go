package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerkit/netcore/pkg/addr"
	"github.com/containerkit/netcore/pkg/natpool"
)

func TestCollectNATMetricsNilPoolIsNoop(t *testing.T) {
	assert.NotPanics(t, func() { collectNATMetrics(nil) })
}

func TestCollectNATMetricsSetsGaugesFromPool(t *testing.T) {
	base, err := addr.Parse("10.0.0.0/24")
	require.NoError(t, err)
	pool, err := natpool.New(4, &base, nil)
	require.NoError(t, err)

	_, err = pool.Get()
	require.NoError(t, err)

	collectNATMetrics(pool)

	assert.EqualValues(t, 1, pool.InUse())
	assert.EqualValues(t, 4, pool.Capacity())
	assert.EqualValues(t, 1, testutil.ToFloat64(NATSlotsInUse))
	assert.EqualValues(t, 4, testutil.ToFloat64(NATSlotsCapacity))
}

func TestNewCollectorDefaultsInterval(t *testing.T) {
	c := NewCollector(nil, 0)
	assert.Equal(t, 15*time.Second, c.interval)
}
