package metrics

import (
	"testing"
	"time"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_InMemorySummary(t *testing.T) {
	collector, err := NewMetricsCollector(DefaultConfig())
	require.NoError(t, err)
	defer collector.Shutdown()

	collector.IncrementCommandCounter("GET")
	collector.IncrementCommandCounter("GET")
	collector.IncrementCommandCounter("SET")
	collector.RecordCommandLatency("GET", 300*time.Microsecond)
	collector.RecordCommandLatency("GET", 100*time.Microsecond)
	collector.IncrementErrorCounter("server")
	collector.RecordBorrowWait(2 * time.Millisecond)

	summary := collector.Summary()
	assert.Equal(t, 2.0, summary.Counters["elika-client.command.count;service=elika-client;command=GET"])
	assert.Equal(t, 1.0, summary.Counters["elika-client.command.count;service=elika-client;command=SET"])
	assert.Equal(t, 1.0, summary.Counters["elika-client.errors;service=elika-client;type=server"])

	latency := summary.Samples["elika-client.command.latency;service=elika-client;command=GET"]
	assert.Equal(t, 2, latency.Count)
	assert.Equal(t, 100.0, latency.Min)
	assert.Equal(t, 300.0, latency.Max)
	assert.InDelta(t, 200.0, latency.Mean(), 0.001)

	wait := summary.Samples["elika-client.pool.borrow_wait;service=elika-client"]
	assert.Equal(t, 1, wait.Count)
	assert.Nil(t, collector.Gatherer())
}

func TestCollector_PoolGauges(t *testing.T) {
	collector, err := NewMetricsCollector(DefaultConfig())
	require.NoError(t, err)
	defer collector.Shutdown()

	collector.SetPoolStats(pool.Stats{NumActive: 3, NumIdle: 2, MaxBorrowWait: time.Millisecond})
	gauges := collector.Summary().Gauges
	assert.Equal(t, float32(3), gauges["elika-client.pool.active;service=elika-client"])
	assert.Equal(t, float32(2), gauges["elika-client.pool.idle;service=elika-client"])
	assert.Equal(t, float32(1000), gauges["elika-client.pool.max_borrow_wait_us;service=elika-client"])

	// A closed pool reports -1 everywhere, durations included.
	collector.SetPoolStats(pool.Stats{
		NumActive:      pool.Unavailable,
		NumIdle:        pool.Unavailable,
		NumWaiters:     pool.Unavailable,
		MeanBorrowWait: pool.Unavailable,
		MaxBorrowWait:  pool.Unavailable,
		Created:        pool.Unavailable,
		Destroyed:      pool.Unavailable,
		Timeouts:       pool.Unavailable,
	})
	gauges = collector.Summary().Gauges
	for key, value := range gauges {
		assert.Equal(t, float32(-1), value, key)
	}
	assert.Len(t, gauges, 8)
}

func TestCollector_PrometheusSink(t *testing.T) {
	config := DefaultConfig()
	config.ExposeSink = AllMetricsSink
	collector, err := NewMetricsCollector(config)
	require.NoError(t, err)
	defer collector.Shutdown()

	collector.IncrementCommandCounter("PING")
	require.NotNil(t, collector.Gatherer())
	families, err := collector.Gatherer().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "elika_client_command_count")

	// Each collector owns its registry, so a second one registers cleanly.
	second, err := NewMetricsCollector(config)
	require.NoError(t, err)
	second.Shutdown()
}

func TestConfigFrom(t *testing.T) {
	config := ConfigFrom(&common.MetricsConfig{ServiceName: "bench", MetricsSinkType: "prometheus"})
	assert.Equal(t, "bench", config.ServiceName)
	assert.Equal(t, PrometheusSink, config.ExposeSink)

	_, err := NewMetricsCollector(&Config{ExposeSink: "statsd"})
	assert.Error(t, err)
}
