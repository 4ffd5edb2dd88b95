package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-metrics/prometheus"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/pool"
)

type ExposeMetricSink string

const (
	InMemorySink   ExposeMetricSink = "in-memory"
	PrometheusSink ExposeMetricSink = "prometheus"
	AllMetricsSink ExposeMetricSink = "all"
)

var logger = common.InitLogger().WithName("client-metrics")

// labelPool recycles label slices on the hot path.
type labelPool struct {
	pool sync.Pool
}

func newLabelPool() *labelPool {
	return &labelPool{
		pool: sync.Pool{
			New: func() interface{} {
				slice := make([]gometrics.Label, 0, 3)
				return &slice
			},
		},
	}
}

func (p *labelPool) get() []gometrics.Label {
	slicePtr := p.pool.Get().(*[]gometrics.Label)
	*slicePtr = (*slicePtr)[:0]
	return *slicePtr
}

func (p *labelPool) put(labels []gometrics.Label) {
	p.pool.Put(&labels)
}

// ClientMetricsCollector records command and pool metrics for a client.
type ClientMetricsCollector interface {
	// RecordCommandLatency records the round trip of one command.
	RecordCommandLatency(command string, duration time.Duration)
	IncrementCommandCounter(command string)
	// IncrementErrorCounter counts a failed command by error kind.
	IncrementErrorCounter(errorType string)
	// RecordBorrowWait records how long a caller waited for a pooled connection.
	RecordBorrowWait(duration time.Duration)
	// SetPoolStats publishes a pool snapshot as gauges.
	SetPoolStats(stats pool.Stats)
	// Summary aggregates what the in-memory sink holds. It is empty for the
	// prometheus sink.
	Summary() Summary
	// Gatherer exposes the prometheus registry, nil for the in-memory sink.
	Gatherer() promclient.Gatherer
	Shutdown()
}

type Config struct {
	// ServiceName prefixes every metric key.
	ServiceName string

	// Time interval for in-memory metrics aggregation
	AggregationInterval time.Duration

	// Retention period for metrics
	RetentionPeriod time.Duration

	ExposeSink ExposeMetricSink

	// Registry receives the prometheus collector. A private registry is
	// created when nil.
	Registry *promclient.Registry
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:         "elika-client",
		AggregationInterval: 5 * time.Second,
		RetentionPeriod:     10 * time.Minute,
		ExposeSink:          InMemorySink,
	}
}

func ConfigFrom(mc *common.MetricsConfig) *Config {
	config := DefaultConfig()
	if mc.ServiceName != "" {
		config.ServiceName = mc.ServiceName
	}
	if mc.MetricsSinkType != "" {
		config.ExposeSink = ExposeMetricSink(mc.MetricsSinkType)
	}
	return config
}

func newPrometheusSink(registry *promclient.Registry) (*prometheus.PrometheusSink, error) {
	return prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
		Expiration: 60 * time.Second,
		Registerer: registry,
	})
}

func newInMemSink(config *Config) *gometrics.InmemSink {
	return gometrics.NewInmemSink(
		config.AggregationInterval,
		config.RetentionPeriod,
	)
}

// NewMetricsCollector builds a collector writing to the sinks named by
// config.ExposeSink.
func NewMetricsCollector(config *Config) (ClientMetricsCollector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	metricsConf := gometrics.DefaultConfig(config.ServiceName)
	metricsConf.EnableHostname = false
	metricsConf.EnableRuntimeMetrics = false

	sink := &fanoutSink{sinks: make([]gometrics.MetricSink, 0, 2)}
	var (
		inm      *gometrics.InmemSink
		promSink *prometheus.PrometheusSink
		registry *promclient.Registry
		err      error
	)
	withPrometheus := func() error {
		registry = config.Registry
		if registry == nil {
			registry = promclient.NewRegistry()
		}
		promSink, err = newPrometheusSink(registry)
		if err != nil {
			return err
		}
		sink.sinks = append(sink.sinks, promSink)
		return nil
	}
	switch config.ExposeSink {
	case InMemorySink:
		inm = newInMemSink(config)
		sink.sinks = append(sink.sinks, inm)
	case PrometheusSink:
		if err := withPrometheus(); err != nil {
			return nil, err
		}
	case AllMetricsSink:
		inm = newInMemSink(config)
		sink.sinks = append(sink.sinks, inm)
		if err := withPrometheus(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown metrics sink: %s", config.ExposeSink)
	}

	metricsImpl, err := gometrics.New(metricsConf, sink)
	if err != nil {
		return nil, err
	}
	logger.Info("Metrics collector initialized",
		"serviceName", config.ServiceName,
		"sink", config.ExposeSink)
	return &hashicorpMetricsCollector{
		metrics:            metricsImpl,
		inm:                inm,
		registry:           registry,
		serviceLabel:       gometrics.Label{Name: "service", Value: config.ServiceName},
		commandLabelPrefix: "command",
		errorLabelPrefix:   "type",
		labelPool:          newLabelPool(),
	}, nil
}

type hashicorpMetricsCollector struct {
	metrics  *gometrics.Metrics
	inm      *gometrics.InmemSink
	registry *promclient.Registry

	serviceLabel       gometrics.Label
	commandLabelPrefix string
	errorLabelPrefix   string

	labelPool *labelPool
}

func (h *hashicorpMetricsCollector) RecordCommandLatency(command string, duration time.Duration) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.commandLabelPrefix, Value: command})

	h.metrics.AddSampleWithLabels([]string{"command", "latency"}, float32(duration.Microseconds()), labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) IncrementCommandCounter(command string) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.commandLabelPrefix, Value: command})

	h.metrics.IncrCounterWithLabels([]string{"command", "count"}, 1, labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) IncrementErrorCounter(errorType string) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.errorLabelPrefix, Value: errorType})

	h.metrics.IncrCounterWithLabels([]string{"errors"}, 1, labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) RecordBorrowWait(duration time.Duration) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel)

	h.metrics.AddSampleWithLabels([]string{"pool", "borrow_wait"}, float32(duration.Microseconds()), labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) SetPoolStats(stats pool.Stats) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel)

	gauges := []struct {
		name  string
		value float32
	}{
		{"active", float32(stats.NumActive)},
		{"idle", float32(stats.NumIdle)},
		{"waiters", float32(stats.NumWaiters)},
		{"created", float32(stats.Created)},
		{"destroyed", float32(stats.Destroyed)},
		{"timeouts", float32(stats.Timeouts)},
		{"mean_borrow_wait_us", waitMicros(stats.MeanBorrowWait)},
		{"max_borrow_wait_us", waitMicros(stats.MaxBorrowWait)},
	}
	for _, g := range gauges {
		h.metrics.SetGaugeWithLabels([]string{"pool", g.name}, g.value, labels)
	}

	h.labelPool.put(labels)
}

// waitMicros keeps Unavailable as -1 instead of scaling it.
func waitMicros(d time.Duration) float32 {
	if d == pool.Unavailable {
		return pool.Unavailable
	}
	return float32(d.Microseconds())
}

func (h *hashicorpMetricsCollector) Gatherer() promclient.Gatherer {
	if h.registry == nil {
		return nil
	}
	return h.registry
}

func (h *hashicorpMetricsCollector) Summary() Summary {
	summary := newSummary()
	if h.inm == nil {
		return summary
	}
	for _, interval := range h.inm.Data() {
		summary.merge(interval)
	}
	return summary
}

func (h *hashicorpMetricsCollector) Shutdown() {
	h.metrics.Shutdown()
}

// SampleStats aggregates one sample key over the retained intervals.
type SampleStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

func (s SampleStats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Summary is keyed by the in-memory sink key: the dotted metric name
// followed by ";label=value" pairs in the order they were recorded.
type Summary struct {
	Counters map[string]float64
	Gauges   map[string]float32
	Samples  map[string]SampleStats
}

func newSummary() Summary {
	return Summary{
		Counters: map[string]float64{},
		Gauges:   map[string]float32{},
		Samples:  map[string]SampleStats{},
	}
}

// merge folds an interval in. Intervals arrive oldest first, so the last
// gauge value wins.
func (s Summary) merge(interval *gometrics.IntervalMetrics) {
	for key, gauge := range interval.Gauges {
		s.Gauges[key] = gauge.Value
	}
	for key, counter := range interval.Counters {
		if counter.AggregateSample != nil {
			s.Counters[key] += counter.Sum
		}
	}
	for key, sample := range interval.Samples {
		if sample.AggregateSample == nil || sample.Count == 0 {
			continue
		}
		cur, ok := s.Samples[key]
		if !ok {
			cur = SampleStats{Min: sample.Min, Max: sample.Max}
		}
		cur.Count += sample.Count
		cur.Sum += sample.Sum
		if sample.Min < cur.Min {
			cur.Min = sample.Min
		}
		if sample.Max > cur.Max {
			cur.Max = sample.Max
		}
		s.Samples[key] = cur
	}
}

// Keys lists every key in the summary, sorted.
func (s Summary) Keys() []string {
	keys := make([]string, 0, len(s.Counters)+len(s.Gauges)+len(s.Samples))
	for k := range s.Counters {
		keys = append(keys, k)
	}
	for k := range s.Gauges {
		keys = append(keys, k)
	}
	for k := range s.Samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fanoutSink implements a sink that forwards to multiple sinks
type fanoutSink struct {
	sinks []gometrics.MetricSink
}

func (f *fanoutSink) SetGauge(key []string, val float32) {
	for _, s := range f.sinks {
		s.SetGauge(key, val)
	}
}

func (f *fanoutSink) SetGaugeWithLabels(key []string, val float32, labels []gometrics.Label) {
	for _, s := range f.sinks {
		s.SetGaugeWithLabels(key, val, labels)
	}
}

func (f *fanoutSink) EmitKey(key []string, val float32) {
	for _, s := range f.sinks {
		s.EmitKey(key, val)
	}
}

func (f *fanoutSink) IncrCounter(key []string, val float32) {
	for _, s := range f.sinks {
		s.IncrCounter(key, val)
	}
}

func (f *fanoutSink) IncrCounterWithLabels(key []string, val float32, labels []gometrics.Label) {
	for _, s := range f.sinks {
		s.IncrCounterWithLabels(key, val, labels)
	}
}

func (f *fanoutSink) AddSample(key []string, val float32) {
	for _, s := range f.sinks {
		s.AddSample(key, val)
	}
}

func (f *fanoutSink) AddSampleWithLabels(key []string, val float32, labels []gometrics.Label) {
	for _, s := range f.sinks {
		s.AddSampleWithLabels(key, val, labels)
	}
}
