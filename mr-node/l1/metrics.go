package l1

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridian-rollup/meridian/mr-service/client"
	"github.com/meridian-rollup/meridian/mr-service/metrics"
	"github.com/meridian-rollup/meridian/mr-service/sources/caching"
)

const metricsNamespace = "meridian"

// Metrics tracks the health of the L1 client: chain progress as seen through
// the update loop, stream reconnects, and transport failovers.
type Metrics struct {
	Head      prometheus.Gauge
	Finalized prometheus.Gauge

	Reconnects       prometheus.Counter
	Failovers        prometheus.Counter
	ProviderFailures *prometheus.CounterVec

	CacheSizes *prometheus.GaugeVec
	CacheGets  *prometheus.CounterVec
	CacheAdds  *prometheus.CounterVec
}

var (
	_ client.TransportMetrics = (*Metrics)(nil)
	_ caching.Metrics         = (*Metrics)(nil)
)

func NewMetrics(factory metrics.Factory) *Metrics {
	return &Metrics{
		Head: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "l1",
			Name:      "head",
			Help:      "Height of the latest L1 head",
		}),
		Finalized: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "l1",
			Name:      "finalized",
			Help:      "Height of the latest finalized L1 block",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "l1",
			Name:      "stream_reconnects_total",
			Help:      "Times the L1 head stream was re-established",
		}),
		Failovers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "l1",
			Name:      "failovers_total",
			Help:      "Times the transport switched to another provider",
		}),
		ProviderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "l1",
			Name:      "provider_failures_total",
			Help:      "Failed RPC requests per provider",
		}, []string{"provider"}),
		CacheSizes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "l1",
			Name:      "cache_size",
			Help:      "Entries currently held per cache",
		}, []string{"cache"}),
		CacheGets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "l1",
			Name:      "cache_get_total",
			Help:      "Cache lookups per cache, by outcome",
		}, []string{"cache", "hit"}),
		CacheAdds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "l1",
			Name:      "cache_add_total",
			Help:      "Cache insertions per cache",
		}, []string{"cache"}),
	}
}

func (m *Metrics) RecordHead(head uint64) {
	m.Head.Set(float64(head))
}

func (m *Metrics) RecordFinalized(finalized uint64) {
	m.Finalized.Set(float64(finalized))
}

func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

func (m *Metrics) RecordFailover() {
	m.Failovers.Inc()
}

func (m *Metrics) RecordProviderFailure(provider int) {
	m.ProviderFailures.WithLabelValues(strconv.Itoa(provider)).Inc()
}

func (m *Metrics) CacheAdd(label string, cacheSize int, _ bool) {
	m.CacheSizes.WithLabelValues(label).Set(float64(cacheSize))
	m.CacheAdds.WithLabelValues(label).Inc()
}

func (m *Metrics) CacheGet(label string, hit bool) {
	m.CacheGets.WithLabelValues(label, strconv.FormatBool(hit)).Inc()
}

// NoopMetrics discards all metrics, for tests and metrics-disabled runs.
type NoopMetrics struct{}

func (NoopMetrics) RecordHead(uint64)          {}
func (NoopMetrics) RecordFinalized(uint64)     {}
func (NoopMetrics) RecordReconnect()           {}
func (NoopMetrics) RecordFailover()            {}
func (NoopMetrics) RecordProviderFailure(int)  {}
func (NoopMetrics) CacheAdd(string, int, bool) {}
func (NoopMetrics) CacheGet(string, bool)      {}

// Metricer is the metrics surface the L1 client consumes.
type Metricer interface {
	RecordHead(head uint64)
	RecordFinalized(finalized uint64)
	RecordReconnect()
	client.TransportMetrics
	caching.Metrics
}

var (
	_ Metricer = (*Metrics)(nil)
	_ Metricer = NoopMetrics{}
)
