package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Factory creates pre-registered prometheus metrics. Service metrics structs
// take a Factory so tests can hand them an isolated registry.
type Factory interface {
	NewCounter(opts prometheus.CounterOpts) prometheus.Counter
	NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec
	NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge
	NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec
	NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram
	NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec
}

type factory struct {
	factory promauto.Factory
}

var _ Factory = (*factory)(nil)

func With(registry *prometheus.Registry) Factory {
	return &factory{promauto.With(registry)}
}

func (f *factory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	return f.factory.NewCounter(opts)
}

func (f *factory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	return f.factory.NewCounterVec(opts, labelNames)
}

func (f *factory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	return f.factory.NewGauge(opts)
}

func (f *factory) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	return f.factory.NewGaugeVec(opts, labelNames)
}

func (f *factory) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	return f.factory.NewHistogram(opts)
}

func (f *factory) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	return f.factory.NewHistogramVec(opts, labelNames)
}
