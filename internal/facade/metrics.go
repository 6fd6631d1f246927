package facade

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an in-process counter/histogram registry surfaced only
// through status()/stats() — no HTTP /metrics scrape server is started,
// since that would be a network listener beyond the dashboard's
// query-only contract (§1 non-goals, SPEC_FULL domain stack).
type Metrics struct {
	registry   *prometheus.Registry
	opTotal    *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
}

// NewMetrics builds a Metrics bound to its own private registry rather
// than prometheus.DefaultRegisterer, so nothing outside this process can
// observe it without going through Snapshot().
func NewMetrics() *Metrics {
	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slm_operation_total",
		Help: "Count of facade operations by name and outcome.",
	}, []string{"operation", "outcome"})
	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slm_operation_duration_seconds",
		Help:    "Facade operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	reg := prometheus.NewRegistry()
	reg.MustRegister(opTotal, opDuration)
	return &Metrics{registry: reg, opTotal: opTotal, opDuration: opDuration}
}

func (m *Metrics) observe(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.opTotal.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(seconds)
}

// MetricFamily is one gathered metric family, flattened for status()/the
// dashboard's stats() query without requiring callers to understand the
// Prometheus wire format.
type MetricFamily struct {
	Name   string
	Help   string
	Values []MetricSample
}

// MetricSample is one label/value pair within a MetricFamily.
type MetricSample struct {
	Labels map[string]string
	Value  float64
}

// Snapshot gathers the current registry into a plain, JSON-friendly shape.
func (m *Metrics) Snapshot() ([]MetricFamily, error) {
	if m == nil {
		return nil, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make([]MetricFamily, 0, len(families))
	for _, fam := range families {
		mf := MetricFamily{Name: fam.GetName(), Help: fam.GetHelp()}
		for _, metric := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			var v float64
			switch {
			case metric.Counter != nil:
				v = metric.GetCounter().GetValue()
			case metric.Histogram != nil:
				v = float64(metric.GetHistogram().GetSampleCount())
			}
			mf.Values = append(mf.Values, MetricSample{Labels: labels, Value: v})
		}
		out = append(out, mf)
	}
	return out, nil
}
