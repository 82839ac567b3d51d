package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dreamware/strumspace/internal/service"
)

const namespace = "strumspace"

// HealthSource reports the current health of every registered service.
type HealthSource func() map[string]service.Health

// Exporter adapts a Collector (and optionally service health) to the
// prometheus.Collector interface. Values are read at scrape time.
type Exporter struct {
	collector *Collector
	health    HealthSource

	requests    *prometheus.Desc
	succeeded   *prometheus.Desc
	failed      *prometheus.Desc
	latency     *prometheus.Desc
	rate        *prometheus.Desc
	fallbacks   *prometheus.Desc
	serviceUp   *prometheus.Desc
	serviceDown *prometheus.Desc
}

// NewExporter builds an exporter. health may be nil.
func NewExporter(c *Collector, health HealthSource) *Exporter {
	return &Exporter{
		collector: c,
		health:    health,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "requests_total"),
			"Requests accepted by the coordinator.", nil, nil),
		succeeded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "requests_succeeded_total"),
			"Requests that produced a successful result, including degraded ones.", nil, nil),
		failed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "requests_failed_total"),
			"Requests rejected as invalid or failed internally.", nil, nil),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "request_latency_ewma_milliseconds"),
			"Exponentially weighted moving average of request latency.", nil, nil),
		rate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "requests_per_minute"),
			"Requests seen in the last minute, as of the last rate tick.", nil, nil),
		fallbacks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "fallbacks_total"),
			"Responses synthesized locally instead of by the remote service.", []string{"service"}, nil),
		serviceUp: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "service", "up"),
			"1 if the last full probe of the service succeeded.", []string{"service"}, nil),
		serviceDown: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "service", "down"),
			"1 if the service is marked down.", []string{"service"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.requests
	ch <- e.succeeded
	ch <- e.failed
	ch <- e.latency
	ch <- e.rate
	ch <- e.fallbacks
	ch <- e.serviceUp
	ch <- e.serviceDown
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.collector.Snapshot()

	ch <- prometheus.MustNewConstMetric(e.requests, prometheus.CounterValue, float64(s.TotalRequests))
	ch <- prometheus.MustNewConstMetric(e.succeeded, prometheus.CounterValue, float64(s.SuccessCount))
	ch <- prometheus.MustNewConstMetric(e.failed, prometheus.CounterValue, float64(s.FailureCount))
	ch <- prometheus.MustNewConstMetric(e.latency, prometheus.GaugeValue, s.AverageLatencyMs)
	ch <- prometheus.MustNewConstMetric(e.rate, prometheus.GaugeValue, float64(s.RequestsPerMinute))
	for name, n := range s.Fallbacks {
		ch <- prometheus.MustNewConstMetric(e.fallbacks, prometheus.CounterValue, float64(n), name)
	}

	if e.health == nil {
		return
	}
	for name, h := range e.health() {
		ch <- prometheus.MustNewConstMetric(e.serviceUp, prometheus.GaugeValue, boolToFloat(h == service.HealthHealthy), name)
		ch <- prometheus.MustNewConstMetric(e.serviceDown, prometheus.GaugeValue, boolToFloat(h == service.HealthDown), name)
	}
}

// NewRegistry returns a Prometheus registry holding the exporter plus the
// standard Go runtime and process collectors.
func NewRegistry(e *Exporter) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
