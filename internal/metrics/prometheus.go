package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cs_mcp"

// Collector exports a Metrics instance in the Prometheus exposition format.
// Values are read from the atomic counters on every scrape.
type Collector struct {
	m *Metrics

	toolCalls        *prometheus.Desc
	toolErrors       *prometheus.Desc
	resourceReads    *prometheus.Desc
	resourceErrors   *prometheus.Desc
	promptGets       *prometheus.Desc
	upstreamRequests *prometheus.Desc
	upstreamFailures *prometheus.Desc
	avgLatency       *prometheus.Desc
	uptime           *prometheus.Desc
}

// NewCollector creates a Collector for m.
func NewCollector(m *Metrics) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		m:                m,
		toolCalls:        desc("tool_calls_total", "Total MCP tool invocations"),
		toolErrors:       desc("tool_errors_total", "Total MCP tool invocations that returned an error"),
		resourceReads:    desc("resource_reads_total", "Total MCP resource reads"),
		resourceErrors:   desc("resource_errors_total", "Total MCP resource reads that returned an error envelope"),
		promptGets:       desc("prompt_gets_total", "Total MCP prompt requests"),
		upstreamRequests: desc("upstream_requests_total", "Total authenticated team server requests"),
		upstreamFailures: desc("upstream_failures_total", "Total team server requests that failed or returned non-2xx"),
		avgLatency:       desc("upstream_latency_avg_seconds", "Average team server request latency"),
		uptime:           desc("uptime_seconds", "Seconds since the bridge metrics were created"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.toolCalls
	ch <- c.toolErrors
	ch <- c.resourceReads
	ch <- c.resourceErrors
	ch <- c.promptGets
	ch <- c.upstreamRequests
	ch <- c.upstreamFailures
	ch <- c.avgLatency
	ch <- c.uptime
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.toolCalls, c.m.ToolCalls.Load())
	counter(c.toolErrors, c.m.ToolErrors.Load())
	counter(c.resourceReads, c.m.ResourceReads.Load())
	counter(c.resourceErrors, c.m.ResourceErrors.Load())
	counter(c.promptGets, c.m.PromptGets.Load())
	counter(c.upstreamRequests, c.m.UpstreamRequests.Load())
	counter(c.upstreamFailures, c.m.UpstreamFailures.Load())

	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, c.m.AvgLatency().Seconds())
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, c.m.Uptime().Seconds())
}

// Handler returns an HTTP handler serving m from a dedicated registry.
// The default registry is not used, so several bridges can run in one process.
func Handler(m *Metrics) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(m))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
