package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devproxy"

var (
	requestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "requests_total"),
		"Requests handled, by proxy target or local.",
		[]string{"target"}, nil)
	rejectedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "rejected_total"),
		"Requests answered locally because the target's circuit was open.",
		[]string{"target"}, nil)
	responsesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "responses_total"),
		"Responses by status code.",
		[]string{"target", "code"}, nil)
	latencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "response_seconds"),
		"Response time quantiles over the most recent samples.",
		[]string{"target", "quantile"}, nil)
	healthyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "target_healthy"),
		"1 when the last health probe reached the target.",
		[]string{"target"}, nil)
)

// promCollector exposes collector snapshots to a Prometheus registry.
type promCollector struct {
	source *Collector
}

func (p promCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsDesc
	ch <- rejectedDesc
	ch <- responsesDesc
	ch <- latencyDesc
	ch <- healthyDesc
}

func (p promCollector) Collect(ch chan<- prometheus.Metric) {
	snap := p.source.Snapshot()

	for target, tm := range snap.Targets {
		ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(tm.Requests), target)
		ch <- prometheus.MustNewConstMetric(rejectedDesc, prometheus.CounterValue, float64(tm.Rejected), target)

		for code, n := range tm.StatusCodes {
			ch <- prometheus.MustNewConstMetric(responsesDesc, prometheus.CounterValue, float64(n), target, strconv.Itoa(code))
		}

		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, tm.P50Response.Seconds(), target, "0.5")
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, tm.P95Response.Seconds(), target, "0.95")
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, tm.P99Response.Seconds(), target, "0.99")

		if tm.Healthy != nil {
			v := 0.0
			if *tm.Healthy {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(healthyDesc, prometheus.GaugeValue, v, target)
		}
	}
}

// PrometheusHandler serves the collector's metrics in the Prometheus text
// format from a dedicated registry.
func (c *Collector) PrometheusHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(promCollector{source: c})
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
