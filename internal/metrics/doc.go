// Package metrics records what the dev server did with each request.
//
// Events flow through a buffered channel into a single collector goroutine:
//   - Request counts per proxy target, and for locally served files
//   - Requests rejected by an open circuit breaker
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution
//   - Target health as seen by the health checker
//
// Emitting never blocks the request path; events are dropped when the buffer
// is full. On shutdown the collector drains whatever is still queued.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Key:        "http://php:8000",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
//
// Handler serves snapshots as JSON and PrometheusHandler in the Prometheus
// exposition format.
package metrics
