/*
Package metrics exposes pocket's Prometheus instrumentation.

Metrics cover the document layer (documents, tombstones, change events), the
view engine (view count, result sizes, delta-application latency), branching
(branches, snapshots, merges by outcome), the vector subsystem (indexed
entries, embedding-cache size) and the columnar store (points, compression
ratio).

Call Register once to install the collectors, serve Handler() on an HTTP mux,
and refresh the gauges through Database.Stats:

	metrics.Register()
	http.Handle("/metrics", metrics.Handler())
*/
package metrics
