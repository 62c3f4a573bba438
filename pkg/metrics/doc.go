// Package metrics provides Prometheus instrumentation for blockbridge components.
//
// Two groups of metrics are exported, both labelled with the pool name:
//
//   - workerpool: size, active workers, queued tasks, submitted, rejected and
//     completed tasks (by outcome), queue wait and execution time.
//   - bridge: offloaded calls by resolution kind, call latency, calls in
//     flight and resource checkout latency.
//
// # Quick Start
//
//	cfg := workerpool.DefaultConfig()
//	cfg.Name = "db"
//	pool, err := workerpool.NewWithConfigAndMetrics(cfg, metrics.DefaultConfig())
//	http.Handle("/metrics", promhttp.Handler())
//
// # Custom Registry
//
// Use a dedicated Prometheus registry for isolation, for example in tests:
//
//	reg := prometheus.NewRegistry()
//	registry, err := metrics.Resolve(metrics.Config{Enabled: true, Registry: reg})
package metrics
