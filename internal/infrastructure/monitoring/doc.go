/*
Package monitoring provides Prometheus metrics for the browser host.

# Overview

Metrics are registered on an injected registry so tests and multiple hosts
in one process never collide on the default registerer. A single Metrics
value is both a headers.Recorder and a prefetch.Recorder.

# Tracked

- Control API requests (latency, size, status)
- Origin header attachment decisions and preflight withholding
- Prefetch enqueues, terminal statuses, evictions, drain batch sizes
- Outgoing request latency by initiator and breaker transitions
- Event stream connections

# Usage

	reg := monitoring.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

	timer := monitoring.NewTimer(metrics, "prefetch")
	// ... perform request ...
	timer.Stop("ok")
*/
package monitoring
