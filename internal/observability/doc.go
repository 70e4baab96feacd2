// Package observability provides the structured logging, tracing, and
// metrics stack shared by the broker, control plane, and every service
// process in this tree.
//
// # Components
//
//   - Observability bundles a slog.Logger, an OpenTelemetry Tracer, and a
//     Meter behind one constructor, NewObservability, configured from
//     DefaultConfig(serviceName) which in turn reads internal/config.
//   - TraceManager wraps span creation for the publish/consume/dispatch/step
//     suspension points named in the concurrency model: StartPublishSpan,
//     StartConsumeSpan, StartEventProcessingSpan, plus attribute helpers
//     (AddTaskAttributes, AddTaskResult, AddComponentAttribute).
//   - MetricsManager registers the broker/control-plane/service counters and
//     histograms (events processed, processing duration, broker publish/
//     consume duration, connection errors) and a periodic system-metrics
//     collector (MetricsTicker) for goroutine counts and memory stats.
//   - HealthServer exposes /health, /ready, and /metrics (via promhttp) on a
//     dedicated port per process, with pluggable HealthCheckers.
//   - ObservabilityHandler is a slog.Handler that also emits OTel log
//     counters per entry, suitable for wiring into slog.New directly or
//     combined with a stdout text handler via CombinedHandler when
//     LOG_LEVEL=DEBUG.
//
// # Typical wiring
//
//	obs, err := observability.NewObservability(observability.DefaultConfig("broker"))
//	tm := observability.NewTraceManager("broker")
//	mm, err := observability.NewMetricsManager(obs.Meter)
//	health := observability.NewHealthServer(cfg.GetHealthPort("broker"), "broker", "1.0.0")
//	health.AddChecker("broker", brokerHealthChecker)
//	go health.Start(ctx)
package observability
