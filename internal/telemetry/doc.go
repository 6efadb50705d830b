// Package telemetry sets up OpenTelemetry tracing and metrics export for
// mailsmith.
//
// The workflow engine, generation guard, similarity index and HTTP layer
// obtain tracers and meters from the global otel providers. New installs
// OTLP-backed providers as those globals when telemetry is enabled and
// leaves the no-op defaults in place otherwise.
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc        # or http/protobuf
//	  sampling_rate: 0.25
//
// Export failures never stop the service: the instance is marked degraded
// and request handling carries on.
//
// Tests use TestTelemetry, which records spans and metrics in memory.
package telemetry
