// Package telemetry sets up OpenTelemetry tracing.
//
// Init installs a global tracer provider that batches spans to an OTLP/HTTP
// collector. Packages create their tracers with otel.Tracer, so when
// telemetry is disabled their spans go to the no-op default provider.
package telemetry
