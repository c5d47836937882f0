// Package server exposes the bot's operational endpoints.
//
// The HTTP listener serves:
//
//   - GET /metrics      - Prometheus metrics
//   - GET /health       - Liveness check
//   - GET /health/ready - Readiness check (runs the registered checks)
//
// The gRPC listener serves the standard grpc.health.v1 service. Its status
// follows the readiness checks, refreshed on an interval.
//
// Either listener is disabled by leaving its address empty.
package server
