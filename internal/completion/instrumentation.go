// ABOUTME: OpenTelemetry tracer for completion requests
// ABOUTME: Spans are exported by whatever provider telemetry.Init installed

package completion

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/YubinMoon/servant-bot/internal/completion"

var tracer = otel.Tracer(scopeName)
