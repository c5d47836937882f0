// Package completion streams chat completions from an OpenAI compatible
// endpoint and yields them as fragments.
//
// The client posts to {base_url}/chat/completions with stream enabled and
// reads the server-sent event body line by line. Each "data:" payload is one
// chunk; "[DONE]" ends the stream. Chunks are converted to fragment.Fragment
// so callers can merge them without knowing the wire format.
//
// Requests are traced with OpenTelemetry: the HTTP transport is wrapped with
// otelhttp and each stream gets its own span carrying model, finish reason and
// token usage.
package completion
