// Package tools provides the functions the model may call while answering.
//
// A Registry holds named tools. Each tool has a JSON schema for its input,
// generated from a Go struct with invopop/jsonschema, and a handler that
// receives the raw JSON arguments produced by the model and returns text.
//
// Built-in tools:
//
//   - current_time: the current date and time, optionally in a time zone
//   - fetch_url: the readable text of a web page
//
// Handler errors are not fatal to a conversation; the caller reports them back
// to the model as the tool result.
package tools
