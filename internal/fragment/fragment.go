// ABOUTME: Fragment data types for streamed completion responses
// ABOUTME: Defines Fragment, Delta, ToolCall, Usage and the closed FinishReason enum

package fragment

import (
	"fmt"
)

// FinishReason is the closed set of reasons a completion round ends.
type FinishReason int

const (
	FinishNone FinishReason = iota
	FinishStop
	FinishToolCalls
	FinishLength
	FinishContentFilter
)

// ParseFinishReason maps the wire value to a FinishReason.
// An empty string is FinishNone.
func ParseFinishReason(s string) (FinishReason, error) {
	switch s {
	case "":
		return FinishNone, nil
	case "stop":
		return FinishStop, nil
	case "tool_calls", "function_call":
		return FinishToolCalls, nil
	case "length":
		return FinishLength, nil
	case "content_filter":
		return FinishContentFilter, nil
	default:
		return FinishNone, fmt.Errorf("unknown finish reason %q", s)
	}
}

func (r FinishReason) String() string {
	switch r {
	case FinishNone:
		return "none"
	case FinishStop:
		return "stop"
	case FinishToolCalls:
		return "tool_calls"
	case FinishLength:
		return "length"
	case FinishContentFilter:
		return "content_filter"
	default:
		return fmt.Sprintf("FinishReason(%d)", int(r))
	}
}

// Done reports whether the round that produced this reason is over.
func (r FinishReason) Done() bool {
	return r != FinishNone
}

// ToolCall is a (possibly partial) tool invocation. Index is stable across
// all fragments of the same call; the string fields arrive in pieces.
type ToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Delta is the content-bearing part of a fragment.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage reports token accounting, usually sent once at the end of a stream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Fragment is one incremental piece of a streamed response.
type Fragment struct {
	ID           string
	Model        string
	Delta        Delta
	FinishReason FinishReason
	Usage        *Usage
}

// IsEmpty reports whether the fragment carries nothing worth merging.
func (f Fragment) IsEmpty() bool {
	return f.Delta.Role == "" && f.Delta.Content == "" && len(f.Delta.ToolCalls) == 0 &&
		f.FinishReason == FinishNone && f.Usage == nil
}

// IdentityMismatchError is returned when fragments of different responses
// are merged.
type IdentityMismatchError struct {
	Want string
	Got  string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("fragment id mismatch: want %q, got %q", e.Want, e.Got)
}
