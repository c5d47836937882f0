// ABOUTME: Running accumulation of fragments for one completion round
// ABOUTME: Freezes after a finish reason and projects the aggregate to display text

package fragment

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAggregateFrozen is returned when content arrives after the round ended.
var ErrAggregateFrozen = errors.New("aggregate already finished")

// Aggregate accumulates the fragments of one completion round.
// The zero value is an empty aggregate ready for use. It is not safe for
// concurrent use.
type Aggregate struct {
	resp    Fragment
	started bool
}

// Add merges f into the aggregate. The first fragment fixes the response ID.
func (g *Aggregate) Add(f Fragment) error {
	if !g.started {
		g.resp = f
		g.started = true
		return nil
	}
	if g.resp.FinishReason.Done() && !usageOnly(f) {
		return ErrAggregateFrozen
	}

	merged, err := Merge(g.resp, f)
	if err != nil {
		return err
	}
	g.resp = merged
	return nil
}

// Response returns the accumulated fragment.
func (g *Aggregate) Response() Fragment {
	return g.resp
}

// FinishReason returns the finish reason seen so far.
func (g *Aggregate) FinishReason() FinishReason {
	return g.resp.FinishReason
}

// Done reports whether a finish reason has been observed.
func (g *Aggregate) Done() bool {
	return g.resp.FinishReason.Done()
}

// Empty reports whether nothing has been added yet.
func (g *Aggregate) Empty() bool {
	return !g.started
}

// Text is the user-facing projection: the content so far, or a notice per
// tool call when the model is only calling tools.
func (g *Aggregate) Text() string {
	if g.resp.Delta.Content != "" {
		return g.resp.Delta.Content
	}
	if len(g.resp.Delta.ToolCalls) == 0 {
		return ""
	}
	lines := make([]string, 0, len(g.resp.Delta.ToolCalls))
	for _, tc := range g.resp.Delta.ToolCalls {
		if tc.Name == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("Calling `%s`...", tc.Name))
	}
	return strings.Join(lines, "\n")
}

// Reset empties the aggregate for the next round.
func (g *Aggregate) Reset() {
	*g = Aggregate{}
}

func usageOnly(f Fragment) bool {
	return f.Usage != nil && f.Delta.Content == "" && f.Delta.Role == "" &&
		len(f.Delta.ToolCalls) == 0 && f.FinishReason == FinishNone
}
