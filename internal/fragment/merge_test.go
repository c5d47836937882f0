// ABOUTME: Tests for fragment merging
// ABOUTME: Covers concatenation, identity checks, null coalescing and tool-call ordering

package fragment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_ConcatenatesContent(t *testing.T) {
	deltas := []string{"Hel", "lo", ", ", "wor", "ld"}

	acc := Fragment{ID: "resp-1"}
	for _, d := range deltas {
		var err error
		acc, err = Merge(acc, Fragment{ID: "resp-1", Delta: Delta{Content: d}})
		require.NoError(t, err)
	}

	assert.Equal(t, strings.Join(deltas, ""), acc.Delta.Content)
}

func TestMerge_IdentityMismatch(t *testing.T) {
	_, err := Merge(Fragment{ID: "a"}, Fragment{ID: "b"})
	require.Error(t, err)

	var mismatch *IdentityMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "a", mismatch.Want)
	assert.Equal(t, "b", mismatch.Got)
}

func TestMerge_PresentValueWins(t *testing.T) {
	a := Fragment{ID: "r", Model: "gpt-4o", Delta: Delta{Role: "assistant"}}
	b := Fragment{ID: "r", Model: "gpt-4o", Delta: Delta{Content: "hi"}, FinishReason: FinishStop}

	got, err := Merge(a, b)
	require.NoError(t, err)

	assert.Equal(t, "assistant", got.Delta.Role)
	assert.Equal(t, "hi", got.Delta.Content)
	assert.Equal(t, FinishStop, got.FinishReason)
	assert.Equal(t, "gpt-4o", got.Model)
}

func TestMerge_FinishReasonNotClearedByLaterFragment(t *testing.T) {
	a := Fragment{ID: "r", FinishReason: FinishLength}
	b := Fragment{ID: "r", Usage: &Usage{TotalTokens: 10}}

	got, err := Merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, FinishLength, got.FinishReason)
	require.NotNil(t, got.Usage)
	assert.Equal(t, 10, got.Usage.TotalTokens)
}

func TestMerge_ToolCallsByIndex(t *testing.T) {
	a := Fragment{ID: "r", Delta: Delta{ToolCalls: []ToolCall{{Index: 0, Name: "a"}}}}
	b := Fragment{ID: "r", Delta: Delta{ToolCalls: []ToolCall{{Index: 0, Arguments: "{}"}}}}

	got, err := Merge(a, b)
	require.NoError(t, err)
	require.Len(t, got.Delta.ToolCalls, 1)
	assert.Equal(t, ToolCall{Index: 0, Name: "a", Arguments: "{}"}, got.Delta.ToolCalls[0])
}

func TestMerge_ToolCallOrdering(t *testing.T) {
	a := Fragment{ID: "r", Delta: Delta{ToolCalls: []ToolCall{
		{Index: 2, Name: "two"},
		{Index: 0, Name: "zero"},
		{Index: 1, Name: "one"},
	}}}
	b := Fragment{ID: "r", Delta: Delta{ToolCalls: []ToolCall{
		{Index: 3, Name: "three"},
		{Index: 1, Arguments: `{"x":1}`},
	}}}

	got, err := Merge(a, b)
	require.NoError(t, err)

	var order []int
	for _, tc := range got.Delta.ToolCalls {
		order = append(order, tc.Index)
	}
	// common first, then only-in-a, then only-in-b
	assert.Equal(t, []int{1, 2, 0, 3}, order)
	assert.Equal(t, `{"x":1}`, got.Delta.ToolCalls[0].Arguments)
	assert.Equal(t, "one", got.Delta.ToolCalls[0].Name)
}

func TestMerge_ArgumentsAccumulateAcrossFragments(t *testing.T) {
	parts := []Fragment{
		{ID: "r", Delta: Delta{ToolCalls: []ToolCall{{Index: 0, ID: "call_1", Type: "function", Name: "fetch_url"}}}},
		{ID: "r", Delta: Delta{ToolCalls: []ToolCall{{Index: 0, Arguments: `{"url":`}}}},
		{ID: "r", Delta: Delta{ToolCalls: []ToolCall{{Index: 1, ID: "call_2", Name: "current_time"}}}},
		{ID: "r", Delta: Delta{ToolCalls: []ToolCall{{Index: 0, Arguments: `"https://x"}`}}}},
		{ID: "r", FinishReason: FinishToolCalls},
	}

	acc := parts[0]
	for _, p := range parts[1:] {
		var err error
		acc, err = Merge(acc, p)
		require.NoError(t, err)
	}

	require.Len(t, acc.Delta.ToolCalls, 2)
	byIndex := map[int]ToolCall{}
	for _, tc := range acc.Delta.ToolCalls {
		byIndex[tc.Index] = tc
	}
	assert.Equal(t, `{"url":"https://x"}`, byIndex[0].Arguments)
	assert.Equal(t, "call_1", byIndex[0].ID)
	assert.Equal(t, "current_time", byIndex[1].Name)
	assert.Equal(t, FinishToolCalls, acc.FinishReason)
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	a := Fragment{ID: "r", Delta: Delta{ToolCalls: []ToolCall{{Index: 0, Name: "a"}}}}
	b := Fragment{ID: "r"}

	got, err := Merge(a, b)
	require.NoError(t, err)
	got.Delta.ToolCalls[0].Name = "changed"

	assert.Equal(t, "a", a.Delta.ToolCalls[0].Name)
}

func TestParseFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want FinishReason
	}{
		{"", FinishNone},
		{"stop", FinishStop},
		{"tool_calls", FinishToolCalls},
		{"length", FinishLength},
		{"content_filter", FinishContentFilter},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFinishReason(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseFinishReason("exploded")
	assert.Error(t, err)
}
