// ABOUTME: Pure merge of two fragments belonging to the same response
// ABOUTME: Concatenates strings, recurses into nested values, merges tool calls by index

package fragment

// Merge combines a and b into a new fragment. Neither input is modified.
func Merge(a, b Fragment) (Fragment, error) {
	if a.ID != b.ID {
		return Fragment{}, &IdentityMismatchError{Want: a.ID, Got: b.ID}
	}

	out := Fragment{
		ID:           a.ID,
		Model:        a.Model,
		Delta:        mergeDelta(a.Delta, b.Delta),
		FinishReason: a.FinishReason,
		Usage:        a.Usage,
	}
	// Model is response metadata repeated on every chunk, not a delta.
	if out.Model == "" {
		out.Model = b.Model
	}
	if b.FinishReason != FinishNone {
		out.FinishReason = b.FinishReason
	}
	if b.Usage != nil {
		u := *b.Usage
		out.Usage = &u
	}
	return out, nil
}

func mergeDelta(a, b Delta) Delta {
	return Delta{
		Role:      a.Role + b.Role,
		Content:   a.Content + b.Content,
		ToolCalls: mergeToolCalls(a.ToolCalls, b.ToolCalls),
	}
}

func mergeToolCall(a, b ToolCall) ToolCall {
	return ToolCall{
		Index:     a.Index,
		ID:        a.ID + b.ID,
		Type:      a.Type + b.Type,
		Name:      a.Name + b.Name,
		Arguments: a.Arguments + b.Arguments,
	}
}

func mergeToolCalls(a, b []ToolCall) []ToolCall {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	if len(b) == 0 {
		return append([]ToolCall(nil), a...)
	}
	if len(a) == 0 {
		return append([]ToolCall(nil), b...)
	}

	inA := make(map[int]bool, len(a))
	for _, tc := range a {
		inA[tc.Index] = true
	}
	inB := make(map[int]bool, len(b))
	for _, tc := range b {
		inB[tc.Index] = true
	}

	out := make([]ToolCall, 0, len(a)+len(b))
	for _, ta := range a {
		for _, tb := range b {
			if ta.Index == tb.Index {
				out = append(out, mergeToolCall(ta, tb))
			}
		}
	}
	for _, ta := range a {
		if !inB[ta.Index] {
			out = append(out, ta)
		}
	}
	for _, tb := range b {
		if !inA[tb.Index] {
			out = append(out, tb)
		}
	}
	return out
}
