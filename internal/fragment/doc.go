// Package fragment merges the incremental pieces of a streamed completion
// into one accumulated response.
//
// # Merge rules
//
// Fragments that belong to one response share an ID. Merge combines two of
// them field by field:
//
//   - strings present on both sides are concatenated
//   - nested values (the delta, each tool call) are merged recursively
//   - a value present on only one side wins over the zero value
//   - tool-call lists are merged by Index
//
// Merged tool-call lists keep a fixed order: entries whose index appears on
// both sides (merged, in the order of the left list), then entries only in the
// left list, then entries only in the right list.
//
// # Aggregate
//
// Aggregate wraps Merge for one generation round. It is empty until the first
// fragment arrives and frozen once a finish reason is seen; after that only
// usage trailers are accepted.
package fragment
