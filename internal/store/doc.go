// Package store provides the shared key-value store that backs conversation
// locks and conversation history.
//
// # Backends
//
// KV is implemented three times:
//
//   - RedisStore: go-redis v9, the production backend shared by every bot
//     process. SetIfAbsent is SETNX, lists are RPUSH/LRANGE/LTRIM.
//   - SQLiteStore: modernc.org/sqlite, for single-host deployments. Values live
//     in the kv table, lists in list_items ordered by a per-key sequence.
//   - MockStore: in-memory, for tests. SetError injects failures.
//
// Open picks a backend from a driver name.
//
// # Semantics
//
// Range and Trim follow Redis index rules: inclusive bounds, negative indexes
// count from the end, out-of-range bounds are clamped. SetIfAbsent is a single
// atomic operation on every backend so a lock can never be taken twice.
//
// # Error Handling
//
//   - ErrNotFound: Get on a missing or expired key
//   - ErrClosed: operation on a closed MockStore
//
// Backend errors are wrapped with the operation and key.
package store
