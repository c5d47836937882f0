// ABOUTME: Key-value store interface shared by locks and conversation history
// ABOUTME: Defines the KV contract, sentinel errors and Redis-style range normalization

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested key does not exist
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store closed")

// KV is the shared key-value store behind conversation locks and history.
//
// String keys hold a single value and may carry a TTL (zero means no expiry).
// List keys hold an ordered sequence of values. Range and Trim use Redis index
// semantics: indexes are inclusive, negative indexes count from the end.
type KV interface {
	// SetIfAbsent atomically stores value under key if the key does not exist.
	// It reports whether the value was stored.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes keys of either kind. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// DeleteIfEqual removes the string key only while it still holds value.
	DeleteIfEqual(ctx context.Context, key, value string) (bool, error)
	// ExpireIfEqual resets the TTL of the string key only while it still holds
	// value. A zero ttl removes the expiry.
	ExpireIfEqual(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Append adds value to the end of the list at key and returns the new length.
	Append(ctx context.Context, key, value string) (int64, error)
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	// Trim keeps only the elements between start and stop.
	Trim(ctx context.Context, key string, start, stop int64) error

	Ping(ctx context.Context) error
	Close() error
}

// normalizeRange converts Redis-style inclusive indexes over a list of length n
// into a half-open [lo, hi) slice range. ok is false when the range is empty.
func normalizeRange(n, start, stop int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}
