// ABOUTME: Per-conversation mutual exclusion on the shared KV store
// ABOUTME: Each acquisition owns a random token; release and refresh check it first

package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/YubinMoon/servant-bot/internal/store"
)

// Lock guards conversations against concurrent generations. Lock entries live
// in the shared store so every bot process sees the same state.
type Lock struct {
	kv     store.KV
	ttl    time.Duration
	logger *slog.Logger
}

// Lease is one successful acquisition of a conversation lock. Only the holder
// of the lease can release or refresh the entry it created.
type Lease struct {
	Conversation ID
	token        string
}

// NewLock creates a lock on kv. A positive ttl expires entries that were never
// released, for example after a crash. Holders keep their entry alive with
// Refresh.
func NewLock(kv store.KV, ttl time.Duration, logger *slog.Logger) *Lock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{
		kv:     kv,
		ttl:    ttl,
		logger: logger.With("component", "lock"),
	}
}

// TTL returns the expiry applied to lock entries; zero means none.
func (l *Lock) TTL() time.Duration {
	return l.ttl
}

// TryAcquire takes the lock for id. It returns false when the lock is already
// held and a *LockUnavailableError when the store cannot be reached.
func (l *Lock) TryAcquire(ctx context.Context, id ID) (Lease, bool, error) {
	lease := Lease{Conversation: id, token: uuid.NewString()}
	ok, err := l.kv.SetIfAbsent(ctx, id.lockKey(), lease.token, l.ttl)
	if err != nil {
		return Lease{}, false, &LockUnavailableError{Conversation: id.String(), Op: "acquire", Err: err}
	}
	if !ok {
		return Lease{}, false, nil
	}
	l.logger.Debug("lock acquired", "conversation", id.String())
	return lease, true, nil
}

// Release drops the lock if lease still owns it. Releasing twice, or after the
// entry expired and was taken by someone else, is a no-op.
func (l *Lock) Release(ctx context.Context, lease Lease) error {
	id := lease.Conversation
	deleted, err := l.kv.DeleteIfEqual(ctx, id.lockKey(), lease.token)
	if err != nil {
		return &LockUnavailableError{Conversation: id.String(), Op: "release", Err: err}
	}
	if !deleted {
		l.logger.Debug("lock no longer owned at release", "conversation", id.String())
		return nil
	}
	l.logger.Debug("lock released", "conversation", id.String())
	return nil
}

// Refresh pushes the expiry of a held lock one TTL into the future. It reports
// false when lease no longer owns the entry.
func (l *Lock) Refresh(ctx context.Context, lease Lease) (bool, error) {
	id := lease.Conversation
	held, err := l.kv.ExpireIfEqual(ctx, id.lockKey(), lease.token, l.ttl)
	if err != nil {
		return false, &LockUnavailableError{Conversation: id.String(), Op: "refresh", Err: err}
	}
	return held, nil
}

// IsHeld reports whether a generation currently owns id.
func (l *Lock) IsHeld(ctx context.Context, id ID) (bool, error) {
	held, err := l.kv.Exists(ctx, id.lockKey())
	if err != nil {
		return false, &LockUnavailableError{Conversation: id.String(), Op: "probe", Err: err}
	}
	return held, nil
}
