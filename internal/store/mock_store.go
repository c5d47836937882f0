// ABOUTME: Mock KV implementation for testing
// ABOUTME: Allows tests to run without Redis or SQLite and to inject failures

package store

import (
	"context"
	"sync"
	"time"
)

type mockValue struct {
	value   string
	expires time.Time
}

// MockStore is an in-memory KV implementation for testing.
type MockStore struct {
	mu     sync.Mutex
	values map[string]mockValue
	lists  map[string][]string
	closed bool

	// Err, when set, is returned by every operation.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		values: make(map[string]mockValue),
		lists:  make(map[string][]string),
	}
}

// SetError makes every following operation fail with err (nil clears it).
func (m *MockStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func (m *MockStore) check() error {
	if m.closed {
		return ErrClosed
	}
	return m.Err
}

// liveLocked returns the unexpired value for key. Must be called with mu held.
func (m *MockStore) liveLocked(key string) (mockValue, bool) {
	v, ok := m.values[key]
	if !ok {
		return mockValue{}, false
	}
	if !v.expires.IsZero() && !time.Now().Before(v.expires) {
		delete(m.values, key)
		return mockValue{}, false
	}
	return v, true
}

func newMockValue(value string, ttl time.Duration) mockValue {
	v := mockValue{value: value}
	if ttl > 0 {
		v.expires = time.Now().Add(ttl)
	}
	return v
}

func (m *MockStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	if _, ok := m.liveLocked(key); ok {
		return false, nil
	}
	m.values[key] = newMockValue(value, ttl)
	return true, nil
}

func (m *MockStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.values[key] = newMockValue(value, ttl)
	return nil
}

func (m *MockStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return "", err
	}
	v, ok := m.liveLocked(key)
	if !ok {
		return "", ErrNotFound
	}
	return v.value, nil
}

func (m *MockStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	if _, ok := m.liveLocked(key); ok {
		return true, nil
	}
	return len(m.lists[key]) > 0, nil
}

func (m *MockStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	for _, k := range keys {
		delete(m.values, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *MockStore) DeleteIfEqual(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	v, ok := m.liveLocked(key)
	if !ok || v.value != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *MockStore) ExpireIfEqual(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	v, ok := m.liveLocked(key)
	if !ok || v.value != value {
		return false, nil
	}
	m.values[key] = newMockValue(value, ttl)
	return true, nil
}

func (m *MockStore) Append(ctx context.Context, key, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	m.lists[key] = append(m.lists[key], value)
	return int64(len(m.lists[key])), nil
}

func (m *MockStore) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	list := m.lists[key]
	lo, hi, ok := normalizeRange(int64(len(list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), list[lo:hi]...), nil
}

func (m *MockStore) Trim(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	list := m.lists[key]
	lo, hi, ok := normalizeRange(int64(len(list)), start, stop)
	if !ok {
		delete(m.lists, key)
		return nil
	}
	m.lists[key] = append([]string(nil), list[lo:hi]...)
	return nil
}

func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check()
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
