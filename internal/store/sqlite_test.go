// ABOUTME: Tests for SQLite-specific KV behavior
// ABOUTME: Covers directory creation, TTL expiry and refresh with a controlled clock

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestSQLiteStore_TTLExpiry(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := s.SetIfAbsent(ctx, "lock", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetIfAbsent(ctx, "lock", "2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)

	exists, err := s.Exists(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = s.SetIfAbsent(ctx, "lock", "3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_ExpireIfEqualExtendsLease(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := s.SetIfAbsent(ctx, "lock", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(50 * time.Second)
	ok, err = s.ExpireIfEqual(ctx, "lock", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(50 * time.Second)
	exists, err := s.Exists(ctx, "lock")
	require.NoError(t, err)
	assert.True(t, exists, "refreshed lock must outlive its first ttl")

	now = now.Add(time.Minute)
	ok, err = s.ExpireIfEqual(ctx, "lock", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "an expired lock cannot be refreshed")
}
