// ABOUTME: Backend selection for the KV store
// ABOUTME: Opens Redis, SQLite or in-memory storage from a driver name

package store

import (
	"fmt"
)

// Open returns the KV backend named by driver. dsn is a redis:// URL for
// "redis" and a file path for "sqlite"; it is ignored for "memory".
func Open(driver, dsn string) (KV, error) {
	switch driver {
	case "redis":
		return NewRedisStore(dsn)
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "memory":
		return NewMockStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
