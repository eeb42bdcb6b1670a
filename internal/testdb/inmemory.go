// Package testdb builds throwaway encrypted stores for tests.
package testdb

import (
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jacobjmc/lightpad/internal/db"
)

// Key is the fixed SQLCipher key used by every test store.
var Key = strings.Repeat("ab", 32)

var counter atomic.Int64

// NewStore creates an in-memory encrypted store. Each call gets its own
// database; connections within one store share it through the shared cache.
func NewStore(name string) (*db.SQLiteStore, error) {
	if name == "" {
		name = "lightpad-test"
	}
	name = fmt.Sprintf("%s-%d", name, counter.Add(1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096", name, Key)

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// One connection keeps the memory database alive and avoids
	// shared-cache table locks between connections.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	store, err := db.NewSQLiteStoreFromSQL(sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// MustStore is NewStore for tests; the store is closed on cleanup.
func MustStore(tb testing.TB) *db.SQLiteStore {
	tb.Helper()
	store, err := NewStore(sanitizeName(tb.Name()))
	if err != nil {
		tb.Fatalf("testdb.NewStore: %v", err)
	}
	tb.Cleanup(func() { store.Close() })
	return store
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
