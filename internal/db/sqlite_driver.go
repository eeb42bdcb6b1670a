package db

import (
	"database/sql"
	"fmt"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver.
	SQLiteDriverName = "sqlite3_lightpad"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// A wrong key only surfaces on first page read; fail the
			// connection instead of the first query.
			if _, err := conn.Exec("SELECT count(*) FROM sqlite_master", nil); err != nil {
				return fmt.Errorf("open encrypted database (wrong key?): %w", err)
			}
			return nil
		},
	})
}
