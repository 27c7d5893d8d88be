//go:build cgo_sqlite

package store

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver
)

const sqliteDriverName = "sqlite3"

// sqliteDSN builds a mattn/go-sqlite3 DSN.
func sqliteDSN(path string, opts Options) string {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", path, opts.ConnectionTimeout.Milliseconds())
	if path != sqliteMemoryPath {
		dsn += "&_journal_mode=WAL"
	}
	return dsn
}
