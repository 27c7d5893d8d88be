//go:build !cgo_sqlite

package store

import (
	"fmt"
	"net/url"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteDriverName = "sqlite"

// sqliteDSN builds a modernc.org/sqlite DSN with per-connection pragmas.
func sqliteDSN(path string, opts Options) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.ConnectionTimeout.Milliseconds()))
	params.Add("_pragma", "foreign_keys(1)")
	if path != sqliteMemoryPath {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	return path + "?" + params.Encode()
}
