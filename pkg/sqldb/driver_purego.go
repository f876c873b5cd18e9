//go:build !sqlite_cgo

package sqldb

// Pure Go SQLite, no C toolchain needed. Build with -tags sqlite_cgo to use
// the cgo driver instead.
import _ "modernc.org/sqlite"

const sqliteDriverName = "sqlite"
