//go:build !sqlite_cgo

package store

import (
	_ "modernc.org/sqlite"
)

// sqliteDriver is the pure Go driver, used unless built with -tags sqlite_cgo.
const sqliteDriver = "sqlite"
