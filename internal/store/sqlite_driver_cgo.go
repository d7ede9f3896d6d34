//go:build sqlite_cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// sqliteDriver is the cgo driver:
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...
const sqliteDriver = "sqlite3"
