//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver
	// as an auto-loadable extension. Builds without the sqlite_vec tag
	// fall back to full-scan cosine search.
	vec.Auto()
}
