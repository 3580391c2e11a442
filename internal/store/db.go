// Package store is the local mirror: a rebuildable SQLite file holding one
// denormalized record per conversation, queryable as live diffable views,
// plus the durable queue of writes bound for the remote feed.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection of the mirror file. Mutations are
// serialized and each one refreshes every open LiveView before returning.
type DB struct {
	*sql.DB

	mu    sync.Mutex
	views map[*LiveView]struct{}
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, views: make(map[*LiveView]struct{})}, nil
}
