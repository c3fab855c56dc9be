package store

import (
	"database/sql"
	"fmt"

	"github.com/lcastillo/vitrina/internal/feed"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection holding the directory's conversations,
// messages, and the minimal business/profile records the chat engine needs.
// Every confirmed mutation is published on the change feed.
type DB struct {
	*sql.DB
	feed *feed.Feed
}

// Open creates a SQLite connection with WAL mode and recommended pragmas.
// Foreign keys are enabled so conversation deletion cascades to messages.
func Open(path string, f *feed.Feed) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, feed: f}, nil
}

// Feed returns the change feed this store publishes to.
func (db *DB) Feed() *feed.Feed {
	return db.feed
}

func (db *DB) publish(evt feed.Event) {
	if db.feed != nil {
		db.feed.Publish(evt)
	}
}
