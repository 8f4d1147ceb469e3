package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the history and failures tables if
// they don't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers; the store also holds its own lock.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS history (
		item_key TEXT PRIMARY KEY,
		timestamp REAL NOT NULL,
		hash TEXT NOT NULL,
		date TEXT NOT NULL,
		filename TEXT NOT NULL,
		fsid TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create history table: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS failures (
		item_key TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		filename TEXT NOT NULL,
		fsid TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create failures table: %w", err)
	}

	return db, nil
}
