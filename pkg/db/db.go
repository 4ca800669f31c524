package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateKey    = errors.New("unique key already present")
	ErrVersionConflict = errors.New("record changed since it was read")
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB *sql.DB
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path + "?" + connParams
	if strings.Contains(path, "?") {
		dsn = path + "&" + connParams
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	return &Database{DB: db}, nil
}

// connParams apply to every connection the pool opens. Other processes share
// the file, so transactions take the write lock on BEGIN and wait for it
// rather than failing when a read has to be upgraded.
const connParams = "_txlock=immediate&_pragma=busy_timeout(5000)"

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// isUniqueViolation recognises primary key and unique index failures.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE")
		}
	}
	return false
}
