package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Backend is the durable home of the config document. Load returns
// (nil, nil) when nothing has been stored yet.
type Backend interface {
	Load() ([]byte, error)
	Save(data []byte) error
	Location() string
}

// FileBackend keeps the document in a single JSON file.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Location() string { return b.path }

func (b *FileBackend) Load() ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Save writes to a temp file in the same directory and renames it over the
// target, so a crash mid-write leaves the previous version intact.
func (b *FileBackend) Save(data []byte) error {
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, b.path)
}

const configDocument = "config"

// SQLiteBackend stores the same JSON document as a single row of a
// key/value table. It is an alternative to FileBackend for hosts where a
// writable directory is awkward but a database file is not.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Make sure the database is responsive
	db.SetMaxOpenConns(1)

	b, err := newSQLiteBackendDB(db, path)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func newSQLiteBackendDB(db *sql.DB, path string) (*SQLiteBackend, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (name TEXT PRIMARY KEY, body TEXT NOT NULL, updated_at INTEGER)`)
	if err != nil {
		return nil, fmt.Errorf("init sqlite %s: %w", path, err)
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

func (b *SQLiteBackend) Location() string { return "sqlite:" + b.path }

func (b *SQLiteBackend) Close() error { return b.db.Close() }

func (b *SQLiteBackend) Load() ([]byte, error) {
	var body string
	err := b.db.QueryRow("SELECT body FROM documents WHERE name = ?", configDocument).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (b *SQLiteBackend) Save(data []byte) error {
	// retry on locked
	var lastErr error
	for i := 0; i < 5; i++ {
		_, err := b.db.Exec("INSERT OR REPLACE INTO documents (name, body, updated_at) VALUES (?, ?, ?)",
			configDocument, string(data), time.Now().Unix())
		if err == nil {
			return nil
		}
		lastErr = err
		if strings.Contains(err.Error(), "database is locked") {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return err
	}
	return lastErr
}
