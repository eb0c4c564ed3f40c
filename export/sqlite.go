package export

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteSink writes records into a SQLite database.
//
// Tables:
//
//	documents(id, data)  PRIMARY KEY (id)
type SQLiteSink struct {
	mu sync.Mutex
	db *sql.DB
}

func OpenSQLite(dbPath string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Put(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO documents (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		id, string(data),
	)
	return err
}

// Get returns the stored JSON for id, or nil if absent.
func (s *SQLiteSink) Get(id string) ([]byte, error) {
	var raw string
	err := s.db.QueryRow("SELECT data FROM documents WHERE id = ?", id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

// Count returns the number of rows in documents.
func (s *SQLiteSink) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
