// Package store persists analyzer results in SQLite: one classification per
// document, every discovered connection, and an audit log of processing
// actions.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"notegraph/internal/logging"
	"notegraph/internal/transparency"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ResultStore implements classification, connection and audit storage on a
// single SQLite connection. Every method is atomic on its own.
type ResultStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Counts summarizes store contents for status reports.
type Counts struct {
	Classifications    int `json:"classifications"`
	Connections        int `json:"connections"`
	AppliedConnections int `json:"applied_connections"`
	ProcessingEntries  int `json:"processing_entries"`
}

// Open initializes the SQLite database at path (":memory:" for tests).
func Open(path string) (*ResultStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, transparency.Storage("create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, transparency.Storage("open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}

	s := &ResultStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, transparency.Storage("initialize schema", err)
	}
	logging.StoreDebug("result store ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *ResultStore) initialize() error {
	fileAnalysisTable := `
	CREATE TABLE IF NOT EXISTS file_analysis (
		file_path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		primary_topic TEXT,
		content_type TEXT,
		key_concepts TEXT,
		temporal_markers TEXT,
		project_references TEXT,
		relationship_hints TEXT,
		confidence REAL,
		analyzed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_file_analysis_analyzed_at ON file_analysis(analyzed_at);
	`

	connectionsTable := `
	CREATE TABLE IF NOT EXISTS connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_file TEXT NOT NULL,
		target_file TEXT NOT NULL,
		connection_type TEXT,
		strength_score REAL,
		confidence REAL,
		reason TEXT,
		suggested_link TEXT,
		auto_applied INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		applied_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_connections_pending ON connections(auto_applied, strength_score, confidence);
	CREATE INDEX IF NOT EXISTS idx_connections_source ON connections(source_file);
	`

	processingLogTable := `
	CREATE TABLE IF NOT EXISTS processing_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_processing_log_timestamp ON processing_log(timestamp);
	`

	for _, ddl := range []string{fileAnalysisTable, connectionsTable, processingLogTable} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Path returns the database location.
func (s *ResultStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Counts returns row counts for status reports.
func (s *ResultStore) Counts() (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	row := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM file_analysis),
			(SELECT COUNT(*) FROM connections),
			(SELECT COUNT(*) FROM connections WHERE auto_applied = 1),
			(SELECT COUNT(*) FROM processing_log)`)
	if err := row.Scan(&c.Classifications, &c.Connections, &c.AppliedConnections, &c.ProcessingEntries); err != nil {
		return Counts{}, transparency.Storage("count rows", err)
	}
	return c, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixNano()
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n)
}
