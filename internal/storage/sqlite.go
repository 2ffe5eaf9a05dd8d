// Package storage persists crawl results. It stores websites and their
// extracted vocabulary in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteStore implements word/website persistence on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and
// initializes the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveDomainWords inserts the website and its word set in one
// transaction and returns nil on success.
func (s *SQLiteStore) SaveDomainWords(companyID int, website string, words []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`INSERT INTO websites (company_id, website) VALUES (?, ?)`, companyID, website)
	if err != nil {
		return fmt.Errorf("failed to insert website %s: %w", website, err)
	}
	websiteID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get website id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO words (website_id, word) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, word := range words {
		if _, err := stmt.Exec(websiteID, word); err != nil {
			return fmt.Errorf("failed to insert word %q: %w", word, err)
		}
	}
	return tx.Commit()
}

// WebsiteCount returns the number of stored websites.
func (s *SQLiteStore) WebsiteCount() (int, error) {
	return s.count(`SELECT COUNT(*) FROM websites`)
}

// WordCount returns the number of stored words across all websites.
func (s *SQLiteStore) WordCount() (int, error) {
	return s.count(`SELECT COUNT(*) FROM words`)
}

// WordsFor returns the stored words of one website URL.
func (s *SQLiteStore) WordsFor(website string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT w.word FROM words w
		JOIN websites s ON s.id = w.website_id
		WHERE s.website = ?
		ORDER BY w.word`, website)
	if err != nil {
		return nil, fmt.Errorf("failed to query words: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var words []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

func (s *SQLiteStore) count(query string) (int, error) {
	var n int
	if err := s.db.QueryRow(query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}
