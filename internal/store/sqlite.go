package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// SQLiteStore implements WebsiteDirectory and MessageStore using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	bcryptCost int
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithBcryptCost sets the cost used to hash website passwords.
func WithBcryptCost(cost int) Option {
	return func(s *SQLiteStore) { s.bcryptCost = cost }
}

// NewSQLiteStore opens (creating if needed) the database at path.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	memory := path == ":memory:"
	dsn := path + "?_foreign_keys=ON&_busy_timeout=5000"
	if !memory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db, bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Printf("[Store] Opened %s", path)
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS websites (
			token TEXT PRIMARY KEY,
			host TEXT NOT NULL UNIQUE,
			alias TEXT NOT NULL DEFAULT '',
			creator TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS subscribers (
			token TEXT NOT NULL,
			username TEXT NOT NULL,
			channel INTEGER NOT NULL,
			PRIMARY KEY (token, username),
			FOREIGN KEY (token) REFERENCES websites(token) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			banned INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (token) REFERENCES websites(token) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token TEXT NOT NULL,
			session TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			text TEXT NOT NULL,
			visitor TEXT NOT NULL DEFAULT '',
			staff TEXT NOT NULL DEFAULT '',
			undelivered INTEGER NOT NULL DEFAULT 0,
			UNIQUE (token, session, timestamp),
			FOREIGN KEY (session) REFERENCES sessions(session) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
