// Package knowledge provides the SQLite-backed durable key/value store
// used to persist messages, execution records, and learned patterns
// beyond process lifetime. Entries carry a per-key TTL and are lazily
// removed on read.
package knowledge

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed durable key/value storage with TTL.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// DefaultDBPath returns the path to the default ensemble database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "ensemble", "ensemble.db")
}

// Open creates a Store backed by the database at dbPath, creating the
// parent directories and schema if needed.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &Store{
		db:     conn,
		dbPath: dbPath,
	}
	if err := store.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// Set stores value under key, JSON-encoded. A ttl of zero or less means
// the entry never expires. An existing entry is replaced.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %q: %w", key, err)
	}

	now := time.Now().UnixMilli()
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now + ttl.Milliseconds(), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO entries (key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, string(data), expiresAt, now, now)
	if err != nil {
		return fmt.Errorf("insert entry %q: %w", key, err)
	}
	return nil
}

// Get loads the value stored under key into dest, which must be a
// pointer. It returns false if the key is absent or expired; an expired
// row is deleted on the way out.
func (s *Store) Get(key string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		value     string
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRow(`SELECT value, expires_at FROM entries WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query entry %q: %w", key, err)
	}

	if expiresAt.Valid && time.Now().UnixMilli() > expiresAt.Int64 {
		if _, err := s.db.Exec(`DELETE FROM entries WHERE key = ?`, key); err != nil {
			return false, fmt.Errorf("evict expired entry %q: %w", key, err)
		}
		return false, nil
	}

	if dest != nil {
		if err := json.Unmarshal([]byte(value), dest); err != nil {
			return false, fmt.Errorf("unmarshal entry %q: %w", key, err)
		}
	}
	return true, nil
}

// Delete removes the entry stored under key, if any.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete entry %q: %w", key, err)
	}
	return nil
}

// Sweep removes every expired entry and returns how many were deleted.
func (s *Store) Sweep() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired entries: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of live entries whose key starts with prefix.
// Pass an empty prefix to count everything.
func (s *Store) Count(prefix string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM entries
		WHERE key LIKE ? || '%' AND (expires_at IS NULL OR expires_at >= ?)
	`, prefix, time.Now().UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}
