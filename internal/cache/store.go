package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	"visitsync/internal/config"
)

// generation names the current cache version. Bump it when the cached
// response shape or policy changes; Activate deletes entries from older
// generations so stale deployments never accumulate.
const generation = "v1"

// Entry is one cached API response.
type Entry struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Store persists previously-seen GET responses in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the response cache database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.CacheDBPath())
}

// OpenPath opens the response cache at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS cached_responses (
            request_key TEXT PRIMARY KEY,
            generation  TEXT    NOT NULL,
            status_code INTEGER NOT NULL,
            headers     TEXT    NOT NULL,
            body        BLOB,
            stored_at   TEXT    NOT NULL
        )`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Activate removes entries written by older cache generations.
func (s *Store) Activate(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cached_responses WHERE generation != ?`, generation)
	if err != nil {
		return 0, fmt.Errorf("activate cache generation: %w", err)
	}
	return res.RowsAffected()
}

// Put stores a response under the request key, replacing any prior entry.
func (s *Store) Put(ctx context.Context, key string, entry Entry) error {
	headers, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO cached_responses (request_key, generation, status_code, headers, body, stored_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(request_key) DO UPDATE SET
            generation = excluded.generation,
            status_code = excluded.status_code,
            headers = excluded.headers,
            body = excluded.body,
            stored_at = excluded.stored_at`,
		key, generation, entry.StatusCode, string(headers), entry.Body,
		storedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store cached response: %w", err)
	}
	return nil
}

// Get returns the cached entry for the request key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT status_code, headers, body, stored_at
         FROM cached_responses WHERE request_key = ? AND generation = ?`,
		key, generation,
	)

	var (
		statusCode int
		headersRaw string
		body       []byte
		storedRaw  string
	)
	err := row.Scan(&statusCode, &headersRaw, &body, &storedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached response: %w", err)
	}

	entry := &Entry{StatusCode: statusCode, Body: body}
	if err := json.Unmarshal([]byte(headersRaw), &entry.Header); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	if storedAt, err := time.Parse(time.RFC3339Nano, storedRaw); err == nil {
		entry.StoredAt = storedAt
	}
	return entry, nil
}

// Clear removes every cached response.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cached_responses`)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return res.RowsAffected()
}

// Count reports the number of cached entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM cached_responses`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count cached responses: %w", err)
	}
	return count, nil
}
