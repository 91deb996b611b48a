package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"visitsync/internal/config"
)

// Store manages queued mutation persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Schema versioning rides on SQLite's user_version pragma. Mismatched
// databases are refused rather than migrated; queued writes are short-lived,
// so clearing the queue is the supported upgrade path.
const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS queued_mutations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    method        TEXT    NOT NULL,
    url           TEXT    NOT NULL,
    body          BLOB,
    status        TEXT    NOT NULL DEFAULT 'pending',
    retry_count   INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at    TEXT    NOT NULL,
    updated_at    TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queued_mutations_status
    ON queued_mutations (status, created_at, id);
`

// ErrSchemaMismatch indicates the database was created by an incompatible
// version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Open initializes or connects to the queue database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.QueueDBPath())
}

// OpenPath opens the queue database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}
	if version != 0 {
		return fmt.Errorf("%w: database has version %d, expected %d (run 'visitsync queue clear' or delete the database)",
			ErrSchemaMismatch, version, schemaVersion)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
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

// Enqueue stores a new pending mutation and returns it with its assigned id.
// Failures wrap ErrStorageUnavailable; the caller must surface them, since a
// write that cannot be queued is lost.
func (s *Store) Enqueue(ctx context.Context, method, url string, body []byte) (*Mutation, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return nil, errors.New("method is required")
	}
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("url is required")
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO queued_mutations (method, url, body, status, retry_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)`,
		method,
		url,
		body,
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert mutation: %v", ErrStorageUnavailable, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: last insert id: %v", ErrStorageUnavailable, err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a mutation by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Mutation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mutationColumns+` FROM queued_mutations WHERE id = ?`, id)
	item, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mutation: %w", err)
	}
	return item, nil
}

// ListPending returns pending and in-flight mutations in replay order.
func (s *Store) ListPending(ctx context.Context) ([]*Mutation, error) {
	return s.listByStatuses(ctx, StatusPending, StatusInFlight)
}

// ListFailed returns failed mutations in replay order.
func (s *Store) ListFailed(ctx context.Context) ([]*Mutation, error) {
	return s.listByStatuses(ctx, StatusFailed)
}

func (s *Store) listByStatuses(ctx context.Context, statuses ...Status) ([]*Mutation, error) {
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+mutationColumns+` FROM queued_mutations
         WHERE status IN (`+placeholders+`)
         ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()

	var items []*Mutation
	for rows.Next() {
		item, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextPending returns the oldest pending mutation, or nil when the queue is drained.
func (s *Store) NextPending(ctx context.Context) (*Mutation, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+mutationColumns+` FROM queued_mutations
         WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		StatusPending,
	)
	item, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending: %w", err)
	}
	return item, nil
}

// MarkInFlight transitions a pending mutation to in_flight. Only one mutation
// is in flight at a time; the sync engine is the sole writer of this state.
func (s *Store) MarkInFlight(ctx context.Context, id int64) error {
	return s.transition(
		ctx,
		`UPDATE queued_mutations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusInFlight, nowString(), id, StatusPending,
	)
}

// MarkSucceeded removes a mutation after successful replay.
func (s *Store) MarkSucceeded(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queued_mutations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRetry returns an in-flight mutation to pending with an incremented
// retry count so a later drain pass picks it up again.
func (s *Store) MarkRetry(ctx context.Context, id int64) error {
	return s.transition(
		ctx,
		`UPDATE queued_mutations
         SET status = ?, retry_count = retry_count + 1, error_message = NULL, updated_at = ?
         WHERE id = ?`,
		StatusPending, nowString(), id,
	)
}

// Requeue returns an in-flight mutation to pending without charging a retry
// attempt. Used when the failure was the network itself, not the mutation.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	return s.transition(
		ctx,
		`UPDATE queued_mutations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusPending, nowString(), id, StatusInFlight,
	)
}

// MarkFailed parks a mutation as failed with the last failure reason. Failed
// mutations stay in the store until explicitly discarded or retried.
func (s *Store) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	return s.transition(
		ctx,
		`UPDATE queued_mutations SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, errorMessage, nowString(), id,
	)
}

// Remove deletes a mutation by identifier (explicit user discard).
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queued_mutations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete mutation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RetryFailed moves failed mutations back to pending with their retry budget
// reset. With no ids, all failed mutations are requeued.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE queued_mutations
             SET status = ?, retry_count = 0, error_message = NULL, updated_at = ?
             WHERE status = ?`,
			StatusPending, nowString(), StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed mutations: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusPending, nowString())
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusFailed)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE queued_mutations
         SET status = ?, retry_count = 0, error_message = NULL, updated_at = ?
         WHERE id IN (`+placeholders+`) AND status = ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected mutations: %w", err)
	}
	return res.RowsAffected()
}

// ResetInFlight returns any in-flight mutation to pending. Called at startup:
// an item left in_flight by a crash has an unknown outcome and must be
// replayed rather than assumed delivered.
func (s *Store) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE queued_mutations SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, nowString(), StatusInFlight,
	)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight mutations: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all mutations from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queued_mutations`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of mutations grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM queued_mutations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusInFlight:
			health.InFlight += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'queued_mutations'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM queued_mutations")
		if err := row.Scan(&health.TotalItems); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count mutations: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

func (s *Store) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update mutation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const mutationColumns = "id, method, url, body, status, retry_count, error_message, created_at, updated_at"

func scanMutation(scanner interface{ Scan(dest ...any) error }) (*Mutation, error) {
	var (
		id           int64
		method       string
		url          string
		body         []byte
		statusStr    string
		retryCount   int
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(&id, &method, &url, &body, &statusStr, &retryCount, &errorMessage, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	item := &Mutation{
		ID:           id,
		Method:       method,
		URL:          url,
		Body:         body,
		Status:       Status(statusStr),
		RetryCount:   retryCount,
		ErrorMessage: errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
