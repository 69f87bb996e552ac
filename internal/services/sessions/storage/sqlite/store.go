package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/errors"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/logging"
	sqlitemigrate "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/storage/sqlitemigrate"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/timeouts"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const (
	// DefaultChunkSize is the smallest payload chunk fetched per read round trip.
	DefaultChunkSize = 10000
	// DefaultMaxOpenConns bounds the pool Open creates.
	DefaultMaxOpenConns = 50
	// DefaultMaxIdleConns bounds idle connections kept by Open.
	DefaultMaxIdleConns = 50
	// DefaultConnMaxLifetime recycles pooled connections opened by Open.
	DefaultConnMaxLifetime = 30 * time.Minute
)

const (
	insertSessionSQL = `
INSERT INTO session (session_id, last_modified, session_data, principal)
VALUES (?, ?, coalesce(?, x''), ?)`

	updateSessionSQL = `
UPDATE session
SET last_modified = MAX(?, last_modified), session_data = coalesce(?, x''), principal = ?
WHERE session_id = ?`

	putSessionSQL = `
INSERT INTO session (session_id, last_modified, session_data, principal)
VALUES (?, ?, coalesce(?, x''), ?)
ON CONFLICT(session_id) DO UPDATE SET
    last_modified = MAX(excluded.last_modified, session.last_modified),
    session_data = excluded.session_data,
    principal = excluded.principal`

	selectSessionMetaSQL = `
SELECT last_modified, principal, length(CAST(session_data AS BLOB))
FROM session
WHERE session_id = ?`

	selectSessionChunkSQL = `
SELECT substr(CAST(session_data AS BLOB), ?, ?)
FROM session
WHERE session_id = ?`

	deleteSessionSQL  = `DELETE FROM session WHERE session_id = ?`
	deleteExpiredSQL  = `DELETE FROM session WHERE last_modified <= ?`
	listSessionIDsSQL = `SELECT session_id FROM session`
)

// PoolConfig sizes the connection pool of a store created by Open.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns the pool sizing used when none is supplied.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    DefaultMaxOpenConns,
		MaxIdleConns:    DefaultMaxIdleConns,
		ConnMaxLifetime: DefaultConnMaxLifetime,
	}
}

// withDefaults fills unset fields from DefaultPoolConfig.
func (p PoolConfig) withDefaults() PoolConfig {
	defaults := DefaultPoolConfig()
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = defaults.MaxOpenConns
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = defaults.MaxIdleConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	return p
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp writes.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithChunkSize sets the payload read chunk; values below DefaultChunkSize are raised to it.
func WithChunkSize(size int) Option {
	return func(s *Store) {
		s.chunkSize = max(size, DefaultChunkSize)
	}
}

// WithPoolWait caps how long an operation waits for a pooled connection.
// Zero waits as long as the caller's context allows.
func WithPoolWait(wait time.Duration) Option {
	return func(s *Store) {
		if wait >= 0 {
			s.poolWait = wait
		}
	}
}

// WithLogger sets the logger for tolerated schema faults.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logging.OrNop(logger)
	}
}

// WithPool sizes the pool Open creates. It is ignored by New, which never
// reconfigures a host-supplied pool.
func WithPool(pool PoolConfig) Option {
	return func(s *Store) {
		s.pool = pool
	}
}

// Store implements storage.SessionStore over SQLite.
type Store struct {
	sqlDB     *sql.DB
	owned     bool
	clock     func() time.Time
	chunkSize int
	poolWait  time.Duration
	pool      PoolConfig
	logger    *slog.Logger
}

var _ storage.SessionStore = (*Store)(nil)

// New wraps a host-supplied pool. The caller keeps ownership of sqlDB and is
// expected to call Init before use.
func New(sqlDB *sql.DB, opts ...Option) (*Store, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	store := &Store{
		sqlDB:     sqlDB,
		clock:     time.Now,
		chunkSize: DefaultChunkSize,
		poolWait:  timeouts.PoolWait,
		pool:      DefaultPoolConfig(),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Open opens a SQLite session database at path, sizes its pool and applies
// the bundled schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store, err := New(sqlDB, opts...)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	store.owned = true
	pool := store.pool.withDefaults()
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := store.Init(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Close releases the pool when the store opened it.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil || !s.owned {
		return nil
	}
	return s.sqlDB.Close()
}

// Init creates the session table and its index when they do not exist.
// Objects that already exist are logged and tolerated.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return apperrors.New(apperrors.CodeStorageUnavailable, "storage is not configured")
	}
	logf := func(format string, args ...any) {
		s.logger.Warn(fmt.Sprintf(format, args...))
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, s.sqlDB, migrations.FS, "", logf); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "init session schema", err)
	}
	return nil
}

// InsertSession creates a new session row stamped with the current time.
func (s *Store) InsertSession(ctx context.Context, id, principal string, payload []byte) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, insertSessionSQL, id, s.nowMillis(), payload, nullString(principal)); err != nil {
		if isUniqueViolation(err) {
			return apperrors.WrapWithMetadata(apperrors.CodeSessionExists, "session already exists",
				map[string]string{"session_id": id}, err)
		}
		return apperrors.Wrap(apperrors.CodeStorageFailure, "insert session", err)
	}
	return nil
}

// UpdateSession rewrites an existing session. Missing ids are left alone.
func (s *Store) UpdateSession(ctx context.Context, id, principal string, payload []byte) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, updateSessionSQL, s.nowMillis(), payload, nullString(principal), id); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "update session", err)
	}
	return nil
}

// PutSession inserts the session or replaces the existing row in one statement.
func (s *Store) PutSession(ctx context.Context, id, principal string, payload []byte) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, putSessionSQL, id, s.nowMillis(), payload, nullString(principal)); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "put session", err)
	}
	return nil
}

// GetSession returns the stored payload.
func (s *Store) GetSession(ctx context.Context, id string) ([]byte, bool, error) {
	record, ok, err := s.GetSessionRecord(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return record.Payload, true, nil
}

// GetSessionRecord loads a session and streams its payload in chunks.
// A row whose payload is NULL is reported as absent.
func (s *Store) GetSessionRecord(ctx context.Context, id string) (storage.SessionRecord, bool, error) {
	if err := storage.ValidateID(id); err != nil {
		return storage.SessionRecord{}, false, err
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return storage.SessionRecord{}, false, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return storage.SessionRecord{}, false, apperrors.Wrap(apperrors.CodeStorageFailure, "begin session read", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		lastModified int64
		principal    sql.NullString
		size         sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, selectSessionMetaSQL, id).Scan(&lastModified, &principal, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SessionRecord{}, false, nil
	}
	if err != nil {
		return storage.SessionRecord{}, false, apperrors.Wrap(apperrors.CodeStorageFailure, "get session", err)
	}
	if !size.Valid {
		return storage.SessionRecord{}, false, nil
	}

	payload, err := s.readPayload(ctx, tx, id, int(size.Int64))
	if err != nil {
		return storage.SessionRecord{}, false, apperrors.WrapWithMetadata(apperrors.CodeBlobRead, "read session payload",
			map[string]string{"session_id": id}, err)
	}

	return storage.SessionRecord{
		ID:           id,
		LastModified: storage.FromMillis(lastModified),
		Payload:      payload,
		Principal:    principal.String,
	}, true, nil
}

// DeleteSession removes one session row.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, deleteSessionSQL, id); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "delete session", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session last modified at or before cutoff.
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx, deleteExpiredSQL, storage.ToMillis(cutoff))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageFailure, "delete expired sessions", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageFailure, "count expired sessions", err)
	}
	return deleted, nil
}

// ListSessionIDs returns the id of every stored session.
func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, listSessionIDsSQL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list sessions", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "scan session id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "iterate session ids", err)
	}
	return ids, nil
}

// conn borrows a pooled connection, waiting at most poolWait for one.
func (s *Store) conn(ctx context.Context) (*sql.Conn, error) {
	if s == nil || s.sqlDB == nil {
		return nil, apperrors.New(apperrors.CodeStorageUnavailable, "storage is not configured")
	}
	waitCtx := ctx
	if s.poolWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.poolWait)
		defer cancel()
	}
	conn, err := s.sqlDB.Conn(waitCtx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "acquire connection", err)
	}
	return conn, nil
}

func (s *Store) readPayload(ctx context.Context, tx *sql.Tx, id string, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	fetch := func(offset, n int) ([]byte, error) {
		var part []byte
		if err := tx.QueryRowContext(ctx, selectSessionChunkSQL, offset+1, n, id).Scan(&part); err != nil {
			return nil, err
		}
		return part, nil
	}

	var buf bytes.Buffer
	buf.Grow(size)
	if _, err := io.Copy(&buf, newBlobReader(fetch, size, s.chunkSize)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) nowMillis() int64 {
	return storage.ToMillis(s.clock())
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
