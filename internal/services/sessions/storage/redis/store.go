// Package redis implements the session store over Redis hashes.
//
// Each session lives in a hash at <prefix>session:<id> holding its payload,
// principal and last write time. A sorted set at <prefix>index scores every
// id by last write time in milliseconds so expiry sweeps are range deletes.
package redis

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	apperrors "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/errors"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/timeouts"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "tomcat:"

const (
	fieldLastModified = "last_modified"
	fieldPrincipal    = "principal"
	fieldData         = "data"
)

// writeScript applies insert, update and put atomically. Returns 0 when the
// mode's precondition fails.
var writeScript = backend.NewScript(`
local exists = redis.call('EXISTS', KEYS[1]) == 1
local mode = ARGV[5]
if mode == 'insert' and exists then return 0 end
if mode == 'update' and not exists then return 0 end
local ts = ARGV[1]
if exists then
  local prev = redis.call('HGET', KEYS[1], 'last_modified')
  if prev and tonumber(prev) > tonumber(ts) then ts = prev end
end
redis.call('HSET', KEYS[1], 'last_modified', ts, 'data', ARGV[2], 'principal', ARGV[3])
redis.call('ZADD', KEYS[2], ts, ARGV[4])
return 1
`)

// sweepScript deletes every session scored at or below the cutoff.
var sweepScript = backend.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[2] .. id)
end
if #ids > 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
return #ids
`)

// Store implements storage.SessionStore using Redis.
type Store struct {
	client      *backend.Client
	owned       bool
	prefix      string
	clock       func() time.Time
	poolSize    int
	poolTimeout time.Duration
}

var _ storage.SessionStore = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock overrides the time source used to stamp writes.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPool sizes the client pool created by New and caps how long a command
// waits for a free connection. NewFromClient ignores it.
func WithPool(size int, timeout time.Duration) Option {
	return func(s *Store) {
		s.poolSize = size
		s.poolTimeout = timeout
	}
}

// New creates a Redis store that owns its client.
func New(address, password string, db int, opts ...Option) *Store {
	store := newStore(opts)
	store.client = backend.NewClient(&backend.Options{
		Addr:        address,
		Password:    password,
		DB:          db,
		DialTimeout: timeouts.RedisDial,
		PoolSize:    store.poolSize,
		PoolTimeout: store.poolTimeout,
	})
	store.owned = true
	return store
}

// NewFromClient creates a Redis store from an existing client. Close leaves
// the client open.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := newStore(opts)
	store.client = client
	return store
}

func newStore(opts []Option) *Store {
	store := &Store{
		prefix:      DefaultPrefix,
		clock:       time.Now,
		poolTimeout: timeouts.PoolWait,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(id string) string {
	return s.prefix + "session:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Close closes the client when the store created it.
func (s *Store) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

// Init verifies the server is reachable. Redis needs no schema.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.client == nil {
		return apperrors.New(apperrors.CodeStorageUnavailable, "storage is not configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "ping redis", err)
	}
	return nil
}

// InsertSession creates a session; an existing id yields storage.ErrAlreadyExists.
func (s *Store) InsertSession(ctx context.Context, id, principal string, payload []byte) error {
	written, err := s.write(ctx, "insert", id, principal, payload)
	if err != nil {
		return err
	}
	if !written {
		return apperrors.WithMetadata(apperrors.CodeSessionExists, "session already exists",
			map[string]string{"session_id": id})
	}
	return nil
}

// UpdateSession rewrites an existing session. Missing ids are left alone.
func (s *Store) UpdateSession(ctx context.Context, id, principal string, payload []byte) error {
	_, err := s.write(ctx, "update", id, principal, payload)
	return err
}

// PutSession inserts or replaces a session.
func (s *Store) PutSession(ctx context.Context, id, principal string, payload []byte) error {
	_, err := s.write(ctx, "put", id, principal, payload)
	return err
}

func (s *Store) write(ctx context.Context, mode, id, principal string, payload []byte) (bool, error) {
	if err := storage.ValidateID(id); err != nil {
		return false, err
	}
	if s == nil || s.client == nil {
		return false, apperrors.New(apperrors.CodeStorageUnavailable, "storage is not configured")
	}
	if payload == nil {
		payload = []byte{}
	}
	written, err := writeScript.Run(ctx, s.client,
		[]string{s.key(id), s.indexKey()},
		strconv.FormatInt(storage.ToMillis(s.clock()), 10), payload, principal, id, mode,
	).Int64()
	if err != nil {
		return false, wrap(mode+" session", err)
	}
	return written == 1, nil
}

// GetSession returns the stored payload.
func (s *Store) GetSession(ctx context.Context, id string) ([]byte, bool, error) {
	record, ok, err := s.GetSessionRecord(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return record.Payload, true, nil
}

// GetSessionRecord loads a session hash.
func (s *Store) GetSessionRecord(ctx context.Context, id string) (storage.SessionRecord, bool, error) {
	if err := storage.ValidateID(id); err != nil {
		return storage.SessionRecord{}, false, err
	}
	if s == nil || s.client == nil {
		return storage.SessionRecord{}, false, apperrors.New(apperrors.CodeStorageUnavailable, "storage is not configured")
	}

	values, err := s.client.HMGet(ctx, s.key(id), fieldLastModified, fieldPrincipal, fieldData).Result()
	if err != nil {
		return storage.SessionRecord{}, false, wrap("get session", err)
	}
	if len(values) != 3 || values[2] == nil {
		return storage.SessionRecord{}, false, nil
	}

	data, _ := values[2].(string)
	payload := make([]byte, len(data))
	copy(payload, data)

	rawModified, _ := values[0].(string)
	lastModified, err := strconv.ParseInt(rawModified, 10, 64)
	if err != nil {
		return storage.SessionRecord{}, false, apperrors.WrapWithMetadata(apperrors.CodeStorageFailure,
			"parse last modified", map[string]string{"session_id": id}, err)
	}
	principal, _ := values[1].(string)

	return storage.SessionRecord{
		ID:           id,
		LastModified: storage.FromMillis(lastModified),
		Payload:      payload,
		Principal:    principal,
	}, true, nil
}

// DeleteSession removes a session and its index entry.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	if s == nil || s.client == nil {
		return apperrors.New(apperrors.CodeStorageUnavailable, "storage is not configured")
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("delete session", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session last written at or before cutoff.
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.client == nil {
		return 0, apperrors.New(apperrors.CodeStorageUnavailable, "storage is not configured")
	}
	deleted, err := sweepScript.Run(ctx, s.client,
		[]string{s.indexKey()},
		strconv.FormatInt(storage.ToMillis(cutoff), 10), s.prefix+"session:",
	).Int64()
	if err != nil {
		return 0, wrap("delete expired sessions", err)
	}
	return deleted, nil
}

// ListSessionIDs returns every indexed session id.
func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, apperrors.New(apperrors.CodeStorageUnavailable, "storage is not configured")
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, wrap("list sessions", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// wrap classifies connection faults as unavailable and everything else as
// statement failures.
func wrap(action string, err error) error {
	if isUnavailable(err) {
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, action, err)
	}
	return apperrors.Wrap(apperrors.CodeStorageFailure, action, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, backend.ErrPoolTimeout) || errors.Is(err, backend.ErrClosed) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
