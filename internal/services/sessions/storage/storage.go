package storage

import (
	"context"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/errors"
)

// MaxIDLength bounds session ids to the width of the session_id column.
const MaxIDLength = 256

var (
	// ErrNotFound indicates a requested session is missing.
	ErrNotFound = errors.New(errors.CodeNotFound, "session not found")
	// ErrAlreadyExists indicates an insert collided with an existing session id.
	ErrAlreadyExists = errors.New(errors.CodeSessionExists, "session already exists")
	// ErrInvalidID indicates an empty or oversized session id.
	ErrInvalidID = errors.New(errors.CodeSessionInvalidID, "invalid session id")
)

// SessionRecord is the persisted id/timestamp/payload/principal tuple for one session.
type SessionRecord struct {
	ID           string
	LastModified time.Time
	Payload      []byte
	// Principal is empty when no authenticated user is attached.
	Principal string
}

// SessionStore persists opaque session payloads.
//
// Absence is reported through the boolean results, never as an error. Errors
// carry a platform error code describing the failure kind: connection
// acquisition (CodeStorageUnavailable), statement execution
// (CodeStorageFailure, CodeSessionExists, CodeSessionInvalidID) or blob
// streaming (CodeBlobRead).
type SessionStore interface {
	// Init ensures the backing schema exists. Calling it again is harmless.
	Init(ctx context.Context) error
	// InsertSession creates a session; an existing id yields ErrAlreadyExists.
	InsertSession(ctx context.Context, id, principal string, payload []byte) error
	// UpdateSession replaces payload and principal; a missing id is a no-op.
	UpdateSession(ctx context.Context, id, principal string, payload []byte) error
	// PutSession inserts or replaces a session atomically.
	PutSession(ctx context.Context, id, principal string, payload []byte) error
	// GetSession returns the payload and whether the session exists.
	GetSession(ctx context.Context, id string) ([]byte, bool, error)
	// GetSessionRecord returns the full record and whether the session exists.
	GetSessionRecord(ctx context.Context, id string) (SessionRecord, bool, error)
	// DeleteSession removes a session; a missing id is not an error.
	DeleteSession(ctx context.Context, id string) error
	// DeleteExpiredSessions removes sessions last modified at or before cutoff
	// and returns how many were removed.
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
	// ListSessionIDs returns every stored session id in no particular order.
	ListSessionIDs(ctx context.Context) ([]string, error)
	// Close releases resources owned by the store.
	Close() error
}

// ValidateID rejects ids the session table cannot hold.
func ValidateID(id string) error {
	if id == "" {
		return errors.WithMetadata(errors.CodeSessionInvalidID, "session id is required", nil)
	}
	if n := utf8.RuneCountInString(id); n > MaxIDLength {
		return errors.WithMetadata(errors.CodeSessionInvalidID, "session id is too long", map[string]string{
			"length": strconv.Itoa(n),
		})
	}
	return nil
}

// ToMillis normalizes timestamps into UTC millisecond precision for storage.
func ToMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// FromMillis restores millisecond precision and keeps UTC normalization.
func FromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
