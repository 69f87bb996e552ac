// Package tolerant exposes a session store with the log-and-continue contract
// of servlet-container session managers: writes never report failure, reads
// degrade to "no session".
package tolerant

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/errors"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/logging"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
)

// Store swallows and logs every error from the wrapped store.
type Store struct {
	next   storage.SessionStore
	logger *slog.Logger
}

// New wraps next. A nil logger discards the swallowed errors.
func New(next storage.SessionStore, logger *slog.Logger) *Store {
	return &Store{next: next, logger: logging.OrNop(logger)}
}

// Init ensures the schema exists.
func (s *Store) Init(ctx context.Context) {
	s.log(ctx, "init", "", s.next.Init(ctx))
}

// InsertSession creates a session. Duplicates are logged and dropped.
func (s *Store) InsertSession(ctx context.Context, id, principal string, payload []byte) {
	s.log(ctx, "insert", id, s.next.InsertSession(ctx, id, principal, payload))
}

// UpdateSession rewrites a session if it exists.
func (s *Store) UpdateSession(ctx context.Context, id, principal string, payload []byte) {
	s.log(ctx, "update", id, s.next.UpdateSession(ctx, id, principal, payload))
}

// GetSession returns the payload, or nil when the session is absent or unreadable.
func (s *Store) GetSession(ctx context.Context, id string) []byte {
	payload, ok, err := s.next.GetSession(ctx, id)
	if err != nil {
		s.log(ctx, "get", id, err)
		return nil
	}
	if !ok {
		return nil
	}
	return payload
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) {
	s.log(ctx, "delete", id, s.next.DeleteSession(ctx, id))
}

// DeleteExpiredSessions removes sessions last modified at or before cutoff.
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) {
	_, err := s.next.DeleteExpiredSessions(ctx, cutoff)
	s.log(ctx, "delete_expired", "", err)
}

// ListActiveIDs returns stored ids, or an empty slice on failure.
func (s *Store) ListActiveIDs(ctx context.Context) []string {
	ids, err := s.next.ListSessionIDs(ctx)
	if err != nil {
		s.log(ctx, "list", "", err)
		return []string{}
	}
	return ids
}

func (s *Store) log(ctx context.Context, operation, id string, err error) {
	if err == nil {
		return
	}
	attrs := []any{
		slog.String("operation", operation),
		slog.String("kind", string(apperrors.CodeOf(err))),
		slog.Any("error", err),
	}
	if id != "" {
		attrs = append(attrs, slog.String("session_id", id))
	}
	s.logger.ErrorContext(ctx, "session store error ignored", attrs...)
}
