// Package httpapi exposes a session store over HTTP for hosts that keep
// session state out of process.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	apperrors "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/errors"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/logging"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
)

const (
	// HeaderPrincipal carries the principal attached to a session.
	HeaderPrincipal = "X-Session-Principal"
	// HeaderLastModified carries the last write time with millisecond precision.
	HeaderLastModified = "X-Session-Last-Modified"

	// DefaultMaxPayloadBytes bounds request bodies when Config leaves it unset.
	DefaultMaxPayloadBytes = 16 << 20
)

// Config tunes the handler.
type Config struct {
	MaxPayloadBytes int64
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
	Clock   func() time.Time
}

type server struct {
	store      storage.SessionStore
	maxPayload int64
	logger     *slog.Logger
	clock      func() time.Time
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHandler builds the session routes around store.
func NewHandler(store storage.SessionStore, cfg Config) http.Handler {
	s := &server{
		store:      store,
		maxPayload: cfg.MaxPayloadBytes,
		logger:     logging.OrNop(cfg.Logger),
		clock:      cfg.Clock,
	}
	if s.maxPayload <= 0 {
		s.maxPayload = DefaultMaxPayloadBytes
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)
		r.Post("/expire", s.expireSessions)
		r.Post("/{id}", s.insertSession)
		r.Put("/{id}", s.updateSession)
		r.Get("/{id}", s.getSession)
		r.Delete("/{id}", s.deleteSession)
	})
	return r
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	if err := s.store.InsertSession(r.Context(), id, r.Header.Get(HeaderPrincipal), payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *server) insertSession(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.InsertSession(r.Context(), id, r.Header.Get(HeaderPrincipal), payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *server) updateSession(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	principal := r.Header.Get(HeaderPrincipal)

	var err error
	if r.URL.Query().Get("upsert") == "true" {
		err = s.store.PutSession(r.Context(), id, principal, payload)
	} else {
		err = s.store.UpdateSession(r.Context(), id, principal, payload)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok, err := s.store.GetSessionRecord(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, storage.ErrNotFound)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Last-Modified", record.LastModified.UTC().Format(http.TimeFormat))
	header.Set(HeaderLastModified, record.LastModified.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	if record.Principal != "" {
		header.Set(HeaderPrincipal, record.Principal)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(record.Payload)
}

func (s *server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListSessionIDs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ids": ids})
}

func (s *server) expireSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	before, maxInactive := query.Get("before"), query.Get("max_inactive")

	var cutoff time.Time
	switch {
	case before != "" && maxInactive != "":
		s.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "use either before or max_inactive"))
		return
	case before != "":
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "parse before", err))
			return
		}
		cutoff = parsed
	case maxInactive != "":
		d, err := time.ParseDuration(maxInactive)
		if err != nil || d < 0 {
			s.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "max_inactive must be a non-negative duration"))
			return
		}
		cutoff = s.clock().Add(-d)
	default:
		s.writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "before or max_inactive is required"))
		return
	}

	deleted, err := s.store.DeleteExpiredSessions(r.Context(), cutoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, apperrors.New(apperrors.CodePayloadTooLarge, "session payload too large"))
			return nil, false
		}
		s.writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "read request body", err))
		return nil, false
	}
	return payload, true
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "session request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	message := err.Error()
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) && status >= http.StatusInternalServerError {
		message = domainErr.Message
	}
	writeJSON(w, status, errorResponse{Code: string(apperrors.CodeOf(err)), Message: message})
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(started)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
