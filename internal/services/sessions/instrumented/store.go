package instrumented

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/errors"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/instrumented"

const (
	outcomeOK     = "ok"
	outcomeAbsent = "absent"
)

// Store records metrics and spans around every call to the wrapped store.
type Store struct {
	next    storage.SessionStore
	metrics *Metrics
	tracer  trace.Tracer
}

var _ storage.SessionStore = (*Store)(nil)

// New wraps next. A nil tracer uses the global provider.
func New(next storage.SessionStore, metrics *Metrics, tracer trace.Tracer) *Store {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Store{next: next, metrics: metrics, tracer: tracer}
}

func (s *Store) Init(ctx context.Context) error {
	ctx, finish := s.track(ctx, "init", "")
	err := s.next.Init(ctx)
	finish(err, outcomeOK)
	return err
}

func (s *Store) InsertSession(ctx context.Context, id, principal string, payload []byte) error {
	ctx, finish := s.track(ctx, "insert", id)
	err := s.next.InsertSession(ctx, id, principal, payload)
	s.observePayload(err, "write", payload)
	finish(err, outcomeOK)
	return err
}

func (s *Store) UpdateSession(ctx context.Context, id, principal string, payload []byte) error {
	ctx, finish := s.track(ctx, "update", id)
	err := s.next.UpdateSession(ctx, id, principal, payload)
	s.observePayload(err, "write", payload)
	finish(err, outcomeOK)
	return err
}

func (s *Store) PutSession(ctx context.Context, id, principal string, payload []byte) error {
	ctx, finish := s.track(ctx, "put", id)
	err := s.next.PutSession(ctx, id, principal, payload)
	s.observePayload(err, "write", payload)
	finish(err, outcomeOK)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) ([]byte, bool, error) {
	ctx, finish := s.track(ctx, "get", id)
	payload, ok, err := s.next.GetSession(ctx, id)
	finish(err, s.readOutcome(ok, err, payload))
	return payload, ok, err
}

func (s *Store) GetSessionRecord(ctx context.Context, id string) (storage.SessionRecord, bool, error) {
	ctx, finish := s.track(ctx, "get_record", id)
	record, ok, err := s.next.GetSessionRecord(ctx, id)
	finish(err, s.readOutcome(ok, err, record.Payload))
	return record, ok, err
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	ctx, finish := s.track(ctx, "delete", id)
	err := s.next.DeleteSession(ctx, id)
	finish(err, outcomeOK)
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, finish := s.track(ctx, "delete_expired", "")
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("session.cutoff", cutoff.UTC().Format(time.RFC3339Nano)))
	deleted, err := s.next.DeleteExpiredSessions(ctx, cutoff)
	if err == nil {
		s.metrics.swept.Add(float64(deleted))
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("session.deleted", deleted))
	}
	finish(err, outcomeOK)
	return deleted, err
}

func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	ctx, finish := s.track(ctx, "list", "")
	ids, err := s.next.ListSessionIDs(ctx)
	finish(err, outcomeOK)
	return ids, err
}

func (s *Store) Close() error {
	return s.next.Close()
}

// track opens a span and returns the callback that closes it and records the outcome.
func (s *Store) track(ctx context.Context, operation, id string) (context.Context, func(error, string)) {
	var attrs []attribute.KeyValue
	if id != "" {
		attrs = append(attrs, attribute.String("session.id", id))
	}
	ctx, span := s.tracer.Start(ctx, "sessions.store."+operation, trace.WithAttributes(attrs...))
	started := time.Now()

	return ctx, func(err error, outcome string) {
		s.metrics.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
		if err != nil {
			outcome = strings.ToLower(string(apperrors.CodeOf(err)))
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("session.outcome", outcome))
		s.metrics.operations.WithLabelValues(operation, outcome).Inc()
		span.End()
	}
}

func (s *Store) readOutcome(ok bool, err error, payload []byte) string {
	if err != nil || !ok {
		return outcomeAbsent
	}
	s.metrics.payload.WithLabelValues("read").Observe(float64(len(payload)))
	return outcomeOK
}

func (s *Store) observePayload(err error, direction string, payload []byte) {
	if err == nil {
		s.metrics.payload.WithLabelValues(direction).Observe(float64(len(payload)))
	}
}
