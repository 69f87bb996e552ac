package instrumented

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newInstrumented(t *testing.T) (*Store, *Metrics, *tracetest.SpanRecorder) {
	t.Helper()
	backing, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backing.Close() })

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return New(backing, metrics, provider.Tracer("test")), metrics, recorder
}

func TestCountsOutcomes(t *testing.T) {
	store, metrics, _ := newInstrumented(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSession(ctx, "a", "", []byte("hello")))
	require.Error(t, store.InsertSession(ctx, "a", "", []byte("again")))
	_, ok, err := store.GetSession(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = store.GetSession(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("insert", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("insert", "session_exists")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("get", "absent")))
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.payload))
}

func TestCountsSweptSessions(t *testing.T) {
	store, metrics, _ := newInstrumented(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.PutSession(ctx, id, "", []byte(id)))
	}
	deleted, err := store.DeleteExpiredSessions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.swept))
}

func TestRecordsSpans(t *testing.T) {
	store, _, recorder := newInstrumented(t)
	ctx := context.Background()

	require.NoError(t, store.InsertSession(ctx, "a", "", []byte("x")))
	require.Error(t, store.InsertSession(ctx, "", "", nil))
	_, err := store.ListSessionIDs(ctx)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "sessions.store.insert", spans[0].Name())
	assert.Equal(t, otelcodes.Unset, spans[0].Status().Code)
	assert.Equal(t, otelcodes.Error, spans[1].Status().Code)
	assert.Equal(t, "sessions.store.list", spans[2].Name())
}

func TestPassesThroughContract(t *testing.T) {
	store, _, _ := newInstrumented(t)
	var _ storage.SessionStore = store
	ctx := context.Background()

	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.PutSession(ctx, "a", "alice", []byte("v")))
	record, ok, err := store.GetSessionRecord(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", record.Principal)
	require.NoError(t, store.DeleteSession(ctx, "a"))
	ids, err := store.ListSessionIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
