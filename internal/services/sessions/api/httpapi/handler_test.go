package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage/sqlite"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, cfg Config) (http.Handler, *storagetest.Clock) {
	t.Helper()
	clock := storagetest.NewClock(storagetest.Epoch)
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"), sqlite.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	cfg.Clock = clock.Now
	return NewHandler(store, cfg), clock
}

func do(t *testing.T, h http.Handler, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestInsertGetDelete(t *testing.T) {
	h, _ := newTestHandler(t, Config{})
	payload := storagetest.Payload(25000)

	rec := do(t, h, http.MethodPost, "/sessions/abc", payload, http.Header{HeaderPrincipal: {"alice"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/sessions/abc", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "alice", rec.Header().Get(HeaderPrincipal))
	assert.Equal(t, storagetest.Epoch.Format(http.TimeFormat), rec.Header().Get("Last-Modified"))
	assert.Equal(t, "2026-10-18T09:00:00.000Z", rec.Header().Get(HeaderLastModified))

	rec = do(t, h, http.MethodDelete, "/sessions/abc", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/sessions/abc", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorResponse](t, rec).Code)
}

func TestCreateGeneratesID(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	rec := do(t, h, http.MethodPost, "/sessions", []byte("state"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["id"]
	require.Len(t, id, 36)
	assert.Equal(t, "/sessions/"+id, rec.Header().Get("Location"))

	rec = do(t, h, http.MethodGet, "/sessions/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "state", rec.Body.String())
}

func TestDuplicateInsertConflicts(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sessions/dup", []byte("a"), nil).Code)
	rec := do(t, h, http.MethodPost, "/sessions/dup", []byte("b"), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_EXISTS", decode[errorResponse](t, rec).Code)
}

func TestUpdateAndUpsert(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	rec := do(t, h, http.MethodPut, "/sessions/missing", []byte("x"), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/sessions/missing", nil, nil).Code)

	rec = do(t, h, http.MethodPut, "/sessions/missing?upsert=true", []byte("y"), http.Header{HeaderPrincipal: {"bob"}})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/sessions/missing", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "y", rec.Body.String())
	assert.Equal(t, "bob", rec.Header().Get(HeaderPrincipal))
}

func TestListAndExpire(t *testing.T) {
	h, clock := newTestHandler(t, Config{})

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sessions/old", nil, nil).Code)
	clock.Advance(2 * time.Minute)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sessions/new", nil, nil).Code)

	rec := do(t, h, http.MethodGet, "/sessions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"old", "new"}, decode[map[string][]string](t, rec)["ids"])

	rec = do(t, h, http.MethodPost, "/sessions/expire?max_inactive=1m", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decode[map[string]int64](t, rec)["deleted"])

	before := clock.Now().Format(time.RFC3339)
	rec = do(t, h, http.MethodPost, "/sessions/expire?before="+before, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[map[string]int64](t, rec)["deleted"])
}

func TestExpireValidatesQuery(t *testing.T) {
	h, _ := newTestHandler(t, Config{})
	for _, target := range []string{
		"/sessions/expire",
		"/sessions/expire?before=yesterday",
		"/sessions/expire?max_inactive=-1m",
		"/sessions/expire?max_inactive=1m&before=2026-01-01T00:00:00Z",
	} {
		rec := do(t, h, http.MethodPost, target, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "INVALID_ARGUMENT", decode[errorResponse](t, rec).Code, target)
	}
}

func TestRejectsOversizedPayload(t *testing.T) {
	h, _ := newTestHandler(t, Config{MaxPayloadBytes: 16})

	rec := do(t, h, http.MethodPost, "/sessions/big", bytes.Repeat([]byte("x"), 17), nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decode[errorResponse](t, rec).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/sessions/big", nil, nil).Code)
}

func TestRejectsOversizedID(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	rec := do(t, h, http.MethodPost, "/sessions/"+strings.Repeat("x", 257), []byte("x"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SESSION_INVALID_ID", decode[errorResponse](t, rec).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	h, _ := newTestHandler(t, Config{Metrics: metrics})

	rec := do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}
