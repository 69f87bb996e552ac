package tolerant

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/pnewnam/Mongo-Tomcat-Sessions/internal/platform/errors"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage/sqlite"
)

type failingStore struct {
	err error
}

func (f failingStore) Init(context.Context) error { return f.err }
func (f failingStore) InsertSession(context.Context, string, string, []byte) error {
	return f.err
}
func (f failingStore) UpdateSession(context.Context, string, string, []byte) error {
	return f.err
}
func (f failingStore) PutSession(context.Context, string, string, []byte) error { return f.err }
func (f failingStore) GetSession(context.Context, string) ([]byte, bool, error) {
	return []byte("stale"), true, f.err
}
func (f failingStore) GetSessionRecord(context.Context, string) (storage.SessionRecord, bool, error) {
	return storage.SessionRecord{}, false, f.err
}
func (f failingStore) DeleteSession(context.Context, string) error { return f.err }
func (f failingStore) DeleteExpiredSessions(context.Context, time.Time) (int64, error) {
	return 0, f.err
}
func (f failingStore) ListSessionIDs(context.Context) ([]string, error) { return nil, f.err }
func (f failingStore) Close() error                                       { return nil }

func TestSwallowsAndLogsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cause := apperrors.Wrap(apperrors.CodeStorageUnavailable, "acquire connection", errors.New("pool exhausted"))
	store := New(failingStore{err: cause}, logger)
	ctx := context.Background()

	store.Init(ctx)
	store.InsertSession(ctx, "a", "", []byte("x"))
	store.UpdateSession(ctx, "a", "", []byte("x"))
	store.DeleteSession(ctx, "a")
	store.DeleteExpiredSessions(ctx, time.Now())

	if got := store.GetSession(ctx, "a"); got != nil {
		t.Fatalf("get on failure = %q, want nil", got)
	}
	ids := store.ListActiveIDs(ctx)
	if ids == nil || len(ids) != 0 {
		t.Fatalf("list on failure = %#v, want empty slice", ids)
	}

	out := buf.String()
	if n := strings.Count(out, "session store error ignored"); n != 7 {
		t.Fatalf("logged %d errors, want 7:\n%s", n, out)
	}
	for _, want := range []string{"level=ERROR", "kind=STORAGE_UNAVAILABLE", "operation=insert", "session_id=a"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestPassesThroughSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	backing, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = backing.Close() })
	store := New(backing, logger)
	ctx := context.Background()

	store.Init(ctx)
	store.InsertSession(ctx, "a", "alice", []byte("first"))
	store.InsertSession(ctx, "a", "alice", []byte("dropped"))
	store.UpdateSession(ctx, "missing", "", []byte("ignored"))

	if got := store.GetSession(ctx, "a"); string(got) != "first" {
		t.Fatalf("get = %q, want first", got)
	}
	if got := store.GetSession(ctx, "missing"); got != nil {
		t.Fatalf("get missing = %q, want nil", got)
	}
	if ids := store.ListActiveIDs(ctx); len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("ids = %v, want [a]", ids)
	}
	store.DeleteExpiredSessions(ctx, time.Now().Add(time.Hour))
	if ids := store.ListActiveIDs(ctx); len(ids) != 0 {
		t.Fatalf("ids after sweep = %v, want none", ids)
	}

	out := buf.String()
	if strings.Count(out, "session store error ignored") != 1 || !strings.Contains(out, "kind=SESSION_EXISTS") {
		t.Fatalf("expected only the duplicate insert to be logged:\n%s", out)
	}
}
