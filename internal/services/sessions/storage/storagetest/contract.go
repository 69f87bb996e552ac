package storagetest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pnewnam/Mongo-Tomcat-Sessions/internal/services/sessions/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Factory opens a fresh, initialized store whose write timestamps come from clock.
type Factory func(t *testing.T, clock func() time.Time) storage.SessionStore

// Epoch is the starting time of every suite clock.
var Epoch = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// Payload returns n deterministic bytes that differ at every chunk offset.
func Payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i*31 + i/251 + 7) % 256)
	}
	return data
}

// Run exercises the full SessionStore contract against stores built by open.
func Run(t *testing.T, open Factory) {
	t.Helper()

	newStore := func(t *testing.T) (storage.SessionStore, *Clock) {
		t.Helper()
		clock := NewClock(Epoch)
		store := open(t, clock.Now)
		require.NotNil(t, store)
		return store, clock
	}

	t.Run("RoundTripPayloadSizes", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()

		for _, size := range []int{0, 1, 9999, 10000, 10001, 20000, 20001, 250000} {
			id := fmt.Sprintf("size-%d", size)
			want := Payload(size)
			require.NoError(t, store.InsertSession(ctx, id, "alice", want))

			got, ok, err := store.GetSession(ctx, id)
			require.NoError(t, err)
			require.True(t, ok, "session %s should exist", id)
			require.Len(t, got, size)
			assert.Equal(t, want, got, "payload of %d bytes must round-trip", size)
		}
	})

	t.Run("EmptyPayloadIsPresent", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.InsertSession(ctx, "empty", "", nil))
		got, ok, err := store.GetSession(ctx, "empty")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("GetSessionRecordCarriesMetadata", func(t *testing.T) {
		store, clock := newStore(t)
		ctx := context.Background()

		writtenAt := clock.Advance(1500 * time.Microsecond)
		require.NoError(t, store.InsertSession(ctx, "meta", "bob", []byte("state")))
		require.NoError(t, store.InsertSession(ctx, "anon", "", []byte("state")))

		record, ok, err := store.GetSessionRecord(ctx, "meta")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "meta", record.ID)
		assert.Equal(t, "bob", record.Principal)
		assert.Equal(t, []byte("state"), record.Payload)
		assert.True(t, record.LastModified.Equal(writtenAt.Truncate(time.Millisecond)),
			"last modified %v, want %v", record.LastModified, writtenAt)

		anon, ok, err := store.GetSessionRecord(ctx, "anon")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Empty(t, anon.Principal)
	})

	t.Run("InsertDuplicateKeepsOriginal", func(t *testing.T) {
		store, clock := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.InsertSession(ctx, "dup", "alice", []byte("original")))
		clock.Advance(time.Minute)

		err := store.InsertSession(ctx, "dup", "mallory", []byte("replacement"))
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		record, ok, err := store.GetSessionRecord(ctx, "dup")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("original"), record.Payload)
		assert.Equal(t, "alice", record.Principal)
		assert.True(t, record.LastModified.Equal(Epoch))
	})

	t.Run("UpdateMissingIsNoop", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.UpdateSession(ctx, "ghost", "alice", []byte("data")))

		_, ok, err := store.GetSession(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, ok, "update must not create a session")

		ids, err := store.ListSessionIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("UpdateReplacesEverything", func(t *testing.T) {
		store, clock := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.InsertSession(ctx, "upd", "alice", []byte("v1")))
		updatedAt := clock.Advance(time.Minute)
		require.NoError(t, store.UpdateSession(ctx, "upd", "", Payload(12345)))

		record, ok, err := store.GetSessionRecord(ctx, "upd")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Payload(12345), record.Payload)
		assert.Empty(t, record.Principal, "update replaces the principal too")
		assert.True(t, record.LastModified.Equal(updatedAt))
	})

	t.Run("LastModifiedNeverMovesBackwards", func(t *testing.T) {
		store, clock := newStore(t)
		ctx := context.Background()

		insertedAt := clock.Advance(time.Hour)
		require.NoError(t, store.InsertSession(ctx, "mono", "", []byte("v1")))
		clock.Set(Epoch)
		require.NoError(t, store.UpdateSession(ctx, "mono", "", []byte("v2")))
		require.NoError(t, store.PutSession(ctx, "mono", "", []byte("v3")))

		record, ok, err := store.GetSessionRecord(ctx, "mono")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v3"), record.Payload)
		assert.True(t, record.LastModified.Equal(insertedAt),
			"last modified %v moved back from %v", record.LastModified, insertedAt)
	})

	t.Run("PutInsertsThenReplaces", func(t *testing.T) {
		store, clock := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.PutSession(ctx, "put", "alice", []byte("first")))
		replacedAt := clock.Advance(time.Second)
		require.NoError(t, store.PutSession(ctx, "put", "bob", []byte("second")))

		record, ok, err := store.GetSessionRecord(ctx, "put")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("second"), record.Payload)
		assert.Equal(t, "bob", record.Principal)
		assert.True(t, record.LastModified.Equal(replacedAt))

		ids, err := store.ListSessionIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"put"}, ids)
	})

	t.Run("GetAbsent", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()

		got, ok, err := store.GetSession(ctx, "never")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)

		require.NoError(t, store.InsertSession(ctx, "gone", "", []byte("x")))
		require.NoError(t, store.DeleteSession(ctx, "gone"))

		got, ok, err = store.GetSession(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)

		_, ok, err = store.GetSessionRecord(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DeleteMissingIsNotAnError", func(t *testing.T) {
		store, _ := newStore(t)
		require.NoError(t, store.DeleteSession(context.Background(), "missing"))
	})

	t.Run("DeleteExpiredIsInclusive", func(t *testing.T) {
		store, clock := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.InsertSession(ctx, "old", "", []byte("o")))
		cutoff := clock.Advance(10 * time.Minute)
		require.NoError(t, store.InsertSession(ctx, "edge", "", []byte("e")))
		clock.Advance(time.Millisecond)
		require.NoError(t, store.InsertSession(ctx, "fresh", "", []byte("f")))

		deleted, err := store.DeleteExpiredSessions(ctx, Epoch.Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, deleted)

		deleted, err = store.DeleteExpiredSessions(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		ids, err := store.ListSessionIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"fresh"}, ids)

		fresh, ok, err := store.GetSession(ctx, "fresh")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("f"), fresh)
	})

	t.Run("ListActiveIDs", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()

		ids, err := store.ListSessionIDs(ctx)
		require.NoError(t, err)
		assert.NotNil(t, ids)
		assert.Empty(t, ids)

		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, store.InsertSession(ctx, id, "", []byte(id)))
		}
		require.NoError(t, store.DeleteSession(ctx, "b"))

		ids, err = store.ListSessionIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "c"}, ids)
	})

	t.Run("ConcurrentDistinctInserts", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()
		const writers = 24

		var g errgroup.Group
		for i := 0; i < writers; i++ {
			g.Go(func() error {
				return store.InsertSession(ctx, fmt.Sprintf("c-%02d", i), "", Payload(10000+i))
			})
		}
		require.NoError(t, g.Wait())

		for i := 0; i < writers; i++ {
			got, ok, err := store.GetSession(ctx, fmt.Sprintf("c-%02d", i))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, Payload(10000+i), got)
		}
		ids, err := store.ListSessionIDs(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, writers)
	})

	t.Run("ConcurrentDuplicateInsertDoesNotCorrupt", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()
		original := Payload(30000)
		require.NoError(t, store.InsertSession(ctx, "shared", "owner", original))

		const writers = 12
		errs := make([]error, writers)
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			g.Go(func() error {
				errs[i] = store.InsertSession(ctx, "shared", "intruder", []byte(strings.Repeat("x", i+1)))
				return nil
			})
		}
		require.NoError(t, g.Wait())
		for i, err := range errs {
			assert.ErrorIs(t, err, storage.ErrAlreadyExists, "writer %d", i)
		}

		record, ok, err := store.GetSessionRecord(ctx, "shared")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, original, record.Payload)
		assert.Equal(t, "owner", record.Principal)
	})

	t.Run("InitIsIdempotent", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.InsertSession(ctx, "kept", "", []byte("k")))
		require.NoError(t, store.Init(ctx))
		require.NoError(t, store.Init(ctx))

		got, ok, err := store.GetSession(ctx, "kept")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("k"), got)
	})

	t.Run("RejectsInvalidIDs", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()
		tooLong := strings.Repeat("x", storage.MaxIDLength+1)

		assert.ErrorIs(t, store.InsertSession(ctx, "", "", nil), storage.ErrInvalidID)
		assert.ErrorIs(t, store.UpdateSession(ctx, tooLong, "", nil), storage.ErrInvalidID)
		assert.ErrorIs(t, store.PutSession(ctx, tooLong, "", nil), storage.ErrInvalidID)
		_, _, err := store.GetSession(ctx, "")
		assert.ErrorIs(t, err, storage.ErrInvalidID)
		assert.ErrorIs(t, store.DeleteSession(ctx, ""), storage.ErrInvalidID)

		require.NoError(t, store.InsertSession(ctx, strings.Repeat("y", storage.MaxIDLength), "", []byte("max")))
	})

	t.Run("CanceledContextFails", func(t *testing.T) {
		store, _ := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.Error(t, store.InsertSession(ctx, "canceled", "", []byte("x")))
		_, ok, err := store.GetSession(ctx, "canceled")
		assert.Error(t, err)
		assert.False(t, ok)
	})
}
