package docstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada-sync/internal/docstore"
)

func openStore(t *testing.T, path string, opts ...docstore.Option) *docstore.SQLiteStore {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "docs.db")
	}
	s, err := docstore.OpenSQLite(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func next(t *testing.T, sub *docstore.Subscription) docstore.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return docstore.Snapshot{}
	}
}

func texts(docs []docstore.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.String("text"))
	}
	return out
}

func TestSQLite_AddGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "")

	id, err := s.Add(ctx, "todos", docstore.Fields{"text": "Buy milk", "userId": "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := s.Get(ctx, "todos", id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, "Buy milk", doc.String("text"))
	assert.Equal(t, "u1", doc.String("userId"))
	assert.False(t, doc.CreatedAt.IsZero())

	require.NoError(t, s.Update(ctx, "todos", id, docstore.Fields{"text": "Buy oat milk"}))
	doc, err = s.Get(ctx, "todos", id)
	require.NoError(t, err)
	assert.Equal(t, "Buy oat milk", doc.String("text"))
	assert.Equal(t, "u1", doc.String("userId"), "update must merge, not replace")

	require.NoError(t, s.Delete(ctx, "todos", id))
	_, err = s.Get(ctx, "todos", id)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestSQLite_MissingDocuments(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "")

	_, err := s.Get(ctx, "users", "nobody")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, "todos", "nope", docstore.Fields{"text": "x"}), docstore.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "todos", "nope"), docstore.ErrNotFound)
}

func TestSQLite_SetReplaces(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "")

	require.NoError(t, s.Set(ctx, "users", "u1", docstore.Fields{"name": "Mary", "extra": true}))
	require.NoError(t, s.Set(ctx, "users", "u1", docstore.Fields{"name": "Mary Chris"}))

	doc, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Mary Chris", doc.String("name"))
	assert.NotContains(t, doc.Fields, "extra")
}

func TestSQLite_QueryFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	s := openStore(t, "", docstore.WithClock(clock))

	for _, f := range []docstore.Fields{
		{"text": "first", "userId": "u1"},
		{"text": "other", "userId": "u2"},
		{"text": "second", "userId": "u1"},
		{"text": "third", "userId": "u1"},
	} {
		_, err := s.Add(ctx, "todos", f)
		require.NoError(t, err)
	}

	docs, err := s.Query(ctx, docstore.Where("todos", "userId", "u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, texts(docs))

	all, err := s.Query(ctx, docstore.Query{Collection: "todos"})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.Query(ctx, docstore.Where("todos", "userId", "u3"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_QueryRejectsBadNames(t *testing.T) {
	s := openStore(t, "")
	_, err := s.Query(context.Background(), docstore.Where("todos", "user'Id", "x"))
	assert.Error(t, err)
	_, err = s.Add(context.Background(), "../todos", docstore.Fields{})
	assert.Error(t, err)
}

func TestSQLite_SubscribeDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "")

	sub, err := s.Subscribe(ctx, docstore.Where("todos", "userId", "u1"))
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	require.NoError(t, snap.Err)
	assert.Empty(t, snap.Documents)

	id, err := s.Add(ctx, "todos", docstore.Fields{"text": "Buy milk", "userId": "u1"})
	require.NoError(t, err)
	snap = next(t, sub)
	assert.Equal(t, []string{"Buy milk"}, texts(snap.Documents))

	require.NoError(t, s.Update(ctx, "todos", id, docstore.Fields{"text": "Buy bread"}))
	snap = next(t, sub)
	assert.Equal(t, []string{"Buy bread"}, texts(snap.Documents))

	require.NoError(t, s.Delete(ctx, "todos", id))
	snap = next(t, sub)
	assert.Empty(t, snap.Documents)
}

func TestSQLite_SubscribeSkipsStaleSnapshots(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "")

	sub, err := s.Subscribe(ctx, docstore.Where("todos", "userId", "u1"))
	require.NoError(t, err)
	defer sub.Close()
	_ = next(t, sub)

	for _, text := range []string{"a", "b", "c"} {
		_, err := s.Add(ctx, "todos", docstore.Fields{"text": text, "userId": "u1"})
		require.NoError(t, err)
	}

	// Intermediate snapshots may be skipped, but the latest must arrive.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-sub.C():
			if len(snap.Documents) == 3 {
				assert.Equal(t, []string{"a", "b", "c"}, texts(snap.Documents))
				return
			}
		case <-deadline:
			t.Fatal("never saw the latest snapshot")
		}
	}
}

func TestSQLite_SubscriptionCloseAndStoreClose(t *testing.T) {
	ctx := context.Background()
	s, err := docstore.OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, docstore.Where("todos", "userId", "u1"))
	require.NoError(t, err)
	_ = next(t, sub)
	sub.Close()
	_, ok := <-sub.C()
	assert.False(t, ok, "channel must be closed after Close")

	other, err := s.Subscribe(ctx, docstore.Where("todos", "userId", "u1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	for range other.C() {
	}

	_, err = s.Subscribe(ctx, docstore.Where("todos", "userId", "u1"))
	assert.ErrorIs(t, err, docstore.ErrClosed)
	_, err = s.Add(ctx, "todos", docstore.Fields{"text": "late"})
	assert.ErrorIs(t, err, docstore.ErrClosed)
}

func TestSQLite_CancelledContextEndsSubscription(t *testing.T) {
	s := openStore(t, "")
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.Subscribe(ctx, docstore.Where("todos", "userId", "u1"))
	require.NoError(t, err)
	_ = next(t, sub)
	cancel()
	for range sub.C() {
	}
}
