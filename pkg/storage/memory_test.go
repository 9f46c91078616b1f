package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/types"
)

func newTestAdapter(t *testing.T) *MemoryAdapter {
	t.Helper()
	a := NewMemoryAdapter()
	require.NoError(t, a.Initialize(context.Background(), Config{}))
	t.Cleanup(func() { a.Close() })
	return a
}

func testStore(t *testing.T, a Adapter, name string) DocumentStore {
	t.Helper()
	s, err := a.Store(name)
	require.NoError(t, err)
	return s
}

func TestAdapterNotInitialized(t *testing.T) {
	a := NewMemoryAdapter()
	_, err := a.Store("users")
	assert.True(t, errdefs.IsNotInitialized(err))
	assert.False(t, a.IsAvailable())
}

func TestPutGetDeleteLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	stored, err := s.Put(ctx, types.Document{"_id": "u1", "name": "Alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Rev())
	assert.NotZero(t, stored.UpdatedAt())

	got, err := s.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got["name"])

	require.NoError(t, s.Delete(ctx, "u1"))

	got, err = s.Get("u1")
	require.NoError(t, err)
	assert.Nil(t, got, "soft-deleted documents read as missing")

	// Re-put over the tombstone revives the id.
	_, err = s.Put(ctx, types.Document{"_id": "u1", "name": "Alice II"})
	require.NoError(t, err)
	got, _ = s.Get("u1")
	assert.Equal(t, "Alice II", got["name"])
}

func TestPutGeneratesIDAndBumpsRev(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	stored, err := s.Put(ctx, types.Document{"name": "anon"})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID())

	again, err := s.Put(ctx, types.Document{"_id": stored.ID(), "name": "anon"})
	require.NoError(t, err)
	assert.NotEqual(t, stored.Rev(), again.Rev())
}

func TestPutFromSyncPreservesOriginState(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	sub := s.Changes().Subscribe()
	defer s.Changes().Unsubscribe(sub)

	synced := types.Document{
		"_id":        "u1",
		"_rev":       "origin-rev",
		"_updatedAt": int64(1234),
		"_vclock":    map[string]any{"peer-a": int64(7)},
		"name":       "Alice",
	}
	stored, err := s.(interface {
		PutFromSync(context.Context, types.Document) (types.Document, error)
	}).PutFromSync(ctx, synced)
	require.NoError(t, err)

	assert.Equal(t, "origin-rev", stored.Rev(), "origin revision preserved")
	assert.Equal(t, int64(1234), stored.UpdatedAt(), "origin timestamp preserved")

	ev := <-sub
	assert.True(t, ev.FromSync, "replicated writes are flagged on the stream")
	assert.Equal(t, types.OpInsert, ev.Operation)

	// A local write afterwards is not flagged and bumps the revision.
	_, err = s.Put(ctx, types.Document{"_id": "u1", "name": "Alice B."})
	require.NoError(t, err)
	ev = <-sub
	assert.False(t, ev.FromSync)
	assert.NotEqual(t, "origin-rev", ev.Document.Rev())
}

func TestPutFromSyncRequiresID(t *testing.T) {
	s := testStore(t, newTestAdapter(t), "users")
	_, err := s.(interface {
		PutFromSync(context.Context, types.Document) (types.Document, error)
	}).PutFromSync(context.Background(), types.Document{"name": "anon"})
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestPutFromSyncCarriesTombstones(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	_, err := s.(interface {
		PutFromSync(context.Context, types.Document) (types.Document, error)
	}).PutFromSync(ctx, types.Document{"_id": "u1", "_deleted": true, "_rev": "r9"})
	require.NoError(t, err)

	got, err := s.Get("u1")
	require.NoError(t, err)
	assert.Nil(t, got, "a replicated tombstone reads as deleted")
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	s := testStore(t, newTestAdapter(t), "users")
	err := s.Delete(context.Background(), "ghost")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestChangeEventSequencesAreContiguous(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	sub := s.Changes().Subscribe()
	defer s.Changes().Unsubscribe(sub)

	_, err := s.Put(ctx, types.Document{"_id": "a"})
	require.NoError(t, err)
	_, err = s.Put(ctx, types.Document{"_id": "a", "v": 2})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "a"))

	ops := []types.Operation{types.OpInsert, types.OpUpdate, types.OpDelete}
	for i, wantOp := range ops {
		ev := <-sub
		assert.Equal(t, wantOp, ev.Operation)
		assert.Equal(t, uint64(i+1), ev.Sequence, "sequences are gap-free from 1")
		assert.Equal(t, "a", ev.DocumentID)
	}
}

func TestChangeEventCarriesPrevious(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	sub := s.Changes().Subscribe()
	defer s.Changes().Unsubscribe(sub)

	_, _ = s.Put(ctx, types.Document{"_id": "a", "v": 1})
	_, _ = s.Put(ctx, types.Document{"_id": "a", "v": 2})

	insert := <-sub
	assert.Nil(t, insert.Previous)

	update := <-sub
	require.NotNil(t, update.Previous)
	assert.Equal(t, 1, update.Previous["v"])
	assert.Equal(t, 2, update.Document["v"])
}

func TestObserverMutationCannotReachStore(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	sub := s.Changes().Subscribe()
	defer s.Changes().Unsubscribe(sub)

	_, _ = s.Put(ctx, types.Document{"_id": "a", "name": "Alice"})
	ev := <-sub
	ev.Document["name"] = "mutated"

	got, _ := s.Get("a")
	assert.Equal(t, "Alice", got["name"])
}

func TestQueryMatchesReferenceSemantics(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	seed := []types.Document{
		{"_id": "1", "status": "active", "score": 95},
		{"_id": "2", "status": "inactive", "score": 75},
		{"_id": "3", "status": "active", "score": 88},
	}
	_, err := s.BulkPut(ctx, seed)
	require.NoError(t, err)

	out, err := s.Query(ctx, types.QuerySpec{
		Filter: map[string]any{"status": "active"},
		Sort:   []types.SortField{{Field: "score", Desc: true}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID())
	assert.Equal(t, "3", out[1].ID())

	n, err := s.Count(types.QuerySpec{Filter: map[string]any{"status": "active"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(types.QuerySpec{})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "empty filter matches every live document")
}

func TestQueryNeverReturnsDeleted(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	_, _ = s.Put(ctx, types.Document{"_id": "1", "status": "active"})
	_, _ = s.Put(ctx, types.Document{"_id": "2", "status": "active"})
	require.NoError(t, s.Delete(ctx, "1"))

	out, err := s.Query(ctx, types.QuerySpec{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].ID())
}

func TestUniqueIndexEnforcement(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	require.NoError(t, s.CreateIndex(types.IndexDefinition{
		Name:   "email",
		Fields: []types.IndexField{{Path: "email"}},
		Unique: true,
	}))

	_, err := s.Put(ctx, types.Document{"_id": "1", "email": "a@x.io"})
	require.NoError(t, err)

	_, err = s.Put(ctx, types.Document{"_id": "2", "email": "a@x.io"})
	assert.True(t, errdefs.IsConstraintViolation(err))

	// Same document may keep its key.
	_, err = s.Put(ctx, types.Document{"_id": "1", "email": "a@x.io", "n": 2})
	require.NoError(t, err)

	// Freeing the key by changing it allows a new owner.
	_, err = s.Put(ctx, types.Document{"_id": "1", "email": "b@x.io"})
	require.NoError(t, err)
	_, err = s.Put(ctx, types.Document{"_id": "2", "email": "a@x.io"})
	require.NoError(t, err)
}

func TestSparseIndexSkipsMissingFields(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	require.NoError(t, s.CreateIndex(types.IndexDefinition{
		Name:   "handle",
		Fields: []types.IndexField{{Path: "handle"}},
		Unique: true,
		Sparse: true,
	}))

	// Two documents without the field never collide.
	_, err := s.Put(ctx, types.Document{"_id": "1"})
	require.NoError(t, err)
	_, err = s.Put(ctx, types.Document{"_id": "2"})
	require.NoError(t, err)
}

func TestCreateIndexOnConflictingData(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	_, _ = s.Put(ctx, types.Document{"_id": "1", "email": "dup@x.io"})
	_, _ = s.Put(ctx, types.Document{"_id": "2", "email": "dup@x.io"})

	err := s.CreateIndex(types.IndexDefinition{
		Fields: []types.IndexField{{Path: "email"}},
		Unique: true,
	})
	assert.True(t, errdefs.IsConstraintViolation(err))
}

func TestIndexNormalizeAndDrop(t *testing.T) {
	s := testStore(t, newTestAdapter(t), "users")

	require.NoError(t, s.CreateIndex(types.IndexDefinition{
		Fields: []types.IndexField{{Path: "email"}, {Path: "age", Desc: true}},
	}))
	defs := s.Indexes()
	require.Len(t, defs, 1)
	assert.Equal(t, "idx_email_asc_age_desc", defs[0].Name)

	require.NoError(t, s.DropIndex(defs[0].Name))
	assert.Empty(t, s.Indexes())
	assert.True(t, errdefs.IsNotFound(s.DropIndex("ghost")))
}

func TestClearEmitsDeletePerLiveDocument(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, newTestAdapter(t), "users")

	_, _ = s.Put(ctx, types.Document{"_id": "1"})
	_, _ = s.Put(ctx, types.Document{"_id": "2"})
	require.NoError(t, s.Delete(ctx, "2")) // tombstone: no event on clear

	sub := s.Changes().Subscribe()
	defer s.Changes().Unsubscribe(sub)

	require.NoError(t, s.Clear(ctx))
	ev := <-sub
	assert.Equal(t, types.OpDelete, ev.Operation)
	assert.Equal(t, "1", ev.DocumentID)

	all, _ := s.GetAll()
	assert.Empty(t, all)

	// Tombstones are purged too: a fresh put is an insert again.
	subAfter := s.Changes().Subscribe()
	defer s.Changes().Unsubscribe(subAfter)
	_, _ = s.Put(ctx, types.Document{"_id": "2"})
	assert.Equal(t, types.OpInsert, (<-subAfter).Operation)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := testStore(t, a, "users")

	_, _ = s.Put(ctx, types.Document{"_id": "1"})
	require.NoError(t, s.(interface {
		Purge(context.Context, string) error
	}).Purge(ctx, "1"))

	st := a.Stats()
	assert.Zero(t, st.Documents)
	assert.Zero(t, st.Tombstones)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := testStore(t, a, "users")

	_, err := s.Put(ctx, types.Document{"_id": "keep", "v": 1})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = a.Transaction(ctx, []string{"users"}, TxReadWrite, func(ctx context.Context) error {
		if _, err := s.Put(ctx, types.Document{"_id": "discard"}); err != nil {
			return err
		}
		if _, err := s.Put(ctx, types.Document{"_id": "keep", "v": 2}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Get("discard")
	assert.Nil(t, got, "rolled-back insert must not be visible")
	kept, _ := s.Get("keep")
	assert.Equal(t, 1, kept["v"], "rolled-back update must not be visible")
}

func TestTransactionNestedCallsFlatten(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := testStore(t, a, "users")

	err := a.Transaction(ctx, []string{"users"}, TxReadWrite, func(ctx context.Context) error {
		return a.Transaction(ctx, []string{"users"}, TxReadWrite, func(ctx context.Context) error {
			_, err := s.Put(ctx, types.Document{"_id": "nested"})
			return err
		})
	})
	require.NoError(t, err)

	got, _ := s.Get("nested")
	assert.NotNil(t, got)
}

func TestAdapterStoreManagement(t *testing.T) {
	a := newTestAdapter(t)
	_ = testStore(t, a, "users")
	_ = testStore(t, a, "orders")

	assert.True(t, a.HasStore("users"))
	assert.Equal(t, []string{"orders", "users"}, a.ListStores())

	require.NoError(t, a.DeleteStore("orders"))
	assert.False(t, a.HasStore("orders"))
	assert.True(t, errdefs.IsNotFound(a.DeleteStore("orders")))
}

func TestStatsCountsLiveAndTombstoned(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	s := testStore(t, a, "users")

	_, _ = s.Put(ctx, types.Document{"_id": "1"})
	_, _ = s.Put(ctx, types.Document{"_id": "2"})
	require.NoError(t, s.Delete(ctx, "2"))

	st := a.Stats()
	assert.Equal(t, "memory", st.Adapter)
	assert.Equal(t, int64(1), st.Documents)
	assert.Equal(t, int64(1), st.Tombstones)
	assert.Equal(t, uint64(3), st.Events)
}
