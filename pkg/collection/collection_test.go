package collection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/storage"
	"github.com/josedab/pocket-go/pkg/types"
)

func testCollection(t *testing.T, opts Options) *Collection {
	t.Helper()
	a := storage.NewMemoryAdapter()
	require.NoError(t, a.Initialize(context.Background(), storage.Config{}))
	t.Cleanup(func() { a.Close() })
	store, err := a.Store("users")
	require.NoError(t, err)
	return New("users", store, opts)
}

func TestInsertRejectsExistingID(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t, Options{})

	_, err := c.Insert(ctx, types.Document{"_id": "u1", "name": "Alice"})
	require.NoError(t, err)

	_, err = c.Insert(ctx, types.Document{"_id": "u1", "name": "Imposter"})
	assert.True(t, errdefs.IsConstraintViolation(err))
}

func TestInsertOverTombstoneRevives(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t, Options{})

	_, err := c.Insert(ctx, types.Document{"_id": "u1"})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "u1"))

	_, err = c.Insert(ctx, types.Document{"_id": "u1", "name": "Alice"})
	require.NoError(t, err)
	got, _ := c.Get("u1")
	assert.Equal(t, "Alice", got["name"])
}

func TestUpdateRequiresExisting(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t, Options{})

	_, err := c.Update(ctx, types.Document{"_id": "ghost"})
	assert.True(t, errdefs.IsNotFound(err))

	_, err = c.Update(ctx, types.Document{"name": "no id"})
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestUpsertInsertsThenReplaces(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t, Options{})

	_, err := c.Upsert(ctx, types.Document{"_id": "u1", "v": 1})
	require.NoError(t, err)
	_, err = c.Upsert(ctx, types.Document{"_id": "u1", "v": 2})
	require.NoError(t, err)

	got, _ := c.Get("u1")
	assert.Equal(t, 2, got["v"])
}

func TestValidatorBlocksWriteWithoutEvent(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t, Options{
		Validator: func(doc types.Document) error {
			if _, ok := doc["name"]; !ok {
				return errors.New("name is required")
			}
			return nil
		},
	})

	sub := c.Changes().Subscribe()
	defer c.Changes().Unsubscribe(sub)

	_, err := c.Insert(ctx, types.Document{"_id": "u1"})
	assert.True(t, errdefs.IsConstraintViolation(err))

	select {
	case ev := <-sub:
		t.Fatalf("invalid write must not emit an event, got %v", ev)
	default:
	}

	_, err = c.Insert(ctx, types.Document{"_id": "u1", "name": "Alice"})
	require.NoError(t, err)
}

func TestSyncBypassesValidationAndTimestamps(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t, Options{
		Timestamps: true,
		Validator: func(doc types.Document) error {
			return errors.New("local writes only")
		},
	})

	sub := c.Changes().Subscribe()
	defer c.Changes().Unsubscribe(sub)

	// A local write is rejected by the validator...
	_, err := c.Insert(ctx, types.Document{"_id": "u1", "name": "Alice"})
	require.True(t, errdefs.IsConstraintViolation(err))

	// ...but the same state replicated from a peer applies as-is.
	stored, err := c.Sync(ctx, types.Document{
		"_id":        "u1",
		"_rev":       "origin-rev",
		"_updatedAt": int64(1234),
		"name":       "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "origin-rev", stored.Rev())
	assert.Zero(t, stored.CreatedAt(), "timestamps policy does not restamp synced state")

	ev := <-sub
	assert.True(t, ev.FromSync)

	_, err = c.Sync(ctx, types.Document{"name": "no id"})
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestTimestampsPolicy(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t, Options{Timestamps: true})

	first, err := c.Insert(ctx, types.Document{"_id": "u1", "name": "Alice"})
	require.NoError(t, err)
	created := first.CreatedAt()
	assert.NotZero(t, created)
	assert.NotZero(t, first.UpdatedAt())

	time.Sleep(2 * time.Millisecond)
	second, err := c.Update(ctx, types.Document{"_id": "u1", "name": "Alice B."})
	require.NoError(t, err)
	assert.Equal(t, created, second.CreatedAt(), "createdAt is carried across updates")
	assert.Greater(t, second.UpdatedAt(), first.UpdatedAt())
}

func TestPurgeRemovesTombstone(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t, Options{})

	_, _ = c.Insert(ctx, types.Document{"_id": "u1"})
	require.NoError(t, c.Delete(ctx, "u1"))
	require.NoError(t, c.Purge(ctx, "u1"))

	// After the purge, the id inserts as brand new.
	sub := c.Changes().Subscribe()
	defer c.Changes().Unsubscribe(sub)
	_, err := c.Insert(ctx, types.Document{"_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, types.OpInsert, (<-sub).Operation)
}

func TestFindAndCount(t *testing.T) {
	ctx := context.Background()
	c := testCollection(t, Options{})

	for _, doc := range []types.Document{
		{"_id": "1", "status": "active", "score": 95},
		{"_id": "2", "status": "inactive", "score": 40},
		{"_id": "3", "status": "active", "score": 62},
	} {
		_, err := c.Insert(ctx, doc)
		require.NoError(t, err)
	}

	out, err := c.Find(ctx, types.QuerySpec{
		Filter: map[string]any{"status": "active"},
		Sort:   []types.SortField{{Field: "score"}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "3", out[0].ID())

	n, err := c.Count(types.QuerySpec{Filter: map[string]any{"score": map[string]any{"$gte": 50}}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWatchTracksChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := testCollection(t, Options{})

	_, err := c.Insert(ctx, types.Document{"_id": "1", "status": "active", "name": "Alice"})
	require.NoError(t, err)

	results, err := c.Watch(ctx, types.QuerySpec{
		Filter: map[string]any{"status": "active"},
		Sort:   []types.SortField{{Field: "name"}},
	})
	require.NoError(t, err)

	initial := <-results
	require.Len(t, initial, 1)
	assert.Equal(t, "1", initial[0].ID())

	_, err = c.Insert(ctx, types.Document{"_id": "2", "status": "active", "name": "Bob"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case snapshot := <-results:
			return len(snapshot) == 2
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// An irrelevant change produces no re-evaluation.
	_, err = c.Insert(ctx, types.Document{"_id": "3", "status": "inactive"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	select {
	case snapshot := <-results:
		t.Fatalf("unexpected snapshot for non-matching change: %v", snapshot)
	default:
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-results
		return !open
	}, time.Second, 5*time.Millisecond)
}
