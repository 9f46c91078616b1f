package views

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josedab/pocket-go/pkg/types"
)

func insertEvent(doc types.Document) types.ChangeEvent {
	return types.ChangeEvent{Operation: types.OpInsert, DocumentID: doc.ID(), Document: doc}
}

func updateEvent(prev, doc types.Document) types.ChangeEvent {
	return types.ChangeEvent{Operation: types.OpUpdate, DocumentID: doc.ID(), Document: doc, Previous: prev}
}

func deleteEvent(prev types.Document) types.ChangeEvent {
	return types.ChangeEvent{Operation: types.OpDelete, DocumentID: prev.ID(), Previous: prev}
}

func resultIDs(v *View) []string {
	results := v.Results()
	ids := make([]string, len(results))
	for i, doc := range results {
		ids[i] = doc.ID()
	}
	return ids
}

func names(v *View) []string {
	results := v.Results()
	out := make([]string, len(results))
	for i, doc := range results {
		out[i], _ = doc["name"].(string)
	}
	return out
}

// Scenario: a filtered, name-sorted view tracking a collection under churn.
func TestViewUnderChurn(t *testing.T) {
	v := newView(Definition{
		Name:       "active-users",
		Collection: "users",
		Filter:     map[string]any{"status": "active"},
		Sort:       []types.SortField{{Field: "name"}},
	})

	seed := []types.Document{
		{"_id": "1", "status": "active", "name": "Alice", "score": 90},
		{"_id": "2", "status": "inactive", "name": "Bob", "score": 75},
		{"_id": "3", "status": "active", "name": "Charlie", "score": 88},
		{"_id": "4", "status": "inactive", "name": "Dave", "score": 50},
		{"_id": "5", "status": "active", "name": "Eve", "score": 61},
	}
	v.Rebuild(seed)
	assert.Equal(t, []string{"Alice", "Charlie", "Eve"}, names(v))

	// Insert an active Brian.
	delta := v.Apply(insertEvent(types.Document{"_id": "6", "status": "active", "name": "Brian"}))
	require.Len(t, delta.Added, 1)
	assert.Equal(t, []string{"Alice", "Brian", "Charlie", "Eve"}, names(v))

	// Bob becomes active.
	v.Apply(updateEvent(seed[1], types.Document{"_id": "2", "status": "active", "name": "Bob"}))
	// Alice becomes inactive.
	delta = v.Apply(updateEvent(seed[0], types.Document{"_id": "1", "status": "inactive", "name": "Alice"}))
	require.Len(t, delta.Removed, 1)
	// Charlie is deleted.
	v.Apply(deleteEvent(seed[2]))

	assert.Equal(t, []string{"Bob", "Brian", "Eve"}, names(v))
}

// Scenario: top-N eviction under a limit, no backfill after removal.
func TestViewTopNEviction(t *testing.T) {
	v := newView(Definition{
		Name:       "top-scores",
		Collection: "users",
		Filter:     map[string]any{"status": "active"},
		Sort:       []types.SortField{{Field: "score", Desc: true}},
		Limit:      2,
	})

	v.Rebuild([]types.Document{
		{"_id": "a", "status": "active", "name": "Alice", "score": 95},
		{"_id": "b", "status": "active", "name": "Bob", "score": 75},
		{"_id": "c", "status": "active", "name": "Charlie", "score": 88},
	})
	assert.Equal(t, []string{"a", "c"}, resultIDs(v))

	// Frank(90) displaces Charlie(88).
	delta := v.Apply(insertEvent(types.Document{"_id": "f", "status": "active", "name": "Frank", "score": 90}))
	require.Len(t, delta.Added, 1)
	require.Len(t, delta.Removed, 1)
	assert.Equal(t, "c", delta.Removed[0].ID())
	assert.Equal(t, []string{"a", "f"}, resultIDs(v))

	// Deleting Alice leaves the view underfull; no re-query backfill.
	v.Apply(deleteEvent(types.Document{"_id": "a", "status": "active", "score": 95}))
	assert.Equal(t, []string{"f"}, resultIDs(v))
}

func TestViewInsertAtBoundaries(t *testing.T) {
	v := newView(Definition{
		Name:       "v",
		Collection: "c",
		Sort:       []types.SortField{{Field: "rank"}},
		Limit:      3,
	})
	v.Rebuild([]types.Document{
		{"_id": "m1", "rank": 10},
		{"_id": "m2", "rank": 20},
	})

	// Position 0.
	v.Apply(insertEvent(types.Document{"_id": "first", "rank": 1}))
	assert.Equal(t, []string{"first", "m1", "m2"}, resultIDs(v))

	// At the limit: candidate ranks at the tail and the view is full — drop.
	delta := v.Apply(insertEvent(types.Document{"_id": "tail", "rank": 30}))
	assert.True(t, delta.Empty())
	assert.Equal(t, []string{"first", "m1", "m2"}, resultIDs(v))

	// Candidate better than the last entry displaces it.
	v.Apply(insertEvent(types.Document{"_id": "mid", "rank": 15}))
	assert.Equal(t, []string{"first", "m1", "mid"}, resultIDs(v))
}

func TestViewTieBreaksAreStable(t *testing.T) {
	v := newView(Definition{
		Name:       "v",
		Collection: "c",
		Sort:       []types.SortField{{Field: "rank"}},
	})
	v.Rebuild([]types.Document{
		{"_id": "a", "rank": 1},
		{"_id": "b", "rank": 1},
	})

	// A new tying document lands after the existing ties.
	v.Apply(insertEvent(types.Document{"_id": "c", "rank": 1}))
	assert.Equal(t, []string{"a", "b", "c"}, resultIDs(v))
}

func TestViewModifyInPlaceKeepsPosition(t *testing.T) {
	v := newView(Definition{
		Name:       "v",
		Collection: "c",
		Sort:       []types.SortField{{Field: "rank"}},
	})
	before := types.Document{"_id": "a", "rank": 1, "label": "old"}
	v.Rebuild([]types.Document{before, {"_id": "b", "rank": 2}})

	delta := v.Apply(updateEvent(before, types.Document{"_id": "a", "rank": 1, "label": "new"}))
	require.Len(t, delta.Modified, 1)
	assert.Equal(t, "old", delta.Modified[0].Before["label"])
	assert.Equal(t, "new", delta.Modified[0].After["label"])
	assert.Empty(t, delta.Added)
	assert.Equal(t, []string{"a", "b"}, resultIDs(v))
}

func TestViewSortKeyChangeRepositions(t *testing.T) {
	v := newView(Definition{
		Name:       "v",
		Collection: "c",
		Sort:       []types.SortField{{Field: "rank"}},
	})
	a := types.Document{"_id": "a", "rank": 1}
	v.Rebuild([]types.Document{a, {"_id": "b", "rank": 2}})

	delta := v.Apply(updateEvent(a, types.Document{"_id": "a", "rank": 3}))
	require.Len(t, delta.Modified, 1)
	assert.Equal(t, []string{"b", "a"}, resultIDs(v))
}

func TestViewIgnoresUnrelatedChanges(t *testing.T) {
	v := newView(Definition{
		Name:       "v",
		Collection: "c",
		Filter:     map[string]any{"status": "active"},
	})
	v.Rebuild(nil)

	delta := v.Apply(insertEvent(types.Document{"_id": "x", "status": "inactive"}))
	assert.True(t, delta.Empty())
}

func TestViewProjectionApplied(t *testing.T) {
	v := newView(Definition{
		Name:       "v",
		Collection: "c",
		Projection: &types.Projection{Include: []string{"name"}},
	})
	v.Rebuild([]types.Document{{"_id": "a", "name": "Alice", "secret": "x"}})

	results := v.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "Alice", results[0]["name"])
	_, leaked := results[0]["secret"]
	assert.False(t, leaked)
}

func TestViewStats(t *testing.T) {
	v := newView(Definition{Name: "v", Collection: "c"})
	v.Rebuild([]types.Document{{"_id": "a"}})

	v.Results()
	v.Results()
	v.Apply(insertEvent(types.Document{"_id": "b"}))

	st := v.Stats()
	assert.Equal(t, 2, st.ResultCount)
	assert.Equal(t, uint64(2), st.Hits)
	assert.False(t, st.LastUpdated.IsZero())
}

func TestViewUpdatesStreamSharedAndTerminates(t *testing.T) {
	v := newView(Definition{Name: "v", Collection: "c"})
	v.Rebuild(nil)

	s1 := v.Updates().Subscribe()
	s2 := v.Updates().Subscribe()

	v.Apply(insertEvent(types.Document{"_id": "a"}))
	r1 := <-s1
	r2 := <-s2
	assert.Len(t, r1, 1)
	assert.Len(t, r2, 1)

	v.dispose()
	_, open := <-s1
	assert.False(t, open)
}

func TestResultsAreDefensiveCopies(t *testing.T) {
	v := newView(Definition{Name: "v", Collection: "c"})
	v.Rebuild([]types.Document{{"_id": "a", "name": "Alice"}})

	v.Results()[0]["name"] = "mutated"
	assert.Equal(t, "Alice", v.Results()[0]["name"])
}
