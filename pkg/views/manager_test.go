package views

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/types"
)

func managerFixture(data map[string][]types.Document) *Manager {
	return NewManager(func(collection string) ([]types.Document, error) {
		return data[collection], nil
	})
}

func TestManagerCreateSeedsFromSource(t *testing.T) {
	m := managerFixture(map[string][]types.Document{
		"users": {
			{"_id": "1", "status": "active"},
			{"_id": "2", "status": "inactive"},
		},
	})
	defer m.Dispose()

	v, err := m.CreateView(Definition{
		Name:       "active",
		Collection: "users",
		Filter:     map[string]any{"status": "active"},
	})
	require.NoError(t, err)
	assert.Len(t, v.Results(), 1)
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	m := managerFixture(nil)
	defer m.Dispose()

	_, err := m.CreateView(Definition{Name: "v", Collection: "c"})
	require.NoError(t, err)

	_, err = m.CreateView(Definition{Name: "v", Collection: "c"})
	assert.True(t, errdefs.IsConstraintViolation(err))

	_, err = m.CreateGroupedView(GroupedDefinition{
		Name: "v", Collection: "c",
		Aggregations: map[string]Aggregation{"n": {Kind: AggCount}},
	})
	assert.True(t, errdefs.IsConstraintViolation(err))
}

func TestManagerRoutesByCollectionNameOnly(t *testing.T) {
	m := managerFixture(nil)
	defer m.Dispose()

	usersView, err := m.CreateView(Definition{Name: "users-view", Collection: "users"})
	require.NoError(t, err)
	ordersView, err := m.CreateView(Definition{Name: "orders-view", Collection: "orders"})
	require.NoError(t, err)

	m.ProcessChange("users", insertEvent(types.Document{"_id": "u1"}))

	assert.Len(t, usersView.Results(), 1)
	assert.Empty(t, ordersView.Results())
}

func TestManagerPublishesUpdateEvents(t *testing.T) {
	m := managerFixture(nil)
	defer m.Dispose()

	_, err := m.CreateView(Definition{Name: "v", Collection: "users"})
	require.NoError(t, err)

	sub := m.Events().Subscribe()
	defer m.Events().Unsubscribe(sub)

	m.ProcessChange("users", insertEvent(types.Document{"_id": "u1"}))

	ev := <-sub
	assert.Equal(t, EventViewUpdated, ev.Type)
	assert.Equal(t, "v", ev.View)
	require.NotNil(t, ev.Delta)
	assert.Len(t, ev.Delta.Added, 1)

	// A change that leaves the view untouched publishes nothing.
	m.ProcessChange("orders", insertEvent(types.Document{"_id": "o1"}))
	select {
	case ev := <-sub:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestManagerDropAndList(t *testing.T) {
	m := managerFixture(nil)
	defer m.Dispose()

	_, err := m.CreateView(Definition{Name: "a", Collection: "c"})
	require.NoError(t, err)
	_, err = m.CreateGroupedView(GroupedDefinition{
		Name: "b", Collection: "c",
		Aggregations: map[string]Aggregation{"n": {Kind: AggCount}},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, m.ListViews())

	require.NoError(t, m.DropView("a"))
	require.NoError(t, m.DropView("b"))
	assert.Empty(t, m.ListViews())
	assert.True(t, errdefs.IsNotFound(m.DropView("a")))

	_, err = m.GetView("a")
	assert.True(t, errdefs.IsNotFound(err))
}
