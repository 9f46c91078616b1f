package views

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/log"
	"github.com/josedab/pocket-go/pkg/types"
)

// EventType identifies a view-manager event.
type EventType string

const (
	EventViewCreated EventType = "view:created"
	EventViewUpdated EventType = "view:updated"
	EventViewDropped EventType = "view:dropped"
)

// Event is a view lifecycle or update notification. Delta is set for
// view:updated events on projected views.
type Event struct {
	Type  EventType
	View  string
	Delta *Delta
}

// Source supplies the full candidate set of a collection, used to seed new
// views and to rebuild a view whose delta application failed.
type Source func(collection string) ([]types.Document, error)

// Manager owns the materialized views of a database and routes change events
// to them. Routing is by collection name only: every view registered on a
// collection sees every event of that collection.
type Manager struct {
	mu      sync.RWMutex
	views   map[string]*View
	grouped map[string]*GroupedView
	source  Source
	broker  *events.Broker[Event]
	logger  zerolog.Logger
}

// NewManager creates a view manager. source may be nil, in which case views
// start empty and failed delta applications cannot fall back to a rebuild.
func NewManager(source Source) *Manager {
	return &Manager{
		views:   make(map[string]*View),
		grouped: make(map[string]*GroupedView),
		source:  source,
		broker:  events.NewBroker[Event](64, events.DropOldest),
		logger:  log.WithComponent("views"),
	}
}

// CreateView registers a projected view and seeds it from the source.
func (m *Manager) CreateView(def Definition) (*View, error) {
	if def.Name == "" || def.Collection == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "views.create",
			"view needs a name and a collection")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exists(def.Name) {
		return nil, errdefs.New(errdefs.ErrConstraintViolation, "views.create",
			"view %q already exists", def.Name)
	}

	v := newView(def)
	if m.source != nil {
		docs, err := m.source(def.Collection)
		if err != nil {
			return nil, err
		}
		v.Rebuild(docs)
	}
	m.views[def.Name] = v
	m.broker.Publish(Event{Type: EventViewCreated, View: def.Name})
	return v, nil
}

// CreateGroupedView registers a computed (group-by) view and seeds it.
func (m *Manager) CreateGroupedView(def GroupedDefinition) (*GroupedView, error) {
	if def.Name == "" || def.Collection == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "views.createGrouped",
			"view needs a name and a collection")
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exists(def.Name) {
		return nil, errdefs.New(errdefs.ErrConstraintViolation, "views.createGrouped",
			"view %q already exists", def.Name)
	}

	v := newGroupedView(def)
	if m.source != nil {
		docs, err := m.source(def.Collection)
		if err != nil {
			return nil, err
		}
		v.Rebuild(docs)
	}
	m.grouped[def.Name] = v
	m.broker.Publish(Event{Type: EventViewCreated, View: def.Name})
	return v, nil
}

func (m *Manager) exists(name string) bool {
	if _, ok := m.views[name]; ok {
		return true
	}
	_, ok := m.grouped[name]
	return ok
}

// GetView returns a projected view by name.
func (m *Manager) GetView(name string) (*View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[name]
	if !ok {
		return nil, errdefs.New(errdefs.ErrNotFound, "views.get", "view %q", name)
	}
	return v, nil
}

// GetGroupedView returns a grouped view by name.
func (m *Manager) GetGroupedView(name string) (*GroupedView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.grouped[name]
	if !ok {
		return nil, errdefs.New(errdefs.ErrNotFound, "views.get", "view %q", name)
	}
	return v, nil
}

// DropView removes a view of either flavor and terminates its streams.
func (m *Manager) DropView(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.views[name]; ok {
		v.dispose()
		delete(m.views, name)
		m.broker.Publish(Event{Type: EventViewDropped, View: name})
		return nil
	}
	if _, ok := m.grouped[name]; ok {
		delete(m.grouped, name)
		m.broker.Publish(Event{Type: EventViewDropped, View: name})
		return nil
	}
	return errdefs.New(errdefs.ErrNotFound, "views.drop", "view %q", name)
}

// ListViews returns the names of all registered views.
func (m *Manager) ListViews() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.views)+len(m.grouped))
	for name := range m.views {
		names = append(names, name)
	}
	for name := range m.grouped {
		names = append(names, name)
	}
	return names
}

// Events returns the manager's event broker.
func (m *Manager) Events() *events.Broker[Event] { return m.broker }

// ProcessChange dispatches one change event to every view registered on the
// collection. A failure in one view is logged, answered with a full rebuild,
// and never blocks the other views.
func (m *Manager) ProcessChange(collection string, ev types.ChangeEvent) {
	m.mu.RLock()
	var projected []*View
	var grouped []*GroupedView
	for _, v := range m.views {
		if v.def.Collection == collection {
			projected = append(projected, v)
		}
	}
	for _, v := range m.grouped {
		if v.def.Collection == collection {
			grouped = append(grouped, v)
		}
	}
	m.mu.RUnlock()

	for _, v := range projected {
		delta := m.applyProjected(v, ev)
		if delta != nil && !delta.Empty() {
			m.broker.Publish(Event{Type: EventViewUpdated, View: v.def.Name, Delta: delta})
		}
	}
	for _, v := range grouped {
		if v.Apply(ev) {
			m.broker.Publish(Event{Type: EventViewUpdated, View: v.def.Name})
		}
	}
}

// applyProjected applies one event, falling back to a rebuild if the
// incremental path panics. The view's invariants survive either way.
func (m *Manager) applyProjected(v *View, ev types.ChangeEvent) (delta *Delta) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("view", v.def.Name).Interface("panic", r).
				Msg("delta application failed, rebuilding view")
			m.rebuild(v)
			delta = nil
		}
	}()
	d := v.Apply(ev)
	return &d
}

func (m *Manager) rebuild(v *View) {
	if m.source == nil {
		return
	}
	docs, err := m.source(v.def.Collection)
	if err != nil {
		m.logger.Error().Err(err).Str("view", v.def.Name).Msg("view rebuild failed")
		return
	}
	v.Rebuild(docs)
}

// Dispose drops every view and closes the event broker.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, v := range m.views {
		v.dispose()
		delete(m.views, name)
	}
	for name := range m.grouped {
		delete(m.grouped, name)
	}
	m.broker.Close()
}
