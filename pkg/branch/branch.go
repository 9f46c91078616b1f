package branch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/log"
	"github.com/josedab/pocket-go/pkg/types"
)

// MainBranch is the initial branch. It cannot be deleted.
const MainBranch = "main"

// Branch is the metadata record of one branch.
type Branch struct {
	Name               string
	Parent             string
	Description        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CreationSnapshotID string
}

// Data is a branch's document graph: collection → id → document. Creating a
// branch copies the collection maps but shares document references until the
// branch writes (copy-on-write at map granularity; documents are treated as
// immutable once stored).
type Data map[string]map[string]types.Document

func (d Data) clone() Data {
	out := make(Data, len(d))
	for coll, docs := range d {
		m := make(map[string]types.Document, len(docs))
		for id, doc := range docs {
			m[id] = doc // shared reference, replaced on write
		}
		out[coll] = m
	}
	return out
}

// EventType identifies a branch-manager event.
type EventType string

const (
	EventBranchCreated    EventType = "branch_created"
	EventBranchCheckout   EventType = "branch_checkout"
	EventBranchDeleted    EventType = "branch_deleted"
	EventBranchMerged     EventType = "branch_merged"
	EventSnapshotCreated  EventType = "snapshot_created"
	EventSnapshotRestored EventType = "snapshot_restored"
)

// Event is a branch lifecycle notification.
type Event struct {
	Type    EventType
	Branch  string
	Details map[string]any
}

// Config bounds the manager.
type Config struct {
	// MaxBranches caps the number of live branches, main included.
	MaxBranches int
	// SnapshotRetention is the sliding-window size; 0 keeps all snapshots.
	SnapshotRetention int
}

// Options configures Branch creation.
type Options struct {
	// From names the parent; empty means the current branch.
	From        string
	Description string
}

// Manager maintains the branch tree, the per-branch copy-on-write data maps
// and the snapshot history.
type Manager struct {
	mu        sync.RWMutex
	cfg       Config
	branches  map[string]*Branch
	data      map[string]Data
	current   string
	snapshots []*Snapshot
	byID      map[string]*Snapshot
	broker    *events.Broker[Event]
	logger    zerolog.Logger
}

// NewManager creates a manager with an empty main branch checked out.
func NewManager(cfg Config) *Manager {
	if cfg.MaxBranches <= 0 {
		cfg.MaxBranches = 32
	}
	now := time.Now()
	return &Manager{
		cfg: cfg,
		branches: map[string]*Branch{
			MainBranch: {Name: MainBranch, CreatedAt: now, UpdatedAt: now},
		},
		data:    map[string]Data{MainBranch: make(Data)},
		current: MainBranch,
		byID:    make(map[string]*Snapshot),
		broker:  events.NewBroker[Event](64, events.DropOldest),
		logger:  log.WithComponent("branch"),
	}
}

// Current returns the checked-out branch name.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Branches lists all branches.
func (m *Manager) Branches() []Branch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Branch, 0, len(m.branches))
	for _, b := range m.branches {
		out = append(out, *b)
	}
	return out
}

// Branch creates a new branch from a parent, capturing a creation snapshot of
// the parent's data.
func (m *Manager) Branch(name string, opts Options) (*Branch, error) {
	if name == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "branch.create",
			"branch needs a name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.branches[name]; exists {
		return nil, errdefs.New(errdefs.ErrConstraintViolation, "branch.create",
			"branch %q already exists", name)
	}
	if len(m.branches) >= m.cfg.MaxBranches {
		return nil, errdefs.New(errdefs.ErrConstraintViolation, "branch.create",
			"branch limit of %d reached", m.cfg.MaxBranches)
	}
	parent := opts.From
	if parent == "" {
		parent = m.current
	}
	parentData, ok := m.data[parent]
	if !ok {
		return nil, errdefs.New(errdefs.ErrNotFound, "branch.create",
			"parent branch %q", parent)
	}

	snap := m.captureLocked(parent, "branch:"+name)

	now := time.Now()
	b := &Branch{
		Name:               name,
		Parent:             parent,
		Description:        opts.Description,
		CreatedAt:          now,
		UpdatedAt:          now,
		CreationSnapshotID: snap.ID,
	}
	m.branches[name] = b
	m.data[name] = parentData.clone()

	m.broker.Publish(Event{Type: EventBranchCreated, Branch: name,
		Details: map[string]any{"parent": parent}})
	m.logger.Debug().Str("branch", name).Str("parent", parent).Msg("branch created")
	return b, nil
}

// Checkout switches the current branch. O(1): only the pointer moves.
func (m *Manager) Checkout(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[name]
	if !ok {
		return errdefs.New(errdefs.ErrNotFound, "branch.checkout", "branch %q", name)
	}
	m.current = name
	b.UpdatedAt = time.Now()
	m.broker.Publish(Event{Type: EventBranchCheckout, Branch: name})
	return nil
}

// DeleteBranch removes a branch. main and the current branch are protected.
func (m *Manager) DeleteBranch(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == MainBranch {
		return errdefs.New(errdefs.ErrInvalidArgument, "branch.delete",
			"main branch cannot be deleted")
	}
	if name == m.current {
		return errdefs.New(errdefs.ErrInvalidArgument, "branch.delete",
			"cannot delete the current branch")
	}
	if _, ok := m.branches[name]; !ok {
		return errdefs.New(errdefs.ErrNotFound, "branch.delete", "branch %q", name)
	}
	delete(m.branches, name)
	delete(m.data, name)
	m.broker.Publish(Event{Type: EventBranchDeleted, Branch: name})
	return nil
}

// Events returns the manager's event broker.
func (m *Manager) Events() *events.Broker[Event] { return m.broker }

// Put writes a document into a collection of the current branch.
func (m *Manager) Put(collection string, doc types.Document) error {
	id := doc.ID()
	if id == "" {
		return errdefs.New(errdefs.ErrInvalidArgument, "branch.put",
			"document has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.data[m.current]
	docs, ok := data[collection]
	if !ok {
		docs = make(map[string]types.Document)
		data[collection] = docs
	}
	docs[id] = doc.Clone()
	m.branches[m.current].UpdatedAt = time.Now()
	return nil
}

// Get reads a document from the current branch.
func (m *Manager) Get(collection, id string) (types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[m.current][collection][id]
	if !ok {
		return nil, errdefs.New(errdefs.ErrNotFound, "branch.get",
			"document %s/%s", collection, id)
	}
	return doc.Clone(), nil
}

// Delete removes a document from the current branch's graph.
func (m *Manager) Delete(collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.data[m.current][collection]
	if !ok {
		return errdefs.New(errdefs.ErrNotFound, "branch.deleteDoc",
			"document %s/%s", collection, id)
	}
	if _, ok := docs[id]; !ok {
		return errdefs.New(errdefs.ErrNotFound, "branch.deleteDoc",
			"document %s/%s", collection, id)
	}
	delete(docs, id)
	m.branches[m.current].UpdatedAt = time.Now()
	return nil
}

// Collection returns a copy of one collection map of the named branch.
func (m *Manager) Collection(branch, collection string) (map[string]types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[branch]
	if !ok {
		return nil, errdefs.New(errdefs.ErrNotFound, "branch.collection",
			"branch %q", branch)
	}
	out := make(map[string]types.Document, len(data[collection]))
	for id, doc := range data[collection] {
		out[id] = doc.Clone()
	}
	return out, nil
}
