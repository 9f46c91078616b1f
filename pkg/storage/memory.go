package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/query"
	"github.com/josedab/pocket-go/pkg/types"
)

// txKey marks a context as running inside an adapter transaction so nested
// Transaction calls flatten.
type txKey struct{}

func inTransaction(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

// MemoryAdapter is the reference Adapter implementation: mutex-guarded maps,
// no persistence. Transactions roll back via map snapshots; change events for
// operations already applied inside a failed transaction are not recalled
// (best-effort emission, matching the documented contract).
type MemoryAdapter struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	stores      map[string]*memoryStore
	cfg         Config
	initialized bool
}

// NewMemoryAdapter creates an uninitialized in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{stores: make(map[string]*memoryStore)}
}

func (a *MemoryAdapter) Initialize(ctx context.Context, cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 128
	}
	a.cfg = cfg
	a.initialized = true
	return nil
}

func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.stores {
		s.broker.Close()
	}
	a.stores = make(map[string]*memoryStore)
	a.initialized = false
	return nil
}

func (a *MemoryAdapter) IsAvailable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.initialized
}

func (a *MemoryAdapter) Store(name string) (DocumentStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil, errdefs.New(errdefs.ErrNotInitialized, "adapter.store",
			"memory adapter not initialized")
	}
	if s, ok := a.stores[name]; ok {
		return s, nil
	}
	s := newMemoryStore(name, a.cfg)
	a.stores[name] = s
	return s, nil
}

func (a *MemoryAdapter) HasStore(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.stores[name]
	return ok
}

func (a *MemoryAdapter) ListStores() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.stores))
	for name := range a.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *MemoryAdapter) DeleteStore(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stores[name]
	if !ok {
		return errdefs.New(errdefs.ErrNotFound, "adapter.deleteStore",
			"store %q", name)
	}
	s.broker.Close()
	delete(a.stores, name)
	return nil
}

// Transaction provides all-or-nothing semantics for document contents via map
// snapshots of the named stores. Nested calls execute inline.
func (a *MemoryAdapter) Transaction(ctx context.Context, storeNames []string, mode TxMode, fn func(ctx context.Context) error) error {
	if !a.IsAvailable() {
		return errdefs.New(errdefs.ErrNotInitialized, "adapter.transaction",
			"memory adapter not initialized")
	}
	if inTransaction(ctx) {
		return fn(ctx)
	}

	a.txMu.Lock()
	defer a.txMu.Unlock()

	var snapshots []*storeSnapshot
	if mode == TxReadWrite {
		for _, name := range storeNames {
			a.mu.RLock()
			s, ok := a.stores[name]
			a.mu.RUnlock()
			if !ok {
				continue
			}
			snapshots = append(snapshots, s.snapshot())
		}
	}

	err := fn(context.WithValue(ctx, txKey{}, struct{}{}))
	if err != nil {
		for _, snap := range snapshots {
			snap.restore()
		}
		return err
	}
	return nil
}

func (a *MemoryAdapter) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := Stats{Adapter: "memory", Stores: len(a.stores)}
	for _, s := range a.stores {
		live, dead, ev := s.counts()
		st.Documents += live
		st.Tombstones += dead
		st.Events += ev
	}
	return st
}

// memoryStore holds one collection's documents, tombstones included.
type memoryStore struct {
	name   string
	mu     sync.RWMutex
	docs   map[string]types.Document
	order  []string // id insertion order; queries without a sort preserve it
	idxs   map[string]types.IndexDefinition
	unique map[string]map[string]string // index name -> key -> owning id
	seq    uint64
	clock  clock
	broker *events.Broker[types.ChangeEvent]
}

func newMemoryStore(name string, cfg Config) *memoryStore {
	return &memoryStore{
		name:   name,
		docs:   make(map[string]types.Document),
		idxs:   make(map[string]types.IndexDefinition),
		unique: make(map[string]map[string]string),
		broker: events.NewBroker[types.ChangeEvent](cfg.EventBuffer, cfg.Overflow),
	}
}

func (s *memoryStore) Name() string { return s.name }

func (s *memoryStore) Get(id string) (types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok || doc.Deleted() {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (s *memoryStore) GetMany(ids []string) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Document, len(ids))
	for i, id := range ids {
		if doc, ok := s.docs[id]; ok && !doc.Deleted() {
			out[i] = doc.Clone()
		}
	}
	return out, nil
}

func (s *memoryStore) GetAll() ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked(), nil
}

// liveLocked returns clones of live documents in insertion order.
func (s *memoryStore) liveLocked() []types.Document {
	out := make([]types.Document, 0, len(s.docs))
	for _, id := range s.order {
		if doc, ok := s.docs[id]; ok && !doc.Deleted() {
			out = append(out, doc.Clone())
		}
	}
	return out
}

func (s *memoryStore) Put(ctx context.Context, doc types.Document) (types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(doc, false)
}

func (s *memoryStore) putLocked(doc types.Document, fromSync bool) (types.Document, error) {
	var stamped types.Document
	if fromSync {
		stamped = stampSync(doc, s.clock.next())
	} else {
		stamped = stampWrite(doc, s.clock.next())
	}
	id := stamped.ID()
	prev, existed := s.docs[id]

	if !stamped.Deleted() {
		for name, keys := range s.unique {
			def := s.idxs[name]
			key, ok := indexKey(stamped, def)
			if !ok {
				continue
			}
			if owner, taken := keys[key]; taken && owner != id {
				return nil, errdefs.New(errdefs.ErrConstraintViolation, "store.put",
					"unique index %q violated by document %q", name, id)
			}
		}
	}

	if !existed {
		s.order = append(s.order, id)
	}
	s.docs[id] = stamped
	s.reindexLocked(id, prev, stamped)

	op := types.OpUpdate
	if !existed {
		op = types.OpInsert
	}
	s.publishLocked(types.ChangeEvent{
		Operation:  op,
		DocumentID: id,
		Document:   stamped.Clone(),
		Previous:   prev.Clone(),
		FromSync:   fromSync,
	})
	return stamped.Clone(), nil
}

// PutFromSync re-applies a document replicated from another peer: the
// origin's revision, timestamps and tombstone flag are preserved, and the
// change event is flagged FromSync so observers can tell replicated
// mutations from local ones.
func (s *memoryStore) PutFromSync(ctx context.Context, doc types.Document) (types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc.ID() == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "store.putFromSync",
			"synced document has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(doc, true)
}

func (s *memoryStore) BulkPut(ctx context.Context, docs []types.Document) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Document, 0, len(docs))
	for _, doc := range docs {
		stored, err := s.putLocked(doc, false)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.docs[id]
	if !ok {
		return errdefs.New(errdefs.ErrNotFound, "store.delete", "document %q", id)
	}
	if prev.Deleted() {
		return nil
	}

	tomb := prev.Clone()
	tomb[types.FieldDeleted] = true
	tomb[types.FieldUpdatedAt] = s.clock.next()
	s.docs[id] = tomb
	s.reindexLocked(id, prev, nil)

	s.publishLocked(types.ChangeEvent{
		Operation:  types.OpDelete,
		DocumentID: id,
		Previous:   prev.Clone(),
	})
	return nil
}

// Purge hard-deletes a document, tombstone included. Purging a live document
// emits a delete event first; purging a tombstone is silent.
func (s *memoryStore) Purge(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return errdefs.New(errdefs.ErrNotFound, "store.purge", "document %q", id)
	}
	if !doc.Deleted() {
		s.reindexLocked(id, doc, nil)
		s.publishLocked(types.ChangeEvent{
			Operation:  types.OpDelete,
			DocumentID: id,
			Previous:   doc.Clone(),
		})
	}
	delete(s.docs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memoryStore) Query(ctx context.Context, spec types.QuerySpec) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	candidates := s.liveLocked()
	s.mu.RUnlock()
	return query.Apply(spec, candidates)
}

func (s *memoryStore) Count(spec types.QuerySpec) (int, error) {
	if err := query.Validate(spec.Filter); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.order {
		if doc, ok := s.docs[id]; ok && !doc.Deleted() && query.Matches(doc, spec.Filter) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) CreateIndex(def types.IndexDefinition) error {
	if len(def.Fields) == 0 {
		return errdefs.New(errdefs.ErrInvalidArgument, "store.createIndex",
			"index needs at least one field")
	}
	def = def.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if def.Unique {
		keys := make(map[string]string)
		for _, id := range s.order {
			doc, ok := s.docs[id]
			if !ok || doc.Deleted() {
				continue
			}
			key, indexed := indexKey(doc, def)
			if !indexed {
				continue
			}
			if owner, taken := keys[key]; taken {
				return errdefs.New(errdefs.ErrConstraintViolation, "store.createIndex",
					"unique index %q: documents %q and %q share a key", def.Name, owner, id)
			}
			keys[key] = id
		}
		s.unique[def.Name] = keys
	}
	s.idxs[def.Name] = def
	return nil
}

func (s *memoryStore) DropIndex(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idxs[name]; !ok {
		return errdefs.New(errdefs.ErrNotFound, "store.dropIndex", "index %q", name)
	}
	delete(s.idxs, name)
	delete(s.unique, name)
	return nil
}

func (s *memoryStore) Indexes() []types.IndexDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.IndexDefinition, 0, len(s.idxs))
	for _, def := range s.idxs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *memoryStore) Changes() *events.Broker[types.ChangeEvent] {
	return s.broker
}

func (s *memoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		doc, ok := s.docs[id]
		if ok && !doc.Deleted() {
			s.publishLocked(types.ChangeEvent{
				Operation:  types.OpDelete,
				DocumentID: id,
				Previous:   doc.Clone(),
			})
		}
	}
	s.docs = make(map[string]types.Document)
	s.order = nil
	for name := range s.unique {
		s.unique[name] = make(map[string]string)
	}
	return nil
}

// publishLocked stamps sequence and timestamp under the store lock so
// delivery order always matches sequence order.
func (s *memoryStore) publishLocked(ev types.ChangeEvent) {
	s.seq++
	ev.Sequence = s.seq
	ev.Timestamp = s.clock.next()
	s.broker.Publish(ev)
}

// reindexLocked moves a document's unique-index keys from prev to next.
// A nil next (delete) only removes.
func (s *memoryStore) reindexLocked(id string, prev, next types.Document) {
	for name, keys := range s.unique {
		def := s.idxs[name]
		if prev != nil && !prev.Deleted() {
			if key, ok := indexKey(prev, def); ok && keys[key] == id {
				delete(keys, key)
			}
		}
		if next != nil && !next.Deleted() {
			if key, ok := indexKey(next, def); ok {
				keys[key] = id
			}
		}
	}
}

func (s *memoryStore) counts() (live, dead int64, ev uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs {
		if doc.Deleted() {
			dead++
		} else {
			live++
		}
	}
	return live, dead, s.seq
}

// storeSnapshot captures a store's document state for transaction rollback.
type storeSnapshot struct {
	store  *memoryStore
	docs   map[string]types.Document
	order  []string
	unique map[string]map[string]string
}

func (s *memoryStore) snapshot() *storeSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &storeSnapshot{
		store:  s,
		docs:   make(map[string]types.Document, len(s.docs)),
		order:  append([]string(nil), s.order...),
		unique: make(map[string]map[string]string, len(s.unique)),
	}
	for id, doc := range s.docs {
		snap.docs[id] = doc // stored documents are never mutated in place
	}
	for name, keys := range s.unique {
		cp := make(map[string]string, len(keys))
		for k, v := range keys {
			cp[k] = v
		}
		snap.unique[name] = cp
	}
	return snap
}

func (snap *storeSnapshot) restore() {
	s := snap.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = snap.docs
	s.order = snap.order
	s.unique = snap.unique
}
