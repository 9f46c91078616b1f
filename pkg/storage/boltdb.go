package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/query"
	"github.com/josedab/pocket-go/pkg/types"
)

var bucketStores = []byte("stores")

func docBucket(store string) []byte  { return []byte("docs:" + store) }
func uidxBucket(store, index string) []byte {
	return []byte("uidx:" + store + ":" + index)
}

// boltTxState threads the active bbolt transaction (and events pending its
// commit) through contexts so nested Transaction calls flatten.
type boltTxState struct {
	tx      *bolt.Tx
	pending []func()
}

type boltTxKey struct{}

func boltTxFrom(ctx context.Context) *boltTxState {
	st, _ := ctx.Value(boltTxKey{}).(*boltTxState)
	return st
}

// BoltAdapter persists document stores in a single bbolt file: one bucket per
// store for documents (tombstones included), one bucket per unique index, and
// a meta bucket holding index definitions. Documents, tombstones and index
// definitions survive close/reopen; change-event sequences restart per
// process.
type BoltAdapter struct {
	mu          sync.RWMutex
	db          *bolt.DB
	stores      map[string]*boltStore
	cfg         Config
	initialized bool
}

// NewBoltAdapter creates an uninitialized bolt adapter.
func NewBoltAdapter() *BoltAdapter {
	return &BoltAdapter{stores: make(map[string]*boltStore)}
}

func (a *BoltAdapter) Initialize(ctx context.Context, cfg Config) error {
	if cfg.Path == "" {
		return errdefs.New(errdefs.ErrInvalidArgument, "adapter.initialize",
			"bolt adapter requires a database path")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 128
	}

	db, err := bolt.Open(cfg.Path, 0600, nil)
	if err != nil {
		return errdefs.Wrap(errdefs.ErrTransient, "adapter.initialize",
			fmt.Errorf("failed to open database: %w", err))
	}

	var names []string
	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketStores)
		if err != nil {
			return err
		}
		return meta.ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		db.Close()
		return errdefs.Wrap(errdefs.ErrTransient, "adapter.initialize", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.db = db
	a.cfg = cfg
	a.initialized = true
	for _, name := range names {
		a.stores[name] = newBoltStore(a, name, cfg)
	}
	return nil
}

func (a *BoltAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil
	}
	for _, s := range a.stores {
		s.broker.Close()
	}
	a.stores = make(map[string]*boltStore)
	a.initialized = false
	return a.db.Close()
}

func (a *BoltAdapter) IsAvailable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.initialized
}

func (a *BoltAdapter) Store(name string) (DocumentStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil, errdefs.New(errdefs.ErrNotInitialized, "adapter.store",
			"bolt adapter not initialized")
	}
	if s, ok := a.stores[name]; ok {
		return s, nil
	}

	err := a.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(docBucket(name)); err != nil {
			return err
		}
		meta := tx.Bucket(bucketStores)
		if meta.Get([]byte(name)) == nil {
			data, err := json.Marshal(storeMeta{})
			if err != nil {
				return err
			}
			return meta.Put([]byte(name), data)
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrTransient, "adapter.store", err)
	}

	s := newBoltStore(a, name, a.cfg)
	a.stores[name] = s
	return s, nil
}

func (a *BoltAdapter) HasStore(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.stores[name]
	return ok
}

func (a *BoltAdapter) ListStores() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.stores))
	for name := range a.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *BoltAdapter) DeleteStore(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stores[name]
	if !ok {
		return errdefs.New(errdefs.ErrNotFound, "adapter.deleteStore",
			"store %q", name)
	}

	err := a.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(docBucket(name)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		for _, def := range s.readMeta(tx).Indexes {
			if def.Unique {
				if err := tx.DeleteBucket(uidxBucket(name, def.Name)); err != nil && err != bolt.ErrBucketNotFound {
					return err
				}
			}
		}
		return tx.Bucket(bucketStores).Delete([]byte(name))
	})
	if err != nil {
		return errdefs.Wrap(errdefs.ErrTransient, "adapter.deleteStore", err)
	}

	s.broker.Close()
	delete(a.stores, name)
	return nil
}

// Transaction maps to one bbolt update transaction: BEGIN on entry, COMMIT on
// success, ROLLBACK on error. Change events produced inside the transaction
// are held back and published only after commit, in operation order. Nested
// calls flatten into the outer transaction.
func (a *BoltAdapter) Transaction(ctx context.Context, storeNames []string, mode TxMode, fn func(ctx context.Context) error) error {
	if !a.IsAvailable() {
		return errdefs.New(errdefs.ErrNotInitialized, "adapter.transaction",
			"bolt adapter not initialized")
	}
	if boltTxFrom(ctx) != nil {
		return fn(ctx)
	}

	st := &boltTxState{}
	run := func(tx *bolt.Tx) error {
		st.tx = tx
		return fn(context.WithValue(ctx, boltTxKey{}, st))
	}

	var err error
	if mode == TxReadOnly {
		err = a.db.View(run)
	} else {
		err = a.db.Update(run)
	}
	if err != nil {
		return err
	}
	for _, publish := range st.pending {
		publish()
	}
	return nil
}

func (a *BoltAdapter) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := Stats{Adapter: "bolt", Stores: len(a.stores)}
	if !a.initialized {
		return st
	}
	a.db.View(func(tx *bolt.Tx) error {
		for name, s := range a.stores {
			b := tx.Bucket(docBucket(name))
			if b == nil {
				continue
			}
			b.ForEach(func(k, v []byte) error {
				var doc types.Document
				if err := json.Unmarshal(v, &doc); err != nil {
					return nil
				}
				if doc.Deleted() {
					st.Tombstones++
				} else {
					st.Documents++
				}
				return nil
			})
			st.Events += s.sequence()
		}
		return nil
	})
	return st
}

// storeMeta is the per-store record kept in the meta bucket.
type storeMeta struct {
	Indexes []types.IndexDefinition `json:"indexes"`
}

// boltStore is the DocumentStore façade over one store's buckets. The
// sequence counter and change broker are process-local.
type boltStore struct {
	adapter *BoltAdapter
	name    string
	mu      sync.Mutex
	seq     uint64
	clock   clock
	broker  *events.Broker[types.ChangeEvent]
}

func newBoltStore(a *BoltAdapter, name string, cfg Config) *boltStore {
	return &boltStore{
		adapter: a,
		name:    name,
		broker:  events.NewBroker[types.ChangeEvent](cfg.EventBuffer, cfg.Overflow),
	}
}

func (s *boltStore) Name() string { return s.name }

// update runs fn in the ambient transaction when one is active, otherwise in
// its own bbolt update transaction.
func (s *boltStore) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if st := boltTxFrom(ctx); st != nil {
		return fn(st.tx)
	}
	return s.adapter.db.Update(fn)
}

// emit publishes immediately, or defers to commit when inside a transaction.
func (s *boltStore) emit(ctx context.Context, ev types.ChangeEvent) {
	publish := func() {
		s.mu.Lock()
		s.seq++
		ev.Sequence = s.seq
		ev.Timestamp = s.clock.next()
		s.broker.Publish(ev)
		s.mu.Unlock()
	}
	if st := boltTxFrom(ctx); st != nil {
		st.pending = append(st.pending, publish)
		return
	}
	publish()
}

func (s *boltStore) sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *boltStore) readDoc(tx *bolt.Tx, id string) types.Document {
	b := tx.Bucket(docBucket(s.name))
	if b == nil {
		return nil
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil
	}
	var doc types.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

func (s *boltStore) Get(id string) (types.Document, error) {
	var doc types.Document
	err := s.adapter.db.View(func(tx *bolt.Tx) error {
		doc = s.readDoc(tx, id)
		return nil
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrTransient, "store.get", err)
	}
	if doc == nil || doc.Deleted() {
		return nil, nil
	}
	return doc, nil
}

func (s *boltStore) GetMany(ids []string) ([]types.Document, error) {
	out := make([]types.Document, len(ids))
	err := s.adapter.db.View(func(tx *bolt.Tx) error {
		for i, id := range ids {
			if doc := s.readDoc(tx, id); doc != nil && !doc.Deleted() {
				out[i] = doc
			}
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrTransient, "store.getMany", err)
	}
	return out, nil
}

func (s *boltStore) GetAll() ([]types.Document, error) {
	var out []types.Document
	err := s.adapter.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(docBucket(s.name))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var doc types.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if !doc.Deleted() {
				out = append(out, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrTransient, "store.getAll", err)
	}
	return out, nil
}

func (s *boltStore) Put(ctx context.Context, doc types.Document) (types.Document, error) {
	return s.put(ctx, doc, false)
}

// PutFromSync re-applies a document replicated from another peer: the
// origin's revision, timestamps and tombstone flag are preserved, and the
// change event is flagged FromSync so observers can tell replicated
// mutations from local ones.
func (s *boltStore) PutFromSync(ctx context.Context, doc types.Document) (types.Document, error) {
	if doc.ID() == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "store.putFromSync",
			"synced document has no id")
	}
	return s.put(ctx, doc, true)
}

func (s *boltStore) put(ctx context.Context, doc types.Document, fromSync bool) (types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stamped types.Document
	if fromSync {
		stamped = stampSync(doc, s.clock.next())
	} else {
		stamped = stampWrite(doc, s.clock.next())
	}
	id := stamped.ID()

	var prev types.Document
	err := s.update(ctx, func(tx *bolt.Tx) error {
		prev = s.readDoc(tx, id)

		if !stamped.Deleted() {
			for _, def := range s.readMeta(tx).Indexes {
				if !def.Unique {
					continue
				}
				key, ok := indexKey(stamped, def)
				if !ok {
					continue
				}
				ib := tx.Bucket(uidxBucket(s.name, def.Name))
				if ib == nil {
					continue
				}
				if owner := ib.Get([]byte(key)); owner != nil && string(owner) != id {
					return errdefs.New(errdefs.ErrConstraintViolation, "store.put",
						"unique index %q violated by document %q", def.Name, id)
				}
			}
		}

		data, err := json.Marshal(stamped)
		if err != nil {
			return errdefs.Wrap(errdefs.ErrInvalidArgument, "store.put", err)
		}
		if err := tx.Bucket(docBucket(s.name)).Put([]byte(id), data); err != nil {
			return err
		}
		return s.reindexTx(tx, id, prev, stamped)
	})
	if err != nil {
		return nil, err
	}

	op := types.OpUpdate
	if prev == nil {
		op = types.OpInsert
	}
	s.emit(ctx, types.ChangeEvent{
		Operation:  op,
		DocumentID: id,
		Document:   stamped.Clone(),
		Previous:   prev,
		FromSync:   fromSync,
	})
	return stamped, nil
}

func (s *boltStore) BulkPut(ctx context.Context, docs []types.Document) ([]types.Document, error) {
	out := make([]types.Document, 0, len(docs))
	err := s.adapter.Transaction(ctx, []string{s.name}, TxReadWrite, func(ctx context.Context) error {
		for _, doc := range docs {
			stored, err := s.Put(ctx, doc)
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *boltStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var prev types.Document
	err := s.update(ctx, func(tx *bolt.Tx) error {
		prev = s.readDoc(tx, id)
		if prev == nil {
			return errdefs.New(errdefs.ErrNotFound, "store.delete", "document %q", id)
		}
		if prev.Deleted() {
			prev = nil // already a tombstone, nothing to do
			return nil
		}
		tomb := prev.Clone()
		tomb[types.FieldDeleted] = true
		tomb[types.FieldUpdatedAt] = s.clock.next()
		data, err := json.Marshal(tomb)
		if err != nil {
			return err
		}
		if err := tx.Bucket(docBucket(s.name)).Put([]byte(id), data); err != nil {
			return err
		}
		return s.reindexTx(tx, id, prev, nil)
	})
	if err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	s.emit(ctx, types.ChangeEvent{
		Operation:  types.OpDelete,
		DocumentID: id,
		Previous:   prev,
	})
	return nil
}

// Purge hard-deletes a document, tombstone included. Purging a live document
// emits a delete event first; purging a tombstone is silent.
func (s *boltStore) Purge(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var prev types.Document
	err := s.update(ctx, func(tx *bolt.Tx) error {
		prev = s.readDoc(tx, id)
		if prev == nil {
			return errdefs.New(errdefs.ErrNotFound, "store.purge", "document %q", id)
		}
		if !prev.Deleted() {
			if err := s.reindexTx(tx, id, prev, nil); err != nil {
				return err
			}
		}
		return tx.Bucket(docBucket(s.name)).Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	if !prev.Deleted() {
		s.emit(ctx, types.ChangeEvent{
			Operation:  types.OpDelete,
			DocumentID: id,
			Previous:   prev,
		})
	}
	return nil
}

func (s *boltStore) Query(ctx context.Context, spec types.QuerySpec) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	return query.Apply(spec, candidates)
}

func (s *boltStore) Count(spec types.QuerySpec) (int, error) {
	if err := query.Validate(spec.Filter); err != nil {
		return 0, err
	}
	candidates, err := s.GetAll()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range candidates {
		if query.Matches(doc, spec.Filter) {
			n++
		}
	}
	return n, nil
}

func (s *boltStore) CreateIndex(def types.IndexDefinition) error {
	if len(def.Fields) == 0 {
		return errdefs.New(errdefs.ErrInvalidArgument, "store.createIndex",
			"index needs at least one field")
	}
	def = def.Normalize()

	return s.adapter.db.Update(func(tx *bolt.Tx) error {
		if def.Unique {
			ib, err := tx.CreateBucketIfNotExists(uidxBucket(s.name, def.Name))
			if err != nil {
				return err
			}
			b := tx.Bucket(docBucket(s.name))
			err = b.ForEach(func(k, v []byte) error {
				var doc types.Document
				if err := json.Unmarshal(v, &doc); err != nil {
					return err
				}
				if doc.Deleted() {
					return nil
				}
				key, indexed := indexKey(doc, def)
				if !indexed {
					return nil
				}
				if owner := ib.Get([]byte(key)); owner != nil {
					return errdefs.New(errdefs.ErrConstraintViolation, "store.createIndex",
						"unique index %q: documents %q and %q share a key",
						def.Name, owner, doc.ID())
				}
				return ib.Put([]byte(key), []byte(doc.ID()))
			})
			if err != nil {
				return err
			}
		}
		return s.putMeta(tx, func(m *storeMeta) {
			for i, existing := range m.Indexes {
				if existing.Name == def.Name {
					m.Indexes[i] = def
					return
				}
			}
			m.Indexes = append(m.Indexes, def)
		})
	})
}

func (s *boltStore) DropIndex(name string) error {
	found := false
	err := s.adapter.db.Update(func(tx *bolt.Tx) error {
		if err := s.putMeta(tx, func(m *storeMeta) {
			for i, def := range m.Indexes {
				if def.Name == name {
					m.Indexes = append(m.Indexes[:i], m.Indexes[i+1:]...)
					found = true
					return
				}
			}
		}); err != nil {
			return err
		}
		if err := tx.DeleteBucket(uidxBucket(s.name, name)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return errdefs.New(errdefs.ErrNotFound, "store.dropIndex", "index %q", name)
	}
	return nil
}

func (s *boltStore) Indexes() []types.IndexDefinition {
	return s.indexList()
}

func (s *boltStore) indexList() []types.IndexDefinition {
	var defs []types.IndexDefinition
	s.adapter.db.View(func(tx *bolt.Tx) error {
		m := s.readMeta(tx)
		defs = m.Indexes
		return nil
	})
	return defs
}

func (s *boltStore) Changes() *events.Broker[types.ChangeEvent] {
	return s.broker
}

func (s *boltStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var live []types.Document
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(docBucket(s.name))
		if err := b.ForEach(func(k, v []byte) error {
			var doc types.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			if !doc.Deleted() {
				live = append(live, doc)
			}
			return nil
		}); err != nil {
			return err
		}
		if err := tx.DeleteBucket(docBucket(s.name)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(docBucket(s.name)); err != nil {
			return err
		}
		for _, def := range s.readMeta(tx).Indexes {
			if !def.Unique {
				continue
			}
			if err := tx.DeleteBucket(uidxBucket(s.name, def.Name)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(uidxBucket(s.name, def.Name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errdefs.Wrap(errdefs.ErrTransient, "store.clear", err)
	}
	for _, doc := range live {
		s.emit(ctx, types.ChangeEvent{
			Operation:  types.OpDelete,
			DocumentID: doc.ID(),
			Previous:   doc,
		})
	}
	return nil
}

func (s *boltStore) readMeta(tx *bolt.Tx) storeMeta {
	var m storeMeta
	meta := tx.Bucket(bucketStores)
	if meta == nil {
		return m
	}
	data := meta.Get([]byte(s.name))
	if data == nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

func (s *boltStore) putMeta(tx *bolt.Tx, mutate func(*storeMeta)) error {
	m := s.readMeta(tx)
	mutate(&m)
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketStores).Put([]byte(s.name), data)
}

// reindexTx moves a document's unique-index keys from prev to next inside the
// given transaction. A nil next (delete) only removes.
func (s *boltStore) reindexTx(tx *bolt.Tx, id string, prev, next types.Document) error {
	for _, def := range s.readMeta(tx).Indexes {
		if !def.Unique {
			continue
		}
		ib := tx.Bucket(uidxBucket(s.name, def.Name))
		if ib == nil {
			continue
		}
		if prev != nil && !prev.Deleted() {
			if key, ok := indexKey(prev, def); ok {
				if string(ib.Get([]byte(key))) == id {
					if err := ib.Delete([]byte(key)); err != nil {
						return err
					}
				}
			}
		}
		if next != nil && !next.Deleted() {
			if key, ok := indexKey(next, def); ok {
				if err := ib.Put([]byte(key), []byte(id)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
