package db

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/branch"
	"github.com/josedab/pocket-go/pkg/collection"
	"github.com/josedab/pocket-go/pkg/config"
	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/log"
	"github.com/josedab/pocket-go/pkg/metrics"
	"github.com/josedab/pocket-go/pkg/storage"
	"github.com/josedab/pocket-go/pkg/types"
	"github.com/josedab/pocket-go/pkg/vector"
	"github.com/josedab/pocket-go/pkg/views"
)

// Database is the composition root: one storage adapter, the collection
// registry, the view manager, the branch manager and any vector collections,
// wired together so every collection's change stream feeds the view engine.
type Database struct {
	mu          sync.Mutex
	cfg         config.Config
	adapter     storage.Adapter
	collections map[string]*collection.Collection
	pumps       map[string]func()
	views       *views.Manager
	branches    *branch.Manager
	vectors     map[string]*vector.Collection
	logger      zerolog.Logger
	closed      bool
}

// Open initializes an adapter from the configuration and assembles a
// database around it.
func Open(ctx context.Context, cfg config.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var adapter storage.Adapter
	switch cfg.Adapter {
	case "bolt":
		adapter = storage.NewBoltAdapter()
	default:
		adapter = storage.NewMemoryAdapter()
	}
	err := adapter.Initialize(ctx, storage.Config{
		Path:        cfg.Path,
		EventBuffer: cfg.Events.Buffer,
		Overflow:    overflowPolicy(cfg.Events.Overflow),
	})
	if err != nil {
		return nil, err
	}

	d := &Database{
		cfg:         cfg,
		adapter:     adapter,
		collections: make(map[string]*collection.Collection),
		pumps:       make(map[string]func()),
		vectors:     make(map[string]*vector.Collection),
		branches: branch.NewManager(branch.Config{
			MaxBranches:       cfg.Branching.MaxBranches,
			SnapshotRetention: cfg.Branching.SnapshotRetention,
		}),
		logger: log.WithComponent("db"),
	}
	d.views = views.NewManager(func(name string) ([]types.Document, error) {
		store, err := adapter.Store(name)
		if err != nil {
			return nil, err
		}
		return store.GetAll()
	})
	return d, nil
}

func overflowPolicy(name string) events.OverflowPolicy {
	switch name {
	case "drop-newest":
		return events.DropNewest
	case "block":
		return events.Block
	default:
		return events.DropOldest
	}
}

// Collection returns the named collection, creating it on first use and
// attaching its change stream to the view engine.
func (d *Database) Collection(name string, opts collection.Options) (*collection.Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errdefs.New(errdefs.ErrNotInitialized, "db.collection",
			"database is closed")
	}
	if coll, ok := d.collections[name]; ok {
		return coll, nil
	}

	store, err := d.adapter.Store(name)
	if err != nil {
		return nil, err
	}
	coll := collection.New(name, store, opts)
	d.collections[name] = coll
	d.pumps[name] = d.startPump(name, store)
	return coll, nil
}

// startPump routes one store's change stream into the view manager and the
// change-event counters. Returns a stop function.
func (d *Database) startPump(name string, store storage.DocumentStore) func() {
	sub := store.Changes().Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			metrics.ChangeEventsTotal.WithLabelValues(name, string(ev.Operation)).Inc()
			d.views.ProcessChange(name, ev)
		}
	}()
	return func() {
		store.Changes().Unsubscribe(sub)
		<-done
	}
}

// Views returns the view manager.
func (d *Database) Views() *views.Manager { return d.views }

// Branches returns the branch manager.
func (d *Database) Branches() *branch.Manager { return d.branches }

// Adapter returns the underlying storage adapter.
func (d *Database) Adapter() storage.Adapter { return d.adapter }

// Transaction runs fn atomically across the named collections, subject to
// the adapter's isolation.
func (d *Database) Transaction(ctx context.Context, collections []string, fn func(ctx context.Context) error) error {
	return d.adapter.Transaction(ctx, collections, storage.TxReadWrite, fn)
}

// VectorCollection attaches a vector store to a collection, auto-indexing it
// from the collection's change stream.
func (d *Database) VectorCollection(name string, storeCfg vector.StoreConfig, colCfg vector.CollectionConfig) (*vector.Collection, error) {
	d.mu.Lock()
	if vc, ok := d.vectors[name]; ok {
		d.mu.Unlock()
		return vc, nil
	}
	d.mu.Unlock()

	if storeCfg.Dimensions == 0 {
		storeCfg.Dimensions = d.cfg.Vector.Dimensions
	}
	if storeCfg.Metric == "" {
		storeCfg.Metric = vector.Metric(d.cfg.Vector.Metric)
	}
	if storeCfg.Index == "" {
		storeCfg.Index = vector.IndexKind(d.cfg.Vector.Index)
	}
	if storeCfg.CacheSize == 0 {
		storeCfg.CacheSize = d.cfg.Vector.CacheSize
	}

	coll, err := d.Collection(name, collection.Options{})
	if err != nil {
		return nil, err
	}
	store, err := vector.NewStore(storeCfg)
	if err != nil {
		return nil, err
	}
	vc := vector.NewCollection(coll, store, colCfg)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.vectors[name] = vc
	return vc, nil
}

// Stats aggregates adapter, view and vector statistics and refreshes the
// exported gauges.
func (d *Database) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Stats{
		Adapter:  d.adapter.Stats(),
		Branches: len(d.branches.Branches()),
		Views:    len(d.views.ListViews()),
	}
	for name, coll := range d.collections {
		if n, err := coll.Count(types.QuerySpec{}); err == nil {
			st.Collections = append(st.Collections, CollectionStats{Name: name, Documents: n})
			metrics.DocumentsTotal.WithLabelValues(name).Set(float64(n))
		}
	}
	for name, vc := range d.vectors {
		st.Vectors = append(st.Vectors, VectorStats{Name: name, Indexed: vc.IndexedCount()})
		metrics.VectorEntriesTotal.WithLabelValues(name).Set(float64(vc.IndexedCount()))
	}
	metrics.TombstonesTotal.Set(float64(st.Adapter.Tombstones))
	metrics.ViewsTotal.Set(float64(st.Views))
	metrics.BranchesTotal.Set(float64(st.Branches))
	metrics.SnapshotsTotal.Set(float64(len(d.branches.Snapshots())))
	return st
}

// Stats is the aggregated database summary.
type Stats struct {
	Adapter     storage.Stats
	Collections []CollectionStats
	Vectors     []VectorStats
	Views       int
	Branches    int
}

// CollectionStats is one collection's summary.
type CollectionStats struct {
	Name      string
	Documents int
}

// VectorStats is one vector collection's summary.
type VectorStats struct {
	Name    string
	Indexed int
}

// Close tears the database down: pumps detach, vector bridges stop, views
// dispose, the adapter closes.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	for _, vc := range d.vectors {
		vc.Close()
	}
	for _, stop := range d.pumps {
		stop()
	}
	d.views.Dispose()
	return d.adapter.Close()
}
