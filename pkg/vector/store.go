package vector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/log"
	"github.com/josedab/pocket-go/pkg/query"
	"github.com/josedab/pocket-go/pkg/types"
)

// Embedder maps text to a fixed-dimensional vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is the optional batching extension; UpsertBatch coalesces
// texts into one call when the configured embedder supports it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexKind selects the index structure of a store.
type IndexKind string

const (
	IndexFlat IndexKind = "flat"
	IndexHNSW IndexKind = "hnsw"
)

// Entry is one indexed vector with its metadata.
type Entry struct {
	ID        string
	Vector    []float32
	Metadata  map[string]any
	Text      string
	CreatedAt int64
	UpdatedAt int64
}

func (e *Entry) clone() *Entry {
	out := *e
	out.Vector = append([]float32(nil), e.Vector...)
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ChangeKind identifies a vector-store mutation.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeRemove ChangeKind = "remove"
)

// Change is one vector-store change event.
type Change struct {
	Kind ChangeKind
	ID   string
}

// StoreConfig configures a vector store.
type StoreConfig struct {
	Dimensions int
	Metric     Metric
	Index      IndexKind
	HNSW       HNSWConfig
	Embedder   Embedder
	// CacheSize caps the text→vector FIFO cache. Defaults to 1024.
	CacheSize int
}

// Stats summarizes a store.
type Stats struct {
	Entries    int
	Dimensions int
	Metric     Metric
	Index      IndexKind
	CacheSize  int
}

// Store maps ids to vector entries and keeps an index structure consistent
// with the entry map on every mutation.
type Store struct {
	mu      sync.RWMutex
	cfg     StoreConfig
	entries map[string]*Entry
	index   Index
	cache   *fifoCache
	broker  *events.Broker[Change]
	logger  zerolog.Logger
}

// NewStore creates a vector store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "vector.new",
			"dimensions must be positive")
	}
	if cfg.Metric == "" {
		cfg.Metric = Cosine
	}
	if !cfg.Metric.valid() {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "vector.new",
			"unknown metric %q", cfg.Metric)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}

	var idx Index
	switch cfg.Index {
	case IndexHNSW:
		idx = NewHNSWIndex(cfg.Metric, cfg.Dimensions, cfg.HNSW)
	case IndexFlat, "":
		cfg.Index = IndexFlat
		idx = NewFlatIndex(cfg.Metric, cfg.Dimensions)
	default:
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "vector.new",
			"unknown index kind %q", cfg.Index)
	}

	return &Store{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		index:   idx,
		cache:   newFIFOCache(cfg.CacheSize),
		broker:  events.NewBroker[Change](64, events.DropOldest),
		logger:  log.WithComponent("vector"),
	}, nil
}

// UpsertInput is the payload of an upsert: a pre-computed vector, or text to
// run through the configured embedder.
type UpsertInput struct {
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// Upsert inserts or replaces one entry. Text input is embedded (with FIFO
// caching by text); the vector must match the store's dimensions exactly.
func (s *Store) Upsert(ctx context.Context, id string, input UpsertInput) (*Entry, error) {
	if id == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "vector.upsert",
			"entry needs an id")
	}
	vec := input.Vector
	if vec == nil {
		if input.Text == "" {
			return nil, errdefs.New(errdefs.ErrInvalidArgument, "vector.upsert",
				"entry %q has neither vector nor text", id)
		}
		var err error
		vec, err = s.embed(ctx, input.Text)
		if err != nil {
			return nil, err
		}
	}
	if err := checkDimensions("vector.upsert", vec, s.cfg.Dimensions); err != nil {
		return nil, err
	}
	return s.apply(id, vec, input)
}

func (s *Store) apply(id string, vec []float32, input UpsertInput) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	prev, existed := s.entries[id]

	entry := &Entry{
		ID:        id,
		Vector:    append([]float32(nil), vec...),
		Metadata:  input.Metadata,
		Text:      input.Text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existed {
		entry.CreatedAt = prev.CreatedAt
		s.index.Remove(id)
	}
	if err := s.index.Add(id, vec); err != nil {
		// Keep map and index consistent: restore the previous vector.
		if existed {
			s.index.Add(id, prev.Vector)
		}
		return nil, err
	}
	s.entries[id] = entry

	kind := ChangeAdd
	if existed {
		kind = ChangeUpdate
	}
	s.broker.Publish(Change{Kind: kind, ID: id})
	return entry.clone(), nil
}

// embed resolves text through the FIFO cache, calling the embedder on miss.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.cfg.Embedder == nil {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "vector.embed",
			"store has no embedder configured")
	}
	if vec, ok := s.cache.get(text); ok {
		return vec, nil
	}
	vec, err := s.cfg.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrEmbedding, "vector.embed", err)
	}
	s.cache.put(text, vec)
	return vec, nil
}

// BatchItem is one element of an UpsertBatch call.
type BatchItem struct {
	ID    string
	Input UpsertInput
}

// BatchResult reports per-id outcomes of a batch upsert.
type BatchResult struct {
	Entries []*Entry
	Errors  map[string]error
}

// UpsertBatch upserts many entries. When the embedder supports batching, all
// uncached texts go through one EmbedBatch call; failures are recorded per id
// and never abort the rest of the batch.
func (s *Store) UpsertBatch(ctx context.Context, items []BatchItem) (*BatchResult, error) {
	result := &BatchResult{Errors: make(map[string]error)}

	vectors := make([][]float32, len(items))
	if be, ok := s.cfg.Embedder.(BatchEmbedder); ok {
		var texts []string
		var positions []int
		for i, item := range items {
			if item.Input.Vector != nil || item.Input.Text == "" {
				continue
			}
			if vec, hit := s.cache.get(item.Input.Text); hit {
				vectors[i] = vec
				continue
			}
			texts = append(texts, item.Input.Text)
			positions = append(positions, i)
		}
		if len(texts) > 0 {
			embedded, err := be.EmbedBatch(ctx, texts)
			if err != nil {
				wrapped := errdefs.Wrap(errdefs.ErrEmbedding, "vector.upsertBatch", err)
				for _, i := range positions {
					result.Errors[items[i].ID] = wrapped
				}
			} else {
				for j, i := range positions {
					vectors[i] = embedded[j]
					s.cache.put(items[i].Input.Text, embedded[j])
				}
			}
		}
	}

	for i, item := range items {
		if _, failed := result.Errors[item.ID]; failed {
			continue
		}
		input := item.Input
		if input.Vector == nil && vectors[i] != nil {
			input.Vector = vectors[i]
		}
		entry, err := s.Upsert(ctx, item.ID, input)
		if err != nil {
			result.Errors[item.ID] = err
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}

// Get returns one entry by id.
func (s *Store) Get(id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, errdefs.New(errdefs.ErrNotFound, "vector.get", "entry %q", id)
	}
	return entry.clone(), nil
}

// Delete removes an entry from the map and the index.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return errdefs.New(errdefs.ErrNotFound, "vector.delete", "entry %q", id)
	}
	delete(s.entries, id)
	s.index.Remove(id)
	s.broker.Publish(Change{Kind: ChangeRemove, ID: id})
	return nil
}

// SearchQuery is a similarity search: text (auto-embedded) or a pre-computed
// vector, plus optional metadata filter and score floor.
type SearchQuery struct {
	Text     string
	Vector   []float32
	Limit    int
	MinScore float64
	Filter   map[string]any
}

// Match is one search hit.
type Match struct {
	ID    string
	Score float64
	Entry *Entry
}

// Search asks the index for 2·limit nearest ids, then applies the metadata
// filter, MinScore and limit. The flat index evaluates the filter before
// scoring; HNSW filters the returned candidates.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]Match, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	vec := q.Vector
	if vec == nil {
		if q.Text == "" {
			return nil, errdefs.New(errdefs.ErrInvalidArgument, "vector.search",
				"search needs text or a vector")
		}
		var err error
		vec, err = s.embed(ctx, q.Text)
		if err != nil {
			return nil, err
		}
	}
	if err := checkDimensions("vector.search", vec, s.cfg.Dimensions); err != nil {
		return nil, err
	}
	if err := query.Validate(q.Filter); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var preFilter func(id string) bool
	if q.Filter != nil && s.cfg.Index == IndexFlat {
		preFilter = func(id string) bool { return s.matchesMetadata(id, q.Filter) }
	}

	candidates := s.index.Search(vec, 2*q.Limit, preFilter)

	matches := make([]Match, 0, q.Limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range candidates {
		entry, ok := s.entries[c.ID]
		if !ok {
			continue
		}
		if preFilter == nil && q.Filter != nil && !query.Matches(types.Document(entry.Metadata), q.Filter) {
			continue
		}
		score := Similarity(s.cfg.Metric, c.Distance)
		if score < q.MinScore {
			continue
		}
		matches = append(matches, Match{ID: c.ID, Score: score, Entry: entry.clone()})
		if len(matches) == q.Limit {
			break
		}
	}
	return matches, nil
}

func (s *Store) matchesMetadata(id string, filter map[string]any) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return false
	}
	return query.Matches(types.Document(entry.Metadata), filter)
}

// Len returns the number of indexed entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats summarizes the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Entries:    len(s.entries),
		Dimensions: s.cfg.Dimensions,
		Metric:     s.cfg.Metric,
		Index:      s.cfg.Index,
		CacheSize:  s.cache.len(),
	}
}

// Changes returns the store's change broker.
func (s *Store) Changes() *events.Broker[Change] { return s.broker }

// Clear drops every entry and resets the index.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		s.index.Remove(id)
		delete(s.entries, id)
	}
}

// fifoCache is a capped text→vector cache with first-in-first-out eviction.
type fifoCache struct {
	mu    sync.Mutex
	cap   int
	items map[string][]float32
	queue []string
}

func newFIFOCache(capacity int) *fifoCache {
	return &fifoCache{cap: capacity, items: make(map[string][]float32)}
}

func (c *fifoCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.items[key]
	return vec, ok
}

func (c *fifoCache) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; exists {
		c.items[key] = vec
		return
	}
	for len(c.items) >= c.cap && len(c.queue) > 0 {
		oldest := c.queue[0]
		c.queue = c.queue[1:]
		delete(c.items, oldest)
	}
	c.items[key] = vec
	c.queue = append(c.queue, key)
}

func (c *fifoCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
