package vector

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/collection"
	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/log"
	"github.com/josedab/pocket-go/pkg/types"
)

// Extractor derives the text to embed from a document. An empty result means
// the document is not indexed.
type Extractor func(types.Document) string

// CollectionConfig configures the auto-indexing bridge between a document
// collection and a vector store.
type CollectionConfig struct {
	// Fields are concatenated (space-joined, in order) as the default text
	// extraction. Ignored when Extractor is set.
	Fields    []string
	Extractor Extractor
}

// FieldExtractor concatenates the string values of the given fields.
func FieldExtractor(fields []string) Extractor {
	return func(doc types.Document) string {
		var parts []string
		for _, field := range fields {
			if v, ok := doc.Get(field); ok {
				if s, ok := v.(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, " ")
	}
}

// Collection keeps a vector store in sync with a document collection by
// subscribing to its change stream: inserts and updates re-embed the
// extracted text and upsert; deletes remove the entry.
type Collection struct {
	coll    *collection.Collection
	store   *Store
	extract Extractor
	logger  zerolog.Logger

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewCollection wires a collection to a vector store and starts consuming its
// change stream. Call Close to detach.
func NewCollection(coll *collection.Collection, store *Store, cfg CollectionConfig) *Collection {
	extract := cfg.Extractor
	if extract == nil {
		extract = FieldExtractor(cfg.Fields)
	}
	vc := &Collection{
		coll:    coll,
		store:   store,
		extract: extract,
		logger:  log.WithComponent("vector").With().Str("collection", coll.Name()).Logger(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	// Subscribe before returning so no change made after NewCollection is missed.
	sub := coll.Changes().Subscribe()
	go vc.consume(sub)
	return vc
}

func (vc *Collection) consume(sub events.Subscriber[types.ChangeEvent]) {
	defer close(vc.done)
	defer vc.coll.Changes().Unsubscribe(sub)

	for {
		select {
		case <-vc.stopCh:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			vc.handle(ev)
		}
	}
}

func (vc *Collection) handle(ev types.ChangeEvent) {
	ctx := context.Background()
	switch ev.Operation {
	case types.OpDelete:
		if err := vc.store.Delete(ctx, ev.DocumentID); err != nil && !errdefs.IsNotFound(err) {
			vc.logger.Error().Err(err).Str("id", ev.DocumentID).Msg("vector remove failed")
		}
	case types.OpInsert, types.OpUpdate:
		if err := vc.indexDocument(ctx, ev.Document); err != nil {
			vc.logger.Error().Err(err).Str("id", ev.DocumentID).Msg("vector upsert failed")
		}
	}
}

// indexDocument embeds and upserts one document; documents with no extracted
// text are removed from the store instead.
func (vc *Collection) indexDocument(ctx context.Context, doc types.Document) error {
	if doc == nil {
		return nil
	}
	id := doc.ID()
	text := vc.extract(doc)
	if text == "" {
		if err := vc.store.Delete(ctx, id); err != nil && !errdefs.IsNotFound(err) {
			return err
		}
		return nil
	}
	_, err := vc.store.Upsert(ctx, id, UpsertInput{
		Text:     text,
		Metadata: metadataOf(doc),
	})
	return err
}

// metadataOf keeps the user fields as search metadata; reserved fields stay
// out except the id.
func metadataOf(doc types.Document) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if strings.HasPrefix(k, "_") && k != types.FieldID {
			continue
		}
		out[k] = v
	}
	return out
}

// IndexAll indexes every live document with non-empty extracted text.
// Cancellation between documents leaves all successfully upserted entries in
// place. Returns the number of documents indexed.
func (vc *Collection) IndexAll(ctx context.Context) (int, error) {
	docs, err := vc.coll.GetAll()
	if err != nil {
		return 0, err
	}
	indexed := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if vc.extract(doc) == "" {
			continue
		}
		if err := vc.indexDocument(ctx, doc); err != nil {
			return indexed, err
		}
		indexed++
	}
	return indexed, nil
}

// ReindexAll clears the store and runs IndexAll.
func (vc *Collection) ReindexAll(ctx context.Context) (int, error) {
	vc.store.Clear()
	return vc.IndexAll(ctx)
}

// Search finds documents similar to the query text.
func (vc *Collection) Search(ctx context.Context, text string, limit int, filter map[string]any) ([]Match, error) {
	return vc.store.Search(ctx, SearchQuery{Text: text, Limit: limit, Filter: filter})
}

// SearchByVector finds documents near a pre-computed vector.
func (vc *Collection) SearchByVector(ctx context.Context, vec []float32, limit int, filter map[string]any) ([]Match, error) {
	return vc.store.Search(ctx, SearchQuery{Vector: vec, Limit: limit, Filter: filter})
}

// FindSimilar finds the documents nearest to an already-indexed one,
// excluding it from the results.
func (vc *Collection) FindSimilar(ctx context.Context, id string, limit int) ([]Match, error) {
	entry, err := vc.store.Get(id)
	if err != nil {
		return nil, err
	}
	matches, err := vc.store.Search(ctx, SearchQuery{Vector: entry.Vector, Limit: limit + 1})
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, limit)
	for _, m := range matches {
		if m.ID == id {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// IndexedCount returns the number of entries currently indexed.
func (vc *Collection) IndexedCount() int {
	return vc.store.Len()
}

// Store exposes the underlying vector store.
func (vc *Collection) Store() *Store { return vc.store }

// Close detaches from the collection's change stream.
func (vc *Collection) Close() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.stopped {
		return
	}
	vc.stopped = true
	close(vc.stopCh)
	<-vc.done
}
