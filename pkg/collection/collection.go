package collection

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/log"
	"github.com/josedab/pocket-go/pkg/storage"
	"github.com/josedab/pocket-go/pkg/types"
)

// Validator rejects documents before they reach the store. A non-nil error
// fails the write with a ConstraintViolation; no change event is emitted.
type Validator func(types.Document) error

// Options configures a collection.
type Options struct {
	// Timestamps maintains _createdAt on first insert and carries it across
	// updates (_updatedAt is always stamped by the store).
	Timestamps bool
	Validator  Validator
}

// Purger is the optional hard-delete extension of a document store. Both
// built-in adapters implement it.
type Purger interface {
	Purge(ctx context.Context, id string) error
}

// SyncWriter is the optional replication extension of a document store: a
// write that re-applies another replica's already-validated state, flagged
// FromSync on the change stream. Both built-in adapters implement it.
type SyncWriter interface {
	PutFromSync(ctx context.Context, doc types.Document) (types.Document, error)
}

// Collection is the public façade over a document store: validation,
// timestamps, soft-delete policy and live queries.
type Collection struct {
	name   string
	store  storage.DocumentStore
	opts   Options
	logger zerolog.Logger
}

// New wraps a document store.
func New(name string, store storage.DocumentStore, opts Options) *Collection {
	return &Collection{
		name:   name,
		store:  store,
		opts:   opts,
		logger: log.WithCollection(name),
	}
}

func (c *Collection) Name() string                  { return c.name }
func (c *Collection) Store() storage.DocumentStore  { return c.store }

func (c *Collection) Get(id string) (types.Document, error) {
	return c.store.Get(id)
}

func (c *Collection) GetMany(ids []string) ([]types.Document, error) {
	return c.store.GetMany(ids)
}

func (c *Collection) GetAll() ([]types.Document, error) {
	return c.store.GetAll()
}

// Insert writes a new document. Writing an id that already exists (and is not
// soft-deleted) is a constraint violation.
func (c *Collection) Insert(ctx context.Context, doc types.Document) (types.Document, error) {
	if err := c.validate(doc); err != nil {
		return nil, err
	}
	if id := doc.ID(); id != "" {
		existing, err := c.store.Get(id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, errdefs.New(errdefs.ErrConstraintViolation, "collection.insert",
				"document %q already exists", id)
		}
	}
	return c.store.Put(ctx, c.stampCreated(doc, nil))
}

// Update replaces an existing document; missing ids fail with NotFound.
func (c *Collection) Update(ctx context.Context, doc types.Document) (types.Document, error) {
	if err := c.validate(doc); err != nil {
		return nil, err
	}
	id := doc.ID()
	if id == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "collection.update",
			"document has no id")
	}
	existing, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errdefs.New(errdefs.ErrNotFound, "collection.update",
			"document %q", id)
	}
	return c.store.Put(ctx, c.stampCreated(doc, existing))
}

// Upsert inserts or replaces.
func (c *Collection) Upsert(ctx context.Context, doc types.Document) (types.Document, error) {
	if err := c.validate(doc); err != nil {
		return nil, err
	}
	var existing types.Document
	if id := doc.ID(); id != "" {
		existing, _ = c.store.Get(id)
	}
	return c.store.Put(ctx, c.stampCreated(doc, existing))
}

// Sync re-applies a document replicated from another peer. The origin
// already validated and stamped it, so the validator and the timestamps
// policy are bypassed, the origin's revision and timestamps are preserved,
// and the resulting change event carries FromSync.
func (c *Collection) Sync(ctx context.Context, doc types.Document) (types.Document, error) {
	if doc.ID() == "" {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "collection.sync",
			"synced document has no id")
	}
	sw, ok := c.store.(SyncWriter)
	if !ok {
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "collection.sync",
			"store %q does not support sync writes", c.name)
	}
	return sw.PutFromSync(ctx, doc)
}

// Delete soft-deletes; the tombstone remains until Purge or Clear.
func (c *Collection) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, id)
}

// Purge hard-deletes one document, tombstone included.
func (c *Collection) Purge(ctx context.Context, id string) error {
	p, ok := c.store.(Purger)
	if !ok {
		return errdefs.New(errdefs.ErrInvalidArgument, "collection.purge",
			"store %q does not support purge", c.name)
	}
	return p.Purge(ctx, id)
}

// Find runs a declarative query.
func (c *Collection) Find(ctx context.Context, spec types.QuerySpec) ([]types.Document, error) {
	return c.store.Query(ctx, spec)
}

// Count returns the cardinality under the same filter semantics as Find.
func (c *Collection) Count(spec types.QuerySpec) (int, error) {
	return c.store.Count(spec)
}

func (c *Collection) CreateIndex(def types.IndexDefinition) error {
	return c.store.CreateIndex(def)
}

func (c *Collection) DropIndex(name string) error {
	return c.store.DropIndex(name)
}

func (c *Collection) Indexes() []types.IndexDefinition {
	return c.store.Indexes()
}

// Changes exposes the store's change-event broker.
func (c *Collection) Changes() *events.Broker[types.ChangeEvent] {
	return c.store.Changes()
}

func (c *Collection) validate(doc types.Document) error {
	if c.opts.Validator == nil {
		return nil
	}
	if err := c.opts.Validator(doc); err != nil {
		return errdefs.Wrap(errdefs.ErrConstraintViolation, "collection.validate", err)
	}
	return nil
}

// stampCreated applies the timestamps policy: _createdAt set once, carried
// forward on subsequent writes.
func (c *Collection) stampCreated(doc types.Document, prev types.Document) types.Document {
	if !c.opts.Timestamps {
		return doc
	}
	out := doc.Clone()
	if prev != nil {
		if created := prev.CreatedAt(); created != 0 {
			out[types.FieldCreatedAt] = created
			return out
		}
	}
	if out.CreatedAt() == 0 {
		out[types.FieldCreatedAt] = nowMillis()
	}
	return out
}
