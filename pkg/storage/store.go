package storage

import (
	"context"

	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/types"
)

// TxMode selects the isolation requested from Transaction.
type TxMode string

const (
	TxReadOnly  TxMode = "read"
	TxReadWrite TxMode = "write"
)

// Config holds adapter configuration.
type Config struct {
	// Path is the database file location (persistent adapters only).
	Path string
	// EventBuffer sizes each change-stream subscriber queue.
	EventBuffer int
	// Overflow is the change-stream policy for slow subscribers.
	Overflow events.OverflowPolicy
}

// Stats summarizes an adapter's state.
type Stats struct {
	Adapter    string
	Stores     int
	Documents  int64 // live (non-deleted) documents
	Tombstones int64
	Events     uint64 // change events published since open
}

// Adapter is the pluggable persistence contract. Implementations are
// interchangeable: the in-memory adapter is the reference, the bolt adapter
// persists across close/reopen.
type Adapter interface {
	Initialize(ctx context.Context, cfg Config) error
	Close() error
	IsAvailable() bool

	// Store returns the named document store, creating it on first use.
	Store(name string) (DocumentStore, error)
	HasStore(name string) bool
	ListStores() []string
	DeleteStore(name string) error

	// Transaction runs fn under the adapter's isolation. Nested calls
	// flatten: an inner Transaction executes inline in the outer one, and
	// the outer transaction is authoritative.
	Transaction(ctx context.Context, stores []string, mode TxMode, fn func(ctx context.Context) error) error

	Stats() Stats
}

// DocumentStore is a per-collection versioned document map with secondary
// indexes and a change stream.
//
// Read operations never return soft-deleted documents; Get yields (nil, nil)
// for a missing or deleted id. Put assigns _updatedAt and a fresh _rev, and
// publishes exactly one change event with a per-store, strictly increasing,
// gap-free sequence. Delete is a soft delete: the tombstone remains until
// Clear.
type DocumentStore interface {
	Name() string

	Get(id string) (types.Document, error)
	GetMany(ids []string) ([]types.Document, error)
	GetAll() ([]types.Document, error)

	Put(ctx context.Context, doc types.Document) (types.Document, error)
	BulkPut(ctx context.Context, docs []types.Document) ([]types.Document, error)
	Delete(ctx context.Context, id string) error

	Query(ctx context.Context, spec types.QuerySpec) ([]types.Document, error)
	Count(spec types.QuerySpec) (int, error)

	CreateIndex(def types.IndexDefinition) error
	DropIndex(name string) error
	Indexes() []types.IndexDefinition

	// Changes returns the store's change-event broker. Subscribers attached
	// before a Put returns observe that Put's event.
	Changes() *events.Broker[types.ChangeEvent]

	// Clear purges the store: one delete event per live document, tombstones
	// removed silently.
	Clear(ctx context.Context) error
}
