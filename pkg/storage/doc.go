/*
Package storage defines pocket's pluggable persistence layer: the Adapter and
DocumentStore contracts plus the two built-in implementations.

# Adapters

An Adapter owns a set of named document stores and provides transactions
across them. Implementations are interchangeable:

  - MemoryAdapter: mutex-guarded maps, the reference implementation and the
    default for tests. Transactions roll back via map snapshots.
  - BoltAdapter: a single bbolt file, one bucket per store. Transactions map
    to one bbolt update transaction; change events raised inside it are
    published only after commit.

Nested Transaction calls flatten — the inner call executes inline and the
outer transaction is authoritative.

# Document stores

A DocumentStore is a per-collection map from id to a versioned document.
Writes stamp _updatedAt (monotonic per store) and a fresh _rev. Delete is a
soft delete: the tombstone stays until Clear or Purge, and reads skip it.
Each Put, PutFromSync and Delete of a live document publishes exactly one
change event, and Clear publishes one delete event per live document; Purge
of a tombstone and Delete of an already-deleted id publish none. Events carry
a per-store, strictly increasing, gap-free sequence; subscribers observe
events in sequence order and receive defensive copies.

Secondary indexes are declared with CreateIndex. Unique indexes are enforced
on every write (ConstraintViolation on collision); sparse indexes skip
documents missing an indexed field.

Both adapters also implement PutFromSync, the replication write path: a
document re-applied from another peer keeps the origin's revision, timestamps
and tombstone flag, and its change event is flagged FromSync so observers can
tell replicated mutations from local ones.

# Persistence guarantees

The bolt adapter preserves across close/reopen: all live and soft-deleted
documents, their revisions and timestamps, and all index definitions. The
change stream does not survive restart; the sequence counter restarts per
process.
*/
package storage
