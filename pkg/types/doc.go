/*
Package types defines the core data structures used throughout pocket.

This package contains the fundamental types that represent pocket's domain
model: documents, change events, query specifications and index definitions.
These types are shared by the storage adapters, the collection façade, the
query pipeline, the materialized-view engine and the vector subsystem.

# Architecture

The types package is the foundation of pocket's data model. It defines:

  - Document: the schemaless record stored in a collection
  - ChangeEvent: one insert/update/delete observed on a store's change stream
  - QuerySpec: declarative filter + sort + skip/limit + projection
  - IndexDefinition: secondary index shape (fields, direction, uniqueness)
  - VClock: vector clocks carried by documents for sync/merge

# Documents

A Document is a plain map[string]any. Reserved fields carry the engine's
bookkeeping and are prefixed with an underscore:

	_id         unique id within the collection
	_rev        opaque revision token, regenerated on every write
	_deleted    soft-delete tombstone flag
	_createdAt  unix-millisecond creation time (timestamps policy)
	_updatedAt  unix-millisecond last-write time, set by the store
	_vclock     vector clock for replication/merge

Everything else is user data. Nested values are maps and slices; field access
throughout the engine uses dotted paths ("address.city").

# Usage Example

	doc := types.Document{"_id": "u1", "name": "Alice", "score": 42}
	v, ok := doc.Get("address.city")
	clone := doc.Clone() // deep copy, safe to hand to subscribers

# Design Principles

  - Documents stay dynamically shaped; no per-collection Go structs
  - Reserved fields are accessed through helpers, never through string literals
  - Deep copies at trust boundaries: observers never share memory with stores
*/
package types
