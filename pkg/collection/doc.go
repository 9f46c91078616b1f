/*
Package collection provides the public façade over a document store.

A Collection adds what the raw store does not know about: an optional
validator (invalid writes fail before any event is emitted), the timestamps
policy (_createdAt set on first insert, carried across updates), the
insert/update/upsert distinction, explicit hard-delete via Purge, and live
queries.

Delete is always a soft delete. A soft-deleted document is invisible to reads
and queries but still occupies its id; Insert over a tombstone revives the id.

Sync is the replication entry point: a document already validated and stamped
by its origin replica is applied as-is — no validator, no timestamps policy —
and its change event carries FromSync so views and observers can distinguish
replicated mutations from local ones.

# Live queries

Watch subscribes to the store's change stream and re-evaluates the query spec
whenever an event could affect the result, pushing the fresh result slice to
the returned channel. Events where neither the old nor the new document
matches the filter are skipped. Consumers that fall behind receive only the
newest snapshot.
*/
package collection
