/*
Package views implements pocket's incremental materialized-view engine.

Two view flavors are maintained from a collection's change stream without
re-running the query:

# Projected views

A projected view caches the result of filter + sort + limit (+ projection) as
an ordered document slice mirrored by an id set. Each change event resolves to
one of four cases — ignore, insert, remove, or modify — and yields a delta of
added/removed/modified documents. Inserts binary-search their sort position;
a new document that ties on every sort key lands after the existing ties.
When the view is full (limit reached), a candidate ordering at or past the
current last entry is dropped, otherwise it displaces the last entry.

A view that loses a member below its limit stays underfull until a matching
document arrives; it does not re-query the store to backfill.

# Grouped views

A grouped (computed) view keeps one row of aggregates per distinct group key:
count, sum and avg as running accumulators; min and max exact, computed over
the group's live members each time a row is built; first and last by
insertion order. A group-key change is handled as delete-from-old +
insert-into-new; empty groups disappear from the results. Events that change
no aggregated value produce no view update.

# Manager

The Manager routes change events to views by collection name only, publishes
view:created / view:updated / view:dropped events, and answers a failed delta
application with a full rebuild from the configured Source so a view's
invariants can never be corrupted by one bad event.
*/
package views
