/*
Package db assembles a pocket database from its engines.

Open builds the configured storage adapter (memory or bolt), the view
manager, and the branch manager. Collection hands out façades over the
adapter's document stores and pumps each store's change stream into the view
engine, so materialized views track every collection automatically.
VectorCollection attaches an auto-indexing vector store to a collection the
same way.

The database is the only owner of the wiring: closing it detaches the change
pumps, stops the vector bridges, disposes the views and closes the adapter.
*/
package db
