/*
Package vector implements pocket's dense-vector index and filtered similarity
search.

# Indexes

Two Index implementations share one contract:

  - FlatIndex: exact brute-force scan. Supports pre-filtering — a predicate
    applied before distance computation.
  - HNSWIndex: approximate hierarchical small-world graph, parameterized by
    M, efConstruction and efSearch, with a seeded RNG so graph construction
    is deterministic and reproducible. Filtering is post-search.

Distances are cosine (with runtime normalization), euclidean, or negated
inner product; Similarity maps any of them into a [0, 1] score.

# Store

A Store keeps id → entry and the index consistent under every mutation.
Upsert takes a pre-computed vector or text routed through the configured
Embedder, with a FIFO-evicted text→vector cache; dimension mismatches are
rejected. UpsertBatch coalesces uncached texts into one EmbedBatch call when
the embedder supports it and records failures per id. Search over-fetches
2·limit candidates from the index, then applies the metadata filter, the
score floor and the limit.

# Collection bridge

Collection subscribes to a document collection's change stream and maintains
the store automatically: insert/update re-embeds the extracted text
(configured field concatenation or a custom Extractor) and upserts; delete
removes. IndexAll and ReindexAll bulk-(re)build; cancelling them keeps every
entry already upserted.
*/
package vector
