/*
Package branch implements pocket's branching and snapshot engine: a tree of
named branches over copy-on-write document graphs, point-in-time snapshots
with deterministic checksums, content diffs and merging.

# Branches

Branch data is collection → id → document. Creating a branch records its
parent, captures a creation snapshot of the parent's data and copies the
collection maps; document references stay shared until the branch writes.
Checkout is O(1). The main branch is the initial branch and is immortal; the
current branch cannot be deleted. A configurable limit bounds the number of
live branches.

# Snapshots

A snapshot captures, per collection, exact document contents plus a SHA-256
checksum over the canonically ordered contents, so two snapshots of equal
data always checksum equal. Retention is keep-all or a sliding window that
evicts the oldest snapshots first. Restore replaces the current branch's data
with a snapshot's contents.

# Merging

Merge(source) folds a source branch into the current one:

  - fast-forward: an empty diff is a no-op; otherwise every source document
    is applied over the target
  - three-way (default): each (collection, id) in base ∪ ours ∪ theirs is
    reconciled against the source's creation snapshot; when both sides
    changed, a field-level merge takes the side that changed from base and
    records a conflict where both changed differently

Content comparison ignores _rev and _updatedAt, so identical writes on both
sides merge clean. A caller-supplied resolver receives the unresolved
conflicts and returns chosen values; anything still unresolved fails the
merge with a conflict error and leaves those documents untouched. Re-merging
already-applied changes is a no-op.
*/
package branch
