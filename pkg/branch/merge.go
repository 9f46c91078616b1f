package branch

import (
	"context"
	"strings"
	"time"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/query"
	"github.com/josedab/pocket-go/pkg/types"
)

// Strategy selects the merge algorithm.
type Strategy string

const (
	// StrategyFastForward applies every source document over the target.
	StrategyFastForward Strategy = "fast-forward"
	// StrategyThreeWay reconciles against the source's creation snapshot,
	// falling back to field-level merging when both sides changed.
	StrategyThreeWay Strategy = "three-way"
)

// Conflict is one field both sides changed differently from the base. A
// Field of "" marks a document-level conflict (deleted on one side, modified
// on the other).
type Conflict struct {
	Collection string
	ID         string
	Field      string
	Base       any
	Ours       any
	Theirs     any
}

// Resolution supplies the value a caller chose for one conflict.
type Resolution struct {
	Collection string
	ID         string
	Field      string
	Value      any
}

// Resolver maps unresolved conflicts to resolutions. Conflicts without a
// matching resolution stay unresolved.
type Resolver func([]Conflict) []Resolution

// MergeOptions configures Merge.
type MergeOptions struct {
	Strategy         Strategy
	ResolveConflicts Resolver
}

// MergeResult reports a merge outcome. Success is true iff no unresolved
// conflicts remain.
type MergeResult struct {
	Strategy        Strategy
	Success         bool
	Conflicts       []Conflict
	MergedDocuments int
	Duration        time.Duration
}

// DiffEntry identifies one changed document between two branches.
type DiffEntry struct {
	Collection string
	ID         string
}

// DiffResult is the content diff of the current branch against a target.
type DiffResult struct {
	Added    []DiffEntry
	Modified []DiffEntry
	Deleted  []DiffEntry
}

// Empty reports whether the diff carries no change.
func (d DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Diff compares the current branch's data against target by content: Added
// exists only here, Deleted only in the target, Modified in both with
// different content.
func (m *Manager) Diff(target string) (DiffResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	theirs, ok := m.data[target]
	if !ok {
		return DiffResult{}, errdefs.New(errdefs.ErrNotFound, "branch.diff",
			"branch %q", target)
	}
	return diffData(m.data[m.current], theirs), nil
}

func diffData(ours, theirs Data) DiffResult {
	var out DiffResult
	for coll, docs := range ours {
		for id, doc := range docs {
			other, ok := theirs[coll][id]
			if !ok {
				out.Added = append(out.Added, DiffEntry{coll, id})
			} else if !contentEqual(doc, other) {
				out.Modified = append(out.Modified, DiffEntry{coll, id})
			}
		}
	}
	for coll, docs := range theirs {
		for id := range docs {
			if _, ok := ours[coll][id]; !ok {
				out.Deleted = append(out.Deleted, DiffEntry{coll, id})
			}
		}
	}
	return out
}

// contentEqual compares documents ignoring the volatile bookkeeping fields
// (_rev, _updatedAt): two branches that wrote identical content merge clean.
func contentEqual(a, b types.Document) bool {
	return query.Equal(contentOf(a), contentOf(b))
}

func contentOf(doc types.Document) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == types.FieldRev || k == types.FieldUpdatedAt {
			continue
		}
		out[k] = v
	}
	return out
}

// Merge merges the source branch into the current one. Cancelling ctx before
// the commit point leaves the current branch untouched.
func (m *Manager) Merge(ctx context.Context, source string, opts MergeOptions) (*MergeResult, error) {
	start := time.Now()
	if opts.Strategy == "" {
		opts.Strategy = StrategyThreeWay
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	srcBranch, ok := m.branches[source]
	if !ok {
		return nil, errdefs.New(errdefs.ErrNotFound, "branch.merge", "branch %q", source)
	}
	theirs := m.data[source]
	ours := m.data[m.current]

	var result *MergeResult
	var apply []mergeOp
	switch opts.Strategy {
	case StrategyFastForward:
		result, apply = m.fastForward(ours, theirs)
	case StrategyThreeWay:
		base := m.baseData(srcBranch)
		result, apply = m.threeWay(base, ours, theirs, opts.ResolveConflicts)
	default:
		return nil, errdefs.New(errdefs.ErrInvalidArgument, "branch.merge",
			"unknown strategy %q", opts.Strategy)
	}

	// Commit point: nothing above mutated branch state.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, op := range apply {
		docs, ok := ours[op.collection]
		if !ok {
			docs = make(map[string]types.Document)
			ours[op.collection] = docs
		}
		if op.delete {
			delete(docs, op.id)
		} else {
			docs[op.id] = op.doc
		}
	}
	m.branches[m.current].UpdatedAt = time.Now()

	result.Strategy = opts.Strategy
	result.Duration = time.Since(start)
	m.broker.Publish(Event{Type: EventBranchMerged, Branch: m.current,
		Details: map[string]any{
			"source":    source,
			"merged":    result.MergedDocuments,
			"conflicts": len(result.Conflicts),
		}})

	if !result.Success {
		return result, errdefs.New(errdefs.ErrConflict, "branch.merge",
			"%d unresolved conflicts merging %q into %q",
			len(result.Conflicts), source, m.current)
	}
	return result, nil
}

type mergeOp struct {
	collection string
	id         string
	doc        types.Document
	delete     bool
}

// baseData resolves the three-way base: the source branch's creation
// snapshot. A branch without one (main) merges against an empty base.
func (m *Manager) baseData(src *Branch) Data {
	snap, ok := m.byID[src.CreationSnapshotID]
	if !ok {
		return make(Data)
	}
	data := make(Data, len(snap.Collections))
	for coll, cs := range snap.Collections {
		data[coll] = cs.Docs
	}
	return data
}

func (m *Manager) fastForward(ours, theirs Data) (*MergeResult, []mergeOp) {
	diff := diffData(theirs, ours)
	if diff.Empty() {
		return &MergeResult{Success: true}, nil
	}
	var apply []mergeOp
	for coll, docs := range theirs {
		for id, doc := range docs {
			if existing, ok := ours[coll][id]; ok && contentEqual(existing, doc) {
				continue
			}
			apply = append(apply, mergeOp{collection: coll, id: id, doc: doc.Clone()})
		}
	}
	return &MergeResult{Success: true, MergedDocuments: len(apply)}, apply
}

// threeWay walks base ∪ ours ∪ theirs per (collection, id), keeping unchanged
// sides, taking the changed side, and falling back to field-level merging
// when both changed.
func (m *Manager) threeWay(base, ours, theirs Data, resolver Resolver) (*MergeResult, []mergeOp) {
	result := &MergeResult{}
	var apply []mergeOp

	for _, key := range unionKeys(base, ours, theirs) {
		coll, id := key[0], key[1]
		b := base[coll][id]
		o := ours[coll][id]
		t := theirs[coll][id]

		switch {
		case contentEqual(o, t):
			// Both sides agree (including both deleted).
		case contentEqual(o, b):
			// Only theirs changed: take theirs.
			if t == nil {
				apply = append(apply, mergeOp{collection: coll, id: id, delete: true})
			} else {
				apply = append(apply, mergeOp{collection: coll, id: id, doc: t.Clone()})
			}
			result.MergedDocuments++
		case contentEqual(t, b):
			// Only ours changed: keep ours.
		default:
			merged, conflicts := mergeFields(coll, id, b, o, t)
			if len(conflicts) > 0 && resolver != nil {
				conflicts = applyResolutions(merged, conflicts, resolver)
			}
			if len(conflicts) > 0 {
				result.Conflicts = append(result.Conflicts, conflicts...)
				continue
			}
			apply = append(apply, mergeOp{collection: coll, id: id, doc: merged})
			result.MergedDocuments++
		}
	}

	result.Success = len(result.Conflicts) == 0
	return result, apply
}

// mergeFields merges one document field by field: the side that changed from
// base wins; both changed differently is a conflict. A side that deleted the
// document entirely conflicts with the other side's modification.
func mergeFields(coll, id string, base, ours, theirs types.Document) (types.Document, []Conflict) {
	if ours == nil || theirs == nil {
		return nil, []Conflict{{
			Collection: coll, ID: id,
			Base:   anyDoc(base),
			Ours:   anyDoc(ours),
			Theirs: anyDoc(theirs),
		}}
	}

	bc, oc, tc := contentOf(base), contentOf(ours), contentOf(theirs)
	merged := ours.Clone()
	var conflicts []Conflict

	for field := range unionFields(bc, oc, tc) {
		if strings.HasPrefix(field, "_") && field != types.FieldID {
			continue
		}
		bv, ov, tv := bc[field], oc[field], tc[field]
		switch {
		case query.Equal(ov, tv):
		case query.Equal(ov, bv):
			if _, ok := tc[field]; !ok {
				delete(merged, field)
			} else {
				merged[field] = tv
			}
		case query.Equal(tv, bv):
			// Keep ours.
		default:
			conflicts = append(conflicts, Conflict{
				Collection: coll, ID: id, Field: field,
				Base: bv, Ours: ov, Theirs: tv,
			})
		}
	}
	return merged, conflicts
}

func applyResolutions(merged types.Document, conflicts []Conflict, resolver Resolver) []Conflict {
	resolutions := resolver(conflicts)
	resolved := make(map[string]Resolution, len(resolutions))
	for _, r := range resolutions {
		resolved[r.Collection+"\x00"+r.ID+"\x00"+r.Field] = r
	}
	var remaining []Conflict
	for _, c := range conflicts {
		r, ok := resolved[c.Collection+"\x00"+c.ID+"\x00"+c.Field]
		if !ok || merged == nil {
			remaining = append(remaining, c)
			continue
		}
		merged[c.Field] = r.Value
	}
	return remaining
}

func anyDoc(doc types.Document) any {
	if doc == nil {
		return nil
	}
	return doc
}

// unionKeys enumerates every (collection, id) present in any of the three
// data sets, deterministically deduplicated.
func unionKeys(sets ...Data) [][2]string {
	seen := make(map[[2]string]bool)
	var keys [][2]string
	for _, data := range sets {
		for coll, docs := range data {
			for id := range docs {
				key := [2]string{coll, id}
				if !seen[key] {
					seen[key] = true
					keys = append(keys, key)
				}
			}
		}
	}
	return keys
}

func unionFields(sets ...map[string]any) map[string]bool {
	fields := make(map[string]bool)
	for _, m := range sets {
		for k := range m {
			fields[k] = true
		}
	}
	return fields
}
