package views

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/events"
	"github.com/josedab/pocket-go/pkg/log"
	"github.com/josedab/pocket-go/pkg/query"
	"github.com/josedab/pocket-go/pkg/types"
)

// Definition describes a projected view: filter + sort + limit (+ projection)
// over one collection.
type Definition struct {
	Name       string
	Collection string
	Filter     map[string]any
	Sort       []types.SortField
	Limit      int
	Projection *types.Projection
}

// Modification pairs the before/after states of an in-place change.
type Modification struct {
	Before types.Document
	After  types.Document
}

// Delta describes how a view's result set changed under one event.
type Delta struct {
	Added    []types.Document
	Removed  []types.Document
	Modified []Modification
}

// Empty reports whether the delta carries no change.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Stats summarizes a view's state and maintenance cost.
type Stats struct {
	ResultCount   int
	Hits          uint64
	AvgUpdateTime time.Duration
	LastUpdated   time.Time
}

// avgWindow bounds the rolling update-time average.
const avgWindow = 32

// View is an incrementally maintained, sorted, limited result set. Documents
// are kept unprojected internally; Results applies the projection.
type View struct {
	def    Definition
	logger zerolog.Logger

	mu      sync.RWMutex
	results []types.Document
	members map[string]bool
	updates *events.Broker[[]types.Document]

	hits        uint64
	applyTimes  []time.Duration
	lastUpdated time.Time
}

func newView(def Definition) *View {
	return &View{
		def:     def,
		logger:  log.WithView(def.Name),
		members: make(map[string]bool),
		updates: events.NewBroker[[]types.Document](16, events.DropOldest),
	}
}

// Definition returns the view's definition.
func (v *View) Definition() Definition { return v.def }

// Results returns the current result set with the projection applied. Each
// call counts as one hit.
func (v *View) Results() []types.Document {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hits++
	return v.projectedLocked()
}

func (v *View) projectedLocked() []types.Document {
	out := make([]types.Document, len(v.results))
	for i, doc := range v.results {
		out[i] = query.Project(doc.Clone(), v.def.Projection)
	}
	return out
}

// Updates returns the view's shared results stream. Every subscriber sees the
// same evaluations; the stream terminates when the view is dropped.
func (v *View) Updates() *events.Broker[[]types.Document] { return v.updates }

// Stats returns maintenance statistics.
func (v *View) Stats() Stats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var avg time.Duration
	if len(v.applyTimes) > 0 {
		var total time.Duration
		for _, d := range v.applyTimes {
			total += d
		}
		avg = total / time.Duration(len(v.applyTimes))
	}
	return Stats{
		ResultCount:   len(v.results),
		Hits:          v.hits,
		AvgUpdateTime: avg,
		LastUpdated:   v.lastUpdated,
	}
}

// Rebuild recomputes the view from scratch against a full candidate set.
func (v *View) Rebuild(docs []types.Document) {
	matched := make([]types.Document, 0, len(docs))
	for _, doc := range docs {
		if !doc.Deleted() && query.Matches(doc, v.def.Filter) {
			matched = append(matched, doc.Clone())
		}
	}
	query.SortDocuments(matched, v.def.Sort)
	if v.def.Limit > 0 && len(matched) > v.def.Limit {
		matched = matched[:v.def.Limit]
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.results = matched
	v.members = make(map[string]bool, len(matched))
	for _, doc := range matched {
		v.members[doc.ID()] = true
	}
	v.lastUpdated = time.Now()
}

// Apply folds one change event into the view and returns the resulting delta.
// The decision table:
//
//	in members? | matches filter? | action
//	no          | no              | no-op
//	no          | yes             | insert at sort position (limit-aware)
//	yes         | no              | remove
//	yes         | yes             | re-sort if keys moved, else modify in place
func (v *View) Apply(ev types.ChangeEvent) Delta {
	start := time.Now()
	v.mu.Lock()
	defer func() {
		v.recordApplyLocked(time.Since(start))
		v.mu.Unlock()
	}()

	id := ev.DocumentID
	doc := ev.Document
	matches := ev.Operation != types.OpDelete &&
		doc != nil && !doc.Deleted() && query.Matches(doc, v.def.Filter)
	inView := v.members[id]

	var delta Delta
	switch {
	case !inView && !matches:
		return delta

	case !inView && matches:
		added, evicted := v.insertLocked(doc.Clone())
		if added != nil {
			delta.Added = append(delta.Added, v.project(added))
		}
		if evicted != nil {
			delta.Removed = append(delta.Removed, v.project(evicted))
		}

	case inView && !matches:
		removed := v.removeLocked(id)
		if removed != nil {
			delta.Removed = append(delta.Removed, v.project(removed))
		}

	default: // inView && matches
		pos := v.indexOfLocked(id)
		before := v.results[pos]
		if query.CompareDocuments(before, doc, v.def.Sort) != 0 {
			v.removeLocked(id)
			v.insertLocked(doc.Clone())
		} else {
			v.results[pos] = doc.Clone()
		}
		delta.Modified = append(delta.Modified, Modification{
			Before: v.project(before),
			After:  v.project(doc),
		})
	}

	if !delta.Empty() {
		v.lastUpdated = time.Now()
		v.updates.Publish(v.projectedLocked())
	}
	return delta
}

// insertLocked places doc at its sort position. With a full limited view the
// candidate is compared to the current last entry: ordering at or below it
// drops the candidate, otherwise it displaces the last entry. Returns the
// inserted document (nil when dropped) and the evicted one, if any.
func (v *View) insertLocked(doc types.Document) (inserted, evicted types.Document) {
	full := v.def.Limit > 0 && len(v.results) >= v.def.Limit
	if full {
		last := v.results[len(v.results)-1]
		if query.CompareDocuments(doc, last, v.def.Sort) >= 0 {
			return nil, nil
		}
	}

	// Upper bound: a new document ties after existing equals (stable).
	pos := sort.Search(len(v.results), func(i int) bool {
		return query.CompareDocuments(v.results[i], doc, v.def.Sort) > 0
	})
	v.results = append(v.results, nil)
	copy(v.results[pos+1:], v.results[pos:])
	v.results[pos] = doc
	v.members[doc.ID()] = true

	if full {
		evicted = v.results[len(v.results)-1]
		v.results = v.results[:len(v.results)-1]
		delete(v.members, evicted.ID())
	}
	return doc, evicted
}

func (v *View) removeLocked(id string) types.Document {
	pos := v.indexOfLocked(id)
	if pos < 0 {
		return nil
	}
	removed := v.results[pos]
	v.results = append(v.results[:pos], v.results[pos+1:]...)
	delete(v.members, id)
	return removed
}

func (v *View) indexOfLocked(id string) int {
	for i, doc := range v.results {
		if doc.ID() == id {
			return i
		}
	}
	return -1
}

func (v *View) project(doc types.Document) types.Document {
	return query.Project(doc.Clone(), v.def.Projection)
}

func (v *View) recordApplyLocked(d time.Duration) {
	v.applyTimes = append(v.applyTimes, d)
	if len(v.applyTimes) > avgWindow {
		v.applyTimes = v.applyTimes[len(v.applyTimes)-avgWindow:]
	}
}

func (v *View) dispose() {
	v.updates.Close()
}
