package views

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/log"
	"github.com/josedab/pocket-go/pkg/query"
	"github.com/josedab/pocket-go/pkg/types"
)

// AggKind selects an aggregation function.
type AggKind string

const (
	AggCount AggKind = "count"
	AggSum   AggKind = "sum"
	AggAvg   AggKind = "avg"
	AggMin   AggKind = "min"
	AggMax   AggKind = "max"
	AggFirst AggKind = "first"
	AggLast  AggKind = "last"
)

// Aggregation is one aggregate column: a kind plus the field it reads
// (unused for count).
type Aggregation struct {
	Kind  AggKind
	Field string
}

// GroupedDefinition describes a computed view: optional filter, optional
// group key, and a set of named aggregations.
type GroupedDefinition struct {
	Name         string
	Collection   string
	Filter       map[string]any
	GroupBy      string
	Aggregations map[string]Aggregation
}

func (d GroupedDefinition) validate() error {
	if len(d.Aggregations) == 0 {
		return errdefs.New(errdefs.ErrInvalidArgument, "views.createGrouped",
			"grouped view %q needs at least one aggregation", d.Name)
	}
	for alias, agg := range d.Aggregations {
		switch agg.Kind {
		case AggCount, AggFirst, AggLast:
		case AggSum, AggAvg, AggMin, AggMax:
			if agg.Field == "" {
				return errdefs.New(errdefs.ErrInvalidArgument, "views.createGrouped",
					"aggregation %q (%s) needs a field", alias, agg.Kind)
			}
		default:
			return errdefs.New(errdefs.ErrInvalidArgument, "views.createGrouped",
				"unknown aggregation kind %q", agg.Kind)
		}
	}
	return nil
}

// Row is one result row of a grouped view.
type Row struct {
	Key    any
	Values map[string]any
}

// group holds one key's live members plus running accumulators. min/max are
// exact: they are computed over the live members whenever a row is built.
type group struct {
	key     any
	members map[string]types.Document
	arrival map[string]uint64 // insertion order, drives first/last
	sums    map[string]float64
	counts  map[string]int // per-alias count of documents carrying the field
}

// GroupedView incrementally maintains one row of aggregates per distinct
// group key. Empty groups are dropped.
type GroupedView struct {
	def    GroupedDefinition
	logger zerolog.Logger

	mu      sync.RWMutex
	groups  map[string]*group // keyed by encoded group key
	nextArr uint64
	lastUpdated time.Time
}

func newGroupedView(def GroupedDefinition) *GroupedView {
	return &GroupedView{
		def:    def,
		logger: log.WithView(def.Name),
		groups: make(map[string]*group),
	}
}

// Definition returns the view's definition.
func (v *GroupedView) Definition() GroupedDefinition { return v.def }

// Rebuild recomputes all groups from a full candidate set.
func (v *GroupedView) Rebuild(docs []types.Document) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.groups = make(map[string]*group)
	v.nextArr = 0
	for _, doc := range docs {
		if doc.Deleted() || !query.Matches(doc, v.def.Filter) {
			continue
		}
		v.addLocked(doc.Clone())
	}
	v.lastUpdated = time.Now()
}

// Apply folds one change event into the accumulators. It returns true when
// any aggregated value actually changed; callers suppress view updates
// otherwise.
func (v *GroupedView) Apply(ev types.ChangeEvent) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := ev.DocumentID
	newDoc := ev.Document
	newMatches := ev.Operation != types.OpDelete &&
		newDoc != nil && !newDoc.Deleted() && query.Matches(newDoc, v.def.Filter)

	oldKey, oldGroup := v.findMemberLocked(id)

	if oldGroup == nil && !newMatches {
		return false
	}

	if oldGroup != nil && !newMatches {
		v.removeLocked(oldKey, oldGroup, id)
		v.lastUpdated = time.Now()
		return true
	}

	newKey := v.encodeKey(v.groupKey(newDoc))
	if oldGroup == nil {
		v.addLocked(newDoc.Clone())
		v.lastUpdated = time.Now()
		return true
	}

	// Key change is a move: delete from the old group, insert into the new.
	if oldKey != newKey {
		v.removeLocked(oldKey, oldGroup, id)
		v.addLocked(newDoc.Clone())
		v.lastUpdated = time.Now()
		return true
	}

	before := v.rowLocked(oldGroup)
	old := oldGroup.members[id]
	v.replaceLocked(oldGroup, id, old, newDoc.Clone())
	after := v.rowLocked(oldGroup)
	if rowsEqual(before, after) {
		return false
	}
	v.lastUpdated = time.Now()
	return true
}

// Results returns one row per group, ordered by encoded key for determinism.
func (v *GroupedView) Results() []Row {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]string, 0, len(v.groups))
	for k := range v.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, v.rowLocked(v.groups[k]))
	}
	return rows
}

func (v *GroupedView) groupKey(doc types.Document) any {
	if v.def.GroupBy == "" {
		return nil
	}
	key, _ := doc.Get(v.def.GroupBy)
	return key
}

func (v *GroupedView) encodeKey(key any) string {
	switch t := key.(type) {
	case nil:
		return "\x00"
	case string:
		return "s:" + t
	default:
		if f, ok := toFloat(key); ok {
			return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "o:" + fmt.Sprintf("%v", key)
	}
}

func (v *GroupedView) findMemberLocked(id string) (string, *group) {
	for key, g := range v.groups {
		if _, ok := g.members[id]; ok {
			return key, g
		}
	}
	return "", nil
}

func (v *GroupedView) addLocked(doc types.Document) {
	key := v.encodeKey(v.groupKey(doc))
	g, ok := v.groups[key]
	if !ok {
		g = &group{
			key:     v.groupKey(doc),
			members: make(map[string]types.Document),
			arrival: make(map[string]uint64),
			sums:    make(map[string]float64),
			counts:  make(map[string]int),
		}
		v.groups[key] = g
	}
	id := doc.ID()
	g.members[id] = doc
	v.nextArr++
	g.arrival[id] = v.nextArr

	for alias, agg := range v.def.Aggregations {
		switch agg.Kind {
		case AggSum, AggAvg:
			if f, ok := docFloat(doc, agg.Field); ok {
				g.sums[alias] += f
				g.counts[alias]++
			}
		}
	}
}

func (v *GroupedView) removeLocked(key string, g *group, id string) {
	doc, ok := g.members[id]
	if !ok {
		return
	}
	delete(g.members, id)
	delete(g.arrival, id)
	if len(g.members) == 0 {
		delete(v.groups, key)
		return
	}
	for alias, agg := range v.def.Aggregations {
		switch agg.Kind {
		case AggSum, AggAvg:
			if f, ok := docFloat(doc, agg.Field); ok {
				g.sums[alias] -= f
				g.counts[alias]--
			}
		}
	}
}

func (v *GroupedView) replaceLocked(g *group, id string, old, updated types.Document) {
	g.members[id] = updated
	for alias, agg := range v.def.Aggregations {
		switch agg.Kind {
		case AggSum, AggAvg:
			if f, ok := docFloat(old, agg.Field); ok {
				g.sums[alias] -= f
				g.counts[alias]--
			}
			if f, ok := docFloat(updated, agg.Field); ok {
				g.sums[alias] += f
				g.counts[alias]++
			}
		}
	}
}

// rowLocked materializes a group's aggregates. min/max/first/last read the
// live members; sum/avg/count come from the running accumulators.
func (v *GroupedView) rowLocked(g *group) Row {
	values := make(map[string]any, len(v.def.Aggregations))
	for alias, agg := range v.def.Aggregations {
		switch agg.Kind {
		case AggCount:
			values[alias] = len(g.members)
		case AggSum:
			values[alias] = g.sums[alias]
		case AggAvg:
			if g.counts[alias] > 0 {
				values[alias] = g.sums[alias] / float64(g.counts[alias])
			} else {
				values[alias] = nil
			}
		case AggMin, AggMax:
			values[alias] = extremum(g, agg.Field, agg.Kind == AggMax)
		case AggFirst, AggLast:
			values[alias] = boundary(g, agg.Kind == AggLast)
		}
	}
	return Row{Key: g.key, Values: values}
}

// extremum scans the group's live members on every call, so its cost is
// O(group size); groups are expected to be small.
func extremum(g *group, field string, max bool) any {
	var best any
	for _, doc := range g.members {
		val, ok := doc.Get(field)
		if !ok || val == nil {
			continue
		}
		if best == nil {
			best = val
			continue
		}
		c := query.CompareForSort(val, best)
		if (max && c > 0) || (!max && c < 0) {
			best = val
		}
	}
	return best
}

// boundary returns the document with the smallest (first) or largest (last)
// insertion order.
func boundary(g *group, last bool) any {
	var bestID string
	var bestArr uint64
	first := true
	for id, arr := range g.arrival {
		if first || (last && arr > bestArr) || (!last && arr < bestArr) {
			bestID, bestArr, first = id, arr, false
		}
	}
	if bestID == "" {
		return nil
	}
	return g.members[bestID].Clone()
}

func rowsEqual(a, b Row) bool {
	if len(a.Values) != len(b.Values) {
		return false
	}
	for k, va := range a.Values {
		vb, ok := b.Values[k]
		if !ok {
			return false
		}
		if da, okd := va.(types.Document); okd {
			db, okb := vb.(types.Document)
			if !okb || !query.Equal(map[string]any(da), map[string]any(db)) {
				return false
			}
			continue
		}
		if !query.Equal(va, vb) {
			return false
		}
	}
	return true
}

func docFloat(doc types.Document, field string) (float64, bool) {
	val, ok := doc.Get(field)
	if !ok {
		return 0, false
	}
	return toFloat(val)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
