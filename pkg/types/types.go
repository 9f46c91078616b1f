package types

// Operation identifies the kind of mutation carried by a change event.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeEvent records one mutation observed on a document store. Sequence is
// per-store, strictly increasing and gap-free; all subscribers observe events
// in sequence order.
type ChangeEvent struct {
	Operation  Operation
	DocumentID string
	Document   Document // state after the mutation; nil for delete
	Previous   Document // state before the mutation, when one existed
	FromSync   bool
	Timestamp  int64 // unix milliseconds
	Sequence   uint64
}

// Clone deep-copies the event so subscribers can never mutate store state.
func (e ChangeEvent) Clone() ChangeEvent {
	out := e
	out.Document = e.Document.Clone()
	out.Previous = e.Previous.Clone()
	return out
}

// SortField is one key of a sort specification.
type SortField struct {
	Field string
	Desc  bool
}

// Projection selects the fields returned by a query. Include and Exclude are
// mutually exclusive; _id is always kept.
type Projection struct {
	Include []string
	Exclude []string
}

// QuerySpec is a declarative query: filter tree, multi-key sort, pagination
// and projection. A zero Limit means unlimited.
type QuerySpec struct {
	Filter     map[string]any
	Sort       []SortField
	Skip       int
	Limit      int
	Projection *Projection
}

// IndexField is one component of a secondary index.
type IndexField struct {
	Path string
	Desc bool
}

// IndexDefinition describes a secondary index over a collection.
type IndexDefinition struct {
	Name   string
	Fields []IndexField
	Unique bool
	Sparse bool
}

// Normalize fills in a default name derived from the indexed fields.
func (d IndexDefinition) Normalize() IndexDefinition {
	if d.Name != "" {
		return d
	}
	name := "idx"
	for _, f := range d.Fields {
		dir := "asc"
		if f.Desc {
			dir = "desc"
		}
		name += "_" + f.Path + "_" + dir
	}
	d.Name = name
	return d
}
