package types

import (
	"strings"
)

// Reserved document field names.
const (
	FieldID        = "_id"
	FieldRev       = "_rev"
	FieldDeleted   = "_deleted"
	FieldCreatedAt = "_createdAt"
	FieldUpdatedAt = "_updatedAt"
	FieldVClock    = "_vclock"
)

// Document is a schemaless record. Reserved fields use an underscore prefix;
// everything else is user data.
type Document map[string]any

// ID returns the document id, or "" when unset.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Rev returns the revision token, or "" when unset.
func (d Document) Rev() string {
	rev, _ := d[FieldRev].(string)
	return rev
}

// Deleted reports whether the document is a soft-delete tombstone.
func (d Document) Deleted() bool {
	del, _ := d[FieldDeleted].(bool)
	return del
}

// UpdatedAt returns the last-write time in unix milliseconds, or 0.
func (d Document) UpdatedAt() int64 {
	return toInt64(d[FieldUpdatedAt])
}

// CreatedAt returns the creation time in unix milliseconds, or 0.
func (d Document) CreatedAt() int64 {
	return toInt64(d[FieldCreatedAt])
}

// Get resolves a dotted field path. The second return is false when any
// segment of the path is missing or a non-map value is traversed.
func (d Document) Get(path string) (any, bool) {
	if d == nil {
		return nil, false
	}
	if !strings.Contains(path, ".") {
		v, ok := d[path]
		return v, ok
	}
	var cur any = map[string]any(d)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if md, okd := cur.(Document); okd {
				m = map[string]any(md)
			} else {
				return nil, false
			}
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set assigns a dotted field path, creating intermediate maps as needed.
func (d Document) Set(path string, value any) {
	segs := strings.Split(path, ".")
	m := map[string]any(d)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[segs[len(segs)-1]] = value
}

// Clone returns a deep copy. Nested maps and slices are copied; scalar values
// are shared (they are immutable in Go).
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return map[string]any(t.Clone())
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case uint64:
		return int64(t)
	}
	return 0
}

// VClock is a vector clock keyed by replica id.
type VClock map[string]int64

// Merge returns the pairwise maximum of both clocks.
func (c VClock) Merge(other VClock) VClock {
	out := make(VClock, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Descends reports whether c is a successor of (or equal to) other, i.e. every
// component of other is covered by c.
func (c VClock) Descends(other VClock) bool {
	for k, v := range other {
		if c[k] < v {
			return false
		}
	}
	return true
}
