package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josedab/pocket-go/pkg/types"
)

// clock hands out per-store monotonic wall-clock timestamps in unix
// milliseconds. Two writes in the same millisecond still get distinct,
// increasing values.
type clock struct {
	mu   sync.Mutex
	last int64
}

func (c *clock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

// stampWrite clones the incoming document and applies write bookkeeping: id
// generation, revision bump, timestamps.
func stampWrite(doc types.Document, now int64) types.Document {
	out := doc.Clone()
	if out.ID() == "" {
		out[types.FieldID] = uuid.NewString()
	}
	out[types.FieldRev] = uuid.NewString()
	out[types.FieldUpdatedAt] = now
	delete(out, types.FieldDeleted)
	return out
}

// stampSync clones a document replicated from another peer. The origin
// already stamped it, so its revision, timestamps and tombstone flag are
// preserved; only gaps are filled.
func stampSync(doc types.Document, now int64) types.Document {
	out := doc.Clone()
	if out.Rev() == "" {
		out[types.FieldRev] = uuid.NewString()
	}
	if out.UpdatedAt() == 0 {
		out[types.FieldUpdatedAt] = now
	}
	return out
}

// indexKey derives the composite key a document contributes to an index. The
// second return is false when a sparse index skips the document (some indexed
// field missing).
func indexKey(doc types.Document, def types.IndexDefinition) (string, bool) {
	parts := make([]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		v, ok := doc.Get(f.Path)
		if !ok {
			if def.Sparse {
				return "", false
			}
			v = nil
		}
		parts = append(parts, encodeIndexValue(v))
	}
	return strings.Join(parts, "\x00"), true
}

// encodeIndexValue renders a value with a type tag so "1" and 1 never collide.
func encodeIndexValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "z:"
	case string:
		return "s:" + t
	case bool:
		return fmt.Sprintf("b:%t", t)
	case int:
		return fmt.Sprintf("n:%g", float64(t))
	case int64:
		return fmt.Sprintf("n:%g", float64(t))
	case float64:
		return fmt.Sprintf("n:%g", t)
	default:
		return fmt.Sprintf("o:%v", t)
	}
}
