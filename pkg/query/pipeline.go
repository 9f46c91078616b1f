package query

import (
	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/types"
)

// Apply runs the full query pipeline over a candidate set: filter, stable
// multi-key sort, skip/limit, projection. The input slice is not modified.
func Apply(spec types.QuerySpec, docs []types.Document) ([]types.Document, error) {
	if err := Validate(spec.Filter); err != nil {
		return nil, err
	}
	if err := validateProjection(spec.Projection); err != nil {
		return nil, err
	}

	matched := make([]types.Document, 0, len(docs))
	for _, doc := range docs {
		if Matches(doc, spec.Filter) {
			matched = append(matched, doc)
		}
	}

	SortDocuments(matched, spec.Sort)

	matched = Paginate(matched, spec.Skip, spec.Limit)

	if spec.Projection != nil {
		projected := make([]types.Document, len(matched))
		for i, doc := range matched {
			projected[i] = Project(doc, spec.Projection)
		}
		matched = projected
	}
	return matched, nil
}

// Paginate applies skip then limit. A zero limit means unlimited.
func Paginate(docs []types.Document, skip, limit int) []types.Document {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// Project returns a copy of doc shaped by the projection. The id field is
// always kept.
func Project(doc types.Document, p *types.Projection) types.Document {
	if p == nil {
		return doc
	}
	if len(p.Include) > 0 {
		out := types.Document{}
		if id, ok := doc[types.FieldID]; ok {
			out[types.FieldID] = id
		}
		for _, path := range p.Include {
			if v, ok := doc.Get(path); ok {
				out.Set(path, cloneAny(v))
			}
		}
		return out
	}
	if len(p.Exclude) > 0 {
		out := doc.Clone()
		for _, path := range p.Exclude {
			if path == types.FieldID {
				continue
			}
			deletePath(out, path)
		}
		return out
	}
	return doc
}

func validateProjection(p *types.Projection) error {
	if p == nil {
		return nil
	}
	if len(p.Include) > 0 && len(p.Exclude) > 0 {
		return errdefs.New(errdefs.ErrInvalidArgument, "query.project",
			"projection cannot mix included and excluded fields")
	}
	return nil
}

func deletePath(doc types.Document, path string) {
	segs := splitPath(path)
	m := map[string]any(doc)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	delete(m, segs[len(segs)-1])
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	return append(segs, path[start:])
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneAny(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}
