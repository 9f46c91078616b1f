package query

import (
	"sort"

	"github.com/josedab/pocket-go/pkg/types"
)

// Equal is structural equality with numeric widening: 5 and 5.0 are equal,
// nested maps and slices compare element-wise, cross-type values are unequal.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, okb := toFloat(b)
		return okb && fa == fb
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !Equal(ta[i], tb[i]) {
				return false
			}
		}
		return true
	default:
		ma, aok := asMap(a)
		mb, bok := asMap(b)
		if aok && bok {
			if len(ma) != len(mb) {
				return false
			}
			for k, va := range ma {
				vb, ok := mb[k]
				if !ok || !Equal(va, vb) {
					return false
				}
			}
			return true
		}
		return false
	}
}

// CompareOrdered compares two values for the range operators. The second
// return is false when the values are not mutually ordered (cross-type, nil,
// or non-scalar), in which case $gt/$lt style predicates do not match.
func CompareOrdered(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := toFloat(a); ok {
		if fb, okb := toFloat(b); okb {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if sa, ok := a.(string); ok {
		if sb, okb := b.(string); okb {
			switch {
			case sa < sb:
				return -1, true
			case sa > sb:
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

// sortRank buckets values into classes so that sorting has a total order even
// across types: nil < bool < number < string < everything else.
func sortRank(v any) int {
	if v == nil {
		return 0
	}
	switch v.(type) {
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	return 4
}

// CompareForSort is the total ordering used by the sort stage and the view
// engine. nil (and missing fields) order below any value; mixed types order
// by type class.
func CompareForSort(a, b any) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case !ba && bb:
			return -1
		case ba && !bb:
			return 1
		}
		return 0
	default:
		if c, ok := CompareOrdered(a, b); ok {
			return c
		}
		return 0
	}
}

// CompareDocuments orders two documents under a multi-key sort specification.
func CompareDocuments(a, b types.Document, keys []types.SortField) int {
	for _, key := range keys {
		va, _ := a.Get(key.Field)
		vb, _ := b.Get(key.Field)
		c := CompareForSort(va, vb)
		if key.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// SortDocuments sorts docs in place, stable for equal keys. An empty key list
// preserves insertion order.
func SortDocuments(docs []types.Document, keys []types.SortField) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return CompareDocuments(docs[i], docs[j], keys) < 0
	})
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
