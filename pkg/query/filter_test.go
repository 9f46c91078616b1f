package query

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/types"
)

func TestMatchesEquality(t *testing.T) {
	doc := types.Document{"_id": "1", "status": "active", "score": 42}

	assert.True(t, Matches(doc, map[string]any{"status": "active"}))
	assert.False(t, Matches(doc, map[string]any{"status": "inactive"}))
	assert.True(t, Matches(doc, nil), "empty filter matches everything")
	assert.True(t, Matches(doc, map[string]any{"score": 42.0}), "numeric widening")
	assert.False(t, Matches(doc, map[string]any{"missing": "x"}))
}

func TestMatchesOperators(t *testing.T) {
	doc := types.Document{"_id": "1", "score": 90, "name": "Brian", "tags": []any{"a"}}

	cases := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{"gte hit", map[string]any{"score": map[string]any{"$gte": 90}}, true},
		{"gt miss", map[string]any{"score": map[string]any{"$gt": 90}}, false},
		{"lt hit", map[string]any{"score": map[string]any{"$lt": 100}}, true},
		{"lte hit", map[string]any{"score": map[string]any{"$lte": 90}}, true},
		{"ne", map[string]any{"score": map[string]any{"$ne": 80}}, true},
		{"in hit", map[string]any{"name": map[string]any{"$in": []any{"Alice", "Brian"}}}, true},
		{"in miss", map[string]any{"name": map[string]any{"$in": []any{"Alice"}}}, false},
		{"nin", map[string]any{"name": map[string]any{"$nin": []any{"Alice"}}}, true},
		{"exists true", map[string]any{"name": map[string]any{"$exists": true}}, true},
		{"exists false on missing", map[string]any{"ghost": map[string]any{"$exists": false}}, true},
		{"exists false on present", map[string]any{"name": map[string]any{"$exists": false}}, false},
		{"regex", map[string]any{"name": map[string]any{"$regex": "^Br"}}, true},
		{"regex non-string value", map[string]any{"score": map[string]any{"$regex": "9"}}, false},
		{"range on missing field", map[string]any{"ghost": map[string]any{"$gt": 1}}, false},
		{"cross-type range", map[string]any{"name": map[string]any{"$gt": 5}}, false},
		{"cross-type eq", map[string]any{"score": "90"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(doc, tc.filter))
		})
	}
}

func TestMatchesCompiledRegex(t *testing.T) {
	doc := types.Document{"name": "Brian"}
	filter := map[string]any{"name": map[string]any{"$regex": regexp.MustCompile(`ian$`)}}
	assert.True(t, Matches(doc, filter))
}

func TestMatchesLogical(t *testing.T) {
	doc := types.Document{"status": "active", "score": 90}

	and := map[string]any{"$and": []any{
		map[string]any{"status": "active"},
		map[string]any{"score": map[string]any{"$gte": 50}},
	}}
	assert.True(t, Matches(doc, and))

	or := map[string]any{"$or": []any{
		map[string]any{"status": "inactive"},
		map[string]any{"score": map[string]any{"$gt": 80}},
	}}
	assert.True(t, Matches(doc, or))

	not := map[string]any{"$not": map[string]any{"status": "inactive"}}
	assert.True(t, Matches(doc, not))

	assert.False(t, Matches(doc, map[string]any{"$or": []any{
		map[string]any{"status": "inactive"},
	}}))
}

func TestMatchesStructuralEquality(t *testing.T) {
	doc := types.Document{"address": map[string]any{"city": "Lisbon", "zip": "1000"}}

	assert.True(t, Matches(doc, map[string]any{
		"address": map[string]any{"city": "Lisbon", "zip": "1000"},
	}))
	assert.False(t, Matches(doc, map[string]any{
		"address": map[string]any{"city": "Lisbon"},
	}), "structural equality compares the whole object")
}

func TestValidateRejectsUnknownOperator(t *testing.T) {
	err := Validate(map[string]any{"score": map[string]any{"$near": 1}})
	assert.True(t, errdefs.IsInvalidArgument(err))

	err = Validate(map[string]any{"score": map[string]any{"$regex": "("}})
	assert.True(t, errdefs.IsInvalidArgument(err))

	err = Validate(map[string]any{"$and": "not-an-array"})
	assert.True(t, errdefs.IsInvalidArgument(err))

	assert.NoError(t, Validate(map[string]any{"score": map[string]any{"$gte": 1}}))
}

func TestCompareForSortNilOrdersLowest(t *testing.T) {
	assert.Equal(t, -1, CompareForSort(nil, 0))
	assert.Equal(t, 1, CompareForSort("a", nil))
	assert.Equal(t, 0, CompareForSort(nil, nil))
	assert.Equal(t, -1, CompareForSort(5, "a"), "numbers order below strings")
}
