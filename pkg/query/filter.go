package query

import (
	"regexp"
	"strings"

	"github.com/josedab/pocket-go/pkg/errdefs"
	"github.com/josedab/pocket-go/pkg/types"
)

// Filter operators.
const (
	opEq     = "$eq"
	opNe     = "$ne"
	opGt     = "$gt"
	opGte    = "$gte"
	opLt     = "$lt"
	opLte    = "$lte"
	opIn     = "$in"
	opNin    = "$nin"
	opExists = "$exists"
	opRegex  = "$regex"
	opAnd    = "$and"
	opOr     = "$or"
	opNot    = "$not"
)

var knownOps = map[string]bool{
	opEq: true, opNe: true, opGt: true, opGte: true, opLt: true, opLte: true,
	opIn: true, opNin: true, opExists: true, opRegex: true,
}

// Matches evaluates a filter tree against a document. An empty or nil filter
// matches every document. The evaluator is pure: no side effects, no errors;
// malformed sub-predicates simply fail to match (use Validate to reject them
// up front).
func Matches(doc types.Document, filter map[string]any) bool {
	for key, cond := range filter {
		switch key {
		case opAnd:
			for _, sub := range asSlice(cond) {
				m, ok := asMap(sub)
				if !ok || !Matches(doc, m) {
					return false
				}
			}
		case opOr:
			matched := false
			for _, sub := range asSlice(cond) {
				if m, ok := asMap(sub); ok && Matches(doc, m) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case opNot:
			m, ok := asMap(cond)
			if !ok || Matches(doc, m) {
				return false
			}
		default:
			value, exists := doc.Get(key)
			if !matchField(value, exists, cond) {
				return false
			}
		}
	}
	return true
}

// matchField evaluates one field predicate. Object values with at least one
// $-prefixed key are operator maps; anything else is structural equality.
func matchField(value any, exists bool, cond any) bool {
	m, ok := asMap(cond)
	if ok && isOperatorMap(m) {
		for op, arg := range m {
			if !applyOperator(value, exists, op, arg) {
				return false
			}
		}
		return true
	}
	return exists && Equal(value, cond)
}

func applyOperator(value any, exists bool, op string, arg any) bool {
	switch op {
	case opEq:
		return exists && Equal(value, arg)
	case opNe:
		return !exists || !Equal(value, arg)
	case opGt:
		c, ok := CompareOrdered(value, arg)
		return ok && c > 0
	case opGte:
		c, ok := CompareOrdered(value, arg)
		return ok && c >= 0
	case opLt:
		c, ok := CompareOrdered(value, arg)
		return ok && c < 0
	case opLte:
		c, ok := CompareOrdered(value, arg)
		return ok && c <= 0
	case opIn:
		if !exists {
			return false
		}
		for _, candidate := range asSlice(arg) {
			if Equal(value, candidate) {
				return true
			}
		}
		return false
	case opNin:
		for _, candidate := range asSlice(arg) {
			if exists && Equal(value, candidate) {
				return false
			}
		}
		return true
	case opExists:
		want, _ := arg.(bool)
		return exists == want
	case opRegex:
		s, ok := value.(string)
		if !ok {
			return false
		}
		switch p := arg.(type) {
		case *regexp.Regexp:
			return p.MatchString(s)
		case string:
			re, err := regexp.Compile(p)
			if err != nil {
				return false
			}
			return re.MatchString(s)
		}
		return false
	}
	return false
}

// isOperatorMap reports whether m should be treated as an operator map rather
// than a structural-equality literal.
func isOperatorMap(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// Validate rejects filters containing unknown operators or malformed logical
// combinators before evaluation.
func Validate(filter map[string]any) error {
	for key, cond := range filter {
		switch key {
		case opAnd, opOr:
			subs := asSlice(cond)
			if subs == nil {
				return errdefs.New(errdefs.ErrInvalidArgument, "query.validate",
					"%s expects an array of predicates", key)
			}
			for _, sub := range subs {
				m, ok := asMap(sub)
				if !ok {
					return errdefs.New(errdefs.ErrInvalidArgument, "query.validate",
						"%s expects predicate objects", key)
				}
				if err := Validate(m); err != nil {
					return err
				}
			}
		case opNot:
			m, ok := asMap(cond)
			if !ok {
				return errdefs.New(errdefs.ErrInvalidArgument, "query.validate",
					"$not expects a predicate object")
			}
			if err := Validate(m); err != nil {
				return err
			}
		default:
			if strings.HasPrefix(key, "$") {
				return errdefs.New(errdefs.ErrInvalidArgument, "query.validate",
					"unknown operator %q", key)
			}
			m, ok := asMap(cond)
			if !ok || !isOperatorMap(m) {
				continue
			}
			for op, arg := range m {
				if !knownOps[op] {
					return errdefs.New(errdefs.ErrInvalidArgument, "query.validate",
						"unknown operator %q", op)
				}
				if op == opRegex {
					if s, ok := arg.(string); ok {
						if _, err := regexp.Compile(s); err != nil {
							return errdefs.New(errdefs.ErrInvalidArgument, "query.validate",
								"invalid regex %q: %v", s, err)
						}
					}
				}
			}
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case types.Document:
		return map[string]any(t), true
	}
	return nil, false
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}
