/*
Package query implements pocket's declarative query pipeline: a pure filter
evaluator, a total document ordering, and the sort/skip/limit/projection
stages that turn a candidate set into a query result.

# Filters

A filter is a predicate tree of field conditions and logical combinators.
Field paths are dotted; object conditions with a $-prefixed key are operator
maps, anything else is structural equality:

	{"status": "active"}                         equality
	{"score": {"$gte": 90}}                      range
	{"$or": [{"a": 1}, {"b": {"$exists": true}}]} logical

Operators: $eq $ne $gt $gte $lt $lte $in $nin $exists $regex, plus $and $or
$not. $regex matches string values only. Range operators never match across
types or against nil.

# Ordering

CompareForSort provides a total order: nil below everything, then bool,
number, string, other. SortDocuments is stable, so equal keys keep their
incoming order and an empty sort preserves insertion order. The same
comparator drives the materialized-view engine's sorted result maintenance.
*/
package query
