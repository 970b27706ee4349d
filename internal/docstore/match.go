package docstore

import (
	"reflect"
	"sort"
)

// applyQuery evaluates q against docs in memory. Backends without
// server-side query support (memory, redis) share this so all three
// backends agree on filter and ordering semantics.
func applyQuery(docs []Document, q Query) []Document {
	matched := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if matchesAll(doc.Data, q.Where) {
			matched = append(matched, doc)
		}
	}

	if q.OrderBy != "" {
		// Documents missing the ordering field are dropped, matching
		// the behavior of indexed document stores.
		ordered := matched[:0]
		for _, doc := range matched {
			if _, ok := doc.Data[q.OrderBy]; ok {
				ordered = append(ordered, doc)
			}
		}
		matched = ordered
		desc := q.Order == "desc"
		sort.SliceStable(matched, func(i, j int) bool {
			cmp, ok := compareValues(matched[i].Data[q.OrderBy], matched[j].Data[q.OrderBy])
			if !ok {
				return false
			}
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

func matchesAll(doc Doc, filters []Filter) bool {
	for _, f := range filters {
		if !matches(doc, f) {
			return false
		}
	}
	return true
}

func matches(doc Doc, f Filter) bool {
	value, ok := doc[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case "==":
		return equalValues(value, f.Value)
	case "!=":
		return !equalValues(value, f.Value)
	case "<", "<=", ">", ">=":
		cmp, comparable := compareValues(value, f.Value)
		if !comparable {
			return false
		}
		switch f.Op {
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		default:
			return cmp >= 0
		}
	case "array-contains":
		for _, element := range asSlice(value) {
			if equalValues(element, f.Value) {
				return true
			}
		}
		return false
	}
	return false
}

func equalValues(a, b any) bool {
	if fa, aNum := asFloat(a); aNum {
		if fb, bNum := asFloat(b); bNum {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of the same kind: numbers
// numerically, strings lexically. Mixed or unordered kinds report not
// comparable.
func compareValues(a, b any) (int, bool) {
	if fa, aNum := asFloat(a); aNum {
		fb, bNum := asFloat(b)
		if !bNum {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		switch {
		case sa < sb:
			return -1, true
		case sa > sb:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func asSlice(v any) []any {
	switch elements := v.(type) {
	case []any:
		return elements
	case []string:
		widened := make([]any, len(elements))
		for i, element := range elements {
			widened[i] = element
		}
		return widened
	}
	return nil
}

// asFloat widens any numeric JSON value. Decoded JSON yields float64,
// but tests and in-process callers hand the memory backend native ints.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
