package predicate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// ParseFilter converts a filter map into a predicate tree. Keys are either the
// logical operators AND, OR (arrays of filter maps) and NOT (a filter map), or
// column names mapped to an operator object:
//
//	deleted_at: {isNull: true}
//	id: {mod: [2, 0]}
//	status: {in: [acknowledged, resolved]}
//
// Keys are processed in sorted order so the rendered SQL is deterministic.
// Logical keys and operator names match case-insensitively, since config
// loaders may lowercase map keys.
func ParseFilter(filter map[string]interface{}) (Predicate, error) {
	if len(filter) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var items []Predicate
	for _, key := range keys {
		value := filter[key]
		logical := strings.ToUpper(key)
		switch logical {
		case "AND", "OR":
			list, ok := value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s must be an array", logical)
			}
			children := make([]Predicate, 0, len(list))
			for _, entry := range list {
				entryMap, ok := toStringMap(entry)
				if !ok {
					return nil, fmt.Errorf("%s array items must be objects", logical)
				}
				child, err := ParseFilter(entryMap)
				if err != nil {
					return nil, err
				}
				if child != nil {
					children = append(children, child)
				}
			}
			if len(children) == 0 {
				continue
			}
			if logical == "AND" {
				items = append(items, And(children...))
			} else {
				items = append(items, Or(children...))
			}

		case "NOT":
			inner, ok := toStringMap(value)
			if !ok {
				return nil, fmt.Errorf("NOT must be an object")
			}
			child, err := ParseFilter(inner)
			if err != nil {
				return nil, err
			}
			if child != nil {
				items = append(items, Not(child))
			}

		default:
			ops, ok := toStringMap(value)
			if !ok {
				return nil, fmt.Errorf("filter for %s must be an object", key)
			}
			colItems, err := parseColumnFilter(key, ops)
			if err != nil {
				return nil, err
			}
			items = append(items, colItems...)
		}
	}

	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		return items[0], nil
	default:
		return And(items...), nil
	}
}

func parseColumnFilter(column string, ops map[string]interface{}) ([]Predicate, error) {
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	items := make([]Predicate, 0, len(names))
	for _, op := range names {
		value := ops[op]
		switch strings.ToLower(op) {
		case "eq":
			items = append(items, Eq(column, value))
		case "ne":
			items = append(items, NotEq(column, value))
		case "lt":
			items = append(items, Lt(column, value))
		case "lte":
			items = append(items, Lte(column, value))
		case "gt":
			items = append(items, Gt(column, value))
		case "gte":
			items = append(items, Gte(column, value))
		case "in", "notin":
			arr, ok := value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s operator requires an array", op)
			}
			if strings.EqualFold(op, "in") {
				items = append(items, In(column, arr...))
			} else {
				items = append(items, NotIn(column, arr...))
			}
		case "like", "notlike":
			pattern, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s operator requires a string", op)
			}
			if strings.EqualFold(op, "like") {
				items = append(items, Like(column, pattern))
			} else {
				items = append(items, NotLike(column, pattern))
			}
		case "isnull":
			isNull, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("isNull must be a boolean")
			}
			if isNull {
				items = append(items, IsNull(column))
			} else {
				items = append(items, NotNull(column))
			}
		case "mod":
			arr, ok := value.([]interface{})
			if !ok || len(arr) != 2 {
				return nil, fmt.Errorf("mod operator requires [divisor, remainder]")
			}
			divisor, err := cast.ToInt64E(arr[0])
			if err != nil {
				return nil, fmt.Errorf("mod divisor for %s: %w", column, err)
			}
			remainder, err := cast.ToInt64E(arr[1])
			if err != nil {
				return nil, fmt.Errorf("mod remainder for %s: %w", column, err)
			}
			items = append(items, Mod(column, divisor, remainder))
		default:
			return nil, fmt.Errorf("unknown filter operator: %s", op)
		}
	}
	return items, nil
}

// toStringMap accepts both map[string]interface{} and the
// map[interface{}]interface{} shape some YAML decoders produce.
func toStringMap(value interface{}) (map[string]interface{}, bool) {
	switch m := value.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	default:
		return nil, false
	}
}
