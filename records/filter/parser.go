package filter

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/recordbase/recordbase/records/models"
)

// Reserved top-level filter keys.
const (
	keyWhere  = "where"
	keyOrder  = "order"
	keyLimit  = "limit"
	keySkip   = "skip"
	keyFields  = "fields"
	keyLookup  = "lookup"
	keyInclude = "include"
	keyType    = "type"
)

var (
	numericLiteral = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	iso8601Literal = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?)?$`)
)

// Limits carries the pagination defaults and ceiling the parser applies.
type Limits struct {
	DefaultLimit int64 // applied when filter[limit] is absent
	MaxLimit     int64 // silent cap, never an error
}

// ParseFilter parses every query key under prefix into a normalized
// FilterSpec. Pagination defaults apply at the top level only; lookup scopes
// keep an absent limit absent.
func ParseFilter(values map[string]string, prefix string, limits Limits) (*models.FilterSpec, error) {
	node, err := Explode(values, prefix)
	if err != nil {
		return nil, err
	}
	return parseSpec(node, limits, true)
}

// ParseQueryString decodes a raw query string (e.g. a configured scope
// template) into the flat key-value form ParseFilter consumes. Repeated keys
// keep the last value.
func ParseQueryString(raw string) (map[string]string, error) {
	parsed, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed query string: %w", err)
	}
	flat := make(map[string]string, len(parsed))
	for key, vals := range parsed {
		if len(vals) > 0 {
			flat[key] = vals[len(vals)-1]
		}
	}
	return flat, nil
}

func parseSpec(node map[string]interface{}, limits Limits, topLevel bool) (*models.FilterSpec, error) {
	spec := &models.FilterSpec{}

	for _, key := range sortedKeys(node) {
		raw := node[key]
		var err error
		switch key {
		case keyWhere:
			whereNode, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("filter[where] must be an object")
			}
			spec.Where, err = parseCondition(whereNode)
		case keyOrder:
			spec.Order, err = parseOrder(raw)
		case keyLimit:
			spec.Limit, err = parseNonNegative(raw, "limit")
		case keySkip:
			spec.Skip, err = parseNonNegative(raw, "skip")
		case keyFields:
			spec.Fields, err = parseFields(raw)
		case keyLookup, keyInclude:
			// include names related records to pull in; its entries resolve
			// through the same machinery as lookup. Keys arrive in sorted
			// order, so include entries land before lookup entries.
			var entries []models.LookupSpec
			entries, err = parseLookups(raw, limits)
			spec.Lookup = append(spec.Lookup, entries...)
		default:
			return nil, fmt.Errorf("unknown filter key '%s'", key)
		}
		if err != nil {
			return nil, err
		}
	}

	if topLevel && spec.Limit == nil && limits.DefaultLimit > 0 {
		limit := limits.DefaultLimit
		spec.Limit = &limit
	}
	if spec.Limit != nil && limits.MaxLimit > 0 && *spec.Limit > limits.MaxLimit {
		capped := limits.MaxLimit
		spec.Limit = &capped
	}

	return spec, nil
}

// parseCondition turns a where node into a condition tree. Sibling keys
// combine with implicit AND; keys are visited in sorted order so the tree is
// deterministic for identical input.
func parseCondition(node map[string]interface{}) (*models.Condition, error) {
	var children []*models.Condition

	for _, key := range sortedKeys(node) {
		raw := node[key]
		switch key {
		case "and", "or":
			group, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("'%s' must hold an indexed list of conditions", key)
			}
			list, ok := asList(group)
			if !ok || len(list) == 0 {
				return nil, fmt.Errorf("'%s' must hold at least one indexed condition", key)
			}
			subs := make([]*models.Condition, 0, len(list))
			for _, item := range list {
				itemNode, ok := item.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("'%s' entries must be objects", key)
				}
				sub, err := parseCondition(itemNode)
				if err != nil {
					return nil, err
				}
				if sub != nil {
					subs = append(subs, sub)
				}
			}
			if len(subs) == 0 {
				return nil, fmt.Errorf("'%s' must hold at least one condition", key)
			}
			if key == "and" {
				children = append(children, &models.Condition{And: subs})
			} else {
				children = append(children, &models.Condition{Or: subs})
			}
		default:
			leaves, err := parseFieldCondition(key, raw)
			if err != nil {
				return nil, err
			}
			children = append(children, leaves...)
		}
	}

	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return children[0], nil
	}
	return &models.Condition{And: children}, nil
}

// parseFieldCondition handles one field key of a where node: either a bare
// scalar (equality) or an operator map like {gt: "3", type: "number"}.
func parseFieldCondition(field string, raw interface{}) ([]*models.Condition, error) {
	if scalar, ok := raw.(string); ok {
		value, err := coerce(scalar, "")
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", field, err)
		}
		return []*models.Condition{{Field: field, Operator: models.OpEq, Value: value}}, nil
	}

	opNode, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field '%s' condition must be a scalar or operator object", field)
	}

	hint := ""
	if rawHint, present := opNode[keyType]; present {
		hintStr, ok := rawHint.(string)
		if !ok || (hintStr != models.TypeHintNumber && hintStr != models.TypeHintDate) {
			return nil, fmt.Errorf("field '%s': unknown type hint", field)
		}
		hint = hintStr
	}

	var leaves []*models.Condition
	for _, op := range sortedKeys(opNode) {
		if op == keyType {
			continue
		}
		value := opNode[op]
		switch op {
		case models.OpEq, models.OpNeq, models.OpGt, models.OpGte, models.OpLt, models.OpLte,
			models.OpLike, models.OpIlike, models.OpNlike:
			scalar, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("field '%s': operator '%s' expects a scalar", field, op)
			}
			coerced, err := coerce(scalar, hint)
			if err != nil {
				return nil, fmt.Errorf("field '%s': %w", field, err)
			}
			leaves = append(leaves, &models.Condition{Field: field, Operator: op, Value: coerced})

		case models.OpBetween:
			bounds, err := coerceList(field, value, hint)
			if err != nil {
				return nil, err
			}
			if len(bounds) != 2 {
				return nil, fmt.Errorf("field '%s': between expects exactly two values", field)
			}
			leaves = append(leaves, &models.Condition{Field: field, Operator: op, Value: bounds})

		case models.OpInq, models.OpNin:
			items, err := coerceList(field, value, hint)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				return nil, fmt.Errorf("field '%s': %s expects at least one value", field, op)
			}
			leaves = append(leaves, &models.Condition{Field: field, Operator: op, Value: items})

		default:
			return nil, fmt.Errorf("field '%s': unknown operator '%s'", field, op)
		}
	}

	if len(leaves) == 0 {
		return nil, fmt.Errorf("field '%s' condition is empty", field)
	}
	return leaves, nil
}

func coerceList(field string, raw interface{}, hint string) ([]interface{}, error) {
	group, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field '%s': expected an indexed value list", field)
	}
	list, ok := asList(group)
	if !ok {
		return nil, fmt.Errorf("field '%s': expected an indexed value list", field)
	}

	items := make([]interface{}, 0, len(list))
	for _, item := range list {
		scalar, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("field '%s': list values must be scalars", field)
		}
		coerced, err := coerce(scalar, hint)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", field, err)
		}
		items = append(items, coerced)
	}
	return items, nil
}

// coerce applies the type hint, or infers from the literal's lexical form:
// "null" becomes a null test, ISO8601 a date, a numeric literal a number,
// everything else stays a string.
func coerce(raw string, hint string) (interface{}, error) {
	switch hint {
	case models.TypeHintNumber:
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("'%s' is not a number", raw)
		}
		return value, nil
	case models.TypeHintDate:
		value, err := parseDate(raw)
		if err != nil {
			return nil, err
		}
		return value, nil
	}

	if raw == "null" {
		return models.NullValue{}, nil
	}
	if iso8601Literal.MatchString(raw) {
		if value, err := parseDate(raw); err == nil {
			return value, nil
		}
	}
	if numericLiteral.MatchString(raw) {
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			return value, nil
		}
	}
	return raw, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if value, err := time.Parse(layout, raw); err == nil {
			return value.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("'%s' is not an ISO8601 date", raw)
}

// parseOrder accepts a single "field DIRECTION" string or an indexed list of
// them, applied in list order.
func parseOrder(raw interface{}) ([]models.SortKey, error) {
	var entries []string
	switch typed := raw.(type) {
	case string:
		entries = []string{typed}
	case map[string]interface{}:
		list, ok := asList(typed)
		if !ok {
			return nil, fmt.Errorf("filter[order] must be a string or an indexed list")
		}
		for _, item := range list {
			entry, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("filter[order] entries must be strings")
			}
			entries = append(entries, entry)
		}
	default:
		return nil, fmt.Errorf("filter[order] must be a string or an indexed list")
	}

	keys := make([]models.SortKey, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Fields(entry)
		switch len(parts) {
		case 1:
			keys = append(keys, models.SortKey{Field: parts[0]})
		case 2:
			switch strings.ToUpper(parts[1]) {
			case "ASC":
				keys = append(keys, models.SortKey{Field: parts[0]})
			case "DESC":
				keys = append(keys, models.SortKey{Field: parts[0], Descending: true})
			default:
				return nil, fmt.Errorf("invalid sort direction '%s'", parts[1])
			}
		default:
			return nil, fmt.Errorf("invalid sort entry '%s'", entry)
		}
	}
	return keys, nil
}

func parseNonNegative(raw interface{}, name string) (*int64, error) {
	scalar, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("filter[%s] must be an integer", name)
	}
	value, err := strconv.ParseInt(scalar, 10, 64)
	if err != nil || value < 0 {
		return nil, fmt.Errorf("filter[%s] must be a non-negative integer", name)
	}
	return &value, nil
}

func parseFields(raw interface{}) (map[string]bool, error) {
	node, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("filter[fields] must be an object of field booleans")
	}

	fields := make(map[string]bool, len(node))
	for name, rawValue := range node {
		scalar, ok := rawValue.(string)
		if !ok {
			return nil, fmt.Errorf("filter[fields][%s] must be a boolean", name)
		}
		value, err := strconv.ParseBool(scalar)
		if err != nil {
			return nil, fmt.Errorf("filter[fields][%s] must be a boolean", name)
		}
		fields[name] = value
	}
	return fields, nil
}

func parseLookups(raw interface{}, limits Limits) ([]models.LookupSpec, error) {
	node, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("filter[lookup] must be an indexed list")
	}
	list, ok := asList(node)
	if !ok {
		return nil, fmt.Errorf("filter[lookup] must be an indexed list")
	}

	lookups := make([]models.LookupSpec, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("filter[lookup] entries must be objects")
		}

		prop, ok := entry["prop"].(string)
		if !ok || prop == "" {
			// include entries name their target "relation".
			prop, ok = entry["relation"].(string)
		}
		if !ok || prop == "" {
			return nil, fmt.Errorf("lookup entries require a prop or relation name")
		}

		lookup := models.LookupSpec{Prop: prop}
		if rawScope, present := entry["scope"]; present {
			scopeNode, ok := rawScope.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("filter[lookup][%s][scope] must be an object", prop)
			}
			scope, err := parseSpec(scopeNode, limits, false)
			if err != nil {
				return nil, err
			}
			lookup.Scope = scope
		}
		lookups = append(lookups, lookup)
	}
	return lookups, nil
}

func sortedKeys(node map[string]interface{}) []string {
	keys := make([]string, 0, len(node))
	for key := range node {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
