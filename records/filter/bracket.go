package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Explode collects every query key under prefix (e.g. "filter", "set",
// "listFilter") and rebuilds the nested object the bracket syntax encodes:
// "filter[where][and][0][rating][gt]=3" becomes
// {where: {and: {0: {rating: {gt: "3"}}}}}. Index keys stay strings; asList
// turns an all-numeric level back into an ordered slice.
func Explode(values map[string]string, prefix string) (map[string]interface{}, error) {
	root := make(map[string]interface{})

	for rawKey, value := range values {
		segments, err := splitKey(rawKey)
		if err != nil {
			return nil, err
		}
		if len(segments) == 0 || segments[0] != prefix {
			continue
		}

		// A bare "filter=..." key carries no structure.
		if len(segments) == 1 {
			return nil, fmt.Errorf("query key '%s' must use bracket syntax", rawKey)
		}

		node := root
		for i := 1; i < len(segments)-1; i++ {
			seg := segments[i]
			child, ok := node[seg]
			if !ok {
				next := make(map[string]interface{})
				node[seg] = next
				node = next
				continue
			}
			childMap, ok := child.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("query key '%s' conflicts with an earlier scalar value", rawKey)
			}
			node = childMap
		}

		leaf := segments[len(segments)-1]
		if _, exists := node[leaf]; exists {
			if _, isMap := node[leaf].(map[string]interface{}); isMap {
				return nil, fmt.Errorf("query key '%s' conflicts with an earlier nested value", rawKey)
			}
		}
		node[leaf] = value
	}

	return root, nil
}

// splitKey parses "filter[where][and][0][x]" into its bracket segments.
func splitKey(key string) ([]string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return []string{key}, nil
	}

	segments := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return nil, fmt.Errorf("malformed query key '%s'", key)
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return nil, fmt.Errorf("unbalanced bracket in query key '%s'", key)
		}
		segments = append(segments, rest[1:close])
		rest = rest[close+1:]
	}
	return segments, nil
}

// asList converts a map whose keys are all numeric indexes into a slice
// ordered by index. Returns false when any key is non-numeric or the map is
// empty.
func asList(node map[string]interface{}) ([]interface{}, bool) {
	if len(node) == 0 {
		return nil, false
	}

	type indexed struct {
		index int
		value interface{}
	}
	entries := make([]indexed, 0, len(node))
	for key, value := range node {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 {
			return nil, false
		}
		entries = append(entries, indexed{index, value})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	list := make([]interface{}, len(entries))
	for i, entry := range entries {
		list[i] = entry.value
	}
	return list, true
}
