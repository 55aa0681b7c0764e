package services

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/recordbase/recordbase/internal/database/interfaces"
)

// FakeRepository is an in-memory Repository used by service and plan tests.
// It evaluates condition trees against stored documents with the same
// semantics the SQL builder compiles to, including correlated EXISTS checks.
type FakeRepository struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]interface{} // collection -> objectID -> doc
	order       map[string][]string                          // insertion order per collection
}

// NewFakeRepository creates an empty in-memory repository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		collections: map[string]map[string]map[string]interface{}{},
		order:       map[string][]string{},
	}
}

func (f *FakeRepository) collection(name string) map[string]map[string]interface{} {
	if _, ok := f.collections[name]; !ok {
		f.collections[name] = map[string]map[string]interface{}{}
	}
	return f.collections[name]
}

// Save stores a document, enforcing object id uniqueness.
func (f *FakeRepository) Save(ctx context.Context, collectionName string, objectID string, createdDate, lastUpdated int64, data interface{}) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult, 1)
	defer close(result)

	doc, err := toDoc(data)
	if err != nil {
		result <- interfaces.RepositoryResult{Error: err}
		return result
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	coll := f.collection(collectionName)
	if _, exists := coll[objectID]; exists {
		result <- interfaces.RepositoryResult{Error: interfaces.ErrDuplicateKey}
		return result
	}
	coll[objectID] = doc
	f.order[collectionName] = append(f.order[collectionName], objectID)
	result <- interfaces.RepositoryResult{Result: int64(len(coll))}
	return result
}

// Find evaluates the condition tree over the collection in insertion order,
// then applies sort, skip and limit.
func (f *FakeRepository) Find(ctx context.Context, collectionName string, where *interfaces.Node, opts *interfaces.FindOptions) <-chan interfaces.QueryResult {
	result := make(chan interfaces.QueryResult, 1)
	defer close(result)

	f.mu.RLock()
	defer f.mu.RUnlock()

	matched := f.match(collectionName, where)

	if opts != nil && len(opts.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, key := range opts.Sort {
				cmp := compareFakeValues(matched[i][key.Property], matched[j][key.Property])
				if cmp == 0 {
					continue
				}
				if key.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	if opts != nil && opts.Skip != nil {
		if *opts.Skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[*opts.Skip:]
		}
	}
	if opts != nil && opts.Limit != nil && *opts.Limit < int64(len(matched)) {
		matched = matched[:*opts.Limit]
	}

	result <- &fakeQueryResult{docs: matched}
	return result
}

// FindOne returns the first matching document.
func (f *FakeRepository) FindOne(ctx context.Context, collectionName string, where *interfaces.Node) <-chan interfaces.SingleResult {
	result := make(chan interfaces.SingleResult, 1)
	defer close(result)

	f.mu.RLock()
	defer f.mu.RUnlock()

	matched := f.match(collectionName, where)
	if len(matched) == 0 {
		result <- &fakeSingleResult{}
		return result
	}
	result <- &fakeSingleResult{doc: matched[0]}
	return result
}

// Update replaces the stored document for an object id.
func (f *FakeRepository) Update(ctx context.Context, collectionName string, objectID string, data interface{}) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult, 1)
	defer close(result)

	doc, err := toDoc(data)
	if err != nil {
		result <- interfaces.RepositoryResult{Error: err}
		return result
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	coll := f.collection(collectionName)
	if _, exists := coll[objectID]; !exists {
		result <- interfaces.RepositoryResult{Error: interfaces.ErrNoDocuments}
		return result
	}
	coll[objectID] = doc
	result <- interfaces.RepositoryResult{Result: "OK"}
	return result
}

// Delete removes every matching document.
func (f *FakeRepository) Delete(ctx context.Context, collectionName string, where *interfaces.Node) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult, 1)
	defer close(result)

	f.mu.Lock()
	defer f.mu.Unlock()

	coll := f.collection(collectionName)
	var deleted int64
	var kept []string
	for _, objectID := range f.order[collectionName] {
		doc, ok := coll[objectID]
		if ok && f.eval(doc, where) {
			delete(coll, objectID)
			deleted++
			continue
		}
		kept = append(kept, objectID)
	}
	f.order[collectionName] = kept

	result <- interfaces.RepositoryResult{Result: deleted}
	return result
}

// DeleteMany removes documents for several independent condition trees.
func (f *FakeRepository) DeleteMany(ctx context.Context, collectionName string, wheres []*interfaces.Node) <-chan interfaces.RepositoryResult {
	result := make(chan interfaces.RepositoryResult, 1)
	defer close(result)

	var total int64
	for _, where := range wheres {
		partial := <-f.Delete(ctx, collectionName, where)
		if partial.Error != nil {
			result <- partial
			return result
		}
		if n, ok := partial.Result.(int64); ok {
			total += n
		}
	}
	result <- interfaces.RepositoryResult{Result: total}
	return result
}

// Count counts matching documents.
func (f *FakeRepository) Count(ctx context.Context, collectionName string, where *interfaces.Node) <-chan interfaces.CountResult {
	result := make(chan interfaces.CountResult, 1)
	defer close(result)

	f.mu.RLock()
	defer f.mu.RUnlock()
	result <- interfaces.CountResult{Count: int64(len(f.match(collectionName, where)))}
	return result
}

// Ping always succeeds.
func (f *FakeRepository) Ping(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	result <- nil
	close(result)
	return result
}

// Close is a no-op.
func (f *FakeRepository) Close() error { return nil }

// match returns matching documents in insertion order. Callers hold the lock.
func (f *FakeRepository) match(collectionName string, where *interfaces.Node) []map[string]interface{} {
	coll := f.collections[collectionName]
	var matched []map[string]interface{}
	for _, objectID := range f.order[collectionName] {
		doc, ok := coll[objectID]
		if ok && f.eval(doc, where) {
			matched = append(matched, doc)
		}
	}
	return matched
}

func (f *FakeRepository) eval(doc map[string]interface{}, node *interfaces.Node) bool {
	if node == nil {
		return true
	}

	switch {
	case node.Field != nil:
		return evalField(doc, node.Field)
	case len(node.And) > 0:
		for _, child := range node.And {
			if !f.eval(doc, child) {
				return false
			}
		}
		return true
	case len(node.Or) > 0:
		for _, child := range node.Or {
			if f.eval(doc, child) {
				return true
			}
		}
		return false
	case node.Exists != nil:
		return f.evalExists(doc, node.Exists)
	}
	return false
}

// evalExists follows the outer document's reference URI to the sibling
// collection, mirroring the correlated subquery the SQL builder emits.
func (f *FakeRepository) evalExists(doc map[string]interface{}, ex *interfaces.Exists) bool {
	uri, _ := doc[ex.URIField].(string)
	if uri == "" {
		return false
	}
	segments := strings.Split(strings.TrimRight(uri, "/"), "/")
	id := segments[len(segments)-1]

	target, ok := f.collections[ex.Collection][id]
	if !ok {
		return false
	}
	return f.eval(target, ex.Where)
}

func evalField(doc map[string]interface{}, field *interfaces.Field) bool {
	stored, present := doc[field.Name]

	switch field.Operator {
	case interfaces.OpIsNull:
		return !present || stored == nil
	case interfaces.OpIsNotNull:
		return present && stored != nil
	}

	if !present || stored == nil {
		return false
	}

	switch field.Operator {
	case interfaces.OpEq:
		return compareFakeValues(stored, field.Value) == 0
	case interfaces.OpNeq:
		return compareFakeValues(stored, field.Value) != 0
	case interfaces.OpGt:
		return compareFakeValues(stored, field.Value) > 0
	case interfaces.OpGte:
		return compareFakeValues(stored, field.Value) >= 0
	case interfaces.OpLt:
		return compareFakeValues(stored, field.Value) < 0
	case interfaces.OpLte:
		return compareFakeValues(stored, field.Value) <= 0

	case interfaces.OpRegex, interfaces.OpRegexI, interfaces.OpNotRegex:
		pattern, _ := field.Value.(string)
		if field.Operator == interfaces.OpRegexI {
			pattern = "(?i)" + pattern
		}
		matched, err := regexp.MatchString(pattern, asString(stored))
		if err != nil {
			return false
		}
		if field.Operator == interfaces.OpNotRegex {
			return !matched
		}
		return matched

	case interfaces.OpAny:
		for _, candidate := range valueSlice(field.Value) {
			if compareFakeValues(stored, candidate) == 0 {
				return true
			}
		}
		return false

	case interfaces.OpNotAny:
		for _, candidate := range valueSlice(field.Value) {
			if compareFakeValues(stored, candidate) == 0 {
				return false
			}
		}
		return true

	case interfaces.OpContainsAny:
		storedItems := valueSlice(stored)
		for _, candidate := range valueSlice(field.Value) {
			for _, item := range storedItems {
				if compareFakeValues(item, candidate) == 0 {
					return true
				}
			}
		}
		return false
	}

	return false
}

type fakeQueryResult struct {
	docs  []map[string]interface{}
	index int
}

func (r *fakeQueryResult) Next() bool {
	if r.index >= len(r.docs) {
		return false
	}
	r.index++
	return true
}

func (r *fakeQueryResult) Decode(v interface{}) error {
	payload, err := json.Marshal(r.docs[r.index-1])
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}

func (r *fakeQueryResult) Close()       {}
func (r *fakeQueryResult) Error() error { return nil }

type fakeSingleResult struct {
	doc map[string]interface{}
}

func (r *fakeSingleResult) Decode(v interface{}) error {
	if r.doc == nil {
		return interfaces.ErrNoDocuments
	}
	payload, err := json.Marshal(r.doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}

func (r *fakeSingleResult) Error() error  { return nil }
func (r *fakeSingleResult) NoResult() bool { return r.doc == nil }

func toDoc(data interface{}) (map[string]interface{}, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func valueSlice(raw interface{}) []interface{} {
	switch typed := raw.(type) {
	case []interface{}:
		return typed
	case []string:
		out := make([]interface{}, len(typed))
		for i, s := range typed {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]interface{}, len(typed))
		for i, n := range typed {
			out[i] = n
		}
		return out
	}
	return []interface{}{raw}
}

// compareFakeValues compares a stored JSON value with a query value,
// bridging the representations the SQL casts reconcile: numbers compare
// numerically and time values compare against RFC3339 strings.
func compareFakeValues(stored, queried interface{}) int {
	if t, ok := queried.(time.Time); ok {
		if storedTime, err := parseFakeTime(stored); err == nil {
			switch {
			case storedTime.Before(t):
				return -1
			case storedTime.After(t):
				return 1
			}
			return 0
		}
		return strings.Compare(asString(stored), t.Format(time.RFC3339Nano))
	}

	if qn, ok := asFloat(queried); ok {
		if sn, ok := asFloat(stored); ok {
			switch {
			case sn < qn:
				return -1
			case sn > qn:
				return 1
			}
			return 0
		}
	}

	return strings.Compare(asString(stored), asString(queried))
}

func parseFakeTime(raw interface{}) (time.Time, error) {
	s, _ := raw.(string)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func asFloat(raw interface{}) (float64, bool) {
	switch typed := raw.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	}
	return 0, false
}

func asString(raw interface{}) string {
	if s, ok := raw.(string); ok {
		return s
	}
	payload, _ := json.Marshal(raw)
	return string(payload)
}
