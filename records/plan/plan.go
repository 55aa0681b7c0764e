// Package plan compiles a normalized filter, set expression and access
// predicate into one repository query and executes it, applying endpoint
// joins, projection and recursive lookups in a fixed stage order:
// match, join, sort, paginate, project, lookup-resolve.
package plan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/recordbase/recordbase/internal/database/interfaces"
	"github.com/recordbase/recordbase/internal/platform/config"
	"github.com/recordbase/recordbase/records/filter"
	"github.com/recordbase/recordbase/records/models"
)

// Compiler executes compiled query plans against the repository.
type Compiler struct {
	repo interfaces.Repository
	cfg  *config.Config
}

// NewCompiler creates a plan compiler bound to a repository and the process
// configuration.
func NewCompiler(repo interfaces.Repository, cfg *config.Config) *Compiler {
	return &Compiler{repo: repo, cfg: cfg}
}

// EndpointScope carries the independently-supplied conditions for one side
// of a relation query (listFilter/listSet or entityFilter/entitySet).
type EndpointScope struct {
	Filter *models.FilterSpec
	Set    *models.SetSpec
	Access *models.Condition
}

// Query is one compiled read: the caller's filter, set expression and access
// predicate for the target family, plus an optional extra condition (id
// match, parents traversal) and relation endpoint scopes.
type Query struct {
	Family config.FamilyConfig
	Filter *models.FilterSpec
	Set    *models.SetSpec
	Access *models.Condition
	Extra  *models.Condition

	// Relation endpoint scoping. A non-nil scope enforces inner-join
	// semantics: relations whose endpoint fails it are dropped.
	ListScope   *EndpointScope
	EntityScope *EndpointScope

	// HydrateEndpoints attaches _fromMetadata/_toMetadata to relation rows.
	HydrateEndpoints bool
}

// Execute runs the query and returns the matching documents. The result is
// always a non-nil slice; no match is an empty slice, never null.
func (c *Compiler) Execute(ctx context.Context, q Query) ([]map[string]interface{}, error) {
	where, err := c.buildWhere(q)
	if err != nil {
		return nil, err
	}

	opts := &interfaces.FindOptions{}
	var fields map[string]bool
	var lookups []models.LookupSpec
	if q.Filter != nil {
		opts.Sort = translateSort(q.Filter.Order)
		opts.Limit = q.Filter.Limit
		opts.Skip = q.Filter.Skip
		fields = q.Filter.Fields
		lookups = q.Filter.Lookup
	}

	queryResult := <-c.repo.Find(ctx, q.Family.Collection, where, opts)
	if err := queryResult.Error(); err != nil {
		return nil, err
	}
	defer queryResult.Close()

	docs := []map[string]interface{}{}
	for queryResult.Next() {
		var doc map[string]interface{}
		if err := queryResult.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := queryResult.Error(); err != nil {
		return nil, err
	}

	if q.ListScope != nil || q.EntityScope != nil || q.HydrateEndpoints {
		if err := c.hydrateEndpoints(ctx, docs, q); err != nil {
			return nil, err
		}
	}

	retain := lookupProps(lookups)
	for i, doc := range docs {
		docs[i] = projectDoc(doc, fields, retain)
	}

	if err := c.resolveLookups(ctx, docs, lookups, q.Access, 0); err != nil {
		return nil, err
	}

	return docs, nil
}

// Count counts the documents the equivalent Execute would match, before
// pagination.
func (c *Compiler) Count(ctx context.Context, q Query) (int64, error) {
	where, err := c.buildWhere(q)
	if err != nil {
		return 0, err
	}

	countResult := <-c.repo.Count(ctx, q.Family.Collection, where)
	if countResult.Error != nil {
		return 0, countResult.Error
	}
	return countResult.Count, nil
}

// buildWhere merges filter, set, access predicate and extra condition into
// one condition tree, plus correlated endpoint subqueries for relations.
func (c *Compiler) buildWhere(q Query) (*interfaces.Node, error) {
	var parts []*interfaces.Node

	if q.Filter != nil && q.Filter.Where != nil {
		node, err := Translate(q.Filter.Where)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
	}

	if compiled := filter.CompileSet(q.Set); compiled != nil {
		node, err := Translate(compiled)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
	}

	for _, cond := range []*models.Condition{q.Access, q.Extra} {
		if cond == nil {
			continue
		}
		node, err := Translate(cond)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
	}

	if q.ListScope != nil {
		node, err := c.endpointExists(config.FamilyList, models.FieldListURI, q.ListScope)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
	}
	if q.EntityScope != nil {
		node, err := c.endpointExists(config.FamilyEntity, models.FieldEntityURI, q.EntityScope)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
	}

	return interfaces.And(parts...), nil
}

func (c *Compiler) endpointExists(family, uriField string, scope *EndpointScope) (*interfaces.Node, error) {
	fc, ok := c.cfg.Family(family)
	if !ok {
		return nil, fmt.Errorf("unknown record family '%s'", family)
	}

	inner, err := c.endpointWhere(scope)
	if err != nil {
		return nil, err
	}

	return &interfaces.Node{Exists: &interfaces.Exists{
		Collection: fc.Collection,
		URIField:   uriField,
		Where:      inner,
	}}, nil
}

func (c *Compiler) endpointWhere(scope *EndpointScope) (*interfaces.Node, error) {
	var conds []*models.Condition
	if scope.Filter != nil && scope.Filter.Where != nil {
		conds = append(conds, scope.Filter.Where)
	}
	if compiled := filter.CompileSet(scope.Set); compiled != nil {
		conds = append(conds, compiled)
	}
	if scope.Access != nil {
		conds = append(conds, scope.Access)
	}

	var parts []*interfaces.Node
	for _, cond := range conds {
		node, err := Translate(cond)
		if err != nil {
			return nil, err
		}
		parts = append(parts, node)
	}
	return interfaces.And(parts...), nil
}

// hydrateEndpoints attaches the endpoint documents of relation rows as
// _fromMetadata (list side) and _toMetadata (entity side). The endpoint
// fetch reuses each scope's conditions so hydration never shows a document
// the join itself would have rejected.
func (c *Compiler) hydrateEndpoints(ctx context.Context, docs []map[string]interface{}, q Query) error {
	if len(docs) == 0 {
		return nil
	}

	sides := []struct {
		family  string
		idField string
		metaKey string
		scope   *EndpointScope
	}{
		{config.FamilyList, models.FieldListID, models.FieldFromMetadata, q.ListScope},
		{config.FamilyEntity, models.FieldEntityID, models.FieldToMetadata, q.EntityScope},
	}

	for _, side := range sides {
		var ids []string
		seen := map[string]bool{}
		for _, doc := range docs {
			if id, ok := doc[side.idField].(string); ok && id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}

		fc, ok := c.cfg.Family(side.family)
		if !ok {
			return fmt.Errorf("unknown record family '%s'", side.family)
		}

		var extra *interfaces.Node
		if side.scope != nil {
			inner, err := c.endpointWhere(side.scope)
			if err != nil {
				return err
			}
			extra = inner
		}

		byID, err := c.fetchByIDs(ctx, fc.Collection, ids, extra)
		if err != nil {
			return err
		}

		var scopeFields map[string]bool
		if side.scope != nil && side.scope.Filter != nil {
			scopeFields = side.scope.Filter.Fields
		}

		for _, doc := range docs {
			id, _ := doc[side.idField].(string)
			if target, ok := byID[id]; ok {
				doc[side.metaKey] = projectDoc(target, scopeFields, nil)
			}
		}
	}

	return nil
}

// fetchByIDs loads documents by id, optionally narrowed by an extra
// condition, and indexes them by id.
func (c *Compiler) fetchByIDs(ctx context.Context, collection string, ids []string, extra *interfaces.Node) (map[string]map[string]interface{}, error) {
	where := interfaces.And(
		interfaces.NewField(interfaces.Field{
			Name:     models.FieldID,
			Operator: interfaces.OpAny,
			Value:    ids,
		}),
		extra,
	)

	queryResult := <-c.repo.Find(ctx, collection, where, nil)
	if err := queryResult.Error(); err != nil {
		return nil, err
	}
	defer queryResult.Close()

	byID := make(map[string]map[string]interface{}, len(ids))
	for queryResult.Next() {
		var doc map[string]interface{}
		if err := queryResult.Decode(&doc); err != nil {
			return nil, err
		}
		if id, ok := doc[models.FieldID].(string); ok {
			byID[id] = doc
		}
	}
	return byID, queryResult.Error()
}

// resolveLookups replaces reference URIs held by each lookup prop with the
// target documents, filtered, ordered, paginated and projected by the
// lookup's scope. Dangling or scope-excluded references are dropped
// silently. Recursion stops at the configured safety depth.
func (c *Compiler) resolveLookups(ctx context.Context, docs []map[string]interface{}, lookups []models.LookupSpec, access *models.Condition, depth int) error {
	if len(lookups) == 0 || len(docs) == 0 {
		return nil
	}
	if depth >= c.cfg.Records.MaxLookupDepth {
		return nil
	}

	for _, lookup := range lookups {
		if err := c.resolveLookup(ctx, docs, lookup, access, depth); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) resolveLookup(ctx context.Context, docs []map[string]interface{}, lookup models.LookupSpec, access *models.Condition, depth int) error {
	// Gather referenced ids per target collection across every document.
	idsByCollection := map[string][]string{}
	seen := map[string]bool{}
	for _, doc := range docs {
		for _, ref := range refsOf(doc[lookup.Prop]) {
			collection, id, ok := ParseRefURI(ref)
			if !ok || !c.collectionKnown(collection) || seen[ref] {
				continue
			}
			seen[ref] = true
			idsByCollection[collection] = append(idsByCollection[collection], id)
		}
	}

	// Fetch candidates, narrowed by the lookup scope's where/set and the
	// requester's access predicate.
	var scopeConds []*models.Condition
	if lookup.Scope != nil && lookup.Scope.Where != nil {
		scopeConds = append(scopeConds, lookup.Scope.Where)
	}
	if access != nil {
		scopeConds = append(scopeConds, access)
	}
	var extra *interfaces.Node
	if len(scopeConds) > 0 {
		node, err := Translate(&models.Condition{And: scopeConds})
		if err != nil {
			return err
		}
		extra = node
	}

	resolvedByRef := map[string]map[string]interface{}{}
	for collection, ids := range idsByCollection {
		byID, err := c.fetchByIDs(ctx, collection, ids, extra)
		if err != nil {
			return err
		}
		for id, doc := range byID {
			resolvedByRef[refKey(collection, id)] = doc
		}
	}

	// Resolve nested lookups once across all fetched documents before the
	// per-owner projection copies them.
	if lookup.Scope != nil && len(lookup.Scope.Lookup) > 0 {
		all := make([]map[string]interface{}, 0, len(resolvedByRef))
		for _, doc := range resolvedByRef {
			all = append(all, doc)
		}
		if err := c.resolveLookups(ctx, all, lookup.Scope.Lookup, access, depth+1); err != nil {
			return err
		}
	}

	var scopeFields map[string]bool
	var scopeOrder []models.SortKey
	var scopeLimit, scopeSkip *int64
	var retain map[string]bool
	if lookup.Scope != nil {
		scopeFields = lookup.Scope.Fields
		scopeOrder = lookup.Scope.Order
		scopeLimit = lookup.Scope.Limit
		scopeSkip = lookup.Scope.Skip
		retain = lookupProps(lookup.Scope.Lookup)
	}

	for _, doc := range docs {
		raw, present := doc[lookup.Prop]
		if !present {
			continue
		}

		_, isScalar := raw.(string)

		var resolved []map[string]interface{}
		for _, ref := range refsOf(raw) {
			collection, id, ok := ParseRefURI(ref)
			if !ok {
				continue
			}
			if target, found := resolvedByRef[refKey(collection, id)]; found {
				resolved = append(resolved, target)
			}
		}

		sortDocs(resolved, scopeOrder)
		resolved = paginateDocs(resolved, scopeSkip, scopeLimit)

		projected := make([]interface{}, 0, len(resolved))
		for _, target := range resolved {
			projected = append(projected, projectDoc(target, scopeFields, retain))
		}

		if isScalar {
			if len(projected) > 0 {
				doc[lookup.Prop] = projected[0]
			} else {
				delete(doc, lookup.Prop)
			}
			continue
		}
		doc[lookup.Prop] = projected
	}

	return nil
}

func refKey(collection, id string) string {
	return collection + "/" + id
}

// refsOf extracts the reference URI strings of a scalar or array property.
func refsOf(raw interface{}) []string {
	switch typed := raw.(type) {
	case string:
		return []string{typed}
	case []interface{}:
		refs := make([]string, 0, len(typed))
		for _, item := range typed {
			if ref, ok := item.(string); ok {
				refs = append(refs, ref)
			}
		}
		return refs
	case []string:
		return typed
	}
	return nil
}

func (c *Compiler) collectionKnown(collection string) bool {
	for _, fc := range c.cfg.Records.Families {
		if fc.Collection == collection {
			return true
		}
	}
	return false
}

// lookupProps names the properties lookups need, so projection retains them.
func lookupProps(lookups []models.LookupSpec) map[string]bool {
	if len(lookups) == 0 {
		return nil
	}
	props := make(map[string]bool, len(lookups))
	for _, lookup := range lookups {
		props[lookup.Prop] = true
	}
	return props
}

// projectDoc applies a fields map to one document. Any true value switches
// the whole map to allow-list mode (false entries are then ignored); an
// all-false map is a deny-list. The id field and lookup props always
// survive an allow-list.
func projectDoc(doc map[string]interface{}, fields map[string]bool, retain map[string]bool) map[string]interface{} {
	if len(fields) == 0 {
		return doc
	}

	allowList := false
	for _, included := range fields {
		if included {
			allowList = true
			break
		}
	}

	out := make(map[string]interface{}, len(doc))
	if allowList {
		for name, value := range doc {
			if fields[name] || name == models.FieldID || retain[name] {
				out[name] = value
			}
		}
		return out
	}

	for name, value := range doc {
		if _, denied := fields[name]; denied && !retain[name] {
			continue
		}
		out[name] = value
	}
	return out
}

// sortDocs orders documents in-process by the given keys, used for lookup
// scopes whose pagination applies per owning record.
func sortDocs(docs []map[string]interface{}, keys []models.SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range keys {
			cmp := compareValues(docs[i][key.Field], docs[j][key.Field])
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

func paginateDocs(docs []map[string]interface{}, skip, limit *int64) []map[string]interface{} {
	if skip != nil {
		if *skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[*skip:]
	}
	if limit != nil && *limit < int64(len(docs)) {
		docs = docs[:*limit]
	}
	return docs
}

// compareValues orders two document values: nil first, then numbers, then
// everything else as strings. ISO8601 strings order chronologically as a
// byproduct of lexical order.
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	na, aIsNum := toFloat(a)
	nb, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}

	sa := fmt.Sprint(a)
	sb := fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(value interface{}) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case time.Time:
		return float64(typed.UnixNano()), true
	}
	return 0, false
}
