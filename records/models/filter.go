package models

import "time"

// Filter operators as they appear in the query grammar.
const (
	OpEq      = "eq"
	OpNeq     = "neq"
	OpGt      = "gt"
	OpGte     = "gte"
	OpLt      = "lt"
	OpLte     = "lte"
	OpBetween = "between"
	OpInq     = "inq"
	OpNin     = "nin"
	OpLike    = "like"
	OpIlike   = "ilike"
	OpNlike   = "nlike"
)

// OpContainsAny is produced internally by set compilation (audience checks)
// for array-overlap tests. It is not part of the query grammar.
const OpContainsAny = "containsAny"

// Type hints accepted on a condition leaf.
const (
	TypeHintNumber = "number"
	TypeHintDate   = "date"
)

// Condition is the recursive boolean expression tree of a where clause.
// Exactly one of the leaf fields (Field set) or the combinators is used.
type Condition struct {
	Field    string
	Operator string
	Value    interface{}
	And      []*Condition
	Or       []*Condition
}

// IsLeaf reports whether the condition is a field predicate.
func (c *Condition) IsLeaf() bool {
	return c != nil && c.Field != ""
}

// NullValue marks an explicit null test (the literal "null" with eq/neq).
type NullValue struct{}

// SortKey is one key of an ordered multi-key sort.
type SortKey struct {
	Field      string
	Descending bool
}

// FilterSpec is the normalized form of a filter[...] query. Limit and Skip
// are pointers so "absent" and "zero" stay distinguishable until defaults
// apply.
type FilterSpec struct {
	Where  *Condition
	Order  []SortKey
	Limit  *int64
	Skip   *int64
	Fields map[string]bool
	Lookup []LookupSpec
}

// LookupSpec asks for the reference URIs held by Prop to be resolved into
// their target documents, filtered and projected by Scope. Scope may carry
// nested lookups of its own.
type LookupSpec struct {
	Prop  string
	Scope *FilterSpec
}

// SetSpec is a named convenience predicate, composable with and/or. Multiple
// members set on the same spec combine with implicit AND.
type SetSpec struct {
	Actives  bool
	Publics  bool
	Audience *AudienceSpec
	And      []*SetSpec
	Or       []*SetSpec
}

// IsZero reports whether no set selection was requested.
func (s *SetSpec) IsZero() bool {
	return s == nil ||
		(!s.Actives && !s.Publics && s.Audience == nil && len(s.And) == 0 && len(s.Or) == 0)
}

// AudienceSpec names the identities whose ownership or viewership grants a
// match. An absent side is omitted from the check, never vacuously true.
type AudienceSpec struct {
	UserIDs  []string
	GroupIDs []string
}

// Now is the clock used when compiling time-dependent predicates. Swapped in
// tests to pin the validity-window boundary.
var Now = func() time.Time { return time.Now().UTC() }
