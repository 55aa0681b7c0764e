// Copyright (c) 2025 Recordbase
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package interfaces

// Abstract operators understood by every repository implementation. Scalar
// comparison operators carry their SQL spelling; the named ones are translated
// per backend.
const (
	OpEq       = "="
	OpNeq      = "<>"
	OpGt       = ">"
	OpGte      = ">="
	OpLt       = "<"
	OpLte      = "<="
	OpRegex    = "REGEX"   // case-sensitive regular expression match
	OpRegexI   = "REGEX_I" // case-insensitive regular expression match
	OpNotRegex = "NOT_REGEX"

	// Array-valued operators. Value must be a slice.
	OpAny         = "ANY"          // scalar field equals any of the values
	OpNotAny      = "NOT_ANY"      // scalar field equals none of the values
	OpContainsAny = "CONTAINS_ANY" // JSON array field intersects the values

	// Presence tests. For JSON documents these treat an absent key and an
	// explicit JSON null identically.
	OpIsNull    = "IS_NULL"
	OpIsNotNull = "IS_NOT_NULL"
)

// Field represents a single predicate over a document property.
type Field struct {
	Name     string      // The document property name (e.g. "_kind", "rating").
	Operator string      // One of the Op* constants.
	Value    interface{} // The value to query against; nil for presence tests.
	Cast     string      // Optional value cast (e.g. "::numeric", "::timestamptz").
	IsJSON   bool        // True to address the raw JSON value (arrays, null tests).
}

// Node is a recursive, database-agnostic boolean condition tree. Exactly one
// of the members is set. This pattern keeps the service layer's intent
// explicit and decouples the repositories from any field-name knowledge.
type Node struct {
	Field  *Field
	And    []*Node
	Or     []*Node
	Exists *Exists
}

// Exists scopes the outer document by a correlated condition on a sibling
// collection: the outer property named URIField holds a reference URI whose
// trailing path segment is the sibling document's object id.
type Exists struct {
	Collection string
	URIField   string
	Where      *Node
}

// NewField wraps a single predicate into a condition tree.
func NewField(f Field) *Node {
	return &Node{Field: &f}
}

// And combines condition trees conjunctively, flattening nils.
func And(nodes ...*Node) *Node {
	kept := prune(nodes)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Node{And: kept}
}

// Or combines condition trees disjunctively, flattening nils.
func Or(nodes ...*Node) *Node {
	kept := prune(nodes)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Node{Or: kept}
}

func prune(nodes []*Node) []*Node {
	var kept []*Node
	for _, n := range nodes {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return kept
}

// SortField is one key of a stable multi-key sort, applied in slice order.
type SortField struct {
	Property   string // document property name
	Cast       string // optional cast applied before comparison
	Descending bool
}
