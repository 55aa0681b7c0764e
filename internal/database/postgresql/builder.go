// Copyright (c) 2025 Recordbase
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgresql

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/lib/pq"

	"github.com/recordbase/recordbase/internal/database/interfaces"
)

// rootAlias is the alias of the outer table in every generated statement.
const rootAlias = "r"

// clauseBuilder renders a condition tree into a SQL boolean expression using
// a hybrid binding strategy: scalar values become sqlx named parameters
// (:p0, :p1, ...) and slice values become temporary __ARRAY_PARAM_i__
// placeholders wrapped with pq.Array. bindQuery later rewrites the
// placeholders into final positional numbers.
type clauseBuilder struct {
	schema         string
	namedArgs      map[string]interface{}
	positionalArgs []interface{}
	existsDepth    int
}

func newClauseBuilder(schema string) *clauseBuilder {
	return &clauseBuilder{
		schema:    schema,
		namedArgs: make(map[string]interface{}),
	}
}

// render compiles a condition tree rooted at alias. A nil tree renders to
// "TRUE" so callers can skip the WHERE clause entirely.
func (b *clauseBuilder) render(node *interfaces.Node, alias string) (string, error) {
	if node == nil {
		return "TRUE", nil
	}

	switch {
	case node.Field != nil:
		return b.renderField(node.Field, alias)
	case len(node.And) > 0:
		return b.renderGroup(node.And, alias, " AND ")
	case len(node.Or) > 0:
		return b.renderGroup(node.Or, alias, " OR ")
	case node.Exists != nil:
		return b.renderExists(node.Exists, alias)
	}

	return "", fmt.Errorf("empty condition node")
}

func (b *clauseBuilder) renderGroup(nodes []*interfaces.Node, alias, joiner string) (string, error) {
	parts := make([]string, 0, len(nodes))
	for _, child := range nodes {
		clause, err := b.render(child, alias)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

// renderExists emits a correlated subquery against a sibling collection. The
// correlation follows a reference URI stored on the outer document: its final
// path segment is the sibling's object id.
func (b *clauseBuilder) renderExists(ex *interfaces.Exists, alias string) (string, error) {
	subAlias := fmt.Sprintf("e%d", b.existsDepth)
	b.existsDepth++

	correlation := fmt.Sprintf("%s.object_id = substring(%s from '[^/]+$')",
		subAlias, jsonPathExpr(alias, ex.URIField, false))

	inner, err := b.render(ex.Where, subAlias)
	if err != nil {
		return "", err
	}

	table := fmt.Sprintf("%s.%s", b.schema, ex.Collection)
	if inner == "TRUE" {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s)", table, subAlias, correlation), nil
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s AND %s)", table, subAlias, correlation, inner), nil
}

func (b *clauseBuilder) renderField(f *interfaces.Field, alias string) (string, error) {
	expr := jsonPathExpr(alias, f.Name, f.IsJSON)
	if f.Cast != "" {
		expr = fmt.Sprintf("(%s)%s", expr, f.Cast)
	}

	switch f.Operator {
	case interfaces.OpIsNull:
		if f.IsJSON {
			// Treat an absent key and an explicit JSON null identically.
			return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", expr, expr), nil
		}
		return fmt.Sprintf("%s IS NULL", expr), nil

	case interfaces.OpIsNotNull:
		if f.IsJSON {
			return fmt.Sprintf("(%s IS NOT NULL AND %s <> 'null'::jsonb)", expr, expr), nil
		}
		return fmt.Sprintf("%s IS NOT NULL", expr), nil

	case interfaces.OpContainsAny:
		// JSONB existence-any: the document array intersects the given keys.
		placeholder := b.addPositional(f.Value)
		return fmt.Sprintf("%s ?| %s", expr, placeholder), nil

	case interfaces.OpAny:
		placeholder := b.addPositional(f.Value)
		return fmt.Sprintf("%s = ANY(%s)", expr, placeholder), nil

	case interfaces.OpNotAny:
		placeholder := b.addPositional(f.Value)
		return fmt.Sprintf("NOT (%s = ANY(%s))", expr, placeholder), nil

	case interfaces.OpRegex:
		return fmt.Sprintf("%s ~ %s", expr, b.addNamed(f.Value)), nil

	case interfaces.OpRegexI:
		return fmt.Sprintf("%s ~* %s", expr, b.addNamed(f.Value)), nil

	case interfaces.OpNotRegex:
		return fmt.Sprintf("%s !~ %s", expr, b.addNamed(f.Value)), nil

	case interfaces.OpEq, interfaces.OpNeq, interfaces.OpGt, interfaces.OpGte, interfaces.OpLt, interfaces.OpLte:
		return fmt.Sprintf("%s %s %s", expr, f.Operator, b.addNamed(f.Value)), nil
	}

	return "", fmt.Errorf("unsupported operator: %s", f.Operator)
}

// addNamed registers a scalar value and returns its :pN parameter.
func (b *clauseBuilder) addNamed(value interface{}) string {
	name := fmt.Sprintf("p%d", len(b.namedArgs))
	b.namedArgs[name] = value
	return ":" + name
}

// addPositional registers an array value behind a temporary placeholder.
// Non-slice values are wrapped into a single-element slice so callers can
// pass a bare scalar to an array operator.
func (b *clauseBuilder) addPositional(value interface{}) string {
	placeholder := fmt.Sprintf("__ARRAY_PARAM_%d__", len(b.positionalArgs))
	b.positionalArgs = append(b.positionalArgs, pq.Array(asSlice(value)))
	return placeholder
}

func asSlice(value interface{}) interface{} {
	if value == nil {
		return []interface{}{}
	}
	if reflect.TypeOf(value).Kind() == reflect.Slice {
		return value
	}
	return []interface{}{value}
}

// jsonPathExpr builds the JSONB accessor for a document property. Dotted
// names descend into nested objects; the final step uses ->> for text or ->
// for raw JSON. Single quotes in property names are doubled, everything else
// is carried verbatim since property names never come from SQL identifiers.
func jsonPathExpr(alias, name string, rawJSON bool) string {
	segments := strings.Split(name, ".")
	var sb strings.Builder
	sb.WriteString(alias)
	sb.WriteString(".data")
	for i, seg := range segments {
		last := i == len(segments)-1
		if last && !rawJSON {
			sb.WriteString("->>")
		} else {
			sb.WriteString("->")
		}
		sb.WriteString("'")
		sb.WriteString(strings.ReplaceAll(seg, "'", "''"))
		sb.WriteString("'")
	}
	return sb.String()
}
