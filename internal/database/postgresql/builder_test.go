// Copyright (c) 2025 Recordbase
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgresql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordbase/recordbase/internal/database/interfaces"
)

func TestRenderNilTree(t *testing.T) {
	b := newClauseBuilder("public")
	clause, err := b.render(nil, rootAlias)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", clause)
	assert.Empty(t, b.namedArgs)
}

func TestRenderScalarComparison(t *testing.T) {
	b := newClauseBuilder("public")
	clause, err := b.render(interfaces.NewField(interfaces.Field{
		Name: "rating", Operator: interfaces.OpGt, Value: 3.0, Cast: "::numeric",
	}), rootAlias)
	require.NoError(t, err)
	assert.Equal(t, "(r.data->>'rating')::numeric > :p0", clause)
	assert.Equal(t, 3.0, b.namedArgs["p0"])
}

func TestRenderNestedProperty(t *testing.T) {
	b := newClauseBuilder("public")
	clause, err := b.render(interfaces.NewField(interfaces.Field{
		Name: "author.name", Operator: interfaces.OpEq, Value: "melville",
	}), rootAlias)
	require.NoError(t, err)
	assert.Equal(t, "r.data->'author'->>'name' = :p0", clause)
}

func TestRenderNullTestCoversAbsentAndJSONNull(t *testing.T) {
	b := newClauseBuilder("public")
	clause, err := b.render(interfaces.NewField(interfaces.Field{
		Name: "_validUntilDateTime", Operator: interfaces.OpIsNull, IsJSON: true,
	}), rootAlias)
	require.NoError(t, err)
	assert.Equal(t,
		"(r.data->'_validUntilDateTime' IS NULL OR r.data->'_validUntilDateTime' = 'null'::jsonb)",
		clause)
}

func TestRenderContainsAnyUsesArrayPlaceholder(t *testing.T) {
	b := newClauseBuilder("public")
	clause, err := b.render(interfaces.NewField(interfaces.Field{
		Name:     "_viewerGrantees",
		Operator: interfaces.OpContainsAny,
		Value:    []string{"user-1", "group-a"},
		IsJSON:   true,
	}), rootAlias)
	require.NoError(t, err)
	assert.Equal(t, "r.data->'_viewerGrantees' ?| __ARRAY_PARAM_0__", clause)
	require.Len(t, b.positionalArgs, 1)
}

func TestRenderAndOrNesting(t *testing.T) {
	b := newClauseBuilder("public")
	tree := interfaces.And(
		interfaces.NewField(interfaces.Field{Name: "_kind", Operator: interfaces.OpEq, Value: "book"}),
		interfaces.Or(
			interfaces.NewField(interfaces.Field{Name: "_visibility", Operator: interfaces.OpEq, Value: "public"}),
			interfaces.NewField(interfaces.Field{Name: "_ownerId", Operator: interfaces.OpEq, Value: "u1"}),
		),
	)
	clause, err := b.render(tree, rootAlias)
	require.NoError(t, err)
	assert.Equal(t,
		"(r.data->>'_kind' = :p0 AND (r.data->>'_visibility' = :p1 OR r.data->>'_ownerId' = :p2))",
		clause)
}

func TestRenderExistsSubquery(t *testing.T) {
	b := newClauseBuilder("public")
	tree := &interfaces.Node{Exists: &interfaces.Exists{
		Collection: "lists",
		URIField:   "_listUri",
		Where: interfaces.NewField(interfaces.Field{
			Name: "_kind", Operator: interfaces.OpEq, Value: "favorites",
		}),
	}}
	clause, err := b.render(tree, rootAlias)
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM public.lists e0 WHERE e0.object_id = substring(r.data->>'_listUri' from '[^/]+$') AND e0.data->>'_kind' = :p0)",
		clause)
}

func TestRenderExistsWithoutInnerFilter(t *testing.T) {
	b := newClauseBuilder("public")
	tree := &interfaces.Node{Exists: &interfaces.Exists{
		Collection: "entities",
		URIField:   "_entityUri",
	}}
	clause, err := b.render(tree, rootAlias)
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM public.entities e0 WHERE e0.object_id = substring(r.data->>'_entityUri' from '[^/]+$'))",
		clause)
}

func TestRenderSiblingExistsAliasesAreDistinct(t *testing.T) {
	b := newClauseBuilder("public")
	tree := interfaces.And(
		&interfaces.Node{Exists: &interfaces.Exists{Collection: "lists", URIField: "_listUri"}},
		&interfaces.Node{Exists: &interfaces.Exists{Collection: "entities", URIField: "_entityUri"}},
	)
	clause, err := b.render(tree, rootAlias)
	require.NoError(t, err)
	assert.Contains(t, clause, "lists e0")
	assert.Contains(t, clause, "entities e1")
}

func TestRenderAnyAndNotAny(t *testing.T) {
	b := newClauseBuilder("public")
	tree := interfaces.And(
		interfaces.NewField(interfaces.Field{Name: "_kind", Operator: interfaces.OpAny, Value: []string{"a", "b"}}),
		interfaces.NewField(interfaces.Field{Name: "_state", Operator: interfaces.OpNotAny, Value: []string{"deleted"}}),
	)
	clause, err := b.render(tree, rootAlias)
	require.NoError(t, err)
	assert.Equal(t,
		"(r.data->>'_kind' = ANY(__ARRAY_PARAM_0__) AND NOT (r.data->>'_state' = ANY(__ARRAY_PARAM_1__)))",
		clause)
	assert.Len(t, b.positionalArgs, 2)
}

func TestRenderRegexOperators(t *testing.T) {
	cases := []struct {
		op   string
		want string
	}{
		{interfaces.OpRegex, "r.data->>'name' ~ :p0"},
		{interfaces.OpRegexI, "r.data->>'name' ~* :p0"},
		{interfaces.OpNotRegex, "r.data->>'name' !~ :p0"},
	}
	for _, tc := range cases {
		b := newClauseBuilder("public")
		clause, err := b.render(interfaces.NewField(interfaces.Field{
			Name: "name", Operator: tc.op, Value: "^mo.*",
		}), rootAlias)
		require.NoError(t, err)
		assert.Equal(t, tc.want, clause)
	}
}

func TestRenderRejectsUnknownOperator(t *testing.T) {
	b := newClauseBuilder("public")
	_, err := b.render(interfaces.NewField(interfaces.Field{
		Name: "x", Operator: "LIKE", Value: "y",
	}), rootAlias)
	require.Error(t, err)
}

func TestBuildOrderByClauseAppendsTieBreak(t *testing.T) {
	repo := &PostgreSQLRepository{schema: "public"}

	clause := repo.buildOrderByClause(&interfaces.FindOptions{
		Sort: []interfaces.SortField{
			{Property: "rating", Cast: "::numeric", Descending: true},
			{Property: "name"},
		},
	})
	assert.Equal(t, "(r.data->>'rating')::numeric DESC, r.data->>'name' ASC, r.object_id ASC", clause)

	assert.Equal(t, "r.object_id ASC", repo.buildOrderByClause(nil))
}

func TestJSONPathExprEscapesQuotes(t *testing.T) {
	assert.Equal(t, "r.data->>'it''s'", jsonPathExpr("r", "it's", false))
}
