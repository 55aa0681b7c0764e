package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordbase/recordbase/internal/types"
	"github.com/recordbase/recordbase/records/models"
)

func TestReadPredicateAnonymous(t *testing.T) {
	cond := ReadPredicate(types.UserContext{})

	require.True(t, cond.IsLeaf())
	assert.Equal(t, models.FieldVisibility, cond.Field)
	assert.Equal(t, models.VisibilityPublic, cond.Value)
}

func TestReadPredicateIdentified(t *testing.T) {
	cond := ReadPredicate(types.UserContext{UserID: "u1", Groups: []string{"g1"}})

	require.Len(t, cond.Or, 2)
	assert.Equal(t, models.FieldVisibility, cond.Or[0].Field)

	audience := cond.Or[1]
	require.Len(t, audience.Or, 4, "owner and viewer sets, for both user and groups")
	for _, side := range audience.Or {
		assert.Equal(t, models.OpContainsAny, side.Operator)
	}
}

func TestReadPredicateIdentifiedWithoutGroups(t *testing.T) {
	cond := ReadPredicate(types.UserContext{UserID: "u1"})

	require.Len(t, cond.Or, 2)
	assert.Len(t, cond.Or[1].Or, 2, "group sides are omitted when the user has no groups")
}
