package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplodeRebuildsNestedStructure(t *testing.T) {
	values := map[string]string{
		"filter[where][and][0][rating][gt]":   "3",
		"filter[where][and][0][rating][type]": "number",
		"filter[limit]":                       "10",
		"set[actives]":                        "true",
	}

	node, err := Explode(values, "filter")
	require.NoError(t, err)

	where, ok := node["where"].(map[string]interface{})
	require.True(t, ok)
	and := where["and"].(map[string]interface{})
	rating := and["0"].(map[string]interface{})["rating"].(map[string]interface{})
	assert.Equal(t, "3", rating["gt"])
	assert.Equal(t, "number", rating["type"])
	assert.Equal(t, "10", node["limit"])
	assert.NotContains(t, node, "actives", "other prefixes are ignored")
}

func TestExplodeRejectsBareKey(t *testing.T) {
	_, err := Explode(map[string]string{"filter": "x"}, "filter")
	require.Error(t, err)
}

func TestExplodeRejectsUnbalancedBracket(t *testing.T) {
	_, err := Explode(map[string]string{"filter[where][x": "1"}, "filter")
	require.Error(t, err)
}

func TestExplodeRejectsScalarNestedConflict(t *testing.T) {
	_, err := Explode(map[string]string{
		"filter[where][a]":    "1",
		"filter[where][a][b]": "2",
	}, "filter")
	require.Error(t, err)
}

func TestAsListOrdersByIndex(t *testing.T) {
	list, ok := asList(map[string]interface{}{"2": "c", "0": "a", "1": "b"})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a", "b", "c"}, list)
}

func TestAsListRejectsNonNumericKeys(t *testing.T) {
	_, ok := asList(map[string]interface{}{"0": "a", "prop": "b"})
	assert.False(t, ok)
}
