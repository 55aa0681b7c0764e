package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMarshalFlattensExtra(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	record := Record{
		ID:         "r1",
		Kind:       "book",
		Name:       "Moby Dick",
		Version:    1,
		Visibility: VisibilityProtected,
		CreatedDateTime: &now,
		Extra: map[string]interface{}{
			"rating": 4.5,
			"_kind":  "should-not-override",
		},
	}

	payload, err := json.Marshal(record)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &doc))

	assert.Equal(t, "r1", doc["_id"])
	assert.Equal(t, "book", doc["_kind"], "managed field wins over Extra")
	assert.Equal(t, 4.5, doc["rating"])
	assert.Contains(t, doc, "_validFromDateTime", "validity window is always present, even when null")
	assert.Nil(t, doc["_validFromDateTime"])
}

func TestRecordUnmarshalCollectsExtra(t *testing.T) {
	payload := []byte(`{
		"_id": "r1",
		"_kind": "book",
		"_version": 3,
		"_visibility": "public",
		"_validFromDateTime": "2025-01-01T00:00:00Z",
		"_validUntilDateTime": null,
		"rating": 4.5,
		"author": {"name": "melville"}
	}`)

	var record Record
	require.NoError(t, json.Unmarshal(payload, &record))

	assert.Equal(t, "r1", record.ID)
	assert.Equal(t, "book", record.Kind)
	assert.Equal(t, int64(3), record.Version)
	require.NotNil(t, record.ValidFromDateTime)
	assert.Nil(t, record.ValidUntilDateTime)
	assert.Equal(t, 4.5, record.Extra["rating"])
	assert.NotContains(t, record.Extra, "_kind")
	assert.Contains(t, record.Extra, "author")
}

func TestRecordRoundTrip(t *testing.T) {
	var record Record
	original := []byte(`{"_id":"x","_kind":"list","_version":1,"_visibility":"protected","_validFromDateTime":null,"_validUntilDateTime":null,"color":"blue"}`)
	require.NoError(t, json.Unmarshal(original, &record))

	doc, err := record.AsMap()
	require.NoError(t, err)
	assert.Equal(t, "blue", doc["color"])
	assert.Equal(t, "x", doc["_id"])

	value, ok := record.Property("color")
	require.True(t, ok)
	assert.Equal(t, "blue", value)
}

func TestIsManagedField(t *testing.T) {
	assert.True(t, IsManagedField("_kind"))
	assert.True(t, IsManagedField("_validUntilDateTime"))
	assert.False(t, IsManagedField("rating"))
}
