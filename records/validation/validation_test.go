package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordbase/recordbase/internal/platform/config"
	"github.com/recordbase/recordbase/records/models"
)

func TestValidateKind(t *testing.T) {
	open := config.FamilyConfig{Name: config.FamilyEntity}
	assert.NoError(t, ValidateKind(open, "anything"), "an empty allow-list accepts any kind")
	assert.Error(t, ValidateKind(open, ""))

	closed := config.FamilyConfig{Name: config.FamilyEntity, AllowedKinds: []string{"book", "author"}}
	assert.NoError(t, ValidateKind(closed, "book"))
	assert.Error(t, ValidateKind(closed, "movie"))
}

func TestValidateVisibility(t *testing.T) {
	for _, visibility := range []string{"public", "protected", "private"} {
		assert.NoError(t, ValidateVisibility(visibility))
	}
	assert.Error(t, ValidateVisibility("open"))
	assert.Error(t, ValidateVisibility(""))
}

func TestValidateCreateRelation(t *testing.T) {
	fc := config.FamilyConfig{Name: config.FamilyRelation}

	require.Error(t, ValidateCreate(fc, models.Record{EntityID: "e1"}))
	require.Error(t, ValidateCreate(fc, models.Record{ListID: "l1"}))
	assert.NoError(t, ValidateCreate(fc, models.Record{ListID: "l1", EntityID: "e1"}))
}

func TestValidateCreateReaction(t *testing.T) {
	for _, name := range []string{config.FamilyEntityReaction, config.FamilyListReaction} {
		fc := config.FamilyConfig{Name: name}
		require.Error(t, ValidateCreate(fc, models.Record{}))
		assert.NoError(t, ValidateCreate(fc, models.Record{RecordID: "r1"}))
	}
}

func TestValidateCreateVisibility(t *testing.T) {
	fc := config.FamilyConfig{Name: config.FamilyEntity}
	assert.NoError(t, ValidateCreate(fc, models.Record{}), "an empty visibility is defaulted later")
	assert.Error(t, ValidateCreate(fc, models.Record{Visibility: "open"}))
}
