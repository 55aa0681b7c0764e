package validation

import (
	"fmt"

	"github.com/recordbase/recordbase/internal/platform/config"
	"github.com/recordbase/recordbase/records/errors"
	"github.com/recordbase/recordbase/records/models"
)

// ValidateKind checks a kind against the family's allow-list. An empty
// allow-list accepts any non-empty kind.
func ValidateKind(fc config.FamilyConfig, kind string) error {
	if kind == "" {
		return errors.NewInvalidKind(kind)
	}
	if len(fc.AllowedKinds) == 0 {
		return nil
	}
	for _, allowed := range fc.AllowedKinds {
		if allowed == kind {
			return nil
		}
	}
	return errors.NewInvalidKind(kind)
}

// ValidateVisibility checks a visibility value against the closed enum.
func ValidateVisibility(visibility string) error {
	switch visibility {
	case models.VisibilityPublic, models.VisibilityProtected, models.VisibilityPrivate:
		return nil
	}
	return errors.NewValidation(fmt.Sprintf("invalid visibility '%s'", visibility))
}

// ValidateCreate checks the family-specific required fields of an incoming
// record before the lifecycle manager touches it.
func ValidateCreate(fc config.FamilyConfig, record models.Record) error {
	switch fc.Name {
	case config.FamilyRelation:
		if record.ListID == "" {
			return errors.NewValidation("relation requires _listId")
		}
		if record.EntityID == "" {
			return errors.NewValidation("relation requires _entityId")
		}
	case config.FamilyEntityReaction, config.FamilyListReaction:
		if record.RecordID == "" {
			return errors.NewValidation("reaction requires _recordId")
		}
	}

	if record.Visibility != "" {
		if err := ValidateVisibility(record.Visibility); err != nil {
			return err
		}
	}
	return nil
}
