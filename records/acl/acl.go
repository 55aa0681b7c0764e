package acl

import (
	"github.com/recordbase/recordbase/internal/types"
	"github.com/recordbase/recordbase/records/filter"
	"github.com/recordbase/recordbase/records/models"
)

// ReadPredicate builds the condition a record must satisfy to be readable by
// the requester. It is ANDed into every list/get/count query: authorization
// is a hard intersection with whatever filter the caller supplied, never an
// override.
//
// Anonymous requesters see public records only. Identified requesters
// additionally see records whose owner or viewer sets name them or one of
// their groups.
func ReadPredicate(user types.UserContext) *models.Condition {
	public := filter.PublicsCondition()
	if user.IsAnonymous() {
		return public
	}

	audience := filter.AudienceCondition([]string{user.UserID}, user.Groups)
	if audience == nil {
		return public
	}
	return &models.Condition{Or: []*models.Condition{public, audience}}
}
