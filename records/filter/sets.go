package filter

import (
	"fmt"
	"strconv"

	"github.com/recordbase/recordbase/records/models"
)

// ParseSet parses every query key under prefix (e.g. "set", "listSet") into
// a SetSpec. Returns nil when no set keys are present.
func ParseSet(values map[string]string, prefix string) (*models.SetSpec, error) {
	node, err := Explode(values, prefix)
	if err != nil {
		return nil, err
	}
	if len(node) == 0 {
		return nil, nil
	}
	return parseSetNode(node)
}

func parseSetNode(node map[string]interface{}) (*models.SetSpec, error) {
	spec := &models.SetSpec{}

	for _, key := range sortedKeys(node) {
		raw := node[key]
		switch key {
		case "actives", "publics":
			scalar, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("set[%s] must be a boolean", key)
			}
			enabled, err := strconv.ParseBool(scalar)
			if err != nil {
				return nil, fmt.Errorf("set[%s] must be a boolean", key)
			}
			if key == "actives" {
				spec.Actives = enabled
			} else {
				spec.Publics = enabled
			}

		case "audience":
			audienceNode, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("set[audience] must be an object")
			}
			audience, err := parseAudience(audienceNode)
			if err != nil {
				return nil, err
			}
			spec.Audience = audience

		case "and", "or":
			group, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("set[%s] must hold an indexed list", key)
			}
			list, ok := asList(group)
			if !ok || len(list) == 0 {
				return nil, fmt.Errorf("set[%s] must hold at least one indexed entry", key)
			}
			children := make([]*models.SetSpec, 0, len(list))
			for _, item := range list {
				itemNode, ok := item.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("set[%s] entries must be objects", key)
				}
				child, err := parseSetNode(itemNode)
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			}
			if key == "and" {
				spec.And = children
			} else {
				spec.Or = children
			}

		default:
			return nil, fmt.Errorf("unknown set '%s'", key)
		}
	}

	return spec, nil
}

func parseAudience(node map[string]interface{}) (*models.AudienceSpec, error) {
	audience := &models.AudienceSpec{}

	for _, key := range sortedKeys(node) {
		ids, err := parseIDList(node[key])
		if err != nil {
			return nil, fmt.Errorf("set[audience][%s]: %w", key, err)
		}
		switch key {
		case "userIds":
			audience.UserIDs = ids
		case "groupIds":
			audience.GroupIDs = ids
		default:
			return nil, fmt.Errorf("unknown audience side '%s'", key)
		}
	}

	if len(audience.UserIDs) == 0 && len(audience.GroupIDs) == 0 {
		return nil, fmt.Errorf("set[audience] requires userIds or groupIds")
	}
	return audience, nil
}

// parseIDList accepts a single scalar id or an indexed list of ids.
func parseIDList(raw interface{}) ([]string, error) {
	switch typed := raw.(type) {
	case string:
		return []string{typed}, nil
	case map[string]interface{}:
		list, ok := asList(typed)
		if !ok {
			return nil, fmt.Errorf("must be a scalar or indexed list")
		}
		ids := make([]string, 0, len(list))
		for _, item := range list {
			id, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("ids must be scalars")
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("must be a scalar or indexed list")
}

// CompileSet translates a SetSpec into a condition fragment. Members of a
// single spec combine with implicit AND; a nil or empty spec compiles to nil.
func CompileSet(spec *models.SetSpec) *models.Condition {
	if spec.IsZero() {
		return nil
	}

	var parts []*models.Condition

	if spec.Actives {
		parts = append(parts, ActivesCondition())
	}
	if spec.Publics {
		parts = append(parts, PublicsCondition())
	}
	if spec.Audience != nil {
		if audience := AudienceCondition(spec.Audience.UserIDs, spec.Audience.GroupIDs); audience != nil {
			parts = append(parts, audience)
		}
	}
	if len(spec.And) > 0 {
		var children []*models.Condition
		for _, child := range spec.And {
			if compiled := CompileSet(child); compiled != nil {
				children = append(children, compiled)
			}
		}
		if len(children) > 0 {
			parts = append(parts, &models.Condition{And: children})
		}
	}
	if len(spec.Or) > 0 {
		var children []*models.Condition
		for _, child := range spec.Or {
			if compiled := CompileSet(child); compiled != nil {
				children = append(children, compiled)
			}
		}
		if len(children) > 0 {
			parts = append(parts, &models.Condition{Or: children})
		}
	}

	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	return &models.Condition{And: parts}
}

// ActivesCondition is the canonical validity-window predicate: the record
// has started (strictly before now) and has not yet ended (open-ended or
// strictly after now).
func ActivesCondition() *models.Condition {
	now := models.Now()
	return &models.Condition{And: []*models.Condition{
		{Field: models.FieldValidFrom, Operator: models.OpNeq, Value: models.NullValue{}},
		{Field: models.FieldValidFrom, Operator: models.OpLt, Value: now},
		{Or: []*models.Condition{
			{Field: models.FieldValidUntil, Operator: models.OpEq, Value: models.NullValue{}},
			{Field: models.FieldValidUntil, Operator: models.OpGt, Value: now},
		}},
	}}
}

// PublicsCondition matches records with public visibility.
func PublicsCondition() *models.Condition {
	return &models.Condition{Field: models.FieldVisibility, Operator: models.OpEq, Value: models.VisibilityPublic}
}

// AudienceCondition matches records whose owner or viewer sets intersect the
// given identities. An empty side is left out of the disjunction.
func AudienceCondition(userIDs, groupIDs []string) *models.Condition {
	var sides []*models.Condition
	if len(userIDs) > 0 {
		sides = append(sides,
			&models.Condition{Field: models.FieldOwnerUsers, Operator: models.OpContainsAny, Value: userIDs},
			&models.Condition{Field: models.FieldViewerUsers, Operator: models.OpContainsAny, Value: userIDs},
		)
	}
	if len(groupIDs) > 0 {
		sides = append(sides,
			&models.Condition{Field: models.FieldOwnerGroups, Operator: models.OpContainsAny, Value: groupIDs},
			&models.Condition{Field: models.FieldViewerGroups, Operator: models.OpContainsAny, Value: groupIDs},
		)
	}

	switch len(sides) {
	case 0:
		return nil
	case 1:
		return sides[0]
	}
	return &models.Condition{Or: sides}
}
