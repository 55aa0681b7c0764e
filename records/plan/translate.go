package plan

import (
	"fmt"
	"time"

	"github.com/recordbase/recordbase/internal/database/interfaces"
	"github.com/recordbase/recordbase/records/models"
)

// Translate compiles a normalized condition tree into the database-agnostic
// node tree the repository executes. Values keep their coerced Go types;
// numbers and dates get a comparison cast so JSONB text values compare by
// value, not lexically.
func Translate(cond *models.Condition) (*interfaces.Node, error) {
	if cond == nil {
		return nil, nil
	}

	if cond.IsLeaf() {
		return translateLeaf(cond)
	}

	if len(cond.And) > 0 {
		return translateGroup(cond.And, true)
	}
	if len(cond.Or) > 0 {
		return translateGroup(cond.Or, false)
	}
	return nil, fmt.Errorf("empty condition")
}

func translateGroup(children []*models.Condition, conjunctive bool) (*interfaces.Node, error) {
	nodes := make([]*interfaces.Node, 0, len(children))
	for _, child := range children {
		node, err := Translate(child)
		if err != nil {
			return nil, err
		}
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	if conjunctive {
		return interfaces.And(nodes...), nil
	}
	return interfaces.Or(nodes...), nil
}

func translateLeaf(cond *models.Condition) (*interfaces.Node, error) {
	if _, isNull := cond.Value.(models.NullValue); isNull {
		switch cond.Operator {
		case models.OpEq:
			return interfaces.NewField(interfaces.Field{
				Name: cond.Field, Operator: interfaces.OpIsNull, IsJSON: true,
			}), nil
		case models.OpNeq:
			return interfaces.NewField(interfaces.Field{
				Name: cond.Field, Operator: interfaces.OpIsNotNull, IsJSON: true,
			}), nil
		}
		return nil, fmt.Errorf("field '%s': null only combines with eq/neq", cond.Field)
	}

	switch cond.Operator {
	case models.OpEq, models.OpNeq, models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		operator := map[string]string{
			models.OpEq:  interfaces.OpEq,
			models.OpNeq: interfaces.OpNeq,
			models.OpGt:  interfaces.OpGt,
			models.OpGte: interfaces.OpGte,
			models.OpLt:  interfaces.OpLt,
			models.OpLte: interfaces.OpLte,
		}[cond.Operator]
		return interfaces.NewField(interfaces.Field{
			Name:     cond.Field,
			Operator: operator,
			Value:    cond.Value,
			Cast:     valueCast(cond.Value),
		}), nil

	case models.OpBetween:
		bounds, ok := cond.Value.([]interface{})
		if !ok || len(bounds) != 2 {
			return nil, fmt.Errorf("field '%s': between expects two values", cond.Field)
		}
		return interfaces.And(
			interfaces.NewField(interfaces.Field{
				Name: cond.Field, Operator: interfaces.OpGte, Value: bounds[0], Cast: valueCast(bounds[0]),
			}),
			interfaces.NewField(interfaces.Field{
				Name: cond.Field, Operator: interfaces.OpLte, Value: bounds[1], Cast: valueCast(bounds[1]),
			}),
		), nil

	case models.OpInq, models.OpNin:
		items, ok := cond.Value.([]interface{})
		if !ok || len(items) == 0 {
			return nil, fmt.Errorf("field '%s': %s expects a value list", cond.Field, cond.Operator)
		}
		operator := interfaces.OpAny
		if cond.Operator == models.OpNin {
			operator = interfaces.OpNotAny
		}
		return interfaces.NewField(interfaces.Field{
			Name:     cond.Field,
			Operator: operator,
			Value:    items,
			Cast:     valueCast(items[0]),
		}), nil

	case models.OpLike, models.OpIlike, models.OpNlike:
		pattern, ok := cond.Value.(string)
		if !ok {
			return nil, fmt.Errorf("field '%s': %s expects a string pattern", cond.Field, cond.Operator)
		}
		operator := map[string]string{
			models.OpLike:  interfaces.OpRegex,
			models.OpIlike: interfaces.OpRegexI,
			models.OpNlike: interfaces.OpNotRegex,
		}[cond.Operator]
		return interfaces.NewField(interfaces.Field{
			Name: cond.Field, Operator: operator, Value: pattern,
		}), nil

	case models.OpContainsAny:
		return interfaces.NewField(interfaces.Field{
			Name:     cond.Field,
			Operator: interfaces.OpContainsAny,
			Value:    cond.Value,
			IsJSON:   true,
		}), nil
	}

	return nil, fmt.Errorf("field '%s': unknown operator '%s'", cond.Field, cond.Operator)
}

// valueCast picks the comparison cast for a coerced value.
func valueCast(value interface{}) string {
	switch value.(type) {
	case float64, int, int64:
		return "::numeric"
	case time.Time:
		return "::timestamptz"
	}
	return ""
}

// translateSort maps sort keys into repository sort fields. Managed datetime
// fields sort chronologically; everything else sorts as stored text.
func translateSort(keys []models.SortKey) []interfaces.SortField {
	fields := make([]interfaces.SortField, 0, len(keys))
	for _, key := range keys {
		cast := ""
		if isDateTimeField(key.Field) {
			cast = "::timestamptz"
		}
		fields = append(fields, interfaces.SortField{
			Property:   key.Field,
			Cast:       cast,
			Descending: key.Descending,
		})
	}
	return fields
}

func isDateTimeField(name string) bool {
	switch name {
	case models.FieldValidFrom, models.FieldValidUntil, models.FieldCreatedDateTime, models.FieldLastUpdated:
		return true
	}
	return len(name) > 8 && name[len(name)-8:] == "DateTime"
}
