// Package limits enforces record-count ceilings and field-combination
// uniqueness before a write commits. Both checks count through the same
// filter/set compilation machinery as normal reads, so their semantics match
// what a client observes through the listing endpoints.
package limits

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/recordbase/recordbase/internal/platform/config"
	"github.com/recordbase/recordbase/records/errors"
	"github.com/recordbase/recordbase/records/filter"
	"github.com/recordbase/recordbase/records/models"
	"github.com/recordbase/recordbase/records/plan"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Enforcer evaluates configured business constraints for one record family.
type Enforcer struct {
	compiler *plan.Compiler
	cfg      *config.Config
}

// NewEnforcer creates a limit and uniqueness enforcer.
func NewEnforcer(compiler *plan.Compiler, cfg *config.Config) *Enforcer {
	return &Enforcer{compiler: compiler, cfg: cfg}
}

// CheckLimits evaluates the family's record-count ceilings against the
// incoming record. The count is intentionally not narrowed by the
// requester's access predicate: ceilings are collection-wide business
// rules, not per-viewer ones.
func (e *Enforcer) CheckLimits(ctx context.Context, family config.FamilyConfig, record models.Record) error {
	doc, err := record.AsMap()
	if err != nil {
		return err
	}

	if family.CountLimit > 0 {
		count, err := e.compiler.Count(ctx, plan.Query{Family: family})
		if err != nil {
			return err
		}
		if count >= family.CountLimit {
			return errors.NewLimitExceeded("", family.CountLimit)
		}
	}

	for _, rule := range family.LimitRules {
		count, err := e.countScope(ctx, family, rule.Scope, doc)
		if err != nil {
			return err
		}
		if count >= rule.Limit {
			return errors.NewLimitExceeded(rule.Scope, rule.Limit)
		}
	}

	return nil
}

// CheckUniqueness verifies the configured field combination does not
// duplicate an existing record. Array-valued fields never participate via
// naive equality; they are covered only by the family's uniqueness set
// expression. excludeID skips the record itself on replace/update.
func (e *Enforcer) CheckUniqueness(ctx context.Context, family config.FamilyConfig, record models.Record, excludeID string) error {
	if len(family.UniquenessFields) == 0 {
		return nil
	}

	doc, err := record.AsMap()
	if err != nil {
		return err
	}

	var conds []*models.Condition
	for _, field := range family.UniquenessFields {
		value, present := doc[field]
		if !present || value == nil {
			conds = append(conds, &models.Condition{Field: field, Operator: models.OpEq, Value: models.NullValue{}})
			continue
		}
		if _, isArray := value.([]interface{}); isArray {
			continue
		}
		conds = append(conds, &models.Condition{Field: field, Operator: models.OpEq, Value: value})
	}
	if len(conds) == 0 {
		return nil
	}

	if excludeID != "" {
		conds = append(conds, &models.Condition{Field: models.FieldID, Operator: models.OpNeq, Value: excludeID})
	}

	var set *models.SetSpec
	if family.UniquenessSet != "" {
		values, err := filter.ParseQueryString(family.UniquenessSet)
		if err != nil {
			return fmt.Errorf("uniqueness set for family '%s': %w", family.Name, err)
		}
		set, err = filter.ParseSet(values, "set")
		if err != nil {
			return fmt.Errorf("uniqueness set for family '%s': %w", family.Name, err)
		}
	}

	count, err := e.compiler.Count(ctx, plan.Query{
		Family: family,
		Filter: &models.FilterSpec{Where: &models.Condition{And: conds}},
		Set:    set,
	})
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.NewUniqueness(family.UniquenessFields)
	}
	return nil
}

// countScope substitutes ${field} placeholders from the incoming record into
// the scope template, re-parses it through the filter grammar and counts.
func (e *Enforcer) countScope(ctx context.Context, family config.FamilyConfig, scope string, doc map[string]interface{}) (int64, error) {
	substituted := Substitute(scope, doc)

	values, err := filter.ParseQueryString(substituted)
	if err != nil {
		return 0, fmt.Errorf("limit scope '%s' for family '%s': %w", scope, family.Name, err)
	}

	spec, err := filter.ParseFilter(values, "filter", filter.Limits{})
	if err != nil {
		return 0, fmt.Errorf("limit scope '%s' for family '%s': %w", scope, family.Name, err)
	}
	set, err := filter.ParseSet(values, "set")
	if err != nil {
		return 0, fmt.Errorf("limit scope '%s' for family '%s': %w", scope, family.Name, err)
	}

	return e.compiler.Count(ctx, plan.Query{Family: family, Filter: spec, Set: set})
}

// Substitute replaces every ${field} placeholder with the record's value for
// that field, query-escaped. Unknown fields substitute to the empty string.
func Substitute(template string, doc map[string]interface{}) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		field := placeholder.FindStringSubmatch(match)[1]
		value, ok := doc[field]
		if !ok || value == nil {
			return ""
		}
		return url.QueryEscape(stringify(value))
	})
}

func stringify(value interface{}) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	}
	return fmt.Sprint(value)
}
