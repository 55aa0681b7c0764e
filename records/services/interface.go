package services

import (
	"context"

	"github.com/recordbase/recordbase/internal/types"
	"github.com/recordbase/recordbase/records/models"
	"github.com/recordbase/recordbase/records/plan"
)

// ListOptions carries everything a listing endpoint parsed from the query
// string, plus any internal narrowing condition the route adds (nested
// relation routes, children/parents traversal).
type ListOptions struct {
	Filter *models.FilterSpec
	Set    *models.SetSpec
	Extra  *models.Condition

	// Relation endpoint scoping (listFilter/listSet/entityFilter/entitySet).
	ListScope   *plan.EndpointScope
	EntityScope *plan.EndpointScope

	// HydrateEndpoints forces _fromMetadata/_toMetadata on relation rows
	// even without endpoint scoping.
	HydrateEndpoints bool
}

// RecordService defines the operations shared by every record family.
type RecordService interface {
	Create(ctx context.Context, family string, record models.Record, user types.UserContext) (*models.Record, error)
	Get(ctx context.Context, family, id string, user types.UserContext) (map[string]interface{}, error)
	List(ctx context.Context, family string, opts ListOptions, user types.UserContext) ([]map[string]interface{}, error)
	Count(ctx context.Context, family string, opts ListOptions, user types.UserContext) (int64, error)
	Children(ctx context.Context, family, id string, opts ListOptions, user types.UserContext) ([]map[string]interface{}, error)
	Parents(ctx context.Context, family, id string, opts ListOptions, user types.UserContext) ([]map[string]interface{}, error)
	Replace(ctx context.Context, family, id string, record models.Record, user types.UserContext) error
	Patch(ctx context.Context, family, id string, patch map[string]interface{}, user types.UserContext) error
	Delete(ctx context.Context, family, id string, user types.UserContext) error
}

// RecordCache is the optional get-by-id cache in front of the repository.
// Implementations must treat a miss as (nil, false), never as an error.
type RecordCache interface {
	Get(ctx context.Context, family, id string) (map[string]interface{}, bool)
	Set(ctx context.Context, family, id string, doc map[string]interface{})
	Delete(ctx context.Context, family, id string)
}

// noopCache satisfies RecordCache when caching is disabled.
type noopCache struct{}

func (noopCache) Get(context.Context, string, string) (map[string]interface{}, bool) { return nil, false }
func (noopCache) Set(context.Context, string, string, map[string]interface{})        {}
func (noopCache) Delete(context.Context, string, string)                             {}
