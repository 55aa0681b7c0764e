package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/recordbase/recordbase/internal/platform/config"
	"github.com/recordbase/recordbase/internal/types"
	"github.com/recordbase/recordbase/records/acl"
	"github.com/recordbase/recordbase/records/errors"
	"github.com/recordbase/recordbase/records/filter"
	"github.com/recordbase/recordbase/records/models"
	"github.com/recordbase/recordbase/records/plan"
	"github.com/recordbase/recordbase/records/services"
)

// RecordHandler serves every record family; the family is bound per route.
type RecordHandler struct {
	service services.RecordService
	cfg     *config.Config
}

// NewRecordHandler creates a new RecordHandler with injected dependencies.
func NewRecordHandler(service services.RecordService, cfg *config.Config) *RecordHandler {
	return &RecordHandler{service: service, cfg: cfg}
}

func (h *RecordHandler) user(c *fiber.Ctx) types.UserContext {
	user, _ := c.Locals(types.UserCtxName).(types.UserContext)
	return user
}

func (h *RecordHandler) pageLimits() filter.Limits {
	return filter.Limits{
		DefaultLimit: h.cfg.Records.DefaultPageSize,
		MaxLimit:     h.cfg.Records.ResponseLimit,
	}
}

// parseListOptions parses filter[...] and set[...] plus, for relations, the
// endpoint scopes listFilter/listSet and entityFilter/entitySet.
func (h *RecordHandler) parseListOptions(c *fiber.Ctx, family string) (services.ListOptions, error) {
	values := c.Queries()
	opts := services.ListOptions{}

	spec, err := filter.ParseFilter(values, "filter", h.pageLimits())
	if err != nil {
		return opts, errors.NewBadRequest(err.Error())
	}
	opts.Filter = spec

	set, err := filter.ParseSet(values, "set")
	if err != nil {
		return opts, errors.NewBadRequest(err.Error())
	}
	opts.Set = set

	if family == config.FamilyRelation {
		user := h.user(c)
		opts.ListScope, err = h.parseEndpointScope(values, "listFilter", "listSet", user)
		if err != nil {
			return opts, err
		}
		opts.EntityScope, err = h.parseEndpointScope(values, "entityFilter", "entitySet", user)
		if err != nil {
			return opts, err
		}
	}

	return opts, nil
}

func (h *RecordHandler) parseEndpointScope(values map[string]string, filterPrefix, setPrefix string, user types.UserContext) (*plan.EndpointScope, error) {
	spec, err := filter.ParseFilter(values, filterPrefix, filter.Limits{})
	if err != nil {
		return nil, errors.NewBadRequest(err.Error())
	}
	set, err := filter.ParseSet(values, setPrefix)
	if err != nil {
		return nil, errors.NewBadRequest(err.Error())
	}

	empty := (spec == nil || (spec.Where == nil && len(spec.Fields) == 0)) && set.IsZero()
	if empty {
		return nil, nil
	}
	return &plan.EndpointScope{Filter: spec, Set: set, Access: acl.ReadPredicate(user)}, nil
}

// List handles GET /{family}.
func (h *RecordHandler) List(family string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		opts, err := h.parseListOptions(c, family)
		if err != nil {
			return errors.Respond(c, err)
		}
		docs, err := h.service.List(c.Context(), family, opts, h.user(c))
		if err != nil {
			return errors.Respond(c, err)
		}
		return c.JSON(docs)
	}
}

// ListNested handles nested listings like GET /entities/:entityId/relations:
// the parent route parameter narrows the listing by a fixed field.
func (h *RecordHandler) ListNested(family, param, field string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		opts, err := h.parseListOptions(c, family)
		if err != nil {
			return errors.Respond(c, err)
		}
		narrowing := &models.Condition{Field: field, Operator: models.OpEq, Value: c.Params(param)}
		if opts.Extra == nil {
			opts.Extra = narrowing
		} else {
			opts.Extra = &models.Condition{And: []*models.Condition{opts.Extra, narrowing}}
		}
		docs, err := h.service.List(c.Context(), family, opts, h.user(c))
		if err != nil {
			return errors.Respond(c, err)
		}
		return c.JSON(docs)
	}
}

// Count handles GET /{family}/count.
func (h *RecordHandler) Count(family string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		opts, err := h.parseListOptions(c, family)
		if err != nil {
			return errors.Respond(c, err)
		}
		count, err := h.service.Count(c.Context(), family, opts, h.user(c))
		if err != nil {
			return errors.Respond(c, err)
		}
		return c.JSON(fiber.Map{"count": count})
	}
}

// Get handles GET /{family}/{id}.
func (h *RecordHandler) Get(family string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		doc, err := h.service.Get(c.Context(), family, c.Params("recordId"), h.user(c))
		if err != nil {
			return errors.Respond(c, err)
		}
		return c.JSON(doc)
	}
}

// Children handles GET /{family}/{id}/children.
func (h *RecordHandler) Children(family string) fiber.Handler {
	return h.traversal(family, func(c *fiber.Ctx, opts services.ListOptions) ([]map[string]interface{}, error) {
		return h.service.Children(c.Context(), family, c.Params("recordId"), opts, h.user(c))
	})
}

// Parents handles GET /{family}/{id}/parents.
func (h *RecordHandler) Parents(family string) fiber.Handler {
	return h.traversal(family, func(c *fiber.Ctx, opts services.ListOptions) ([]map[string]interface{}, error) {
		return h.service.Parents(c.Context(), family, c.Params("recordId"), opts, h.user(c))
	})
}

func (h *RecordHandler) traversal(family string, run func(*fiber.Ctx, services.ListOptions) ([]map[string]interface{}, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		opts, err := h.parseListOptions(c, family)
		if err != nil {
			return errors.Respond(c, err)
		}
		docs, err := run(c, opts)
		if err != nil {
			return errors.Respond(c, err)
		}
		return c.JSON(docs)
	}
}

// Create handles POST /{family}: 200 with the full stored document.
func (h *RecordHandler) Create(family string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var record models.Record
		if err := c.BodyParser(&record); err != nil {
			return errors.Respond(c, errors.NewBadRequest("invalid request body"))
		}
		created, err := h.service.Create(c.Context(), family, record, h.user(c))
		if err != nil {
			return errors.Respond(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(created)
	}
}

// CreateNested handles nested creates like POST /entities/:entityId/relations,
// stamping the endpoint id from the route before the lifecycle runs.
func (h *RecordHandler) CreateNested(family, param string, assign func(*models.Record, string)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var record models.Record
		if err := c.BodyParser(&record); err != nil {
			return errors.Respond(c, errors.NewBadRequest("invalid request body"))
		}
		assign(&record, c.Params(param))
		created, err := h.service.Create(c.Context(), family, record, h.user(c))
		if err != nil {
			return errors.Respond(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(created)
	}
}

// Replace handles PUT /{family}/{id}: full replace, 204.
func (h *RecordHandler) Replace(family string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var record models.Record
		if err := c.BodyParser(&record); err != nil {
			return errors.Respond(c, errors.NewBadRequest("invalid request body"))
		}
		if err := h.service.Replace(c.Context(), family, c.Params("recordId"), record, h.user(c)); err != nil {
			return errors.Respond(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// Patch handles PATCH /{family}/{id}: partial merge, 204.
func (h *RecordHandler) Patch(family string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var patch map[string]interface{}
		if err := c.BodyParser(&patch); err != nil {
			return errors.Respond(c, errors.NewBadRequest("invalid request body"))
		}
		if err := h.service.Patch(c.Context(), family, c.Params("recordId"), patch, h.user(c)); err != nil {
			return errors.Respond(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// Delete handles DELETE /{family}/{id}: 204, cascading dependent relations.
func (h *RecordHandler) Delete(family string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := h.service.Delete(c.Context(), family, c.Params("recordId"), h.user(c)); err != nil {
			return errors.Respond(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
