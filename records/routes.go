package records

import (
	"github.com/gofiber/fiber/v2"

	"github.com/recordbase/recordbase/internal/middleware/authjwt"
	"github.com/recordbase/recordbase/internal/platform/config"
	"github.com/recordbase/recordbase/records/handlers"
	"github.com/recordbase/recordbase/records/models"
)

// Handlers holds all the handlers this router needs.
type Handlers struct {
	Records *handlers.RecordHandler
}

// familyRoutes binds each record family to its route prefix.
var familyRoutes = []struct {
	path   string
	family string
}{
	{"/entities", config.FamilyEntity},
	{"/lists", config.FamilyList},
	{"/entity-reactions", config.FamilyEntityReaction},
	{"/list-reactions", config.FamilyListReaction},
	{"/relations", config.FamilyRelation},
}

// RegisterRoutes is the single entry point for setting up record routes.
// Reads run with an anonymous fallback; writes require a valid token.
func RegisterRoutes(app *fiber.App, h *Handlers, cfg *config.Config) {
	readAuth := authjwt.New(authjwt.Config{PublicKey: cfg.JWT.PublicKey})
	writeAuth := authjwt.New(authjwt.Config{PublicKey: cfg.JWT.PublicKey, Strict: true})

	for _, route := range familyRoutes {
		group := app.Group(route.path)

		// /count before /:recordId so the literal segment wins.
		group.Get("/", readAuth, h.Records.List(route.family))
		group.Get("/count", readAuth, h.Records.Count(route.family))
		group.Post("/", writeAuth, h.Records.Create(route.family))
		group.Get("/:recordId", readAuth, h.Records.Get(route.family))
		group.Get("/:recordId/children", readAuth, h.Records.Children(route.family))
		group.Get("/:recordId/parents", readAuth, h.Records.Parents(route.family))
		group.Put("/:recordId", writeAuth, h.Records.Replace(route.family))
		group.Patch("/:recordId", writeAuth, h.Records.Patch(route.family))
		group.Delete("/:recordId", writeAuth, h.Records.Delete(route.family))
	}

	// Relations nested under their entity endpoint.
	nested := app.Group("/entities/:entityId/relations")
	nested.Get("/", readAuth, h.Records.ListNested(config.FamilyRelation, "entityId", models.FieldEntityID))
	nested.Post("/", writeAuth, h.Records.CreateNested(config.FamilyRelation, "entityId", func(r *models.Record, id string) {
		r.EntityID = id
	}))
}
