package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recordbase/recordbase/internal/platform/config"
	"github.com/recordbase/recordbase/internal/types"
	"github.com/recordbase/recordbase/records/limits"
	"github.com/recordbase/recordbase/records/models"
	"github.com/recordbase/recordbase/records/plan"
	"github.com/recordbase/recordbase/records/services"
)

// newTestApp wires a fiber app over the in-memory repository, with every
// request running as the given user.
func newTestApp(t *testing.T, user types.UserContext) *fiber.App {
	t.Helper()

	cfg, err := config.LoadFromMap(nil)
	require.NoError(t, err)

	repo := services.NewFakeRepository()
	compiler := plan.NewCompiler(repo, cfg)
	enforcer := limits.NewEnforcer(compiler, cfg)
	service := services.NewRecordService(repo, compiler, enforcer, nil, cfg)
	handler := NewRecordHandler(service, cfg)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(types.UserCtxName, user)
		return c.Next()
	})

	for path, family := range map[string]string{
		"/entities": config.FamilyEntity,
		"/lists":    config.FamilyList,
	} {
		group := app.Group(path)
		group.Get("/", handler.List(family))
		group.Get("/count", handler.Count(family))
		group.Post("/", handler.Create(family))
		group.Get("/:recordId", handler.Get(family))
		group.Put("/:recordId", handler.Replace(family))
		group.Patch("/:recordId", handler.Patch(family))
		group.Delete("/:recordId", handler.Delete(family))
	}

	relations := app.Group("/relations")
	relations.Get("/", handler.List(config.FamilyRelation))
	relations.Post("/", handler.Create(config.FamilyRelation))

	nested := app.Group("/entities/:entityId/relations")
	nested.Get("/", handler.ListNested(config.FamilyRelation, "entityId", models.FieldEntityID))
	nested.Post("/", handler.CreateNested(config.FamilyRelation, "entityId", func(r *models.Record, id string) {
		r.EntityID = id
	}))

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, payload
}

var requester = types.UserContext{UserID: "u1"}

func TestCreateReturnsFullDocument(t *testing.T) {
	app := newTestApp(t, requester)

	resp, payload := doJSON(t, app, "POST", "/entities", map[string]interface{}{
		"_name":  "Moby Dick",
		"rating": 4.5,
	})
	assert.Equal(t, 200, resp.StatusCode, "create answers with the stored document, not 201")

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &doc))
	assert.NotEmpty(t, doc["_id"])
	assert.Equal(t, "entity", doc["_kind"])
	assert.Equal(t, "moby-dick", doc["_slug"])
	assert.Equal(t, 4.5, doc["rating"])
	assert.Contains(t, doc, "_validFromDateTime")
}

func TestListAppliesFilterQueryString(t *testing.T) {
	app := newTestApp(t, requester)

	for _, rating := range []float64{2, 5, 3} {
		resp, _ := doJSON(t, app, "POST", "/entities", map[string]interface{}{"rating": rating})
		require.Equal(t, 200, resp.StatusCode)
	}

	resp, payload := doJSON(t, app, "GET",
		"/entities?filter[where][rating][gte]=3&filter[order]=rating%20DESC", nil)
	require.Equal(t, 200, resp.StatusCode)

	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, 5.0, docs[0]["rating"])
	assert.Equal(t, 3.0, docs[1]["rating"])
}

func TestListEmptyIsArrayNotNull(t *testing.T) {
	app := newTestApp(t, requester)

	resp, payload := doJSON(t, app, "GET", "/entities", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "[]", string(bytes.TrimSpace(payload)))
}

func TestCountEndpoint(t *testing.T) {
	app := newTestApp(t, requester)

	for i := 0; i < 3; i++ {
		doJSON(t, app, "POST", "/lists", map[string]interface{}{"_name": "l"})
	}

	resp, payload := doJSON(t, app, "GET", "/lists/count", nil)
	require.Equal(t, 200, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &body))
	assert.Equal(t, float64(3), body["count"])
}

func TestGetUnknownRecordEnvelope(t *testing.T) {
	app := newTestApp(t, requester)

	resp, payload := doJSON(t, app, "GET", "/entities/missing", nil)
	assert.Equal(t, 404, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &body))
	inner := body["error"].(map[string]interface{})
	assert.Equal(t, "NotFoundError", inner["name"])
	assert.Equal(t, float64(404), inner["statusCode"])
}

func TestMalformedFilterIsBadRequest(t *testing.T) {
	app := newTestApp(t, requester)

	resp, payload := doJSON(t, app, "GET", "/entities?filter[where][rating][contains]=x", nil)
	assert.Equal(t, 400, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &body))
	inner := body["error"].(map[string]interface{})
	assert.Equal(t, "BadRequestError", inner["name"])
}

func TestReplaceAndPatchAnswerNoContent(t *testing.T) {
	app := newTestApp(t, requester)

	_, payload := doJSON(t, app, "POST", "/entities", map[string]interface{}{"_name": "Draft"})
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &created))
	id := created["_id"].(string)

	resp, _ := doJSON(t, app, "PUT", "/entities/"+id, map[string]interface{}{"_name": "Final"})
	assert.Equal(t, 204, resp.StatusCode)

	resp, _ = doJSON(t, app, "PATCH", "/entities/"+id, map[string]interface{}{"rating": 5.0})
	assert.Equal(t, 204, resp.StatusCode)

	resp, _ = doJSON(t, app, "DELETE", "/entities/"+id, nil)
	assert.Equal(t, 204, resp.StatusCode)

	resp, _ = doJSON(t, app, "GET", "/entities/"+id, nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestImmutableKindViaPatch(t *testing.T) {
	app := newTestApp(t, requester)

	_, payload := doJSON(t, app, "POST", "/entities", map[string]interface{}{"_kind": "book"})
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &created))
	id := created["_id"].(string)

	resp, payload := doJSON(t, app, "PATCH", "/entities/"+id, map[string]interface{}{"_kind": "movie"})
	assert.Equal(t, 422, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &body))
	inner := body["error"].(map[string]interface{})
	assert.Equal(t, "ImmutableFieldError", inner["name"])
}

func TestNestedRelationRoutes(t *testing.T) {
	app := newTestApp(t, requester)

	resp, payload := doJSON(t, app, "POST", "/entities/e1/relations", map[string]interface{}{
		"_listId": "l1",
	})
	require.Equal(t, 200, resp.StatusCode)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &created))
	assert.Equal(t, "e1", created["_entityId"], "the route parameter stamps the endpoint id")

	doJSON(t, app, "POST", "/relations", map[string]interface{}{
		"_listId": "l1", "_entityId": "e2",
	})

	resp, payload = doJSON(t, app, "GET", "/entities/e1/relations", nil)
	require.Equal(t, 200, resp.StatusCode)

	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &docs))
	require.Len(t, docs, 1, "the nested listing only sees relations of its entity")
	assert.Equal(t, "e1", docs[0]["_entityId"])
}
