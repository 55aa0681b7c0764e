package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	uuid "github.com/gofrs/uuid"

	"github.com/recordbase/recordbase/internal/database/interfaces"
	"github.com/recordbase/recordbase/internal/pkg/log"
	"github.com/recordbase/recordbase/internal/platform/config"
	"github.com/recordbase/recordbase/internal/types"
	"github.com/recordbase/recordbase/records/acl"
	recorderrors "github.com/recordbase/recordbase/records/errors"
	"github.com/recordbase/recordbase/records/limits"
	"github.com/recordbase/recordbase/records/models"
	"github.com/recordbase/recordbase/records/plan"
	"github.com/recordbase/recordbase/records/validation"
)

// protectedFields are managed fields a PATCH can never set directly; their
// values are owned by the lifecycle manager.
var protectedFields = map[string]bool{
	models.FieldID:              true,
	models.FieldURI:             true,
	models.FieldVersion:         true,
	models.FieldSlug:            true,
	models.FieldCreatedDateTime: true,
	models.FieldLastUpdated:     true,
	models.FieldListURI:         true,
	models.FieldEntityURI:       true,
	models.FieldRecordURI:       true,
}

// immutableScalars maps the write-once fields checked on every replace and
// update against the stored document.
var immutableScalars = []string{
	models.FieldKind,
	models.FieldListID,
	models.FieldEntityID,
	models.FieldRecordID,
}

type recordService struct {
	repo     interfaces.Repository
	compiler *plan.Compiler
	enforcer *limits.Enforcer
	cache    RecordCache
	cfg      *config.Config
}

// NewRecordService wires the record service. cache may be nil when caching
// is disabled.
func NewRecordService(repo interfaces.Repository, compiler *plan.Compiler, enforcer *limits.Enforcer, cache RecordCache, cfg *config.Config) RecordService {
	if cache == nil {
		cache = noopCache{}
	}
	return &recordService{
		repo:     repo,
		compiler: compiler,
		enforcer: enforcer,
		cache:    cache,
		cfg:      cfg,
	}
}

func (s *recordService) familyConfig(family string) (config.FamilyConfig, error) {
	fc, ok := s.cfg.Family(family)
	if !ok {
		return config.FamilyConfig{}, recorderrors.NewNotFound(fmt.Sprintf("unknown record family '%s'", family))
	}
	return fc, nil
}

// Create runs the full write path: lifecycle field assignment, limit and
// uniqueness checks, then a single atomic insert.
func (s *recordService) Create(ctx context.Context, family string, record models.Record, user types.UserContext) (*models.Record, error) {
	fc, err := s.familyConfig(family)
	if err != nil {
		return nil, err
	}

	if record.Kind == "" {
		record.Kind = fc.DefaultKind
	}
	if err := validation.ValidateKind(fc, record.Kind); err != nil {
		return nil, err
	}
	if err := validation.ValidateCreate(fc, record); err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record id: %w", err)
	}

	now := models.Now()
	record.ID = id.String()
	record.URI = s.mintURI(fc.Collection, record.ID)
	record.Version = 1
	record.CreatedDateTime = &now
	record.LastUpdatedDateTime = &now
	if record.Visibility == "" {
		record.Visibility = fc.DefaultVisibility
	}
	if record.Name != "" {
		record.Slug = Slugify(record.Name)
	}

	// Ownership stamping: an identified creator always owns the record.
	if !user.IsAnonymous() && !contains(record.OwnerUsers, user.UserID) {
		record.OwnerUsers = append(record.OwnerUsers, user.UserID)
	}

	// Auto-approved kinds open the validity window immediately; everything
	// else stays pending external approval.
	if fc.AutoApprove || fc.AutoApproveKinds[record.Kind] {
		record.ValidFromDateTime = &now
	} else {
		record.ValidFromDateTime = nil
	}

	if err := s.mintEndpointURIs(fc, &record); err != nil {
		return nil, err
	}

	if err := s.enforcer.CheckLimits(ctx, fc, record); err != nil {
		return nil, err
	}
	if err := s.enforcer.CheckUniqueness(ctx, fc, record, ""); err != nil {
		return nil, err
	}

	doc, err := record.AsMap()
	if err != nil {
		return nil, err
	}

	saveResult := <-s.repo.Save(ctx, fc.Collection, record.ID, now.Unix(), now.Unix(), doc)
	if saveResult.Error != nil {
		return nil, saveResult.Error
	}

	s.cache.Set(ctx, family, record.ID, doc)
	log.Info("created %s record %s kind=%s", family, record.ID, record.Kind)
	return &record, nil
}

// Get fetches one record through the cache, enforcing read access either
// way: a cache hit is authorized in-process with the same semantics the
// compiled access predicate applies in the database.
func (s *recordService) Get(ctx context.Context, family, id string, user types.UserContext) (map[string]interface{}, error) {
	if _, err := s.familyConfig(family); err != nil {
		return nil, err
	}

	if doc, hit := s.cache.Get(ctx, family, id); hit {
		if !authorizedDoc(doc, user) {
			return nil, recorderrors.NewNotFound(fmt.Sprintf("record '%s' not found", id))
		}
		return doc, nil
	}

	fc, _ := s.cfg.Family(family)
	docs, err := s.compiler.Execute(ctx, plan.Query{
		Family: fc,
		Access: acl.ReadPredicate(user),
		Extra:  &models.Condition{Field: models.FieldID, Operator: models.OpEq, Value: id},
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, recorderrors.NewNotFound(fmt.Sprintf("record '%s' not found", id))
	}

	s.cache.Set(ctx, family, id, docs[0])
	return docs[0], nil
}

// List executes a filtered, set-narrowed, access-controlled listing.
func (s *recordService) List(ctx context.Context, family string, opts ListOptions, user types.UserContext) ([]map[string]interface{}, error) {
	fc, err := s.familyConfig(family)
	if err != nil {
		return nil, err
	}
	return s.compiler.Execute(ctx, s.buildQuery(fc, opts, user))
}

// Count counts what the equivalent List would match, before pagination.
func (s *recordService) Count(ctx context.Context, family string, opts ListOptions, user types.UserContext) (int64, error) {
	fc, err := s.familyConfig(family)
	if err != nil {
		return 0, err
	}
	return s.compiler.Count(ctx, s.buildQuery(fc, opts, user))
}

func (s *recordService) buildQuery(fc config.FamilyConfig, opts ListOptions, user types.UserContext) plan.Query {
	hydrate := opts.HydrateEndpoints ||
		(fc.Name == config.FamilyRelation && (opts.ListScope != nil || opts.EntityScope != nil))
	return plan.Query{
		Family:           fc,
		Filter:           opts.Filter,
		Set:              opts.Set,
		Access:           acl.ReadPredicate(user),
		Extra:            opts.Extra,
		ListScope:        opts.ListScope,
		EntityScope:      opts.EntityScope,
		HydrateEndpoints: hydrate,
	}
}

// Children lists the records whose _parents array references the target.
func (s *recordService) Children(ctx context.Context, family, id string, opts ListOptions, user types.UserContext) ([]map[string]interface{}, error) {
	target, err := s.Get(ctx, family, id, user)
	if err != nil {
		return nil, err
	}

	uri, _ := target[models.FieldURI].(string)
	if uri == "" {
		return []map[string]interface{}{}, nil
	}

	containment := &models.Condition{
		Field:    models.FieldParents,
		Operator: models.OpContainsAny,
		Value:    []string{uri},
	}
	opts.Extra = andConditions(opts.Extra, containment)
	return s.List(ctx, family, opts, user)
}

// Parents dereferences the target's _parents array within the same family.
func (s *recordService) Parents(ctx context.Context, family, id string, opts ListOptions, user types.UserContext) ([]map[string]interface{}, error) {
	fc, err := s.familyConfig(family)
	if err != nil {
		return nil, err
	}

	target, err := s.Get(ctx, family, id, user)
	if err != nil {
		return nil, err
	}

	var ids []interface{}
	for _, ref := range refStrings(target[models.FieldParents]) {
		collection, parentID, ok := plan.ParseRefURI(ref)
		if ok && collection == fc.Collection {
			ids = append(ids, parentID)
		}
	}
	if len(ids) == 0 {
		return []map[string]interface{}{}, nil
	}

	membership := &models.Condition{Field: models.FieldID, Operator: models.OpInq, Value: ids}
	opts.Extra = andConditions(opts.Extra, membership)
	return s.List(ctx, family, opts, user)
}

// Replace is a full document replace: unspecified caller fields are cleared,
// managed fields are re-derived, immutable fields must match the stored
// record byte for byte.
func (s *recordService) Replace(ctx context.Context, family, id string, record models.Record, user types.UserContext) error {
	fc, err := s.familyConfig(family)
	if err != nil {
		return err
	}

	existing, err := s.fetchStored(ctx, fc, id)
	if err != nil {
		return err
	}

	if err := checkImmutable(existing, record); err != nil {
		return err
	}

	now := models.Now()
	record.ID = id
	record.URI, _ = existing[models.FieldURI].(string)
	record.Kind = stringField(existing, models.FieldKind)
	record.ListID = stringField(existing, models.FieldListID)
	record.EntityID = stringField(existing, models.FieldEntityID)
	record.RecordID = stringField(existing, models.FieldRecordID)
	record.Version = versionOf(existing) + 1
	record.CreatedDateTime = timeField(existing, models.FieldCreatedDateTime)
	record.LastUpdatedDateTime = &now
	if record.Visibility == "" {
		record.Visibility = fc.DefaultVisibility
	}
	if err := validation.ValidateVisibility(record.Visibility); err != nil {
		return err
	}
	record.Slug = ""
	if record.Name != "" {
		record.Slug = Slugify(record.Name)
	}
	if err := s.mintEndpointURIs(fc, &record); err != nil {
		return err
	}

	if err := s.enforcer.CheckUniqueness(ctx, fc, record, id); err != nil {
		return err
	}

	doc, err := record.AsMap()
	if err != nil {
		return err
	}
	return s.persistUpdate(ctx, fc, family, id, doc)
}

// Patch merges the supplied top-level fields into the stored document.
func (s *recordService) Patch(ctx context.Context, family, id string, patch map[string]interface{}, user types.UserContext) error {
	fc, err := s.familyConfig(family)
	if err != nil {
		return err
	}

	existing, err := s.fetchStored(ctx, fc, id)
	if err != nil {
		return err
	}

	for _, field := range immutableScalars {
		supplied, present := patch[field]
		if !present {
			continue
		}
		suppliedStr, _ := supplied.(string)
		if suppliedStr != stringField(existing, field) {
			return recorderrors.NewImmutableField(field)
		}
	}

	if rawVisibility, present := patch[models.FieldVisibility]; present {
		visibility, _ := rawVisibility.(string)
		if err := validation.ValidateVisibility(visibility); err != nil {
			return err
		}
	}

	merged := make(map[string]interface{}, len(existing)+len(patch))
	for name, value := range existing {
		merged[name] = value
	}
	for name, value := range patch {
		if protectedFields[name] {
			continue
		}
		merged[name] = value
	}

	now := models.Now()
	merged[models.FieldVersion] = versionOf(existing) + 1
	merged[models.FieldLastUpdated] = now.Format(time.RFC3339Nano)
	if name, ok := merged[models.FieldName].(string); ok && name != "" {
		merged[models.FieldSlug] = Slugify(name)
	}

	var mergedRecord models.Record
	if raw, err := json.Marshal(merged); err == nil {
		_ = json.Unmarshal(raw, &mergedRecord)
	}
	if err := s.enforcer.CheckUniqueness(ctx, fc, mergedRecord, id); err != nil {
		return err
	}

	return s.persistUpdate(ctx, fc, family, id, merged)
}

// Delete removes a record and cascades to the relations referencing it.
func (s *recordService) Delete(ctx context.Context, family, id string, user types.UserContext) error {
	fc, err := s.familyConfig(family)
	if err != nil {
		return err
	}

	if _, err := s.fetchStored(ctx, fc, id); err != nil {
		return err
	}

	deleteResult := <-s.repo.Delete(ctx, fc.Collection, interfaces.NewField(interfaces.Field{
		Name: models.FieldID, Operator: interfaces.OpEq, Value: id,
	}))
	if deleteResult.Error != nil {
		return deleteResult.Error
	}

	if err := s.cascadeRelations(ctx, fc, id); err != nil {
		return err
	}

	s.cache.Delete(ctx, family, id)
	log.Info("deleted %s record %s", family, id)
	return nil
}

// cascadeRelations enforces referential integrity at the application layer:
// deleting an entity or list deletes the relations pointing at it.
func (s *recordService) cascadeRelations(ctx context.Context, fc config.FamilyConfig, id string) error {
	var endpointField string
	switch fc.Name {
	case config.FamilyEntity:
		endpointField = models.FieldEntityID
	case config.FamilyList:
		endpointField = models.FieldListID
	default:
		return nil
	}

	relFC, ok := s.cfg.Family(config.FamilyRelation)
	if !ok {
		return nil
	}

	cascadeResult := <-s.repo.Delete(ctx, relFC.Collection, interfaces.NewField(interfaces.Field{
		Name: endpointField, Operator: interfaces.OpEq, Value: id,
	}))
	if cascadeResult.Error != nil {
		return cascadeResult.Error
	}
	if deleted, ok := cascadeResult.Result.(int64); ok && deleted > 0 {
		log.Info("cascade deleted %d relations for %s %s", deleted, fc.Name, id)
	}
	return nil
}

func (s *recordService) persistUpdate(ctx context.Context, fc config.FamilyConfig, family, id string, doc map[string]interface{}) error {
	updateResult := <-s.repo.Update(ctx, fc.Collection, id, doc)
	if updateResult.Error != nil {
		if updateResult.Error == interfaces.ErrNoDocuments {
			return recorderrors.NewNotFound(fmt.Sprintf("record '%s' not found", id))
		}
		return updateResult.Error
	}
	s.cache.Delete(ctx, family, id)
	return nil
}

// fetchStored loads a document by id without the read access predicate;
// write-side authorization is an upstream middleware concern.
func (s *recordService) fetchStored(ctx context.Context, fc config.FamilyConfig, id string) (map[string]interface{}, error) {
	singleResult := <-s.repo.FindOne(ctx, fc.Collection, interfaces.NewField(interfaces.Field{
		Name: models.FieldID, Operator: interfaces.OpEq, Value: id,
	}))

	var doc map[string]interface{}
	if err := singleResult.Decode(&doc); err != nil {
		if err == interfaces.ErrNoDocuments {
			return nil, recorderrors.NewNotFound(fmt.Sprintf("record '%s' not found", id))
		}
		return nil, err
	}
	return doc, nil
}

func (s *recordService) mintURI(collection, id string) string {
	return plan.MintURI(s.cfg.Records.URIScheme, s.cfg.Records.URIHost, collection, id)
}

// mintEndpointURIs derives the reference URIs of a record's fixed endpoints.
func (s *recordService) mintEndpointURIs(fc config.FamilyConfig, record *models.Record) error {
	switch fc.Name {
	case config.FamilyRelation:
		listFC, ok := s.cfg.Family(config.FamilyList)
		if !ok {
			return fmt.Errorf("list family is not configured")
		}
		entityFC, ok := s.cfg.Family(config.FamilyEntity)
		if !ok {
			return fmt.Errorf("entity family is not configured")
		}
		record.ListURI = s.mintURI(listFC.Collection, record.ListID)
		record.EntityURI = s.mintURI(entityFC.Collection, record.EntityID)

	case config.FamilyEntityReaction:
		entityFC, ok := s.cfg.Family(config.FamilyEntity)
		if ok && record.RecordID != "" {
			record.RecordURI = s.mintURI(entityFC.Collection, record.RecordID)
		}

	case config.FamilyListReaction:
		listFC, ok := s.cfg.Family(config.FamilyList)
		if ok && record.RecordID != "" {
			record.RecordURI = s.mintURI(listFC.Collection, record.RecordID)
		}
	}
	return nil
}

// checkImmutable compares the write-once fields of an incoming replace
// against the stored document. An omitted (empty) value keeps the stored
// one; a supplied different value rejects the write.
func checkImmutable(existing map[string]interface{}, incoming models.Record) error {
	checks := []struct {
		field string
		value string
	}{
		{models.FieldKind, incoming.Kind},
		{models.FieldListID, incoming.ListID},
		{models.FieldEntityID, incoming.EntityID},
		{models.FieldRecordID, incoming.RecordID},
	}
	for _, check := range checks {
		if check.value == "" {
			continue
		}
		if stored := stringField(existing, check.field); stored != "" && stored != check.value {
			return recorderrors.NewImmutableField(check.field)
		}
	}
	return nil
}

// authorizedDoc mirrors the compiled read access predicate for documents
// served from the cache.
func authorizedDoc(doc map[string]interface{}, user types.UserContext) bool {
	if stringField(doc, models.FieldVisibility) == models.VisibilityPublic {
		return true
	}
	if user.IsAnonymous() {
		return false
	}

	for _, field := range []string{models.FieldOwnerUsers, models.FieldViewerUsers} {
		if contains(refStrings(doc[field]), user.UserID) {
			return true
		}
	}
	for _, field := range []string{models.FieldOwnerGroups, models.FieldViewerGroups} {
		for _, group := range user.Groups {
			if contains(refStrings(doc[field]), group) {
				return true
			}
		}
	}
	return false
}

func andConditions(a, b *models.Condition) *models.Condition {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &models.Condition{And: []*models.Condition{a, b}}
}

func stringField(doc map[string]interface{}, field string) string {
	value, _ := doc[field].(string)
	return value
}

func versionOf(doc map[string]interface{}) int64 {
	switch typed := doc[models.FieldVersion].(type) {
	case float64:
		return int64(typed)
	case int64:
		return typed
	}
	return 0
}

func timeField(doc map[string]interface{}, field string) *time.Time {
	raw, _ := doc[field].(string)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return &parsed
		}
	}
	return nil
}

func refStrings(raw interface{}) []string {
	switch typed := raw.(type) {
	case []string:
		return typed
	case []interface{}:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
