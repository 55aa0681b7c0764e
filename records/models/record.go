package models

import (
	"encoding/json"
	"time"
)

// Visibility values a record may carry.
const (
	VisibilityPublic    = "public"
	VisibilityProtected = "protected"
	VisibilityPrivate   = "private"
)

// Managed field names. Everything else on a document is caller-defined.
const (
	FieldID              = "_id"
	FieldURI             = "_uri"
	FieldKind            = "_kind"
	FieldName            = "_name"
	FieldSlug            = "_slug"
	FieldVersion         = "_version"
	FieldVisibility      = "_visibility"
	FieldOwnerUsers      = "_ownerUsers"
	FieldOwnerGroups     = "_ownerGroups"
	FieldViewerUsers     = "_viewerUsers"
	FieldViewerGroups    = "_viewerGroups"
	FieldValidFrom       = "_validFromDateTime"
	FieldValidUntil      = "_validUntilDateTime"
	FieldCreatedDateTime = "_createdDateTime"
	FieldLastUpdated     = "_lastUpdatedDateTime"
	FieldParents         = "_parents"
	FieldListID          = "_listId"
	FieldEntityID        = "_entityId"
	FieldListURI         = "_listUri"
	FieldEntityURI       = "_entityUri"
	FieldRecordID        = "_recordId"
	FieldRecordURI       = "_recordUri"
	FieldFromMetadata    = "_fromMetadata"
	FieldToMetadata      = "_toMetadata"
)

// managedFieldNames lists every key the Record struct owns; UnmarshalJSON
// strips these from the open document before filling Extra.
var managedFieldNames = []string{
	FieldID, FieldURI, FieldKind, FieldName, FieldSlug, FieldVersion,
	FieldVisibility, FieldOwnerUsers, FieldOwnerGroups, FieldViewerUsers,
	FieldViewerGroups, FieldValidFrom, FieldValidUntil, FieldCreatedDateTime,
	FieldLastUpdated, FieldParents, FieldListID, FieldEntityID,
	FieldListURI, FieldEntityURI, FieldRecordID, FieldRecordURI,
	FieldFromMetadata, FieldToMetadata,
}

// Record is one schemaless document: a fixed set of managed system fields
// plus an open map of caller-defined properties. JSON marshalling flattens
// Extra into the top level so callers see a single flat document.
type Record struct {
	ID         string `json:"_id"`
	URI        string `json:"_uri,omitempty"`
	Kind       string `json:"_kind"`
	Name       string `json:"_name,omitempty"`
	Slug       string `json:"_slug,omitempty"`
	Version    int64  `json:"_version"`
	Visibility string `json:"_visibility"`

	OwnerUsers   []string `json:"_ownerUsers,omitempty"`
	OwnerGroups  []string `json:"_ownerGroups,omitempty"`
	ViewerUsers  []string `json:"_viewerUsers,omitempty"`
	ViewerGroups []string `json:"_viewerGroups,omitempty"`

	ValidFromDateTime   *time.Time `json:"_validFromDateTime"`
	ValidUntilDateTime  *time.Time `json:"_validUntilDateTime"`
	CreatedDateTime     *time.Time `json:"_createdDateTime,omitempty"`
	LastUpdatedDateTime *time.Time `json:"_lastUpdatedDateTime,omitempty"`

	Parents []string `json:"_parents,omitempty"`

	// Relation endpoints (list-entity-rel family only). The ids are immutable
	// after creation; the URIs are minted from them.
	ListID    string `json:"_listId,omitempty"`
	EntityID  string `json:"_entityId,omitempty"`
	ListURI   string `json:"_listUri,omitempty"`
	EntityURI string `json:"_entityUri,omitempty"`

	// Reaction target (reaction families only). Immutable after creation.
	RecordID  string `json:"_recordId,omitempty"`
	RecordURI string `json:"_recordUri,omitempty"`

	// Hydrated relation endpoint documents, present only on relation listings
	// that requested endpoint scoping or metadata.
	FromMetadata *Record `json:"_fromMetadata,omitempty"`
	ToMetadata   *Record `json:"_toMetadata,omitempty"`

	// Extra holds every caller-defined property.
	Extra map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object. Managed fields win
// over an Extra entry with the same name.
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	base, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}

	if len(r.Extra) == 0 {
		return base, nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, err
	}
	for name, value := range r.Extra {
		if _, managed := doc[name]; !managed {
			doc[name] = value
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON fills managed fields by name and collects every other
// top-level key into Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	for _, name := range managedFieldNames {
		delete(doc, name)
	}
	if len(doc) > 0 {
		a.Extra = doc
	} else {
		a.Extra = nil
	}

	*r = Record(a)
	return nil
}

// AsMap returns the flat document representation used for persistence and
// projection. Managed fields and Extra entries are addressed uniformly by
// name.
func (r Record) AsMap() (map[string]interface{}, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Property looks up a top-level property by name, managed or caller-defined.
func (r Record) Property(name string) (interface{}, bool) {
	doc, err := r.AsMap()
	if err != nil {
		return nil, false
	}
	value, ok := doc[name]
	return value, ok
}

// IsManagedField reports whether name is a system-controlled field.
func IsManagedField(name string) bool {
	for _, managed := range managedFieldNames {
		if managed == name {
			return true
		}
	}
	return false
}
