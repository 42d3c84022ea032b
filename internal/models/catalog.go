package models

import "time"

// CatalogKind names one of the controlled vocabularies.
type CatalogKind string

const (
	KindStrategicLine CatalogKind = "strategic_line"
	KindActivityName  CatalogKind = "activity_name"
	KindCareer        CatalogKind = "career"
)

// Valid reports whether the kind is one of the three vocabularies.
func (k CatalogKind) Valid() bool {
	return k == KindStrategicLine || k == KindActivityName || k == KindCareer
}

// CatalogEntry is one controlled-vocabulary value. The active flag hides an
// entry without deleting it.
type CatalogEntry struct {
	ID        string      `db:"id" json:"id"`
	Kind      CatalogKind `db:"kind" json:"kind"`
	Name      string      `db:"name" json:"name"`
	Active    bool        `db:"active" json:"active"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// ReconciliationMapping records an operator decision that an unknown free
// text value means a given canonical entry. Unique on (kind, unknown_value).
type ReconciliationMapping struct {
	ID           string      `db:"id" json:"id"`
	Kind         CatalogKind `db:"kind" json:"kind"`
	UnknownValue string      `db:"unknown_value" json:"unknown_value"`
	CanonicalID  string      `db:"canonical_id" json:"canonical_id"`
	MappedBy     *string     `db:"mapped_by" json:"mapped_by,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// MetadataValue tracks free-text metadata usage so the upload form can
// autocomplete previously seen strategic lines and activity names.
type MetadataValue struct {
	ID         string    `db:"id" json:"id"`
	FieldName  string    `db:"field_name" json:"field_name"`
	Value      string    `db:"value" json:"value"`
	UsageCount int       `db:"usage_count" json:"usage_count"`
	LastUsed   time.Time `db:"last_used" json:"last_used"`
}
