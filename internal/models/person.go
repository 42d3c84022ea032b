package models

import "time"

// Audience is the operator-declared population of an activity.
type Audience string

const (
	AudienceStudents Audience = "students"
	AudienceStaff    Audience = "staff"
)

// Valid reports whether the audience is one of the two accepted values.
func (a Audience) Valid() bool {
	return a == AudienceStudents || a == AudienceStaff
}

// Person is a unique individual in the registry. Identity is resolved by
// national id when present, else institutional email, else a new row.
//
// A person with a non-nil MergedIntoID is a tombstone: it is never returned
// by lookups but keeps old registrations referentially intact.
type Person struct {
	ID                 string    `db:"id" json:"id"`
	RawFullName        string    `db:"raw_full_name" json:"raw_full_name"`
	NormalizedFullName string    `db:"normalized_full_name" json:"normalized_full_name"`
	CanonicalFullName  string    `db:"canonical_full_name" json:"canonical_full_name"`
	NationalID         *string   `db:"national_id" json:"national_id,omitempty"`
	Email              *string   `db:"email" json:"email,omitempty"`
	Career             *string   `db:"career" json:"career,omitempty"`
	Phone              *string   `db:"phone" json:"phone,omitempty"`
	Audience           Audience  `db:"audience" json:"audience"`
	RawNameHistory     []byte    `db:"raw_name_history" json:"raw_name_history,omitempty"`
	MergedIntoID       *string   `db:"merged_into_id" json:"merged_into_id,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Tombstone reports whether this row has been merged away.
func (p *Person) Tombstone() bool {
	return p != nil && p.MergedIntoID != nil
}

// DisplayName is the canonical form when a merge stamped one, otherwise the
// normalized form.
func (p *Person) DisplayName() string {
	if p.CanonicalFullName != "" {
		return p.CanonicalFullName
	}
	return p.NormalizedFullName
}
