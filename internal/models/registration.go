package models

import "time"

// RegistrationSource distinguishes CSV rows from walk-in attendance.
type RegistrationSource string

const (
	SourceCSV    RegistrationSource = "csv"
	SourceWalkIn RegistrationSource = "walk_in"
)

// Attendance is the tri-state participation flag.
type Attendance string

const (
	AttendanceUnknown Attendance = "unknown"
	AttendanceYes     Attendance = "yes"
	AttendanceNo      Attendance = "no"
)

// Valid reports whether the value is one of the three accepted states.
func (a Attendance) Valid() bool {
	return a == AttendanceUnknown || a == AttendanceYes || a == AttendanceNo
}

// Registration records one person's participation in one activity. Exactly
// one row exists per (person_id, activity_id); merges rewrite person_id to
// the survivor and deleting a person is forbidden.
type Registration struct {
	ID               string             `db:"id" json:"id"`
	PersonID         string             `db:"person_id" json:"person_id"`
	ActivityID       string             `db:"activity_id" json:"activity_id"`
	Source           RegistrationSource `db:"source" json:"source"`
	Attended         Attendance         `db:"attended" json:"attended"`
	ValidationErrors *string            `db:"validation_errors" json:"validation_errors,omitempty"`
	Extras           []byte             `db:"extras" json:"extras,omitempty"`
	BatchID          *string            `db:"batch_id" json:"batch_id,omitempty"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updated_at"`
}

// RegistrationDetail joins the owning person and activity for listings and
// the enriched export.
type RegistrationDetail struct {
	Registration
	PersonName    string   `db:"person_name" json:"person_name"`
	ActivityName  string   `db:"activity_name" json:"activity_name"`
	StrategicLine string   `db:"strategic_line" json:"strategic_line"`
	Year          int      `db:"year" json:"year"`
	Audience      Audience `db:"audience" json:"audience"`
}

// RegistrationFilter narrows registration listings.
type RegistrationFilter struct {
	ActivityID string
	PersonID   string
	Attended   *Attendance
	Page       int
	PageSize   int
}
