package models

import "time"

// Activity is the grain of a single event occurrence. Immutable after
// creation except for administrative corrections.
type Activity struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	StrategicLine string    `db:"strategic_line" json:"strategic_line"`
	Year          int       `db:"year" json:"year"`
	Audience      Audience  `db:"audience" json:"audience"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ActivityMetadata is the caller-supplied identity of an upload's activity.
type ActivityMetadata struct {
	Name          string   `json:"activity_name" validate:"required"`
	StrategicLine string   `json:"strategic_line" validate:"required"`
	Year          int      `json:"year" validate:"required,gte=2000,lte=2100"`
	Audience      Audience `json:"audience" validate:"required,oneof=students staff"`
}
