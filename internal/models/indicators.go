package models

// IndicatorDimension names a grouping axis for indicator queries.
type IndicatorDimension string

const (
	DimYear          IndicatorDimension = "year"
	DimStrategicLine IndicatorDimension = "strategic_line"
	DimAudience      IndicatorDimension = "audience"
)

// Valid reports whether the dimension is a supported grouping axis.
func (d IndicatorDimension) Valid() bool {
	return d == DimYear || d == DimStrategicLine || d == DimAudience
}

// IndicatorFilter selects the dimension set and optional activity filter.
type IndicatorFilter struct {
	Dimensions []IndicatorDimension
	ActivityID string
}

// IndicatorRow is one aggregate bucket. Dimension columns are nil when the
// dimension was not requested. ConversionRate is nil when registrations is
// zero, otherwise participations/registrations rounded to two decimals.
type IndicatorRow struct {
	Year                      *int     `db:"year" json:"year,omitempty"`
	StrategicLine             *string  `db:"strategic_line" json:"strategic_line,omitempty"`
	Audience                  *string  `db:"audience" json:"audience,omitempty"`
	Registrations             int      `db:"registrations" json:"registrations"`
	Participations            int      `db:"participations" json:"participations"`
	UniquePersonsRegistered   int      `db:"unique_persons_registered" json:"unique_persons_registered"`
	UniquePersonsParticipated int      `db:"unique_persons_participated" json:"unique_persons_participated"`
	ConversionRate            *float64 `json:"conversion_rate"`
}

// DuplicateStats summarises the review queue for the data-quality view.
type DuplicateStats struct {
	TotalPersons  int `db:"total_persons" json:"total_persons"`
	Tombstones    int `db:"tombstones" json:"tombstones"`
	PendingItems  int `db:"pending_items" json:"pending_items"`
	AcceptedItems int `db:"accepted_items" json:"accepted_items"`
	RejectedItems int `db:"rejected_items" json:"rejected_items"`
	SkippedItems  int `db:"skipped_items" json:"skipped_items"`
}
