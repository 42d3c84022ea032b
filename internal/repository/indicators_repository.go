package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/vinculacion/registro-api/internal/models"
)

// IndicatorsRepository exposes read-only aggregations over the post-merge
// registry and registration store.
type IndicatorsRepository struct {
	db *sqlx.DB
}

// NewIndicatorsRepository instantiates the repository.
func NewIndicatorsRepository(db *sqlx.DB) *IndicatorsRepository {
	return &IndicatorsRepository{db: db}
}

// dimColumns maps each dimension to its source column. Audience is read from
// the person row, never recomputed from free-text program values.
var dimColumns = map[models.IndicatorDimension]string{
	models.DimYear:          "a.year",
	models.DimStrategicLine: "a.strategic_line",
	models.DimAudience:      "p.audience",
}

// Aggregate groups registrations by the requested dimensions. Tombstoned
// persons are excluded; their registrations were re-pointed at merge time.
func (r *IndicatorsRepository) Aggregate(ctx context.Context, filter models.IndicatorFilter) ([]models.IndicatorRow, error) {
	selects := make([]string, 0, len(filter.Dimensions))
	groups := make([]string, 0, len(filter.Dimensions))
	for _, dim := range filter.Dimensions {
		column, ok := dimColumns[dim]
		if !ok {
			return nil, fmt.Errorf("unknown indicator dimension %q", dim)
		}
		selects = append(selects, fmt.Sprintf("%s AS %s", column, dim))
		groups = append(groups, column)
	}

	var builder strings.Builder
	builder.WriteString("SELECT ")
	if len(selects) > 0 {
		builder.WriteString(strings.Join(selects, ", "))
		builder.WriteString(", ")
	}
	builder.WriteString(`COUNT(*) AS registrations,
        SUM(CASE WHEN r.attended = 'yes' THEN 1 ELSE 0 END) AS participations,
        COUNT(DISTINCT r.person_id) AS unique_persons_registered,
        COUNT(DISTINCT CASE WHEN r.attended = 'yes' THEN r.person_id END) AS unique_persons_participated
        FROM registrations r
        JOIN activities a ON a.id = r.activity_id
        JOIN persons p ON p.id = r.person_id
        WHERE p.merged_into_id IS NULL`)

	var args []interface{}
	if filter.ActivityID != "" {
		args = append(args, filter.ActivityID)
		builder.WriteString(fmt.Sprintf(" AND r.activity_id = $%d", len(args)))
	}
	if len(groups) > 0 {
		builder.WriteString(" GROUP BY " + strings.Join(groups, ", "))
		builder.WriteString(" ORDER BY " + strings.Join(groups, ", "))
	}

	var rows []models.IndicatorRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("aggregate indicators: %w", err)
	}
	return rows, nil
}
