package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinculacion/registro-api/internal/models"
)

func registrationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "person_id", "activity_id", "source", "attended", "validation_errors", "extras", "batch_id", "created_at", "updated_at"})
}

func TestRegistrationInsertIdempotentNewRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("INSERT INTO registrations").
		WillReturnResult(sqlmock.NewResult(1, 1))

	registration := &models.Registration{PersonID: "p1", ActivityID: "a1", Source: models.SourceCSV}
	stored, inserted, err := repo.InsertIdempotent(context.Background(), registration)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, models.AttendanceUnknown, stored.Attended)
	assert.NotEmpty(t, stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationInsertIdempotentExistingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("INSERT INTO registrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM registrations WHERE person_id").
		WithArgs("p1", "a1").
		WillReturnRows(registrationRows().AddRow("existing", "p1", "a1", "csv", "unknown", nil, nil, nil, time.Now(), time.Now()))

	stored, inserted, err := repo.InsertIdempotent(context.Background(), &models.Registration{PersonID: "p1", ActivityID: "a1", Source: models.SourceCSV})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "existing", stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationUpdateAttendanceReturnsPrior(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery("SELECT .* FROM registrations WHERE id").
		WithArgs("r1").
		WillReturnRows(registrationRows().AddRow("r1", "p1", "a1", "csv", "unknown", nil, nil, nil, time.Now(), time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations SET attended = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("r1", models.AttendanceYes, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, prior, err := repo.UpdateAttendance(context.Background(), "r1", models.AttendanceYes)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceUnknown, prior)
	assert.Equal(t, models.AttendanceYes, updated.Attended)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationBulkUpdateAttendanceAtomicity(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE registrations SET attended").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	// Two ids requested, only one matched: the transaction rolls back.
	_, err := repo.BulkUpdateAttendance(context.Background(), "a1", []string{"r1", "r2"}, models.AttendanceYes)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
