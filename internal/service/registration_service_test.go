package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
)

func newRegistrationFixture() (*memStore, *RegistrationService) {
	store := newMemStore()
	return store, NewRegistrationService(memRegistrations{s: store}, memAudit{s: store}, zap.NewNop())
}

func TestRecordIsIdempotent(t *testing.T) {
	_, svc := newRegistrationFixture()
	first, existed, err := svc.Record(context.Background(), &models.Registration{PersonID: "p1", ActivityID: "a1", Source: models.SourceCSV})
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, models.AttendanceUnknown, first.Attended)

	second, existed, err := svc.Record(context.Background(), &models.Registration{PersonID: "p1", ActivityID: "a1", Source: models.SourceWalkIn})
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, second.ID)
}

func TestToggleAttendanceAuditsPriorValue(t *testing.T) {
	store, svc := newRegistrationFixture()
	reg, _, err := svc.Record(context.Background(), &models.Registration{PersonID: "p1", ActivityID: "a1", Source: models.SourceCSV})
	require.NoError(t, err)

	updated, err := svc.ToggleAttendance(context.Background(), reg.ID, models.AttendanceYes, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceYes, updated.Attended)

	updated, err = svc.ToggleAttendance(context.Background(), reg.ID, models.AttendanceUnknown, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceUnknown, updated.Attended)

	logs := memAudit{s: store}.byAction(models.AuditActionAttendanceToggle)
	require.Len(t, logs, 2)

	var first, second map[string]models.Attendance
	require.NoError(t, json.Unmarshal(logs[0].OldValues, &first))
	require.NoError(t, json.Unmarshal(logs[1].OldValues, &second))
	assert.Equal(t, models.AttendanceUnknown, first["attended"])
	assert.Equal(t, models.AttendanceYes, second["attended"])
	assert.Equal(t, "operator", logs[0].Actor)
}

func TestToggleAttendanceRejectsInvalidValue(t *testing.T) {
	_, svc := newRegistrationFixture()
	_, err := svc.ToggleAttendance(context.Background(), "whatever", models.Attendance("maybe"), "operator")
	assert.Error(t, err)
}

func TestBulkToggleAllOrNothing(t *testing.T) {
	store, svc := newRegistrationFixture()
	first, _, err := svc.Record(context.Background(), &models.Registration{PersonID: "p1", ActivityID: "a1", Source: models.SourceCSV})
	require.NoError(t, err)
	second, _, err := svc.Record(context.Background(), &models.Registration{PersonID: "p2", ActivityID: "a1", Source: models.SourceCSV})
	require.NoError(t, err)

	// One id from a different activity poisons the whole batch.
	other, _, err := svc.Record(context.Background(), &models.Registration{PersonID: "p3", ActivityID: "a2", Source: models.SourceCSV})
	require.NoError(t, err)
	_, err = svc.BulkToggleAttendance(context.Background(), "a1", []string{first.ID, other.ID}, models.AttendanceYes, "operator")
	require.Error(t, err)
	for _, reg := range store.registrations {
		assert.Equal(t, models.AttendanceUnknown, reg.Attended)
	}

	affected, err := svc.BulkToggleAttendance(context.Background(), "a1", []string{first.ID, second.ID}, models.AttendanceYes, "operator")
	require.NoError(t, err)
	assert.Equal(t, 2, affected)
}
