package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/validate"
	"github.com/vinculacion/registro-api/pkg/config"
	appErrors "github.com/vinculacion/registro-api/pkg/errors"
)

type fixture struct {
	store         *memStore
	catalog       *CatalogService
	registry      *RegistryService
	registrations *RegistrationService
	ingest        *IngestService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	store.seedCatalog(models.KindStrategicLine, "Apostolado")
	store.seedCatalog(models.KindActivityName, "Retiro Anual")

	audit := memAudit{s: store}
	noCache := NewCacheService(nil, nil, 0, nil, false)
	catalog := NewCatalogService(memCatalog{s: store}, audit, noCache, zap.NewNop())
	registry := NewRegistryService(memPersons{s: store}, audit, nil, zap.NewNop())
	registrations := NewRegistrationService(memRegistrations{s: store}, audit, zap.NewNop())

	cfg := config.IngestConfig{
		RowLimit:                 100,
		EncodingFallback:         "latin1",
		InstitutionEmailSuffixes: []string{"uni.cl"},
	}
	ingest := NewIngestService(cfg, nil, nil, catalog, registry, registrations,
		memActivities{s: store}, memUploads{s: store}, memFiles{s: store}, audit, nil, zap.NewNop())

	return &fixture{store: store, catalog: catalog, registry: registry, registrations: registrations, ingest: ingest}
}

func defaultMetadata() models.ActivityMetadata {
	return models.ActivityMetadata{
		Name:          "Retiro Anual",
		StrategicLine: "Apostolado",
		Year:          2026,
		Audience:      models.AudienceStudents,
	}
}

const accentedHeader = "Nombre Completo,RUT,Correo Institucional,Carrera,Teléfono"

func TestPreviewProposesAccentedHeadersAtFullConfidence(t *testing.T) {
	f := newFixture(t)
	preview, err := f.ingest.Preview(context.Background(), csvBytes(accentedHeader, "Ada Lovelace,12.345.678-5,ada@uni.cl,Math,+56 9 1234 5678"))
	require.NoError(t, err)

	require.Len(t, preview.Headers, 5)
	for _, header := range preview.Headers {
		assert.Equal(t, 100, preview.PerHeaderConfidence[header], "header %q", header)
	}
	assert.Len(t, preview.SampleRows, 1)
}

func TestCommitSingleCleanRow(t *testing.T) {
	f := newFixture(t)
	report, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw:      csvBytes(accentedHeader, "Ada Lovelace,12.345.678-5,ada@uni.cl,Math,+56 9 1234 5678"),
		Filename: "s1.csv",
		Metadata: defaultMetadata(),
		Actor:    "tester",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.RowCount)
	assert.Equal(t, 1, report.ValidCount)
	assert.Equal(t, 0, report.InvalidCount)
	assert.Equal(t, 1, report.NewPersons)
	assert.Empty(t, report.ErrorBreakdown)

	require.Len(t, f.store.persons, 1)
	for _, person := range f.store.persons {
		require.NotNil(t, person.NationalID)
		assert.Equal(t, "12345678-5", *person.NationalID)
		assert.Equal(t, "ada lovelace", person.NormalizedFullName)
		assert.Equal(t, models.AudienceStudents, person.Audience)
	}
	assert.Len(t, f.store.registrations, 1)
}

func TestCommitBadCheckDigitFallsBackToEmail(t *testing.T) {
	f := newFixture(t)
	report, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw:      csvBytes(accentedHeader, "Ada Lovelace,12345678-0,ada@uni.cl,Math,+56 9 1234 5678"),
		Metadata: defaultMetadata(),
		Actor:    "tester",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.InvalidCount)
	assert.Equal(t, 1, report.ErrorBreakdown[validate.ErrNIDBadCheck])
	assert.Equal(t, 1, report.NewPersons)

	require.Len(t, f.store.persons, 1)
	for _, person := range f.store.persons {
		assert.Nil(t, person.NationalID)
		require.NotNil(t, person.Email)
		assert.Equal(t, "ada@uni.cl", *person.Email)
	}
	for _, reg := range f.store.registrations {
		require.NotNil(t, reg.ValidationErrors)
		assert.Contains(t, *reg.ValidationErrors, validate.ErrNIDBadCheck)
	}
}

func TestCommitCollapsesWithinFileDuplicates(t *testing.T) {
	f := newFixture(t)
	report, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw: csvBytes(accentedHeader,
			"Bob Builder,,bob@uni.cl,Math,+56 9 1234 5678",
			"Bob Builder,,bob@uni.cl,Math,+56 9 1234 5678"),
		Metadata: defaultMetadata(),
		Actor:    "tester",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.WithinUploadDuplicates)
	assert.Equal(t, 1, report.NewPersons)
	assert.Equal(t, 1, report.ExistingPersons)
	assert.Len(t, f.store.persons, 1)
	assert.Len(t, f.store.registrations, 1)
}

func TestCommitIdempotentAcrossRuns(t *testing.T) {
	f := newFixture(t)
	raw := csvBytes(accentedHeader,
		"Ada Lovelace,12.345.678-5,ada@uni.cl,Math,+56 9 1234 5678",
		"Grace Hopper,11.111.111-1,grace@uni.cl,CS,+56 9 8765 4321")

	first, err := f.ingest.Commit(context.Background(), CommitRequest{Raw: raw, Metadata: defaultMetadata(), Actor: "tester"})
	require.NoError(t, err)
	personsAfterFirst := len(f.store.persons)
	registrationsAfterFirst := len(f.store.registrations)

	second, err := f.ingest.Commit(context.Background(), CommitRequest{Raw: raw, Metadata: defaultMetadata(), Actor: "tester"})
	require.NoError(t, err)

	assert.Equal(t, 0, second.NewPersons)
	assert.Equal(t, first.ValidCount, second.WithinUploadDuplicates)
	assert.Equal(t, personsAfterFirst, len(f.store.persons))
	assert.Equal(t, registrationsAfterFirst, len(f.store.registrations))
}

func TestCommitRejectsIncompleteMapping(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw:      csvBytes("Nombre,RUT", "Ada Lovelace,12.345.678-5"),
		Metadata: defaultMetadata(),
		Actor:    "tester",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrMappingIncomplete.Code, appErr.Code)
}

func TestCommitRejectsUnknownStrategicLine(t *testing.T) {
	f := newFixture(t)
	meta := defaultMetadata()
	meta.StrategicLine = "No Existe"
	_, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw:      csvBytes(accentedHeader, "Ada Lovelace,12.345.678-5,ada@uni.cl,Math,+56 9 1234 5678"),
		Metadata: meta,
		Actor:    "tester",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrActivityUnknown.Code, appErr.Code)
}

func TestCommitResolvesStrategicLineThroughMapping(t *testing.T) {
	f := newFixture(t)
	var canonicalID string
	for _, entry := range f.store.catalog {
		if entry.Kind == models.KindStrategicLine {
			canonicalID = entry.ID
		}
	}
	_, err := f.catalog.MapUnknown(context.Background(), models.KindStrategicLine, "Apostolados Varios", canonicalID, "admin")
	require.NoError(t, err)

	meta := defaultMetadata()
	meta.StrategicLine = "Apostolados Varios"
	report, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw:      csvBytes(accentedHeader, "Ada Lovelace,12.345.678-5,ada@uni.cl,Math,+56 9 1234 5678"),
		Metadata: meta,
		Actor:    "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ValidCount)

	activity, err := memActivities{s: f.store}.FindByID(context.Background(), report.ActivityID)
	require.NoError(t, err)
	assert.Equal(t, "Apostolado", activity.StrategicLine)
}

func TestCommitEnforcesRowLimit(t *testing.T) {
	f := newFixture(t)
	lines := []string{accentedHeader}
	for i := 0; i < 101; i++ {
		lines = append(lines, "Ada Lovelace,,ada@uni.cl,Math,")
	}
	_, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw:      csvBytes(lines...),
		Metadata: defaultMetadata(),
		Actor:    "tester",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrParseTooLarge.Code, appErr.Code)
}

func TestCommitAudienceComesFromMetadata(t *testing.T) {
	f := newFixture(t)
	meta := defaultMetadata()
	meta.Audience = models.AudienceStaff
	// The career column screams student, but the operator declared staff.
	_, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw:      csvBytes(accentedHeader, "Ada Lovelace,12.345.678-5,ada@uni.cl,Estudiante de Magister,+56 9 1234 5678"),
		Metadata: meta,
		Actor:    "tester",
	})
	require.NoError(t, err)
	for _, person := range f.store.persons {
		assert.Equal(t, models.AudienceStaff, person.Audience)
	}
}

func TestCommitKeepsUnmappedColumnsAsExtras(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw: csvBytes(
			"Nombre Completo,RUT,Correo Institucional,Carrera,Teléfono,Marca temporal",
			"Ada Lovelace,12.345.678-5,ada@uni.cl,Math,+56 9 1234 5678,2026/08/05 10:00"),
		Metadata: defaultMetadata(),
		Actor:    "tester",
	})
	require.NoError(t, err)

	for _, reg := range f.store.registrations {
		require.NotEmpty(t, reg.Extras)
		var extras map[string]string
		require.NoError(t, json.Unmarshal(reg.Extras, &extras))
		assert.Equal(t, "2026/08/05 10:00", extras["Marca temporal"])
	}
}

func TestCommitBusyActivity(t *testing.T) {
	f := newFixture(t)
	raw := csvBytes(accentedHeader, "Ada Lovelace,12.345.678-5,ada@uni.cl,Math,+56 9 1234 5678")
	report, err := f.ingest.Commit(context.Background(), CommitRequest{Raw: raw, Metadata: defaultMetadata(), Actor: "tester"})
	require.NoError(t, err)

	release, ok := f.ingest.locks.TryAcquire("activity:" + report.ActivityID)
	require.True(t, ok)
	defer release()

	_, err = f.ingest.Commit(context.Background(), CommitRequest{Raw: raw, Metadata: defaultMetadata(), Actor: "tester"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrActivityBusy.Code, appErr.Code)
}

func TestCommitEmptyUploadFailsParse(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingest.Commit(context.Background(), CommitRequest{Raw: nil, Metadata: defaultMetadata(), Actor: "tester"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrParseFailed.Code, appErr.Code)
}

func TestCommitEmitsAudit(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingest.Commit(context.Background(), CommitRequest{
		Raw:      csvBytes(accentedHeader, "Ada Lovelace,12.345.678-5,ada@uni.cl,Math,+56 9 1234 5678"),
		Metadata: defaultMetadata(),
		Actor:    "operator@uni.cl",
	})
	require.NoError(t, err)
	logs := memAudit{s: f.store}.byAction(models.AuditActionIngestCommit)
	require.Len(t, logs, 1)
	assert.Equal(t, "operator@uni.cl", logs[0].Actor)
}
