package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinculacion/registro-api/internal/models"
	"github.com/vinculacion/registro-api/internal/normalize"
	"github.com/vinculacion/registro-api/internal/repository"
)

// In-memory fakes shared by the service tests. They mirror the SQL
// repositories' contracts closely enough to drive the end-to-end scenarios
// without a database.

type memStore struct {
	mu            sync.Mutex
	persons       map[string]*models.Person
	registrations map[string]*models.Registration
	activities    map[string]*models.Activity
	batches       map[string]*models.UploadBatch
	catalog       map[string]*models.CatalogEntry
	mappings      map[string]*models.ReconciliationMapping
	metadata      map[string]*models.MetadataValue
	reviews       map[string]*models.ReviewItem
	audits        []models.AuditLog
	files         map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{
		persons:       make(map[string]*models.Person),
		registrations: make(map[string]*models.Registration),
		activities:    make(map[string]*models.Activity),
		batches:       make(map[string]*models.UploadBatch),
		catalog:       make(map[string]*models.CatalogEntry),
		mappings:      make(map[string]*models.ReconciliationMapping),
		metadata:      make(map[string]*models.MetadataValue),
		reviews:       make(map[string]*models.ReviewItem),
		files:         make(map[string][]byte),
	}
}

func (m *memStore) seedCatalog(kind models.CatalogKind, names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		entry := &models.CatalogEntry{ID: uuid.NewString(), Kind: kind, Name: name, Active: true}
		m.catalog[string(kind)+"|"+normalize.Fold(name)] = entry
	}
}

// --- personStore / dedupPersonStore ---

type memPersons struct{ s *memStore }

func (m memPersons) FindByID(ctx context.Context, id string) (*models.Person, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if p, ok := m.s.persons[id]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m memPersons) Resolve(ctx context.Context, id string) (*models.Person, error) {
	person, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for person.MergedIntoID != nil {
		person, err = m.FindByID(ctx, *person.MergedIntoID)
		if err != nil {
			return nil, err
		}
	}
	return person, nil
}

func (m memPersons) findBy(match func(*models.Person) bool) (*models.Person, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.persons {
		if p.MergedIntoID == nil && match(p) {
			clone := *p
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memPersons) FindByNationalID(ctx context.Context, nationalID string) (*models.Person, error) {
	return m.findBy(func(p *models.Person) bool {
		return p.NationalID != nil && *p.NationalID == nationalID
	})
}

func (m memPersons) FindByEmail(ctx context.Context, email string) (*models.Person, error) {
	return m.findBy(func(p *models.Person) bool {
		return p.Email != nil && *p.Email == email
	})
}

func (m memPersons) Create(ctx context.Context, person *models.Person) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if person.ID == "" {
		person.ID = uuid.NewString()
	}
	if person.CanonicalFullName == "" {
		person.CanonicalFullName = person.NormalizedFullName
	}
	person.CreatedAt = time.Now().UTC()
	clone := *person
	m.s.persons[person.ID] = &clone
	return nil
}

func (m memPersons) UpdateAttributes(ctx context.Context, person *models.Person) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.persons[person.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.NationalID = person.NationalID
	stored.Email = person.Email
	stored.Career = person.Career
	stored.Phone = person.Phone
	stored.RawNameHistory = person.RawNameHistory
	return nil
}

func (m memPersons) ListActive(ctx context.Context) ([]models.Person, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.Person
	for _, p := range m.s.persons {
		if p.MergedIntoID == nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memPersons) ListMissingNormalization(ctx context.Context) ([]models.Person, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.Person
	for _, p := range m.s.persons {
		if p.MergedIntoID == nil && (p.NormalizedFullName == "" || p.CanonicalFullName == "") {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m memPersons) UpdateNormalization(ctx context.Context, id, normalized, canonical string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if p, ok := m.s.persons[id]; ok {
		p.NormalizedFullName = normalized
		p.CanonicalFullName = canonical
		return nil
	}
	return sql.ErrNoRows
}

func (m memPersons) Merge(ctx context.Context, survivorID, loserID, canonicalName string) (*repository.MergeResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	survivor, okS := m.s.persons[survivorID]
	loser, okL := m.s.persons[loserID]
	if !okS || !okL {
		return nil, sql.ErrNoRows
	}
	if survivor.MergedIntoID != nil || loser.MergedIntoID != nil {
		return nil, fmt.Errorf("merge pair contains a tombstone")
	}
	survivorBefore, _ := json.Marshal(survivor)
	loserBefore, _ := json.Marshal(loser)

	moved, dropped := 0, 0
	for key, reg := range m.s.registrations {
		if reg.PersonID != loserID {
			continue
		}
		collision := false
		for _, other := range m.s.registrations {
			if other.PersonID == survivorID && other.ActivityID == reg.ActivityID {
				collision = true
				break
			}
		}
		if collision {
			delete(m.s.registrations, key)
			dropped++
			continue
		}
		delete(m.s.registrations, key)
		reg.PersonID = survivorID
		m.s.registrations[survivorID+"|"+reg.ActivityID] = reg
		moved++
	}

	if survivor.NationalID == nil && loser.NationalID != nil {
		survivor.NationalID = loser.NationalID
	}
	if survivor.Email == nil && loser.Email != nil {
		survivor.Email = loser.Email
	}
	if survivor.Career == nil && loser.Career != nil {
		survivor.Career = loser.Career
	}
	if survivor.Phone == nil && loser.Phone != nil {
		survivor.Phone = loser.Phone
	}
	survivor.CanonicalFullName = canonicalName
	loser.MergedIntoID = &survivor.ID
	loser.NationalID = nil
	loser.Email = nil
	loser.Career = nil
	loser.Phone = nil

	clone := *survivor
	return &repository.MergeResult{
		Survivor:             &clone,
		SurvivorBefore:       survivorBefore,
		LoserBefore:          loserBefore,
		MovedRegistrations:   moved,
		DroppedRegistrations: dropped,
	}, nil
}

// --- registrationStore ---

type memRegistrations struct{ s *memStore }

func (m memRegistrations) InsertIdempotent(ctx context.Context, registration *models.Registration) (*models.Registration, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := registration.PersonID + "|" + registration.ActivityID
	if existing, ok := m.s.registrations[key]; ok {
		clone := *existing
		return &clone, false, nil
	}
	if registration.ID == "" {
		registration.ID = uuid.NewString()
	}
	if registration.Attended == "" {
		registration.Attended = models.AttendanceUnknown
	}
	registration.CreatedAt = time.Now().UTC()
	clone := *registration
	m.s.registrations[key] = &clone
	return registration, true, nil
}

func (m memRegistrations) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, reg := range m.s.registrations {
		if reg.ID == id {
			clone := *reg
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memRegistrations) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.RegistrationDetail
	for _, reg := range m.s.registrations {
		if filter.ActivityID != "" && reg.ActivityID != filter.ActivityID {
			continue
		}
		if filter.PersonID != "" && reg.PersonID != filter.PersonID {
			continue
		}
		if filter.Attended != nil && reg.Attended != *filter.Attended {
			continue
		}
		out = append(out, models.RegistrationDetail{Registration: *reg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m memRegistrations) UpdateAttendance(ctx context.Context, id string, value models.Attendance) (*models.Registration, models.Attendance, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, reg := range m.s.registrations {
		if reg.ID == id {
			prior := reg.Attended
			reg.Attended = value
			clone := *reg
			return &clone, prior, nil
		}
	}
	return nil, "", sql.ErrNoRows
}

func (m memRegistrations) BulkUpdateAttendance(ctx context.Context, activityID string, ids []string, value models.Attendance) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	matched := 0
	for _, id := range ids {
		for _, reg := range m.s.registrations {
			if reg.ID == id && reg.ActivityID == activityID {
				matched++
			}
		}
	}
	if matched != len(ids) {
		return 0, fmt.Errorf("bulk attendance matched %d of %d registrations", matched, len(ids))
	}
	for _, id := range ids {
		for _, reg := range m.s.registrations {
			if reg.ID == id {
				reg.Attended = value
			}
		}
	}
	return matched, nil
}

// --- activityStore / exportActivityStore ---

type memActivities struct{ s *memStore }

func (m memActivities) FindByID(ctx context.Context, id string) (*models.Activity, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if a, ok := m.s.activities[id]; ok {
		clone := *a
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m memActivities) FindByIdentity(ctx context.Context, name, strategicLine string, year int, audience models.Audience) (*models.Activity, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range m.s.activities {
		if a.Name == name && a.StrategicLine == strategicLine && a.Year == year && a.Audience == audience {
			clone := *a
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memActivities) Create(ctx context.Context, activity *models.Activity) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	clone := *activity
	m.s.activities[activity.ID] = &clone
	return nil
}

// --- uploadStore / exportBatchStore ---

type memUploads struct{ s *memStore }

func (m memUploads) Create(ctx context.Context, batch *models.UploadBatch) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	clone := *batch
	m.s.batches[batch.ID] = &clone
	return nil
}

func (m memUploads) FindByID(ctx context.Context, id string) (*models.UploadBatch, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if b, ok := m.s.batches[id]; ok {
		clone := *b
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m memUploads) UpdateStatus(ctx context.Context, id string, status models.BatchStatus) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if b, ok := m.s.batches[id]; ok {
		b.Status = status
		return nil
	}
	return sql.ErrNoRows
}

func (m memUploads) Complete(ctx context.Context, batch *models.UploadBatch) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.batches[batch.ID]
	if !ok {
		return sql.ErrNoRows
	}
	*stored = *batch
	return nil
}

// --- catalogStore ---

type memCatalog struct{ s *memStore }

func (m memCatalog) List(ctx context.Context, kind models.CatalogKind, includeInactive bool) ([]models.CatalogEntry, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.CatalogEntry
	for _, entry := range m.s.catalog {
		if entry.Kind != kind {
			continue
		}
		if !includeInactive && !entry.Active {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memCatalog) FindByID(ctx context.Context, id string) (*models.CatalogEntry, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, entry := range m.s.catalog {
		if entry.ID == id {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memCatalog) FindActiveByFold(ctx context.Context, kind models.CatalogKind, fold string) (*models.CatalogEntry, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if entry, ok := m.s.catalog[string(kind)+"|"+fold]; ok && entry.Active {
		clone := *entry
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m memCatalog) ExistsByFold(ctx context.Context, kind models.CatalogKind, fold string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	_, ok := m.s.catalog[string(kind)+"|"+fold]
	return ok, nil
}

func (m memCatalog) Create(ctx context.Context, entry *models.CatalogEntry, fold string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	clone := *entry
	m.s.catalog[string(entry.Kind)+"|"+fold] = &clone
	return nil
}

func (m memCatalog) Deactivate(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, entry := range m.s.catalog {
		if entry.ID == id {
			entry.Active = false
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m memCatalog) FindMapping(ctx context.Context, kind models.CatalogKind, unknownFold string) (*models.ReconciliationMapping, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if mapping, ok := m.s.mappings[string(kind)+"|"+unknownFold]; ok {
		clone := *mapping
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m memCatalog) UpsertMapping(ctx context.Context, mapping *models.ReconciliationMapping) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	clone := *mapping
	m.s.mappings[string(mapping.Kind)+"|"+mapping.UnknownValue] = &clone
	return nil
}

func (m memCatalog) ListMappings(ctx context.Context, kind models.CatalogKind) ([]models.ReconciliationMapping, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.ReconciliationMapping
	for _, mapping := range m.s.mappings {
		if mapping.Kind == kind {
			out = append(out, *mapping)
		}
	}
	return out, nil
}

func (m memCatalog) TouchMetadataValue(ctx context.Context, fieldName, value string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := fieldName + "|" + value
	if existing, ok := m.s.metadata[key]; ok {
		existing.UsageCount++
		return nil
	}
	m.s.metadata[key] = &models.MetadataValue{ID: uuid.NewString(), FieldName: fieldName, Value: value, UsageCount: 1}
	return nil
}

func (m memCatalog) ListMetadataValues(ctx context.Context, fieldName string, limit int) ([]models.MetadataValue, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.MetadataValue
	for _, value := range m.s.metadata {
		if value.FieldName == fieldName {
			out = append(out, *value)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsageCount > out[j].UsageCount })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- reviewStore / reviewQueueStore ---

type memReviews struct{ s *memStore }

func (m memReviews) InsertPending(ctx context.Context, item *models.ReviewItem) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	item.LeftPersonID, item.RightPersonID = models.OrderedPair(item.LeftPersonID, item.RightPersonID)
	key := item.LeftPersonID + "|" + item.RightPersonID
	if _, ok := m.s.reviews[key]; ok {
		return false, nil
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Status = models.ReviewPending
	item.Version = 1
	clone := *item
	m.s.reviews[key] = &clone
	return true, nil
}

func (m memReviews) FindByID(ctx context.Context, id string) (*models.ReviewItem, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, item := range m.s.reviews {
		if item.ID == id {
			clone := *item
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m memReviews) List(ctx context.Context, filter models.ReviewFilter) ([]models.ReviewItem, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.ReviewItem
	for _, item := range m.s.reviews {
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		if filter.Audience != nil && item.Audience != *filter.Audience {
			continue
		}
		if filter.MinSimilarity != nil && item.Similarity < *filter.MinSimilarity {
			continue
		}
		if filter.MaxSimilarity != nil && item.Similarity > *filter.MaxSimilarity {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return out, len(out), nil
}

func (m memReviews) ExistingPairs(ctx context.Context) (map[string]models.ReviewStatus, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	pairs := make(map[string]models.ReviewStatus, len(m.s.reviews))
	for key, item := range m.s.reviews {
		pairs[key] = item.Status
	}
	return pairs, nil
}

func (m memReviews) Decide(ctx context.Context, item *models.ReviewItem, status models.ReviewStatus) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := item.LeftPersonID + "|" + item.RightPersonID
	stored, ok := m.s.reviews[key]
	if !ok {
		return false, sql.ErrNoRows
	}
	if stored.Status != models.ReviewPending || stored.Version != item.Version {
		return false, nil
	}
	now := time.Now().UTC()
	stored.Status = status
	stored.Version++
	stored.CanonicalName = item.CanonicalName
	stored.CanonicalPersonID = item.CanonicalPersonID
	stored.DecidedBy = item.DecidedBy
	stored.DecidedAt = &now
	item.Status = status
	item.Version = stored.Version
	item.DecidedAt = &now
	return true, nil
}

func (m memReviews) Stats(ctx context.Context) (*models.DuplicateStats, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stats := &models.DuplicateStats{}
	for _, p := range m.s.persons {
		if p.MergedIntoID == nil {
			stats.TotalPersons++
		} else {
			stats.Tombstones++
		}
	}
	for _, item := range m.s.reviews {
		switch item.Status {
		case models.ReviewPending:
			stats.PendingItems++
		case models.ReviewAccepted:
			stats.AcceptedItems++
		case models.ReviewRejected:
			stats.RejectedItems++
		case models.ReviewSkipped:
			stats.SkippedItems++
		}
	}
	return stats, nil
}

// --- auditLogger / uploadStorage ---

type memAudit struct{ s *memStore }

func (m memAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	m.s.audits = append(m.s.audits, *log)
	return nil
}

func (m memAudit) byAction(action string) []models.AuditLog {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.AuditLog
	for _, log := range m.s.audits {
		if log.Action == action {
			out = append(out, log)
		}
	}
	return out
}

type memFiles struct{ s *memStore }

func (m memFiles) Save(filename string, data []byte) (string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.files[filename] = append([]byte(nil), data...)
	return filename, nil
}

func csvBytes(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}
