package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/apex-timing/internal/models"
)

// In-memory repository implementations backing unit tests and local
// development. They honor the same contracts as the Postgres versions,
// including the non-discarded identity uniqueness and timestamp ordering.

// MemoryReadingRepository is a mutex-guarded in-memory reading log.
type MemoryReadingRepository struct {
	mu       sync.RWMutex
	readings map[uuid.UUID]*models.Reading
}

// NewMemoryReadingRepository creates an empty in-memory reading log.
func NewMemoryReadingRepository() *MemoryReadingRepository {
	return &MemoryReadingRepository{readings: make(map[uuid.UUID]*models.Reading)}
}

func copyReading(r *models.Reading) *models.Reading {
	cp := *r
	return &cp
}

// Create implements ReadingRepository.
func (m *MemoryReadingRepository) Create(ctx context.Context, reading *models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.readings {
		if !existing.Discarded && existing.StageID == reading.StageID && existing.IdentityHash == reading.IdentityHash {
			return models.ErrDuplicateKey
		}
	}
	m.readings[reading.ID] = copyReading(reading)
	return nil
}

// GetByID implements ReadingRepository.
func (m *MemoryReadingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.readings[id]; ok {
		return copyReading(r), nil
	}
	return nil, models.ErrNotFound
}

// GetByIdentityHash implements ReadingRepository.
func (m *MemoryReadingRepository) GetByIdentityHash(ctx context.Context, stageID uuid.UUID, hash string) (*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.readings {
		if !r.Discarded && r.StageID == stageID && r.IdentityHash == hash {
			return copyReading(r), nil
		}
	}
	return nil, models.ErrNotFound
}

// FindNear implements ReadingRepository.
func (m *MemoryReadingRepository) FindNear(ctx context.Context, stageID uuid.UUID, bib int, kind models.ReadingKind, special, lap int, ts time.Time, window time.Duration) ([]*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Reading
	for _, r := range m.readings {
		if r.Discarded || r.StageID != stageID || r.Bib != bib || r.Kind != kind {
			continue
		}
		if kind != models.KindPassage && (r.Special != special || r.Lap != lap) {
			continue
		}
		diff := r.Timestamp.Sub(ts)
		if diff < 0 {
			diff = -diff
		}
		if diff < window {
			out = append(out, copyReading(r))
		}
	}
	sortByTimestamp(out)
	return out, nil
}

// LastPassage implements ReadingRepository.
func (m *MemoryReadingRepository) LastPassage(ctx context.Context, stageID uuid.UUID, bib int) (*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *models.Reading
	for _, r := range m.readings {
		if r.Discarded || r.StageID != stageID || r.Bib != bib || r.Kind != models.KindPassage {
			continue
		}
		if last == nil || r.Timestamp.After(last.Timestamp) {
			last = r
		}
	}
	if last == nil {
		return nil, models.ErrNotFound
	}
	return copyReading(last), nil
}

// FindEntry implements ReadingRepository.
func (m *MemoryReadingRepository) FindEntry(ctx context.Context, stageID uuid.UUID, bib, special, lap int) (*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var first *models.Reading
	for _, r := range m.readings {
		if r.Discarded || r.StageID != stageID || r.Bib != bib || r.Kind != models.KindEntry {
			continue
		}
		if r.Special != special || r.Lap != lap {
			continue
		}
		if first == nil || r.Timestamp.Before(first.Timestamp) {
			first = r
		}
	}
	if first == nil {
		return nil, models.ErrNotFound
	}
	return copyReading(first), nil
}

// ListByStage implements ReadingRepository.
func (m *MemoryReadingRepository) ListByStage(ctx context.Context, stageID uuid.UUID) ([]*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Reading
	for _, r := range m.readings {
		if !r.Discarded && r.StageID == stageID {
			out = append(out, copyReading(r))
		}
	}
	sortByTimestamp(out)
	return out, nil
}

// ListPassages implements ReadingRepository.
func (m *MemoryReadingRepository) ListPassages(ctx context.Context, stageID uuid.UUID, bib int) ([]*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Reading
	for _, r := range m.readings {
		if !r.Discarded && r.StageID == stageID && r.Bib == bib && r.Kind == models.KindPassage {
			out = append(out, copyReading(r))
		}
	}
	sortByTimestamp(out)
	return out, nil
}

// ListUnmatchedExits implements ReadingRepository.
func (m *MemoryReadingRepository) ListUnmatchedExits(ctx context.Context, stageID uuid.UUID) ([]*models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Reading
	for _, r := range m.readings {
		if !r.Discarded && r.StageID == stageID && r.Kind == models.KindExit && !r.Elapsed.Valid {
			out = append(out, copyReading(r))
		}
	}
	sortByTimestamp(out)
	return out, nil
}

// SetDiscarded implements ReadingRepository.
func (m *MemoryReadingRepository) SetDiscarded(ctx context.Context, id uuid.UUID, discarded bool, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.readings[id]
	if !ok {
		return models.ErrNotFound
	}
	r.Discarded = discarded
	r.DiscardReason = reason
	return nil
}

// UpdateCorrected implements ReadingRepository.
func (m *MemoryReadingRepository) UpdateCorrected(ctx context.Context, reading *models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.readings[reading.ID]
	if !ok {
		return models.ErrNotFound
	}
	r.Timestamp = reading.Timestamp
	r.Elapsed = reading.Elapsed
	r.IdentityHash = reading.IdentityHash
	r.ManuallyCorrected = true
	return nil
}

func sortByTimestamp(readings []*models.Reading) {
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
}

// MemoryStageRepository holds stages in memory.
type MemoryStageRepository struct {
	mu     sync.RWMutex
	stages map[uuid.UUID]*models.Stage
}

// NewMemoryStageRepository creates an empty in-memory stage store.
func NewMemoryStageRepository() *MemoryStageRepository {
	return &MemoryStageRepository{stages: make(map[uuid.UUID]*models.Stage)}
}

// Put seeds a stage; test fixtures use this in place of admin CRUD.
func (m *MemoryStageRepository) Put(stage *models.Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *stage
	m.stages[stage.ID] = &cp
}

// GetByID implements StageRepository.
func (m *MemoryStageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.stages[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

// ListByStatus implements StageRepository.
func (m *MemoryStageRepository) ListByStatus(ctx context.Context, status models.StageStatus) ([]*models.Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Stage
	for _, s := range m.stages {
		if s.Status == status {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateState implements StageRepository.
func (m *MemoryStageRepository) UpdateState(ctx context.Context, id uuid.UUID, status models.StageStatus, startTime, flagTime *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stages[id]
	if !ok {
		return models.ErrNotFound
	}
	s.Status = status
	if startTime != nil {
		s.StartTime = startTime
	}
	if flagTime != nil {
		s.FlagTime = flagTime
	}
	s.UpdatedAt = time.Now()
	return nil
}

// BumpCacheVersion implements StageRepository.
func (m *MemoryStageRepository) BumpCacheVersion(ctx context.Context, id uuid.UUID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stages[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	s.CacheVersion++
	return s.CacheVersion, nil
}

// GetCacheVersion implements StageRepository.
func (m *MemoryStageRepository) GetCacheVersion(ctx context.Context, id uuid.UUID) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stages[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	return s.CacheVersion, nil
}

// MemoryRegistrationRepository holds registrations in memory.
type MemoryRegistrationRepository struct {
	mu   sync.RWMutex
	regs map[uuid.UUID]*models.Registration
}

// NewMemoryRegistrationRepository creates an empty in-memory registration store.
func NewMemoryRegistrationRepository() *MemoryRegistrationRepository {
	return &MemoryRegistrationRepository{regs: make(map[uuid.UUID]*models.Registration)}
}

// Put seeds a registration.
func (m *MemoryRegistrationRepository) Put(reg *models.Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *reg
	m.regs[reg.ID] = &cp
}

// ListByStage implements RegistrationRepository.
func (m *MemoryRegistrationRepository) ListByStage(ctx context.Context, stageID uuid.UUID) ([]*models.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Registration
	for _, r := range m.regs {
		if r.StageID == stageID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bib < out[j].Bib })
	return out, nil
}

// GetByBib implements RegistrationRepository.
func (m *MemoryRegistrationRepository) GetByBib(ctx context.Context, stageID uuid.UUID, bib int) (*models.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.regs {
		if r.StageID == stageID && r.Bib == bib {
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

// MemoryDeviceRepository holds devices in memory.
type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]*models.Device
}

// NewMemoryDeviceRepository creates an empty in-memory device registry.
func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{devices: make(map[uuid.UUID]*models.Device)}
}

// Put seeds a device.
func (m *MemoryDeviceRepository) Put(device *models.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *device
	m.devices[device.ID] = &cp
}

// GetByID implements DeviceRepository.
func (m *MemoryDeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if d, ok := m.devices[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

// RecordSeen implements DeviceRepository.
func (m *MemoryDeviceRepository) RecordSeen(ctx context.Context, id uuid.UUID, accepted bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return models.ErrNotFound
	}
	d.ReadingsSeen++
	if accepted {
		d.ReadingsAccepted++
	}
	d.LastSeenAt = &at
	d.UpdatedAt = time.Now()
	return nil
}
