// Package helpers provides shared fixture builders for unit tests. All
// fixtures run on the in-memory repositories; no test needs Postgres.
package helpers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/internal/repository"
)

// QuietLogger returns a logger that only reports errors, keeping test
// output readable.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// BaseTime is a fixed race-day anchor so fixtures are deterministic.
var BaseTime = time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC)

// CircuitStage builds a RUNNING circuit stage started at BaseTime.
func CircuitStage(t *testing.T, cfg models.CircuitConfig) *models.Stage {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal circuit config: %v", err)
	}
	start := BaseTime
	return &models.Stage{
		ID:        uuid.New(),
		Name:      "circuit test stage",
		Format:    models.FormatCircuit,
		Status:    models.StageRunning,
		StartTime: &start,
		Config:    raw,
		CreatedAt: BaseTime.Add(-time.Hour),
	}
}

// EnduroStage builds a RUNNING enduro stage started at BaseTime.
func EnduroStage(t *testing.T, cfg models.EnduroConfig) *models.Stage {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal enduro config: %v", err)
	}
	start := BaseTime
	return &models.Stage{
		ID:        uuid.New(),
		Name:      "enduro test stage",
		Format:    models.FormatEnduro,
		Status:    models.StageRunning,
		StartTime: &start,
		Config:    raw,
		CreatedAt: BaseTime.Add(-time.Hour),
	}
}

// Registration builds an active registration for a stage.
func Registration(stageID uuid.UUID, bib int, rider, category string) *models.Registration {
	return &models.Registration{
		ID:        uuid.New(),
		StageID:   stageID,
		Bib:       bib,
		Rider:     rider,
		Category:  category,
		Status:    models.RegistrationActive,
		CreatedAt: BaseTime.Add(-time.Hour),
	}
}

// Device builds an active collector bound to a stage.
func Device(stageID uuid.UUID) *models.Device {
	return &models.Device{
		ID:        uuid.New(),
		Serial:    "COLLECTOR-01",
		StageID:   stageID,
		Active:    true,
		CreatedAt: BaseTime.Add(-time.Hour),
	}
}

// Seed stores a stage plus its registrations and devices into memory
// repositories and returns them with the concrete types accessible.
func Seed(t *testing.T, stage *models.Stage, regs []*models.Registration, devices []*models.Device) *repository.Repositories {
	t.Helper()
	repos := repository.NewMemoryRepositories()
	repos.Stage.(*repository.MemoryStageRepository).Put(stage)
	for _, reg := range regs {
		repos.Registration.(*repository.MemoryRegistrationRepository).Put(reg)
	}
	for _, dev := range devices {
		repos.Device.(*repository.MemoryDeviceRepository).Put(dev)
	}
	return repos
}

// Passage builds a stored PASSAGE reading with a derived identity hash.
func Passage(stageID, deviceID uuid.UUID, bib, lap int, ts time.Time) *models.Reading {
	r := &models.Reading{
		ID:        uuid.New(),
		StageID:   stageID,
		Bib:       bib,
		Kind:      models.KindPassage,
		Timestamp: ts,
		Lap:       lap,
		DeviceID:  deviceID,
		CreatedAt: ts,
	}
	r.RefreshIdentityHash()
	return r
}

// Entry builds a stored ENTRY reading for an enduro special.
func Entry(stageID, deviceID uuid.UUID, bib, lap, special int, ts time.Time) *models.Reading {
	r := &models.Reading{
		ID:        uuid.New(),
		StageID:   stageID,
		Bib:       bib,
		Kind:      models.KindEntry,
		Timestamp: ts,
		Lap:       lap,
		Special:   special,
		DeviceID:  deviceID,
		CreatedAt: ts,
	}
	r.RefreshIdentityHash()
	return r
}

// Exit builds a stored EXIT reading for an enduro special.
func Exit(stageID, deviceID uuid.UUID, bib, lap, special int, ts time.Time) *models.Reading {
	r := &models.Reading{
		ID:        uuid.New(),
		StageID:   stageID,
		Bib:       bib,
		Kind:      models.KindExit,
		Timestamp: ts,
		Lap:       lap,
		Special:   special,
		DeviceID:  deviceID,
		CreatedAt: ts,
	}
	r.RefreshIdentityHash()
	return r
}

// Submission builds a collector payload.
func Submission(stageID, deviceID uuid.UUID, bib int, kind models.ReadingKind, ts time.Time) *models.ReadingSubmission {
	return &models.ReadingSubmission{
		StageID:   stageID,
		DeviceID:  deviceID,
		Bib:       bib,
		Kind:      kind,
		Timestamp: ts,
	}
}
