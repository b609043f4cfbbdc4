package repository

import (
	"fmt"

	"github.com/yourusername/apex-timing/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	Reading      ReadingRepository
	Stage        StageRepository
	Registration RegistrationRepository
	Device       DeviceRepository
}

// NewRepositories creates and returns all repository implementations
func NewRepositories(db *database.DB) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &Repositories{
		Reading:      NewPostgresReadingRepository(db),
		Stage:        NewPostgresStageRepository(db),
		Registration: NewPostgresRegistrationRepository(db),
		Device:       NewPostgresDeviceRepository(db),
	}, nil
}

// NewMemoryRepositories wires the in-memory implementations, used by unit
// tests and local development without Postgres.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Reading:      NewMemoryReadingRepository(),
		Stage:        NewMemoryStageRepository(),
		Registration: NewMemoryRegistrationRepository(),
		Device:       NewMemoryDeviceRepository(),
	}
}
