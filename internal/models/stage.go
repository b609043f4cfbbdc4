package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StageFormat identifies which classification engine applies to a stage.
type StageFormat string

const (
	FormatCircuit StageFormat = "CIRCUIT"
	FormatEnduro  StageFormat = "ENDURO"
)

// StageStatus is the race-control lifecycle state of a stage.
type StageStatus string

const (
	StageNotStarted StageStatus = "NOT_STARTED"
	StageRunning    StageStatus = "RUNNING"
	StageFlagShown  StageStatus = "FLAG_SHOWN"
	StageFinished   StageStatus = "FINISHED"
	StageCancelled  StageStatus = "CANCELLED"
)

// Stage represents one timed session. Competitor and event administration
// own most of the row; the engine mutates only status, start_time and
// flag_time through race control, and the cache_version counter through
// ingestion.
type Stage struct {
	ID           uuid.UUID       `db:"id" json:"id" validate:"required"`
	Name         string          `db:"name" json:"name" validate:"required"`
	Format       StageFormat     `db:"format" json:"format" validate:"required,oneof=CIRCUIT ENDURO"`
	Status       StageStatus     `db:"status" json:"status" validate:"required,oneof=NOT_STARTED RUNNING FLAG_SHOWN FINISHED CANCELLED"`
	StartTime    *time.Time      `db:"start_time" json:"start_time"`
	FlagTime     *time.Time      `db:"flag_time" json:"flag_time"`
	Config       json.RawMessage `db:"config" json:"config"`
	CacheVersion uint64          `db:"cache_version" json:"cache_version"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// CircuitConfig holds circuit-format settings.
type CircuitConfig struct {
	// TargetDuration is the scheduled race length in seconds; 0 when the
	// race is defined by lap count instead.
	TargetDuration int `json:"target_duration_seconds"`
	TargetLaps     int `json:"target_laps"`
	// ExtraLaps is how many laps riders complete after the flag is shown.
	ExtraLaps int `json:"extra_laps"`
}

// EnduroConfig holds enduro-format settings.
type EnduroConfig struct {
	Laps           int `json:"laps"`
	SpecialsPerLap int `json:"specials_per_lap"`
	// ReconLap marks lap 1 as non-scoring reconnaissance.
	ReconLap bool `json:"recon_lap"`
	// PenaltySeconds is added in place of every missed special.
	PenaltySeconds int `json:"penalty_seconds"`
}

// CircuitConfig parses the format-specific config for a circuit stage.
func (s *Stage) CircuitConfig() (*CircuitConfig, error) {
	if s.Format != FormatCircuit {
		return nil, ErrStageFormatMismatch
	}
	cfg := &CircuitConfig{}
	if len(s.Config) > 0 {
		if err := json.Unmarshal(s.Config, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// EnduroConfig parses the format-specific config for an enduro stage.
func (s *Stage) EnduroConfig() (*EnduroConfig, error) {
	if s.Format != FormatEnduro {
		return nil, ErrStageFormatMismatch
	}
	cfg := &EnduroConfig{}
	if len(s.Config) > 0 {
		if err := json.Unmarshal(s.Config, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Laps <= 0 {
		cfg.Laps = 1
	}
	if cfg.SpecialsPerLap <= 0 {
		cfg.SpecialsPerLap = 1
	}
	return cfg, nil
}

// IsTerminal reports whether the stage can no longer change state except
// through cancellation.
func (s *Stage) IsTerminal() bool {
	return s.Status == StageFinished || s.Status == StageCancelled
}

// AcceptsReadings reports whether ingestion may store readings for this
// stage. Backfill lets an offline collector queue sync after the finish.
func (s *Stage) AcceptsReadings(backfill bool) bool {
	switch s.Status {
	case StageCancelled:
		return false
	case StageFinished:
		return backfill
	default:
		return true
	}
}

// Errors
var (
	ErrStageFormatMismatch = NewValidationError("stage_format_mismatch", "stage config does not match stage format")
	ErrStageNotFound       = NewValidationError("stage_not_found", "stage not found")
)
