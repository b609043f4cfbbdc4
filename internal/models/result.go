package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResultStatus is the classification outcome for one registration.
type ResultStatus string

const (
	StatusClassified    ResultStatus = "CLASSIFIED"
	StatusDidNotFinish  ResultStatus = "DNF"
	StatusDidNotStart   ResultStatus = "DNS"
	StatusDisqualified  ResultStatus = "DSQ"
)

// Result is one cached classification row. It is never the source of truth:
// always a pure function of readings, stage and registrations.
type Result struct {
	RegistrationID uuid.UUID    `json:"registration_id"`
	Bib            int          `json:"bib"`
	Rider          string       `json:"rider"`
	Category       string       `json:"category"`
	Position       int          `json:"position"`
	PositionOverall int         `json:"position_overall"`
	LapsCompleted  int          `json:"laps_completed,omitempty"`
	TotalElapsed   decimal.Decimal     `json:"total_elapsed_seconds"`
	BestTime       decimal.NullDecimal `json:"best_time_seconds"`
	PenaltySeconds decimal.Decimal     `json:"penalty_seconds"`
	GapToLeader    decimal.NullDecimal `json:"gap_to_leader_seconds"`
	Status         ResultStatus `json:"status"`
	StatusReason   string       `json:"status_reason,omitempty"`
	Laps           []LapTime     `json:"laps,omitempty"`
	Specials       []SpecialTime `json:"specials,omitempty"`
}

// LapTime is a per-lap split derived from consecutive passages.
type LapTime struct {
	Lap     int             `json:"lap"`
	Seconds decimal.Decimal `json:"seconds"`
}

// SpecialTime is one timed enduro segment for a rider. Penalised marks a
// missed special replaced by the fixed penalty; Scoring is false on a
// reconnaissance lap.
type SpecialTime struct {
	Lap       int                 `json:"lap"`
	Special   int                 `json:"special"`
	Seconds   decimal.NullDecimal `json:"seconds"`
	Penalised bool                `json:"penalised"`
	Scoring   bool                `json:"scoring"`
}

// Classification is a full computed ranking for a stage, tagged with the
// stage cache version it was derived from.
type Classification struct {
	StageID    uuid.UUID   `json:"stage_id"`
	Format     StageFormat `json:"format"`
	Version    uint64      `json:"version"`
	ComputedAt time.Time   `json:"computed_at"`
	Results    []*Result   `json:"results"`
}

// LiveRow is the cheap real-time projection subset, recomputed on every
// accepted reading without touching the full result set.
type LiveRow struct {
	Bib         int                 `json:"bib"`
	Rider       string              `json:"rider"`
	Position    int                 `json:"position"`
	Laps        int                 `json:"laps"`
	GapToLeader decimal.NullDecimal `json:"gap_to_leader_seconds"`
	LastLap     decimal.NullDecimal `json:"last_lap_seconds"`
	BestLap     decimal.NullDecimal `json:"best_lap_seconds"`
	InTrack     bool                `json:"in_track"`
}

// SpecialRank is one row of a per-(special, lap) leaderboard.
type SpecialRank struct {
	Position  int             `json:"position"`
	Bib       int             `json:"bib"`
	Rider     string          `json:"rider"`
	Seconds   decimal.Decimal `json:"seconds"`
	GapToBest decimal.Decimal `json:"gap_to_best_seconds"`
}

// ComparisonLine is one special's delta between two riders. Missing times
// leave the delta unset rather than failing the comparison.
type ComparisonLine struct {
	Lap      int                 `json:"lap"`
	Special  int                 `json:"special"`
	SecondsA decimal.NullDecimal `json:"seconds_a"`
	SecondsB decimal.NullDecimal `json:"seconds_b"`
	Delta    decimal.NullDecimal `json:"delta_seconds"`
}

// Comparison is a head-to-head special-by-special table for two bibs.
// A zero total delta is a tie, not an error.
type Comparison struct {
	StageID    uuid.UUID        `json:"stage_id"`
	BibA       int              `json:"bib_a"`
	BibB       int              `json:"bib_b"`
	Lines      []ComparisonLine `json:"lines"`
	TotalDelta decimal.Decimal  `json:"total_delta_seconds"`
	Tie        bool             `json:"tie"`
}
