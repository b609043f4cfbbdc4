package models

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationStatus is set by race direction, not by the engine.
type RegistrationStatus string

const (
	RegistrationActive       RegistrationStatus = "ACTIVE"
	RegistrationRetired      RegistrationStatus = "RETIRED"
	RegistrationDisqualified RegistrationStatus = "DSQ"
)

// Registration binds a bib number to a stage and category. It is owned by
// event administration and read-only to the engine.
type Registration struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	StageID      uuid.UUID          `db:"stage_id" json:"stage_id"`
	Bib          int                `db:"bib" json:"bib" validate:"required,gt=0"`
	Rider        string             `db:"rider" json:"rider"`
	Category     string             `db:"category" json:"category"`
	Status       RegistrationStatus `db:"status" json:"status"`
	StatusReason *string            `db:"status_reason" json:"status_reason,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
}
