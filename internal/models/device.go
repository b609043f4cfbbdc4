package models

import (
	"time"

	"github.com/google/uuid"
)

// Device is a trackside collector. A device is bound to exactly one stage;
// readings submitted for any other stage are rejected.
type Device struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Serial           string     `db:"serial" json:"serial"`
	StageID          uuid.UUID  `db:"stage_id" json:"stage_id"`
	Active           bool       `db:"active" json:"active"`
	ReadingsSeen     int64      `db:"readings_seen" json:"readings_seen"`
	ReadingsAccepted int64      `db:"readings_accepted" json:"readings_accepted"`
	LastSeenAt       *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// BoundTo reports whether the device may submit readings for the stage.
func (d *Device) BoundTo(stageID uuid.UUID) bool {
	return d.Active && d.StageID == stageID
}
