package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIdentityHashIsStable(t *testing.T) {
	stageID := uuid.New()
	ts := time.Date(2025, 6, 14, 10, 1, 20, 500*int(time.Millisecond), time.UTC)

	a := ComputeIdentityHash(stageID, 7, KindPassage, 0, 1, ts)
	b := ComputeIdentityHash(stageID, 7, KindPassage, 0, 1, ts.In(time.FixedZone("CEST", 2*3600)))
	assert.Equal(t, a, b, "hash is timezone independent")

	assert.NotEqual(t, a, ComputeIdentityHash(stageID, 8, KindPassage, 0, 1, ts))
	assert.NotEqual(t, a, ComputeIdentityHash(stageID, 7, KindEntry, 0, 1, ts))
	assert.NotEqual(t, a, ComputeIdentityHash(stageID, 7, KindPassage, 0, 1, ts.Add(time.Millisecond)))
}

func TestSecondsBetweenKeepsMilliseconds(t *testing.T) {
	from := time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC)
	to := from.Add(80*time.Second + 250*time.Millisecond)
	assert.True(t, SecondsBetween(from, to).Equal(decimal.RequireFromString("80.25")))
}

func TestStageAcceptsReadings(t *testing.T) {
	cases := []struct {
		status   StageStatus
		backfill bool
		want     bool
	}{
		{StageNotStarted, false, true},
		{StageRunning, false, true},
		{StageFlagShown, false, true},
		{StageFinished, false, false},
		{StageFinished, true, true},
		{StageCancelled, false, false},
		{StageCancelled, true, false},
	}
	for _, tc := range cases {
		s := &Stage{Status: tc.status}
		assert.Equal(t, tc.want, s.AcceptsReadings(tc.backfill), "%s backfill=%v", tc.status, tc.backfill)
	}
}
