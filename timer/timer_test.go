// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newUsage(estimated int) *Usage {
	return &Usage{StartedAt: t0, EstimatedMinutes: estimated, Status: StatusActive}
}

func TestPauseResumeFinish(t *testing.T) {
	u := newUsage(30)

	require.NoError(t, u.Pause(t0.Add(10*time.Minute)))
	assert.Equal(t, StatusPaused, u.Status)
	require.NotNil(t, u.PausedAt)

	// Elapsed is frozen while paused
	assert.Equal(t, 10*time.Minute, u.Elapsed(t0.Add(15*time.Minute)))

	require.NoError(t, u.Resume(t0.Add(15*time.Minute)))
	assert.Equal(t, StatusActive, u.Status)
	assert.Nil(t, u.PausedAt)
	require.Len(t, u.PauseIntervals, 1)
	assert.Equal(t, 5.0, u.PauseIntervals[0].DurationMinutes)

	require.NoError(t, u.Finish(t0.Add(40*time.Minute), StatusCompleted, "manual"))
	require.NotNil(t, u.ActualMinutes)
	assert.Equal(t, 35.0, *u.ActualMinutes)
	assert.Equal(t, StatusCompleted, u.Status)
	assert.Equal(t, "manual", u.EndReason)
}

func TestFinishWhilePausedClosesInterval(t *testing.T) {
	u := newUsage(20)
	require.NoError(t, u.Pause(t0.Add(5*time.Minute)))
	require.NoError(t, u.Finish(t0.Add(12*time.Minute), StatusAutoShutdown, "power_off"))

	require.Len(t, u.PauseIntervals, 1)
	require.NotNil(t, u.PauseIntervals[0].ResumedAt)
	assert.Equal(t, 7.0, u.PauseIntervals[0].DurationMinutes)
	assert.Equal(t, 5.0, *u.ActualMinutes)
	assert.Equal(t, StatusAutoShutdown, u.Status)
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(u *Usage)
		action  func(u *Usage) error
		wantErr error
	}{
		{
			name:    "resume active",
			setup:   func(u *Usage) {},
			action:  func(u *Usage) error { return u.Resume(t0.Add(time.Minute)) },
			wantErr: ErrNotPaused,
		},
		{
			name:    "pause paused",
			setup:   func(u *Usage) { _ = u.Pause(t0.Add(time.Minute)) },
			action:  func(u *Usage) error { return u.Pause(t0.Add(2 * time.Minute)) },
			wantErr: ErrNotActive,
		},
		{
			name:    "finish twice",
			setup:   func(u *Usage) { _ = u.Finish(t0.Add(time.Minute), StatusCompleted, "") },
			action:  func(u *Usage) error { return u.Finish(t0.Add(2*time.Minute), StatusCompleted, "") },
			wantErr: ErrFinished,
		},
		{
			name:    "pause completed",
			setup:   func(u *Usage) { _ = u.Finish(t0.Add(time.Minute), StatusCompleted, "") },
			action:  func(u *Usage) error { return u.Pause(t0.Add(2 * time.Minute)) },
			wantErr: ErrNotActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUsage(10)
			tt.setup(u)
			assert.ErrorIs(t, tt.action(u), tt.wantErr)
		})
	}
}

func TestFinishWithOpenStatusDefaultsToCompleted(t *testing.T) {
	u := newUsage(10)
	require.NoError(t, u.Finish(t0.Add(3*time.Minute), StatusActive, ""))
	assert.Equal(t, StatusCompleted, u.Status)
}

func TestRemainingAndOvertime(t *testing.T) {
	u := newUsage(10)

	assert.Equal(t, 4*time.Minute, u.Remaining(t0.Add(6*time.Minute)))
	assert.False(t, u.Overtime(t0.Add(6*time.Minute)))
	assert.Equal(t, 60.0, u.Progress(t0.Add(6*time.Minute)))

	assert.Equal(t, -2*time.Minute, u.Remaining(t0.Add(12*time.Minute)))
	assert.True(t, u.Overtime(t0.Add(12*time.Minute)))

	// No estimate never reports overtime
	assert.False(t, newUsage(0).Overtime(t0.Add(time.Hour)))
	assert.Equal(t, 0.0, newUsage(0).Progress(t0.Add(time.Hour)))
}

func TestActualMinutes(t *testing.T) {
	tests := []struct {
		name   string
		end    time.Time
		paused time.Duration
		want   float64
	}{
		{"whole minutes", t0.Add(25 * time.Minute), 0, 25},
		{"rounds up at half", t0.Add(10*time.Minute + 30*time.Second), 0, 11},
		{"rounds down", t0.Add(10*time.Minute + 29*time.Second), 0, 10},
		{"subtracts pauses", t0.Add(30 * time.Minute), 12 * time.Minute, 18},
		{"never negative", t0.Add(time.Minute), 5 * time.Minute, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ActualMinutes(t0, tt.end, tt.paused))
		})
	}
}

func TestEstimateMinutes(t *testing.T) {
	services := []ServiceDuration{
		{DurationMinutes: 60, TreatmentDurationMinutes: 45},
		{DurationMinutes: 30},
		{DurationMinutes: 20, TreatmentDurationMinutes: 0},
	}
	assert.Equal(t, 95, EstimateMinutes(services))
	assert.Equal(t, 0, EstimateMinutes(nil))
}

func TestStatusOpen(t *testing.T) {
	assert.True(t, StatusActive.Open())
	assert.True(t, StatusPaused.Open())
	assert.False(t, StatusCompleted.Open())
	assert.False(t, StatusAutoShutdown.Open())
}
