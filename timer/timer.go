// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package timer

import (
	"errors"
	"math"
	"time"
)

type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusPaused       Status = "PAUSED"
	StatusCompleted    Status = "COMPLETED"
	StatusAutoShutdown Status = "AUTO_SHUTDOWN"
)

// Open reports whether a usage in this status still holds its equipment.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusPaused
}

var (
	ErrNotActive = errors.New("usage is not active")
	ErrNotPaused = errors.New("usage is not paused")
	ErrFinished  = errors.New("usage already finished")
)

// PauseInterval is one pause. ResumedAt is nil while the pause is open.
type PauseInterval struct {
	PausedAt        time.Time  `json:"paused_at"`
	ResumedAt       *time.Time `json:"resumed_at,omitempty"`
	DurationMinutes float64    `json:"duration_minutes"`
}

// Usage is the timing state of one appointment device usage.
type Usage struct {
	StartedAt        time.Time
	EndedAt          *time.Time
	PausedAt         *time.Time
	PauseIntervals   []PauseInterval
	EstimatedMinutes int
	ActualMinutes    *float64
	Status           Status
	EndReason        string
}

// Pause opens a pause interval. Only an active usage can be paused.
func (u *Usage) Pause(now time.Time) error {
	if u.Status != StatusActive {
		return ErrNotActive
	}
	at := now.UTC()
	u.PausedAt = &at
	u.PauseIntervals = append(u.PauseIntervals, PauseInterval{PausedAt: at})
	u.Status = StatusPaused
	return nil
}

// Resume closes the open pause interval.
func (u *Usage) Resume(now time.Time) error {
	if u.Status != StatusPaused {
		return ErrNotPaused
	}
	u.closePause(now.UTC())
	u.Status = StatusActive
	return nil
}

// Finish ends the usage with the given terminal status and records the
// effective minutes. An open pause is closed at now.
func (u *Usage) Finish(now time.Time, status Status, reason string) error {
	if !u.Status.Open() {
		return ErrFinished
	}
	if status.Open() {
		status = StatusCompleted
	}
	end := now.UTC()
	if u.Status == StatusPaused {
		u.closePause(end)
	}
	u.EndedAt = &end
	u.Status = status
	u.EndReason = reason

	actual := ActualMinutes(u.StartedAt, end, u.PausedDuration(end))
	u.ActualMinutes = &actual
	return nil
}

func (u *Usage) closePause(at time.Time) {
	for i := len(u.PauseIntervals) - 1; i >= 0; i-- {
		p := &u.PauseIntervals[i]
		if p.ResumedAt != nil {
			continue
		}
		resumed := at
		p.ResumedAt = &resumed
		p.DurationMinutes = roundTo(at.Sub(p.PausedAt).Minutes(), 2)
		break
	}
	u.PausedAt = nil
}

// PausedDuration sums every pause, counting an open one up to now.
func (u Usage) PausedDuration(now time.Time) time.Duration {
	var total time.Duration
	for _, p := range u.PauseIntervals {
		end := now
		if p.ResumedAt != nil {
			end = *p.ResumedAt
		}
		if end.After(p.PausedAt) {
			total += end.Sub(p.PausedAt)
		}
	}
	return total
}

// Elapsed is the effective running time: wall time minus pauses.
func (u Usage) Elapsed(now time.Time) time.Duration {
	end := now
	if u.EndedAt != nil {
		end = *u.EndedAt
	}
	d := end.Sub(u.StartedAt) - u.PausedDuration(end)
	if d < 0 {
		return 0
	}
	return d
}

// Remaining is negative once the usage runs past its estimate.
func (u Usage) Remaining(now time.Time) time.Duration {
	return time.Duration(u.EstimatedMinutes)*time.Minute - u.Elapsed(now)
}

func (u Usage) Overtime(now time.Time) bool {
	return u.EstimatedMinutes > 0 && u.Remaining(now) < 0
}

// Progress is elapsed over estimate as a percentage; 0 with no estimate.
func (u Usage) Progress(now time.Time) float64 {
	if u.EstimatedMinutes <= 0 {
		return 0
	}
	est := float64(u.EstimatedMinutes) * float64(time.Minute)
	return roundTo(float64(u.Elapsed(now))/est*100, 1)
}

// ActualMinutes rounds effective time to whole minutes, never negative.
func ActualMinutes(start, end time.Time, paused time.Duration) float64 {
	d := end.Sub(start) - paused
	if d < 0 {
		return 0
	}
	return math.Round(d.Minutes())
}

// ServiceDuration carries the two durations a service can declare.
type ServiceDuration struct {
	DurationMinutes          int
	TreatmentDurationMinutes int
}

// Effective prefers the treatment time, which excludes preparation.
func (s ServiceDuration) Effective() int {
	if s.TreatmentDurationMinutes > 0 {
		return s.TreatmentDurationMinutes
	}
	return s.DurationMinutes
}

// EstimateMinutes sums the effective duration of every service.
func EstimateMinutes(services []ServiceDuration) int {
	total := 0
	for _, s := range services {
		total += s.Effective()
	}
	return total
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
