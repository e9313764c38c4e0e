// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package energy

import "math"

// Profile is the running consumption statistics of one service on one
// equipment. Means and variances are kept with Welford's algorithm so a
// profile can be updated one usage at a time.
type Profile struct {
	EquipmentID     string  `json:"equipment_id"`
	ServiceID       string  `json:"service_id"`
	SampleCount     int     `json:"sample_count"`
	AvgKwhPerMin    float64 `json:"avg_kwh_per_min"`
	M2KwhPerMin     float64 `json:"-"`
	StdDevKwhPerMin float64 `json:"std_dev_kwh_per_min"`
	AvgMinutes      float64 `json:"avg_minutes"`
	M2Minutes       float64 `json:"-"`
	StdDevMinutes   float64 `json:"std_dev_minutes"`
}

// Add folds one sample into the profile. Samples without minutes are
// ignored since they carry no rate.
func (p *Profile) Add(kwh, minutes float64) {
	if minutes <= 0 {
		return
	}
	p.SampleCount++
	n := float64(p.SampleCount)

	rate := kwh / minutes
	delta := rate - p.AvgKwhPerMin
	p.AvgKwhPerMin += delta / n
	p.M2KwhPerMin += delta * (rate - p.AvgKwhPerMin)

	delta = minutes - p.AvgMinutes
	p.AvgMinutes += delta / n
	p.M2Minutes += delta * (minutes - p.AvgMinutes)

	p.StdDevKwhPerMin = sampleStdDev(p.M2KwhPerMin, p.SampleCount)
	p.StdDevMinutes = sampleStdDev(p.M2Minutes, p.SampleCount)
}

func sampleStdDev(m2 float64, n int) float64 {
	if n < 2 {
		return 0
	}
	return math.Sqrt(m2 / float64(n-1))
}

// ServiceShare is one service of a finished usage with the duration used
// to weight it.
type ServiceShare struct {
	ServiceID        string
	DurationMinutes  int
	TreatmentMinutes int
}

// Effective prefers the treatment time over the booked duration.
func (s ServiceShare) Effective() int {
	if s.TreatmentMinutes > 0 {
		return s.TreatmentMinutes
	}
	return s.DurationMinutes
}

// Allocation is the part of a usage attributed to one service.
type Allocation struct {
	ServiceID string
	Kwh       float64
	Minutes   float64
}

// Allocate splits the energy and minutes of a usage across its services
// in proportion to their effective durations. Services without a duration
// take no share.
func Allocate(kwh, minutes float64, services []ServiceShare) []Allocation {
	total := 0
	for _, s := range services {
		if s.Effective() > 0 {
			total += s.Effective()
		}
	}
	if total == 0 || minutes <= 0 {
		return nil
	}

	out := make([]Allocation, 0, len(services))
	for _, s := range services {
		eff := s.Effective()
		if eff <= 0 {
			continue
		}
		ratio := float64(eff) / float64(total)
		out = append(out, Allocation{ServiceID: s.ServiceID, Kwh: kwh * ratio, Minutes: minutes * ratio})
	}
	return out
}
