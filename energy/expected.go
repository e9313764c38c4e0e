// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package energy

import "math"

const (
	// MinSamples is how many usages a profile needs before it is trusted.
	MinSamples = 5

	// Theoretical draw of a typical treatment device when no profile exists.
	fallbackKwhPerMin = 3.5 / 60
	fallbackVariance  = 0.2
	// Used when a profile has a mean but no spread yet.
	stdDevFallbackRatio = 0.1
	// Used when a service declares no duration at all.
	defaultTreatmentMinutes = 15
)

type Confidence string

const (
	ConfidenceHigh         Confidence = "high"
	ConfidenceMedium       Confidence = "medium"
	ConfidenceLow          Confidence = "low"
	ConfidenceInsufficient Confidence = "insufficient_data"
)

// Score maps a confidence level to a number in [0,1].
func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return 0.9
	case ConfidenceMedium:
		return 0.6
	case ConfidenceLow:
		return 0.3
	}
	return 0.1
}

// ExpectedService is one service of a usage as seen by the estimator.
// FallbackMinutes is the usage-level estimate used when the service
// itself declares no duration.
type ExpectedService struct {
	ServiceShare
	FallbackMinutes int
}

func (s ExpectedService) treatmentTime() float64 {
	switch {
	case s.TreatmentMinutes > 0:
		return float64(s.TreatmentMinutes)
	case s.DurationMinutes > 0:
		return float64(s.DurationMinutes)
	case s.FallbackMinutes > 0:
		return float64(s.FallbackMinutes)
	}
	return defaultTreatmentMinutes
}

type Expected struct {
	Kwh           float64    `json:"expected_kwh"`
	StdDevSum     float64    `json:"std_dev_sum"`
	Confidence    Confidence `json:"confidence"`
	ValidProfiles int        `json:"valid_profiles"`
	TotalServices int        `json:"total_services"`
	Coverage      float64    `json:"profile_coverage"`
	FallbackUsed  bool       `json:"fallback_used"`
}

// ExpectedEnergy estimates the consumption of a usage from the profiles of
// its services, keyed by service id. Services without a trusted profile
// fall back to a theoretical draw.
func ExpectedEnergy(services []ExpectedService, profiles map[string]Profile) Expected {
	if len(services) == 0 {
		return Expected{Confidence: ConfidenceInsufficient}
	}

	var e Expected
	e.TotalServices = len(services)
	for _, s := range services {
		t := s.treatmentTime()
		p, ok := profiles[s.ServiceID]
		if ok && p.SampleCount >= MinSamples {
			e.ValidProfiles++
			e.Kwh += t * p.AvgKwhPerMin
			std := p.StdDevKwhPerMin
			if std == 0 {
				std = p.AvgKwhPerMin * stdDevFallbackRatio
			}
			e.StdDevSum += t * std
			continue
		}
		e.FallbackUsed = true
		e.Kwh += t * fallbackKwhPerMin
		e.StdDevSum += t * fallbackKwhPerMin * fallbackVariance
	}

	e.Coverage = float64(e.ValidProfiles) / float64(e.TotalServices)
	switch {
	case e.ValidProfiles == 0:
		e.Confidence = ConfidenceInsufficient
	case e.Coverage >= 0.8:
		e.Confidence = ConfidenceHigh
	case e.Coverage >= 0.5:
		e.Confidence = ConfidenceMedium
	default:
		e.Confidence = ConfidenceLow
	}
	return e
}

// Insight types.
const (
	OverConsumption  = "OVER_CONSUMPTION"
	UnderConsumption = "UNDER_CONSUMPTION"
	OverDuration     = "OVER_DURATION"
	UnderDuration    = "UNDER_DURATION"
	PowerAnomaly     = "POWER_ANOMALY"
	TechnicalIssue   = "TECHNICAL_ISSUE"
)

const (
	consumptionThresholdPct = 25
	durationThresholdPct    = 20
)

// Insight is one detected deviation of a finished usage.
type Insight struct {
	Type         string  `json:"insight_type"`
	Actual       float64 `json:"actual_value"`
	Expected     float64 `json:"expected_value"`
	DeviationPct float64 `json:"deviation_pct"`

	// SignedDeviationPct keeps the direction for scoring.
	SignedDeviationPct float64 `json:"-"`
}

// ConsumptionInsight reports over-consumption when the usage drew more
// than a quarter above the estimate and beyond two combined deviations.
// Estimates without any trusted profile are not judged.
func ConsumptionInsight(actualKwh float64, e Expected) (Insight, bool) {
	if e.Kwh <= 0 || e.Confidence == ConfidenceInsufficient {
		return Insight{}, false
	}
	dev := (actualKwh - e.Kwh) / e.Kwh * 100
	margin := math.Max(2*e.StdDevSum, e.Kwh*consumptionThresholdPct/100)
	if math.Abs(dev) <= consumptionThresholdPct || actualKwh <= e.Kwh+margin {
		return Insight{}, false
	}
	return Insight{
		Type:               OverConsumption,
		Actual:             actualKwh,
		Expected:           e.Kwh,
		DeviationPct:       math.Abs(dev),
		SignedDeviationPct: dev,
	}, true
}

// DurationInsight flags usages that ran more than a fifth over or under
// their estimate.
func DurationInsight(actualMinutes, expectedMinutes float64) (Insight, bool) {
	if expectedMinutes <= 0 || actualMinutes <= 0 {
		return Insight{}, false
	}
	dev := (actualMinutes - expectedMinutes) / expectedMinutes * 100
	if math.Abs(dev) <= durationThresholdPct {
		return Insight{}, false
	}
	typ := UnderDuration
	if dev > 0 {
		typ = OverDuration
	}
	return Insight{
		Type:               typ,
		Actual:             actualMinutes,
		Expected:           expectedMinutes,
		DeviationPct:       math.Abs(dev),
		SignedDeviationPct: dev,
	}, true
}
