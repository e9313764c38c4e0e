// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package energy

import (
	"math"
	"time"
)

// Score kinds.
const (
	KindClient   = "client"
	KindEmployee = "employee"
)

// Risk levels.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// RiskLevel buckets a 0-100 risk score.
func RiskLevel(score int) string {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// TimePeriod buckets an hour of the day.
func TimePeriod(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "afternoon"
	case hour >= 18 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

var patternPoints = map[string]float64{
	OverDuration:     10,
	UnderDuration:    8,
	OverConsumption:  12,
	UnderConsumption: 6,
	PowerAnomaly:     8,
	TechnicalIssue:   5,
}

// ClientRiskScore weighs the anomaly rate, the kinds of anomalies seen,
// how concentrated they are on few employees and the worst deviation.
func ClientRiskScore(anomalyRate float64, patterns []string, favoredEmployees int, maxDeviation float64) int {
	score := math.Min(40, anomalyRate*0.4)
	for _, p := range patterns {
		if pts, ok := patternPoints[p]; ok {
			score += pts
		} else {
			score += 5
		}
	}
	switch favoredEmployees {
	case 1:
		score += 20
	case 2:
		score += 10
	case 3:
		score += 5
	}
	score += math.Min(10, maxDeviation/10)
	return int(math.Min(100, math.Round(score)))
}

// EmployeeRiskScore weighs the anomaly rate, low efficiency, low
// consistency, concentration on few clients and fraud indicators.
func EmployeeRiskScore(anomalyRate, efficiency, consistency float64, favoredClients, fraudIndicators int) int {
	score := math.Min(30, anomalyRate*0.3)
	if efficiency < 70 {
		score += (70 - efficiency) * 0.5
	}
	if consistency < 80 {
		score += (80 - consistency) * 0.25
	}
	switch {
	case favoredClients <= 3 && anomalyRate > 20:
		score += 15
	case favoredClients <= 5 && anomalyRate > 30:
		score += 10
	}
	score += math.Min(10, float64(fraudIndicators)*3)
	return int(math.Min(100, math.Round(score)))
}

// FraudIndicators flags deviations strong enough to suggest manipulation.
func FraudIndicators(insightType string, deviationPct float64) map[string]bool {
	ind := map[string]bool{}
	switch {
	case insightType == OverDuration && deviationPct > 25:
		ind["always_extended"] = true
	case insightType == UnderDuration && deviationPct < -20:
		ind["always_short"] = true
	case insightType == OverConsumption && deviationPct > 30:
		ind["energy_waste"] = true
	case insightType == UnderConsumption && deviationPct < -25:
		ind["energy_saving"] = true
	}
	return ind
}

// Score is the running anomaly record of one client or employee.
// Counterparts counts the other side of each anomaly: employees for a
// client, clients for an employee.
type Score struct {
	ID              string          `json:"id"`
	ClinicID        string          `json:"clinic_id"`
	Kind            string          `json:"kind"`
	SubjectID       string          `json:"subject_id"`
	TotalServices   int             `json:"total_services"`
	TotalAnomalies  int             `json:"total_anomalies"`
	AnomalyRate     float64         `json:"anomaly_rate"`
	AvgDeviationPct float64         `json:"avg_deviation_pct"`
	MaxDeviationPct float64         `json:"max_deviation_pct"`
	AvgEfficiency   float64         `json:"avg_efficiency"`
	Consistency     float64         `json:"consistency_score"`
	Patterns        map[string]int  `json:"patterns"`
	Counterparts    map[string]int  `json:"counterparts"`
	TimePatterns    map[string]int  `json:"time_patterns"`
	FraudIndicators map[string]bool `json:"fraud_indicators"`
	RiskScore       int             `json:"risk_score"`
	RiskLevel       string          `json:"risk_level"`
	LastAnomalyAt   *time.Time      `json:"last_anomaly_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewScore starts an empty record.
func NewScore(kind, subjectID, clinicID string) *Score {
	return &Score{
		Kind:            kind,
		SubjectID:       subjectID,
		ClinicID:        clinicID,
		AvgEfficiency:   100,
		Consistency:     100,
		Patterns:        map[string]int{},
		Counterparts:    map[string]int{},
		TimePatterns:    map[string]int{},
		FraudIndicators: map[string]bool{},
		RiskLevel:       RiskLow,
	}
}

func (s *Score) ensureMaps() {
	if s.Patterns == nil {
		s.Patterns = map[string]int{}
	}
	if s.Counterparts == nil {
		s.Counterparts = map[string]int{}
	}
	if s.TimePatterns == nil {
		s.TimePatterns = map[string]int{}
	}
	if s.FraudIndicators == nil {
		s.FraudIndicators = map[string]bool{}
	}
}

// CountService records one more finished service for the subject.
func (s *Score) CountService() {
	s.TotalServices++
	s.AnomalyRate = s.rate()
}

func (s *Score) rate() float64 {
	services := s.TotalServices
	if services < 1 {
		services = 1
	}
	return float64(s.TotalAnomalies) / float64(services) * 100
}

// Anomaly is one insight as it affects a score.
type Anomaly struct {
	Type         string
	DeviationPct float64
	// Counterpart is the employee for a client score and the client for an
	// employee score. Empty when unknown.
	Counterpart string
	At          time.Time
}

// Record folds an anomaly into the score and recomputes the risk.
func (s *Score) Record(a Anomaly) {
	s.ensureMaps()
	first := s.TotalAnomalies == 0
	s.TotalAnomalies++
	if s.TotalServices < 1 {
		s.TotalServices = 1
	}
	s.AnomalyRate = s.rate()

	abs := math.Abs(a.DeviationPct)
	if first {
		s.AvgDeviationPct = a.DeviationPct
		s.MaxDeviationPct = abs
	} else {
		n := float64(s.TotalAnomalies)
		s.AvgDeviationPct = (s.AvgDeviationPct*(n-1) + a.DeviationPct) / n
		s.MaxDeviationPct = math.Max(s.MaxDeviationPct, abs)
	}

	s.Patterns[a.Type]++
	if a.Counterpart != "" {
		s.Counterparts[a.Counterpart]++
	}
	at := a.At.UTC()
	s.LastAnomalyAt = &at

	if s.Kind == KindEmployee {
		s.recordEmployee(a, first)
	} else {
		patterns := make([]string, 0, len(s.Patterns))
		for p := range s.Patterns {
			patterns = append(patterns, p)
		}
		s.RiskScore = ClientRiskScore(s.AnomalyRate, patterns, len(s.Counterparts), s.MaxDeviationPct)
	}
	s.RiskLevel = RiskLevel(s.RiskScore)
}

func (s *Score) recordEmployee(a Anomaly, first bool) {
	if !a.At.IsZero() {
		s.TimePatterns[TimePeriod(a.At.Hour())]++
	}
	for k := range FraudIndicators(a.Type, a.DeviationPct) {
		s.FraudIndicators[k] = true
	}

	if first {
		// Starting points before any history exists.
		if a.DeviationPct > 0 {
			s.AvgEfficiency = 80
		} else {
			s.AvgEfficiency = 120
		}
		s.Consistency = 50
	} else {
		impact := 3.0
		if a.DeviationPct > 0 {
			impact = -5
		}
		s.AvgEfficiency = math.Max(0, math.Min(100, s.AvgEfficiency+impact))
		s.Consistency = math.Max(0, 100-s.AnomalyRate*2)
		if s.AnomalyRate > 60 {
			s.FraudIndicators["high_anomaly_rate"] = true
		}
		if s.AnomalyRate > 80 {
			s.FraudIndicators["critical_anomaly_rate"] = true
		}
	}

	s.RiskScore = EmployeeRiskScore(s.AnomalyRate, s.AvgEfficiency, s.Consistency, len(s.Counterparts), len(s.FraudIndicators))
}
