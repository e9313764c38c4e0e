// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package energy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileWelford(t *testing.T) {
	var p Profile
	// kWh/min rates 0.1, 0.2, 0.3 over 10 minutes each
	p.Add(1, 10)
	assert.Equal(t, 0.0, p.StdDevKwhPerMin)
	p.Add(2, 10)
	p.Add(3, 10)

	assert.Equal(t, 3, p.SampleCount)
	assert.InDelta(t, 0.2, p.AvgKwhPerMin, 1e-9)
	assert.InDelta(t, 0.1, p.StdDevKwhPerMin, 1e-9)
	assert.InDelta(t, 10, p.AvgMinutes, 1e-9)
	assert.InDelta(t, 0, p.StdDevMinutes, 1e-9)

	p.Add(5, 0)
	assert.Equal(t, 3, p.SampleCount, "zero minutes ignored")
}

func TestAllocate(t *testing.T) {
	got := Allocate(3, 60, []ServiceShare{
		{ServiceID: "a", DurationMinutes: 60, TreatmentMinutes: 20},
		{ServiceID: "b", DurationMinutes: 40},
		{ServiceID: "c"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ServiceID)
	assert.InDelta(t, 1.0, got[0].Kwh, 1e-9)
	assert.InDelta(t, 20, got[0].Minutes, 1e-9)
	assert.InDelta(t, 2.0, got[1].Kwh, 1e-9)
	assert.InDelta(t, 40, got[1].Minutes, 1e-9)

	assert.Nil(t, Allocate(1, 10, []ServiceShare{{ServiceID: "x"}}))
	assert.Nil(t, Allocate(1, 0, []ServiceShare{{ServiceID: "x", DurationMinutes: 5}}))
}

func svc(id string, duration, treatment int) ExpectedService {
	return ExpectedService{ServiceShare: ServiceShare{ServiceID: id, DurationMinutes: duration, TreatmentMinutes: treatment}}
}

func TestExpectedEnergy(t *testing.T) {
	trusted := Profile{SampleCount: 5, AvgKwhPerMin: 0.1, StdDevKwhPerMin: 0.02}
	noSpread := Profile{SampleCount: 8, AvgKwhPerMin: 0.2}
	young := Profile{SampleCount: 2, AvgKwhPerMin: 9}

	tests := []struct {
		name       string
		services   []ExpectedService
		profiles   map[string]Profile
		kwh        float64
		stdDev     float64
		confidence Confidence
	}{
		{
			name:       "all trusted",
			services:   []ExpectedService{svc("a", 30, 20)},
			profiles:   map[string]Profile{"a": trusted},
			kwh:        2,
			stdDev:     0.4,
			confidence: ConfidenceHigh,
		},
		{
			name:       "spread falls back to ten percent",
			services:   []ExpectedService{svc("b", 10, 0)},
			profiles:   map[string]Profile{"b": noSpread},
			kwh:        2,
			stdDev:     0.2,
			confidence: ConfidenceHigh,
		},
		{
			name:       "half covered",
			services:   []ExpectedService{svc("a", 20, 0), svc("c", 60, 0)},
			profiles:   map[string]Profile{"a": trusted, "c": young},
			kwh:        2 + 60*3.5/60,
			stdDev:     0.4 + 60*3.5/60*0.2,
			confidence: ConfidenceMedium,
		},
		{
			name:       "no trusted profile",
			services:   []ExpectedService{svc("c", 0, 0)},
			profiles:   map[string]Profile{"c": young},
			kwh:        15 * 3.5 / 60,
			stdDev:     15 * 3.5 / 60 * 0.2,
			confidence: ConfidenceInsufficient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ExpectedEnergy(tt.services, tt.profiles)
			assert.InDelta(t, tt.kwh, e.Kwh, 1e-9)
			assert.InDelta(t, tt.stdDev, e.StdDevSum, 1e-9)
			assert.Equal(t, tt.confidence, e.Confidence)
		})
	}

	low := ExpectedEnergy([]ExpectedService{svc("a", 10, 0), svc("x", 10, 0), svc("y", 10, 0)},
		map[string]Profile{"a": trusted})
	assert.Equal(t, ConfidenceLow, low.Confidence)

	usageFallback := ExpectedService{ServiceShare: ServiceShare{ServiceID: "z"}, FallbackMinutes: 30}
	assert.InDelta(t, 30*3.5/60, ExpectedEnergy([]ExpectedService{usageFallback}, nil).Kwh, 1e-9)

	assert.Equal(t, ConfidenceInsufficient, ExpectedEnergy(nil, nil).Confidence)
}

func TestConsumptionInsight(t *testing.T) {
	e := Expected{Kwh: 2, StdDevSum: 0.1, Confidence: ConfidenceHigh}

	_, ok := ConsumptionInsight(2.4, e)
	assert.False(t, ok, "within 25 percent")

	in, ok := ConsumptionInsight(2.6, e)
	require.True(t, ok)
	assert.Equal(t, OverConsumption, in.Type)
	assert.InDelta(t, 30, in.DeviationPct, 1e-9)

	wide := Expected{Kwh: 2, StdDevSum: 0.5, Confidence: ConfidenceHigh}
	_, ok = ConsumptionInsight(2.9, wide)
	assert.False(t, ok, "inside two deviations")

	_, ok = ConsumptionInsight(1, e)
	assert.False(t, ok, "under consumption is not flagged")

	_, ok = ConsumptionInsight(10, Expected{Kwh: 2, Confidence: ConfidenceInsufficient})
	assert.False(t, ok)
}

func TestDurationInsight(t *testing.T) {
	tests := []struct {
		actual, expected float64
		want             string
		dev              float64
	}{
		{30, 20, OverDuration, 50},
		{12, 20, UnderDuration, 40},
		{24, 20, "", 0},
		{16, 20, "", 0},
		{10, 0, "", 0},
	}
	for _, tt := range tests {
		in, ok := DurationInsight(tt.actual, tt.expected)
		if tt.want == "" {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, tt.want, in.Type)
		assert.InDelta(t, tt.dev, in.DeviationPct, 1e-9)
		assert.Equal(t, math.Signbit(in.SignedDeviationPct), tt.want == UnderDuration)
	}
}

func TestRiskLevelAndTimePeriod(t *testing.T) {
	assert.Equal(t, RiskCritical, RiskLevel(80))
	assert.Equal(t, RiskHigh, RiskLevel(79))
	assert.Equal(t, RiskMedium, RiskLevel(40))
	assert.Equal(t, RiskLow, RiskLevel(39))

	assert.Equal(t, "night", TimePeriod(5))
	assert.Equal(t, "morning", TimePeriod(6))
	assert.Equal(t, "afternoon", TimePeriod(12))
	assert.Equal(t, "evening", TimePeriod(21))
	assert.Equal(t, "night", TimePeriod(22))
}

func TestClientRiskScore(t *testing.T) {
	// 40 + 10 + 20 + 5
	assert.Equal(t, 75, ClientRiskScore(100, []string{OverDuration}, 1, 50))
	// 20 + 12 + 5(unknown) + 10 + 10
	assert.Equal(t, 57, ClientRiskScore(50, []string{OverConsumption, "OTHER"}, 2, 200))
	assert.Equal(t, 100, ClientRiskScore(100, []string{OverDuration, OverConsumption, UnderDuration, PowerAnomaly}, 1, 100))
}

func TestEmployeeRiskScore(t *testing.T) {
	// 30 + 0 + (80-50)*0.25 + 15 + 3
	assert.Equal(t, 56, EmployeeRiskScore(100, 80, 50, 1, 1))
	// 3 + (70-60)*0.5 + 0 + 0 + 0
	assert.Equal(t, 8, EmployeeRiskScore(10, 60, 90, 1, 0))
	// 10 more for 4 clients above 30 percent
	assert.Equal(t, 22, EmployeeRiskScore(40, 100, 100, 4, 0))
}

func TestFraudIndicators(t *testing.T) {
	assert.True(t, FraudIndicators(OverDuration, 30)["always_extended"])
	assert.Empty(t, FraudIndicators(OverDuration, 25))
	assert.True(t, FraudIndicators(UnderDuration, -21)["always_short"])
	assert.True(t, FraudIndicators(OverConsumption, 31)["energy_waste"])
	assert.True(t, FraudIndicators(UnderConsumption, -26)["energy_saving"])
}

func TestClientScoreRecord(t *testing.T) {
	at := time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)
	s := NewScore(KindClient, "client-1", "clinic-1")
	s.CountService()
	s.Record(Anomaly{Type: OverDuration, DeviationPct: 50, Counterpart: "emp-1", At: at})

	assert.Equal(t, 1, s.TotalAnomalies)
	assert.Equal(t, 100.0, s.AnomalyRate)
	assert.Equal(t, 50.0, s.MaxDeviationPct)
	assert.Equal(t, 75, s.RiskScore)
	assert.Equal(t, RiskHigh, s.RiskLevel)
	require.NotNil(t, s.LastAnomalyAt)

	s.CountService()
	s.CountService()
	s.Record(Anomaly{Type: UnderDuration, DeviationPct: -30, Counterpart: "emp-2", At: at})
	assert.InDelta(t, 66.67, s.AnomalyRate, 0.01)
	assert.Equal(t, 10.0, s.AvgDeviationPct)
	assert.Equal(t, 50.0, s.MaxDeviationPct)
	// 26.67 + 10 + 8 + 10 + 5
	assert.Equal(t, 60, s.RiskScore)
}

func TestEmployeeScoreRecord(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	s := NewScore(KindEmployee, "emp-1", "clinic-1")
	s.CountService()
	s.Record(Anomaly{Type: OverDuration, DeviationPct: 40, Counterpart: "client-1", At: at})

	assert.Equal(t, 80.0, s.AvgEfficiency)
	assert.Equal(t, 50.0, s.Consistency)
	assert.Equal(t, 1, s.TimePatterns["morning"])
	assert.True(t, s.FraudIndicators["always_extended"])
	// 30 + 0 + 7.5 + 15 + 3
	assert.Equal(t, 56, s.RiskScore)

	s.CountService()
	s.Record(Anomaly{Type: UnderDuration, DeviationPct: -10, Counterpart: "client-1", At: at})
	assert.Equal(t, 83.0, s.AvgEfficiency)
	assert.Equal(t, 0.0, s.Consistency)
	assert.True(t, s.FraudIndicators["high_anomaly_rate"])
	assert.True(t, s.FraudIndicators["critical_anomaly_rate"])
}
