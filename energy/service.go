// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package energy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
)

// ModuleCode gates every energy computation.
const ModuleCode = "SHELLY"

// Service persists profiles, insights and anomaly scores.
type Service struct {
	db  *sql.DB
	log *logging.Logger
	now func() time.Time
}

func NewService(conn *sql.DB, log *logging.Logger) *Service {
	return &Service{db: conn, log: log.Named("energy"), now: func() time.Time { return time.Now().UTC() }}
}

// finishedUsage is what the analysis needs from a closed usage.
type finishedUsage struct {
	ID               string
	SystemID         string
	AppointmentID    string
	ClinicID         string
	PersonID         string
	ProfessionalID   sql.NullString
	EquipmentID      sql.NullString
	EnergyKwh        sql.NullFloat64
	ActualMinutes    sql.NullFloat64
	EstimatedMinutes int
	StartedAt        time.Time
	ServiceIDs       []string
}

// Result summarises the analysis of one usage.
type Result struct {
	Skipped  bool      `json:"skipped"`
	Expected *Expected `json:"expected,omitempty"`
	Insights []Insight `json:"insights"`
}

// ProcessFinishedUsage analyses a completed usage: it evaluates the usage
// against the current profiles, stores any insights, updates the client
// and employee scores and finally folds the usage into the profiles.
func (s *Service) ProcessFinishedUsage(ctx context.Context, usageID string) (Result, error) {
	u, err := s.loadUsage(ctx, s.db, usageID)
	if err != nil {
		return Result{}, err
	}

	active, err := db.IsModuleActive(ctx, s.db, u.SystemID, ModuleCode)
	if err != nil {
		return Result{}, err
	}
	if !active {
		return Result{Skipped: true}, nil
	}

	services, err := s.loadServices(ctx, s.db, u.ServiceIDs)
	if err != nil {
		return Result{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var res Result
	if u.EquipmentID.Valid && u.EnergyKwh.Valid && u.ActualMinutes.Valid {
		profiles, err := s.loadProfiles(ctx, tx, u.SystemID, u.EquipmentID.String)
		if err != nil {
			return Result{}, err
		}
		expected := make([]ExpectedService, 0, len(services))
		for _, sh := range services {
			expected = append(expected, ExpectedService{ServiceShare: sh, FallbackMinutes: u.EstimatedMinutes})
		}
		e := ExpectedEnergy(expected, profiles)
		res.Expected = &e
		if in, ok := ConsumptionInsight(u.EnergyKwh.Float64, e); ok {
			res.Insights = append(res.Insights, in)
		}

		for _, a := range Allocate(u.EnergyKwh.Float64, u.ActualMinutes.Float64, services) {
			p := profiles[a.ServiceID]
			p.EquipmentID, p.ServiceID = u.EquipmentID.String, a.ServiceID
			p.Add(a.Kwh, a.Minutes)
			if err := s.saveProfile(ctx, tx, u.SystemID, p); err != nil {
				return Result{}, err
			}
		}
	}

	if u.ActualMinutes.Valid {
		if in, ok := DurationInsight(u.ActualMinutes.Float64, float64(u.EstimatedMinutes)); ok {
			res.Insights = append(res.Insights, in)
		}
	}

	for _, in := range res.Insights {
		detail := map[string]any{"signed_deviation_pct": in.SignedDeviationPct}
		if res.Expected != nil && in.Type == OverConsumption {
			detail["std_dev_sum"] = res.Expected.StdDevSum
			detail["confidence"] = res.Expected.Confidence
		}
		if err := s.saveInsight(ctx, tx, u, in, detail); err != nil {
			return Result{}, err
		}
	}

	if err := s.updateScores(ctx, tx, u, res.Insights); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	if len(res.Insights) > 0 {
		s.log.Info(ctx, "usage anomalies detected",
			zap.String("usage_id", u.ID),
			zap.Int("insights", len(res.Insights)))
	}
	return res, nil
}

func (s *Service) updateScores(ctx context.Context, q db.Querier, u finishedUsage, insights []Insight) error {
	subjects := []struct {
		kind, id, counterpart string
	}{
		{KindClient, u.PersonID, u.ProfessionalID.String},
	}
	if u.ProfessionalID.Valid {
		subjects = append(subjects, struct{ kind, id, counterpart string }{KindEmployee, u.ProfessionalID.String, u.PersonID})
	}

	for _, sub := range subjects {
		score, err := LoadScore(ctx, q, u.SystemID, sub.kind, sub.id)
		if err != nil {
			return err
		}
		if score == nil {
			score = NewScore(sub.kind, sub.id, u.ClinicID)
		}
		score.CountService()
		for _, in := range insights {
			score.Record(Anomaly{Type: in.Type, DeviationPct: in.SignedDeviationPct, Counterpart: sub.counterpart, At: u.StartedAt})
		}
		score.UpdatedAt = s.now()
		if err := SaveScore(ctx, q, u.SystemID, score); err != nil {
			return err
		}
	}
	return nil
}

// Recalculate rebuilds every profile of a system from its completed usages.
// It returns the number of profiles written.
func (s *Service) Recalculate(ctx context.Context, systemID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM appointment_device_usage
		WHERE system_id = $1 AND current_status IN ('COMPLETED', 'AUTO_SHUTDOWN')
		  AND equipment_id IS NOT NULL AND energy_consumption IS NOT NULL AND actual_minutes > 0
		ORDER BY ended_at
	`, systemID)
	if err != nil {
		return 0, fmt.Errorf("failed to list usages: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	type key struct{ equipment, service string }
	profiles := map[key]*Profile{}
	var order []key
	for _, id := range ids {
		u, err := s.loadUsage(ctx, s.db, id)
		if err != nil {
			return 0, err
		}
		services, err := s.loadServices(ctx, s.db, u.ServiceIDs)
		if err != nil {
			return 0, err
		}
		for _, a := range Allocate(u.EnergyKwh.Float64, u.ActualMinutes.Float64, services) {
			k := key{u.EquipmentID.String, a.ServiceID}
			p, ok := profiles[k]
			if !ok {
				p = &Profile{EquipmentID: k.equipment, ServiceID: k.service}
				profiles[k] = p
				order = append(order, k)
			}
			p.Add(a.Kwh, a.Minutes)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM service_energy_profile WHERE system_id = $1", systemID); err != nil {
		return 0, fmt.Errorf("failed to clear profiles: %w", err)
	}
	for _, k := range order {
		if err := s.saveProfile(ctx, tx, systemID, *profiles[k]); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.log.Info(ctx, "energy profiles rebuilt",
		zap.String("system_id", systemID),
		zap.Int("usages", len(ids)),
		zap.Int("profiles", len(order)))
	return len(order), nil
}

// RecalculateAll rebuilds the profiles of every system with the module on.
func (s *Service) RecalculateAll(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT system_id FROM system_module WHERE code = $1 AND active = $2", ModuleCode, true)
	if err != nil {
		return fmt.Errorf("failed to list systems: %w", err)
	}
	var systems []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		systems = append(systems, id)
	}
	rows.Close()

	var errs []error
	for _, id := range systems {
		if _, err := s.Recalculate(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("system %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) loadUsage(ctx context.Context, q db.Querier, usageID string) (finishedUsage, error) {
	var u finishedUsage
	var serviceIDs string
	err := q.QueryRowContext(ctx, `
		SELECT u.id, u.system_id, u.appointment_id, a.clinic_id, a.person_id, a.professional_user_id,
		       u.equipment_id, u.energy_consumption, u.actual_minutes, u.estimated_minutes,
		       u.started_at, u.service_ids
		FROM appointment_device_usage u
		JOIN appointment a ON a.id = u.appointment_id
		WHERE u.id = $1
	`, usageID).Scan(&u.ID, &u.SystemID, &u.AppointmentID, &u.ClinicID, &u.PersonID, &u.ProfessionalID,
		&u.EquipmentID, &u.EnergyKwh, &u.ActualMinutes, &u.EstimatedMinutes,
		&u.StartedAt, &serviceIDs)
	if err != nil {
		return u, fmt.Errorf("failed to load usage %s: %w", usageID, err)
	}
	if err := json.Unmarshal([]byte(serviceIDs), &u.ServiceIDs); err != nil {
		return u, fmt.Errorf("usage %s has malformed service ids: %w", usageID, err)
	}
	if len(u.ServiceIDs) == 0 {
		// Usages started without explicit services cover the whole appointment.
		rows, err := q.QueryContext(ctx,
			"SELECT service_id FROM appointment_service WHERE appointment_id = $1 ORDER BY created_at", u.AppointmentID)
		if err != nil {
			return u, fmt.Errorf("failed to load appointment services: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return u, err
			}
			u.ServiceIDs = append(u.ServiceIDs, id)
		}
		if err := rows.Err(); err != nil {
			return u, err
		}
	}
	return u, nil
}

func (s *Service) loadServices(ctx context.Context, q db.Querier, ids []string) ([]ServiceShare, error) {
	out := make([]ServiceShare, 0, len(ids))
	for _, id := range ids {
		sh := ServiceShare{ServiceID: id}
		err := q.QueryRowContext(ctx,
			"SELECT duration_minutes, treatment_duration_minutes FROM service WHERE id = $1", id,
		).Scan(&sh.DurationMinutes, &sh.TreatmentMinutes)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load service %s: %w", id, err)
		}
		out = append(out, sh)
	}
	return out, nil
}

func (s *Service) loadProfiles(ctx context.Context, q db.Querier, systemID, equipmentID string) (map[string]Profile, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT service_id, sample_count, avg_kwh_per_min, m2_kwh_per_min, std_dev_kwh_per_min,
		       avg_minutes, m2_minutes, std_dev_minutes
		FROM service_energy_profile
		WHERE system_id = $1 AND equipment_id = $2
	`, systemID, equipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	defer rows.Close()

	out := map[string]Profile{}
	for rows.Next() {
		p := Profile{EquipmentID: equipmentID}
		if err := rows.Scan(&p.ServiceID, &p.SampleCount, &p.AvgKwhPerMin, &p.M2KwhPerMin, &p.StdDevKwhPerMin,
			&p.AvgMinutes, &p.M2Minutes, &p.StdDevMinutes); err != nil {
			return nil, err
		}
		out[p.ServiceID] = p
	}
	return out, rows.Err()
}

func (s *Service) saveProfile(ctx context.Context, q db.Querier, systemID string, p Profile) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO service_energy_profile (id, system_id, equipment_id, service_id, sample_count,
			avg_kwh_per_min, m2_kwh_per_min, std_dev_kwh_per_min, avg_minutes, m2_minutes, std_dev_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (system_id, equipment_id, service_id) DO UPDATE SET
			sample_count = excluded.sample_count,
			avg_kwh_per_min = excluded.avg_kwh_per_min,
			m2_kwh_per_min = excluded.m2_kwh_per_min,
			std_dev_kwh_per_min = excluded.std_dev_kwh_per_min,
			avg_minutes = excluded.avg_minutes,
			m2_minutes = excluded.m2_minutes,
			std_dev_minutes = excluded.std_dev_minutes,
			updated_at = excluded.updated_at
	`, uuid.NewString(), systemID, p.EquipmentID, p.ServiceID, p.SampleCount,
		p.AvgKwhPerMin, p.M2KwhPerMin, p.StdDevKwhPerMin, p.AvgMinutes, p.M2Minutes, p.StdDevMinutes, s.now())
	if err != nil {
		return fmt.Errorf("failed to save profile %s/%s: %w", p.EquipmentID, p.ServiceID, err)
	}
	return nil
}

func (s *Service) saveInsight(ctx context.Context, q db.Querier, u finishedUsage, in Insight, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO device_usage_insight (id, system_id, clinic_id, appointment_id, device_usage_id, client_id,
			insight_type, actual_value, expected_value, deviation_pct, detail, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (device_usage_id, insight_type) DO NOTHING
	`, uuid.NewString(), u.SystemID, u.ClinicID, u.AppointmentID, u.ID, u.PersonID,
		in.Type, in.Actual, in.Expected, in.DeviationPct, string(raw), false, s.now())
	if err != nil {
		return fmt.Errorf("failed to save insight: %w", err)
	}
	return nil
}

// LoadScore returns nil without error when the subject has no record yet.
func LoadScore(ctx context.Context, q db.Querier, systemID, kind, subjectID string) (*Score, error) {
	sc := &Score{Kind: kind, SubjectID: subjectID}
	var patterns, counterparts, timePatterns, fraud string
	var last sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, clinic_id, total_services, total_anomalies, anomaly_rate, avg_deviation_pct, max_deviation_pct,
		       avg_efficiency, consistency_score, patterns, counterparts, time_patterns, fraud_indicators,
		       risk_score, risk_level, last_anomaly_at, updated_at
		FROM anomaly_score WHERE system_id = $1 AND kind = $2 AND subject_id = $3
	`, systemID, kind, subjectID).Scan(&sc.ID, &sc.ClinicID, &sc.TotalServices, &sc.TotalAnomalies, &sc.AnomalyRate,
		&sc.AvgDeviationPct, &sc.MaxDeviationPct, &sc.AvgEfficiency, &sc.Consistency,
		&patterns, &counterparts, &timePatterns, &fraud, &sc.RiskScore, &sc.RiskLevel, &last, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s score: %w", kind, err)
	}
	if last.Valid {
		sc.LastAnomalyAt = &last.Time
	}
	for _, f := range []struct {
		raw string
		dst any
	}{
		{patterns, &sc.Patterns},
		{counterparts, &sc.Counterparts},
		{timePatterns, &sc.TimePatterns},
		{fraud, &sc.FraudIndicators},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("malformed %s score %s: %w", kind, sc.ID, err)
		}
	}
	sc.ensureMaps()
	return sc, nil
}

// SaveScore upserts the record of a subject.
func SaveScore(ctx context.Context, q db.Querier, systemID string, sc *Score) error {
	sc.ensureMaps()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	encoded := make([]string, 0, 4)
	for _, v := range []any{sc.Patterns, sc.Counterparts, sc.TimePatterns, sc.FraudIndicators} {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		encoded = append(encoded, string(raw))
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO anomaly_score (id, system_id, clinic_id, kind, subject_id, total_services, total_anomalies,
			anomaly_rate, avg_deviation_pct, max_deviation_pct, avg_efficiency, consistency_score,
			patterns, counterparts, time_patterns, fraud_indicators, risk_score, risk_level, last_anomaly_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (system_id, kind, subject_id) DO UPDATE SET
			total_services = excluded.total_services,
			total_anomalies = excluded.total_anomalies,
			anomaly_rate = excluded.anomaly_rate,
			avg_deviation_pct = excluded.avg_deviation_pct,
			max_deviation_pct = excluded.max_deviation_pct,
			avg_efficiency = excluded.avg_efficiency,
			consistency_score = excluded.consistency_score,
			patterns = excluded.patterns,
			counterparts = excluded.counterparts,
			time_patterns = excluded.time_patterns,
			fraud_indicators = excluded.fraud_indicators,
			risk_score = excluded.risk_score,
			risk_level = excluded.risk_level,
			last_anomaly_at = excluded.last_anomaly_at,
			updated_at = excluded.updated_at
	`, sc.ID, systemID, sc.ClinicID, sc.Kind, sc.SubjectID, sc.TotalServices, sc.TotalAnomalies,
		sc.AnomalyRate, sc.AvgDeviationPct, sc.MaxDeviationPct, sc.AvgEfficiency, sc.Consistency,
		encoded[0], encoded[1], encoded[2], encoded[3], sc.RiskScore, sc.RiskLevel, sc.LastAnomalyAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save %s score: %w", sc.Kind, err)
	}
	return nil
}
