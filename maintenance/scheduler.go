// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/casblasvic/weekly-calendar-sub018/db"
	"github.com/casblasvic/weekly-calendar-sub018/logging"
	"github.com/casblasvic/weekly-calendar-sub018/metrics"
)

// Job names, also used as the metrics label.
const (
	JobCleanupConnections = "cleanup_old_connections"
	JobZombieConnections  = "cleanup_zombie_connections"
	JobEnergyProfiles     = "recalculate_energy_profiles"
)

const (
	zombieSchedule = "@every 1m"
	energySchedule = "@daily"
	jobTimeout     = 5 * time.Minute
)

// ZombieCleaner resets connection rows without a live socket.
// *shelly.Manager implements it.
type ZombieCleaner interface {
	CleanupZombieConnections(ctx context.Context) (int, error)
}

// Recalculator rebuilds energy profiles of every system.
// *energy.Service implements it.
type Recalculator interface {
	RecalculateAll(ctx context.Context) error
}

// Config selects the jobs and their schedule. Nil collaborators skip
// their job.
type Config struct {
	DB        *sql.DB
	Zombies   ZombieCleaner
	Energy    Recalculator
	Schedule  string
	Retention time.Duration
}

type job struct {
	schedule string
	run      func(ctx context.Context) error
}

// Scheduler runs maintenance jobs on cron schedules. A job never overlaps
// with itself; a run that finds the previous one still going is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger
	jobs map[string]job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	busy    map[string]bool
	started bool
	stopped bool
}

// New registers the jobs cfg enables. It fails on an invalid schedule.
func New(cfg Config, log *logging.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(),
		log:    log.Named("maintenance"),
		jobs:   make(map[string]job),
		ctx:    ctx,
		cancel: cancel,
		busy:   make(map[string]bool),
	}

	if cfg.DB != nil {
		schedule := cfg.Schedule
		if schedule == "" {
			schedule = "@every 1h"
		}
		retention := cfg.Retention
		s.jobs[JobCleanupConnections] = job{schedule: schedule, run: func(ctx context.Context) error {
			n, err := db.CleanupOldConnections(ctx, cfg.DB, retention)
			if err == nil && n > 0 {
				s.log.Info(ctx, "removed old connections", zap.Int64("count", n))
			}
			return err
		}}
	}
	if cfg.Zombies != nil {
		s.jobs[JobZombieConnections] = job{schedule: zombieSchedule, run: func(ctx context.Context) error {
			_, err := cfg.Zombies.CleanupZombieConnections(ctx)
			return err
		}}
	}
	if cfg.Energy != nil {
		s.jobs[JobEnergyProfiles] = job{schedule: energySchedule, run: cfg.Energy.RecalculateAll}
	}

	for _, name := range s.Jobs() {
		if err := s.cron.AddFunc(s.jobs[name].schedule, func() { s.RunNow(name) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", s.jobs[name].schedule, name, err)
		}
	}
	return s, nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info(s.ctx, "maintenance scheduler started", zap.Strings("jobs", s.Jobs()))
}

// Stop halts scheduling, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.started {
		s.cron.Stop()
		s.started = false
	}
	// Runs admitted after this point would race wg.Wait.
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// RunNow runs a job synchronously and reports whether it ran. Unknown
// jobs, jobs already running and runs after Stop are skipped.
func (s *Scheduler) RunNow(name string) (ran bool, err error) {
	j, ok := s.jobs[name]
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	if s.stopped || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false, nil
	}
	if s.busy[name] {
		s.mu.Unlock()
		s.log.Warn(s.ctx, "maintenance job still running, skipping", zap.String("job", name))
		return false, nil
	}
	s.busy[name] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy[name] = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	err = s.safeRun(ctx, name, j)
	metrics.MaintenanceRuns.WithLabelValues(name, metrics.Result(err)).Inc()
	if err != nil {
		s.log.Error(ctx, "maintenance job failed", zap.String("job", name), zap.Error(err))
		return true, err
	}
	s.log.Debug(ctx, "maintenance job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	return true, nil
}

func (s *Scheduler) safeRun(ctx context.Context, name string, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
	}()
	return j.run(ctx)
}
