package watcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/luv91/tariffstack/internal/domain"
)

// ScheduleJob is one configured polling cadence.
type ScheduleJob struct {
	Name        string `yaml:"name"`
	Source      string `yaml:"source"`   // federal_register, cbp_csms, usitc
	Interval    string `yaml:"interval"` // daily, weekly, monthly, annual, or a Go duration
	Description string `yaml:"description"`
	Enabled     bool   `yaml:"enabled"`
	// LookbackDays widens each poll's since-date past the previous run to
	// absorb late-published documents. Dedup makes the overlap harmless.
	LookbackDays int `yaml:"lookback_days"`
}

// ScheduleConfig is the YAML schedule file.
type ScheduleConfig struct {
	Jobs   []ScheduleJob `yaml:"jobs"`
	Global struct {
		ArtifactsDir string `yaml:"artifacts_dir"`
		CheckEvery   string `yaml:"check_every"`
	} `yaml:"global"`
}

// LoadScheduleConfig reads and validates the schedule YAML.
func LoadScheduleConfig(path string) (ScheduleConfig, error) {
	var cfg ScheduleConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read schedule config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse schedule config: %w", err)
	}
	if cfg.Global.ArtifactsDir == "" {
		cfg.Global.ArtifactsDir = "artifacts/runs"
	}
	if cfg.Global.CheckEvery == "" {
		cfg.Global.CheckEvery = "1m"
	}
	for i, job := range cfg.Jobs {
		if _, err := intervalDuration(job.Interval); err != nil {
			return cfg, fmt.Errorf("job %q: %w", job.Name, err)
		}
		if cfg.Jobs[i].LookbackDays == 0 {
			cfg.Jobs[i].LookbackDays = 3
		}
	}
	return cfg, nil
}

// DefaultScheduleConfig is the built-in cadence used when no YAML file is
// given: Federal Register daily, CSMS monthly, USITC annually.
func DefaultScheduleConfig() ScheduleConfig {
	var cfg ScheduleConfig
	cfg.Global.ArtifactsDir = "artifacts/runs"
	cfg.Global.CheckEvery = "1m"
	cfg.Jobs = []ScheduleJob{
		{Name: "fedreg-daily", Source: domain.SourceFederalRegister, Interval: "daily", Enabled: true, LookbackDays: 3,
			Description: "Federal Register tariff notices"},
		{Name: "csms-monthly", Source: domain.SourceCBPCSMS, Interval: "monthly", Enabled: true, LookbackDays: 35,
			Description: "CBP CSMS guidance bulletins"},
		{Name: "usitc-annual", Source: domain.SourceUSITC, Interval: "annual", Enabled: true, LookbackDays: 370,
			Description: "USITC HTS revisions"},
	}
	return cfg
}

func intervalDuration(s string) (time.Duration, error) {
	switch s {
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	case "monthly":
		return 30 * 24 * time.Hour, nil
	case "annual":
		return 365 * 24 * time.Hour, nil
	default:
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q", s)
		}
		return d, nil
	}
}

// JobResult records one schedule-driven execution.
type JobResult struct {
	JobName     string        `json:"job_name"`
	Source      string        `json:"source"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	RunID       string        `json:"run_id,omitempty"`
	DocsFound   int           `json:"docs_found"`
	JobsCreated int           `json:"jobs_created"`
	Error       string        `json:"error,omitempty"`
}

// ScheduleStatus is the live view of the schedule loop.
type ScheduleStatus struct {
	Running      bool        `json:"running"`
	EnabledJobs  int         `json:"enabled_jobs"`
	DisabledJobs int         `json:"disabled_jobs"`
	Uptime       string      `json:"uptime"`
	LastResults  []JobResult `json:"last_results"`
}

// Scheduler drives the Runner on the configured cadences. Each tick it runs
// every enabled job whose interval has elapsed since its last execution.
type Scheduler struct {
	cfg    ScheduleConfig
	runner *Runner
	logger zerolog.Logger

	mu        sync.Mutex
	running   bool
	startTime time.Time
	lastRun   map[string]time.Time
	results   map[string]JobResult
}

func NewScheduler(cfg ScheduleConfig, runner *Runner, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		lastRun: make(map[string]time.Time),
		results: make(map[string]JobResult),
	}
}

// Start runs the schedule loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	checkEvery, err := time.ParseDuration(s.cfg.Global.CheckEvery)
	if err != nil {
		return fmt.Errorf("invalid check_every: %w", err)
	}

	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info().Int("jobs", len(s.cfg.Jobs)).Dur("check_every", checkEvery).
		Msg("schedule loop starting")

	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, job := range s.cfg.Jobs {
		if !job.Enabled {
			continue
		}
		interval, _ := intervalDuration(job.Interval)
		s.mu.Lock()
		last, ran := s.lastRun[job.Name]
		s.mu.Unlock()
		if ran && now.Sub(last) < interval {
			continue
		}
		s.RunJob(ctx, job)
	}
}

// RunJob executes one schedule job immediately and records its result.
func (s *Scheduler) RunJob(ctx context.Context, job ScheduleJob) JobResult {
	started := time.Now()
	since := domain.Today().AddDays(-job.LookbackDays)

	result := JobResult{JobName: job.Name, Source: job.Source, StartTime: started}
	run, err := s.runner.RunOnce(ctx, job.Source, since)
	result.Duration = time.Since(started)
	if err != nil {
		result.Error = err.Error()
		s.logger.Error().Err(err).Str("job", job.Name).Msg("scheduled poll failed")
	} else {
		result.Success = true
		result.RunID = run.ID
		result.DocsFound = run.DocsFound
		result.JobsCreated = run.JobsCreated
	}

	s.mu.Lock()
	s.lastRun[job.Name] = started
	s.results[job.Name] = result
	s.mu.Unlock()
	return result
}

// Status reports the schedule loop state and the last result per job.
func (s *Scheduler) Status() ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ScheduleStatus{Running: s.running}
	if s.running {
		status.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}
	for _, job := range s.cfg.Jobs {
		if job.Enabled {
			status.EnabledJobs++
		} else {
			status.DisabledJobs++
		}
		if r, ok := s.results[job.Name]; ok {
			status.LastResults = append(status.LastResults, r)
		}
	}
	return status
}
