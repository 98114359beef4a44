// Package freshness derives the operational health surface from run records,
// the ingest queue, and the rate store. Everything here is a read; the
// service holds no state of its own.
package freshness

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

// SourceFreshness is the per-source polling health.
type SourceFreshness struct {
	Source      string     `json:"source"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	AgeHours    float64    `json:"age_hours"`
	// Stale flags sources whose last success is older than their cadence
	// allows.
	Stale bool `json:"stale"`
}

// InvariantReport is one probe outcome. Violations carries the offending
// subject keys or row IDs rendered as strings.
type InvariantReport struct {
	Name       string   `json:"name"`
	OK         bool     `json:"ok"`
	Violations []string `json:"violations,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Report is the full freshness view.
type Report struct {
	GeneratedAt time.Time                `json:"generated_at"`
	Sources     []SourceFreshness        `json:"sources"`
	QueueDepth  map[domain.JobStatus]int `json:"queue_depth"`
	StuckJobs   int                      `json:"stuck_jobs"`
	Invariants  []InvariantReport        `json:"invariants"`
	RowCounts   map[string]int           `json:"row_counts_by_program"`
	// Activity carries process-lifetime counter totals (jobs, commits,
	// watcher runs) when the caller has a metrics registry to draw from.
	Activity map[string]float64 `json:"activity,omitempty"`
	Healthy  bool               `json:"healthy"`
}

// Thresholds bound what counts as stale or stuck.
type Thresholds struct {
	// MaxSourceAge is the staleness bound per source; sources absent from
	// the map are never flagged stale.
	MaxSourceAge map[string]time.Duration
	StuckBound   time.Duration
}

// DefaultThresholds track the polling cadences with slack: daily sources may
// lag two days before alarming, monthly ones forty.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxSourceAge: map[string]time.Duration{
			domain.SourceFederalRegister: 48 * time.Hour,
			domain.SourceCBPCSMS:         40 * 24 * time.Hour,
			domain.SourceUSITC:           400 * 24 * time.Hour,
		},
		StuckBound: 10 * time.Minute,
	}
}

// Service renders its inputs into a Report.
type Service struct {
	runs       persistence.RunRepo
	queue      persistence.QueueRepo
	prober     persistence.InvariantProber
	stats      persistence.RateStatsReader
	thresholds Thresholds
	logger     zerolog.Logger
}

func NewService(runs persistence.RunRepo, queue persistence.QueueRepo, prober persistence.InvariantProber, stats persistence.RateStatsReader, thresholds Thresholds, logger zerolog.Logger) *Service {
	if thresholds.StuckBound <= 0 {
		thresholds.StuckBound = DefaultThresholds().StuckBound
	}
	return &Service{
		runs:       runs,
		queue:      queue,
		prober:     prober,
		stats:      stats,
		thresholds: thresholds,
		logger:     logger.With().Str("component", "freshness").Logger(),
	}
}

// Report assembles the full health view. Individual read failures degrade
// the report rather than abort it; only a totally unreachable store makes
// Healthy false on its own.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Healthy:     true,
	}

	lastSuccess, err := s.runs.LastSuccess(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, source := range []string{domain.SourceFederalRegister, domain.SourceCBPCSMS, domain.SourceUSITC} {
		sf := SourceFreshness{Source: source}
		if t, ok := lastSuccess[source]; ok {
			ts := t
			sf.LastSuccess = &ts
			sf.AgeHours = now.Sub(t).Hours()
			if bound, bounded := s.thresholds.MaxSourceAge[source]; bounded && now.Sub(t) > bound {
				sf.Stale = true
			}
		} else if _, bounded := s.thresholds.MaxSourceAge[source]; bounded {
			// Never polled successfully counts as stale.
			sf.Stale = true
		}
		if sf.Stale {
			report.Healthy = false
		}
		report.Sources = append(report.Sources, sf)
	}

	if depth, err := s.queue.Depth(ctx); err != nil {
		s.logger.Error().Err(err).Msg("queue depth read failed")
		report.Healthy = false
	} else {
		report.QueueDepth = depth
	}

	if stuck, err := s.queue.CountStuck(ctx, s.thresholds.StuckBound); err != nil {
		s.logger.Error().Err(err).Msg("stuck job count failed")
		report.Healthy = false
	} else {
		report.StuckJobs = stuck
		if stuck > 0 {
			report.Healthy = false
		}
	}

	report.Invariants = s.probe(ctx)
	for _, inv := range report.Invariants {
		if !inv.OK {
			report.Healthy = false
		}
	}

	if s.stats != nil {
		if counts, err := s.stats.RowCountsByProgram(ctx); err != nil {
			s.logger.Error().Err(err).Msg("program row counts failed")
		} else {
			report.RowCounts = counts
		}
	}
	return report, nil
}

func (s *Service) probe(ctx context.Context) []InvariantReport {
	if s.prober == nil {
		return nil
	}
	var out []InvariantReport

	overlap := InvariantReport{Name: "no_window_overlap", OK: true}
	if keys, err := s.prober.NoWindowOverlap(ctx); err != nil {
		overlap.OK = false
		overlap.Error = err.Error()
	} else if len(keys) > 0 {
		overlap.OK = false
		overlap.Violations = keys
	}
	out = append(out, overlap)

	chain := InvariantReport{Name: "supersession_chain_consistent", OK: true}
	if ids, err := s.prober.SupersessionChainConsistent(ctx); err != nil {
		chain.OK = false
		chain.Error = err.Error()
	} else if len(ids) > 0 {
		chain.OK = false
		chain.Violations = formatIDs(ids)
	}
	out = append(out, chain)

	evidence := InvariantReport{Name: "every_row_has_evidence", OK: true}
	if ids, err := s.prober.EveryRowHasEvidence(ctx); err != nil {
		evidence.OK = false
		evidence.Error = err.Error()
	} else if len(ids) > 0 {
		evidence.OK = false
		evidence.Violations = formatIDs(ids)
	}
	out = append(out, evidence)
	return out
}

// Ready is the load-balancer readiness check: the queue must answer. It is
// deliberately shallow; staleness never takes the process out of rotation.
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.queue.Depth(ctx)
	return err
}

func formatIDs(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}
