// Package watcher polls official regulatory sources for new documents and
// feeds the ingest queue. Watchers only discover: they never touch rate
// tables, and every polling cycle is recorded as a RegulatoryRun.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/metrics"
	"github.com/luv91/tariffstack/internal/persistence"
)

// Watcher is the per-source discovery contract. Poll returns every document
// published on or after since that the source considers tariff-relevant.
type Watcher interface {
	Source() string
	Poll(ctx context.Context, since domain.Date) ([]domain.DiscoveredDocument, error)
}

// Runner executes one polling cycle per source: open a run, poll, enqueue,
// close the run, write the manifest.
type Runner struct {
	runs     persistence.RunRepo
	queue    persistence.QueueRepo
	watchers map[string]Watcher
	manifest *ManifestWriter
	metrics  *metrics.Set
	logger   zerolog.Logger
}

// SetMetrics attaches prometheus instruments. Optional.
func (r *Runner) SetMetrics(m *metrics.Set) { r.metrics = m }

func (r *Runner) countRun(source string, status domain.RunStatus) {
	if r.metrics != nil {
		r.metrics.WatcherRuns.WithLabelValues(source, string(status)).Inc()
	}
}

func NewRunner(runs persistence.RunRepo, queue persistence.QueueRepo, manifest *ManifestWriter, logger zerolog.Logger, watchers ...Watcher) *Runner {
	bySource := make(map[string]Watcher, len(watchers))
	for _, w := range watchers {
		bySource[w.Source()] = w
	}
	return &Runner{
		runs:     runs,
		queue:    queue,
		watchers: bySource,
		manifest: manifest,
		logger:   logger.With().Str("component", "watcher").Logger(),
	}
}

// Sources lists the sources this runner can poll.
func (r *Runner) Sources() []string {
	out := make([]string, 0, len(r.watchers))
	for s := range r.watchers {
		out = append(out, s)
	}
	return out
}

// RunOnce polls a single source. The run record is created before polling and
// finished afterward regardless of outcome, so a crashed poll still leaves a
// failed run behind rather than nothing.
func (r *Runner) RunOnce(ctx context.Context, source string, since domain.Date) (*domain.RegulatoryRun, error) {
	w, ok := r.watchers[source]
	if !ok {
		return nil, fmt.Errorf("no watcher registered for source %q", source)
	}

	run := domain.RegulatoryRun{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    domain.RunRunning,
		Since:     since,
		StartedAt: time.Now().UTC(),
	}
	if err := r.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logger := r.logger.With().Str("run_id", run.ID).Str("source", source).Logger()

	docs, err := w.Poll(ctx, since)
	if err != nil {
		cause := err.Error()
		if ferr := r.runs.FinishRun(ctx, run.ID, domain.RunFailed, 0, 0, &cause); ferr != nil {
			logger.Error().Err(ferr).Msg("finish run after poll failure")
		}
		logger.Error().Err(err).Msg("poll failed")
		r.countRun(source, domain.RunFailed)
		return nil, fmt.Errorf("poll %s: %w", source, err)
	}

	jobsCreated := 0
	for _, doc := range docs {
		job, created, err := r.queue.Enqueue(ctx, domain.IngestJob{
			ID:         uuid.New().String(),
			Source:     doc.Source,
			ExternalID: doc.ExternalID,
			URL:        doc.URL,
			RunID:      &run.ID,
		})
		if err != nil {
			logger.Error().Err(err).Str("external_id", doc.ExternalID).Msg("enqueue failed")
			continue
		}
		if created {
			jobsCreated++
		}
		// The official document does not exist until the job is ingested,
		// so the run links to the job ID; external_id is the stable handle.
		if err := r.runs.AddRunDocument(ctx, domain.RunDocument{
			RunID:      run.ID,
			DocumentID: job.ID,
			ExternalID: doc.ExternalID,
		}); err != nil {
			logger.Error().Err(err).Str("external_id", doc.ExternalID).Msg("record run document")
		}
	}

	if err := r.runs.FinishRun(ctx, run.ID, domain.RunSucceeded, len(docs), jobsCreated, nil); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	run.Status = domain.RunSucceeded
	run.DocsFound = len(docs)
	run.JobsCreated = jobsCreated
	r.countRun(source, domain.RunSucceeded)

	logger.Info().Int("docs_found", len(docs)).Int("jobs_created", jobsCreated).
		Msg("polling cycle complete")

	if r.manifest != nil {
		if path, err := r.manifest.Write(ctx, run, docs); err != nil {
			logger.Warn().Err(err).Msg("manifest write failed")
		} else {
			logger.Debug().Str("path", path).Msg("manifest written")
		}
	}
	return &run, nil
}
