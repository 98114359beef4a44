package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luv91/tariffstack/internal/chapter99"
	"github.com/luv91/tariffstack/internal/commit"
	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/metrics"
	"github.com/luv91/tariffstack/internal/persistence"
)

// Committer is the slice of the commit engine the worker drives.
type Committer interface {
	CommitCandidate(ctx context.Context, candidateID, actor string) (*commit.Result, error)
}

// Config bounds the worker's polling and retry behavior.
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	StageTimeout time.Duration
	MaxAttempts  int
	ReapInterval time.Duration
	ReapBound    time.Duration
}

func (c *Config) fill() {
	if c.WorkerID == "" {
		c.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
	if c.ReapBound <= 0 {
		c.ReapBound = 10 * time.Minute
	}
}

// Worker consumes the ingest queue. Each claimed job runs the stage ladder
// fetch → render → chunk → extract → validate → commit; stage transitions are
// persisted so a crash resumes from a clean queue state via the reaper.
type Worker struct {
	cfg       Config
	queue     persistence.QueueRepo
	evidence  persistence.EvidenceRepo
	review    persistence.ReviewRepo
	fetcher   *Fetcher
	extractor *TableExtractor
	reader    Reader // optional narrative path
	validator  Validator
	gate       *WriteGate
	committer  Committer
	exclusions persistence.ExclusionRepo // optional advisory-claim recorder
	metrics    *metrics.Set
	logger     zerolog.Logger
}

// SetMetrics attaches prometheus instruments. Optional.
func (w *Worker) SetMetrics(m *metrics.Set) { w.metrics = m }

// SetExclusionRepo attaches the advisory exclusion-claim store. Optional;
// without it exclusion extractions flow through review like any other
// candidate but no claim is recorded for external verification.
func (w *Worker) SetExclusionRepo(r persistence.ExclusionRepo) { w.exclusions = r }

func (w *Worker) observeStage(stage string, since time.Time) {
	if w.metrics != nil {
		w.metrics.JobStageSeconds.WithLabelValues(stage).Observe(time.Since(since).Seconds())
	}
}

// NewWorker wires a pipeline worker.
func NewWorker(cfg Config, queue persistence.QueueRepo, evidence persistence.EvidenceRepo,
	review persistence.ReviewRepo, fetcher *Fetcher, committer Committer, reader Reader) *Worker {
	cfg.fill()
	return &Worker{
		cfg:       cfg,
		queue:     queue,
		evidence:  evidence,
		review:    review,
		fetcher:   fetcher,
		extractor: NewTableExtractor(),
		reader:    reader,
		validator: RuleValidator{},
		gate:      NewWriteGate(evidence),
		committer: committer,
		logger:    log.With().Str("component", "pipeline").Str("worker_id", cfg.WorkerID).Logger(),
	}
}

// Run claims and processes jobs until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Dur("poll_interval", w.cfg.PollInterval).Msg("pipeline worker started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := w.queue.Claim(ctx, w.cfg.WorkerID)
		if err != nil {
			w.logger.Error().Err(err).Msg("claim failed")
			if !sleepCtx(ctx, w.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, w.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}
		w.process(ctx, job)
	}
}

// ProcessOne claims and processes a single job. It reports whether a job was
// available. The admin surface uses it to drain the queue on demand.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.queue.Claim(ctx, w.cfg.WorkerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

// RunReaper periodically sweeps jobs stuck in a processing state back to
// queued, failing those out of attempts.
func (w *Worker) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := w.queue.ReapStuck(ctx, w.cfg.ReapBound, w.cfg.MaxAttempts)
			if err != nil {
				w.logger.Error().Err(err).Msg("reap failed")
				continue
			}
			if n > 0 {
				w.logger.Warn().Int("swept", n).Msg("requeued stuck jobs")
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, job *domain.IngestJob) {
	logger := w.logger.With().Str("job_id", job.ID).Str("source", job.Source).
		Str("external_id", job.ExternalID).Logger()
	started := time.Now()

	doc, chunks, err := w.ingestDocument(ctx, job)
	w.observeStage("ingest", started)
	if err != nil {
		w.dispose(ctx, job, logger, err)
		return
	}

	extractStart := time.Now()
	exts, err := w.extract(ctx, job, doc, chunks)
	w.observeStage("extract", extractStart)
	if err != nil {
		w.dispose(ctx, job, logger, err)
		return
	}
	if len(exts) == 0 {
		cause := "no rate changes extracted"
		w.finish(ctx, job, domain.JobCommitted, &cause, logger)
		return
	}

	commitStart := time.Now()
	committed, review, err := w.validateAndCommit(ctx, job, doc, exts)
	w.observeStage("commit", commitStart)
	if err != nil {
		w.dispose(ctx, job, logger, err)
		return
	}
	if w.metrics != nil {
		w.metrics.CommitsTotal.WithLabelValues("committed").Add(float64(committed))
		w.metrics.CommitsTotal.WithLabelValues("needs_review").Add(float64(review))
	}

	logger.Info().Int("committed", committed).Int("needs_review", review).
		Dur("elapsed", time.Since(started)).Msg("job processed")
	if review > 0 {
		cause := fmt.Sprintf("%d candidate(s) routed to review", review)
		w.finish(ctx, job, domain.JobNeedsReview, &cause, logger)
		return
	}
	w.finish(ctx, job, domain.JobCommitted, nil, logger)
}

// ingestDocument runs fetch, render, and chunk. A refetch that matches an
// existing document by SHA reuses its stored chunks.
func (w *Worker) ingestDocument(ctx context.Context, job *domain.IngestJob) (*domain.OfficialDocument, []domain.DocumentChunk, error) {
	if err := w.queue.Advance(ctx, job.ID, domain.JobFetching, nil); err != nil {
		return nil, nil, err
	}
	fctx, cancel := context.WithTimeout(ctx, w.cfg.StageTimeout)
	res, err := w.fetcher.Fetch(fctx, job.Source, job.URL)
	cancel()
	if err != nil {
		return nil, nil, err
	}

	existing, err := w.evidence.FindDocument(ctx, job.Source, job.ExternalID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		if existing.RawSHA256 != res.SHA256 {
			return nil, nil, permanentErr{fmt.Sprintf(
				"sha mismatch on refetch of %s/%s", job.Source, job.ExternalID)}
		}
		chunks, err := w.evidence.ListChunks(ctx, existing.ID)
		if err != nil {
			return nil, nil, err
		}
		if err := w.queue.Advance(ctx, job.ID, domain.JobExtracting, &existing.ID); err != nil {
			return nil, nil, err
		}
		return existing, chunks, nil
	}

	if err := w.queue.Advance(ctx, job.ID, domain.JobRendering, nil); err != nil {
		return nil, nil, err
	}
	text, lineCount, err := Render(res.ContentType, res.Body)
	if err != nil {
		return nil, nil, err
	}
	doc := domain.OfficialDocument{
		ID:            uuid.NewString(),
		Source:        job.Source,
		ExternalID:    job.ExternalID,
		Tier:          tierFor(job.Source),
		CanonicalURL:  job.URL,
		PublishedOn:   domain.Today(),
		FetchedAt:     res.FetchedAt,
		RawSHA256:     res.SHA256,
		RawBytes:      res.Body,
		ContentType:   res.ContentType,
		CanonicalText: text,
		LineCount:     lineCount,
	}
	if err := w.evidence.SaveDocument(ctx, doc); err != nil {
		return nil, nil, err
	}

	if err := w.queue.Advance(ctx, job.ID, domain.JobChunking, &doc.ID); err != nil {
		return nil, nil, err
	}
	chunks := Chunk(doc.ID, text)
	if err := w.evidence.SaveChunks(ctx, chunks); err != nil {
		return nil, nil, err
	}
	return &doc, chunks, nil
}

func (w *Worker) extract(ctx context.Context, job *domain.IngestJob, doc *domain.OfficialDocument, chunks []domain.DocumentChunk) ([]Extraction, error) {
	if err := w.queue.Advance(ctx, job.ID, domain.JobExtracting, &doc.ID); err != nil {
		return nil, err
	}
	tag := datasetTag(job.Source, job.ExternalID)
	exts := w.extractor.Extract(*doc, chunks, doc.PublishedOn, tag)
	if len(exts) == 0 && w.reader != nil {
		ectx, cancel := context.WithTimeout(ctx, w.cfg.StageTimeout)
		defer cancel()
		read, err := w.reader.Read(ectx, *doc, chunks)
		if err != nil {
			return nil, err
		}
		exts = read
	}
	for i := range exts {
		exts[i].Candidate.SourceDocumentID = doc.ID
		exts[i].Candidate.DatasetTag = tag
		exts[i].Candidate.RunID = job.RunID
	}
	return exts, nil
}

// validateAndCommit runs the validator and write gate per candidate, stores
// the evidence packet, and either auto-commits or routes to review.
func (w *Worker) validateAndCommit(ctx context.Context, job *domain.IngestJob, doc *domain.OfficialDocument, exts []Extraction) (committed, review int, err error) {
	if err := w.queue.Advance(ctx, job.ID, domain.JobValidating, &doc.ID); err != nil {
		return 0, 0, err
	}

	type staged struct {
		candidateID string
		approved    bool
	}
	var stagedAll []staged
	for _, ext := range exts {
		verdict := w.validator.Validate(ctx, ext, *doc)
		failures, err := w.gate.Check(ctx, ext, verdict)
		if err != nil {
			return 0, 0, err
		}

		pkt := domain.EvidencePacket{
			ID:              uuid.NewString(),
			DocumentID:      doc.ID,
			ChunkID:         ext.ChunkID,
			Quote:           ext.Quote,
			QuoteSHA256:     domain.HashBytes([]byte(ext.Quote)),
			ValidatorOutput: strings.Join(verdict.Reasons, "; "),
			WriteGatePassed: len(failures) == 0,
			FailureReasons:  failures,
			CreatedAt:       time.Now().UTC(),
		}
		if err := w.evidence.SavePacket(ctx, pkt); err != nil {
			return 0, 0, err
		}

		cand := ext.Candidate
		cand.EvidenceID = pkt.ID
		if len(failures) == 0 {
			cand.Status = domain.CandidateApproved
		} else {
			cand.Status = domain.CandidatePending
			reason := strings.Join(failures, "; ")
			cand.BlockReason = &reason
		}
		if err := w.review.Insert(ctx, cand); err != nil {
			return 0, 0, err
		}
		if err := w.recordExclusionClaim(ctx, ext); err != nil {
			return 0, 0, err
		}
		stagedAll = append(stagedAll, staged{cand.ID, cand.Status == domain.CandidateApproved})
	}

	if err := w.queue.Advance(ctx, job.ID, domain.JobCommitting, &doc.ID); err != nil {
		return 0, 0, err
	}
	for _, s := range stagedAll {
		if !s.approved {
			review++
			continue
		}
		if _, err := w.committer.CommitCandidate(ctx, s.candidateID, w.cfg.WorkerID); err != nil {
			// Invariant refusals park the candidate for an operator; anything
			// else is infrastructure and retries the job.
			if errors.Is(err, commit.ErrWindowConflict) || errors.Is(err, commit.ErrTierNotBinding) ||
				errors.Is(err, commit.ErrEvidenceInvalid) || errors.Is(err, commit.ErrNotApproved) {
				reason := err.Error()
				_ = w.review.SetStatus(ctx, s.candidateID, domain.CandidatePending, &reason)
				review++
				continue
			}
			return 0, 0, err
		}
		committed++
	}
	return committed, review, nil
}

// recordExclusionClaim appends an advisory claim when the extraction's code
// resolves to a Section 301 exclusion. Acceptance is settled by the external
// verification step, which reads the claim list.
func (w *Worker) recordExclusionClaim(ctx context.Context, ext Extraction) error {
	if w.exclusions == nil {
		return nil
	}
	res := chapter99.Resolve(ext.Candidate.Chapter99)
	if res == nil || res.List != "exclusion" {
		return nil
	}
	claim := domain.ExclusionClaim{
		HTS8:        ext.Candidate.HTS8,
		Description: ext.Quote,
		ClaimCode:   ext.Candidate.Chapter99,
		Status:      domain.ExclusionCandidate,
		Start:       ext.Candidate.EffectiveStart,
		End:         ext.Candidate.EffectiveEnd,
	}
	if err := w.exclusions.Insert(ctx, &claim); err != nil {
		return fmt.Errorf("record exclusion claim: %w", err)
	}
	w.logger.Info().Str("hts_8digit", claim.HTS8).
		Str("claim_code", claim.ClaimCode).Msg("exclusion claim recorded")
	return nil
}

// permanentErr marks pipeline failures no retry can fix; they end the job in
// needs_review with the cause recorded.
type permanentErr struct{ msg string }

func (e permanentErr) Error() string { return e.msg }

func (w *Worker) dispose(ctx context.Context, job *domain.IngestJob, logger zerolog.Logger, err error) {
	var perm permanentErr
	switch {
	case errors.As(err, &perm), errors.Is(err, ErrUntrustedDomain), errors.Is(err, ErrUnsupportedFormat):
		cause := err.Error()
		logger.Warn().Err(err).Msg("job routed to review")
		w.finish(ctx, job, domain.JobNeedsReview, &cause, logger)
	case job.Attempts+1 >= w.cfg.MaxAttempts:
		cause := fmt.Sprintf("attempts exhausted: %v", err)
		logger.Error().Err(err).Int("attempts", job.Attempts+1).Msg("job failed")
		w.finish(ctx, job, domain.JobFailed, &cause, logger)
	default:
		logger.Warn().Err(err).Int("attempts", job.Attempts+1).Msg("job requeued")
		if rqErr := w.queue.Requeue(ctx, job.ID, err.Error()); rqErr != nil {
			logger.Error().Err(rqErr).Msg("requeue failed")
		}
	}
}

func (w *Worker) finish(ctx context.Context, job *domain.IngestJob, status domain.JobStatus, cause *string, logger zerolog.Logger) {
	if err := w.queue.Finish(ctx, job.ID, status, cause); err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("finish failed")
	}
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(job.Source, string(status)).Inc()
	}
}

func tierFor(source string) domain.SourceTier {
	switch source {
	case domain.SourceCBPCSMS:
		return domain.TierB
	default:
		return domain.TierA
	}
}

func datasetTag(source, externalID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + 32
		default:
			return '_'
		}
	}, externalID)
	return source + "_" + clean
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
