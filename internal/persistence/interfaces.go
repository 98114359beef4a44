package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/luv91/tariffstack/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// RateReader is the evaluator's read surface over the temporal rate store.
// Every read is by as-of date; callers see a consistent snapshot under
// read-committed isolation.
type RateReader interface {
	// AsOf returns the single best row covering d for the subject keys, or
	// nil with no error when nothing is in scope. Precedence: non-archived
	// over archived, exclude role over impose, most-specific subject key,
	// most recent effective_start.
	AsOf(ctx context.Context, q domain.RateQuery, d domain.Date) (*domain.RateRow, error)

	// Schedule returns the full supersession chain for a subject key,
	// ordered by effective_start, so callers can project past and future
	// answers without extra logic.
	Schedule(ctx context.Context, q domain.RateQuery) ([]domain.RateRow, error)

	// MaterialRules returns the Section 232 inclusion rows in scope for the
	// HTS on d. A 10-digit match is preferred; 8-digit rows are the fallback.
	MaterialRules(ctx context.Context, hts8, hts10 string, d domain.Date) ([]domain.MaterialRule, error)

	// MFNRate returns the MFN base duty rate for the HTS on d. The second
	// return is false when no MFN row is known.
	MFNRate(ctx context.Context, hts8 string, d domain.Date) (float64, bool, error)

	// AnnexIIExempt reports whether the HTS is on the IEEPA Reciprocal
	// Annex II exemption list on d.
	AnnexIIExempt(ctx context.Context, hts8 string, d domain.Date) (bool, error)
}

// InvariantProber exposes the rate-store invariants as callable predicates
// for tests and the health surface.
type InvariantProber interface {
	// NoWindowOverlap returns subject keys with overlapping effective
	// windows (empty when the store is consistent).
	NoWindowOverlap(ctx context.Context) ([]string, error)

	// SupersessionChainConsistent returns row IDs whose supersedes link
	// does not meet the predecessor's effective_end.
	SupersessionChainConsistent(ctx context.Context) ([]int64, error)

	// EveryRowHasEvidence returns row IDs missing a source document or an
	// evidence packet.
	EveryRowHasEvidence(ctx context.Context) ([]int64, error)
}

// EvidenceRepo stores immutable documents, their chunks, and evidence
// packets. Documents are write-once; chunks and packets are append-only.
type EvidenceRepo interface {
	SaveDocument(ctx context.Context, doc domain.OfficialDocument) error
	GetDocument(ctx context.Context, id string) (*domain.OfficialDocument, error)
	// FindDocument deduplicates by (source, external_id).
	FindDocument(ctx context.Context, source, externalID string) (*domain.OfficialDocument, error)
	SaveChunks(ctx context.Context, chunks []domain.DocumentChunk) error
	GetChunk(ctx context.Context, id string) (*domain.DocumentChunk, error)
	ListChunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error)
	SavePacket(ctx context.Context, pkt domain.EvidencePacket) error
	GetPacket(ctx context.Context, id string) (*domain.EvidencePacket, error)
}

// QueueRepo is the ingest work queue. Claim hands a queued job to exactly one
// worker; on Postgres it uses FOR UPDATE SKIP LOCKED, with a claim-token
// select-then-update fallback for engines without it.
type QueueRepo interface {
	// Enqueue inserts a job unless one already exists for (source,
	// external_id); returns the job either way plus whether it was new.
	Enqueue(ctx context.Context, job domain.IngestJob) (*domain.IngestJob, bool, error)

	// Claim atomically takes the oldest queued job for this worker, or nil
	// when the queue is empty.
	Claim(ctx context.Context, workerID string) (*domain.IngestJob, error)

	// Advance moves an owned job to the next status, updating the document
	// link when set.
	Advance(ctx context.Context, jobID string, status domain.JobStatus, documentID *string) error

	// Requeue returns a job to queued with attempts incremented and the
	// error recorded.
	Requeue(ctx context.Context, jobID string, cause string) error

	// Finish marks a terminal state (committed, needs_review, failed).
	Finish(ctx context.Context, jobID string, status domain.JobStatus, cause *string) error

	// ReapStuck returns jobs stuck in a processing state longer than bound
	// to queued (or failed once attempts exceed maxAttempts); reports how
	// many were swept.
	ReapStuck(ctx context.Context, bound time.Duration, maxAttempts int) (int, error)

	// Depth reports queue depth by status.
	Depth(ctx context.Context) (map[domain.JobStatus]int, error)

	// CountStuck reports jobs sitting in a processing state longer than
	// bound, without sweeping them.
	CountStuck(ctx context.Context, bound time.Duration) (int, error)

	Get(ctx context.Context, jobID string) (*domain.IngestJob, error)
}

// ExclusionRepo stores advisory Section 301 exclusion claims. The pipeline
// records a claim whenever an extraction resolves to an exclusion code; an
// external verification step reads the list and settles each claim's status.
type ExclusionRepo interface {
	// Insert appends a claim and assigns its ID.
	Insert(ctx context.Context, claim *domain.ExclusionClaim) error
	// ListByHTS returns claims for the HTS-8 whose window covers asOf.
	ListByHTS(ctx context.Context, hts8 string, asOf domain.Date) ([]domain.ExclusionClaim, error)
	SetStatus(ctx context.Context, id int64, status string) error
}

// RateStatsReader exposes aggregate views over the rate store for the
// freshness surface.
type RateStatsReader interface {
	// RowCountsByProgram reports active (non-archived, not superseded)
	// row counts per program.
	RowCountsByProgram(ctx context.Context) (map[string]int, error)
}

// ReviewRepo persists candidate changes and the approval workflow.
type ReviewRepo interface {
	Insert(ctx context.Context, c domain.CandidateChange) error
	Get(ctx context.Context, id string) (*domain.CandidateChange, error)
	List(ctx context.Context, status domain.CandidateStatus, limit int) ([]domain.CandidateChange, error)
	// SetStatus transitions a candidate; transitions are monotonic and a
	// non-pending candidate cannot re-enter pending.
	SetStatus(ctx context.Context, id string, status domain.CandidateStatus, blockReason *string) error
	// UpdateFields applies operator overrides before approval.
	UpdateFields(ctx context.Context, id string, rate *float64, start *domain.Date, chapter99 *string) error
}

// RunRepo records polling cycles and their outputs.
type RunRepo interface {
	CreateRun(ctx context.Context, run domain.RegulatoryRun) error
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, docsFound, jobsCreated int, cause *string) error
	GetRun(ctx context.Context, runID string) (*domain.RegulatoryRun, error)
	ListRuns(ctx context.Context, source string, limit int) ([]domain.RegulatoryRun, error)
	// LastSuccess returns the most recent succeeded run time per source.
	LastSuccess(ctx context.Context) (map[string]time.Time, error)
	AddRunDocument(ctx context.Context, rd domain.RunDocument) error
	AddRunChange(ctx context.Context, rc domain.RunChange) error
	ListRunDocuments(ctx context.Context, runID string) ([]domain.RunDocument, error)
	ListRunChanges(ctx context.Context, runID string) ([]domain.RunChange, error)
}

// AuditRepo is the append-only audit log.
type AuditRepo interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, table string, since time.Time, limit int) ([]domain.AuditLogEntry, error)
}
