package domain

import "time"

// CandidateStatus is the monotonic lifecycle of a proposed rate mutation.
type CandidateStatus string

const (
	CandidatePending   CandidateStatus = "pending"
	CandidateApproved  CandidateStatus = "approved"
	CandidateRejected  CandidateStatus = "rejected"
	CandidateCommitted CandidateStatus = "committed"
)

// CandidateChange is a proposed rate-store mutation produced by the ingest
// pipeline. It carries everything the commit engine needs plus the evidence
// link the write gate verified.
type CandidateChange struct {
	ID        string `json:"id" db:"id"`
	ProgramID string `json:"program_id" db:"program_id"`

	HTS8         string  `json:"hts_8digit" db:"hts_8digit"`
	HTS10        *string `json:"hts_10digit,omitempty" db:"hts_10digit"`
	Country      *string `json:"country_code,omitempty" db:"country_code"`
	CountryGroup *string `json:"country_group,omitempty" db:"country_group"`
	Material     *string `json:"material,omitempty" db:"material"`
	Variant      *string `json:"variant,omitempty" db:"variant"`

	Chapter99 string   `json:"chapter_99_code" db:"chapter_99_code"`
	Rate      *float64 `json:"duty_rate,omitempty" db:"duty_rate"`
	Formula   *string  `json:"formula,omitempty" db:"formula"`
	Role      Role     `json:"role" db:"role"`

	EffectiveStart Date  `json:"effective_start" db:"effective_start"`
	EffectiveEnd   *Date `json:"effective_end,omitempty" db:"effective_end"`

	SourceDocumentID string `json:"source_document_id" db:"source_document_id"`
	EvidenceID       string `json:"evidence_id" db:"evidence_id"`
	DatasetTag       string `json:"dataset_tag" db:"dataset_tag"`

	Status      CandidateStatus `json:"status" db:"status"`
	BlockReason *string         `json:"block_reason,omitempty" db:"block_reason"`
	Priority    int             `json:"priority" db:"priority"`
	RunID       *string         `json:"run_id,omitempty" db:"run_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// ToRateRow converts an approved candidate into the row the commit engine
// inserts. ID and supersession links are assigned at commit time.
func (c CandidateChange) ToRateRow() RateRow {
	doc := c.SourceDocumentID
	ev := c.EvidenceID
	return RateRow{
		ProgramID:        c.ProgramID,
		HTS8:             c.HTS8,
		HTS10:            c.HTS10,
		Country:          c.Country,
		CountryGroup:     c.CountryGroup,
		Material:         c.Material,
		Variant:          c.Variant,
		Chapter99:        c.Chapter99,
		Rate:             c.Rate,
		Formula:          c.Formula,
		Role:             c.Role,
		EffectiveStart:   c.EffectiveStart,
		EffectiveEnd:     c.EffectiveEnd,
		SourceDocumentID: &doc,
		EvidenceID:       &ev,
		DatasetTag:       c.DatasetTag,
	}
}

// JobStatus is the ingest work-queue state machine. Processing states own the
// job exclusively; terminal states are committed, needs_review, and failed.
type JobStatus string

const (
	JobQueued      JobStatus = "queued"
	JobFetching    JobStatus = "fetching"
	JobRendering   JobStatus = "rendering"
	JobChunking    JobStatus = "chunking"
	JobExtracting  JobStatus = "extracting"
	JobValidating  JobStatus = "validating"
	JobCommitting  JobStatus = "committing"
	JobCommitted   JobStatus = "committed"
	JobNeedsReview JobStatus = "needs_review"
	JobFailed      JobStatus = "failed"
)

// ProcessingStatuses are the states a worker holds a claimed job in.
var ProcessingStatuses = []JobStatus{
	JobFetching, JobRendering, JobChunking, JobExtracting, JobValidating, JobCommitting,
}

// NextStatus maps each processing stage to the stage that follows it.
var NextStatus = map[JobStatus]JobStatus{
	JobQueued:     JobFetching,
	JobFetching:   JobRendering,
	JobRendering:  JobChunking,
	JobChunking:   JobExtracting,
	JobExtracting: JobValidating,
	JobValidating: JobCommitting,
	JobCommitting: JobCommitted,
}

// IngestJob is one work-queue row. ClaimToken implements the portable
// claim fallback; on Postgres the queue uses FOR UPDATE SKIP LOCKED.
type IngestJob struct {
	ID         string     `json:"id" db:"id"`
	Source     string     `json:"source" db:"source"`
	ExternalID string     `json:"external_id" db:"external_id"`
	URL        string     `json:"url" db:"url"`
	RunID      *string    `json:"run_id,omitempty" db:"run_id"`
	DocumentID *string    `json:"document_id,omitempty" db:"document_id"`
	Status     JobStatus  `json:"status" db:"status"`
	Attempts   int        `json:"attempts" db:"attempts"`
	LastError  *string    `json:"last_error,omitempty" db:"last_error"`
	ClaimToken *string    `json:"claim_token,omitempty" db:"claim_token"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// RunStatus is the lifecycle of a polling cycle.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RegulatoryRun pins one polling cycle of one watcher source.
type RegulatoryRun struct {
	ID          string     `json:"id" db:"id"`
	Source      string     `json:"source" db:"source"`
	Status      RunStatus  `json:"status" db:"status"`
	Since       Date       `json:"since" db:"since"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	DocsFound   int        `json:"docs_found" db:"docs_found"`
	JobsCreated int        `json:"jobs_created" db:"jobs_created"`
	Error       *string    `json:"error,omitempty" db:"error"`
}

// RunDocument links a run to a document it discovered.
type RunDocument struct {
	RunID      string `json:"run_id" db:"run_id"`
	DocumentID string `json:"document_id" db:"document_id"`
	ExternalID string `json:"external_id" db:"external_id"`
}

// RunChange links a committed rate row back to the run that produced it.
type RunChange struct {
	RunID       string `json:"run_id" db:"run_id"`
	RateRowID   int64  `json:"rate_row_id" db:"rate_row_id"`
	CandidateID string `json:"candidate_id" db:"candidate_id"`
}

// AuditAction enumerates what the audit log records.
type AuditAction string

const (
	AuditInsert    AuditAction = "INSERT"
	AuditUpdate    AuditAction = "UPDATE"
	AuditSupersede AuditAction = "SUPERSEDE"
)

// AuditLogEntry is one append-only audit record with before/after snapshots
// serialized as JSON.
type AuditLogEntry struct {
	ID        int64       `json:"id" db:"id"`
	TableName string      `json:"table_name" db:"table_name"`
	RowID     string      `json:"row_id" db:"row_id"`
	Action    AuditAction `json:"action" db:"action"`
	Before    []byte      `json:"before,omitempty" db:"before_state"`
	After     []byte      `json:"after,omitempty" db:"after_state"`
	Actor     string      `json:"actor" db:"actor"`
	RunID     *string     `json:"run_id,omitempty" db:"run_id"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// DiscoveredDocument is what a watcher emits per hit: enough to dedup and to
// enqueue an ingest job, nothing more. Watchers never touch rate tables.
type DiscoveredDocument struct {
	Source      string     `json:"source"`
	ExternalID  string     `json:"external_id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	PublishedOn Date       `json:"published_on"`
	Tier        SourceTier `json:"tier"`
}
