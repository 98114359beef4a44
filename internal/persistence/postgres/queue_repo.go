package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

// queueRepo is the ingest work queue. Claiming uses FOR UPDATE SKIP LOCKED
// so concurrent workers never double-own a job; UseClaimToken switches to a
// portable select-then-update fallback for engines without that primitive.
type queueRepo struct {
	db            *sqlx.DB
	timeout       time.Duration
	useClaimToken bool
}

// NewQueueRepo creates a PostgreSQL ingest queue.
func NewQueueRepo(db *sqlx.DB, timeout time.Duration) persistence.QueueRepo {
	return &queueRepo{db: db, timeout: timeout}
}

// NewQueueRepoPortable creates the queue with the claim-token fallback
// instead of SKIP LOCKED.
func NewQueueRepoPortable(db *sqlx.DB, timeout time.Duration) persistence.QueueRepo {
	return &queueRepo{db: db, timeout: timeout, useClaimToken: true}
}

const jobColumns = `
	id, source, external_id, url, run_id, document_id, status, attempts,
	last_error, claim_token, claimed_at, created_at, updated_at`

// Enqueue inserts a job, deduplicating on (source, external_id). Returns the
// stored job and whether it was newly created.
func (r *queueRepo) Enqueue(ctx context.Context, job domain.IngestJob) (*domain.IngestJob, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	query := `
		INSERT INTO ingest_jobs (id, source, external_id, url, run_id, status)
		VALUES ($1, $2, $3, $4, $5, 'queued')`

	_, err := r.db.ExecContext(ctx, query, job.ID, job.Source, job.ExternalID, job.URL, job.RunID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			existing, ferr := r.find(ctx, job.Source, job.ExternalID)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	created, err := r.Get(ctx, job.ID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (r *queueRepo) find(ctx context.Context, source, externalID string) (*domain.IngestJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ingest_jobs WHERE source = $1 AND external_id = $2`
	return r.scanJob(r.db.QueryRowxContext(ctx, query, source, externalID))
}

func (r *queueRepo) Get(ctx context.Context, jobID string) (*domain.IngestJob, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + jobColumns + ` FROM ingest_jobs WHERE id = $1`
	job, err := r.scanJob(r.db.QueryRowxContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	return job, err
}

// Claim takes the oldest queued job for this worker, or returns nil when the
// queue is empty.
func (r *queueRepo) Claim(ctx context.Context, workerID string) (*domain.IngestJob, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.useClaimToken {
		return r.claimWithToken(ctx, workerID)
	}

	query := `
		UPDATE ingest_jobs
		SET status = 'fetching', claim_token = $1, claimed_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM ingest_jobs
			WHERE status = 'queued'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	job, err := r.scanJob(r.db.QueryRowxContext(ctx, query, workerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// claimWithToken is the portable fallback: select a candidate, then take it
// only if the conditional update still sees it queued.
func (r *queueRepo) claimWithToken(ctx context.Context, workerID string) (*domain.IngestJob, error) {
	token := workerID + ":" + uuid.New().String()

	var id string
	err := r.db.QueryRowxContext(ctx, `
		SELECT id FROM ingest_jobs WHERE status = 'queued' ORDER BY created_at ASC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select claim candidate: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET status = 'fetching', claim_token = $1, claimed_at = now(), updated_at = now()
		WHERE id = $2 AND status = 'queued'`, token, id)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected == 0 {
		// Lost the race; the caller polls again.
		return nil, nil
	}
	return r.Get(ctx, id)
}

// Advance moves an owned job to the next processing status.
func (r *queueRepo) Advance(ctx context.Context, jobID string, status domain.JobStatus, documentID *string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE ingest_jobs
		SET status = $1, document_id = COALESCE($2, document_id), updated_at = now()
		WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, documentID, jobID); err != nil {
		return fmt.Errorf("failed to advance job %s to %s: %w", jobID, status, err)
	}
	return nil
}

// Requeue returns a job to queued with attempts incremented.
func (r *queueRepo) Requeue(ctx context.Context, jobID string, cause string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE ingest_jobs
		SET status = 'queued', attempts = attempts + 1, last_error = $1,
		    claim_token = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, cause, jobID); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", jobID, err)
	}
	return nil
}

// Finish marks a terminal status.
func (r *queueRepo) Finish(ctx context.Context, jobID string, status domain.JobStatus, cause *string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE ingest_jobs
		SET status = $1, last_error = $2, claim_token = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, status, cause, jobID); err != nil {
		return fmt.Errorf("failed to finish job %s: %w", jobID, err)
	}
	return nil
}

// ReapStuck sweeps jobs stuck in a processing state past the bound back to
// queued, failing those that exceeded maxAttempts.
func (r *queueRepo) ReapStuck(ctx context.Context, bound time.Duration, maxAttempts int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cutoff := time.Now().Add(-bound)

	failQuery := `
		UPDATE ingest_jobs
		SET status = 'failed', last_error = 'attempt ceiling reached', updated_at = now(),
		    claim_token = NULL, claimed_at = NULL
		WHERE status = ANY($1) AND claimed_at < $2 AND attempts >= $3`
	if _, err := r.db.ExecContext(ctx, failQuery, pq.Array(processingStates()), cutoff, maxAttempts); err != nil {
		return 0, fmt.Errorf("failed to fail exhausted jobs: %w", err)
	}

	reapQuery := `
		UPDATE ingest_jobs
		SET status = 'queued', attempts = attempts + 1, last_error = 'stage timeout',
		    claim_token = NULL, claimed_at = NULL, updated_at = now()
		WHERE status = ANY($1) AND claimed_at < $2`
	res, err := r.db.ExecContext(ctx, reapQuery, pq.Array(processingStates()), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stuck jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reap result: %w", err)
	}
	return int(affected), nil
}

// CountStuck reports jobs in a processing state past the bound without
// touching them.
func (r *queueRepo) CountStuck(ctx context.Context, bound time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM ingest_jobs
		WHERE status = ANY($1) AND claimed_at < $2`,
		pq.Array(processingStates()), time.Now().Add(-bound))
	if err != nil {
		return 0, fmt.Errorf("failed to count stuck jobs: %w", err)
	}
	return count, nil
}

// Depth reports queue depth by status.
func (r *queueRepo) Depth(ctx context.Context) (map[domain.JobStatus]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT status, COUNT(*) FROM ingest_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue depth: %w", err)
	}
	defer rows.Close()

	depth := make(map[domain.JobStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue depth: %w", err)
		}
		depth[domain.JobStatus(status)] = count
	}
	return depth, rows.Err()
}

func (r *queueRepo) scanJob(row *sqlx.Row) (*domain.IngestJob, error) {
	var (
		j          domain.IngestJob
		runID      sql.NullString
		documentID sql.NullString
		lastError  sql.NullString
		claimToken sql.NullString
		claimedAt  sql.NullTime
	)
	err := row.Scan(&j.ID, &j.Source, &j.ExternalID, &j.URL, &runID, &documentID,
		&j.Status, &j.Attempts, &lastError, &claimToken, &claimedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.RunID = strPtr(runID)
	j.DocumentID = strPtr(documentID)
	j.LastError = strPtr(lastError)
	j.ClaimToken = strPtr(claimToken)
	if claimedAt.Valid {
		j.ClaimedAt = &claimedAt.Time
	}
	return &j, nil
}

func processingStates() []string {
	states := make([]string, len(domain.ProcessingStatuses))
	for i, s := range domain.ProcessingStatuses {
		states[i] = string(s)
	}
	return states
}
