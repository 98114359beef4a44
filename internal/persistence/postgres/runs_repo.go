package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

// runsRepo records regulatory runs and their subrecords.
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunRepo creates a PostgreSQL run store.
func NewRunRepo(db *sqlx.DB, timeout time.Duration) persistence.RunRepo {
	return &runsRepo{db: db, timeout: timeout}
}

func (r *runsRepo) CreateRun(ctx context.Context, run domain.RegulatoryRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO regulatory_runs (id, source, status, since, started_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query,
		run.ID, run.Source, run.Status, run.Since, run.StartedAt); err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

func (r *runsRepo) FinishRun(ctx context.Context, runID string, status domain.RunStatus, docsFound, jobsCreated int, cause *string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE regulatory_runs
		SET status = $1, finished_at = now(), docs_found = $2, jobs_created = $3, error = $4
		WHERE id = $5`
	if _, err := r.db.ExecContext(ctx, query, status, docsFound, jobsCreated, cause, runID); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

const runColumns = `id, source, status, since, started_at, finished_at, docs_found, jobs_created, error`

func (r *runsRepo) GetRun(ctx context.Context, runID string) (*domain.RegulatoryRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + runColumns + ` FROM regulatory_runs WHERE id = $1`
	run, err := scanRun(r.db.QueryRowxContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

func (r *runsRepo) ListRuns(ctx context.Context, source string, limit int) ([]domain.RegulatoryRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + runColumns + ` FROM regulatory_runs
		WHERE ($1 = '' OR source = $1)
		ORDER BY started_at DESC LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RegulatoryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *runsRepo) LastSuccess(ctx context.Context) (map[string]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT source, MAX(finished_at)
		FROM regulatory_runs
		WHERE status = 'succeeded' AND finished_at IS NOT NULL
		GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to query last successes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			source string
			at     time.Time
		)
		if err := rows.Scan(&source, &at); err != nil {
			return nil, fmt.Errorf("failed to scan last success: %w", err)
		}
		out[source] = at
	}
	return out, rows.Err()
}

func (r *runsRepo) AddRunDocument(ctx context.Context, rd domain.RunDocument) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO run_documents (run_id, document_id, external_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, document_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, rd.RunID, rd.DocumentID, rd.ExternalID); err != nil {
		return fmt.Errorf("failed to add run document: %w", err)
	}
	return nil
}

func (r *runsRepo) AddRunChange(ctx context.Context, rc domain.RunChange) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO run_changes (run_id, rate_row_id, candidate_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, rate_row_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, rc.RunID, rc.RateRowID, rc.CandidateID); err != nil {
		return fmt.Errorf("failed to add run change: %w", err)
	}
	return nil
}

func (r *runsRepo) ListRunDocuments(ctx context.Context, runID string) ([]domain.RunDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []domain.RunDocument
	err := r.db.SelectContext(ctx, &out, `
		SELECT run_id, document_id, external_id FROM run_documents WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run documents: %w", err)
	}
	return out, nil
}

func (r *runsRepo) ListRunChanges(ctx context.Context, runID string) ([]domain.RunChange, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []domain.RunChange
	err := r.db.SelectContext(ctx, &out, `
		SELECT run_id, rate_row_id, candidate_id FROM run_changes WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run changes: %w", err)
	}
	return out, nil
}

func scanRun(s rowScanner) (*domain.RegulatoryRun, error) {
	var (
		run        domain.RegulatoryRun
		finishedAt sql.NullTime
		cause      sql.NullString
	)
	err := s.Scan(&run.ID, &run.Source, &run.Status, &run.Since, &run.StartedAt,
		&finishedAt, &run.DocsFound, &run.JobsCreated, &cause)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	run.Error = strPtr(cause)
	return &run, nil
}

// auditRepo is the append-only audit log.
type auditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAuditRepo creates a PostgreSQL audit log.
func NewAuditRepo(db *sqlx.DB, timeout time.Duration) persistence.AuditRepo {
	return &auditRepo{db: db, timeout: timeout}
}

func (r *auditRepo) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO audit_log (table_name, row_id, action, before_state, after_state, actor, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query, entry.TableName, entry.RowID,
		entry.Action, entry.Before, entry.After, entry.Actor, entry.RunID); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *auditRepo) List(ctx context.Context, table string, since time.Time, limit int) ([]domain.AuditLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, table_name, row_id, action, before_state, after_state, actor, run_id, created_at
		FROM audit_log
		WHERE ($1 = '' OR table_name = $1) AND created_at >= $2
		ORDER BY created_at DESC LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, table, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditLogEntry
	for rows.Next() {
		var (
			e      domain.AuditLogEntry
			before []byte
			after  []byte
			runID  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TableName, &e.RowID, &e.Action,
			&before, &after, &e.Actor, &runID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Before = before
		e.After = after
		e.RunID = strPtr(runID)
		out = append(out, e)
	}
	return out, rows.Err()
}
