package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

// reviewRepo persists candidate changes and the approval workflow.
type reviewRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewReviewRepo creates a PostgreSQL review-queue store.
func NewReviewRepo(db *sqlx.DB, timeout time.Duration) persistence.ReviewRepo {
	return &reviewRepo{db: db, timeout: timeout}
}

const candidateColumns = `
	id, program_id, hts_8digit, hts_10digit, country_code, country_group,
	material, variant, chapter_99_code, duty_rate, formula, role,
	effective_start, effective_end, source_document_id, evidence_id,
	dataset_tag, status, block_reason, priority, run_id, created_at, updated_at`

func (r *reviewRepo) Insert(ctx context.Context, c domain.CandidateChange) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO candidate_changes (` + candidateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.ProgramID, c.HTS8, c.HTS10, c.Country, c.CountryGroup,
		c.Material, c.Variant, c.Chapter99, c.Rate, c.Formula, c.Role,
		c.EffectiveStart, c.EffectiveEnd, c.SourceDocumentID, c.EvidenceID,
		c.DatasetTag, c.Status, c.BlockReason, c.Priority, c.RunID,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert candidate %s: %w", c.ID, err)
	}
	return nil
}

func (r *reviewRepo) Get(ctx context.Context, id string) (*domain.CandidateChange, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + candidateColumns + ` FROM candidate_changes WHERE id = $1`
	c, err := scanCandidate(r.db.QueryRowxContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate: %w", err)
	}
	return c, nil
}

func (r *reviewRepo) List(ctx context.Context, status domain.CandidateStatus, limit int) ([]domain.CandidateChange, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + candidateColumns + `
		FROM candidate_changes WHERE status = $1
		ORDER BY priority DESC, created_at ASC LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.CandidateChange
	for rows.Next() {
		c, err := scanCandidateRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetStatus transitions a candidate. pending is the only state that accepts a
// transition, so re-approving or re-rejecting is rejected as INVALID_STATE by
// callers when no row moves.
func (r *reviewRepo) SetStatus(ctx context.Context, id string, status domain.CandidateStatus, blockReason *string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	allowedFrom := []string{string(domain.CandidatePending)}
	if status == domain.CandidateCommitted {
		allowedFrom = []string{string(domain.CandidateApproved), string(domain.CandidatePending)}
	}

	query := `
		UPDATE candidate_changes
		SET status = $1, block_reason = $2, updated_at = now()
		WHERE id = $3 AND status = ANY($4)`
	res, err := r.db.ExecContext(ctx, query, status, blockReason, id, pq.Array(allowedFrom))
	if err != nil {
		return fmt.Errorf("failed to set candidate %s status: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read status update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("candidate %s: %w", id, persistence.ErrNotFound)
	}
	return nil
}

func (r *reviewRepo) UpdateFields(ctx context.Context, id string, rate *float64, start *domain.Date, chapter99 *string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE candidate_changes
		SET duty_rate = COALESCE($1, duty_rate),
		    effective_start = COALESCE($2, effective_start),
		    chapter_99_code = COALESCE($3, chapter_99_code),
		    updated_at = now()
		WHERE id = $4 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, rate, start, chapter99, id)
	if err != nil {
		return fmt.Errorf("failed to override candidate %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read override result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("candidate %s: %w", id, persistence.ErrNotFound)
	}
	return nil
}

func scanCandidate(row *sqlx.Row) (*domain.CandidateChange, error) {
	return scanCandidateFields(row)
}

func scanCandidateRows(rows *sqlx.Rows) (*domain.CandidateChange, error) {
	return scanCandidateFields(rows)
}

func scanCandidateFields(s rowScanner) (*domain.CandidateChange, error) {
	var (
		c           domain.CandidateChange
		hts10       sql.NullString
		country     sql.NullString
		group       sql.NullString
		material    sql.NullString
		variant     sql.NullString
		rate        sql.NullFloat64
		formula     sql.NullString
		end         sql.NullTime
		blockReason sql.NullString
		runID       sql.NullString
	)
	err := s.Scan(&c.ID, &c.ProgramID, &c.HTS8, &hts10, &country, &group,
		&material, &variant, &c.Chapter99, &rate, &formula, &c.Role,
		&c.EffectiveStart, &end, &c.SourceDocumentID, &c.EvidenceID,
		&c.DatasetTag, &c.Status, &blockReason, &c.Priority, &runID,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.HTS10 = strPtr(hts10)
	c.Country = strPtr(country)
	c.CountryGroup = strPtr(group)
	c.Material = strPtr(material)
	c.Variant = strPtr(variant)
	if rate.Valid {
		c.Rate = &rate.Float64
	}
	c.Formula = strPtr(formula)
	if end.Valid {
		d := domain.DateFromTime(end.Time)
		c.EffectiveEnd = &d
	}
	c.BlockReason = strPtr(blockReason)
	c.RunID = strPtr(runID)
	return &c, nil
}
