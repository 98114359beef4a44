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

// exclusionRepo stores advisory Section 301 exclusion claims.
type exclusionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewExclusionRepo creates a PostgreSQL exclusion-claim store.
func NewExclusionRepo(db *sqlx.DB, timeout time.Duration) persistence.ExclusionRepo {
	return &exclusionRepo{db: db, timeout: timeout}
}

func (r *exclusionRepo) Insert(ctx context.Context, claim *domain.ExclusionClaim) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO exclusion_claims
			(hts_8digit, description, claim_code, status, effective_start, effective_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		claim.HTS8, claim.Description, claim.ClaimCode, claim.Status,
		claim.Start, claim.End).Scan(&claim.ID)
	if err != nil {
		return fmt.Errorf("failed to insert exclusion claim for %s: %w", claim.HTS8, err)
	}
	return nil
}

func (r *exclusionRepo) ListByHTS(ctx context.Context, hts8 string, asOf domain.Date) ([]domain.ExclusionClaim, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, hts_8digit, description, claim_code, status,
		       effective_start, effective_end
		FROM exclusion_claims
		WHERE hts_8digit = $1
		  AND effective_start <= $2
		  AND (effective_end IS NULL OR effective_end > $2)
		ORDER BY effective_start DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, hts8, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list exclusion claims: %w", err)
	}
	defer rows.Close()

	var out []domain.ExclusionClaim
	for rows.Next() {
		var (
			c   domain.ExclusionClaim
			end sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.HTS8, &c.Description, &c.ClaimCode,
			&c.Status, &c.Start, &end); err != nil {
			return nil, fmt.Errorf("failed to scan exclusion claim: %w", err)
		}
		if end.Valid {
			d := domain.DateFromTime(end.Time)
			c.End = &d
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *exclusionRepo) SetStatus(ctx context.Context, id int64, status string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE exclusion_claims SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set exclusion claim %d status: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read exclusion status result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("exclusion claim %d: %w", id, persistence.ErrNotFound)
	}
	return nil
}
