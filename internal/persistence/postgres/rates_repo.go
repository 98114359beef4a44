package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema creates all tables and indexes. Statements are idempotent.
func ApplySchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ratesRepo implements RateReader and InvariantProber over Postgres.
type ratesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRatesRepo creates a PostgreSQL temporal rate store.
func NewRatesRepo(db *sqlx.DB, timeout time.Duration) persistence.RateReader {
	return &ratesRepo{db: db, timeout: timeout}
}

// NewInvariantProber exposes the same repo through the prober interface.
func NewInvariantProber(db *sqlx.DB, timeout time.Duration) persistence.InvariantProber {
	return &ratesRepo{db: db, timeout: timeout}
}

// NewRateStats exposes the same repo through the stats interface.
func NewRateStats(db *sqlx.DB, timeout time.Duration) persistence.RateStatsReader {
	return &ratesRepo{db: db, timeout: timeout}
}

const rateRowColumns = `
	id, program_id, hts_8digit, hts_10digit, country_code, country_group,
	material, variant, chapter_99_code, duty_rate, formula, role,
	effective_start, effective_end, source_document_id, evidence_id,
	supersedes_id, superseded_by_id, dataset_tag, is_archived, created_at`

// AsOf returns the single best in-scope row for the subject keys on d.
// Ordering encodes the precedence rules: non-archived first, exclude role
// before impose, most-specific subject key, most recent effective_start.
func (r *ratesRepo) AsOf(ctx context.Context, q domain.RateQuery, d domain.Date) (*domain.RateRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + rateRowColumns + `
		FROM rate_rows
		WHERE program_id = $1
		  AND (hts_8digit = $2 OR hts_8digit = '')
		  AND (hts_10digit IS NULL OR hts_10digit = '' OR hts_10digit = $3)
		  AND (country_code IS NULL OR country_code = '' OR country_code = $4)
		  AND (country_group IS NULL OR country_group = '' OR country_group = $5)
		  AND (material IS NULL OR material = '' OR material = $6)
		  AND (variant IS NULL OR variant = '' OR variant = $7)
		  AND effective_start <= $8
		  AND (effective_end IS NULL OR effective_end > $8)
		ORDER BY
		  is_archived ASC,
		  CASE role WHEN 'exclude' THEN 0 ELSE 1 END,
		  (CASE WHEN hts_8digit <> '' THEN 8 ELSE 0 END
		   + CASE WHEN hts_10digit IS NOT NULL AND hts_10digit <> '' THEN 4 ELSE 0 END
		   + CASE WHEN country_code IS NOT NULL AND country_code <> '' THEN 2
		          WHEN country_group IS NOT NULL AND country_group <> '' THEN 1
		          ELSE 0 END) DESC,
		  effective_start DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query,
		q.ProgramID, q.HTS8, q.HTS10, q.Country, q.CountryGroup, q.Material, q.Variant, d)
	rr, err := scanRateRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query as-of rate: %w", err)
	}
	return rr, nil
}

// Schedule returns the chained sequence of rows for the subject key across
// time, oldest first.
func (r *ratesRepo) Schedule(ctx context.Context, q domain.RateQuery) ([]domain.RateRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + rateRowColumns + `
		FROM rate_rows
		WHERE program_id = $1
		  AND hts_8digit = $2
		  AND (hts_10digit IS NULL OR hts_10digit = '' OR hts_10digit = $3)
		  AND (country_code IS NULL OR country_code = '' OR country_code = $4)
		  AND (country_group IS NULL OR country_group = '' OR country_group = $5)
		  AND (material IS NULL OR material = '' OR material = $6)
		  AND (variant IS NULL OR variant = '' OR variant = $7)
		ORDER BY effective_start ASC`

	rows, err := r.db.QueryxContext(ctx, query,
		q.ProgramID, q.HTS8, q.HTS10, q.Country, q.CountryGroup, q.Material, q.Variant)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate schedule: %w", err)
	}
	defer rows.Close()

	var out []domain.RateRow
	for rows.Next() {
		rr, err := scanRateRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate row: %w", err)
		}
		out = append(out, *rr)
	}
	return out, rows.Err()
}

// MaterialRules returns the Section 232 inclusion rows in scope on d.
// 10-digit rows sort ahead of 8-digit rows so callers can take the first
// match per material.
func (r *ratesRepo) MaterialRules(ctx context.Context, hts8, hts10 string, d domain.Date) ([]domain.MaterialRule, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, hts_8digit, hts_10digit, material, claim_code, disclaim_code,
		       duty_rate, min_percent, split_policy, split_threshold,
		       content_basis, quantity_unit, effective_start, effective_end
		FROM material_rules
		WHERE hts_8digit = $1
		  AND (hts_10digit IS NULL OR hts_10digit = '' OR hts_10digit = $2)
		  AND effective_start <= $3
		  AND (effective_end IS NULL OR effective_end > $3)
		ORDER BY (hts_10digit IS NOT NULL AND hts_10digit <> '') DESC, material ASC`

	rows, err := r.db.QueryxContext(ctx, query, hts8, hts10, d)
	if err != nil {
		return nil, fmt.Errorf("failed to query material rules: %w", err)
	}
	defer rows.Close()

	var out []domain.MaterialRule
	seen := map[string]bool{}
	for rows.Next() {
		var (
			m     domain.MaterialRule
			hts10 sql.NullString
			end   sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.HTS8, &hts10, &m.Material, &m.ClaimCode,
			&m.DisclaimCode, &m.DutyRate, &m.MinPercent, &m.SplitPolicy,
			&m.SplitThreshold, &m.Basis, &m.QuantityUnit, &m.EffectiveStart, &end); err != nil {
			return nil, fmt.Errorf("failed to scan material rule: %w", err)
		}
		if hts10.Valid && hts10.String != "" {
			m.HTS10 = &hts10.String
		}
		if end.Valid {
			d := domain.DateFromTime(end.Time)
			m.EffectiveEnd = &d
		}
		// 10-digit rows win per material; 8-digit rows fill the gaps.
		if seen[m.Material] {
			continue
		}
		seen[m.Material] = true
		out = append(out, m)
	}
	return out, rows.Err()
}

// MFNRate reads the MFN base rate, stored as rate rows under the mfn_base
// program.
func (r *ratesRepo) MFNRate(ctx context.Context, hts8 string, d domain.Date) (float64, bool, error) {
	row, err := r.AsOf(ctx, domain.RateQuery{ProgramID: domain.ProgramMFNBase, HTS8: hts8}, d)
	if err != nil {
		return 0, false, err
	}
	if row == nil || row.Rate == nil {
		return 0, false, nil
	}
	return *row.Rate, true, nil
}

// AnnexIIExempt checks the Annex II exemption list.
func (r *ratesRepo) AnnexIIExempt(ctx context.Context, hts8 string, d domain.Date) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM annex_ii
			WHERE hts_8digit = $1
			  AND effective_start <= $2
			  AND (effective_end IS NULL OR effective_end > $2)
		)`
	if err := r.db.QueryRowxContext(ctx, query, hts8, d).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query annex II: %w", err)
	}
	return exists, nil
}

// NoWindowOverlap reports subject keys whose windows overlap: no two rows covering the same date.
func (r *ratesRepo) NoWindowOverlap(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT a.program_id || '|' || a.role || '|' || a.hts_8digit
		       || '|' || COALESCE(a.hts_10digit, '') || '|' || COALESCE(a.country_code, '')
		       || '|' || COALESCE(a.country_group, '') || '|' || COALESCE(a.material, '')
		       || '|' || COALESCE(a.variant, '')
		FROM rate_rows a
		JOIN rate_rows b ON a.id < b.id
		  AND a.program_id = b.program_id AND a.role = b.role
		  AND a.hts_8digit = b.hts_8digit
		  AND COALESCE(a.hts_10digit, '') = COALESCE(b.hts_10digit, '')
		  AND COALESCE(a.country_code, '') = COALESCE(b.country_code, '')
		  AND COALESCE(a.country_group, '') = COALESCE(b.country_group, '')
		  AND COALESCE(a.material, '') = COALESCE(b.material, '')
		  AND COALESCE(a.variant, '') = COALESCE(b.variant, '')
		WHERE (a.effective_end IS NULL OR b.effective_start < a.effective_end)
		  AND (b.effective_end IS NULL OR a.effective_start < b.effective_end)`

	var keys []string
	if err := r.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, fmt.Errorf("failed to probe window overlap: %w", err)
	}
	return keys, nil
}

// SupersessionChainConsistent reports rows whose supersedes link does not
// meet the predecessor's effective_end.
func (r *ratesRepo) SupersessionChainConsistent(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT child.id
		FROM rate_rows child
		JOIN rate_rows parent ON parent.id = child.supersedes_id
		WHERE parent.effective_end IS NULL
		   OR parent.effective_end <> child.effective_start`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to probe supersession chains: %w", err)
	}
	return ids, nil
}

// EveryRowHasEvidence reports committed rows missing a source document or
// an evidence packet link.
func (r *ratesRepo) EveryRowHasEvidence(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id FROM rate_rows
		WHERE source_document_id IS NULL OR evidence_id IS NULL`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to probe evidence links: %w", err)
	}
	return ids, nil
}

// RowCountsByProgram reports active row counts per program.
func (r *ratesRepo) RowCountsByProgram(ctx context.Context) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT program_id, COUNT(*) FROM rate_rows
		WHERE is_archived = FALSE AND superseded_by_id IS NULL
		GROUP BY program_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows by program: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			program string
			count   int
		)
		if err := rows.Scan(&program, &count); err != nil {
			return nil, fmt.Errorf("failed to scan program count: %w", err)
		}
		counts[program] = count
	}
	return counts, rows.Err()
}

// rowScanner covers *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRateRow reads one rate_rows record into the domain type, mapping SQL
// NULLs onto pointer fields.
func scanRateRow(s rowScanner) (*domain.RateRow, error) {
	var (
		rr             domain.RateRow
		hts10          sql.NullString
		country        sql.NullString
		group          sql.NullString
		material       sql.NullString
		variant        sql.NullString
		rate           sql.NullFloat64
		formula        sql.NullString
		end            sql.NullTime
		sourceDoc      sql.NullString
		evidence       sql.NullString
		supersedes     sql.NullInt64
		supersededBy   sql.NullInt64
	)
	err := s.Scan(&rr.ID, &rr.ProgramID, &rr.HTS8, &hts10, &country, &group,
		&material, &variant, &rr.Chapter99, &rate, &formula, &rr.Role,
		&rr.EffectiveStart, &end, &sourceDoc, &evidence,
		&supersedes, &supersededBy, &rr.DatasetTag, &rr.IsArchived, &rr.CreatedAt)
	if err != nil {
		return nil, err
	}
	rr.HTS10 = strPtr(hts10)
	rr.Country = strPtr(country)
	rr.CountryGroup = strPtr(group)
	rr.Material = strPtr(material)
	rr.Variant = strPtr(variant)
	rr.SourceDocumentID = strPtr(sourceDoc)
	rr.EvidenceID = strPtr(evidence)
	if rate.Valid {
		rr.Rate = &rate.Float64
	}
	rr.Formula = strPtr(formula)
	if end.Valid {
		d := domain.DateFromTime(end.Time)
		rr.EffectiveEnd = &d
	}
	if supersedes.Valid {
		rr.SupersedesID = &supersedes.Int64
	}
	if supersededBy.Valid {
		rr.SupersededByID = &supersededBy.Int64
	}
	return &rr, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return &ns.String
}
