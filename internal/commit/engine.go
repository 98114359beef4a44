// Package commit applies approved candidate changes to the rate store. Every
// commit is one transaction: insert the new row, close the predecessor's
// window, link the supersession chain, audit both sides, and mark the
// candidate committed. A failed check rolls everything back.
package commit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luv91/tariffstack/internal/domain"
)

var (
	// ErrNotApproved rejects commits of candidates outside the approved state.
	ErrNotApproved = errors.New("candidate is not approved")
	// ErrTierNotBinding rejects commits backed by non-tier-A documents.
	ErrTierNotBinding = errors.New("source document tier is not binding")
	// ErrEvidenceInvalid rejects commits whose evidence packet is missing or
	// failed the write gate.
	ErrEvidenceInvalid = errors.New("evidence packet missing or gate-failed")
	// ErrWindowConflict rejects commits that would corrupt the temporal chain:
	// the predecessor starts on or after the new row's effective start.
	ErrWindowConflict = errors.New("effective window conflicts with active row")
)

// Result reports what a commit did.
type Result struct {
	RateRowID    int64  `json:"rate_row_id"`
	SupersededID *int64 `json:"superseded_id,omitempty"`
	NoOp         bool   `json:"no_op"`
}

// Invalidator is notified after a successful commit so read-side caches can
// drop stale answers.
type Invalidator interface {
	Bump(ctx context.Context)
}

// Engine is the single write path into rate_rows.
type Engine struct {
	db          *sqlx.DB
	invalidator Invalidator
	logger      zerolog.Logger
}

// NewEngine builds a commit engine over the database.
func NewEngine(db *sqlx.DB) *Engine {
	return &Engine{
		db:     db,
		logger: log.With().Str("component", "commit").Logger(),
	}
}

// SetInvalidator attaches a cache invalidation hook. Optional; the engine
// works without one.
func (e *Engine) SetInvalidator(inv Invalidator) { e.invalidator = inv }

func (e *Engine) invalidate(ctx context.Context) {
	if e.invalidator != nil {
		e.invalidator.Bump(ctx)
	}
}

// CommitCandidate applies one approved candidate. Re-committing an already
// committed candidate is a no-op reporting the existing row, so retries after
// a crashed worker are safe.
func (e *Engine) CommitCandidate(ctx context.Context, candidateID, actor string) (*Result, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	cand, err := lockCandidate(ctx, tx, candidateID)
	if err != nil {
		return nil, err
	}

	if cand.Status == domain.CandidateCommitted {
		id, err := findCommittedRow(ctx, tx, cand)
		if err != nil {
			return nil, err
		}
		return &Result{RateRowID: id, NoOp: true}, nil
	}
	if cand.Status != domain.CandidateApproved {
		return nil, fmt.Errorf("%w: candidate %s is %s", ErrNotApproved, cand.ID, cand.Status)
	}

	if err := verifyProvenance(ctx, tx, cand); err != nil {
		return nil, err
	}

	pred, err := lockPredecessor(ctx, tx, cand)
	if err != nil {
		return nil, err
	}
	if pred != nil && !pred.EffectiveStart.Before(cand.EffectiveStart) {
		return nil, fmt.Errorf("%w: active row %d starts %s, candidate starts %s",
			ErrWindowConflict, pred.ID, pred.EffectiveStart, cand.EffectiveStart)
	}

	row := cand.ToRateRow()
	if pred != nil {
		row.SupersedesID = &pred.ID
	}
	newID, err := insertRow(ctx, tx, row)
	if err != nil {
		return nil, err
	}
	row.ID = newID

	res := &Result{RateRowID: newID}
	if pred != nil {
		if err := closePredecessor(ctx, tx, pred, cand.EffectiveStart, newID); err != nil {
			return nil, err
		}
		closed := struct {
			ID             int64       `json:"id"`
			EffectiveEnd   domain.Date `json:"effective_end"`
			SupersededByID int64       `json:"superseded_by_id"`
		}{pred.ID, cand.EffectiveStart, newID}
		if err := audit(ctx, tx, domain.AuditSupersede, pred.ID, pred, closed, actor); err != nil {
			return nil, err
		}
		res.SupersededID = &pred.ID
	}
	if err := audit(ctx, tx, domain.AuditInsert, newID, nil, &row, actor); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE candidate_changes SET status = $1, updated_at = now() WHERE id = $2`,
		domain.CandidateCommitted, cand.ID); err != nil {
		return nil, fmt.Errorf("mark candidate committed: %w", err)
	}
	if cand.RunID != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_changes (run_id, rate_row_id, candidate_id)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			*cand.RunID, newID, cand.ID); err != nil {
			return nil, fmt.Errorf("link run change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	e.invalidate(ctx)

	evt := e.logger.Info().
		Str("candidate_id", cand.ID).
		Int64("rate_row_id", newID).
		Str("program_id", cand.ProgramID).
		Str("chapter_99", cand.Chapter99)
	if res.SupersededID != nil {
		evt = evt.Int64("superseded_id", *res.SupersededID)
	}
	evt.Msg("candidate committed")
	return res, nil
}

// CommitSchedule applies an ordered list of approved candidates for one
// subject key as a chain in a single transaction: each row's window ends
// where the next begins, and only the final row stays open. Any refusal
// rolls back the whole chain.
func (e *Engine) CommitSchedule(ctx context.Context, candidateIDs []string, actor string) ([]Result, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin schedule tx: %w", err)
	}
	defer tx.Rollback()

	cands := make([]*domain.CandidateChange, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		c, err := lockCandidate(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if c.Status != domain.CandidateApproved {
			return nil, fmt.Errorf("%w: candidate %s is %s", ErrNotApproved, c.ID, c.Status)
		}
		if err := verifyProvenance(ctx, tx, c); err != nil {
			return nil, err
		}
		cands = append(cands, c)
	}
	for i := 1; i < len(cands); i++ {
		if !cands[i-1].EffectiveStart.Before(cands[i].EffectiveStart) {
			return nil, fmt.Errorf("%w: schedule entries out of order at %s",
				ErrWindowConflict, cands[i].ID)
		}
	}

	pred, err := lockPredecessor(ctx, tx, cands[0])
	if err != nil {
		return nil, err
	}
	if pred != nil && !pred.EffectiveStart.Before(cands[0].EffectiveStart) {
		return nil, fmt.Errorf("%w: active row %d starts %s, schedule starts %s",
			ErrWindowConflict, pred.ID, pred.EffectiveStart, cands[0].EffectiveStart)
	}

	results := make([]Result, 0, len(cands))
	var prevID *int64
	for i, c := range cands {
		row := c.ToRateRow()
		if i == 0 && pred != nil {
			row.SupersedesID = &pred.ID
		} else if i > 0 {
			row.SupersedesID = prevID
		}
		// Interior rows close at the next entry's start.
		if i < len(cands)-1 {
			end := cands[i+1].EffectiveStart
			row.EffectiveEnd = &end
		}
		id, err := insertRow(ctx, tx, row)
		if err != nil {
			return nil, err
		}
		row.ID = id

		res := Result{RateRowID: id}
		if i == 0 && pred != nil {
			if err := closePredecessor(ctx, tx, pred, c.EffectiveStart, id); err != nil {
				return nil, err
			}
			res.SupersededID = &pred.ID
		} else if i > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE rate_rows SET superseded_by_id = $1 WHERE id = $2`,
				id, *prevID); err != nil {
				return nil, fmt.Errorf("link schedule row %d: %w", *prevID, err)
			}
			res.SupersededID = prevID
		}
		if err := audit(ctx, tx, domain.AuditInsert, id, nil, &row, actor); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE candidate_changes SET status = $1, updated_at = now() WHERE id = $2`,
			domain.CandidateCommitted, c.ID); err != nil {
			return nil, fmt.Errorf("mark candidate committed: %w", err)
		}
		if c.RunID != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_changes (run_id, rate_row_id, candidate_id)
				 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
				*c.RunID, id, c.ID); err != nil {
				return nil, fmt.Errorf("link run change: %w", err)
			}
		}
		idCopy := id
		prevID = &idCopy
		results = append(results, res)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit schedule tx: %w", err)
	}
	e.invalidate(ctx)
	e.logger.Info().Int("rows", len(results)).Msg("schedule committed")
	return results, nil
}

func lockCandidate(ctx context.Context, tx *sqlx.Tx, id string) (*domain.CandidateChange, error) {
	var c domain.CandidateChange
	var (
		hts10, country, group, material, variant sql.NullString
		formula, blockReason, runID              sql.NullString
		rate                                     sql.NullFloat64
		end                                      sql.NullTime
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, program_id, hts_8digit, hts_10digit, country_code,
		       country_group, material, variant, chapter_99_code, duty_rate,
		       formula, role, effective_start, effective_end,
		       source_document_id, evidence_id, dataset_tag, status,
		       block_reason, run_id
		FROM candidate_changes WHERE id = $1 FOR UPDATE`, id).Scan(
		&c.ID, &c.ProgramID, &c.HTS8, &hts10, &country, &group, &material,
		&variant, &c.Chapter99, &rate, &formula, &c.Role, &c.EffectiveStart,
		&end, &c.SourceDocumentID, &c.EvidenceID, &c.DatasetTag, &c.Status,
		&blockReason, &runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("candidate %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("lock candidate %s: %w", id, err)
	}
	c.HTS10 = nullStr(hts10)
	c.Country = nullStr(country)
	c.CountryGroup = nullStr(group)
	c.Material = nullStr(material)
	c.Variant = nullStr(variant)
	c.Formula = nullStr(formula)
	c.BlockReason = nullStr(blockReason)
	c.RunID = nullStr(runID)
	if rate.Valid {
		c.Rate = &rate.Float64
	}
	if end.Valid {
		d := domain.DateFromTime(end.Time)
		c.EffectiveEnd = &d
	}
	return &c, nil
}

func verifyProvenance(ctx context.Context, tx *sqlx.Tx, c *domain.CandidateChange) error {
	var tier string
	err := tx.QueryRowContext(ctx,
		`SELECT tier FROM official_documents WHERE id = $1`,
		c.SourceDocumentID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: document %s not found", ErrEvidenceInvalid, c.SourceDocumentID)
	}
	if err != nil {
		return fmt.Errorf("check document tier: %w", err)
	}
	if domain.SourceTier(tier) != domain.TierA {
		return fmt.Errorf("%w: document %s is tier %s", ErrTierNotBinding, c.SourceDocumentID, tier)
	}

	var gatePassed bool
	err = tx.QueryRowContext(ctx,
		`SELECT write_gate_passed FROM evidence_packets WHERE id = $1`,
		c.EvidenceID).Scan(&gatePassed)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: packet %s not found", ErrEvidenceInvalid, c.EvidenceID)
	}
	if err != nil {
		return fmt.Errorf("check evidence packet: %w", err)
	}
	if !gatePassed {
		return fmt.Errorf("%w: packet %s failed the write gate", ErrEvidenceInvalid, c.EvidenceID)
	}
	return nil
}

// predecessorQuery matches the candidate's full subject key against active
// rows whose window is still open at the candidate's start.
const predecessorQuery = `
	SELECT id, effective_start, effective_end
	FROM rate_rows
	WHERE program_id = $1 AND role = $2 AND hts_8digit = $3
	  AND hts_10digit IS NOT DISTINCT FROM $4
	  AND country_code IS NOT DISTINCT FROM $5
	  AND country_group IS NOT DISTINCT FROM $6
	  AND material IS NOT DISTINCT FROM $7
	  AND variant IS NOT DISTINCT FROM $8
	  AND superseded_by_id IS NULL
	  AND is_archived = FALSE
	  AND (effective_end IS NULL OR effective_end > $9)
	ORDER BY effective_start DESC
	LIMIT 1
	FOR UPDATE`

type predecessor struct {
	ID             int64
	EffectiveStart domain.Date
	EffectiveEnd   *domain.Date
}

func lockPredecessor(ctx context.Context, tx *sqlx.Tx, c *domain.CandidateChange) (*predecessor, error) {
	var p predecessor
	var end sql.NullTime
	err := tx.QueryRowContext(ctx, predecessorQuery,
		c.ProgramID, c.Role, c.HTS8, c.HTS10, c.Country, c.CountryGroup,
		c.Material, c.Variant, c.EffectiveStart).Scan(&p.ID, &p.EffectiveStart, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock predecessor: %w", err)
	}
	if end.Valid {
		d := domain.DateFromTime(end.Time)
		p.EffectiveEnd = &d
	}
	return &p, nil
}

func insertRow(ctx context.Context, tx *sqlx.Tx, r domain.RateRow) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO rate_rows
			(program_id, hts_8digit, hts_10digit, country_code, country_group,
			 material, variant, chapter_99_code, duty_rate, formula, role,
			 effective_start, effective_end, source_document_id, evidence_id,
			 supersedes_id, dataset_tag)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id`,
		r.ProgramID, r.HTS8, r.HTS10, r.Country, r.CountryGroup, r.Material,
		r.Variant, r.Chapter99, r.Rate, r.Formula, r.Role, r.EffectiveStart,
		r.EffectiveEnd, r.SourceDocumentID, r.EvidenceID, r.SupersedesID,
		r.DatasetTag).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert rate row: %w", err)
	}
	return id, nil
}

func closePredecessor(ctx context.Context, tx *sqlx.Tx, p *predecessor, newStart domain.Date, newID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE rate_rows
		SET effective_end = $1, superseded_by_id = $2
		WHERE id = $3`,
		newStart, newID, p.ID)
	if err != nil {
		return fmt.Errorf("close predecessor %d: %w", p.ID, err)
	}
	return nil
}

func audit(ctx context.Context, tx *sqlx.Tx, action domain.AuditAction, rowID int64, before, after interface{}, actor string) error {
	var beforeJSON, afterJSON []byte
	var err error
	if before != nil {
		if beforeJSON, err = json.Marshal(before); err != nil {
			return fmt.Errorf("marshal audit before: %w", err)
		}
	}
	if after != nil {
		if afterJSON, err = json.Marshal(after); err != nil {
			return fmt.Errorf("marshal audit after: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (table_name, row_id, action, before_state, after_state, actor)
		VALUES ('rate_rows', $1, $2, $3, $4, $5)`,
		fmt.Sprint(rowID), action, beforeJSON, afterJSON, actor)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// findCommittedRow resolves the rate row a committed candidate produced, for
// idempotent replays.
func findCommittedRow(ctx context.Context, tx *sqlx.Tx, c *domain.CandidateChange) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM rate_rows
		WHERE program_id = $1 AND role = $2 AND hts_8digit = $3
		  AND hts_10digit IS NOT DISTINCT FROM $4
		  AND country_code IS NOT DISTINCT FROM $5
		  AND country_group IS NOT DISTINCT FROM $6
		  AND material IS NOT DISTINCT FROM $7
		  AND variant IS NOT DISTINCT FROM $8
		  AND effective_start = $9
		ORDER BY id DESC LIMIT 1`,
		c.ProgramID, c.Role, c.HTS8, c.HTS10, c.Country, c.CountryGroup,
		c.Material, c.Variant, c.EffectiveStart).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find committed row: %w", err)
	}
	return id, nil
}

func nullStr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
