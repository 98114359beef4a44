package commit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luv91/tariffstack/internal/domain"
)

func newMockEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEngine(sqlx.NewDb(db, "postgres")), mock
}

var candidateCols = []string{
	"id", "program_id", "hts_8digit", "hts_10digit", "country_code",
	"country_group", "material", "variant", "chapter_99_code", "duty_rate",
	"formula", "role", "effective_start", "effective_end",
	"source_document_id", "evidence_id", "dataset_tag", "status",
	"block_reason", "run_id",
}

func candidateRow(status domain.CandidateStatus) *sqlmock.Rows {
	return sqlmock.NewRows(candidateCols).AddRow(
		"cand-1", domain.ProgramIEEPAReciprocal, "", nil, "CN", nil, nil,
		"standard", "9903.01.63", 0.15, nil, "impose",
		time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), nil,
		"doc-1", "ev-1", "fr_2025_21340", string(status), nil, nil)
}

func expectProvenance(mock sqlmock.Sqlmock, tier string, gatePassed bool) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT tier FROM official_documents")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"tier"}).AddRow(tier))
	if tier == "A" {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT write_gate_passed FROM evidence_packets")).
			WithArgs("ev-1").
			WillReturnRows(sqlmock.NewRows([]string{"write_gate_passed"}).AddRow(gatePassed))
	}
}

// A rate raise supersedes the active row: one insert, the predecessor's
// window closed at the new start, both sides audited, candidate committed.
func TestCommitSupersedesActiveRow(t *testing.T) {
	eng, mock := newMockEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-1").
		WillReturnRows(candidateRow(domain.CandidateApproved))
	expectProvenance(mock, "A", true)
	mock.ExpectQuery("FROM rate_rows").
		WillReturnRows(sqlmock.NewRows([]string{"id", "effective_start", "effective_end"}).
			AddRow(int64(42), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), nil))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_rows")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(99)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE rate_rows")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE candidate_changes")).
		WithArgs(domain.CandidateCommitted, "cand-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := eng.CommitCandidate(context.Background(), "cand-1", "reviewer@ops")
	require.NoError(t, err)
	assert.Equal(t, int64(99), res.RateRowID)
	require.NotNil(t, res.SupersededID)
	assert.Equal(t, int64(42), *res.SupersededID)
	assert.False(t, res.NoOp)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A first-ever row for a subject key commits without a supersession.
func TestCommitWithoutPredecessor(t *testing.T) {
	eng, mock := newMockEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-1").
		WillReturnRows(candidateRow(domain.CandidateApproved))
	expectProvenance(mock, "A", true)
	mock.ExpectQuery("FROM rate_rows").
		WillReturnRows(sqlmock.NewRows([]string{"id", "effective_start", "effective_end"}))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_rows")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE candidate_changes")).
		WithArgs(domain.CandidateCommitted, "cand-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := eng.CommitCandidate(context.Background(), "cand-1", "worker-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.RateRowID)
	assert.Nil(t, res.SupersededID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Re-committing an already committed candidate is a no-op that resolves the
// existing row.
func TestCommitIdempotentReplay(t *testing.T) {
	eng, mock := newMockEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-1").
		WillReturnRows(candidateRow(domain.CandidateCommitted))
	mock.ExpectQuery("FROM rate_rows").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(99)))
	mock.ExpectRollback()

	res, err := eng.CommitCandidate(context.Background(), "cand-1", "worker-1")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, int64(99), res.RateRowID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRefusesUnapproved(t *testing.T) {
	eng, mock := newMockEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-1").
		WillReturnRows(candidateRow(domain.CandidatePending))
	mock.ExpectRollback()

	_, err := eng.CommitCandidate(context.Background(), "cand-1", "worker-1")
	require.ErrorIs(t, err, ErrNotApproved)
}

func TestCommitRefusesNonBindingTier(t *testing.T) {
	eng, mock := newMockEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-1").
		WillReturnRows(candidateRow(domain.CandidateApproved))
	expectProvenance(mock, "B", true)
	mock.ExpectRollback()

	_, err := eng.CommitCandidate(context.Background(), "cand-1", "worker-1")
	require.ErrorIs(t, err, ErrTierNotBinding)
}

func TestCommitRefusesGateFailedEvidence(t *testing.T) {
	eng, mock := newMockEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-1").
		WillReturnRows(candidateRow(domain.CandidateApproved))
	expectProvenance(mock, "A", false)
	mock.ExpectRollback()

	_, err := eng.CommitCandidate(context.Background(), "cand-1", "worker-1")
	require.ErrorIs(t, err, ErrEvidenceInvalid)
}

func scheduleCandidateRow(id string, start time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(candidateCols).AddRow(
		id, domain.ProgramIEEPAReciprocal, "", nil, "CN", nil, nil,
		"standard", "9903.01.63", 0.15, nil, "impose", start, nil,
		"doc-1", "ev-1", "fr_2025_21340", string(domain.CandidateApproved), nil, nil)
}

// A two-entry schedule commits as one chain: the interior row's window closes
// at the next entry's start, the tail stays open, and the supersession links
// point from each row to its successor.
func TestCommitScheduleChainsRows(t *testing.T) {
	eng, mock := newMockEngine(t)
	nov := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	dec := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-a").
		WillReturnRows(scheduleCandidateRow("cand-a", nov))
	expectProvenance(mock, "A", true)
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-b").
		WillReturnRows(scheduleCandidateRow("cand-b", dec))
	expectProvenance(mock, "A", true)
	mock.ExpectQuery("FROM rate_rows").
		WillReturnRows(sqlmock.NewRows([]string{"id", "effective_start", "effective_end"}))
	// Interior row: closed at the second entry's start, no supersedes link.
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_rows")).
		WithArgs(domain.ProgramIEEPAReciprocal, "", nil, "CN", nil, nil,
			"standard", "9903.01.63", 0.15, nil, "impose", nov, dec,
			"doc-1", "ev-1", nil, "fr_2025_21340").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE candidate_changes")).
		WithArgs(domain.CandidateCommitted, "cand-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Tail row: open window, supersedes the interior row.
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rate_rows")).
		WithArgs(domain.ProgramIEEPAReciprocal, "", nil, "CN", nil, nil,
			"standard", "9903.01.63", 0.15, nil, "impose", dec, nil,
			"doc-1", "ev-1", int64(11), "fr_2025_21340").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE rate_rows")).
		WithArgs(int64(12), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE candidate_changes")).
		WithArgs(domain.CandidateCommitted, "cand-b").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	results, err := eng.CommitSchedule(context.Background(), []string{"cand-a", "cand-b"}, "reviewer@ops")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(11), results[0].RateRowID)
	assert.Nil(t, results[0].SupersededID)
	assert.Equal(t, int64(12), results[1].RateRowID)
	require.NotNil(t, results[1].SupersededID)
	assert.Equal(t, int64(11), *results[1].SupersededID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Schedule entries whose starts are not strictly increasing would produce an
// overlapping chain; the whole schedule rolls back.
func TestCommitScheduleRefusesOutOfOrder(t *testing.T) {
	eng, mock := newMockEngine(t)
	nov := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-a").
		WillReturnRows(scheduleCandidateRow("cand-a", nov))
	expectProvenance(mock, "A", true)
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-b").
		WillReturnRows(scheduleCandidateRow("cand-b", nov))
	expectProvenance(mock, "A", true)
	mock.ExpectRollback()

	_, err := eng.CommitSchedule(context.Background(), []string{"cand-a", "cand-b"}, "reviewer@ops")
	require.ErrorIs(t, err, ErrWindowConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A predecessor starting on or after the candidate's effective start would
// leave an overlapping or negative window; the commit refuses and rolls back.
func TestCommitRefusesWindowConflict(t *testing.T) {
	eng, mock := newMockEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM candidate_changes").WithArgs("cand-1").
		WillReturnRows(candidateRow(domain.CandidateApproved))
	expectProvenance(mock, "A", true)
	mock.ExpectQuery("FROM rate_rows").
		WillReturnRows(sqlmock.NewRows([]string{"id", "effective_start", "effective_end"}).
			AddRow(int64(42), time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), nil))
	mock.ExpectRollback()

	_, err := eng.CommitCandidate(context.Background(), "cand-1", "worker-1")
	require.ErrorIs(t, err, ErrWindowConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}
