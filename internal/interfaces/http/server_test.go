package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luv91/tariffstack/internal/commit"
	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/freshness"
	"github.com/luv91/tariffstack/internal/metrics"
	"github.com/luv91/tariffstack/internal/persistence"
	"github.com/luv91/tariffstack/internal/review"
	"github.com/luv91/tariffstack/internal/watcher"
)

type fakeEvaluator struct {
	result *domain.EvaluationResult
	err    error
	last   domain.EvaluationInput
}

func (f *fakeEvaluator) Evaluate(_ context.Context, in domain.EvaluationInput) (*domain.EvaluationResult, error) {
	f.last = in
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeProcessor struct {
	remaining int
	err       error
	processed int
}

func (f *fakeProcessor) ProcessOne(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.remaining == 0 {
		return false, nil
	}
	f.remaining--
	f.processed++
	return true, nil
}

type fakeRuns struct {
	runs      map[string]domain.RegulatoryRun
	docs      map[string][]domain.RunDocument
	changes   map[string][]domain.RunChange
	lastBySrc map[string]time.Time
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		runs:      map[string]domain.RegulatoryRun{},
		docs:      map[string][]domain.RunDocument{},
		changes:   map[string][]domain.RunChange{},
		lastBySrc: map[string]time.Time{},
	}
}

func (f *fakeRuns) CreateRun(_ context.Context, run domain.RegulatoryRun) error {
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRuns) FinishRun(_ context.Context, runID string, status domain.RunStatus, docsFound, jobsCreated int, cause *string) error {
	run := f.runs[runID]
	run.Status = status
	run.DocsFound = docsFound
	run.JobsCreated = jobsCreated
	run.Error = cause
	f.runs[runID] = run
	if status == domain.RunSucceeded {
		f.lastBySrc[run.Source] = time.Now()
	}
	return nil
}

func (f *fakeRuns) GetRun(_ context.Context, runID string) (*domain.RegulatoryRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &run, nil
}

func (f *fakeRuns) ListRuns(_ context.Context, source string, limit int) ([]domain.RegulatoryRun, error) {
	var out []domain.RegulatoryRun
	for _, run := range f.runs {
		if source != "" && run.Source != source {
			continue
		}
		out = append(out, run)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRuns) LastSuccess(context.Context) (map[string]time.Time, error) {
	return f.lastBySrc, nil
}

func (f *fakeRuns) AddRunDocument(_ context.Context, rd domain.RunDocument) error {
	f.docs[rd.RunID] = append(f.docs[rd.RunID], rd)
	return nil
}

func (f *fakeRuns) AddRunChange(_ context.Context, rc domain.RunChange) error {
	f.changes[rc.RunID] = append(f.changes[rc.RunID], rc)
	return nil
}

func (f *fakeRuns) ListRunDocuments(_ context.Context, runID string) ([]domain.RunDocument, error) {
	return f.docs[runID], nil
}

func (f *fakeRuns) ListRunChanges(_ context.Context, runID string) ([]domain.RunChange, error) {
	return f.changes[runID], nil
}

type fakeQueue struct {
	jobs  map[string]*domain.IngestJob
	depth map[domain.JobStatus]int
	err   error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string]*domain.IngestJob{}, depth: map[domain.JobStatus]int{}}
}

func (f *fakeQueue) Enqueue(_ context.Context, job domain.IngestJob) (*domain.IngestJob, bool, error) {
	key := job.Source + "/" + job.ExternalID
	if existing, ok := f.jobs[key]; ok {
		return existing, false, nil
	}
	job.Status = domain.JobQueued
	f.jobs[key] = &job
	return &job, true, nil
}

func (f *fakeQueue) Claim(context.Context, string) (*domain.IngestJob, error) { return nil, nil }
func (f *fakeQueue) Advance(context.Context, string, domain.JobStatus, *string) error {
	return nil
}
func (f *fakeQueue) Requeue(context.Context, string, string) error { return nil }
func (f *fakeQueue) Finish(context.Context, string, domain.JobStatus, *string) error {
	return nil
}
func (f *fakeQueue) ReapStuck(context.Context, time.Duration, int) (int, error) { return 0, nil }
func (f *fakeQueue) Depth(context.Context) (map[domain.JobStatus]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.depth, nil
}
func (f *fakeQueue) CountStuck(context.Context, time.Duration) (int, error) { return 0, nil }
func (f *fakeQueue) Get(context.Context, string) (*domain.IngestJob, error) {
	return nil, persistence.ErrNotFound
}

type fakeProber struct{}

func (fakeProber) NoWindowOverlap(context.Context) ([]string, error)            { return nil, nil }
func (fakeProber) SupersessionChainConsistent(context.Context) ([]int64, error) { return nil, nil }
func (fakeProber) EveryRowHasEvidence(context.Context) ([]int64, error)         { return nil, nil }

type fakeStats struct{}

func (fakeStats) RowCountsByProgram(context.Context) (map[string]int, error) {
	return map[string]int{domain.ProgramSection301: 42}, nil
}

type fakeCandidates struct {
	byID map[string]*domain.CandidateChange
}

func (f *fakeCandidates) Insert(_ context.Context, c domain.CandidateChange) error {
	f.byID[c.ID] = &c
	return nil
}

func (f *fakeCandidates) Get(_ context.Context, id string) (*domain.CandidateChange, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCandidates) List(_ context.Context, status domain.CandidateStatus, limit int) ([]domain.CandidateChange, error) {
	var out []domain.CandidateChange
	for _, c := range f.byID {
		if c.Status == status {
			out = append(out, *c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeCandidates) SetStatus(_ context.Context, id string, status domain.CandidateStatus, blockReason *string) error {
	c, ok := f.byID[id]
	if !ok {
		return persistence.ErrNotFound
	}
	c.Status = status
	c.BlockReason = blockReason
	return nil
}

func (f *fakeCandidates) UpdateFields(_ context.Context, id string, rate *float64, start *domain.Date, chapter99 *string) error {
	c, ok := f.byID[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if rate != nil {
		c.Rate = rate
	}
	if start != nil {
		c.EffectiveStart = *start
	}
	if chapter99 != nil {
		c.Chapter99 = *chapter99
	}
	return nil
}

type fakeEvidence struct{}

func (fakeEvidence) SaveDocument(context.Context, domain.OfficialDocument) error { return nil }
func (fakeEvidence) GetDocument(context.Context, string) (*domain.OfficialDocument, error) {
	return nil, persistence.ErrNotFound
}
func (fakeEvidence) FindDocument(context.Context, string, string) (*domain.OfficialDocument, error) {
	return nil, persistence.ErrNotFound
}
func (fakeEvidence) SaveChunks(context.Context, []domain.DocumentChunk) error { return nil }
func (fakeEvidence) GetChunk(context.Context, string) (*domain.DocumentChunk, error) {
	return nil, persistence.ErrNotFound
}
func (fakeEvidence) ListChunks(context.Context, string) ([]domain.DocumentChunk, error) {
	return nil, nil
}
func (fakeEvidence) SavePacket(context.Context, domain.EvidencePacket) error { return nil }
func (fakeEvidence) GetPacket(context.Context, string) (*domain.EvidencePacket, error) {
	return nil, persistence.ErrNotFound
}

type fakeCommitter struct {
	err error
}

func (f *fakeCommitter) CommitCandidate(context.Context, string, string) (*commit.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &commit.Result{RateRowID: 101}, nil
}

type stubWatcher struct {
	docs []domain.DiscoveredDocument
}

func (stubWatcher) Source() string { return domain.SourceFederalRegister }
func (s stubWatcher) Poll(context.Context, domain.Date) ([]domain.DiscoveredDocument, error) {
	return s.docs, nil
}

type testEnv struct {
	server     *httptest.Server
	evaluator  *fakeEvaluator
	processor  *fakeProcessor
	runs       *fakeRuns
	queue      *fakeQueue
	candidates *fakeCandidates
	committer  *fakeCommitter
	audit      *fakeAudit
	exclusions *fakeExclusions
}

type fakeExclusions struct {
	claims []domain.ExclusionClaim
}

func (f *fakeExclusions) Insert(_ context.Context, claim *domain.ExclusionClaim) error {
	claim.ID = int64(len(f.claims) + 1)
	f.claims = append(f.claims, *claim)
	return nil
}

func (f *fakeExclusions) ListByHTS(_ context.Context, hts8 string, asOf domain.Date) ([]domain.ExclusionClaim, error) {
	var out []domain.ExclusionClaim
	for _, c := range f.claims {
		if c.HTS8 == hts8 && (domain.Window{Start: c.Start, End: c.End}).Contains(asOf) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeExclusions) SetStatus(_ context.Context, id int64, status string) error {
	for i := range f.claims {
		if f.claims[i].ID == id {
			f.claims[i].Status = status
			return nil
		}
	}
	return persistence.ErrNotFound
}

type fakeAudit struct {
	entries []domain.AuditLogEntry
}

func (f *fakeAudit) Append(_ context.Context, e domain.AuditLogEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) List(_ context.Context, table string, since time.Time, limit int) ([]domain.AuditLogEntry, error) {
	var out []domain.AuditLogEntry
	for _, e := range f.entries {
		if table != "" && e.TableName != table {
			continue
		}
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	env := &testEnv{
		evaluator:  &fakeEvaluator{result: &domain.EvaluationResult{Applies: true, TotalDutyAmount: 2500}},
		processor:  &fakeProcessor{},
		runs:       newFakeRuns(),
		queue:      newFakeQueue(),
		candidates: &fakeCandidates{byID: map[string]*domain.CandidateChange{}},
		committer:  &fakeCommitter{},
		audit:      &fakeAudit{},
		exclusions: &fakeExclusions{},
	}

	fresh := freshness.NewService(env.runs, env.queue, fakeProber{}, fakeStats{}, freshness.DefaultThresholds(), logger)
	rev := review.NewService(env.candidates, fakeEvidence{}, env.committer, 48*time.Hour, logger)
	runner := watcher.NewRunner(env.runs, env.queue, nil, logger, stubWatcher{
		docs: []domain.DiscoveredDocument{{
			Source:      domain.SourceFederalRegister,
			ExternalID:  "2025-01234",
			URL:         "https://www.federalregister.gov/d/2025-01234",
			Title:       "Modification of Section 301 Action",
			PublishedOn: domain.MustDate("2025-06-01"),
			Tier:        domain.TierA,
		}},
	})

	handlers := NewHandlers(env.evaluator, fresh, rev, runner, env.processor, env.runs, env.audit, env.exclusions, logger)

	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		config:   DefaultServerConfig(),
		metrics:  metrics.NewSet(),
		logger:   logger,
	}
	s.setupRoutes()

	env.server = httptest.NewServer(s.router)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorCode(body map[string]any) string {
	env, _ := body["error"].(map[string]any)
	code, _ := env["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHealthUnavailableWhenStoreUnreachable(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = errors.New("dial tcp: connection refused")

	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["status"])
}

func TestEvaluate(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/evaluate", map[string]any{
		"hts_code":      "8544.42.90",
		"country":       "CN",
		"product_value": 10000,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["applies"])
	assert.Equal(t, 2500.0, body["total_duty_amount"])
	assert.Equal(t, "8544.42.90", env.evaluator.last.HTSCode)
}

func TestEvaluateMissingInput(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/evaluate", map[string]any{"country": "CN", "product_value": 100})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeMissingInput, errorCode(body))
}

func TestEvaluateMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/evaluate", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeMissingInput, errorCode(body))
}

func TestEvaluateInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.evaluator.err = errors.New("rate store unavailable")

	resp, body := env.post(t, "/evaluate", map[string]any{
		"hts_code": "8544.42.90", "country": "CN", "product_value": 100,
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, CodeInternal, errorCode(body))
}

func TestFreshnessReport(t *testing.T) {
	env := newTestEnv(t)

	// All sources unpolled: the report renders but the probe status is 503.
	resp, body := env.get(t, "/freshness")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, false, body["healthy"])
	assert.NotNil(t, body["sources"])
}

func TestTriggerWatcherAndGetRun(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/pipeline/trigger-watcher", map[string]any{
		"source": domain.SourceFederalRegister,
		"since":  "2025-06-01",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(domain.RunSucceeded), body["status"])
	assert.Equal(t, 1.0, body["docs_found"])
	runID, ok := body["id"].(string)
	require.True(t, ok)

	resp, body = env.get(t, "/runs/"+runID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docs, ok := body["documents"].([]any)
	require.True(t, ok)
	assert.Len(t, docs, 1)

	resp, body = env.get(t, "/runs?source="+domain.SourceFederalRegister)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs, ok := body["runs"].([]any)
	require.True(t, ok)
	assert.Len(t, runs, 1)
}

func TestTriggerWatcherUnknownSource(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/pipeline/trigger-watcher", map[string]any{"source": "gazette"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, CodeInternal, errorCode(body))
}

func TestTriggerWatcherMissingSource(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/pipeline/trigger-watcher", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeMissingInput, errorCode(body))
}

func TestGetRunNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/runs/no-such-run")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeNotFound, errorCode(body))
}

func pendingCandidate(id string) domain.CandidateChange {
	rate := 0.25
	return domain.CandidateChange{
		ID:               id,
		ProgramID:        domain.ProgramSection301,
		HTS8:             "85444290",
		Chapter99:        "9903.88.03",
		Rate:             &rate,
		Role:             domain.RoleImpose,
		EffectiveStart:   domain.MustDate("2025-07-01"),
		SourceDocumentID: "doc-1",
		EvidenceID:       "ev-1",
		DatasetTag:       "fedreg-2025",
		Status:           domain.CandidatePending,
		CreatedAt:        time.Now().Add(-2 * time.Hour),
	}
}

func TestReviewListAndApprove(t *testing.T) {
	env := newTestEnv(t)
	c := pendingCandidate("cand-1")
	env.candidates.byID[c.ID] = &c

	resp, body := env.get(t, "/needs-review")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items, ok := body["candidates"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)

	resp, body = env.post(t, "/needs-review/cand-1/approve", map[string]any{"actor": "analyst@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 101.0, body["rate_row_id"])

	// A second approve hits the non-pending guard.
	resp, body = env.post(t, "/needs-review/cand-1/approve", map[string]any{"actor": "analyst@example.com"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, CodeInvalidState, errorCode(body))
}

func TestReviewApproveRequiresActor(t *testing.T) {
	env := newTestEnv(t)
	c := pendingCandidate("cand-1")
	env.candidates.byID[c.ID] = &c

	resp, body := env.post(t, "/needs-review/cand-1/approve", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeMissingInput, errorCode(body))
}

func TestReviewApproveWithOverrides(t *testing.T) {
	env := newTestEnv(t)
	c := pendingCandidate("cand-1")
	env.candidates.byID[c.ID] = &c

	resp, _ := env.post(t, "/needs-review/cand-1/approve", map[string]any{
		"actor":     "analyst@example.com",
		"overrides": map[string]any{"duty_rate": 0.075, "effective_start": "2025-11-15"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored := env.candidates.byID["cand-1"]
	require.NotNil(t, stored.Rate)
	assert.Equal(t, 0.075, *stored.Rate)
	assert.Equal(t, "2025-11-15", stored.EffectiveStart.String())
}

func TestReviewReject(t *testing.T) {
	env := newTestEnv(t)
	c := pendingCandidate("cand-1")
	env.candidates.byID[c.ID] = &c

	resp, body := env.post(t, "/needs-review/cand-1/reject", map[string]any{"actor": "analyst@example.com"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, CodeInvalidState, errorCode(body))

	resp, body = env.post(t, "/needs-review/cand-1/reject", map[string]any{
		"actor":  "analyst@example.com",
		"reason": "rate does not match the notice text",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, domain.CandidateRejected, env.candidates.byID["cand-1"].Status)
}

func TestReviewGetNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/needs-review/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeNotFound, errorCode(body))
}

func TestProcessQueueDrains(t *testing.T) {
	env := newTestEnv(t)
	env.processor.remaining = 3

	resp, body := env.post(t, "/pipeline/process-queue", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3.0, body["processed"])
	assert.Equal(t, 3, env.processor.processed)
}

func TestAuditLogFilters(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	env.audit.entries = []domain.AuditLogEntry{
		{ID: 1, TableName: "rate_rows", RowID: "7", Action: domain.AuditInsert, Actor: "pipeline", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: 2, TableName: "rate_rows", RowID: "8", Action: domain.AuditSupersede, Actor: "pipeline", CreatedAt: now},
		{ID: 3, TableName: "candidate_changes", RowID: "cand-1", Action: domain.AuditUpdate, Actor: "analyst", CreatedAt: now},
	}

	resp, body := env.get(t, "/audit-log?table=rate_rows&since="+now.Add(-time.Hour).Format("2006-01-02"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 1)

	resp, body = env.get(t, "/audit-log?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeMissingInput, errorCode(body))
}

// The exclusion list filters by HTS-8 and as-of date; claims outside their
// window drop out, and hts is mandatory.
func TestListExclusions(t *testing.T) {
	env := newTestEnv(t)
	end := domain.MustDate("2025-08-31")
	env.exclusions.claims = []domain.ExclusionClaim{
		{ID: 1, HTS8: "84733051", Description: "ADP machine parts", ClaimCode: "9903.88.69",
			Status: domain.ExclusionCandidate, Start: domain.MustDate("2023-10-02"), End: &end},
	}

	resp, body := env.get(t, "/exclusions?hts=8473.30.51&date=2024-10-01")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claims, ok := body["claims"].([]any)
	require.True(t, ok)
	require.Len(t, claims, 1)
	first, ok := claims[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "9903.88.69", first["claim_code"])
	assert.Equal(t, domain.ExclusionCandidate, first["status"])

	// Past the claim's window.
	resp, body = env.get(t, "/exclusions?hts=84733051&date=2025-09-15")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["claims"])

	resp, body = env.get(t, "/exclusions")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeMissingInput, errorCode(body))
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/no/such/route")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeNotFound, errorCode(body))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
