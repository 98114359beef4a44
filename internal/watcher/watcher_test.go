package watcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

func TestFederalRegisterPoll(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		rw.Header().Set("Content-Type", "application/json")
		fmt.Fprint(rw, `{
			"count": 2,
			"results": [
				{"document_number": "2025-12345", "title": "Notice of Modification of Action",
				 "html_url": "https://www.federalregister.gov/d/2025-12345",
				 "full_text_xml_url": "https://www.govinfo.gov/2025-12345.xml",
				 "publication_date": "2025-08-01"},
				{"document_number": "2025-12399", "title": "Adjusting Imports of Copper",
				 "html_url": "https://www.federalregister.gov/d/2025-12399",
				 "publication_date": "2025-08-05"}
			]
		}`)
	}))
	defer server.Close()

	w := NewFederalRegister(server.Client())
	w.baseURL = server.URL

	docs, err := w.Poll(context.Background(), domain.MustDate("2025-07-30"))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Contains(t, gotQuery, "publication_date")
	assert.Contains(t, gotQuery, "2025-07-30")

	assert.Equal(t, domain.SourceFederalRegister, docs[0].Source)
	assert.Equal(t, "2025-12345", docs[0].ExternalID)
	assert.Equal(t, "https://www.govinfo.gov/2025-12345.xml", docs[0].URL, "prefers full-text XML")
	assert.Equal(t, domain.TierA, docs[0].Tier)
	assert.Equal(t, "2025-08-01", docs[0].PublishedOn.String())

	assert.Equal(t, "https://www.federalregister.gov/d/2025-12399", docs[1].URL, "falls back to html_url")
}

func TestFederalRegisterFollowsPagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(rw, `{"count": 2, "results": [
				{"document_number": "B", "html_url": "https://x/b", "publication_date": "2025-08-02"}]}`)
			return
		}
		fmt.Fprintf(rw, `{"count": 2, "next_page_url": %q, "results": [
			{"document_number": "A", "html_url": "https://x/a", "publication_date": "2025-08-01"}]}`,
			server.URL+"/?page=2")
	}))
	defer server.Close()

	w := NewFederalRegister(server.Client())
	w.baseURL = server.URL

	docs, err := w.Poll(context.Background(), domain.MustDate("2025-07-30"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "A", docs[0].ExternalID)
	assert.Equal(t, "B", docs[1].ExternalID)
}

func TestCSMSParseArchive(t *testing.T) {
	html := `<div class="bulletin">
	<a href="/accounts/USDHSCBP/bulletins/3abc123">CSMS # 64018403 - GUIDANCE: Section 232 Copper Duties</a>
	<span class="date">08/01/2025</span>
	</div>
	<div class="bulletin">
	<a href="/accounts/USDHSCBP/bulletins/3abc124">CSMS # 64018404 - ACE Outage This Weekend</a>
	<span class="date">08/02/2025</span>
	</div>
	<div class="bulletin">
	<a href="/accounts/USDHSCBP/bulletins/3abc125">CSMS # 64018300 - Reciprocal Tariff Update</a>
	<span class="date">06/15/2025</span>
	</div>`

	docs := (&CBPCSMS{}).parseArchive(html, domain.MustDate("2025-07-01"))
	require.Len(t, docs, 1, "outage bulletin filtered by keyword, old bulletin by date")
	assert.Equal(t, "64018403", docs[0].ExternalID)
	assert.Equal(t, "GUIDANCE: Section 232 Copper Duties", docs[0].Title)
	assert.Equal(t, "https://content.govdelivery.com/accounts/USDHSCBP/bulletins/3abc123", docs[0].URL)
	assert.Equal(t, domain.TierB, docs[0].Tier)
	assert.Equal(t, "2025-08-01", docs[0].PublishedOn.String())
}

func TestUSITCPoll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		fmt.Fprint(rw, `[
			{"id": "2025HTSRev19", "name": "2025 HTS Revision 19",
			 "releaseDate": "2025-08-07", "jsonUrl": "https://hts.usitc.gov/rev19.json"},
			{"id": "2024HTSBasic", "name": "2024 Basic Edition",
			 "releaseDate": "2024-01-01", "csvUrl": "https://hts.usitc.gov/2024.csv"}
		]`)
	}))
	defer server.Close()

	w := NewUSITC(server.Client())
	w.baseURL = server.URL

	docs, err := w.Poll(context.Background(), domain.MustDate("2025-01-01"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2025HTSRev19", docs[0].ExternalID)
	assert.Equal(t, "https://hts.usitc.gov/rev19.json", docs[0].URL)
	assert.Equal(t, domain.TierA, docs[0].Tier)
}

// --- fakes -----------------------------------------------------------------

type fakeRunRepo struct {
	mu      sync.Mutex
	runs    map[string]*domain.RegulatoryRun
	runDocs []domain.RunDocument
	changes []domain.RunChange
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: map[string]*domain.RegulatoryRun{}}
}

func (f *fakeRunRepo) CreateRun(_ context.Context, run domain.RegulatoryRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeRunRepo) FinishRun(_ context.Context, runID string, status domain.RunStatus, docsFound, jobsCreated int, cause *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return persistence.ErrNotFound
	}
	now := time.Now()
	r.Status = status
	r.DocsFound = docsFound
	r.JobsCreated = jobsCreated
	r.Error = cause
	r.FinishedAt = &now
	return nil
}

func (f *fakeRunRepo) GetRun(_ context.Context, runID string) (*domain.RegulatoryRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[runID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, persistence.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(_ context.Context, source string, _ int) ([]domain.RegulatoryRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RegulatoryRun
	for _, r := range f.runs {
		if source == "" || r.Source == source {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) LastSuccess(_ context.Context) (map[string]time.Time, error) {
	return map[string]time.Time{}, nil
}

func (f *fakeRunRepo) AddRunDocument(_ context.Context, rd domain.RunDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runDocs = append(f.runDocs, rd)
	return nil
}

func (f *fakeRunRepo) AddRunChange(_ context.Context, rc domain.RunChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, rc)
	return nil
}

func (f *fakeRunRepo) ListRunDocuments(_ context.Context, runID string) ([]domain.RunDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RunDocument
	for _, rd := range f.runDocs {
		if rd.RunID == runID {
			out = append(out, rd)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) ListRunChanges(_ context.Context, runID string) ([]domain.RunChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RunChange
	for _, rc := range f.changes {
		if rc.RunID == runID {
			out = append(out, rc)
		}
	}
	return out, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs map[string]domain.IngestJob // keyed by source/external_id
}

func newFakeQueue() *fakeQueue { return &fakeQueue{jobs: map[string]domain.IngestJob{}} }

func (f *fakeQueue) Enqueue(_ context.Context, job domain.IngestJob) (*domain.IngestJob, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := job.Source + "/" + job.ExternalID
	if existing, ok := f.jobs[key]; ok {
		return &existing, false, nil
	}
	job.Status = domain.JobQueued
	f.jobs[key] = job
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
func (f *fakeQueue) CountStuck(context.Context, time.Duration) (int, error)     { return 0, nil }
func (f *fakeQueue) Depth(context.Context) (map[domain.JobStatus]int, error) {
	return nil, nil
}
func (f *fakeQueue) Get(context.Context, string) (*domain.IngestJob, error) {
	return nil, persistence.ErrNotFound
}

type stubWatcher struct {
	source string
	docs   []domain.DiscoveredDocument
	err    error
	polls  int
}

func (s *stubWatcher) Source() string { return s.source }

func (s *stubWatcher) Poll(context.Context, domain.Date) ([]domain.DiscoveredDocument, error) {
	s.polls++
	return s.docs, s.err
}

// --- runner ----------------------------------------------------------------

func TestRunnerRecordsRunAndEnqueues(t *testing.T) {
	runs := newFakeRunRepo()
	queue := newFakeQueue()
	dir := t.TempDir()

	stub := &stubWatcher{
		source: domain.SourceFederalRegister,
		docs: []domain.DiscoveredDocument{
			{Source: domain.SourceFederalRegister, ExternalID: "2025-001", URL: "https://www.federalregister.gov/a", Tier: domain.TierA},
			{Source: domain.SourceFederalRegister, ExternalID: "2025-002", URL: "https://www.federalregister.gov/b", Tier: domain.TierA},
		},
	}
	r := NewRunner(runs, queue, NewManifestWriter(dir, runs), zerolog.Nop(), stub)

	run, err := r.RunOnce(context.Background(), domain.SourceFederalRegister, domain.MustDate("2025-08-01"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.Equal(t, 2, run.DocsFound)
	assert.Equal(t, 2, run.JobsCreated)

	stored, err := runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, stored.Status)
	require.NotNil(t, stored.FinishedAt)

	runDocs, err := runs.ListRunDocuments(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, runDocs, 2)

	matches, err := filepath.Glob(filepath.Join(dir, domain.SourceFederalRegister, "run_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), run.ID)
	assert.Contains(t, string(data), "2025-001")
}

func TestRunnerDeduplicatesKnownDocuments(t *testing.T) {
	runs := newFakeRunRepo()
	queue := newFakeQueue()
	stub := &stubWatcher{
		source: domain.SourceUSITC,
		docs: []domain.DiscoveredDocument{
			{Source: domain.SourceUSITC, ExternalID: "rev19", URL: "https://hts.usitc.gov/rev19.json"},
		},
	}
	r := NewRunner(runs, queue, nil, zerolog.Nop(), stub)

	first, err := r.RunOnce(context.Background(), domain.SourceUSITC, domain.MustDate("2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.JobsCreated)

	second, err := r.RunOnce(context.Background(), domain.SourceUSITC, domain.MustDate("2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, second.DocsFound)
	assert.Equal(t, 0, second.JobsCreated, "already-enqueued document is not re-created")
}

func TestRunnerRecordsFailedRun(t *testing.T) {
	runs := newFakeRunRepo()
	stub := &stubWatcher{source: domain.SourceCBPCSMS, err: errors.New("archive unreachable")}
	r := NewRunner(runs, newFakeQueue(), nil, zerolog.Nop(), stub)

	_, err := r.RunOnce(context.Background(), domain.SourceCBPCSMS, domain.MustDate("2025-08-01"))
	require.Error(t, err)

	all, err := runs.ListRuns(context.Background(), domain.SourceCBPCSMS, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.RunFailed, all[0].Status)
	require.NotNil(t, all[0].Error)
	assert.Contains(t, *all[0].Error, "archive unreachable")
}

func TestRunnerUnknownSource(t *testing.T) {
	r := NewRunner(newFakeRunRepo(), newFakeQueue(), nil, zerolog.Nop())
	_, err := r.RunOnce(context.Background(), "nonexistent", domain.Today())
	require.Error(t, err)
}

func TestSchedulerRunsDueJobs(t *testing.T) {
	runs := newFakeRunRepo()
	stub := &stubWatcher{source: domain.SourceFederalRegister}
	runner := NewRunner(runs, newFakeQueue(), nil, zerolog.Nop(), stub)

	cfg := DefaultScheduleConfig()
	cfg.Jobs = cfg.Jobs[:1] // fedreg only
	s := NewScheduler(cfg, runner, zerolog.Nop())

	result := s.RunJob(context.Background(), cfg.Jobs[0])
	assert.True(t, result.Success)
	assert.Equal(t, 1, stub.polls)

	// Within the interval, a tick does not re-run the job.
	s.tick(context.Background())
	assert.Equal(t, 1, stub.polls)

	status := s.Status()
	assert.Equal(t, 1, status.EnabledJobs)
	require.Len(t, status.LastResults, 1)
	assert.Equal(t, "fedreg-daily", status.LastResults[0].JobName)
}

func TestLoadScheduleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jobs:
  - name: fedreg-hourly
    source: federal_register
    interval: 1h
    enabled: true
global:
  artifacts_dir: /tmp/runs
`), 0o644))

	cfg, err := LoadScheduleConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, "1h", cfg.Jobs[0].Interval)
	assert.Equal(t, 3, cfg.Jobs[0].LookbackDays)
	assert.Equal(t, "/tmp/runs", cfg.Global.ArtifactsDir)
	assert.Equal(t, "1m", cfg.Global.CheckEvery)

	_, err = LoadScheduleConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
