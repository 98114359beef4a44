package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/freshness"
	"github.com/luv91/tariffstack/internal/metrics"
	"github.com/luv91/tariffstack/internal/persistence"
	"github.com/luv91/tariffstack/internal/review"
	"github.com/luv91/tariffstack/internal/watcher"
)

// Evaluator is the duty-evaluation entry point the /evaluate handler calls.
type Evaluator interface {
	Evaluate(ctx context.Context, in domain.EvaluationInput) (*domain.EvaluationResult, error)
}

// QueueProcessor drains claimed jobs one at a time; ProcessOne reports
// whether a job was available.
type QueueProcessor interface {
	ProcessOne(ctx context.Context) (bool, error)
}

// Handlers holds the service dependencies for every route. Optional
// dependencies may be nil; their routes answer 503.
type Handlers struct {
	evaluator Evaluator
	freshness *freshness.Service
	review    *review.Service
	runner    *watcher.Runner
	processor  QueueProcessor
	runs       persistence.RunRepo
	audit      persistence.AuditRepo
	exclusions persistence.ExclusionRepo
	metrics    *metrics.Set
	logger     zerolog.Logger
}

// SetMetrics lets the freshness report include counter totals. Optional.
func (h *Handlers) SetMetrics(m *metrics.Set) { h.metrics = m }

// NewHandlers wires the handler set.
func NewHandlers(
	evaluator Evaluator,
	fresh *freshness.Service,
	rev *review.Service,
	runner *watcher.Runner,
	processor QueueProcessor,
	runs persistence.RunRepo,
	audit persistence.AuditRepo,
	exclusions persistence.ExclusionRepo,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		evaluator:  evaluator,
		freshness:  fresh,
		review:     rev,
		runner:     runner,
		processor:  processor,
		runs:       runs,
		audit:      audit,
		exclusions: exclusions,
		logger:     logger.With().Str("component", "handlers").Logger(),
	}
}

// Health reports process liveness: can we reach the database at all.
// Staleness is reported on /freshness, never here.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.freshness != nil {
		if err := h.freshness.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"cause":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Freshness returns the full operational report: per-source staleness,
// queue depth, stuck jobs, invariant probes, row counts.
func (h *Handlers) Freshness(w http.ResponseWriter, r *http.Request) {
	if h.freshness == nil {
		writeErrorCode(w, http.StatusServiceUnavailable, CodeInternal, "freshness service not configured")
		return
	}
	report, err := h.freshness.Report(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if h.metrics != nil {
		if totals, err := h.metrics.CounterTotals(); err == nil {
			report.Activity = totals
		}
	}
	status := http.StatusOK
	if !report.Healthy {
		// The report itself still renders; the status code is for probes.
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Evaluate runs the stacking evaluator on one entry line.
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var in domain.EvaluationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	result, err := h.evaluator.Evaluate(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListRuns returns recent watcher runs, optionally filtered by ?source=.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	runs, err := h.runs.ListRuns(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun returns one run with its discovered documents and committed changes.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	run, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := h.runs.ListRunDocuments(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	changes, err := h.runs.ListRunChanges(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":       run,
		"documents": docs,
		"changes":   changes,
	})
}

// ListReview lists review-queue candidates, pending by default.
func (h *Handlers) ListReview(w http.ResponseWriter, r *http.Request) {
	status := domain.CandidateStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 100)
	items, err := h.review.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": items})
}

// GetReview returns one candidate joined with its evidence packet, source
// chunk, and document metadata.
func (h *Handlers) GetReview(w http.ResponseWriter, r *http.Request) {
	detail, err := h.review.Inspect(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type approveRequest struct {
	Actor     string           `json:"actor"`
	Overrides review.Overrides `json:"overrides"`
}

// ApproveReview approves a pending candidate, applying any field overrides,
// then commits it through the normal gate.
func (h *Handlers) ApproveReview(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if req.Actor == "" {
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, "actor is required")
		return
	}
	result, err := h.review.Approve(r.Context(), mux.Vars(r)["id"], req.Actor, req.Overrides)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type rejectRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// RejectReview rejects a pending candidate with a mandatory reason.
func (h *Handlers) RejectReview(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if req.Actor == "" {
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, "actor is required")
		return
	}
	if err := h.review.Reject(r.Context(), mux.Vars(r)["id"], req.Actor, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// AuditLog queries the append-only audit log: ?table=, ?since= (RFC 3339 or
// date), ?limit=.
func (h *Handlers) AuditLog(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := parseSince(raw)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, fmt.Sprintf("bad since value %q: %v", raw, err))
			return
		}
		since = parsed
	}
	limit := queryInt(r, "limit", 100)
	entries, err := h.audit.List(r.Context(), r.URL.Query().Get("table"), since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type triggerRequest struct {
	Source string `json:"source"`
	Since  string `json:"since,omitempty"`
}

// TriggerWatcher runs one watcher poll immediately, outside the schedule.
func (h *Handlers) TriggerWatcher(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if req.Source == "" {
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, "source is required")
		return
	}
	since := domain.Today().AddDays(-3)
	if req.Since != "" {
		parsed, err := domain.ParseDate(req.Since)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, fmt.Sprintf("bad since value %q: %v", req.Since, err))
			return
		}
		since = parsed
	}
	run, err := h.runner.RunOnce(r.Context(), req.Source, since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ProcessQueue drains queued ingest jobs until the queue is empty or the
// request deadline approaches, then reports how many were processed.
func (h *Handlers) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	processed := 0
	for {
		if err := r.Context().Err(); err != nil {
			break
		}
		ok, err := h.processor.ProcessOne(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			break
		}
		processed++
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

// ListExclusions returns the advisory Section 301 exclusion claims for an
// HTS-8 in scope on ?date= (today when omitted). The external verification
// collaborator reads this list to settle claim statuses.
func (h *Handlers) ListExclusions(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("hts")
	if raw == "" {
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, "hts is required")
		return
	}
	hts8, _, ok := domain.NormalizeHTS(raw)
	if !ok {
		writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, fmt.Sprintf("bad hts value %q", raw))
		return
	}
	asOf := domain.Today()
	if rawDate := r.URL.Query().Get("date"); rawDate != "" {
		parsed, err := domain.ParseDate(rawDate)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, CodeMissingInput, fmt.Sprintf("bad date value %q: %v", rawDate, err))
			return
		}
		asOf = parsed
	}
	claims, err := h.exclusions.ListByHTS(r.Context(), hts8, asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

// NotFound answers unknown paths in the same envelope the rest of the API uses.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorCode(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("no such route: %s %s", r.Method, r.URL.Path))
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
