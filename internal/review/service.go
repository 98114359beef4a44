// Package review is the human approval surface for candidate changes that
// failed a gate or need operator sign-off. Approvals route to the commit
// engine; rejections stay on record for audit.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/luv91/tariffstack/internal/commit"
	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

var (
	// ErrNotPending is returned when approving or rejecting a candidate
	// that already left the pending state.
	ErrNotPending = errors.New("candidate is not pending")
	// ErrMissingReason is returned when a rejection carries no reason.
	ErrMissingReason = errors.New("rejection requires a reason")
)

// Committer is the commit-engine surface the review service drives.
type Committer interface {
	CommitCandidate(ctx context.Context, candidateID, actor string) (*commit.Result, error)
}

// Item is a queue entry joined with how long it has been waiting.
type Item struct {
	Candidate domain.CandidateChange `json:"candidate"`
	WaitingH  float64                `json:"waiting_hours"`
	// BreachedSLA flags entries older than the configured review SLA.
	BreachedSLA bool `json:"breached_sla"`
}

// Detail is the inspect view: the candidate plus the evidence trail an
// operator needs to judge it.
type Detail struct {
	Candidate domain.CandidateChange   `json:"candidate"`
	Packet    *domain.EvidencePacket   `json:"evidence_packet,omitempty"`
	Document  *domain.OfficialDocument `json:"document,omitempty"`
	Chunk     *domain.DocumentChunk    `json:"chunk,omitempty"`
}

// Overrides are the fields an operator may correct at approval time.
type Overrides struct {
	Rate           *float64     `json:"duty_rate,omitempty"`
	EffectiveStart *domain.Date `json:"effective_start,omitempty"`
	Chapter99      *string      `json:"chapter_99_code,omitempty"`
}

func (o Overrides) empty() bool {
	return o.Rate == nil && o.EffectiveStart == nil && o.Chapter99 == nil
}

// Service exposes list, inspect, approve, and reject over the review queue.
type Service struct {
	candidates persistence.ReviewRepo
	evidence   persistence.EvidenceRepo
	committer  Committer
	slaBound   time.Duration
	logger     zerolog.Logger
}

func NewService(candidates persistence.ReviewRepo, evidence persistence.EvidenceRepo, committer Committer, slaBound time.Duration, logger zerolog.Logger) *Service {
	if slaBound <= 0 {
		slaBound = 48 * time.Hour
	}
	return &Service{
		candidates: candidates,
		evidence:   evidence,
		committer:  committer,
		slaBound:   slaBound,
		logger:     logger.With().Str("component", "review").Logger(),
	}
}

// List returns queue entries for a status (default pending), oldest first on
// the repo side, annotated with waiting time against the SLA.
func (s *Service) List(ctx context.Context, status domain.CandidateStatus, limit int) ([]Item, error) {
	if status == "" {
		status = domain.CandidatePending
	}
	candidates, err := s.candidates.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	now := time.Now()
	items := make([]Item, 0, len(candidates))
	for _, c := range candidates {
		waiting := now.Sub(c.CreatedAt)
		items = append(items, Item{
			Candidate:   c,
			WaitingH:    waiting.Hours(),
			BreachedSLA: waiting > s.slaBound,
		})
	}
	return items, nil
}

// Inspect returns the candidate with its evidence packet, source document,
// and cited chunk. A missing packet is not an error: gate-failed candidates
// may predate packet creation.
func (s *Service) Inspect(ctx context.Context, candidateID string) (*Detail, error) {
	c, err := s.candidates.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	detail := &Detail{Candidate: *c}

	if c.EvidenceID != "" {
		if pkt, err := s.evidence.GetPacket(ctx, c.EvidenceID); err == nil {
			detail.Packet = pkt
			if chunk, err := s.evidence.GetChunk(ctx, pkt.ChunkID); err == nil {
				detail.Chunk = chunk
			}
		}
	}
	if c.SourceDocumentID != "" {
		if doc, err := s.evidence.GetDocument(ctx, c.SourceDocumentID); err == nil {
			doc.RawBytes = nil // inspect view does not need megabytes of XML
			detail.Document = doc
		}
	}
	return detail, nil
}

// Approve applies any operator overrides, marks the candidate approved, and
// drives it through the commit engine. The commit still re-verifies
// provenance and windows; approval is not a bypass.
func (s *Service) Approve(ctx context.Context, candidateID, actor string, overrides Overrides) (*commit.Result, error) {
	c, err := s.candidates.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CandidatePending {
		return nil, fmt.Errorf("%w: status is %s", ErrNotPending, c.Status)
	}

	if !overrides.empty() {
		if err := s.candidates.UpdateFields(ctx, candidateID, overrides.Rate, overrides.EffectiveStart, overrides.Chapter99); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}
	if err := s.candidates.SetStatus(ctx, candidateID, domain.CandidateApproved, nil); err != nil {
		return nil, fmt.Errorf("approve candidate: %w", err)
	}

	result, err := s.committer.CommitCandidate(ctx, candidateID, actor)
	if err != nil {
		s.logger.Error().Err(err).Str("candidate_id", candidateID).Str("actor", actor).
			Msg("commit after approval failed")
		return nil, err
	}
	s.logger.Info().Str("candidate_id", candidateID).Str("actor", actor).
		Int64("rate_row_id", result.RateRowID).Msg("candidate approved and committed")
	return result, nil
}

// Reject marks a pending candidate rejected with the operator's reason. The
// row stays in the table for audit; it never reaches the rate store.
func (s *Service) Reject(ctx context.Context, candidateID, actor, reason string) error {
	if reason == "" {
		return ErrMissingReason
	}
	c, err := s.candidates.Get(ctx, candidateID)
	if err != nil {
		return err
	}
	if c.Status != domain.CandidatePending {
		return fmt.Errorf("%w: status is %s", ErrNotPending, c.Status)
	}
	if err := s.candidates.SetStatus(ctx, candidateID, domain.CandidateRejected, &reason); err != nil {
		return fmt.Errorf("reject candidate: %w", err)
	}
	s.logger.Info().Str("candidate_id", candidateID).Str("actor", actor).
		Str("reason", reason).Msg("candidate rejected")
	return nil
}
