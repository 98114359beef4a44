package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

// WriteGate runs the mechanical checks that stand between extraction and the
// rate store, independent of any reasoning step:
//  1. the source document exists and is tier A;
//  2. the cited chunk exists;
//  3. the quote is an exact substring of the chunk text;
//  4. the validator verdict is pass;
//  5. a corroborating source exists when the verdict carries a warning.
//
// Any failure routes the candidate to the review queue instead of committing.
type WriteGate struct {
	evidence persistence.EvidenceRepo
}

// NewWriteGate builds the gate over the evidence store.
func NewWriteGate(evidence persistence.EvidenceRepo) *WriteGate {
	return &WriteGate{evidence: evidence}
}

// Check returns the list of failed checks; an empty list means the gate
// passed.
func (g *WriteGate) Check(ctx context.Context, ext Extraction, verdict Verdict) ([]string, error) {
	var failures []string

	doc, err := g.evidence.GetDocument(ctx, ext.Candidate.SourceDocumentID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load source document: %w", err)
	}
	switch {
	case doc == nil:
		failures = append(failures, "source document not found")
	case doc.Tier != domain.TierA:
		failures = append(failures, fmt.Sprintf("source document tier %s is not binding", doc.Tier))
	}

	chunk, err := g.evidence.GetChunk(ctx, ext.ChunkID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load cited chunk: %w", err)
	}
	if chunk == nil {
		failures = append(failures, "cited chunk not found")
	} else if ext.Quote == "" || !containsQuote(chunk.Text, ext.Quote) {
		failures = append(failures, "quote is not an exact substring of the chunk")
	}

	if !verdict.Pass {
		for _, r := range verdict.Reasons {
			failures = append(failures, "validator: "+r)
		}
	}

	if verdict.Warning && doc != nil {
		corroborated, err := g.corroborated(ctx, doc)
		if err != nil {
			return nil, err
		}
		if !corroborated {
			failures = append(failures, "warning set and no corroborating source found")
		}
	}
	return failures, nil
}

// corroborated looks for a second document from a different source covering
// the same external notice.
func (g *WriteGate) corroborated(ctx context.Context, doc *domain.OfficialDocument) (bool, error) {
	for _, source := range []string{
		domain.SourceFederalRegister, domain.SourceCBPCSMS, domain.SourceUSITC,
	} {
		if source == doc.Source {
			continue
		}
		other, err := g.evidence.FindDocument(ctx, source, doc.ExternalID)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return false, fmt.Errorf("corroboration lookup: %w", err)
		}
		if other != nil {
			return true, nil
		}
	}
	return false, nil
}

func containsQuote(chunkText, quote string) bool {
	pkt := domain.EvidencePacket{Quote: quote}
	return pkt.QuoteInChunk(domain.DocumentChunk{Text: chunkText})
}
