package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/persistence"
)

// evidenceRepo stores documents, chunks, and evidence packets.
type evidenceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEvidenceRepo creates a PostgreSQL evidence store.
func NewEvidenceRepo(db *sqlx.DB, timeout time.Duration) persistence.EvidenceRepo {
	return &evidenceRepo{db: db, timeout: timeout}
}

// SaveDocument inserts an immutable document. Re-saving the same
// (source, external_id) is rejected as a duplicate.
func (r *evidenceRepo) SaveDocument(ctx context.Context, doc domain.OfficialDocument) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO official_documents
			(id, source, external_id, tier, canonical_url, published_on,
			 fetched_at, raw_sha256, raw_bytes, content_type, canonical_text, line_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Source, doc.ExternalID, doc.Tier, doc.CanonicalURL,
		doc.PublishedOn, doc.FetchedAt, doc.RawSHA256, doc.RawBytes,
		doc.ContentType, doc.CanonicalText, doc.LineCount)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate document %s/%s: %w", doc.Source, doc.ExternalID, err)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *evidenceRepo) GetDocument(ctx context.Context, id string) (*domain.OfficialDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.getDocument(ctx, `WHERE id = $1`, id)
}

func (r *evidenceRepo) FindDocument(ctx context.Context, source, externalID string) (*domain.OfficialDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.getDocument(ctx, `WHERE source = $1 AND external_id = $2`, source, externalID)
}

func (r *evidenceRepo) getDocument(ctx context.Context, where string, args ...interface{}) (*domain.OfficialDocument, error) {
	query := `
		SELECT id, source, external_id, tier, canonical_url, published_on,
		       fetched_at, raw_sha256, raw_bytes, content_type, canonical_text, line_count
		FROM official_documents ` + where

	var doc domain.OfficialDocument
	err := r.db.QueryRowxContext(ctx, query, args...).Scan(
		&doc.ID, &doc.Source, &doc.ExternalID, &doc.Tier, &doc.CanonicalURL,
		&doc.PublishedOn, &doc.FetchedAt, &doc.RawSHA256, &doc.RawBytes,
		&doc.ContentType, &doc.CanonicalText, &doc.LineCount)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return &doc, nil
}

// SaveChunks appends a document's chunks in one transaction.
func (r *evidenceRepo) SaveChunks(ctx context.Context, chunks []domain.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks
			(id, document_id, ordinal, char_start, char_end, text, chunk_type, embedding_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Ordinal,
			c.CharStart, c.CharEnd, c.Text, c.Type, c.EmbeddingKey); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (r *evidenceRepo) GetChunk(ctx context.Context, id string) (*domain.DocumentChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, document_id, ordinal, char_start, char_end, text, chunk_type, embedding_key
		FROM document_chunks WHERE id = $1`

	var c domain.DocumentChunk
	err := r.db.QueryRowxContext(ctx, query, id).Scan(
		&c.ID, &c.DocumentID, &c.Ordinal, &c.CharStart, &c.CharEnd,
		&c.Text, &c.Type, &c.EmbeddingKey)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}
	return &c, nil
}

func (r *evidenceRepo) ListChunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, document_id, ordinal, char_start, char_end, text, chunk_type, embedding_key
		FROM document_chunks WHERE document_id = $1 ORDER BY ordinal ASC`

	rows, err := r.db.QueryxContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.DocumentChunk
	for rows.Next() {
		var c domain.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.CharStart,
			&c.CharEnd, &c.Text, &c.Type, &c.EmbeddingKey); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SavePacket appends an evidence packet.
func (r *evidenceRepo) SavePacket(ctx context.Context, pkt domain.EvidencePacket) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reasons, err := json.Marshal(pkt.FailureReasons)
	if err != nil {
		return fmt.Errorf("failed to marshal failure reasons: %w", err)
	}

	query := `
		INSERT INTO evidence_packets
			(id, document_id, chunk_id, quote, quote_sha256, reader_output,
			 validator_output, write_gate_passed, failure_reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := r.db.ExecContext(ctx, query, pkt.ID, pkt.DocumentID, pkt.ChunkID,
		pkt.Quote, pkt.QuoteSHA256, pkt.ReaderOutput, pkt.ValidatorOutput,
		pkt.WriteGatePassed, reasons, pkt.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert evidence packet: %w", err)
	}
	return nil
}

func (r *evidenceRepo) GetPacket(ctx context.Context, id string) (*domain.EvidencePacket, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, document_id, chunk_id, quote, quote_sha256, reader_output,
		       validator_output, write_gate_passed, failure_reasons, created_at
		FROM evidence_packets WHERE id = $1`

	var (
		pkt     domain.EvidencePacket
		reasons []byte
	)
	err := r.db.QueryRowxContext(ctx, query, id).Scan(
		&pkt.ID, &pkt.DocumentID, &pkt.ChunkID, &pkt.Quote, &pkt.QuoteSHA256,
		&pkt.ReaderOutput, &pkt.ValidatorOutput, &pkt.WriteGatePassed,
		&reasons, &pkt.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence packet: %w", err)
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &pkt.FailureReasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failure reasons: %w", err)
		}
	}
	return &pkt, nil
}
