package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SourceTier ranks how much weight a document source carries. Only tier-A
// documents may back committed rate rows.
type SourceTier string

const (
	TierA SourceTier = "A" // binding / authoritative (Federal Register)
	TierB SourceTier = "B" // signal (CBP CSMS)
	TierC SourceTier = "C" // discovery hint
)

// Watcher source identifiers.
const (
	SourceFederalRegister = "federal_register"
	SourceCBPCSMS         = "cbp_csms"
	SourceUSITC           = "usitc"
	SourceSeed            = "seed" // synthetic tier-A source for catalog seeds
)

// OfficialDocument is an immutable fetched document. RawSHA256 is the hash of
// the raw bytes; CanonicalText is the rendered, line-numbered text all
// evidence quotes point into.
type OfficialDocument struct {
	ID            string     `json:"id" db:"id"`
	Source        string     `json:"source" db:"source"`
	ExternalID    string     `json:"external_id" db:"external_id"`
	Tier          SourceTier `json:"tier" db:"tier"`
	CanonicalURL  string     `json:"canonical_url" db:"canonical_url"`
	PublishedOn   Date       `json:"published_on" db:"published_on"`
	FetchedAt     time.Time  `json:"fetched_at" db:"fetched_at"`
	RawSHA256     string     `json:"raw_sha256" db:"raw_sha256"`
	RawBytes      []byte     `json:"-" db:"raw_bytes"`
	ContentType   string     `json:"content_type" db:"content_type"`
	CanonicalText string     `json:"canonical_text" db:"canonical_text"`
	LineCount     int        `json:"line_count" db:"line_count"`
}

// HashBytes returns the hex SHA-256 of raw document bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ChunkType labels what a chunk contains.
type ChunkType string

const (
	ChunkNarrative ChunkType = "narrative"
	ChunkTable     ChunkType = "table"
	ChunkHeading   ChunkType = "heading"
)

// DocumentChunk is one ordered slice of a document's canonical text.
type DocumentChunk struct {
	ID           string    `json:"id" db:"id"`
	DocumentID   string    `json:"document_id" db:"document_id"`
	Ordinal      int       `json:"ordinal" db:"ordinal"`
	CharStart    int       `json:"char_start" db:"char_start"`
	CharEnd      int       `json:"char_end" db:"char_end"`
	Text         string    `json:"text" db:"text"`
	Type         ChunkType `json:"chunk_type" db:"chunk_type"`
	EmbeddingKey *string   `json:"embedding_key,omitempty" db:"embedding_key"`
}

// EvidencePacket ties a candidate change to an exact verbatim quote inside a
// chunk. QuoteSHA256 fixes the quote; WriteGatePassed plus FailureReasons
// record the mechanical gate verdict.
type EvidencePacket struct {
	ID              string    `json:"id" db:"id"`
	DocumentID      string    `json:"document_id" db:"document_id"`
	ChunkID         string    `json:"chunk_id" db:"chunk_id"`
	Quote           string    `json:"quote" db:"quote"`
	QuoteSHA256     string    `json:"quote_sha256" db:"quote_sha256"`
	ReaderOutput    string    `json:"reader_output,omitempty" db:"reader_output"`
	ValidatorOutput string    `json:"validator_output,omitempty" db:"validator_output"`
	WriteGatePassed bool      `json:"write_gate_passed" db:"write_gate_passed"`
	FailureReasons  []string  `json:"failure_reasons,omitempty"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// QuoteInChunk reports whether the packet's quote is an exact substring of
// the chunk's text. Committed rows must trace to a passing packet.
func (e EvidencePacket) QuoteInChunk(chunk DocumentChunk) bool {
	return e.Quote != "" && strings.Contains(chunk.Text, e.Quote)
}
