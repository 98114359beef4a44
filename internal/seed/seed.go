// Package seed carries the static rate-store seed: Section 301 list rows,
// Section 232 material rules, IEEPA rows, country groups, MFN samples, and
// the synthetic tier-A seed document that backs them so provenance
// invariants hold even for seeded data.
package seed

import (
	"time"

	"github.com/luv91/tariffstack/internal/domain"
)

// Seed provenance identifiers. Every seed row references these so the
// every-row-has-evidence invariant holds from the first commit.
const (
	DocumentID = "seed-catalog-2025"
	EvidenceID = "seed-evidence-2025"
	ChunkID    = "seed-chunk-2025"
	DatasetTag = "seed_2025_08"
)

// Data is the full static seed.
type Data struct {
	Rows      []domain.RateRow
	Materials []domain.MaterialRule
	AnnexII   []AnnexEntry
	Document  domain.OfficialDocument
	Chunk     domain.DocumentChunk
	Packet    domain.EvidencePacket
}

// AnnexEntry marks an HTS-8 as Annex-II exempt within a window.
type AnnexEntry struct {
	HTS8  string
	Start domain.Date
	End   *domain.Date
}

func str(s string) *string { return &s }
func rate(v float64) *float64 { return &v }

// Load builds the static seed data set.
func Load() Data {
	seedDoc := str(DocumentID)
	seedEv := str(EvidenceID)

	exclEnd := domain.MustDate("2025-08-31")

	rows := []domain.RateRow{
		// Section 301 list 3: insulated copper cable.
		{
			ProgramID: domain.ProgramSection301, HTS8: "85444290",
			Chapter99: "9903.88.03", Rate: rate(0.25), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2018-09-24"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		// Section 301 list 3: ADP machine parts, with a time-boxed exclusion.
		{
			ProgramID: domain.ProgramSection301, HTS8: "84733051",
			Chapter99: "9903.88.03", Rate: rate(0.25), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2018-09-24"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		{
			ProgramID: domain.ProgramSection301, HTS8: "84733051",
			Chapter99: "9903.88.69", Rate: rate(0), Role: domain.RoleExclude,
			EffectiveStart: domain.MustDate("2023-10-02"), EffectiveEnd: &exclEnd,
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		// IEEPA Fentanyl: China-group wide, no HTS key.
		{
			ProgramID: domain.ProgramIEEPAFentanyl, HTS8: "",
			CountryGroup: str("CN"),
			Chapter99:    "9903.01.24", Rate: rate(0.10), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2024-01-01"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		// IEEPA Reciprocal variants.
		{
			ProgramID: domain.ProgramIEEPAReciprocal, HTS8: "",
			Country: str("CN"), Variant: str(domain.VariantStandard),
			Chapter99: "9903.01.33", Rate: rate(0.10), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2024-04-01"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		{
			ProgramID: domain.ProgramIEEPAReciprocal, HTS8: "",
			CountryGroup: str("EU"), Variant: str(domain.VariantStandard),
			Chapter99: "9903.01.25", Formula: str("15% - MFN"), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2025-08-07"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		{
			ProgramID: domain.ProgramIEEPAReciprocal, HTS8: "",
			Variant:   str(domain.VariantStandard),
			Chapter99: "9903.01.25", Rate: rate(0.10), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2024-04-01"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		{
			ProgramID: domain.ProgramIEEPAReciprocal, HTS8: "",
			Variant:   str(domain.VariantAnnexIIExempt),
			Chapter99: "9903.01.32", Rate: rate(0), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2024-04-01"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		{
			ProgramID: domain.ProgramIEEPAReciprocal, HTS8: "",
			Variant:   str(domain.VariantSection232Exempt),
			Chapter99: "9903.01.35", Rate: rate(0), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2024-04-01"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		{
			ProgramID: domain.ProgramIEEPAReciprocal, HTS8: "",
			Variant:   str(domain.VariantUSContentExempt),
			Chapter99: "9903.01.34", Rate: rate(0), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2024-04-01"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		// MFN base rates (sample).
		{
			ProgramID: domain.ProgramMFNBase, HTS8: "85444290",
			Chapter99: "", Rate: rate(0.026), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2018-01-01"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		{
			ProgramID: domain.ProgramMFNBase, HTS8: "84733051",
			Chapter99: "", Rate: rate(0), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2018-01-01"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
		{
			ProgramID: domain.ProgramMFNBase, HTS8: "84145130",
			Chapter99: "", Rate: rate(0.05), Role: domain.RoleImpose,
			EffectiveStart: domain.MustDate("2018-01-01"),
			SourceDocumentID: seedDoc, EvidenceID: seedEv, DatasetTag: DatasetTag,
		},
	}
	for i := range rows {
		rows[i].ID = int64(i + 1)
	}

	materials := []domain.MaterialRule{
		// Insulated cable (chapter 85, derivative codes for all three).
		{
			HTS8: "85444290", Material: domain.MaterialCopper,
			ClaimCode: "9903.78.01", DisclaimCode: "9903.78.02", DutyRate: 0.50,
			SplitPolicy: domain.SplitIfAnyContent, Basis: domain.BasisValue,
			EffectiveStart: domain.MustDate("2025-08-01"),
		},
		{
			HTS8: "85444290", Material: domain.MaterialSteel,
			ClaimCode: "9903.80.01", DisclaimCode: "9903.80.02", DutyRate: 0.50,
			SplitPolicy: domain.SplitIfAnyContent, Basis: domain.BasisValue,
			EffectiveStart: domain.MustDate("2025-06-23"),
		},
		{
			HTS8: "85444290", Material: domain.MaterialAluminum,
			ClaimCode: "9903.85.08", DisclaimCode: "9903.85.09", DutyRate: 0.25,
			SplitPolicy: domain.SplitIfAnyContent, Basis: domain.BasisValue,
			EffectiveStart: domain.MustDate("2025-06-23"),
		},
		// ADP machine parts: aluminum only.
		{
			HTS8: "84733051", Material: domain.MaterialAluminum,
			ClaimCode: "9903.85.08", DisclaimCode: "9903.85.09", DutyRate: 0.25,
			SplitPolicy: domain.SplitIfAnyContent, Basis: domain.BasisValue,
			EffectiveStart: domain.MustDate("2024-01-01"),
		},
		// Refined copper wire (chapter 74, primary codes).
		{
			HTS8: "74081900", Material: domain.MaterialCopper,
			ClaimCode: "9903.78.01", DisclaimCode: "9903.78.02", DutyRate: 0.50,
			SplitPolicy: domain.SplitNever, Basis: domain.BasisValue,
			EffectiveStart: domain.MustDate("2025-08-01"),
		},
	}
	for i := range materials {
		materials[i].ID = int64(i + 1)
	}

	annex := []AnnexEntry{
		{HTS8: "84733051", Start: domain.MustDate("2024-04-01")},
	}

	now := time.Date(2025, 8, 7, 0, 0, 0, 0, time.UTC)
	text := "Static catalog seed: Section 301 lists, Section 232 material scope, " +
		"IEEPA Fentanyl and Reciprocal rates, and MFN base rates consolidated " +
		"from the governing Federal Register notices."
	doc := domain.OfficialDocument{
		ID: DocumentID, Source: domain.SourceSeed, ExternalID: DocumentID,
		Tier: domain.TierA, CanonicalURL: "https://www.federalregister.gov/",
		PublishedOn: domain.MustDate("2025-08-07"), FetchedAt: now,
		RawSHA256: domain.HashBytes([]byte(text)), RawBytes: []byte(text),
		ContentType: "text/plain", CanonicalText: text, LineCount: 1,
	}
	chunk := domain.DocumentChunk{
		ID: ChunkID, DocumentID: DocumentID, Ordinal: 0,
		CharStart: 0, CharEnd: len(text), Text: text, Type: domain.ChunkNarrative,
	}
	quote := "Section 301 lists, Section 232 material scope"
	packet := domain.EvidencePacket{
		ID: EvidenceID, DocumentID: DocumentID, ChunkID: ChunkID,
		Quote: quote, QuoteSHA256: domain.HashBytes([]byte(quote)),
		WriteGatePassed: true, CreatedAt: now,
	}

	return Data{
		Rows: rows, Materials: materials, AnnexII: annex,
		Document: doc, Chunk: chunk, Packet: packet,
	}
}
