package seed

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/luv91/tariffstack/internal/domain"
)

// Apply loads the static seed into Postgres. It is idempotent: if rate rows
// with the seed dataset tag already exist, nothing is written.
func Apply(ctx context.Context, db *sqlx.DB) error {
	data := Load()

	var existing int
	if err := db.GetContext(ctx, &existing,
		`SELECT COUNT(*) FROM rate_rows WHERE dataset_tag = $1`, DatasetTag); err != nil {
		return fmt.Errorf("probe seed dataset: %w", err)
	}
	if existing > 0 {
		log.Info().Str("dataset_tag", DatasetTag).Int("rows", existing).
			Msg("seed already applied, skipping")
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback()

	if err := applyCatalog(ctx, tx); err != nil {
		return err
	}
	if err := applyEvidence(ctx, tx, data); err != nil {
		return err
	}
	if err := applyRows(ctx, tx, data); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	log.Info().Int("rate_rows", len(data.Rows)).Int("material_rules", len(data.Materials)).
		Str("dataset_tag", DatasetTag).Msg("seed applied")
	return nil
}

func applyCatalog(ctx context.Context, tx *sqlx.Tx) error {
	catalog := domain.StaticCatalog()
	for _, p := range catalog.Programs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tariff_programs
				(id, name, country_scope, check_type, condition_handler,
				 depends_on, material, filing_seq, calc_seq, disclaim_behavior,
				 effective_start, effective_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.Name, p.CountryScope, p.CheckType, p.Condition,
			p.DependsOn, p.Material, p.FilingSeq, p.CalcSeq, p.Disclaim,
			p.Window.Start, p.Window.End)
		if err != nil {
			return fmt.Errorf("seed program %s: %w", p.ID, err)
		}
		rule, ok := catalog.DutyRules[p.ID]
		if !ok {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO duty_rules
				(program_id, calculation_type, base_on, content_key,
				 fallback_base_on, base_effect)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (program_id) DO NOTHING`,
			rule.ProgramID, rule.CalcType, rule.BaseOn, rule.ContentKey,
			rule.FallbackBaseOn, rule.BaseEffect)
		if err != nil {
			return fmt.Errorf("seed duty rule %s: %w", p.ID, err)
		}
	}
	for _, g := range domain.BuiltinGroups() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO country_groups (code, name) VALUES ($1,$2)
			 ON CONFLICT (code) DO NOTHING`, g.Code, g.Name); err != nil {
			return fmt.Errorf("seed group %s: %w", g.Code, err)
		}
		for _, m := range g.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO country_group_members (group_code, country_code)
				 VALUES ($1,$2) ON CONFLICT DO NOTHING`, g.Code, m); err != nil {
				return fmt.Errorf("seed group member %s/%s: %w", g.Code, m, err)
			}
		}
	}
	return nil
}

func applyEvidence(ctx context.Context, tx *sqlx.Tx, data Data) error {
	doc := data.Document
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO official_documents
			(id, source, external_id, tier, canonical_url, published_on,
			 fetched_at, raw_sha256, raw_bytes, content_type, canonical_text, line_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING`,
		doc.ID, doc.Source, doc.ExternalID, doc.Tier, doc.CanonicalURL,
		doc.PublishedOn, doc.FetchedAt, doc.RawSHA256, doc.RawBytes,
		doc.ContentType, doc.CanonicalText, doc.LineCount); err != nil {
		return fmt.Errorf("seed document: %w", err)
	}
	ch := data.Chunk
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_chunks
			(id, document_id, ordinal, char_start, char_end, text, chunk_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		ch.ID, ch.DocumentID, ch.Ordinal, ch.CharStart, ch.CharEnd,
		ch.Text, ch.Type); err != nil {
		return fmt.Errorf("seed chunk: %w", err)
	}
	pkt := data.Packet
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO evidence_packets
			(id, document_id, chunk_id, quote, quote_sha256, write_gate_passed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		pkt.ID, pkt.DocumentID, pkt.ChunkID, pkt.Quote, pkt.QuoteSHA256,
		pkt.WriteGatePassed, pkt.CreatedAt); err != nil {
		return fmt.Errorf("seed evidence packet: %w", err)
	}
	return nil
}

func applyRows(ctx context.Context, tx *sqlx.Tx, data Data) error {
	for _, r := range data.Rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rate_rows
				(program_id, hts_8digit, hts_10digit, country_code, country_group,
				 material, variant, chapter_99_code, duty_rate, formula, role,
				 effective_start, effective_end, source_document_id, evidence_id,
				 dataset_tag)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			r.ProgramID, r.HTS8, r.HTS10, r.Country, r.CountryGroup,
			r.Material, r.Variant, r.Chapter99, r.Rate, r.Formula, r.Role,
			r.EffectiveStart, r.EffectiveEnd, r.SourceDocumentID, r.EvidenceID,
			r.DatasetTag)
		if err != nil {
			return fmt.Errorf("seed rate row %s/%s: %w", r.ProgramID, r.Chapter99, err)
		}
	}
	for _, m := range data.Materials {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO material_rules
				(hts_8digit, hts_10digit, material, claim_code, disclaim_code,
				 duty_rate, min_percent, split_policy, split_threshold,
				 content_basis, quantity_unit, effective_start, effective_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			m.HTS8, m.HTS10, m.Material, m.ClaimCode, m.DisclaimCode,
			m.DutyRate, m.MinPercent, m.SplitPolicy, m.SplitThreshold,
			m.Basis, m.QuantityUnit, m.EffectiveStart, m.EffectiveEnd)
		if err != nil {
			return fmt.Errorf("seed material rule %s/%s: %w", m.HTS8, m.Material, err)
		}
	}
	for _, a := range data.AnnexII {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annex_ii (hts_8digit, effective_start, effective_end)
			VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
			a.HTS8, a.Start, a.End); err != nil {
			return fmt.Errorf("seed annex ii %s: %w", a.HTS8, err)
		}
	}
	return nil
}
