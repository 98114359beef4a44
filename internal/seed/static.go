package seed

import (
	"context"
	"sort"
	"sync"

	"github.com/luv91/tariffstack/internal/domain"
)

// StaticStore is an in-memory rate store over the seed data. It backs the
// evaluate CLI when no database is configured and the evaluator tests; the
// lookup semantics mirror the Postgres AsOf query exactly.
type StaticStore struct {
	mu        sync.RWMutex
	rows      []domain.RateRow
	materials []domain.MaterialRule
	annexII   []AnnexEntry
}

// NewStaticStore builds a store over the given seed data.
func NewStaticStore(data Data) *StaticStore {
	return &StaticStore{
		rows:      data.Rows,
		materials: data.Materials,
		annexII:   data.AnnexII,
	}
}

// AddRows appends extra rows, mainly for tests layering scenario fixtures on
// top of the base seed.
func (s *StaticStore) AddRows(rows ...domain.RateRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

// AddMaterialRules appends extra material rules.
func (s *StaticStore) AddMaterialRules(rules ...domain.MaterialRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materials = append(s.materials, rules...)
}

// AsOf picks the single best row covering d: non-archived over archived,
// exclusions over impositions, most specific subject key, most recent start.
func (s *StaticStore) AsOf(ctx context.Context, q domain.RateQuery, d domain.Date) (*domain.RateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.RateRow
	for i := range s.rows {
		r := &s.rows[i]
		if !r.MatchesSubject(q) || !r.Covers(d) {
			continue
		}
		if best == nil || betterRow(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func betterRow(a, b *domain.RateRow) bool {
	if a.IsArchived != b.IsArchived {
		return !a.IsArchived
	}
	aExcl, bExcl := a.Role == domain.RoleExclude, b.Role == domain.RoleExclude
	if aExcl != bExcl {
		return aExcl
	}
	if as, bs := a.Specificity(), b.Specificity(); as != bs {
		return as > bs
	}
	return a.EffectiveStart.After(b.EffectiveStart)
}

// Schedule returns every row matching the subject key ordered by start date.
func (s *StaticStore) Schedule(ctx context.Context, q domain.RateQuery) ([]domain.RateRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RateRow
	for _, r := range s.rows {
		if r.MatchesSubject(q) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EffectiveStart.Before(out[j].EffectiveStart)
	})
	return out, nil
}

// MaterialRules returns the in-scope rules for the HTS, preferring 10-digit
// rows and falling back to 8-digit rows per material.
func (s *StaticStore) MaterialRules(ctx context.Context, hts8, hts10 string, d domain.Date) ([]domain.MaterialRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var out []domain.MaterialRule
	// 10-digit rows first.
	for _, m := range s.materials {
		if m.HTS10 == nil || *m.HTS10 == "" || *m.HTS10 != hts10 || !m.Covers(d) {
			continue
		}
		if !seen[m.Material] {
			seen[m.Material] = true
			out = append(out, m)
		}
	}
	for _, m := range s.materials {
		if m.HTS8 != hts8 || (m.HTS10 != nil && *m.HTS10 != "") || !m.Covers(d) {
			continue
		}
		if !seen[m.Material] {
			seen[m.Material] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Material < out[j].Material })
	return out, nil
}

// MFNRate reads the MFN base rate as an mfn_base program row.
func (s *StaticStore) MFNRate(ctx context.Context, hts8 string, d domain.Date) (float64, bool, error) {
	row, err := s.AsOf(ctx, domain.RateQuery{ProgramID: domain.ProgramMFNBase, HTS8: hts8}, d)
	if err != nil || row == nil {
		return 0, false, err
	}
	return row.RateValue(), true, nil
}

// AnnexIIExempt reports membership of the Reciprocal Annex II list on d.
func (s *StaticStore) AnnexIIExempt(ctx context.Context, hts8 string, d domain.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.annexII {
		if a.HTS8 != hts8 {
			continue
		}
		if (domain.Window{Start: a.Start, End: a.End}).Contains(d) {
			return true, nil
		}
	}
	return false, nil
}
