// Package cache is an optional redis read-through layer over the temporal
// rate store. Lookups are keyed by subject, date, and a store version that
// the commit engine bumps, so a commit invalidates every cached answer at
// once without key scans.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/metrics"
	"github.com/luv91/tariffstack/internal/persistence"
)

const (
	versionKey = "tariffstack:rates:version"
	// missMarker caches "no row in scope" answers, which are common and as
	// expensive to recompute as hits.
	missMarker = "__miss__"
)

// RateCache decorates a RateReader with redis. Redis being down degrades to
// pass-through: a cache error is never a lookup error.
type RateCache struct {
	inner   persistence.RateReader
	rdb     redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Set
	logger  zerolog.Logger
}

// SetMetrics attaches prometheus instruments. Optional.
func (c *RateCache) SetMetrics(m *metrics.Set) { c.metrics = m }

func (c *RateCache) count(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func NewRateCache(inner persistence.RateReader, rdb redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *RateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RateCache{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With().Str("component", "rate_cache").Logger(),
	}
}

// Bump invalidates all cached lookups. The commit engine calls this after
// every committed change.
func (c *RateCache) Bump(ctx context.Context) {
	if err := c.rdb.Incr(ctx, versionKey).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache version bump failed")
	}
}

func (c *RateCache) version(ctx context.Context) string {
	v, err := c.rdb.Get(ctx, versionKey).Result()
	if err != nil {
		return "0"
	}
	return v
}

func (c *RateCache) asOfKey(version string, q domain.RateQuery, d domain.Date) string {
	return strings.Join([]string{
		"tariffstack:asof", version, q.ProgramID, q.HTS8, q.HTS10,
		q.Country, q.CountryGroup, q.Material, q.Variant, d.String(),
	}, ":")
}

// AsOf serves the evaluator's hot path through redis.
func (c *RateCache) AsOf(ctx context.Context, q domain.RateQuery, d domain.Date) (*domain.RateRow, error) {
	key := c.asOfKey(c.version(ctx), q, d)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == missMarker {
			c.count("hit")
			return nil, nil
		}
		var row domain.RateRow
		if uerr := json.Unmarshal([]byte(cached), &row); uerr == nil {
			c.count("hit")
			return &row, nil
		}
		// Corrupt entry: fall through and overwrite.
	case errors.Is(err, redis.Nil):
		c.count("miss")
	default:
		c.count("bypass")
		c.logger.Debug().Err(err).Msg("cache read failed, falling through")
	}

	row, err := c.inner.AsOf(ctx, q, d)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, row)
	return row, nil
}

func (c *RateCache) store(ctx context.Context, key string, row *domain.RateRow) {
	payload := missMarker
	if row != nil {
		data, err := json.Marshal(row)
		if err != nil {
			return
		}
		payload = string(data)
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("cache write failed")
	}
}

// MFNRate caches the MFN base lookup used by formula rates.
func (c *RateCache) MFNRate(ctx context.Context, hts8 string, d domain.Date) (float64, bool, error) {
	key := fmt.Sprintf("tariffstack:mfn:%s:%s:%s", c.version(ctx), hts8, d)

	cached, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		if cached == missMarker {
			return 0, false, nil
		}
		var rate float64
		if uerr := json.Unmarshal([]byte(cached), &rate); uerr == nil {
			return rate, true, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Debug().Err(err).Msg("cache read failed, falling through")
	}

	rate, ok, err := c.inner.MFNRate(ctx, hts8, d)
	if err != nil {
		return 0, false, err
	}
	payload := missMarker
	if ok {
		data, _ := json.Marshal(rate)
		payload = string(data)
	}
	if serr := c.rdb.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
		c.logger.Debug().Err(serr).Msg("cache write failed")
	}
	return rate, ok, nil
}

// Schedule is a cold-path projection; it passes through uncached.
func (c *RateCache) Schedule(ctx context.Context, q domain.RateQuery) ([]domain.RateRow, error) {
	return c.inner.Schedule(ctx, q)
}

// MaterialRules passes through: the rule tables are small and the repo query
// is a single indexed read.
func (c *RateCache) MaterialRules(ctx context.Context, hts8, hts10 string, d domain.Date) ([]domain.MaterialRule, error) {
	return c.inner.MaterialRules(ctx, hts8, hts10, d)
}

// AnnexIIExempt passes through for the same reason.
func (c *RateCache) AnnexIIExempt(ctx context.Context, hts8 string, d domain.Date) (bool, error) {
	return c.inner.AnnexIIExempt(ctx, hts8, d)
}
