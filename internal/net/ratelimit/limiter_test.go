package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterPerHostBuckets(t *testing.T) {
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow("www.federalregister.gov"))
	assert.False(t, l.Allow("www.federalregister.gov"))
	// A different host has its own bucket.
	assert.True(t, l.Allow("content.govdelivery.com"))
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	l := NewLimiter(0.001, 1)
	require.True(t, l.Allow("hts.usitc.gov"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "hts.usitc.gov")
	require.Error(t, err)
}

func TestLimiterStats(t *testing.T) {
	l := NewLimiter(2, 4)
	l.Allow("www.federalregister.gov")

	stats := l.Stats()
	require.Contains(t, stats, "www.federalregister.gov")
	s := stats["www.federalregister.gov"]
	assert.Equal(t, 2.0, s.RPS)
	assert.Equal(t, 4, s.Burst)
}

func TestLimiterSetRPS(t *testing.T) {
	l := NewLimiter(1, 1)
	l.Allow("www.cbp.gov")
	l.SetRPS(10)
	assert.Equal(t, 10.0, l.Stats()["www.cbp.gov"].RPS)
}
