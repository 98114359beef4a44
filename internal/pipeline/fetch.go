// Package pipeline implements the ingest work-queue consumer: fetch, render,
// chunk, extract, validate, write-gate, and commit, with strict per-stage
// status transitions on each job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/luv91/tariffstack/internal/domain"
	"github.com/luv91/tariffstack/internal/net/ratelimit"
)

// ErrUntrustedDomain rejects fetches outside the per-source allowlist. It is
// permanent; retrying cannot help.
var ErrUntrustedDomain = errors.New("untrusted domain")

// DefaultAllowlists enumerates the hosts each watcher source may fetch from.
// Allowlists are exhaustive: anything else is refused.
var DefaultAllowlists = map[string][]string{
	domain.SourceFederalRegister: {
		"www.federalregister.gov",
		"api.federalregister.gov",
		"www.govinfo.gov",
	},
	domain.SourceCBPCSMS: {
		"content.govdelivery.com",
		"www.cbp.gov",
	},
	domain.SourceUSITC: {
		"hts.usitc.gov",
		"www.usitc.gov",
	},
}

const maxDocumentBytes = 32 << 20

// FetchResult is the raw outcome of one document download.
type FetchResult struct {
	Body        []byte
	ContentType string
	SHA256      string
	FetchedAt   time.Time
}

// Fetcher downloads official documents with a per-host rate limit and a
// per-source circuit breaker in front of the shared HTTP client.
type Fetcher struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	allowlist map[string][]string

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewFetcher builds a fetcher with the default allowlists.
func NewFetcher(client *http.Client, limiter *ratelimit.Limiter) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{
		client:    client,
		limiter:   limiter,
		allowlist: DefaultAllowlists,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// SetAllowlists replaces the per-source host allowlists. Deployments that
// mirror sources internally configure this; an empty map refuses everything.
func (f *Fetcher) SetAllowlists(lists map[string][]string) {
	f.allowlist = lists
}

func (f *Fetcher) breakerFor(source string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[source]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "fetch:" + source,
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	f.breakers[source] = cb
	return cb
}

// Allowed reports whether the URL's host is on the source's allowlist.
func (f *Fetcher) Allowed(source, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range f.allowlist[source] {
		if host == allowed {
			return true
		}
	}
	return false
}

// Fetch downloads one document. Untrusted domains fail permanently; network
// and server errors are transient and feed the source's circuit breaker.
func (f *Fetcher) Fetch(ctx context.Context, source, rawURL string) (*FetchResult, error) {
	if !f.Allowed(source, rawURL) {
		return nil, fmt.Errorf("%w: %s for source %s", ErrUntrustedDomain, rawURL, source)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, u.Hostname()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	out, err := f.breakerFor(source).Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "tariffstack/1.0 (regulatory data pipeline)")
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u.Hostname())
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return &FetchResult{
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
			SHA256:      domain.HashBytes(body),
			FetchedAt:   time.Now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return out.(*FetchResult), nil
}

// BreakerStates reports each source breaker's state for the health surface.
func (f *Fetcher) BreakerStates() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	states := make(map[string]string, len(f.breakers))
	for source, cb := range f.breakers {
		states[source] = cb.State().String()
	}
	return states
}
