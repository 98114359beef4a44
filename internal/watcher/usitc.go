package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/luv91/tariffstack/internal/domain"
)

const usitcReleasesURL = "https://hts.usitc.gov/reststop/releases"

// USITC polls the HTS release endpoint for new tariff schedule revisions.
// Revisions are annual plus ad hoc mid-year updates when a proclamation
// changes Chapter 99.
type USITC struct {
	client  *http.Client
	baseURL string
}

func NewUSITC(client *http.Client) *USITC {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &USITC{client: client, baseURL: usitcReleasesURL}
}

func (u *USITC) Source() string { return domain.SourceUSITC }

type usitcRelease struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"releaseDate"`
	CSVURL      string `json:"csvUrl"`
	JSONURL     string `json:"jsonUrl"`
}

func (u *USITC) Poll(ctx context.Context, since domain.Date) ([]domain.DiscoveredDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usitc fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usitc: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var releases []usitcRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, fmt.Errorf("usitc: decode releases: %w", err)
	}

	var out []domain.DiscoveredDocument
	for _, rel := range releases {
		published, err := domain.ParseDate(rel.ReleaseDate)
		if err != nil || published.Before(since) {
			continue
		}
		docURL := rel.JSONURL
		if docURL == "" {
			docURL = rel.CSVURL
		}
		if docURL == "" {
			continue
		}
		out = append(out, domain.DiscoveredDocument{
			Source:      domain.SourceUSITC,
			ExternalID:  rel.ID,
			URL:         docURL,
			Title:       rel.Name,
			PublishedOn: published,
			Tier:        domain.TierA,
		})
	}
	return out, nil
}
