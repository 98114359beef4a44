package watcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/luv91/tariffstack/internal/domain"
)

const csmsArchiveURL = "https://content.govdelivery.com/accounts/USDHSCBP/bulletins"

// csmsLinkPattern matches bulletin links in the GovDelivery archive listing.
// Each bulletin page is titled "CSMS #12345678 - ...".
var (
	csmsLinkPattern  = regexp.MustCompile(`href="(/accounts/USDHSCBP/bulletins/([0-9a-f]+))"[^>]*>\s*CSMS\s*#\s*(\d+)\s*[-–][^<]*`)
	csmsTitlePattern = regexp.MustCompile(`CSMS\s*#\s*\d+\s*[-–]\s*([^<]+)`)
	csmsDatePattern  = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})`)
)

// csmsKeywords gate which bulletins are tariff-relevant; CSMS also carries
// system-outage and filing-procedure messages we do not want.
var csmsKeywords = []string{
	"section 301", "section 232", "ieepa", "reciprocal tariff",
	"additional dut", "chapter 99", "9903.",
}

// CBPCSMS polls the CBP Cargo Systems Messaging Service bulletin archive.
// CSMS messages are tier B: operational guidance, corroboration only.
type CBPCSMS struct {
	client  *http.Client
	baseURL string
}

func NewCBPCSMS(client *http.Client) *CBPCSMS {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CBPCSMS{client: client, baseURL: csmsArchiveURL}
}

func (c *CBPCSMS) Source() string { return domain.SourceCBPCSMS }

func (c *CBPCSMS) Poll(ctx context.Context, since domain.Date) ([]domain.DiscoveredDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("csms fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("csms: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return c.parseArchive(string(body), since), nil
}

// parseArchive scans the bulletin listing for tariff-relevant CSMS entries
// published on or after since. The archive is plain server-rendered HTML,
// one anchor per bulletin with the publish date in the surrounding row.
func (c *CBPCSMS) parseArchive(html string, since domain.Date) []domain.DiscoveredDocument {
	var out []domain.DiscoveredDocument
	seen := map[string]bool{}

	for _, m := range csmsLinkPattern.FindAllStringSubmatchIndex(html, -1) {
		path := html[m[2]:m[3]]
		number := html[m[6]:m[7]]
		if seen[number] {
			continue
		}
		anchor := html[m[0]:m[1]]

		title := ""
		if tm := csmsTitlePattern.FindStringSubmatch(anchor); tm != nil {
			title = strings.TrimSpace(tm[1])
		}
		if !tariffRelevant(title) {
			continue
		}

		// The publish date follows the anchor in the same listing row.
		published := domain.Today()
		tail := html[m[1]:min(m[1]+300, len(html))]
		if dm := csmsDatePattern.FindStringSubmatch(tail); dm != nil {
			if d, err := domain.ParseDate(dm[3] + "-" + dm[1] + "-" + dm[2]); err == nil {
				published = d
			}
		}
		if published.Before(since) {
			continue
		}

		seen[number] = true
		out = append(out, domain.DiscoveredDocument{
			Source:      domain.SourceCBPCSMS,
			ExternalID:  number,
			URL:         "https://content.govdelivery.com" + path,
			Title:       title,
			PublishedOn: published,
			Tier:        domain.TierB,
		})
	}
	return out
}

func tariffRelevant(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range csmsKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
