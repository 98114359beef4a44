package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/luv91/tariffstack/internal/domain"
)

const fedregBaseURL = "https://www.federalregister.gov/api/v1/documents.json"

// fedregAgencies are the publishing agencies whose notices carry tariff
// actions. USTR issues Section 301 notices; Commerce and CBP publish the
// Section 232 and IEEPA implementing notices.
var fedregAgencies = []string{
	"trade-representative-office-of-united-states",
	"commerce-department",
	"u-s-customs-and-border-protection",
}

const fedregSearchTerm = `"harmonized tariff schedule" duties`

// FederalRegister polls the Federal Register public search API. Results are
// tier A: the published notice is the binding legal text.
type FederalRegister struct {
	client  *http.Client
	baseURL string
}

func NewFederalRegister(client *http.Client) *FederalRegister {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FederalRegister{client: client, baseURL: fedregBaseURL}
}

func (f *FederalRegister) Source() string { return domain.SourceFederalRegister }

type fedregResponse struct {
	Count       int    `json:"count"`
	NextPageURL string `json:"next_page_url"`
	Results     []struct {
		DocumentNumber  string `json:"document_number"`
		Title           string `json:"title"`
		HTMLURL         string `json:"html_url"`
		FullTextXMLURL  string `json:"full_text_xml_url"`
		PublicationDate string `json:"publication_date"`
	} `json:"results"`
}

func (f *FederalRegister) Poll(ctx context.Context, since domain.Date) ([]domain.DiscoveredDocument, error) {
	pageURL := f.searchURL(since)
	var out []domain.DiscoveredDocument

	// The API caps pages at 20 results; follow next_page_url to the end.
	for pageURL != "" {
		page, err := f.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			published, err := domain.ParseDate(r.PublicationDate)
			if err != nil {
				continue
			}
			docURL := r.FullTextXMLURL
			if docURL == "" {
				docURL = r.HTMLURL
			}
			out = append(out, domain.DiscoveredDocument{
				Source:      domain.SourceFederalRegister,
				ExternalID:  r.DocumentNumber,
				URL:         docURL,
				Title:       r.Title,
				PublishedOn: published,
				Tier:        domain.TierA,
			})
		}
		pageURL = page.NextPageURL
	}
	return out, nil
}

func (f *FederalRegister) searchURL(since domain.Date) string {
	q := url.Values{}
	q.Set("conditions[term]", fedregSearchTerm)
	q.Set("conditions[publication_date][gte]", since.String())
	for _, agency := range fedregAgencies {
		q.Add("conditions[agencies][]", agency)
	}
	q.Set("order", "oldest")
	q.Set("per_page", "20")
	for _, field := range []string{"document_number", "title", "html_url", "full_text_xml_url", "publication_date"} {
		q.Add("fields[]", field)
	}
	return f.baseURL + "?" + q.Encode()
}

func (f *FederalRegister) fetchPage(ctx context.Context, pageURL string) (*fedregResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("federal register fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("federal register: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	var page fedregResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("federal register: decode response: %w", err)
	}
	return &page, nil
}
