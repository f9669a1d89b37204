package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const (
	duckDuckGoURL = "https://html.duckduckgo.com/html/"
	userAgent     = "Mozilla/5.0 (compatible; mediate/1.0)"
)

// DuckDuckGoBackend scrapes the DuckDuckGo HTML endpoint. It needs no API key.
type DuckDuckGoBackend struct {
	endpoint   string
	httpClient *http.Client
	converter  *md.Converter
}

// NewDuckDuckGoBackend creates a DuckDuckGo backend. An empty endpoint uses
// the public HTML endpoint.
func NewDuckDuckGoBackend(endpoint string, client *http.Client) *DuckDuckGoBackend {
	if endpoint == "" {
		endpoint = duckDuckGoURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultBackendTimeout}
	}
	return &DuckDuckGoBackend{
		endpoint:   endpoint,
		httpClient: client,
		converter:  md.NewConverter("", true, nil),
	}
}

// Name implements Backend.
func (b *DuckDuckGoBackend) Name() string {
	return "duckduckgo"
}

// Search implements Backend.
func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	return b.parse(resp.Body, maxResults)
}

func (b *DuckDuckGoBackend) parse(r io.Reader, maxResults int) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if maxResults > 0 && len(results) >= maxResults {
			return false
		}
		if s.HasClass("result--ad") {
			return true
		}

		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target := resolveRedirect(href)
		if target == "" {
			return true
		}

		snippetHTML, _ := s.Find(".result__snippet").First().Html()
		content, convErr := b.converter.ConvertString(snippetHTML)
		if convErr != nil {
			content = s.Find(".result__snippet").First().Text()
		}

		results = append(results, Result{
			Title:   strings.TrimSpace(link.Text()),
			URL:     target,
			Content: strings.TrimSpace(content),
		})
		return true
	})

	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
