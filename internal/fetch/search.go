package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"researchhive/internal/logging"
)

// SearchResult is one hit from the web search.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher finds candidate URLs for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// DuckDuckGoSearcher scrapes the DuckDuckGo HTML interface, which
// needs no API key.
type DuckDuckGoSearcher struct {
	client  *http.Client
	baseURL string
}

// NewDuckDuckGoSearcher builds a searcher against the live endpoint.
func NewDuckDuckGoSearcher() *DuckDuckGoSearcher {
	return &DuckDuckGoSearcher{
		client:  http.DefaultClient,
		baseURL: "https://html.duckduckgo.com/html/",
	}
}

// Search runs one query and parses the result list.
func (d *DuckDuckGoSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 30 {
		maxResults = 30
	}

	searchURL := fmt.Sprintf("%s?q=%s", d.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	results, err := parseSearchResults(string(body), maxResults)
	if err != nil {
		return nil, err
	}
	logging.Fetch("search %q returned %d results", query, len(results))
	return results, nil
}

// parseSearchResults extracts result links from the DuckDuckGo HTML.
// Result blocks carry class="result results_links ..." divs.
func parseSearchResults(htmlContent string, maxResults int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []SearchResult
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "result") &&
					strings.Contains(attr.Val, "results_links") {
					r := extractResult(n)
					if r.URL != "" && r.Title != "" {
						results = append(results, r)
					}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}
	findResults(doc)
	return results, nil
}

func extractResult(n *html.Node) SearchResult {
	var r SearchResult
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "class" {
					continue
				}
				if strings.Contains(attr.Val, "result__a") {
					r.URL = nodeAttr(n, "href")
					r.Title = textContent(n)
				} else if strings.Contains(attr.Val, "result__snippet") {
					r.Snippet = textContent(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	r.URL = unwrapRedirect(r.URL)
	return r
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= redirect links to the
// target URL.
func unwrapRedirect(raw string) string {
	if !strings.Contains(raw, "duckduckgo.com/l/?") && !strings.HasPrefix(raw, "/l/?") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}

func nodeAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
