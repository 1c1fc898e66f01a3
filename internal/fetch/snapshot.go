// Package fetch turns URLs into content snapshots. A plain HTTP fetch
// is tried first; pages that come back with no usable text fall back
// to a headless browser render when one is available.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"researchhive/internal/config"
	"researchhive/internal/logging"
	"researchhive/internal/sched"
	"researchhive/internal/types"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// Snapshot is the extracted content of one fetched page.
type Snapshot struct {
	URL         string
	Title       string
	Text        string
	ContentHash string
	Rendered    bool
	FetchedUTC  string
}

// Renderer produces page HTML through a browser. Implemented by
// BrowserRenderer; nil disables the fallback.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
	Close() error
}

// Snapshotter fetches pages under the scheduler's fetch pool.
type Snapshotter struct {
	cfg      config.FetchConfig
	pools    *sched.Pools
	client   *http.Client
	renderer Renderer
}

// NewSnapshotter builds a snapshotter. renderer may be nil.
func NewSnapshotter(cfg config.FetchConfig, pools *sched.Pools, renderer Renderer) *Snapshotter {
	return &Snapshotter{
		cfg:      cfg,
		pools:    pools,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		renderer: renderer,
	}
}

// Fetch retrieves a page, extracts its text, and hashes the raw body.
// Thin pages (scripts-only SPAs) are retried through the renderer.
func (s *Snapshotter) Fetch(ctx context.Context, pageURL string) (*Snapshot, error) {
	origin, err := originOf(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}

	release, err := s.pools.AcquireFetch(ctx, origin)
	if err != nil {
		return nil, err
	}
	defer release()

	timer := logging.StartTimer(logging.CategoryFetch, "fetch %s", pageURL)
	body, contentType, err := s.get(ctx, pageURL)
	timer.Stop()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		URL:         pageURL,
		ContentHash: hashContent(body),
		FetchedUTC:  types.NowUTC(),
	}

	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		snap.Text = strings.TrimSpace(string(body))
		return snap, nil
	}

	snap.Title, snap.Text = ExtractText(string(body))

	// Pages that render everything client-side come back nearly empty.
	// A browser render recovers those when the renderer is wired.
	if len(snap.Text) < 200 && s.renderer != nil {
		logging.Fetch("thin page %s (%d chars), trying browser render", pageURL, len(snap.Text))
		if rendered, rerr := s.renderWithPool(ctx, pageURL); rerr == nil {
			title, text := ExtractText(rendered)
			if len(text) > len(snap.Text) {
				snap.Title, snap.Text = title, text
				snap.ContentHash = hashContent([]byte(rendered))
				snap.Rendered = true
			}
		} else {
			logging.FetchWarn("browser render of %s failed: %v", pageURL, rerr)
		}
	}

	logging.Fetch("fetched %s (%d chars, rendered=%v)", pageURL, len(snap.Text), snap.Rendered)
	return snap, nil
}

func (s *Snapshotter) get(ctx context.Context, pageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (s *Snapshotter) renderWithPool(ctx context.Context, pageURL string) (string, error) {
	release, err := s.pools.AcquireBrowser(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RenderTimeout)
	defer cancel()
	return s.renderer.Render(ctx, pageURL)
}

func originOf(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", pageURL)
	}
	return u.Host, nil
}

func hashContent(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ExtractText parses HTML and returns the page title plus a plain-text
// rendition with headings and list markers preserved.
func ExtractText(htmlContent string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		// html.Parse only fails on reader errors; a string reader
		// never produces one, but keep the raw text as a net.
		return "", strings.TrimSpace(htmlContent)
	}

	var sb strings.Builder
	title = walkNode(doc, &sb, 0)
	return title, cleanText(sb.String())
}

func walkNode(n *html.Node, sb *strings.Builder, depth int) string {
	if depth > 50 {
		return ""
	}

	var title string
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
			return ""
		case "title":
			var tb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walkNode(c, &tb, depth+1)
			}
			return strings.TrimSpace(tb.String())
		case "h1":
			sb.WriteString("\n\n# ")
		case "h2":
			sb.WriteString("\n\n## ")
		case "h3":
			sb.WriteString("\n\n### ")
		case "h4", "h5", "h6":
			sb.WriteString("\n\n#### ")
		case "p", "div", "section", "article":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := walkNode(c, sb, depth+1); t != "" && title == "" {
			title = t
		}
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "pre":
			sb.WriteString("\n\n")
		}
	}
	return title
}

func cleanText(s string) string {
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
