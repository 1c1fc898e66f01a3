package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"researchhive/internal/logging"
)

// BrowserRenderer drives a headless Chrome through rod. The browser is
// launched lazily on the first render and shared across calls; the
// scheduler's browser pool bounds how many pages are open at once.
type BrowserRenderer struct {
	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowserRenderer returns an unstarted renderer.
func NewBrowserRenderer() *BrowserRenderer {
	return &BrowserRenderer{}
}

func (r *BrowserRenderer) ensureStarted() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	logging.Fetch("headless browser started at %s", controlURL)
	r.browser = browser
	return browser, nil
}

// Render loads the page, waits for it to settle, and returns the DOM
// HTML after client-side scripts have run.
func (r *BrowserRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	browser, err := r.ensureStarted()
	if err != nil {
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)
	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", pageURL, err)
	}

	htmlContent, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read dom: %w", err)
	}
	return htmlContent, nil
}

// Close shuts the shared browser down.
func (r *BrowserRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}
