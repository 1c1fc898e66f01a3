package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"researchhive/internal/config"
	"researchhive/internal/sched"
)

func testSnapshotter(renderer Renderer) *Snapshotter {
	cfg := config.FetchConfig{
		UserAgent:      "hive-test/1.0",
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 20,
		RenderTimeout:  5 * time.Second,
	}
	pools := sched.NewPools(config.LimitsConfig{
		FetchConcurrency:     2,
		PerOriginConcurrency: 1,
		EmbeddingConcurrency: 1,
		BrowserConcurrency:   1,
	})
	return NewSnapshotter(cfg, pools, renderer)
}

func TestFetchExtractsTextAndTitle(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Graphene Survey</title></head>
			<body><h1>Conductivity</h1><p>Graphene conducts electricity extremely well,
			outperforming copper at room temperature in thin films and many laboratory
			settings across repeated measurement campaigns over the last decade.</p>
			<script>ignore();</script></body></html>`))
	}))
	defer srv.Close()

	snap, err := testSnapshotter(nil).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotUA != "hive-test/1.0" {
		t.Errorf("user agent = %q", gotUA)
	}
	if snap.Title != "Graphene Survey" {
		t.Errorf("title = %q", snap.Title)
	}
	if !strings.Contains(snap.Text, "# Conductivity") {
		t.Errorf("heading not preserved: %q", snap.Text)
	}
	if strings.Contains(snap.Text, "ignore()") {
		t.Errorf("script content leaked into text")
	}
	if snap.ContentHash == "" || len(snap.ContentHash) != 64 {
		t.Errorf("bad content hash %q", snap.ContentHash)
	}
	if snap.Rendered {
		t.Error("plain HTTP fetch should not be marked rendered")
	}
}

func TestFetchPlainTextPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just the facts\n"))
	}))
	defer srv.Close()

	snap, err := testSnapshotter(nil).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Text != "just the facts" {
		t.Errorf("text = %q", snap.Text)
	}
}

func TestFetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := testSnapshotter(nil).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestFetchBodyLimit(t *testing.T) {
	big := strings.Repeat("a", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(big))
	}))
	defer srv.Close()

	s := testSnapshotter(nil)
	s.cfg.MaxBodyBytes = 1024
	snap, err := s.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Text) != 1024 {
		t.Errorf("body not truncated: %d bytes", len(snap.Text))
	}
}

type fakeRenderer struct {
	html  string
	calls int
}

func (f *fakeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	f.calls++
	return f.html, nil
}

func (f *fakeRenderer) Close() error { return nil }

func TestThinPageFallsBackToRenderer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><script>app.mount()</script></body></html>`))
	}))
	defer srv.Close()

	longText := strings.Repeat("rendered body text ", 30)
	renderer := &fakeRenderer{html: "<html><head><title>SPA</title></head><body><p>" + longText + "</p></body></html>"}
	snap, err := testSnapshotter(renderer).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if renderer.calls != 1 {
		t.Fatalf("renderer calls = %d, want 1", renderer.calls)
	}
	if !snap.Rendered {
		t.Error("snapshot should be marked rendered")
	}
	if snap.Title != "SPA" {
		t.Errorf("title = %q", snap.Title)
	}
	if !strings.Contains(snap.Text, "rendered body text") {
		t.Errorf("rendered text missing: %q", snap.Text)
	}
}

func TestRichPageSkipsRenderer(t *testing.T) {
	long := strings.Repeat("plenty of server rendered words here ", 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
	}))
	defer srv.Close()

	renderer := &fakeRenderer{html: "<html></html>"}
	snap, err := testSnapshotter(renderer).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if renderer.calls != 0 {
		t.Fatalf("renderer should not run for rich pages, calls = %d", renderer.calls)
	}
	if snap.Rendered {
		t.Error("snapshot wrongly marked rendered")
	}
}

func TestFetchRejectsBadURL(t *testing.T) {
	if _, err := testSnapshotter(nil).Fetch(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}
