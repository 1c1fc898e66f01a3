package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const resultsPage = `<html><body>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fgraphene">Graphene overview</a>
  <a class="result__snippet" href="#">Graphene is a single layer of carbon atoms.</a>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="https://other.org/paper">Conductivity paper</a>
  <a class="result__snippet" href="#">Measurements of sheet resistance.</a>
</div>
<div class="nav">not a result</div>
</body></html>`

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "graphene conductivity" {
			t.Errorf("query = %q", got)
		}
		w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	s := &DuckDuckGoSearcher{client: srv.Client(), baseURL: srv.URL}
	results, err := s.Search(context.Background(), "graphene conductivity", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].URL != "https://example.com/graphene" {
		t.Errorf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "Graphene overview" {
		t.Errorf("title = %q", results[0].Title)
	}
	if results[1].URL != "https://other.org/paper" {
		t.Errorf("plain url mangled: %q", results[1].URL)
	}
	if results[0].Snippet == "" {
		t.Error("snippet missing")
	}
}

func TestSearchCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	s := &DuckDuckGoSearcher{client: srv.Client(), baseURL: srv.URL}
	results, err := s.Search(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
}

func TestSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	s := &DuckDuckGoSearcher{client: srv.Client(), baseURL: srv.URL}
	if _, err := s.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error on 403")
	}
}
