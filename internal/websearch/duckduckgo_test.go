package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const resultsPage = `<!DOCTYPE html>
<html><body>
<div class="result">
  <a class="result__a" href="/l/?uddg=https%3A%2F%2Fgolang.org%2Fdoc%2F">The Go <b>Documentation</b></a>
  <div class="result__snippet">Official Go documentation and tutorials.</div>
</div>
<div class="result">
  <a class="result__a" href="https://go.dev/blog/">The Go Blog</a>
  <div class="result__snippet">News from the Go project.</div>
</div>
<div class="result">
  <a class="result__a" href="https://pkg.go.dev/">Package index</a>
</div>
</body></html>`

func TestSearchParsesResults(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		r.ParseForm()
		gotQuery = r.PostFormValue("q")
		w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL)
	items, err := d.Search(context.Background(), "golang docs", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if gotQuery != "golang docs" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}

	// Redirect links are unwrapped and nested markup flattened.
	if items[0].URL != "https://golang.org/doc/" {
		t.Errorf("items[0].URL = %q", items[0].URL)
	}
	if items[0].Title != "The Go Documentation" {
		t.Errorf("items[0].Title = %q", items[0].Title)
	}
	if items[0].Description != "Official Go documentation and tutorials." {
		t.Errorf("items[0].Description = %q", items[0].Description)
	}

	if items[1].URL != "https://go.dev/blog/" {
		t.Errorf("items[1].URL = %q", items[1].URL)
	}

	// A result without a snippet still yields an item.
	if items[2].Title != "Package index" || items[2].Description != "" {
		t.Errorf("items[2] = %+v", items[2])
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL)
	items, err := d.Search(context.Background(), "golang", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
}

func TestSearchNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL)
	if _, err := d.Search(context.Background(), "golang", 5); err == nil {
		t.Error("Search() = nil error on 403")
	}
}

func TestSearchEmptyPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body>no results</body></html>"))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.URL)
	items, err := d.Search(context.Background(), "gibberish", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %v, want none", items)
	}
}

func TestCleanResultURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"/l/?uddg=https%3A%2F%2Fexample.com%2Fa%20b", "https://example.com/a b"},
		{"https://example.com/page", "https://example.com/page"},
		{"//duckduckgo.com/x", "https://duckduckgo.com/x"},
	}
	for _, tc := range tests {
		if got := cleanResultURL(tc.in); got != tc.want {
			t.Errorf("cleanResultURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFuncAdapter(t *testing.T) {
	t.Parallel()

	s := Func(func(_ context.Context, query string, limit int) ([]Item, error) {
		return []Item{{Title: strings.ToUpper(query)}}, nil
	})
	items, err := s.Search(context.Background(), "abc", 1)
	if err != nil || len(items) != 1 || items[0].Title != "ABC" {
		t.Errorf("Func adapter: items = %v, err = %v", items, err)
	}
}
