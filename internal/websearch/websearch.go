// Package websearch provides the in-process web search adapter used by the
// web_search action. The default backend scrapes the DuckDuckGo HTML
// endpoint, which needs no API key and so keeps the platform self-contained.
package websearch

import "context"

// Item is one search hit.
type Item struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"snippet,omitempty"`
}

// Searcher performs a web search. Implementations must honour ctx
// cancellation and return at most limit items.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Item, error)
}

// Func adapts a plain function to [Searcher]; handy in tests.
type Func func(ctx context.Context, query string, limit int) ([]Item, error)

// Search implements [Searcher].
func (f Func) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	return f(ctx, query, limit)
}
