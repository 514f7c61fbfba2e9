package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Compile-time check that *DuckDuckGo satisfies [Searcher].
var _ Searcher = (*DuckDuckGo)(nil)

const (
	defaultEndpoint = "https://html.duckduckgo.com/html/"
	userAgent       = "nlx/1.0 (+https://github.com/nlxhq/nlx)"
)

// DuckDuckGo scrapes the no-JavaScript DuckDuckGo HTML results page.
type DuckDuckGo struct {
	client   *http.Client
	endpoint string
}

// NewDuckDuckGo creates a searcher against the given endpoint; pass "" for
// the public default.
func NewDuckDuckGo(endpoint string) *DuckDuckGo {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &DuckDuckGo{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
	}
}

// Search fetches and parses the results page. An empty result list with a
// nil error means the query genuinely matched nothing.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 5
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: unexpected status %d", resp.StatusCode)
	}

	items, err := parseResults(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("websearch: parse: %w", err)
	}
	return items, nil
}

// parseResults walks the result page DOM. Each hit is an anchor with class
// "result__a"; the matching snippet carries class "result__snippet".
func parseResults(r io.Reader, limit int) ([]Item, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var items []Item
	var current *Item

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(items) >= limit && current == nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			if current != nil {
				items = append(items, *current)
			}
			current = &Item{
				URL:   cleanResultURL(attr(n, "href")),
				Title: strings.TrimSpace(textContent(n)),
			}
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && current != nil {
			current.Description = strings.TrimSpace(textContent(n))
			items = append(items, *current)
			current = nil
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if current != nil && len(items) < limit {
		items = append(items, *current)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// cleanResultURL unwraps DuckDuckGo's redirect links (/l/?uddg=<target>).
func cleanResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.String()
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
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
	return sb.String()
}
