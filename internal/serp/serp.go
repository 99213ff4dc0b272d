package serp

import (
	"context"
	"net/url"
)

// MaxPerPage is the largest page size the upstream search service honours.
const MaxPerPage = 100

// Result is a single organic search result. It is never modified after
// the parser creates it.
type Result struct {
	Title string   `json:"title"`
	URL   *url.URL `json:"-"`
}

// String returns the result URL, or an empty string if it is unset.
func (r Result) String() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Page is one fetched and parsed result page. Index is assigned by the
// owning Session; parsers leave it zero.
type Page struct {
	Index         int      `json:"index"`
	Results       []Result `json:"results"`
	TotalEstimate int64    `json:"total_estimate"`
	// Next is the target for the following page. Empty on the last page.
	Next string `json:"next,omitempty"`
	Prev string `json:"prev,omitempty"`
}

// Count returns the number of results on the page.
func (p *Page) Count() int {
	if p == nil {
		return 0
	}
	return len(p.Results)
}

// HasNext reports whether the upstream offered another page.
func (p *Page) HasNext() bool {
	return p != nil && p.Next != ""
}

// clone copies p and its results so the session never shares state with
// the parser that produced it.
func (p *Page) clone() *Page {
	c := *p
	c.Results = make([]Result, len(p.Results))
	for i, r := range p.Results {
		if r.URL != nil {
			u := *r.URL
			r.URL = &u
		}
		c.Results[i] = r
	}
	return &c
}

// Request describes a single page fetch.
type Request struct {
	// Target is the base query URL for the first page and the next-page
	// cursor afterwards.
	Target string
	// Count is the number of results asked of the upstream.
	Count int
}

// PageFetcher retrieves the raw content for a request. Implementations must
// return an error for any non-success response instead of a partial body.
type PageFetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// PageParser turns raw page content into a Page. In strict mode a malformed
// entry fails the whole parse with a *ParseError.
type PageParser interface {
	Parse(raw []byte, strict bool) (*Page, error)
}

// FetcherFunc adapts a plain function to PageFetcher.
type FetcherFunc func(ctx context.Context, req Request) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}
