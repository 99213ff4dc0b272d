package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/serpent/pkg/ratelimit"
	"github.com/google/uuid"
)

type fetchStatus int

const (
	statusFetched fetchStatus = iota
	statusNoMoreResults
	statusBudgetSpent
)

// Session pages through the results of a single query. It owns every page
// it fetched and derives the combined result list from them.
//
// A Session is not safe for concurrent use. Fetches depend on the previous
// page's cursor, so callers must serialize access.
type Session struct {
	id      string
	query   string
	target  string
	opts    Options
	perPage int
	fetcher PageFetcher
	parser  PageParser
	logger  *slog.Logger

	// pages[i] holds page i+1.
	pages      []*Page
	queryCount int
	total      int64

	view   []Result
	viewAt int

	pause func(ctx context.Context) error
}

// New creates a session for query. Unless opts.Lazy is set it immediately
// fetches pages until opts.MinResults results are held or the upstream
// runs out. If that fails no session is returned.
func New(ctx context.Context, query string, fetcher PageFetcher, parser PageParser, opts Options) (*Session, error) {
	if fetcher == nil || parser == nil {
		return nil, errors.New("serp: fetcher and parser are required")
	}
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:      uuid.New().String(),
		query:   query,
		target:  QueryURL(opts.BaseURL, query),
		opts:    opts,
		perPage: opts.PerPage,
		fetcher: fetcher,
		parser:  parser,
		logger:  opts.Logger.With("query", query),
	}
	s.pause = func(ctx context.Context) error {
		return ratelimit.Pause(ctx, s.opts.Pause, s.opts.Jitter)
	}

	if opts.Lazy {
		return s, nil
	}
	if err := s.EnsureMinimum(ctx, opts.MinResults); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) String() string {
	return fmt.Sprintf("<serpent search: %q>", s.query)
}

// ID uniquely identifies the session, e.g. when its pages are exported.
func (s *Session) ID() string { return s.id }

// Query returns the search query.
func (s *Session) Query() string { return s.query }

// Options returns the effective session options.
func (s *Session) Options() Options { return s.opts }

// PerPage returns the current page size.
func (s *Session) PerPage() int { return s.perPage }

// SetPerPage changes the page size. It fails once the first page has been
// fetched or when n is outside [1, MaxPerPage].
func (s *Session) SetPerPage(n int) error {
	if s.queryCount > 0 {
		return &ConfigError{Field: "per_page", Value: n, Reason: "cannot change after the first page has been fetched"}
	}
	if err := validatePerPage(n); err != nil {
		return err
	}
	s.perPage = n
	s.opts.PerPage = n
	return nil
}

// QueryCount returns the number of fetch cycles executed so far.
func (s *Session) QueryCount() int { return s.queryCount }

// CurrentPage returns the index of the last fetched page, 0 before any fetch.
func (s *Session) CurrentPage() int { return len(s.pages) }

// TotalEstimate returns the result count estimate reported by the newest page.
func (s *Session) TotalEstimate() int64 { return s.total }

// Last returns the most recently fetched page, or nil.
func (s *Session) Last() *Page {
	if len(s.pages) == 0 {
		return nil
	}
	return s.pages[len(s.pages)-1]
}

// Page returns the page with the given 1-based index.
func (s *Session) Page(index int) (*Page, bool) {
	if index < 1 || index > len(s.pages) {
		return nil, false
	}
	return s.pages[index-1], true
}

// Pages returns the fetched pages in fetch order.
func (s *Session) Pages() []*Page {
	out := make([]*Page, len(s.pages))
	copy(out, s.pages)
	return out
}

// Exhausted reports whether the newest page offered no next cursor.
func (s *Session) Exhausted() bool {
	last := s.Last()
	return last != nil && !last.HasNext()
}

// Loaded returns the results of all fetched pages in page order without
// touching the network.
func (s *Session) Loaded() []Result {
	if s.view == nil || s.viewAt != len(s.pages) {
		view := make([]Result, 0, s.accumulated())
		for _, p := range s.pages {
			view = append(view, p.Results...)
		}
		s.view = view
		s.viewAt = len(s.pages)
	}
	out := make([]Result, len(s.view))
	copy(out, s.view)
	return out
}

// Results returns the combined results. On a session that has not fetched
// anything yet (lazy mode) it first runs the minimum-fill loop; afterwards
// it only reads cached pages.
func (s *Session) Results(ctx context.Context) ([]Result, error) {
	if s.queryCount == 0 {
		if err := s.EnsureMinimum(ctx, s.opts.MinResults); err != nil {
			return nil, err
		}
	}
	return s.Loaded(), nil
}

// NextPage fetches exactly one more page. It is an alias of FetchNextPage.
func (s *Session) NextPage(ctx context.Context) (*Page, error) {
	return s.FetchNextPage(ctx)
}

// FetchNextPage runs one fetch cycle asking for PerPage results. It returns
// ErrQueryBudgetExhausted or ErrResultsExhausted without issuing a request
// when no further page may or can be fetched.
func (s *Session) FetchNextPage(ctx context.Context) (*Page, error) {
	page, status, err := s.fetch(ctx, s.perPage)
	if err != nil {
		return nil, err
	}
	switch status {
	case statusBudgetSpent:
		return nil, fmt.Errorf("%w: %d of %d queries used", ErrQueryBudgetExhausted, s.queryCount, s.opts.MaxQueries)
	case statusNoMoreResults:
		return nil, fmt.Errorf("%w: page %d was the last", ErrResultsExhausted, len(s.pages))
	}
	return page, nil
}

// EnsureMinimum fetches pages until at least min results are held. Running
// out of pages or query budget, or receiving an empty page, ends the loop
// without error; any other failure is returned as is.
func (s *Session) EnsureMinimum(ctx context.Context, min int) error {
	for i := 0; s.accumulated() < min; i++ {
		if i > 0 && s.opts.Pause > 0 {
			if err := s.pause(ctx); err != nil {
				return err
			}
		}

		page, status, err := s.fetch(ctx, min-s.accumulated())
		if err != nil {
			return err
		}
		switch status {
		case statusBudgetSpent:
			s.logger.Info("query budget exhausted", "queries", s.queryCount, "results", s.accumulated(), "wanted", min)
			return nil
		case statusNoMoreResults:
			s.logger.Info("no more results", "pages", len(s.pages), "results", s.accumulated(), "wanted", min)
			return nil
		}
		// An empty page that still links onward would otherwise loop forever
		// without a query budget.
		if page.Count() == 0 {
			s.logger.Info("page returned no results", "page", page.Index, "results", s.accumulated(), "wanted", min)
			return nil
		}
	}
	return nil
}

func (s *Session) fetch(ctx context.Context, need int) (*Page, fetchStatus, error) {
	if s.opts.MaxQueries > 0 && s.queryCount >= s.opts.MaxQueries {
		return nil, statusBudgetSpent, nil
	}

	target := s.target
	if last := s.Last(); last != nil {
		if !last.HasNext() {
			return nil, statusNoMoreResults, nil
		}
		target = last.Next
	}

	req := Request{Target: target, Count: s.requestSize(need)}
	index := len(s.pages) + 1
	s.logger.Debug("fetching page", "page", index, "count", req.Count, "target", req.Target)

	raw, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, statusFetched, &RequestError{Target: target, Err: err}
	}

	page, err := s.parser.Parse(raw, s.opts.Strict)
	if err != nil {
		return nil, statusFetched, err
	}
	if page == nil {
		return nil, statusFetched, &ParseError{Entry: -1, Reason: "parser returned no page"}
	}

	page = page.clone()
	page.Index = index
	s.pages = append(s.pages, page)
	s.total = page.TotalEstimate
	s.queryCount++

	s.logger.Debug("fetched page", "page", index, "results", page.Count(), "estimate", page.TotalEstimate, "has_next", page.HasNext())
	return page, statusFetched, nil
}

// requestSize is the count for the next request: the outstanding need, at
// least one page, padded on the first request and capped at MaxPerPage.
func (s *Session) requestSize(need int) int {
	n := need
	if n < s.perPage {
		n = s.perPage
	}
	if s.queryCount == 0 {
		n += s.opts.FirstPagePadding
	}
	if n > MaxPerPage {
		n = MaxPerPage
	}
	return n
}

func (s *Session) accumulated() int {
	n := 0
	for _, p := range s.pages {
		n += p.Count()
	}
	return n
}
