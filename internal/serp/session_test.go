package serp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"testing"
	"time"
)

// fakeUpstream serves a fixed list of pages. It implements both PageFetcher
// and PageParser: Fetch returns the position of the page to serve and Parse
// hands out a copy of it.
type fakeUpstream struct {
	pages []*Page
	// endless keeps serving the last page (with a next cursor) forever.
	endless  bool
	fetchErr error
	parseErr error
	calls    []Request
	// strict records the strict flag of every Parse call.
	strict []bool
}

func (f *fakeUpstream) Fetch(ctx context.Context, req Request) ([]byte, error) {
	f.calls = append(f.calls, req)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return []byte(strconv.Itoa(len(f.calls) - 1)), nil
}

func (f *fakeUpstream) Parse(raw []byte, strict bool) (*Page, error) {
	f.strict = append(f.strict, strict)
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	i, err := strconv.Atoi(string(raw))
	if err != nil {
		return nil, err
	}
	if i >= len(f.pages) {
		if !f.endless {
			return nil, fmt.Errorf("no page %d", i)
		}
		i = len(f.pages) - 1
	}
	p := *f.pages[i]
	return &p, nil
}

func makeResults(n, offset int) []Result {
	out := make([]Result, n)
	for i := range out {
		u, _ := url.Parse(fmt.Sprintf("https://example.com/r/%d", offset+i))
		out[i] = Result{Title: fmt.Sprintf("Result %d", offset+i), URL: u}
	}
	return out
}

// makePages returns one page per size; all but the last carry a next cursor.
func makePages(estimate int64, sizes ...int) []*Page {
	pages := make([]*Page, len(sizes))
	offset := 0
	for i, n := range sizes {
		pages[i] = &Page{Results: makeResults(n, offset), TotalEstimate: estimate}
		if i < len(sizes)-1 {
			pages[i].Next = fmt.Sprintf("https://www.google.com/search?q=test&start=%d", offset+n)
		}
		offset += n
	}
	return pages
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Pause = 0
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

func TestNew_InvalidPerPage(t *testing.T) {
	up := &fakeUpstream{pages: makePages(0, 10)}

	for _, n := range []int{-1, 0, 101, 1000} {
		opts := testOptions()
		opts.PerPage = n
		s, err := New(context.Background(), "test", up, up, opts)
		if err == nil {
			t.Fatalf("per_page %d: expected error", n)
		}
		if s != nil {
			t.Errorf("per_page %d: expected no session", n)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("per_page %d: expected ErrConfiguration, got %v", n, err)
		}
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Field != "per_page" {
			t.Errorf("per_page %d: expected per_page ConfigError, got %v", n, err)
		}
	}

	if len(up.calls) != 0 {
		t.Errorf("expected no fetches, got %d", len(up.calls))
	}
}

func TestSession_SetPerPage(t *testing.T) {
	up := &fakeUpstream{pages: makePages(100, 20, 20)}
	opts := testOptions()
	opts.Lazy = true

	s, err := New(context.Background(), "test", up, up, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, n := range []int{101, -1, 0} {
		if err := s.SetPerPage(n); !errors.Is(err, ErrConfiguration) {
			t.Errorf("SetPerPage(%d): expected ErrConfiguration, got %v", n, err)
		}
	}

	if err := s.SetPerPage(20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.PerPage() != 20 {
		t.Errorf("expected per page 20, got %d", s.PerPage())
	}

	if _, err := s.NextPage(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := up.calls[0].Count; got != 20+DefaultFirstPagePadding {
		t.Errorf("expected first request for %d results, got %d", 20+DefaultFirstPagePadding, got)
	}

	err = s.SetPerPage(30)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration after first fetch, got %v", err)
	}
	if s.PerPage() != 20 {
		t.Errorf("per page changed after failed set: %d", s.PerPage())
	}
}

func TestSession_FirstPageScenario(t *testing.T) {
	up := &fakeUpstream{pages: makePages(2390000000, 20, 20, 20)}
	opts := testOptions()
	opts.PerPage = 20

	s, err := New(context.Background(), "test", up, up, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.TotalEstimate() != 2390000000 {
		t.Errorf("expected estimate 2390000000, got %d", s.TotalEstimate())
	}
	if n := len(s.Loaded()); n != 20 {
		t.Errorf("expected 20 results, got %d", n)
	}
	if s.CurrentPage() != 1 {
		t.Errorf("expected current page 1, got %d", s.CurrentPage())
	}
	if s.QueryCount() != 1 {
		t.Errorf("expected 1 query, got %d", s.QueryCount())
	}
	if s.Last() == nil || s.Last().Index != 1 {
		t.Errorf("expected last page to be page 1, got %+v", s.Last())
	}
	if s.String() != `<serpent search: "test">` {
		t.Errorf("unexpected String(): %s", s.String())
	}
	if up.calls[0].Target != "https://www.google.com/search?q=test" {
		t.Errorf("unexpected first target %q", up.calls[0].Target)
	}

	page, err := s.NextPage(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Index != 2 {
		t.Errorf("expected page index 2, got %d", page.Index)
	}
	if up.calls[1].Target != up.pages[0].Next {
		t.Errorf("expected second request to follow the cursor %q, got %q", up.pages[0].Next, up.calls[1].Target)
	}
	if up.calls[1].Count != 20 {
		t.Errorf("expected unpadded second request for 20, got %d", up.calls[1].Count)
	}

	results := s.Loaded()
	if len(results) != 40 {
		t.Fatalf("expected 40 results, got %d", len(results))
	}
	for i, r := range results {
		if want := fmt.Sprintf("Result %d", i); r.Title != want {
			t.Fatalf("result %d: expected %q, got %q", i, want, r.Title)
		}
	}

	pages := s.Pages()
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	for i := 1; i <= 2; i++ {
		p, ok := s.Page(i)
		if !ok || p.Index != i {
			t.Errorf("expected page %d to exist, got %+v", i, p)
		}
	}
	if _, ok := s.Page(3); ok {
		t.Errorf("page 3 should not exist")
	}
}

func TestSession_EagerFetchesOnConstruction(t *testing.T) {
	up := &fakeUpstream{pages: makePages(10, 10)}

	if _, err := New(context.Background(), "test", up, up, testOptions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.calls) < 1 {
		t.Errorf("expected at least one fetch during construction")
	}
}

func TestSession_LazyDefersFetching(t *testing.T) {
	up := &fakeUpstream{pages: makePages(10, 10, 10)}
	opts := testOptions()
	opts.Lazy = true
	opts.MinResults = 15

	s, err := New(context.Background(), "test", up, up, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.calls) != 0 {
		t.Fatalf("lazy session fetched %d pages on construction", len(up.calls))
	}
	if n := len(s.Loaded()); n != 0 {
		t.Fatalf("expected no loaded results, got %d", n)
	}

	results, err := s.Results(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 20 {
		t.Errorf("expected 20 results, got %d", len(results))
	}
	calls := len(up.calls)

	if _, err := s.Results(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.calls) != calls {
		t.Errorf("cached access issued %d new fetches", len(up.calls)-calls)
	}
}

func TestSession_EnsureMinimumStopsAtMinimum(t *testing.T) {
	up := &fakeUpstream{pages: makePages(100, 10), endless: true}
	up.pages[0].Next = "https://www.google.com/search?q=test&start=10"
	opts := testOptions()
	opts.MinResults = 25

	s, err := New(context.Background(), "test", up, up, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.calls) != 3 {
		t.Errorf("expected 3 fetches, got %d", len(up.calls))
	}
	if n := len(s.Loaded()); n != 30 {
		t.Errorf("expected 30 results, got %d", n)
	}
}

func TestSession_EnsureMinimumRespectsMaxQueries(t *testing.T) {
	up := &fakeUpstream{pages: makePages(100, 5), endless: true}
	up.pages[0].Next = "https://www.google.com/search?q=test&start=5"
	opts := testOptions()
	opts.MaxQueries = 3
	opts.MinResults = 100

	s, err := New(context.Background(), "test", up, up, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.calls) != 3 {
		t.Errorf("expected 3 fetches, got %d", len(up.calls))
	}

	if err := s.EnsureMinimum(context.Background(), 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.calls) != 3 {
		t.Errorf("budget exceeded: %d fetches", len(up.calls))
	}

	_, err = s.FetchNextPage(context.Background())
	if !errors.Is(err, ErrQueryBudgetExhausted) {
		t.Fatalf("expected ErrQueryBudgetExhausted, got %v", err)
	}
	if !IsExhausted(err) {
		t.Errorf("expected IsExhausted to accept %v", err)
	}
	if len(up.calls) != 3 {
		t.Errorf("budget check issued a request")
	}
}

func TestSession_ShortResultSetIsNotAnError(t *testing.T) {
	up := &fakeUpstream{pages: makePages(12, 10, 2)}
	opts := testOptions()
	opts.MinResults = 50

	s, err := New(context.Background(), "test", up, up, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(s.Loaded()); n != 12 {
		t.Errorf("expected 12 results, got %d", n)
	}
	if !s.Exhausted() {
		t.Errorf("expected session to be exhausted")
	}

	calls := len(up.calls)
	_, err = s.FetchNextPage(context.Background())
	if !errors.Is(err, ErrResultsExhausted) {
		t.Fatalf("expected ErrResultsExhausted, got %v", err)
	}
	_, err = s.NextPage(context.Background())
	if !errors.Is(err, ErrResultsExhausted) {
		t.Fatalf("expected ErrResultsExhausted again, got %v", err)
	}
	if len(up.calls) != calls {
		t.Errorf("exhausted session issued %d requests", len(up.calls)-calls)
	}
}

func TestSession_TotalEstimateTracksNewestPage(t *testing.T) {
	up := &fakeUpstream{pages: makePages(500, 10, 10)}
	up.pages[1].TotalEstimate = 480
	opts := testOptions()
	opts.Lazy = true

	s, _ := New(context.Background(), "test", up, up, opts)
	if _, err := s.NextPage(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalEstimate() != 500 {
		t.Errorf("expected 500, got %d", s.TotalEstimate())
	}
	if _, err := s.NextPage(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalEstimate() != 480 {
		t.Errorf("expected 480, got %d", s.TotalEstimate())
	}
}

func TestSession_TransportFailure(t *testing.T) {
	cause := errors.New("connection refused")
	up := &fakeUpstream{pages: makePages(0, 10), fetchErr: cause}

	s, err := New(context.Background(), "test", up, up, testOptions())
	if s != nil {
		t.Errorf("expected no session after failed construction")
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected the cause to be preserved, got %v", err)
	}
	if reqErr.Target != "https://www.google.com/search?q=test" {
		t.Errorf("unexpected target %q", reqErr.Target)
	}
	if len(up.calls) != 1 {
		t.Errorf("expected exactly one attempt, got %d", len(up.calls))
	}
}

func TestSession_ParseFailurePropagates(t *testing.T) {
	parseErr := &ParseError{Entry: 3, Reason: "missing title"}
	up := &fakeUpstream{pages: makePages(0, 10), parseErr: parseErr}
	opts := testOptions()
	opts.Strict = true

	_, err := New(context.Background(), "test", up, up, opts)
	var got *ParseError
	if !errors.As(err, &got) || got != parseErr {
		t.Fatalf("expected the parser's error unchanged, got %v", err)
	}
}

func TestSession_RequestSize(t *testing.T) {
	tests := []struct {
		name      string
		perPage   int
		padding   int
		min       int
		wantFirst int
	}{
		{"padded page", 10, 10, 10, 20},
		{"no padding", 10, 0, 10, 10},
		{"need above page size", 10, 10, 50, 60},
		{"capped", 100, 10, 100, 100},
		{"large need capped", 10, 10, 250, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{pages: makePages(0, 1000)}
			opts := testOptions()
			opts.PerPage = tt.perPage
			opts.FirstPagePadding = tt.padding
			opts.MinResults = tt.min

			if _, err := New(context.Background(), "test", up, up, opts); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := up.calls[0].Count; got != tt.wantFirst {
				t.Errorf("expected first request for %d, got %d", tt.wantFirst, got)
			}
		})
	}
}

func TestSession_PauseBetweenFetches(t *testing.T) {
	up := &fakeUpstream{pages: makePages(0, 10, 10, 10)}
	opts := testOptions()
	opts.Lazy = true
	opts.Pause = time.Hour

	s, err := New(context.Background(), "test", up, up, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pauses := 0
	s.pause = func(ctx context.Context) error {
		pauses++
		return nil
	}

	if err := s.EnsureMinimum(context.Background(), 30); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.calls) != 3 {
		t.Fatalf("expected 3 fetches, got %d", len(up.calls))
	}
	if pauses != 2 {
		t.Errorf("expected 2 pauses, got %d", pauses)
	}
}

func TestSession_PauseHonoursContext(t *testing.T) {
	up := &fakeUpstream{pages: makePages(0, 10, 10)}
	opts := testOptions()
	opts.Pause = time.Hour
	opts.MinResults = 20

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(ctx, "test", up, up, opts)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(up.calls) != 1 {
		t.Errorf("expected a single fetch before the pause, got %d", len(up.calls))
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	up := &fakeUpstream{pages: makePages(0, 10)}
	mutations := map[string]func(*Options){
		"max_queries": func(o *Options) { o.MaxQueries = -1 },
		"min_results": func(o *Options) { o.MinResults = -5 },
		"pause":       func(o *Options) { o.Pause = -time.Second },
		"jitter":      func(o *Options) { o.Jitter = 2 },
		"padding":     func(o *Options) { o.FirstPagePadding = -1 },
	}
	for name, mutate := range mutations {
		opts := testOptions()
		mutate(&opts)
		if _, err := New(context.Background(), "test", up, up, opts); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", name, err)
		}
	}

	if _, err := New(context.Background(), "test", nil, up, testOptions()); err == nil {
		t.Errorf("expected error for missing fetcher")
	}
}

func TestSession_PassesStrictToParser(t *testing.T) {
	for _, strict := range []bool{false, true} {
		t.Run(strconv.FormatBool(strict), func(t *testing.T) {
			up := &fakeUpstream{pages: makePages(0, 10, 10)}
			opts := testOptions()
			opts.Strict = strict
			opts.MinResults = 20

			if _, err := New(context.Background(), "test", up, up, opts); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(up.strict) != 2 {
				t.Fatalf("expected 2 parses, got %d", len(up.strict))
			}
			for i, got := range up.strict {
				if got != strict {
					t.Errorf("parse %d: expected strict=%v, got %v", i, strict, got)
				}
			}
		})
	}
}

func TestSession_EnsureMinimumStopsOnEmptyPage(t *testing.T) {
	up := &fakeUpstream{pages: makePages(100, 10, 0), endless: true}
	up.pages[1].Next = "https://www.google.com/search?q=test&start=20"
	opts := testOptions()
	opts.MaxQueries = 0
	opts.MinResults = 30

	s, err := New(context.Background(), "test", up, up, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(up.calls) != 2 {
		t.Errorf("expected 2 fetches, got %d", len(up.calls))
	}
	if n := len(s.Loaded()); n != 10 {
		t.Errorf("expected 10 results, got %d", n)
	}
	if s.Exhausted() {
		t.Errorf("empty page with a cursor should not mark the session exhausted")
	}
}

// sharedPageParser hands out the same page on every call.
type sharedPageParser struct {
	page *Page
}

func (p *sharedPageParser) Parse(raw []byte, strict bool) (*Page, error) {
	return p.page, nil
}

func TestSession_PagesAreIndependentOfParser(t *testing.T) {
	up := &fakeUpstream{pages: makePages(0, 10)}
	parser := &sharedPageParser{page: &Page{
		Results: makeResults(1, 0),
		Next:    "https://www.google.com/search?q=test&start=1",
	}}
	opts := testOptions()
	opts.Lazy = true

	s, err := New(context.Background(), "test", up, parser, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.FetchNextPage(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	parser.page.Index = 99
	parser.page.Results[0].URL.Host = "changed.example"
	parser.page.Results[0].Title = "changed"

	for i := 1; i <= 2; i++ {
		p, ok := s.Page(i)
		if !ok {
			t.Fatalf("missing page %d", i)
		}
		if p.Index != i {
			t.Errorf("expected page %d to keep its index, got %d", i, p.Index)
		}
	}
	for _, r := range s.Loaded() {
		if r.Title != "Result 0" || r.URL.Host != "example.com" {
			t.Errorf("stored result changed with the parser's page: %+v", r)
		}
	}
}
