package serp

import "context"

// searchQueryAllowance is added to count/100 when deriving MaxQueries for
// a one-shot search, leaving room for short pages.
const searchQueryAllowance = 3

// Search returns the first count results for query. It runs an eager
// Session with MinResults set to count and a query budget derived from
// count; the other fields of base (Strict, Pause, BaseURL, Logger, ...)
// are kept. Fewer than count results are returned when the upstream runs
// out.
func Search(ctx context.Context, query string, count int, fetcher PageFetcher, parser PageParser, base Options) ([]Result, error) {
	if count < 1 {
		return nil, &ConfigError{Field: "count", Value: count, Reason: "must be positive"}
	}

	opts := base
	opts.PerPage = min(count, MaxPerPage)
	opts.MinResults = count
	opts.MaxQueries = count/MaxPerPage + searchQueryAllowance
	opts.Lazy = false

	s, err := New(ctx, query, fetcher, parser, opts)
	if err != nil {
		return nil, err
	}

	results := s.Loaded()
	if len(results) > count {
		results = results[:count]
	}
	return results, nil
}
