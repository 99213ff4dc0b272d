package serp

import (
	"log/slog"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPerPage          = 10
	DefaultMaxQueries       = 10
	DefaultPause            = 500 * time.Millisecond
	DefaultFirstPagePadding = 10
	DefaultBaseURL          = "https://www.google.com/search"
)

// Options configures a Session. Start from DefaultOptions; the zero value
// is rejected because PerPage must be in [1, MaxPerPage].
type Options struct {
	// PerPage is the page size requested from the upstream.
	PerPage int
	// MinResults is the eager-fill target. Zero means PerPage.
	MinResults int
	// MaxQueries caps the number of fetch cycles. Zero means no cap.
	MaxQueries int
	// Pause is slept between fetches of one fill loop. Zero disables it.
	Pause time.Duration
	// Jitter randomises Pause by up to +/- Jitter*Pause (0.0 to 1.0).
	Jitter float64
	// FirstPagePadding is added to the first request's count because the
	// upstream tends to return fewer results than asked on page one.
	FirstPagePadding int
	// Strict fails a page parse on the first malformed entry.
	Strict bool
	// Lazy defers all fetching until results are requested.
	Lazy bool
	// BaseURL is the search endpoint the query is appended to.
	BaseURL string
	Logger  *slog.Logger
}

// DefaultOptions returns the settings used by the CLI when nothing is
// configured.
func DefaultOptions() Options {
	return Options{
		PerPage:          DefaultPerPage,
		MaxQueries:       DefaultMaxQueries,
		Pause:            DefaultPause,
		FirstPagePadding: DefaultFirstPagePadding,
		BaseURL:          DefaultBaseURL,
	}
}

func (o Options) validate() (Options, error) {
	if err := validatePerPage(o.PerPage); err != nil {
		return o, err
	}
	if o.MinResults < 0 {
		return o, &ConfigError{Field: "min_results", Value: o.MinResults, Reason: "must not be negative"}
	}
	if o.MinResults == 0 {
		o.MinResults = o.PerPage
	}
	if o.MaxQueries < 0 {
		return o, &ConfigError{Field: "max_queries", Value: o.MaxQueries, Reason: "must not be negative"}
	}
	if o.Pause < 0 {
		return o, &ConfigError{Field: "pause", Value: o.Pause, Reason: "must not be negative"}
	}
	if o.Jitter < 0 || o.Jitter > 1 {
		return o, &ConfigError{Field: "jitter", Value: o.Jitter, Reason: "must be between 0 and 1"}
	}
	if o.FirstPagePadding < 0 {
		return o, &ConfigError{Field: "first_page_padding", Value: o.FirstPagePadding, Reason: "must not be negative"}
	}
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(o.BaseURL); err != nil {
		return o, &ConfigError{Field: "base_url", Value: o.BaseURL, Reason: err.Error()}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

func validatePerPage(n int) error {
	if n < 1 || n > MaxPerPage {
		return &ConfigError{Field: "per_page", Value: n, Reason: "must be between 1 and 100"}
	}
	return nil
}

// QueryURL builds the first-page target for query against base.
func QueryURL(base, query string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + url.Values{"q": {query}}.Encode()
}
