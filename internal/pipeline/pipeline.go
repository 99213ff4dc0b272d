package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/serpent/internal/metrics"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
)

const defaultConcurrency = 2

// Outcome is what a single query produced. Err is set when the session
// failed; the pages fetched before the failure are still counted and stored.
type Outcome struct {
	Query         string
	SessionID     string
	Results       []serp.Result
	Pages         int
	Requests      int
	TotalEstimate int64
	Exhausted     bool
	Started       time.Time
	Finished      time.Time
	Err           error
}

// Pipeline runs queries as independent sessions sharing one fetcher and
// parser. Sessions run concurrently; each one fetches its pages in order.
type Pipeline struct {
	Fetcher serp.PageFetcher
	Parser  serp.PageParser
	Options serp.Options
	// Backend receives every fetched page when set.
	Backend     storage.Backend
	Concurrency int
	Logger      *slog.Logger

	now func() time.Time
}

// Run collects count results for each query. Outcomes are returned in
// query order. The returned error is reserved for failures that affect the
// whole run (invalid input, storage, cancellation); per-query failures are
// reported in Outcome.Err.
func (p *Pipeline) Run(ctx context.Context, queries []string, count int) ([]Outcome, error) {
	if p.Fetcher == nil || p.Parser == nil {
		return nil, errors.New("pipeline: fetcher and parser are required")
	}
	if count < 1 {
		return nil, fmt.Errorf("pipeline: result count must be positive, got %d", count)
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := p.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	outcomes := make([]Outcome, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			outcomes[i] = Outcome{Query: q, Err: errors.New("empty query")}
			continue
		}
		g.Go(func() error {
			out, err := p.runOne(gctx, q, count, logger)
			outcomes[i] = out
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, ctx.Err()
}

func (p *Pipeline) runOne(ctx context.Context, query string, count int, logger *slog.Logger) (Outcome, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	out := Outcome{Query: query, Started: now()}

	opts := p.Options
	opts.MinResults = count
	opts.Lazy = true
	if opts.Logger == nil {
		opts.Logger = logger
	}

	s, err := serp.New(ctx, query, p.Fetcher, p.Parser, opts)
	if err != nil {
		out.Err = err
		out.Finished = now()
		metrics.RecordSession("error")
		return out, nil
	}
	out.SessionID = s.ID()

	fillErr := s.EnsureMinimum(ctx, count)

	offset := 0
	for _, page := range s.Pages() {
		metrics.RecordPage(page.Count())
		if p.Backend != nil {
			rec := storage.NewPageRecord(s.ID(), query, page, offset, now())
			if err := p.Backend.Save(ctx, rec); err != nil {
				return out, fmt.Errorf("store page %d of %q: %w", page.Index, query, err)
			}
		}
		offset += page.Count()
	}

	results := s.Loaded()
	if len(results) > count {
		results = results[:count]
	}
	out.Results = results
	out.Pages = s.CurrentPage()
	out.Requests = s.QueryCount()
	out.TotalEstimate = s.TotalEstimate()
	out.Exhausted = s.Exhausted()
	out.Finished = now()

	if fillErr != nil {
		out.Err = fillErr
		metrics.RecordSession("error")
		logger.Warn("search failed", "query", query, "pages", out.Pages, "error", fillErr)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		return out, nil
	}

	metrics.RecordSession("ok")
	logger.Info("search finished",
		"query", query,
		"session", s.ID(),
		"results", len(results),
		"pages", out.Pages,
		"estimate", out.TotalEstimate,
	)
	return out, nil
}
