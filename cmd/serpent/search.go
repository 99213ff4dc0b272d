package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FranksOps/serpent/internal/metrics"
	"github.com/FranksOps/serpent/internal/pipeline"
	"github.com/FranksOps/serpent/internal/report"
	"github.com/FranksOps/serpent/internal/scraper"
	"github.com/FranksOps/serpent/internal/serp"
)

// runFlags are shared by search and batch.
type runFlags struct {
	results     int
	plain       bool
	json        bool
	summary     bool
	strict      bool
	perPage     int
	maxQueries  int
	baseURL     string
	fingerprint string
	store       string
	dsn         string
	metricsPort int
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVarP(&f.results, "results", "r", 10, "number of results to collect per query")
	fs.BoolVar(&f.plain, "plain", false, "print titles and URLs without decoration")
	fs.BoolVar(&f.json, "json", false, "print results as JSON")
	fs.BoolVar(&f.summary, "summary", false, "print a run summary to stderr")
	fs.BoolVar(&f.strict, "strict", false, "fail on the first malformed result entry")
	fs.IntVar(&f.perPage, "per-page", 0, "results requested per page (1-100)")
	fs.IntVar(&f.maxQueries, "max-queries", 0, "maximum requests per query")
	fs.StringVar(&f.baseURL, "base-url", "", "search endpoint")
	fs.StringVar(&f.fingerprint, "fingerprint", "", "TLS fingerprint: chrome, firefox, safari, go, random")
	fs.StringVar(&f.store, "store", "", "export pages to: sqlite, postgres, json, csv")
	fs.StringVar(&f.dsn, "dsn", "", "storage location (file path or postgres dsn)")
	fs.IntVar(&f.metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port")
}

func (f *runFlags) format() report.Format {
	switch {
	case f.json:
		return report.FormatJSON
	case f.plain:
		return report.FormatPlain
	}
	return report.FormatText
}

// apply copies explicitly set flags over the loaded configuration.
func (f *runFlags) apply(cmd *cobra.Command, a *app) {
	fs := cmd.Flags()
	if fs.Changed("strict") {
		a.cfg.Search.Strict = f.strict
	}
	if fs.Changed("per-page") {
		a.cfg.Search.PerPage = f.perPage
	}
	if fs.Changed("max-queries") {
		a.cfg.Search.MaxQueries = f.maxQueries
	}
	if f.baseURL != "" {
		a.cfg.Search.BaseURL = f.baseURL
	}
	if f.fingerprint != "" {
		a.cfg.HTTP.Fingerprint = f.fingerprint
	}
	if f.store != "" {
		a.cfg.Store.Driver = f.store
	}
	if f.dsn != "" {
		a.cfg.Store.DSN = f.dsn
	}
	if fs.Changed("metrics-port") {
		a.cfg.Metrics.Port = f.metricsPort
	}
}

func newSearchCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "search [flags] QUERY...",
		Short: "Search Google and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, a)
			query := strings.Join(args, " ")
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f, []string{query})
		},
	}
	f.register(cmd)
	return cmd
}

// run executes queries through the pipeline and renders the outcome. It
// fails when any query failed, after printing what was collected.
func (a *app) run(ctx context.Context, stdout, stderr io.Writer, f *runFlags, queries []string) error {
	if f.results < 1 {
		return fmt.Errorf("--results must be positive, got %d", f.results)
	}

	if a.cfg.Metrics.Port > 0 {
		srv, err := metrics.Start(a.cfg.Metrics.Port, a.logger)
		if err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	fetchCfg, err := a.cfg.FetchConfig(a.logger)
	if err != nil {
		return err
	}
	fetcher, err := scraper.NewFetcher(fetchCfg)
	if err != nil {
		return err
	}
	parser, err := serp.NewGoogleParser(a.cfg.Search.BaseURL)
	if err != nil {
		return err
	}

	backend, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	if backend != nil {
		defer backend.Close()
	}

	p := &pipeline.Pipeline{
		Fetcher:     fetcher,
		Parser:      parser,
		Options:     a.cfg.SessionOptions(a.logger),
		Backend:     backend,
		Concurrency: a.cfg.Search.Concurrency,
		Logger:      a.logger,
	}

	outcomes, runErr := p.Run(ctx, queries, f.results)

	if err := report.WriteResults(stdout, f.format(), outcomes); err != nil {
		return err
	}
	if f.summary {
		if err := report.WriteSummaryText(stderr, report.GenerateSummary(outcomes)); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	var failed []error
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, fmt.Errorf("%q: %w", o.Query, o.Err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d queries failed: %w", len(failed), len(outcomes), errors.Join(failed...))
	}
	return nil
}
