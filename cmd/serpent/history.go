package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/serpent/internal/report"
	"github.com/FranksOps/serpent/internal/storage"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		filter  storage.Filter
		since   time.Duration
		store   string
		dsn     string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List result pages exported by earlier runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if store != "" {
				a.cfg.Store.Driver = store
			}
			if dsn != "" {
				a.cfg.Store.DSN = dsn
			}
			backend, err := openStore(cmd.Context(), a.cfg.Store)
			if err != nil {
				return err
			}
			if backend == nil {
				return errors.New("no store configured; set store.driver or pass --store")
			}
			defer backend.Close()

			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			pages, err := backend.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}

			format := report.FormatText
			if jsonOut {
				format = report.FormatJSON
			}
			return report.WriteHistory(cmd.OutOrStdout(), format, pages)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&filter.Query, "query", "", "only pages of this query")
	fs.StringVar(&filter.SessionID, "session", "", "only pages of this session")
	fs.DurationVar(&since, "since", 0, "only pages stored within this duration, e.g. 24h")
	fs.IntVar(&filter.Limit, "limit", 20, "maximum number of pages")
	fs.IntVar(&filter.Offset, "offset", 0, "pages to skip")
	fs.StringVar(&store, "store", "", "storage driver: sqlite, postgres, json, csv")
	fs.StringVar(&dsn, "dsn", "", "storage location (file path or postgres dsn)")
	fs.BoolVar(&jsonOut, "json", false, "print pages as JSON")
	return cmd
}
