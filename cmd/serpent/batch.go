package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newBatchCmd(a *app) *cobra.Command {
	f := &runFlags{}
	var concurrency int

	cmd := &cobra.Command{
		Use:   "batch [flags] FILE",
		Short: "Run every query listed in FILE, one per line (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, a)
			if cmd.Flags().Changed("concurrency") {
				a.cfg.Search.Concurrency = concurrency
			}

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open query file: %w", err)
				}
				defer file.Close()
				in = file
			}

			queries, err := readQueries(in)
			if err != nil {
				return err
			}
			if len(queries) == 0 {
				return fmt.Errorf("no queries in %s", args[0])
			}
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f, queries)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "queries searched in parallel")
	return cmd
}

// readQueries returns the non-blank lines of r that do not start with '#'.
func readQueries(r io.Reader) ([]string, error) {
	var queries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	return queries, nil
}
