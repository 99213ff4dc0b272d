package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/FranksOps/serpent/internal/pipeline"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
)

// Format selects how results are rendered.
type Format string

const (
	FormatText  Format = "text"
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
)

const separator = "=============================="

// ParseFormat maps a flag value to a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatPlain:
		return FormatPlain, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

type jsonResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

type jsonOutcome struct {
	Query         string       `json:"query"`
	SessionID     string       `json:"session_id,omitempty"`
	TotalEstimate int64        `json:"total_estimate"`
	Results       []jsonResult `json:"results"`
	Error         string       `json:"error,omitempty"`
}

// WriteResults renders the results of every outcome. Text output announces
// each query and underlines every title; plain output drops the underline.
func WriteResults(w io.Writer, format Format, outcomes []pipeline.Outcome) error {
	if format == FormatJSON {
		out := make([]jsonOutcome, 0, len(outcomes))
		for _, o := range outcomes {
			jo := jsonOutcome{
				Query:         o.Query,
				SessionID:     o.SessionID,
				TotalEstimate: o.TotalEstimate,
				Results:       toJSON(o.Results),
			}
			if o.Err != nil {
				jo.Error = o.Err.Error()
			}
			out = append(out, jo)
		}
		return writeJSON(w, out)
	}

	for _, o := range outcomes {
		if err := writeText(w, format, o.Query, o.Results); err != nil {
			return err
		}
	}
	return nil
}

func writeText(w io.Writer, format Format, query string, results []serp.Result) error {
	if _, err := fmt.Fprintf(w, "Executing search query for %s\n\n", query); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	for _, r := range results {
		var err error
		if format == FormatPlain {
			_, err = fmt.Fprintf(w, "%s\n%s\n\n", r.Title, r.String())
		} else {
			_, err = fmt.Fprintf(w, "%s\n%s\n%s\n\n", r.Title, separator, r.String())
		}
		if err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}
	return nil
}

func toJSON(results []serp.Result) []jsonResult {
	out := make([]jsonResult, 0, len(results))
	for i, r := range results {
		out = append(out, jsonResult{Position: i + 1, Title: r.Title, URL: r.String()})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// QueryStat is the per-query line of a Summary.
type QueryStat struct {
	Query         string
	Results       int
	Pages         int
	TotalEstimate int64
	Error         string
}

// Summary aggregates a run over one or more queries.
type Summary struct {
	Queries   int
	Failed    int
	Requests  int
	Pages     int
	Results   int
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	PerQuery  []QueryStat
	TopHosts  map[string]int
}

// GenerateSummary aggregates pipeline outcomes.
func GenerateSummary(outcomes []pipeline.Outcome) Summary {
	s := Summary{TopHosts: make(map[string]int)}

	for _, o := range outcomes {
		s.Queries++
		s.Requests += o.Requests
		s.Pages += o.Pages
		s.Results += len(o.Results)

		qs := QueryStat{Query: o.Query, Results: len(o.Results), Pages: o.Pages, TotalEstimate: o.TotalEstimate}
		if o.Err != nil {
			s.Failed++
			qs.Error = o.Err.Error()
		}
		s.PerQuery = append(s.PerQuery, qs)

		for _, r := range o.Results {
			if r.URL == nil {
				continue
			}
			s.TopHosts[strings.TrimPrefix(r.URL.Hostname(), "www.")]++
		}

		if o.Started.IsZero() {
			continue
		}
		if s.StartTime.IsZero() || o.Started.Before(s.StartTime) {
			s.StartTime = o.Started
		}
		if o.Finished.After(s.EndTime) {
			s.EndTime = o.Finished
		}
	}

	if !s.StartTime.IsZero() {
		s.Duration = s.EndTime.Sub(s.StartTime)
	}
	return s
}

// HostCount is a host and the number of results pointing at it.
type HostCount struct {
	Host  string
	Count int
}

// Hosts returns up to n hosts by descending result count.
func (s Summary) Hosts(n int) []HostCount {
	out := make([]HostCount, 0, len(s.TopHosts))
	for h, c := range s.TopHosts {
		out = append(out, HostCount{Host: h, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Host < out[j].Host
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// WriteSummaryJSON writes the summary in JSON format.
func WriteSummaryJSON(w io.Writer, summary Summary) error {
	return writeJSON(w, summary)
}

var summaryTmpl = template.Must(template.New("summary").Parse(`Serpent Run Summary
-------------------
Duration:      {{.Duration}}
Queries:       {{.Queries}} ({{.Failed}} failed)
Requests:      {{.Requests}}
Pages:         {{.Pages}}
Results:       {{.Results}}

Per Query:
{{- range .PerQuery}}
  {{printf "%q" .Query}}: {{.Results}} results from {{.Pages}} pages, about {{.TotalEstimate}} total{{if .Error}} (error: {{.Error}}){{end}}
{{- else}}
  None
{{- end}}

Top Hosts:
{{- range .Hosts 5}}
  {{.Host}}: {{.Count}}
{{- else}}
  None
{{- end}}
`))

// WriteSummaryText writes a human-readable summary.
func WriteSummaryText(w io.Writer, summary Summary) error {
	if err := summaryTmpl.Execute(w, summary); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	return nil
}

var historyTmpl = template.Must(template.New("history").Parse(`
{{- range .}}{{.CreatedAt.Format "2006-01-02 15:04:05"}}  {{printf "%q" .Query}} page {{.PageIndex}}: {{len .Results}} results, about {{.TotalEstimate}} total (session {{.SessionID}})
{{end}}`))

// WriteHistory renders stored pages, one line per page, or as JSON.
func WriteHistory(w io.Writer, format Format, pages []*storage.PageRecord) error {
	if format == FormatJSON {
		if pages == nil {
			pages = []*storage.PageRecord{}
		}
		return writeJSON(w, pages)
	}
	if err := historyTmpl.Execute(w, pages); err != nil {
		return fmt.Errorf("render history: %w", err)
	}
	return nil
}
