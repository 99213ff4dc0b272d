package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestMetricsServer(t *testing.T) {
	srv, err := Start(0, nil)
	if err != nil {
		t.Fatalf("failed to start metrics server: %v", err)
	}
	defer srv.Stop(context.Background())

	RecordFetch(Fetch{
		Host:       "www.google.com",
		StatusCode: 200,
		Duration:   time.Second,
		Bytes:      11,
	})
	RecordFetch(Fetch{Host: "www.google.com", StatusCode: 429, BlockedBy: "RateLimit"})
	RecordPage(10)
	RecordSession("ok")

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	output := string(body)

	for _, want := range []string{
		`serpent_fetch_requests_total{blocked_by="",host="www.google.com",status="200"}`,
		`serpent_fetch_requests_total{blocked_by="RateLimit",host="www.google.com",status="429"}`,
		`serpent_fetch_duration_seconds_bucket`,
		`serpent_fetch_bytes_total{host="www.google.com"} 11`,
		`serpent_pages_total`,
		`serpent_results_total`,
		`serpent_sessions_total{outcome="ok"}`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in metrics output", want)
		}
	}
}

func TestStopNil(t *testing.T) {
	var s *Server
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
