package serp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSearch_ReturnsRequestedCount(t *testing.T) {
	up := &fakeUpstream{pages: makePages(1000, 30, 30)}
	opts := testOptions()
	opts.Pause = time.Second

	start := time.Now()
	results, err := Search(context.Background(), "test query", 20, up, up, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 20 {
		t.Errorf("expected 20 results, got %d", len(results))
	}
	if len(up.calls) != 1 {
		t.Errorf("expected a single fetch, got %d", len(up.calls))
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("single-page search should not pause")
	}
	if up.calls[0].Target != "https://www.google.com/search?q=test+query" {
		t.Errorf("unexpected target %q", up.calls[0].Target)
	}
}

func TestSearch_SpansPages(t *testing.T) {
	up := &fakeUpstream{pages: makePages(1000, 10, 10, 10)}

	results, err := Search(context.Background(), "test query", 25, up, up, testOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 25 {
		t.Errorf("expected 25 results, got %d", len(results))
	}
	if len(up.calls) != 3 {
		t.Errorf("expected 3 fetches, got %d", len(up.calls))
	}
}

func TestSearch_ShortUpstream(t *testing.T) {
	up := &fakeUpstream{pages: makePages(7, 7)}

	results, err := Search(context.Background(), "rare", 50, up, up, testOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 7 {
		t.Errorf("expected 7 results, got %d", len(results))
	}
}

func TestSearch_QueryBudget(t *testing.T) {
	up := &fakeUpstream{pages: makePages(0, 1), endless: true}
	up.pages[0].Next = "https://www.google.com/search?q=x&start=1"

	results, err := Search(context.Background(), "x", 150, up, up, testOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 150/100 + allowance
	if len(up.calls) != 1+searchQueryAllowance {
		t.Errorf("expected %d fetches, got %d", 1+searchQueryAllowance, len(up.calls))
	}
	if len(results) != len(up.calls) {
		t.Errorf("expected one result per fetch, got %d", len(results))
	}
}

func TestSearch_InvalidCount(t *testing.T) {
	up := &fakeUpstream{pages: makePages(0, 10)}
	if _, err := Search(context.Background(), "x", 0, up, up, testOptions()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}
