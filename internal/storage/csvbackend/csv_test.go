package csvbackend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/serpent/internal/storage"
)

func TestCSVBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.csv")
	b, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create CSV backend: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()

	first := &storage.PageRecord{
		ID: "p1", SessionID: "s1", Query: "golang", PageIndex: 1, TotalEstimate: 2390000000,
		Next:      "https://www.google.com/search?q=golang&start=10",
		CreatedAt: now.Add(-time.Hour),
		Results: []storage.ResultRow{
			{Position: 1, Title: "The Go Programming Language", URL: "https://go.dev/"},
			{Position: 2, Title: `Go, "the" language`, URL: "https://en.wikipedia.org/wiki/Go_(programming_language)"},
		},
	}
	empty := &storage.PageRecord{ID: "p2", SessionID: "s1", Query: "golang", PageIndex: 2, CreatedAt: now}
	if err := b.Save(ctx, first); err != nil {
		t.Fatalf("Failed to save first page: %v", err)
	}
	if err := b.Save(ctx, empty); err != nil {
		t.Fatalf("Failed to save empty page: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	// Reopening must not duplicate the header.
	b, err = New(path)
	if err != nil {
		t.Fatalf("Failed to reopen CSV backend: %v", err)
	}
	defer b.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if n := strings.Count(string(data), "page_id,session_id"); n != 1 {
		t.Errorf("Expected a single header row, got %d", n)
	}

	pages, err := b.Query(ctx, storage.Filter{Query: "golang"})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("Expected 2 pages, got %d", len(pages))
	}
	if pages[0].ID != "p2" || len(pages[0].Results) != 0 {
		t.Errorf("Expected empty newest page first, got %+v", pages[0])
	}

	got := pages[1]
	if got.TotalEstimate != first.TotalEstimate || got.Next != first.Next || got.PageIndex != 1 {
		t.Errorf("Unexpected page fields %+v", got)
	}
	if len(got.Results) != 2 || got.Results[1] != first.Results[1] {
		t.Errorf("Expected results %v, got %v", first.Results, got.Results)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("Expected CreatedAt %v, got %v", first.CreatedAt, got.CreatedAt)
	}

	since := now.Add(-time.Minute)
	recent, err := b.Query(ctx, storage.Filter{Since: &since})
	if err != nil {
		t.Fatalf("Failed to query since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "p2" {
		t.Errorf("Expected only p2, got %v", recent)
	}

	none, err := b.Query(ctx, storage.Filter{SessionID: "missing"})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no pages, got %d", len(none))
	}
}
