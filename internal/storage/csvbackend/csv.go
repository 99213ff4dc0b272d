package csvbackend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/serpent/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

// header is the column order. Each row is one result; a page without
// results is written as a single row with empty result columns.
var header = []string{
	"page_id",
	"session_id",
	"query",
	"page_index",
	"total_estimate",
	"next",
	"created_at",
	"position",
	"title",
	"url",
}

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// New opens a CSV file, writing the header row if the file is empty.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv store: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv store: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}

	return &csvBackend{file: f}, nil
}

func (b *csvBackend) Save(ctx context.Context, rec *storage.PageRecord) error {
	page := []string{
		rec.ID,
		rec.SessionID,
		rec.Query,
		strconv.Itoa(rec.PageIndex),
		strconv.FormatInt(rec.TotalEstimate, 10),
		rec.Next,
		rec.CreatedAt.Format(time.RFC3339Nano),
	}

	var rows [][]string
	for _, r := range rec.Results {
		rows = append(rows, append(append([]string(nil), page...), strconv.Itoa(r.Position), r.Title, r.URL))
	}
	if len(rows) == 0 {
		rows = append(rows, append(page, "", "", ""))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.PageRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)
	r.FieldsPerRecord = len(header)

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*storage.PageRecord{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var pages []*storage.PageRecord
	byID := map[string]*storage.PageRecord{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		rec, ok := byID[row[0]]
		if !ok {
			rec, err = parsePage(row)
			if err != nil {
				return nil, err
			}
			byID[rec.ID] = rec
			pages = append(pages, rec)
		}

		if row[7] == "" {
			continue
		}
		pos, err := strconv.Atoi(row[7])
		if err != nil {
			return nil, fmt.Errorf("page %s: bad position %q", rec.ID, row[7])
		}
		rec.Results = append(rec.Results, storage.ResultRow{Position: pos, Title: row[8], URL: row[9]})
	}

	var matched []*storage.PageRecord
	for i := len(pages) - 1; i >= 0; i-- {
		if filter.Match(pages[i]) {
			matched = append(matched, pages[i])
		}
	}
	return filter.Window(matched), nil
}

func parsePage(row []string) (*storage.PageRecord, error) {
	index, err := strconv.Atoi(row[3])
	if err != nil {
		return nil, fmt.Errorf("page %s: bad page index %q", row[0], row[3])
	}
	total, err := strconv.ParseInt(row[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("page %s: bad total estimate %q", row[0], row[4])
	}
	createdAt, err := time.Parse(time.RFC3339Nano, row[6])
	if err != nil {
		return nil, fmt.Errorf("page %s: bad timestamp %q", row[0], row[6])
	}
	return &storage.PageRecord{
		ID:            row[0],
		SessionID:     row[1],
		Query:         row[2],
		PageIndex:     index,
		TotalEstimate: total,
		Next:          row[5],
		CreatedAt:     createdAt,
	}, nil
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
