package storage

import (
	"context"
	"time"

	"github.com/FranksOps/serpent/internal/serp"
	"github.com/google/uuid"
)

// ResultRow is a single organic result as persisted.
type ResultRow struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

// PageRecord is one fetched result page of a search session.
type PageRecord struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"session_id"`
	Query         string      `json:"query"`
	PageIndex     int         `json:"page_index"`
	TotalEstimate int64       `json:"total_estimate"`
	Next          string      `json:"next,omitempty"`
	Results       []ResultRow `json:"results"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewPageRecord converts a parsed page. Positions continue from offset,
// the number of results held by earlier pages of the session.
func NewPageRecord(sessionID, query string, page *serp.Page, offset int, at time.Time) *PageRecord {
	rows := make([]ResultRow, 0, len(page.Results))
	for i, r := range page.Results {
		rows = append(rows, ResultRow{Position: offset + i + 1, Title: r.Title, URL: r.String()})
	}
	return &PageRecord{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		Query:         query,
		PageIndex:     page.Index,
		TotalEstimate: page.TotalEstimate,
		Next:          page.Next,
		Results:       rows,
		CreatedAt:     at.UTC(),
	}
}

// Filter selects stored pages. Zero fields match everything.
type Filter struct {
	Query     string
	SessionID string
	Since     *time.Time
	Limit     int
	Offset    int
}

// Match reports whether rec passes the filter's predicates. Backends that
// filter in memory use it; Limit and Offset are applied by the caller.
func (f Filter) Match(rec *PageRecord) bool {
	if f.Query != "" && rec.Query != f.Query {
		return false
	}
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.Since != nil && rec.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Window applies Offset and Limit to records already in result order.
func (f Filter) Window(recs []*PageRecord) []*PageRecord {
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return []*PageRecord{}
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}

// Backend stores and queries result pages. Query returns the newest pages
// first.
type Backend interface {
	Save(ctx context.Context, rec *PageRecord) error
	Query(ctx context.Context, filter Filter) ([]*PageRecord, error)
	Close() error
}
