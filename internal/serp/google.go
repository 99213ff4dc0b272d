package serp

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	resultSelector      = "div.g"
	nestedSelector      = "div.g div.g"
	resultStatsSelector = "#result-stats, #resultStats"
	nextSelector        = "a#pnnext"
	prevSelector        = "a#pnprev"
)

var estimateRe = regexp.MustCompile(`\d[\d,.\x{00a0} ]*\d|\d`)

// GoogleParser parses Google result page HTML. Relative links are resolved
// against Base.
type GoogleParser struct {
	Base *url.URL
}

var _ PageParser = (*GoogleParser)(nil)

// NewGoogleParser creates a parser resolving links against base, usually
// the search endpoint.
func NewGoogleParser(base string) (*GoogleParser, error) {
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &GoogleParser{Base: u}, nil
}

// Parse extracts the organic results, the total estimate and the
// pagination cursors. A missing estimate yields 0 and a missing next
// control marks the last page.
func (p *GoogleParser) Parse(raw []byte, strict bool) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Entry: -1, Reason: "invalid html", Err: err}
	}

	page := &Page{}
	var parseErr error
	doc.Find(resultSelector).Not(nestedSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		r, err := p.parseResult(s)
		if err != nil {
			if strict {
				parseErr = &ParseError{Entry: i, Reason: err.Error()}
				return false
			}
			return true
		}
		page.Results = append(page.Results, r)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	total, err := parseEstimate(doc.Find(resultStatsSelector).First().Text())
	if err != nil {
		if strict {
			return nil, &ParseError{Entry: -1, Reason: "result estimate", Err: err}
		}
		total = 0
	}
	page.TotalEstimate = total

	page.Next = p.cursor(doc.Find(nextSelector).First())
	page.Prev = p.cursor(doc.Find(prevSelector).First())
	return page, nil
}

func (p *GoogleParser) parseResult(s *goquery.Selection) (Result, error) {
	h3 := s.Find("h3").First()
	title := strings.Join(strings.Fields(h3.Text()), " ")
	if title == "" {
		return Result{}, fmt.Errorf("missing title")
	}

	link := h3.Find("a[href]").First()
	if link.Length() == 0 {
		link = h3.ParentsFiltered("a[href]").First()
	}
	if link.Length() == 0 {
		link = s.Find("a[href]").First()
	}
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return Result{}, fmt.Errorf("missing link for %q", title)
	}

	u, err := p.resolveResultURL(strings.TrimSpace(href))
	if err != nil {
		return Result{}, err
	}
	return Result{Title: title, URL: u}, nil
}

// resolveResultURL unwraps Google's /url?q=<target> redirects and rejects
// anything that is not an absolute http(s) link.
func (p *GoogleParser) resolveResultURL(href string) (*url.URL, error) {
	u, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("invalid link %q: %w", href, err)
	}
	if p.Base != nil {
		u = p.Base.ResolveReference(u)
	}

	if u.Path == "/url" && p.Base != nil && u.Host == p.Base.Host {
		q := u.Query()
		target := q.Get("q")
		if target == "" {
			target = q.Get("url")
		}
		if target == "" {
			return nil, fmt.Errorf("redirect link %q has no target", href)
		}
		if u, err = url.Parse(target); err != nil {
			return nil, fmt.Errorf("invalid redirect target %q: %w", target, err)
		}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("unsupported link %q", u.String())
	}
	return u, nil
}

func (p *GoogleParser) cursor(a *goquery.Selection) string {
	href, ok := a.Attr("href")
	if !ok || href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if p.Base != nil {
		u = p.Base.ResolveReference(u)
	}
	return u.String()
}

// parseEstimate reads the result count of a summary such as
// "About 2,390,000,000 results (0.45 seconds)". Empty text yields 0.
func parseEstimate(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}
	// "Page 2 of about 1,230 results": the estimate is the number closest
	// before the word "result".
	scope := text
	if i := strings.Index(strings.ToLower(text), "result"); i > 0 {
		scope = text[:i]
	}
	matches := estimateRe.FindAllString(scope, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no number in %q", text)
	}
	m := matches[len(matches)-1]
	if scope == text {
		m = matches[0]
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, m)
	return strconv.ParseInt(digits, 10, 64)
}
