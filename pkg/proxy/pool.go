package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

type entry struct {
	url       *url.URL
	failures  int
	successes int
	benchedAt time.Time
	benched   bool
}

// Pool rotates through proxies and benches the ones that keep failing.
// It is safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	entries     []*entry
	next        int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// Config defines settings for the Pool.
type Config struct {
	// MaxFailures is the number of consecutive failures that bench a proxy.
	MaxFailures int
	// Cooldown is how long a benched proxy is skipped.
	Cooldown time.Duration
}

// NewPool creates an empty pool. Zero config values fall back to 3 failures
// and a five minute cooldown.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// LoadFile adds the proxies listed in path.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy list: %w", err)
	}
	defer f.Close()
	return p.Load(f)
}

// Load adds one proxy per line. Blank lines and lines starting with '#'
// are skipped.
func (p *Pool) Load(r io.Reader) error {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read proxy list: %w", err)
	}
	return p.Add(urls...)
}

// Add parses and appends proxies. A missing scheme defaults to http.
// Nothing is added if any entry is invalid.
func (p *Pool) Add(raw ...string) error {
	parsed := make([]*entry, 0, len(raw))
	for _, s := range raw {
		if !strings.Contains(s, "://") {
			s = "http://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("parse proxy %q: %w", s, err)
		}
		if u.Host == "" {
			return fmt.Errorf("parse proxy %q: missing host", s)
		}
		parsed = append(parsed, &entry{url: u})
	}

	p.mu.Lock()
	p.entries = append(p.entries, parsed...)
	p.mu.Unlock()
	return nil
}

// Len returns the number of proxies, benched ones included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next proxy that is not benched, or nil when the pool is
// empty or every proxy is cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.entries {
		e := p.entries[p.next]
		p.next = (p.next + 1) % len(p.entries)

		if e.benched && now.Sub(e.benchedAt) >= p.cooldown {
			e.benched = false
			e.failures = 0
		}
		if !e.benched {
			return e.url
		}
	}
	return nil
}

// Report records the outcome of a request sent through u. Failures bench
// the proxy after MaxFailures in a row; a success resets the streak.
func (p *Pool) Report(u *url.URL, ok bool) {
	if u == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	target := u.String()
	for _, e := range p.entries {
		if e.url.String() != target {
			continue
		}
		if ok {
			e.successes++
			e.failures = 0
			return
		}
		e.failures++
		if e.failures >= p.maxFailures && !e.benched {
			e.benched = true
			e.benchedAt = p.now()
		}
		return
	}
}

type ctxKey struct{}

// WithProxy returns a context routing requests made with it through u.
func WithProxy(ctx context.Context, u *url.URL) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the proxy stored by WithProxy.
func FromContext(ctx context.Context) (*url.URL, bool) {
	u, ok := ctx.Value(ctxKey{}).(*url.URL)
	return u, ok && u != nil
}

// ContextProxy is an http.Transport Proxy func honouring WithProxy and
// falling back to the environment.
func ContextProxy(req *http.Request) (*url.URL, error) {
	if u, ok := FromContext(req.Context()); ok {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}
