package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/FranksOps/serpent/internal/bypass"
	"github.com/FranksOps/serpent/internal/fingerprint"
	"github.com/FranksOps/serpent/internal/metrics"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/pkg/httpclient"
	"github.com/FranksOps/serpent/pkg/proxy"
	"github.com/FranksOps/serpent/pkg/ratelimit"
	"github.com/FranksOps/serpent/pkg/useragent"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRedirects = 5
	defaultLanguage     = "en"
)

// ErrBlocked matches every *BlockedError.
var ErrBlocked = errors.New("request blocked")

// BlockedError is returned when the upstream answered with a block or
// challenge page instead of results.
type BlockedError struct {
	URL        string
	StatusCode int
	Source     string
	Reason     string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by %s (%s) fetching %s", e.Source, e.Reason, e.URL)
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// FetchConfig configures the result page fetcher.
type FetchConfig struct {
	Timeout time.Duration
	// MaxRedirects defaults to 5; negative disables following redirects.
	MaxRedirects int
	UseCookieJar bool
	// Language is sent as the hl parameter and in Accept-Language.
	Language    string
	ProxyPool   *proxy.Pool
	UAPool      *useragent.Pool
	Fingerprint fingerprint.Profile
	Limiter     *ratelimit.Limiter
	Detectors   []bypass.Detector
	Logger      *slog.Logger
}

// Fetcher downloads result pages. It holds one client across requests so a
// cookie jar, when enabled, persists for the fetcher's lifetime.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
	logger *slog.Logger
}

var _ serp.PageFetcher = (*Fetcher)(nil)

// NewFetcher initializes a Fetcher, filling zero config values with defaults.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil, useragent.Sequential)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// The proxy is chosen per request and travels in the request context.
	transport, err := fingerprint.Transport(fingerprint.Config{
		Profile: cfg.Fingerprint,
		Proxy:   proxy.ContextProxy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Fetcher{config: cfg, client: client, logger: cfg.Logger}, nil
}

// Fetch downloads the page at req.Target asking for req.Count results.
// Block and challenge pages are reported as *BlockedError.
func (f *Fetcher) Fetch(ctx context.Context, req serp.Request) ([]byte, error) {
	if err := f.config.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	target, err := f.requestURL(req)
	if err != nil {
		return nil, err
	}
	host := target.Hostname()

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		if activeProxy = f.config.ProxyPool.Next(); activeProxy != nil {
			ctx = proxy.WithProxy(ctx, activeProxy)
		}
	}

	header := http.Header{}
	header.Set("User-Agent", f.config.UAPool.Pick())
	header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	header.Set("Accept-Language", f.config.Language+";q=0.9,*;q=0.5")

	start := time.Now()
	resp, err := f.client.Get(ctx, target.String(), header)
	elapsed := time.Since(start)

	var statusErr *httpclient.StatusError
	if err != nil && !errors.As(err, &statusErr) {
		f.reportProxy(activeProxy, false)
		metrics.RecordFetch(metrics.Fetch{Host: host, Failed: true, Duration: elapsed})
		return nil, err
	}

	det, blocked := bypass.Analyze(&bypass.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		FinalURL:   resp.FinalURL,
	}, f.config.Detectors)

	metrics.RecordFetch(metrics.Fetch{
		Host:       host,
		StatusCode: resp.StatusCode,
		BlockedBy:  det.Source,
		Duration:   elapsed,
		Bytes:      len(resp.Body),
	})
	f.logger.Debug("fetched result page",
		"url", target.String(),
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
		"duration", elapsed,
	)

	if blocked {
		f.reportProxy(activeProxy, false)
		return nil, &BlockedError{
			URL:        target.String(),
			StatusCode: resp.StatusCode,
			Source:     det.Source,
			Reason:     det.Reason,
		}
	}
	if err != nil {
		f.reportProxy(activeProxy, false)
		return nil, err
	}

	f.reportProxy(activeProxy, true)
	return resp.Body, nil
}

// requestURL applies the requested page size and language to the target.
func (f *Fetcher) requestURL(req serp.Request) (*url.URL, error) {
	u, err := url.Parse(req.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", req.Target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("target %q is not an absolute url", req.Target)
	}
	q := u.Query()
	if req.Count > 0 {
		q.Set("num", strconv.Itoa(req.Count))
	}
	if q.Get("hl") == "" {
		q.Set("hl", f.config.Language)
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func (f *Fetcher) reportProxy(u *url.URL, ok bool) {
	if u == nil {
		return
	}
	f.config.ProxyPool.Report(u, ok)
	if !ok {
		metrics.ProxyFailures.WithLabelValues(u.String()).Inc()
	}
}
