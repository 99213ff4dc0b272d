package bypass

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
)

// Response is the part of an upstream reply the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// FinalURL is the address after redirects.
	FinalURL string
}

// Detection describes a block or challenge page.
type Detection struct {
	Source string
	Reason string
}

// Detector reports whether resp is a block or challenge page.
type Detector func(resp *Response) (Detection, bool)

// DefaultDetectors returns the detectors for Google result pages followed by
// the generic CDN bot protections.
func DefaultDetectors() []Detector {
	return []Detector{
		detectGoogleSorry,
		detectGoogleCaptcha,
		detectRateLimited,
		detectCloudflare,
	}
}

// Analyze runs resp through detectors and returns the first detection.
func Analyze(resp *Response, detectors []Detector) (Detection, bool) {
	if resp == nil {
		return Detection{}, false
	}
	for _, d := range detectors {
		if det, ok := d(resp); ok {
			return det, true
		}
	}
	return Detection{}, false
}

// detectGoogleSorry matches the interstitial Google redirects suspicious
// clients to.
func detectGoogleSorry(resp *Response) (Detection, bool) {
	if resp.FinalURL == "" {
		return Detection{}, false
	}
	u, err := url.Parse(resp.FinalURL)
	if err != nil {
		return Detection{}, false
	}
	if strings.HasPrefix(u.Path, "/sorry/") || u.Path == "/sorry" {
		return Detection{Source: "Google", Reason: "redirected to " + u.Path}, true
	}
	return Detection{}, false
}

func detectGoogleCaptcha(resp *Response) (Detection, bool) {
	switch {
	case bytes.Contains(resp.Body, []byte("Our systems have detected unusual traffic")):
		return Detection{Source: "Google", Reason: "unusual traffic notice"}, true
	case bytes.Contains(resp.Body, []byte(`id="captcha-form"`)),
		bytes.Contains(resp.Body, []byte("g-recaptcha")):
		return Detection{Source: "Google", Reason: "captcha challenge"}, true
	}
	return Detection{}, false
}

func detectRateLimited(resp *Response) (Detection, bool) {
	if resp.StatusCode != http.StatusTooManyRequests {
		return Detection{}, false
	}
	reason := "429 too many requests"
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		reason += ", retry after " + ra
	}
	return Detection{Source: "RateLimit", Reason: reason}, true
}

// detectCloudflare covers self-hosted search frontends sitting behind
// Cloudflare.
func detectCloudflare(resp *Response) (Detection, bool) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return Detection{}, false
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare") {
		return Detection{Source: "Cloudflare", Reason: "server header"}, true
	}
	for _, sig := range []string{"cf-browser-verification", "cf-turnstile", "Attention Required! | Cloudflare"} {
		if bytes.Contains(resp.Body, []byte(sig)) {
			return Detection{Source: "Cloudflare", Reason: sig}, true
		}
	}
	return Detection{}, false
}
