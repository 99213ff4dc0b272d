package fingerprint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile represents a recognized TLS fingerprint profile.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

// Profiles lists every supported profile.
func Profiles() []Profile {
	return []Profile{ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom}
}

// ParseProfile maps a config value to a Profile. Empty means chrome.
func ParseProfile(s string) (Profile, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ProfileChrome, nil
	}
	for _, p := range Profiles() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("fingerprint: unknown profile %q", s)
}

// Config selects the fingerprint and transport options.
type Config struct {
	Profile Profile
	// Proxy is installed as the transport's Proxy func when set.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks; tests only.
	InsecureSkipVerify bool
}

func clientHello(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedNoALPN, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("fingerprint: unknown profile %q", p)
	}
}

// Transport returns an http.RoundTripper presenting the configured TLS
// fingerprint. ProfileGo yields a plain clone of http.DefaultTransport.
// The uTLS profiles only offer http/1.1 in ALPN because the returned
// transport cannot speak HTTP/2 over a custom dialer.
func Transport(cfg Config) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != nil {
		transport.Proxy = cfg.Proxy
	}

	if cfg.Profile == ProfileGo {
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig.InsecureSkipVerify = true
		}
		return transport, nil
	}

	id, err := clientHello(cfg.Profile)
	if err != nil {
		return nil, err
	}

	dial := transport.DialContext
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn, err := handshake(ctx, tcpConn, host, id, cfg.InsecureSkipVerify)
		if err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("fingerprint: utls handshake with %s: %w", host, err)
		}
		return uConn, nil
	}

	return transport, nil
}

func handshake(ctx context.Context, conn net.Conn, host string, id utls.ClientHelloID, insecure bool) (*utls.UConn, error) {
	tlsCfg := &utls.Config{ServerName: host, InsecureSkipVerify: insecure}

	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		// Randomized hellos have no static spec.
		uConn := utls.UClient(conn, tlsCfg, id)
		return uConn, uConn.HandshakeContext(ctx)
	}

	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uConn := utls.UClient(conn, tlsCfg, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, err
	}
	return uConn, uConn.HandshakeContext(ctx)
}
