package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"github.com/FranksOps/serpent/internal/fingerprint"
	"github.com/FranksOps/serpent/internal/scraper"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/pkg/proxy"
	"github.com/FranksOps/serpent/pkg/ratelimit"
	"github.com/FranksOps/serpent/pkg/useragent"
)

// Config holds the full application configuration.
type Config struct {
	Search  SearchConfig  `yaml:"search" mapstructure:"search"`
	HTTP    HTTPConfig    `yaml:"http" mapstructure:"http"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// SearchConfig configures search sessions.
type SearchConfig struct {
	PerPage          int           `yaml:"per_page" mapstructure:"per_page"`
	MaxQueries       int           `yaml:"max_queries" mapstructure:"max_queries"`
	Pause            time.Duration `yaml:"pause" mapstructure:"pause"`
	Jitter           float64       `yaml:"jitter" mapstructure:"jitter"`
	FirstPagePadding int           `yaml:"first_page_padding" mapstructure:"first_page_padding"`
	Strict           bool          `yaml:"strict" mapstructure:"strict"`
	BaseURL          string        `yaml:"base_url" mapstructure:"base_url"`
	Concurrency      int           `yaml:"concurrency" mapstructure:"concurrency"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRedirects     int           `yaml:"max_redirects" mapstructure:"max_redirects"`
	CookieJar        bool          `yaml:"cookie_jar" mapstructure:"cookie_jar"`
	Fingerprint      string        `yaml:"fingerprint" mapstructure:"fingerprint"`
	Language         string        `yaml:"language" mapstructure:"language"`
	UserAgents       []string      `yaml:"user_agents" mapstructure:"user_agents"`
	UARotation       string        `yaml:"ua_rotation" mapstructure:"ua_rotation"`
	Proxies          []string      `yaml:"proxies" mapstructure:"proxies"`
	ProxyFile        string        `yaml:"proxy_file" mapstructure:"proxy_file"`
	ProxyMaxFailures int           `yaml:"proxy_max_failures" mapstructure:"proxy_max_failures"`
	ProxyCooldown    time.Duration `yaml:"proxy_cooldown" mapstructure:"proxy_cooldown"`
	RPS              float64       `yaml:"rps" mapstructure:"rps"`
	RPSJitter        float64       `yaml:"rps_jitter" mapstructure:"rps_jitter"`
}

// StoreConfig selects where fetched pages are exported. An empty driver
// disables storage.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// Load reads configuration from path, or from serpent.yaml in the working
// directory or the user config directory when path is empty. SERPENT_*
// environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("serpent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "serpent"))
		}
	}

	v.SetEnvPrefix("SERPENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("search.per_page", serp.DefaultPerPage)
	v.SetDefault("search.max_queries", serp.DefaultMaxQueries)
	v.SetDefault("search.pause", serp.DefaultPause)
	v.SetDefault("search.jitter", 0.2)
	v.SetDefault("search.first_page_padding", serp.DefaultFirstPagePadding)
	v.SetDefault("search.strict", false)
	v.SetDefault("search.base_url", serp.DefaultBaseURL)
	v.SetDefault("search.concurrency", 2)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.cookie_jar", true)
	v.SetDefault("http.fingerprint", string(fingerprint.ProfileChrome))
	v.SetDefault("http.language", "en")
	v.SetDefault("http.user_agents", []string{})
	v.SetDefault("http.ua_rotation", string(useragent.Sequential))
	v.SetDefault("http.proxies", []string{})
	v.SetDefault("http.proxy_file", "")
	v.SetDefault("http.proxy_max_failures", 3)
	v.SetDefault("http.proxy_cooldown", 5*time.Minute)
	v.SetDefault("http.rps", 0.5)
	v.SetDefault("http.rps_jitter", 0.3)
	v.SetDefault("store.driver", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.port", 0)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// SessionOptions converts the search section into session options.
func (c *Config) SessionOptions(logger *slog.Logger) serp.Options {
	return serp.Options{
		PerPage:          c.Search.PerPage,
		MaxQueries:       c.Search.MaxQueries,
		Pause:            c.Search.Pause,
		Jitter:           c.Search.Jitter,
		FirstPagePadding: c.Search.FirstPagePadding,
		Strict:           c.Search.Strict,
		BaseURL:          c.Search.BaseURL,
		Logger:           logger,
	}
}

// FetchConfig builds the fetcher configuration, loading proxies and
// validating the enumerated settings.
func (c *Config) FetchConfig(logger *slog.Logger) (scraper.FetchConfig, error) {
	h := c.HTTP

	profile, err := fingerprint.ParseProfile(h.Fingerprint)
	if err != nil {
		return scraper.FetchConfig{}, eris.Wrap(err, "config: http.fingerprint")
	}
	rotation, err := useragent.ParseRotation(h.UARotation)
	if err != nil {
		return scraper.FetchConfig{}, eris.Wrap(err, "config: http.ua_rotation")
	}

	cfg := scraper.FetchConfig{
		Timeout:      h.Timeout,
		MaxRedirects: h.MaxRedirects,
		UseCookieJar: h.CookieJar,
		Language:     h.Language,
		UAPool:       useragent.NewPool(h.UserAgents, rotation),
		Fingerprint:  profile,
		Logger:       logger,
	}
	if h.MaxRedirects == 0 {
		// Zero would be replaced by the fetcher default.
		cfg.MaxRedirects = -1
	}
	if h.RPS > 0 {
		cfg.Limiter = ratelimit.NewLimiter(h.RPS, h.RPSJitter)
	}

	if len(h.Proxies) > 0 || h.ProxyFile != "" {
		pool := proxy.NewPool(proxy.Config{MaxFailures: h.ProxyMaxFailures, Cooldown: h.ProxyCooldown})
		if err := pool.Add(h.Proxies...); err != nil {
			return scraper.FetchConfig{}, eris.Wrap(err, "config: http.proxies")
		}
		if h.ProxyFile != "" {
			if err := pool.LoadFile(h.ProxyFile); err != nil {
				return scraper.FetchConfig{}, eris.Wrap(err, "config: http.proxy_file")
			}
		}
		cfg.ProxyPool = pool
	}

	return cfg, nil
}

// NewLogger builds a slog logger writing to w in text or JSON format.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, eris.Wrapf(err, "config: parse log level %q", cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, eris.Errorf("config: unknown log format %q", cfg.Format)
}
