package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to run the scanner.
type Config struct {
	DB      SQLConfig     `yaml:"db"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Browser BrowserConfig `yaml:"browser"`
	Robots  RobotsConfig  `yaml:"robots"`
	Crawl   CrawlConfig   `yaml:"crawl"`
	Intel   IntelConfig   `yaml:"intel"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
}

// SQLConfig describes the relational database used for persistence.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// FetchConfig controls plain HTTP fetching behaviour.
type FetchConfig struct {
	UserAgent      string            `yaml:"user_agent"`
	Headers        map[string]string `yaml:"headers"`
	RequestTimeout Duration          `yaml:"request_timeout"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes"`
	ProxyURL       string            `yaml:"proxy_url"`
}

// BrowserConfig controls the headless-browser fallback fetch path.
type BrowserConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Timeout            Duration `yaml:"timeout"`
	CaptureDelay       Duration `yaml:"capture_delay"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// CrawlConfig contains crawl-wide defaults. Per-domain limits come from
// the authorized-domain policy table; these only bound what any policy
// may grant and list the well-known paths seeded into every crawl.
type CrawlConfig struct {
	MaxPagesCeiling int      `yaml:"max_pages_ceiling"`
	DefaultDelay    Duration `yaml:"default_delay"`
	CommonPaths     []string `yaml:"common_paths"`
	MaxSitemapURLs  int      `yaml:"max_sitemap_urls"`
}

// IntelConfig tunes the risk-intelligence pipeline.
type IntelConfig struct {
	Deadline     Duration `yaml:"deadline"`
	RDAPEndpoint string   `yaml:"rdap_endpoint"`
}

// APIConfig configures the HTTP trigger/status surface.
type APIConfig struct {
	Addr               string `yaml:"addr"`
	MaxConcurrentScans int    `yaml:"max_concurrent_scans"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		DB: SQLConfig{
			Driver:      "postgres",
			AutoMigrate: true,
		},
		Fetch: FetchConfig{
			UserAgent:      "siteintel-bot/1.0",
			Headers:        map[string]string{},
			RequestTimeout: DurationFrom(15 * time.Second),
			MaxBodyBytes:   6 * 1024 * 1024,
		},
		Browser: BrowserConfig{
			Enabled:            true,
			Timeout:            DurationFrom(30 * time.Second),
			CaptureDelay:       DurationFrom(1500 * time.Millisecond),
			ConcurrentSessions: 2,
		},
		Robots: RobotsConfig{
			UserAgent: "siteintel-bot/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Crawl: CrawlConfig{
			MaxPagesCeiling: 200,
			DefaultDelay:    DurationFrom(500 * time.Millisecond),
			CommonPaths: []string{
				"/contact",
				"/contact-us",
				"/about",
				"/about-us",
				"/privacy",
				"/privacy-policy",
				"/terms",
				"/terms-of-service",
				"/refund-policy",
				"/shipping-policy",
				"/returns",
			},
			MaxSitemapURLs: 500,
		},
		Intel: IntelConfig{
			Deadline:     DurationFrom(90 * time.Second),
			RDAPEndpoint: "https://rdap.org",
		},
		API: APIConfig{
			Addr:               ":8080",
			MaxConcurrentScans: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants for the scanner configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set")
	}
	if c.Crawl.MaxPagesCeiling <= 0 {
		return fmt.Errorf("crawl.max_pages_ceiling must be > 0 (got %d)", c.Crawl.MaxPagesCeiling)
	}
	if c.Crawl.MaxSitemapURLs <= 0 {
		return fmt.Errorf("crawl.max_sitemap_urls must be > 0 (got %d)", c.Crawl.MaxSitemapURLs)
	}
	if c.Intel.Deadline.Duration <= 0 {
		return errors.New("intel.deadline must be > 0")
	}
	if strings.TrimSpace(c.Intel.RDAPEndpoint) == "" {
		return errors.New("intel.rdap_endpoint must be set")
	}
	if c.API.MaxConcurrentScans <= 0 {
		return fmt.Errorf("api.max_concurrent_scans must be > 0 (got %d)", c.API.MaxConcurrentScans)
	}
	if c.Browser.ConcurrentSessions < 0 {
		return fmt.Errorf("browser.concurrent_sessions must be >= 0 (got %d)", c.Browser.ConcurrentSessions)
	}
	return nil
}

func (c *Config) normalise() {
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Intel.RDAPEndpoint = strings.TrimRight(strings.TrimSpace(c.Intel.RDAPEndpoint), "/")

	if len(c.Crawl.CommonPaths) > 0 {
		unique := make(map[string]struct{}, len(c.Crawl.CommonPaths))
		cleaned := make([]string, 0, len(c.Crawl.CommonPaths))
		for _, raw := range c.Crawl.CommonPaths {
			p := strings.TrimSpace(raw)
			if p == "" {
				continue
			}
			if !strings.HasPrefix(p, "/") {
				p = "/" + p
			}
			if _, exists := unique[p]; exists {
				continue
			}
			unique[p] = struct{}{}
			cleaned = append(cleaned, p)
		}
		sort.Strings(cleaned)
		c.Crawl.CommonPaths = cleaned
	}
}
