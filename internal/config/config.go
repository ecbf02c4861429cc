package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// SiteConfig describes one scrape source. Kind selects the concrete
// fetcher; unknown kinds are rejected at load time, not first use.
type SiteConfig struct {
	Name        string            `toml:"name" yaml:"name"`
	Kind        string            `toml:"kind" yaml:"kind"`
	URL         string            `toml:"url" yaml:"url"`
	TimeoutSec  int               `toml:"timeout" yaml:"timeout"`
	Enabled     bool              `toml:"enabled" yaml:"enabled"`
	SearchQuery string            `toml:"search_query" yaml:"searchQuery"`
	Headers     map[string]string `toml:"headers" yaml:"headers"`
}

// Timeout returns the per-request timeout for this site, defaulting
// to 15 seconds.
func (s SiteConfig) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

// FilterConfig holds the keyword filter applied between fetch and
// dedup. Matching is case-insensitive.
type FilterConfig struct {
	RequiredKeywords []string `toml:"required_keywords" yaml:"requiredKeywords"`
	LevelKeywords    []string `toml:"level_keywords" yaml:"levelKeywords"`
	ExcludeKeywords  []string `toml:"exclude_keywords" yaml:"excludeKeywords"`
}

// ScoringConfig configures the LLM scoring pipeline and its rule
// overlay.
type ScoringConfig struct {
	Skills         []string `toml:"skills" yaml:"skills"`
	MinBudget      float64  `toml:"min_budget" yaml:"minBudget"`
	ScoreThreshold int      `toml:"score_threshold" yaml:"scoreThreshold"`
	MaxConcurrent  int      `toml:"max_concurrent" yaml:"maxConcurrent"`
}

// LLMConfig points the scorer at an OpenAI-compatible chat-completions
// endpoint. APIKey and BaseURL are overlaid from the environment.
type LLMConfig struct {
	APIKey     string `toml:"-" yaml:"-"`
	BaseURL    string `toml:"base_url" yaml:"baseURL"`
	Model      string `toml:"model" yaml:"model"`
	TimeoutSec int    `toml:"timeout" yaml:"timeout"`
}

// Timeout returns the LLM request timeout, defaulting to 60 seconds.
func (l LLMConfig) Timeout() time.Duration {
	if l.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(l.TimeoutSec) * time.Second
}

// TelegramConfig configures the notification dispatcher. Token and
// ChatID are overlaid from the environment.
type TelegramConfig struct {
	Token      string `toml:"-" yaml:"-"`
	ChatID     string `toml:"-" yaml:"-"`
	APIBase    string `toml:"api_base" yaml:"apiBase"`
	TimeoutSec int    `toml:"timeout" yaml:"timeout"`
}

// Timeout returns the chat send timeout, defaulting to 10 seconds.
func (t TelegramConfig) Timeout() time.Duration {
	if t.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.TimeoutSec) * time.Second
}

// DatabaseConfig selects the store backend. Driver is "sqlite" for the
// embedded single-file store or "postgres" for the networked one.
type DatabaseConfig struct {
	Driver string `toml:"driver" yaml:"driver"`
	DSN    string `toml:"dsn" yaml:"dsn"`
}

// SeenSetConfig selects the dedup backend: a JSON file rewritten
// atomically, or a redis set when URL is given.
type SeenSetConfig struct {
	Path     string `toml:"path" yaml:"path"`
	RedisURL string `toml:"-" yaml:"-"`
}

// ServerConfig configures the optional read-only HTTP API.
type ServerConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// ScraperConfig holds settings shared across scrapers.
type ScraperConfig struct {
	UserAgent     string `toml:"user_agent" yaml:"userAgent"`
	RespectRobots bool   `toml:"respect_robots" yaml:"respectRobots"`
	BrowserURL    string `toml:"browser_url" yaml:"browserURL"`
}

// Config is the top-level configuration for the pipeline.
type Config struct {
	ScanIntervalSec int           `toml:"scan_interval" yaml:"scanInterval"`
	MaxPerMessage   int           `toml:"max_per_message" yaml:"maxPerMessage"`
	Scraper         ScraperConfig `toml:"scraper" yaml:"scraper"`
	Filters         FilterConfig  `toml:"filters" yaml:"filters"`
	Scoring         ScoringConfig `toml:"scoring" yaml:"scoring"`
	LLM             LLMConfig     `toml:"llm" yaml:"llm"`
	Telegram        TelegramConfig `toml:"telegram" yaml:"telegram"`
	Database        DatabaseConfig `toml:"database" yaml:"database"`
	SeenSet         SeenSetConfig  `toml:"seen_set" yaml:"seenSet"`
	Server          ServerConfig   `toml:"server" yaml:"server"`
	Sites           []SiteConfig   `toml:"sites" yaml:"sites"`
}

// ScanInterval returns the scheduler cadence, defaulting to 15 minutes.
func (c *Config) ScanInterval() time.Duration {
	if c.ScanIntervalSec <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.ScanIntervalSec) * time.Second
}

// knownKinds is the closed set of source kinds the scraper registry
// can construct. Checked at load time so misconfiguration is fatal at
// startup rather than at first tick.
var knownKinds = map[string]bool{
	"remotive":  true,
	"remoteok":  true,
	"arbeitnow": true,
	"wwr":       true,
	"upwork":    true,
	"toptal":    true,
}

// Load reads, decodes, and validates the config file, then overlays
// secrets from the environment. Any failure is fatal: a pipeline with
// a broken config must not start.
func Load(path string) *Config {
	cfg, err := Parse(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Parse is Load without the fatal exit, for tests and callers that
// want the error.
func Parse(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q (want .toml or .yaml)", ext)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets that must never live in the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.SeenSet.RedisURL = v
	}
}

func (c *Config) validate() error {
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return fmt.Errorf("site %d: missing name", i)
		}
		if !knownKinds[site.Kind] {
			return fmt.Errorf("site %q: unknown kind %q", site.Name, site.Kind)
		}
		if site.URL == "" {
			return fmt.Errorf("site %q: missing url", site.Name)
		}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("database: unknown driver %q (want sqlite or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		c.Database.DSN = filepath.Join("workspace", "prospect.db")
	}
	if c.SeenSet.Path == "" {
		c.SeenSet.Path = filepath.Join("workspace", "sent_keys.json")
	}
	if c.MaxPerMessage <= 0 {
		c.MaxPerMessage = 10
	}
	if c.Scoring.MaxConcurrent <= 0 {
		c.Scoring.MaxConcurrent = 3
	}
	if c.Scoring.ScoreThreshold <= 0 {
		c.Scoring.ScoreThreshold = 70
	}
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if c.Telegram.APIBase == "" {
		c.Telegram.APIBase = "https://api.telegram.org"
	}
	return nil
}
