// Package config loads diffscope settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kamilpajak/diffscope/internal/llm"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		// Start-analysis requests allowed per minute per session, with Burst on top.
		RatePerMinute float64 `yaml:"rate_per_minute"`
		Burst         int     `yaml:"burst"`
	} `yaml:"server"`

	Auth struct {
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
		JWKSURL  string `yaml:"jwks_url"`
	} `yaml:"auth"`

	Database struct {
		URL      string `yaml:"url"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"database"`

	Store struct {
		// Empty keeps session defaults in memory.
		Path string `yaml:"path"`
	} `yaml:"store"`

	Cache struct {
		Capacity      int           `yaml:"capacity"`
		SlidingTTL    time.Duration `yaml:"sliding_ttl"`
		AbsoluteTTL   time.Duration `yaml:"absolute_ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"cache"`

	Analysis struct {
		Provider      string        `yaml:"provider"`
		Model         string        `yaml:"model"`
		FallbackModel string        `yaml:"fallback_model"`
		Language      string        `yaml:"language"`
		DocsFolder    string        `yaml:"docs_folder"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"analysis"`

	Keys struct {
		OpenAI    string `yaml:"openai"`
		Anthropic string `yaml:"anthropic"`
		Google    string `yaml:"google"`
	} `yaml:"api_keys"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	c.Server.Port = "8080"
	c.Server.AllowedOrigins = []string{"http://localhost", "http://localhost:*", "http://127.0.0.1", "http://127.0.0.1:*"}
	c.Server.RatePerMinute = 10
	c.Server.Burst = 5
	c.Cache.Capacity = 1024
	c.Cache.SlidingTTL = 30 * time.Minute
	c.Cache.AbsoluteTTL = 60 * time.Minute
	c.Cache.SweepInterval = time.Minute
	c.Analysis.Provider = string(llm.ProviderOpenAI)
	c.Analysis.Language = "csharp"
	c.Analysis.Timeout = 60 * time.Second
	return &c
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillModels()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Port, "DIFFSCOPE_PORT")
	if v := os.Getenv("DIFFSCOPE_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	setString(&c.Auth.Issuer, "DIFFSCOPE_AUTH_ISSUER")
	setString(&c.Auth.Audience, "DIFFSCOPE_AUTH_AUDIENCE")
	setString(&c.Auth.JWKSURL, "DIFFSCOPE_AUTH_JWKS_URL")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Store.Path, "DIFFSCOPE_STORE_PATH")
	setString(&c.Analysis.Provider, "DIFFSCOPE_PROVIDER")
	setString(&c.Analysis.Model, "DIFFSCOPE_MODEL")
	setString(&c.Analysis.FallbackModel, "DIFFSCOPE_FALLBACK_MODEL")
	setString(&c.Analysis.Language, "DIFFSCOPE_LANGUAGE")
	setString(&c.Analysis.DocsFolder, "DIFFSCOPE_DOCS_FOLDER")
	setString(&c.Keys.OpenAI, "OPENAI_API_KEY")
	setString(&c.Keys.Anthropic, "ANTHROPIC_API_KEY")
	setString(&c.Keys.Google, "GOOGLE_API_KEY")

	if v := os.Getenv("DIFFSCOPE_CACHE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DIFFSCOPE_CACHE_CAPACITY: %w", err)
		}
		c.Cache.Capacity = n
	}
	for name, dst := range map[string]*time.Duration{
		"DIFFSCOPE_CACHE_SLIDING_TTL":  &c.Cache.SlidingTTL,
		"DIFFSCOPE_CACHE_ABSOLUTE_TTL": &c.Cache.AbsoluteTTL,
		"DIFFSCOPE_TIMEOUT":            &c.Analysis.Timeout,
	} {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}
	return nil
}

// fillModels picks the provider's default models for any left unset.
func (c *Config) fillModels() {
	p, err := llm.ParseProvider(c.Analysis.Provider)
	if err != nil {
		return
	}
	primary, fallback := llm.DefaultModels(p)
	if c.Analysis.Model == "" {
		c.Analysis.Model = primary
	}
	if c.Analysis.FallbackModel == "" {
		c.Analysis.FallbackModel = fallback
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := llm.ParseProvider(c.Analysis.Provider); err != nil {
		return err
	}
	if c.Cache.Capacity <= 0 {
		return errors.New("cache capacity must be positive")
	}
	if c.Cache.SlidingTTL <= 0 || c.Cache.AbsoluteTTL <= 0 {
		return errors.New("cache TTLs must be positive")
	}
	if c.Cache.SlidingTTL > c.Cache.AbsoluteTTL {
		return errors.New("cache sliding TTL cannot exceed the absolute TTL")
	}
	if c.Analysis.Timeout <= 0 {
		return errors.New("analysis timeout must be positive")
	}
	if c.Server.RatePerMinute <= 0 || c.Server.Burst <= 0 {
		return errors.New("rate limit must be positive")
	}
	if c.Auth.JWKSURL != "" && c.Auth.Issuer == "" {
		return errors.New("auth issuer is required when a JWKS URL is set")
	}
	return nil
}

// APIKey returns the configured key for provider.
func (c *Config) APIKey(provider string) string {
	p, err := llm.ParseProvider(provider)
	if err != nil {
		return ""
	}
	switch p {
	case llm.ProviderAnthropic:
		return c.Keys.Anthropic
	case llm.ProviderGoogle:
		return c.Keys.Google
	default:
		return c.Keys.OpenAI
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
