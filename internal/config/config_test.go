package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "DIFFSCOPE_PORT", "DIFFSCOPE_PROVIDER", "DIFFSCOPE_MODEL", "DIFFSCOPE_FALLBACK_MODEL",
		"DIFFSCOPE_CACHE_CAPACITY", "DIFFSCOPE_CACHE_SLIDING_TTL", "DIFFSCOPE_TIMEOUT",
		"DIFFSCOPE_ALLOWED_ORIGINS", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost", "http://localhost:*", "http://127.0.0.1", "http://127.0.0.1:*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "openai", cfg.Analysis.Provider)
	assert.Equal(t, "gpt-4o", cfg.Analysis.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.Analysis.FallbackModel)
	assert.Equal(t, 30*time.Minute, cfg.Cache.SlidingTTL)
	assert.Equal(t, 60*time.Minute, cfg.Cache.AbsoluteTTL)
	assert.Equal(t, 60*time.Second, cfg.Analysis.Timeout)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "diffscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
  allowed_origins: ["http://localhost:3000"]
database:
  max_conns: 4
cache:
  sliding_ttl: 10m
analysis:
  provider: anthropic
  docs_folder: ./standards
`), 0o644))

	t.Setenv("DIFFSCOPE_PORT", "9100")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port, "env wins over file")
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 10*time.Minute, cfg.Cache.SlidingTTL)
	assert.Equal(t, int32(4), cfg.Database.MaxConns)
	assert.Equal(t, 60*time.Minute, cfg.Cache.AbsoluteTTL, "unset keys keep defaults")
	assert.Equal(t, "./standards", cfg.Analysis.DocsFolder)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Analysis.Model)
	assert.Equal(t, "sk-ant", cfg.APIKey("anthropic"))
	assert.Empty(t, cfg.APIKey("google"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadEnvDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("DIFFSCOPE_TIMEOUT", "soon")

	_, err := Load("")
	assert.ErrorContains(t, err, "DIFFSCOPE_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.Analysis.Provider = "mistral" }, "unknown provider"},
		{"zero capacity", func(c *Config) { c.Cache.Capacity = 0 }, "capacity"},
		{"sliding above absolute", func(c *Config) { c.Cache.SlidingTTL = 2 * time.Hour }, "sliding"},
		{"no timeout", func(c *Config) { c.Analysis.Timeout = 0 }, "timeout"},
		{"jwks without issuer", func(c *Config) { c.Auth.JWKSURL = "https://x/jwks" }, "issuer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
