package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("PROMPTS_FILE", "")
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.TopK)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 3, cfg.GenerationAttempts)
	assert.Equal(t, 2*time.Second, cfg.GenerationRetryDelay)
	assert.Equal(t, 25, cfg.DefaultCredits)
	assert.Equal(t, 1000000, cfg.MemberCredits)
	assert.Equal(t, 3, cfg.CanceledCredits)
	assert.NotEmpty(t, cfg.Prompts.Persona)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TOP_K", "5")
	t.Setenv("GENERATION_RETRY_DELAY", "150ms")
	t.Setenv("DATE_FILTER", "true")
	t.Setenv("LEDGER_BACKEND", "SQLite")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 150*time.Millisecond, cfg.GenerationRetryDelay)
	assert.True(t, cfg.DateFilter)
	assert.Equal(t, "sqlite", cfg.LedgerBackend)
}

func TestFromEnv_QuoteServices(t *testing.T) {
	t.Setenv("STK_SERVICE_URL", "http://stk:8081")
	t.Setenv("TA_SERVICE_URL", "http://ta:8085")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://stk:8081", cfg.StockServiceURL)
	assert.Equal(t, "http://ta:8085", cfg.TechnicalServiceURL)
	assert.Empty(t, cfg.NewsServiceURL)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad integer", "TOP_K", "seven"},
		{"bad duration", "GENERATION_TIMEOUT", "soon"},
		{"bad bool", "DATE_FILTER", "maybe"},
		{"top k out of range", "TOP_K", "500"},
		{"zero attempts", "GENERATION_ATTEMPTS", "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestPassHash(t *testing.T) {
	cfg := &Config{PassKey: "secret"}
	// sha256("secret")
	assert.Equal(t, "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b", cfg.PassHash())
	assert.Empty(t, (&Config{}).PassHash())
}

func TestLoadPrompts(t *testing.T) {
	t.Run("empty path gives defaults", func(t *testing.T) {
		p, err := LoadPrompts("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPrompts(), p)
	})

	t.Run("partial override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompts.yaml")
		require.NoError(t, os.WriteFile(path, []byte("persona: You are a terse analyst.\n"), 0o600))

		p, err := LoadPrompts(path)
		require.NoError(t, err)
		assert.Equal(t, "You are a terse analyst.", p.Persona)
		assert.Equal(t, DefaultPrompts().System, p.System)
	})

	t.Run("quote template override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompts.yaml")
		yml := "quote:\n  news: Give three bullet points.\n"
		require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

		p, err := LoadPrompts(path)
		require.NoError(t, err)
		assert.Equal(t, "Give three bullet points.", p.Quote.News)
		assert.Equal(t, DefaultPrompts().Quote.Stock, p.Quote.Stock)
		assert.Equal(t, DefaultPrompts().Persona, p.Persona)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPrompts(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
