package metergate_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mg "github.com/ineyio/metergate"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := mg.ParseConfig([]byte("default_model: gemini-2.0-flash-lite\n"))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.Equal(t, "ordered", cfg.ChainPolicy)
	assert.Equal(t, 100, cfg.Scheduler.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.QueueTimeout)
	assert.Less(t, cfg.Dispatch.CallTimeout, cfg.Scheduler.QueueTimeout)
	assert.Equal(t, 60.0, cfg.Pricing.DefaultMargin)
	assert.Equal(t, 0.25, cfg.Pricing.MaxCostUSD)
	assert.Equal(t, mg.DefaultPrice, cfg.Pricing.DefaultPrice)
	assert.Equal(t, "IDR", cfg.Exchange.Currency)
	assert.Equal(t, 17000.0, cfg.Exchange.FallbackRate)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.Server.Listen)
}

func TestParseConfig_Full(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	data := `
default_model: fast
chain_policy: cost_first
models:
  - alias: fast
    models:
      - model: gemini-2.0-flash-lite
      - provider: openai
        model: gpt-4o-mini
providers:
  openai:
    api_key: ${TEST_OPENAI_KEY}
    pacing: 25ms
  gemini:
    api_key: g-key
    project: acme-prod
scheduler:
  concurrency: 4
  queue_timeout: 30s
dispatch:
  call_timeout: 10s
  budget: 20s
storage:
  driver: sqlite
  dsn: file:metergate.db
`
	cfg, err := mg.ParseConfig([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Providers[mg.ProviderOpenAI].APIKey)
	assert.Equal(t, "acme-prod", cfg.Providers[mg.ProviderGemini].Project)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "openai", cfg.Models[0].Models[1].Provider)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)

	pacing := cfg.PacingIntervals()
	assert.Equal(t, 25*time.Millisecond, pacing[mg.ProviderOpenAI])
	assert.Equal(t, mg.DefaultPacing[mg.ProviderGemini], pacing[mg.ProviderGemini])
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad yaml", "models: [", "parse config"},
		{"unknown default provider", "default_provider: gonka\n", "default_provider"},
		{"unknown policy", "chain_policy: cheapest\n", "chain_policy"},
		{"unknown provider key", "providers:\n  mistral:\n    api_key: x\n", "unknown provider"},
		{"duplicate alias", "models:\n  - alias: a\n    models: [{model: gpt-4o}]\n  - alias: a\n    models: [{model: gpt-4o}]\n", "duplicate alias"},
		{"empty alias chain", "models:\n  - alias: a\n", "at least one model"},
		{"call timeout too long", "scheduler:\n  queue_timeout: 10s\ndispatch:\n  call_timeout: 10s\n", "call_timeout"},
		{"unknown driver", "storage:\n  driver: mongo\n", "storage.driver"},
		{"sqlite without dsn", "storage:\n  driver: sqlite\n", "storage.dsn"},
		{"negative catalog price", "catalog:\n  - model: x\n    input: -1\n", "negative price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mg.ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := mg.LoadConfig(t.TempDir() + "/nope.yaml")
	assert.Error(t, err)
}
