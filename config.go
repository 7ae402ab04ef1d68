package metergate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	DefaultModel    string                         `yaml:"default_model"`
	DefaultProvider string                         `yaml:"default_provider"`
	ChainPolicy     string                         `yaml:"chain_policy"`
	Models          []ModelMapping                 `yaml:"models"`
	Catalog         []CatalogEntry                 `yaml:"catalog"`
	Providers       map[ProviderKey]ProviderConfig `yaml:"providers"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Admission AdmissionConfig `yaml:"admission"`
	UserJobs  UserJobsConfig  `yaml:"user_jobs"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Daily     DailyConfig     `yaml:"daily"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
}

// ModelMapping defines a model alias expanding into a candidate chain.
type ModelMapping struct {
	Alias  string     `yaml:"alias"`
	Models []ModelRef `yaml:"models"`
}

// ModelRef references a specific model, optionally pinned to a provider.
type ModelRef struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ProviderConfig configures one provider adapter.
type ProviderConfig struct {
	Auth     `yaml:",inline"`
	BaseURL  string         `yaml:"base_url"`
	Pacing   *time.Duration `yaml:"pacing"` // nil selects the built-in default
	Project  string         `yaml:"project"`
	Location string         `yaml:"location"`
	Disabled bool           `yaml:"disabled"`
}

type SchedulerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	QueueTimeout time.Duration `yaml:"queue_timeout"`
}

type DispatchConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	Budget      time.Duration `yaml:"budget"`
}

type AdmissionConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
	MaxTracked  int           `yaml:"max_tracked"`
}

type UserJobsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

type PricingConfig struct {
	DefaultMargin float64 `yaml:"default_margin_percent"`
	MaxCostUSD    float64 `yaml:"max_cost_usd"`
	DefaultPrice  Price   `yaml:"default_price"`
}

type ExchangeConfig struct {
	Currency     string        `yaml:"currency"`
	FallbackRate float64       `yaml:"fallback_rate"`
	URL          string        `yaml:"url"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	SyncSchedule string        `yaml:"sync_schedule"`
}

type DailyConfig struct {
	TokenLimit int64 `yaml:"token_limit"`
	Enforce    bool  `yaml:"enforce"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver    string `yaml:"driver"` // memory, sqlite or postgres
	DSN       string `yaml:"dsn"`
	RedisAddr string `yaml:"redis_addr"` // optional balance store
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("metergate: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes, applies defaults and validates.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("metergate: parse config: %w", err)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefaults returns a copy with every unset field filled in.
func (c Config) WithDefaults() Config {
	if c.DefaultProvider == "" {
		c.DefaultProvider = string(ProviderOpenAI)
	}
	if c.ChainPolicy == "" {
		c.ChainPolicy = "ordered"
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = defaultConcurrency
	}
	if c.Scheduler.QueueTimeout == 0 {
		c.Scheduler.QueueTimeout = defaultQueueTimeout
	}
	if c.Dispatch.CallTimeout == 0 {
		c.Dispatch.CallTimeout = defaultCallTimeout
	}
	if c.Dispatch.Budget == 0 {
		c.Dispatch.Budget = defaultDispatchBudget
	}
	if c.Admission.MinInterval == 0 {
		c.Admission.MinInterval = defaultAdmissionInterval
	}
	if c.Admission.MaxTracked == 0 {
		c.Admission.MaxTracked = defaultAdmissionMaxKeys
	}
	if c.Pricing.DefaultMargin == 0 {
		c.Pricing.DefaultMargin = defaultMarginPercent
	}
	if c.Pricing.MaxCostUSD == 0 {
		c.Pricing.MaxCostUSD = defaultMaxCostUSD
	}
	if c.Pricing.DefaultPrice == (Price{}) {
		c.Pricing.DefaultPrice = DefaultPrice
	}
	if c.Exchange.Currency == "" {
		c.Exchange.Currency = defaultCurrency
	}
	if c.Exchange.FallbackRate == 0 {
		c.Exchange.FallbackRate = defaultFallbackRate
	}
	if c.Exchange.URL == "" {
		c.Exchange.URL = defaultRateURL
	}
	if c.Exchange.CacheTTL == 0 {
		c.Exchange.CacheTTL = defaultRateTTL
	}
	if c.Exchange.SyncSchedule == "" {
		c.Exchange.SyncSchedule = "@hourly"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	return c
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if !ParseProviderKey(c.DefaultProvider).Known() {
		return fmt.Errorf("metergate: config: unknown default_provider %q", c.DefaultProvider)
	}
	switch c.ChainPolicy {
	case "", "ordered", "cost_first":
	default:
		return fmt.Errorf("metergate: config: unknown chain_policy %q", c.ChainPolicy)
	}

	for key := range c.Providers {
		if !key.Known() {
			return fmt.Errorf("metergate: config: providers: unknown provider %q", key)
		}
	}

	aliases := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Alias == "" {
			return fmt.Errorf("metergate: config: models[%d]: alias is required", i)
		}
		if aliases[m.Alias] {
			return fmt.Errorf("metergate: config: duplicate alias %q", m.Alias)
		}
		aliases[m.Alias] = true
		if len(m.Models) == 0 {
			return fmt.Errorf("metergate: config: models[%d] (%s): at least one model ref is required", i, m.Alias)
		}
		for j, ref := range m.Models {
			if ref.Model == "" {
				return fmt.Errorf("metergate: config: models[%d] (%s): ref[%d]: model is required", i, m.Alias, j)
			}
			if ref.Provider != "" && !ParseProviderKey(ref.Provider).Known() {
				return fmt.Errorf("metergate: config: models[%d] (%s): ref[%d]: unknown provider %q", i, m.Alias, j, ref.Provider)
			}
		}
	}

	for i, e := range c.Catalog {
		if e.Model == "" {
			return fmt.Errorf("metergate: config: catalog[%d]: model is required", i)
		}
		if e.Provider != "" && !e.Provider.Known() {
			return fmt.Errorf("metergate: config: catalog[%d] (%s): unknown provider %q", i, e.Model, e.Provider)
		}
		if e.Input < 0 || e.Output < 0 {
			return fmt.Errorf("metergate: config: catalog[%d] (%s): negative price", i, e.Model)
		}
	}

	if c.Scheduler.Concurrency < 0 {
		return fmt.Errorf("metergate: config: scheduler.concurrency must be positive")
	}
	if c.Dispatch.CallTimeout > 0 && c.Scheduler.QueueTimeout > 0 && c.Dispatch.CallTimeout >= c.Scheduler.QueueTimeout {
		return fmt.Errorf("metergate: config: dispatch.call_timeout (%s) must be shorter than scheduler.queue_timeout (%s)",
			c.Dispatch.CallTimeout, c.Scheduler.QueueTimeout)
	}
	if c.Pricing.DefaultMargin < 0 {
		return fmt.Errorf("metergate: config: pricing.default_margin_percent must not be negative")
	}
	if c.Pricing.MaxCostUSD < 0 {
		return fmt.Errorf("metergate: config: pricing.max_cost_usd must not be negative")
	}
	if c.UserJobs.MaxConcurrent < 0 {
		return fmt.Errorf("metergate: config: user_jobs.max_concurrent must not be negative")
	}

	switch c.Storage.Driver {
	case "", "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("metergate: config: storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("metergate: config: unknown storage.driver %q", c.Storage.Driver)
	}

	return nil
}

// PacingIntervals returns the per-provider pacing, built-in defaults
// overridden by configured values.
func (c Config) PacingIntervals() map[ProviderKey]time.Duration {
	out := make(map[ProviderKey]time.Duration, len(DefaultPacing)+len(c.Providers))
	for k, d := range DefaultPacing {
		out[k] = d
	}
	for k, pc := range c.Providers {
		if pc.Pacing != nil {
			out[k] = *pc.Pacing
		}
	}
	return out
}
