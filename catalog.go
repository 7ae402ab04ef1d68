package metergate

import "strings"

// ProviderKey identifies an inference provider.
type ProviderKey string

const (
	ProviderOpenAI    ProviderKey = "openai"
	ProviderGemini    ProviderKey = "gemini"
	ProviderAnthropic ProviderKey = "anthropic"
	ProviderGroq      ProviderKey = "groq"
	ProviderUnknown   ProviderKey = "unknown"
)

// Known reports whether k is one of the enumerated providers.
func (k ProviderKey) Known() bool {
	switch k {
	case ProviderOpenAI, ProviderGemini, ProviderAnthropic, ProviderGroq:
		return true
	default:
		return false
	}
}

// ParseProviderKey maps a configured provider name onto a key.
func ParseProviderKey(s string) ProviderKey {
	k := ProviderKey(strings.ToLower(strings.TrimSpace(s)))
	if k.Known() {
		return k
	}
	return ProviderUnknown
}

// CatalogEntry is one row of the static model table.
type CatalogEntry struct {
	Model    string      `yaml:"model"`
	Provider ProviderKey `yaml:"provider"`
	Input    float64     `yaml:"input"`  // USD per 1M input tokens
	Output   float64     `yaml:"output"` // USD per 1M output tokens
	Disabled bool        `yaml:"disabled"`
}

// prefixRule maps a model-name prefix onto a provider. Evaluated in order.
type prefixRule struct {
	prefix   string
	provider ProviderKey
}

var providerPrefixes = []prefixRule{
	{"gemini", ProviderGemini},
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"chatgpt", ProviderOpenAI},
	{"llama", ProviderGroq},
	{"mixtral", ProviderGroq},
	{"gemma", ProviderGroq},
}

// Catalog is the static model→provider table.
type Catalog struct {
	entries map[string]CatalogEntry
}

// NewCatalog builds a catalog from the built-in model table, with entries
// overriding or extending it.
func NewCatalog(overrides ...CatalogEntry) *Catalog {
	c := &Catalog{entries: make(map[string]CatalogEntry, len(builtinCatalog)+len(overrides))}
	for _, e := range builtinCatalog {
		c.entries[e.Model] = e
	}
	for _, e := range overrides {
		prev, ok := c.entries[e.Model]
		if ok {
			if e.Provider == "" {
				e.Provider = prev.Provider
			}
			if e.Input == 0 && e.Output == 0 {
				e.Input, e.Output = prev.Input, prev.Output
			}
		}
		c.entries[e.Model] = e
	}
	return c
}

// Lookup returns the static entry for an exact model name.
func (c *Catalog) Lookup(model string) (CatalogEntry, bool) {
	e, ok := c.entries[model]
	return e, ok
}

// Resolve returns the provider for a model: the static map wins, then the
// prefix table, then ProviderUnknown.
func (c *Catalog) Resolve(model string) ProviderKey {
	if e, ok := c.entries[model]; ok && e.Provider.Known() {
		return e.Provider
	}
	name := strings.ToLower(model)
	for _, r := range providerPrefixes {
		if strings.HasPrefix(name, r.prefix) {
			return r.provider
		}
	}
	return ProviderUnknown
}

// Price returns the static price row for model, if any.
func (c *Catalog) Price(model string) (Price, bool) {
	e, ok := c.entries[model]
	if !ok || (e.Input == 0 && e.Output == 0) {
		return Price{}, false
	}
	return Price{Input: e.Input, Output: e.Output}, true
}

var builtinCatalog = []CatalogEntry{
	{Model: "gpt-4.1", Provider: ProviderOpenAI, Input: 2.50, Output: 10.00},
	{Model: "gpt-4.1-mini", Provider: ProviderOpenAI, Input: 0.15, Output: 0.60},
	{Model: "gpt-4.1-distilled", Provider: ProviderOpenAI, Input: 1.10, Output: 4.40},
	{Model: "gpt-4o", Provider: ProviderOpenAI, Input: 2.50, Output: 10.00},
	{Model: "gpt-4o-mini", Provider: ProviderOpenAI, Input: 0.15, Output: 0.60},
	{Model: "gpt-4o-realtime", Provider: ProviderOpenAI, Input: 5.00, Output: 20.00, Disabled: true},
	{Model: "gpt-4-turbo", Provider: ProviderOpenAI, Input: 10.00, Output: 30.00},
	{Model: "gpt-5.1", Provider: ProviderOpenAI, Input: 15.00, Output: 60.00},
	{Model: "gpt-5.1-mini", Provider: ProviderOpenAI, Input: 3.00, Output: 12.00},
	{Model: "gpt-5.1-instant", Provider: ProviderOpenAI, Input: 1.10, Output: 4.40},
	{Model: "o1", Provider: ProviderOpenAI, Input: 15.00, Output: 60.00},
	{Model: "o3", Provider: ProviderOpenAI, Input: 20.00, Output: 80.00},
	{Model: "o4-mini", Provider: ProviderOpenAI, Input: 0.50, Output: 2.00},

	{Model: "gemini-1.0-pro", Provider: ProviderGemini, Input: 0.50, Output: 1.50},
	{Model: "gemini-pro", Provider: ProviderGemini, Input: 0.50, Output: 1.50},
	{Model: "gemini-1.5-flash", Provider: ProviderGemini, Input: 0.075, Output: 0.30},
	{Model: "gemini-1.5-flash-001", Provider: ProviderGemini, Input: 0.075, Output: 0.30},
	{Model: "gemini-1.5-flash-002", Provider: ProviderGemini, Input: 0.075, Output: 0.30},
	{Model: "gemini-1.5-flash-8b", Provider: ProviderGemini, Input: 0.0375, Output: 0.15},
	{Model: "gemini-1.5-pro", Provider: ProviderGemini, Input: 3.50, Output: 10.50},
	{Model: "gemini-1.5-pro-001", Provider: ProviderGemini, Input: 3.50, Output: 10.50},
	{Model: "gemini-1.5-pro-002", Provider: ProviderGemini, Input: 3.50, Output: 10.50},
	{Model: "gemini-2.0-flash", Provider: ProviderGemini, Input: 0.10, Output: 0.40},
	{Model: "gemini-2.0-flash-exp", Provider: ProviderGemini, Input: 0.10, Output: 0.40},
	{Model: "gemini-2.0-flash-lite", Provider: ProviderGemini, Input: 0.075, Output: 0.30},
	{Model: "gemini-2.0-flash-lite-preview-02-05", Provider: ProviderGemini, Input: 0.075, Output: 0.30},
	{Model: "gemini-2.0-pro", Provider: ProviderGemini, Input: 3.50, Output: 10.50},
	{Model: "gemini-2.0-pro-exp-02-05", Provider: ProviderGemini, Input: 3.50, Output: 10.50},
	{Model: "gemini-2.0-ultra", Provider: ProviderGemini, Input: 2.50, Output: 12.00},
	{Model: "gemini-2.5-pro", Provider: ProviderGemini, Input: 1.25, Output: 10.00},
	{Model: "gemini-2.5-flash", Provider: ProviderGemini, Input: 0.30, Output: 2.50},
	{Model: "gemini-2.5-flash-lite", Provider: ProviderGemini, Input: 0.10, Output: 0.40},
	{Model: "gemini-2.5-ultra", Provider: ProviderGemini, Input: 2.50, Output: 12.00},
	{Model: "gemini-3.0-flash-preview", Provider: ProviderGemini, Input: 0.35, Output: 3.00},
	{Model: "gemini-3.0-pro-preview", Provider: ProviderGemini, Input: 1.50, Output: 8.00},
	{Model: "gemini-3.0-ultra", Provider: ProviderGemini, Input: 4.00, Output: 12.00},
}
