package metergate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultFallbackRate = 17000.0
	defaultRateTTL      = time.Hour
	defaultRateURL      = "https://open.er-api.com/v6/latest/USD"
	defaultCurrency     = "IDR"
)

// RateSource fetches a live USD exchange rate.
type RateSource interface {
	FetchRate(ctx context.Context) (float64, error)
}

// HTTPRateSource reads rates[Currency] from a JSON endpoint shaped like
// open.er-api.com's /v6/latest/USD.
type HTTPRateSource struct {
	URL      string
	Currency string
	Client   *http.Client
}

var _ RateSource = (*HTTPRateSource)(nil)

// FetchRate performs one HTTP request.
func (s *HTTPRateSource) FetchRate(ctx context.Context) (float64, error) {
	url := s.URL
	if url == "" {
		url = defaultRateURL
	}
	currency := s.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("metergate: rate request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("metergate: rate fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("metergate: rate fetch: status %d", resp.StatusCode)
	}

	var body struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("metergate: rate decode: %w", err)
	}
	rate, ok := body.Rates[currency]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("metergate: rate for %s missing in response", currency)
	}
	return rate, nil
}

// RateResolver returns the current USD→billing-currency rate. Rate never
// fails: a billed request always gets some rate, down to the fixed fallback.
type RateResolver struct {
	config   ConfigStore
	source   RateSource
	fallback float64
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	cached    float64
	fetchedAt time.Time
}

// RateOption configures a RateResolver.
type RateOption func(*RateResolver)

// WithRateSource sets the live source.
func WithRateSource(s RateSource) RateOption {
	return func(r *RateResolver) { r.source = s }
}

// WithFallbackRate sets the rate used when nothing else is available.
func WithFallbackRate(rate float64) RateOption {
	return func(r *RateResolver) { r.fallback = rate }
}

// WithRateTTL sets how long a live rate is reused.
func WithRateTTL(d time.Duration) RateOption {
	return func(r *RateResolver) { r.ttl = d }
}

// WithRateLogger sets the logger.
func WithRateLogger(l *slog.Logger) RateOption {
	return func(r *RateResolver) { r.logger = l }
}

// WithRateClock overrides the time source.
func WithRateClock(now func() time.Time) RateOption {
	return func(r *RateResolver) { r.now = now }
}

// NewRateResolver creates a resolver over the config store.
func NewRateResolver(config ConfigStore, opts ...RateOption) *RateResolver {
	r := &RateResolver{
		config:   config,
		fallback: defaultFallbackRate,
		ttl:      defaultRateTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.config == nil {
		r.config = noopConfigStore{}
	}
	if r.source == nil {
		r.source = &HTTPRateSource{}
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "rates")
	}
	return r
}

// Rate resolves the rate. With auto-sync enabled the live rate wins and is
// written back to the config store; otherwise the stored rate is used, then
// the live rate, then the fallback.
func (r *RateResolver) Rate(ctx context.Context) float64 {
	triedLive := false
	if r.autoSync(ctx) {
		triedLive = true
		if rate, err := r.Refresh(ctx); err == nil {
			return rate
		}
	}

	if v, found, err := r.config.ConfigValue(ctx, KeyExchangeRate); err == nil && found {
		if rate, perr := strconv.ParseFloat(strings.TrimSpace(v), 64); perr == nil && rate > 0 {
			return rate
		}
		r.logger.Warn("invalid stored exchange rate", "value", v)
	} else if err != nil {
		r.logger.Warn("exchange rate lookup failed", "error", err)
	}

	if !triedLive {
		if rate, err := r.live(ctx); err == nil {
			return rate
		}
	}

	r.mu.Lock()
	cached := r.cached
	r.mu.Unlock()
	if cached > 0 {
		return cached
	}
	r.logger.Warn("using fallback exchange rate", "rate", r.fallback)
	return r.fallback
}

// Refresh fetches the live rate (honouring the cache) and persists it.
func (r *RateResolver) Refresh(ctx context.Context) (float64, error) {
	rate, err := r.live(ctx)
	if err != nil {
		return 0, err
	}
	value := strconv.FormatFloat(rate, 'f', -1, 64)
	if err := r.config.SetConfigValue(ctx, KeyExchangeRate, value); err != nil {
		r.logger.Warn("persist exchange rate failed", "error", err)
	}
	if err := r.config.SetConfigValue(ctx, KeyExchangeUpdated, r.now().UTC().Format(time.RFC3339)); err != nil {
		r.logger.Warn("persist exchange rate timestamp failed", "error", err)
	}
	return rate, nil
}

func (r *RateResolver) live(ctx context.Context) (float64, error) {
	r.mu.Lock()
	if r.cached > 0 && r.now().Sub(r.fetchedAt) < r.ttl {
		rate := r.cached
		r.mu.Unlock()
		return rate, nil
	}
	r.mu.Unlock()

	rate, err := r.source.FetchRate(ctx)
	if err != nil {
		r.logger.Warn("live exchange rate unavailable", "error", err)
		return 0, err
	}

	r.mu.Lock()
	r.cached = rate
	r.fetchedAt = r.now()
	r.mu.Unlock()
	r.logger.Info("exchange rate updated", "rate", rate)
	return rate, nil
}

func (r *RateResolver) autoSync(ctx context.Context) bool {
	v, found, err := r.config.ConfigValue(ctx, KeyExchangeSync)
	if err != nil || !found {
		return false
	}
	on, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && on
}

// RateSyncer refreshes the stored rate on a cron schedule while auto-sync
// is enabled in the config store.
type RateSyncer struct {
	resolver *RateResolver
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewRateSyncer schedules resolver refreshes. schedule uses standard cron
// syntax or descriptors such as "@hourly".
func NewRateSyncer(resolver *RateResolver, schedule string, logger *slog.Logger) (*RateSyncer, error) {
	if logger == nil {
		logger = resolver.logger
	}
	s := &RateSyncer{
		resolver: resolver,
		cron:     cron.New(),
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sync); err != nil {
		return nil, fmt.Errorf("metergate: rate sync schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *RateSyncer) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sync to finish.
func (s *RateSyncer) Stop() {
	<-s.cron.Stop().Done()
}

func (s *RateSyncer) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !s.resolver.autoSync(ctx) {
		return
	}
	rate, err := s.resolver.Refresh(ctx)
	if err != nil {
		s.logger.Warn("scheduled rate sync failed", "error", err)
		return
	}
	s.logger.Info("scheduled rate sync", "rate", rate)
}
